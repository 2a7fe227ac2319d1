package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one stored record keyed by column name. Stores normalize values to
// int64, float64, string, bool, time.Time, decimal.Decimal or nil.
type Row map[string]any

// Fields are column values to write.
type Fields map[string]any

// Op is a condition operator.
type Op int

const (
	OpEq Op = iota
	OpGte
	OpGt
	OpIn
	OpNotNull
	// OpHasRelated matches rows referenced by at least one row of
	// Related.Table through Related.Column.
	OpHasRelated
	// OpOr matches when any condition in Any matches.
	OpOr
)

// Related names a referencing table and its foreign key column.
type Related struct {
	Table  string
	Column string
}

// Condition is one predicate of a WHERE clause. Conditions in a slice are ANDed.
type Condition struct {
	Column string
	Op     Op
	Value  any
	Any    []Condition
}

// Eq matches column = value.
func Eq(column string, value any) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// Gte matches column >= value.
func Gte(column string, value any) Condition {
	return Condition{Column: column, Op: OpGte, Value: value}
}

// Gt matches column > value.
func Gt(column string, value any) Condition {
	return Condition{Column: column, Op: OpGt, Value: value}
}

// In matches column = any of values.
func In(column string, values []int64) Condition {
	return Condition{Column: column, Op: OpIn, Value: values}
}

// NotNull matches non-null column values.
func NotNull(column string) Condition {
	return Condition{Column: column, Op: OpNotNull}
}

// HasRelated matches rows whose id appears in table.column.
func HasRelated(table, column string) Condition {
	return Condition{Op: OpHasRelated, Value: Related{Table: table, Column: column}}
}

// Or matches when any of conds matches.
func Or(conds ...Condition) Condition {
	return Condition{Op: OpOr, Any: conds}
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows from one table.
type Query struct {
	Table   string
	Where   []Condition
	OrderBy []Order
	Limit   int // 0 means no limit
	Offset  int
}

// Reader is the read side of a store, usable inside and outside a transaction.
type Reader interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Count(ctx context.Context, table string, where []Condition) (int, error)
	// Get returns ErrNotFound when no row has the id.
	Get(ctx context.Context, table string, id int64) (Row, error)
	Exists(ctx context.Context, table string, id int64) (bool, error)
}

// Tx is a store transaction.
type Tx interface {
	Reader

	FindIDByMobileUID(ctx context.Context, table, mobileUID string) (int64, bool, error)

	// Insert returns ErrConflict when mobile_uid collides with an existing row.
	// Stores fill create_date and write_date.
	Insert(ctx context.Context, table string, fields Fields) (int64, error)

	// Update stamps write_date. It returns ErrNotFound for a missing id.
	Update(ctx context.Context, table string, id int64, fields Fields) error

	// Savepoint runs fn inside a nested savepoint. When fn fails, all of its
	// writes are rolled back and the enclosing transaction stays usable.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

// Credential is a stored API key. The raw key is never stored.
type Credential struct {
	ID        int64
	Name      string
	KeyHash   string
	UserID    *int64
	Active    bool
	LastUsed  *time.Time
	CreatedAt time.Time
}

// CredentialStore looks up API keys.
type CredentialStore interface {
	// FindActiveCredential returns ErrNotFound unless an active key has the digest.
	FindActiveCredential(ctx context.Context, digest string) (Credential, error)
	TouchCredential(ctx context.Context, id int64, at time.Time) error
}

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID            int64
	Name          string
	URL           string
	Secret        string
	Active        bool
	Events        []string
	LastTriggered *time.Time
	LastStatus    *int
	LastError     string
}

// Wants reports whether the subscription is flagged for event.
func (s Subscription) Wants(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryOutcome is the result of one webhook attempt.
type DeliveryOutcome struct {
	At     time.Time
	Status int // 0 when no response was received
	Error  string
}

// SubscriptionStore reads webhook subscriptions and records delivery outcomes.
type SubscriptionStore interface {
	ActiveSubscriptions(ctx context.Context, event string) ([]Subscription, error)
	RecordDelivery(ctx context.Context, id int64, outcome DeliveryOutcome) error
}

// Store is the full persistence contract of the service.
type Store interface {
	Reader
	CredentialStore
	SubscriptionStore

	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

// Admin is implemented by stores that support the management CLI.
type Admin interface {
	CreateCredential(ctx context.Context, name, digest string, userID *int64) (Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)
	RevokeCredential(ctx context.Context, id int64) error

	CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	GetSubscription(ctx context.Context, id int64) (Subscription, error)
}

// Row accessors. Each returns the zero value and false when the column is
// null or holds another type.

func (r Row) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (r Row) String(col string) (string, bool) {
	v, ok := r[col].(string)
	return v, ok
}

func (r Row) Bool(col string) (bool, bool) {
	v, ok := r[col].(bool)
	return v, ok
}

func (r Row) Float(col string) (float64, bool) {
	switch v := r[col].(type) {
	case float64:
		return v, true
	case decimal.Decimal:
		return v.InexactFloat64(), true
	}
	return 0, false
}

func (r Row) Decimal(col string) (decimal.Decimal, bool) {
	switch v := r[col].(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	}
	return decimal.Zero, false
}

func (r Row) Time(col string) (time.Time, bool) {
	v, ok := r[col].(time.Time)
	return v, ok
}

// ID returns the row's primary key.
func (r Row) ID() int64 {
	id, _ := r.Int64("id")
	return id
}

// optional helpers used by projections.

func (r Row) stringPtr(col string) *string {
	if v, ok := r.String(col); ok {
		return &v
	}
	return nil
}

func (r Row) int64Ptr(col string) *int64 {
	if v, ok := r.Int64(col); ok {
		return &v
	}
	return nil
}

func (r Row) floatPtr(col string) *float64 {
	if v, ok := r.Float(col); ok {
		return &v
	}
	return nil
}

func (r Row) dateTimePtr(col string) *DateTime {
	if v, ok := r.Time(col); ok {
		d := DateTime(v)
		return &d
	}
	return nil
}

func (r Row) datePtr(col string) *Date {
	if v, ok := r.Time(col); ok {
		d := Date(v)
		return &d
	}
	return nil
}
