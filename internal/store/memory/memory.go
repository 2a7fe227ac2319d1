// Package memory implements core.Store in process memory.
//
// Transactions are serialized: one writer at a time, with an undo log that
// backs rollback and savepoints. The store is used by tests and by the
// server's memory driver for local development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

// table is one named collection of rows.
type table struct {
	rows     map[int64]core.Row
	nextID   int64
	seq      int64
	defaults func(t *table, f core.Fields)
}

// Store is an in-memory core.Store.
type Store struct {
	txMu sync.Mutex   // held for the life of a transaction
	mu   sync.RWMutex // guards tables, credentials and subscriptions

	tables map[string]*table
	creds  map[int64]*core.Credential
	subs   map[int64]*core.Subscription
	credID int64
	subID  int64

	// Now stamps create_date and write_date.
	Now func() time.Time

	// BeforeInsert, when set, runs before each transactional insert while
	// the transaction is open. Tests use it with Seed to simulate a
	// concurrent request committing the same mobile_uid first.
	BeforeInsert func(table string, fields core.Fields)
}

// New creates an empty store with the service's tables.
func New() *Store {
	s := &Store{
		tables: make(map[string]*table),
		creds:  make(map[int64]*core.Credential),
		subs:   make(map[int64]*core.Subscription),
		Now:    time.Now,
	}
	for name, defaults := range tableDefaults {
		s.tables[name] = &table{rows: make(map[int64]core.Row), defaults: defaults}
	}
	return s
}

func setDefault(f core.Fields, col string, v any) {
	if _, ok := f[col]; !ok {
		f[col] = v
	}
}

// sequenceName fills name from the table sequence, e.g. SO00001.
func sequenceName(format string) func(t *table, f core.Fields) {
	return func(t *table, f core.Fields) {
		if _, ok := f["name"]; ok {
			return
		}
		t.seq++
		f["name"] = fmt.Sprintf(format, t.seq)
	}
}

// tableDefaults mirror the column defaults of the postgres migrations.
var tableDefaults = map[string]func(t *table, f core.Fields){
	"partners": func(_ *table, f core.Fields) {
		setDefault(f, "is_company", false)
		setDefault(f, "customer_rank", int64(0))
	},
	"sale_orders": func(t *table, f core.Fields) {
		sequenceName("SO%05d")(t, f)
		setDefault(f, "state", "draft")
		setDefault(f, "amount_total", decimal.Zero)
	},
	"payments": func(t *table, f core.Fields) {
		sequenceName("PAY/%05d")(t, f)
		setDefault(f, "state", "draft")
	},
	"visits": nil,
	"journals": func(_ *table, f core.Fields) {
		setDefault(f, "active", true)
	},
	"products": func(_ *table, f core.Fields) {
		setDefault(f, "active", true)
		setDefault(f, "sale_ok", true)
		setDefault(f, "type", "consu")
	},
	"deliveries": func(_ *table, f core.Fields) {
		setDefault(f, "state", "draft")
		setDefault(f, "picking_type_code", "outgoing")
	},
	"delivery_lines": func(_ *table, f core.Fields) {
		setDefault(f, "quantity_done", decimal.Zero)
	},
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: unknown table %q", name)
	}
	return t, nil
}

// insertLocked adds a row. Caller holds s.mu.
func (s *Store) insertLocked(name string, fields core.Fields) (int64, error) {
	t, err := s.table(name)
	if err != nil {
		return 0, err
	}

	if uid, ok := fields["mobile_uid"]; ok && uid != nil {
		for _, row := range t.rows {
			if row["mobile_uid"] == uid {
				return 0, fmt.Errorf("insert %s: %w", name, core.ErrConflict)
			}
		}
	}

	f := maps.Clone(fields)
	if f == nil {
		f = core.Fields{}
	}
	if t.defaults != nil {
		t.defaults(t, f)
	}
	now := s.Now().UTC()
	setDefault(f, "create_date", now)
	setDefault(f, "write_date", now)

	t.nextID++
	row := core.Row(f)
	row["id"] = t.nextID
	t.rows[t.nextID] = row
	return t.nextID, nil
}

// Seed inserts a committed row outside any transaction and returns its id.
// It is safe to call from BeforeInsert.
func (s *Store) Seed(name string, fields core.Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(name, fields)
}

// MustSeed is Seed for test setup.
func (s *Store) MustSeed(name string, fields core.Fields) int64 {
	id, err := s.Seed(name, fields)
	if err != nil {
		panic(err)
	}
	return id
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Select implements core.Reader.
func (s *Store) Select(_ context.Context, q core.Query) ([]core.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(q)
}

func (s *Store) selectLocked(q core.Query) ([]core.Row, error) {
	t, err := s.table(q.Table)
	if err != nil {
		return nil, err
	}

	var out []core.Row
	for _, row := range t.rows {
		ok, err := s.matchAll(row, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, maps.Clone(row))
		}
	}

	order := q.OrderBy
	if len(order) == 0 {
		order = []core.Order{{Column: "id"}}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range order {
			c := compareNullsLast(out[i][o.Column], out[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []core.Row{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []core.Row{}
	}
	return out, nil
}

// Count implements core.Reader.
func (s *Store) Count(_ context.Context, name string, where []core.Condition) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range t.rows {
		ok, err := s.matchAll(row, where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Get implements core.Reader.
func (s *Store) Get(_ context.Context, name string, id int64) (core.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", name, id, core.ErrNotFound)
	}
	return maps.Clone(row), nil
}

// Exists implements core.Reader.
func (s *Store) Exists(_ context.Context, name string, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(name)
	if err != nil {
		return false, err
	}
	_, ok := t.rows[id]
	return ok, nil
}

// InTx implements core.Store. Transactions run one at a time.
func (s *Store) InTx(ctx context.Context, fn func(core.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &tx{Store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollbackTo(0)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollbackTo(0)
		return err
	}
	return nil
}

// tx records undo steps for every write it makes.
type tx struct {
	*Store
	undo  []func()
	depth int
}

func (t *tx) rollbackTo(mark int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

func (t *tx) FindIDByMobileUID(_ context.Context, name, mobileUID string) (int64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tbl, err := t.table(name)
	if err != nil {
		return 0, false, err
	}
	for id, row := range tbl.rows {
		if row["mobile_uid"] == mobileUID {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *tx) Insert(_ context.Context, name string, fields core.Fields) (int64, error) {
	if t.BeforeInsert != nil {
		t.BeforeInsert(name, fields)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := t.insertLocked(name, fields)
	if err != nil {
		return 0, err
	}
	tbl := t.tables[name]
	t.undo = append(t.undo, func() { delete(tbl.rows, id) })
	return id, nil
}

func (t *tx) Update(_ context.Context, name string, id int64, fields core.Fields) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tbl, err := t.table(name)
	if err != nil {
		return err
	}
	row, ok := tbl.rows[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", name, id, core.ErrNotFound)
	}

	prev := maps.Clone(row)
	t.undo = append(t.undo, func() { tbl.rows[id] = prev })

	next := maps.Clone(row)
	for k, v := range fields {
		if k == "id" || k == "mobile_uid" {
			continue
		}
		next[k] = v
	}
	next["write_date"] = t.Now().UTC()
	tbl.rows[id] = next
	return nil
}

func (t *tx) Savepoint(_ context.Context, fn func(core.Tx) error) error {
	mark := len(t.undo)
	t.depth++
	defer func() { t.depth-- }()

	if err := fn(t); err != nil {
		t.rollbackTo(mark)
		return err
	}
	return nil
}

func (s *Store) matchAll(row core.Row, conds []core.Condition) (bool, error) {
	for _, c := range conds {
		ok, err := s.match(row, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) match(row core.Row, c core.Condition) (bool, error) {
	switch c.Op {
	case core.OpEq:
		v := row[c.Column]
		return v != nil && compare(v, c.Value) == 0, nil
	case core.OpGte:
		v := row[c.Column]
		return v != nil && compare(v, c.Value) >= 0, nil
	case core.OpGt:
		v := row[c.Column]
		return v != nil && compare(v, c.Value) > 0, nil
	case core.OpIn:
		id, ok := row.Int64(c.Column)
		if !ok {
			return false, nil
		}
		ids, _ := c.Value.([]int64)
		for _, want := range ids {
			if id == want {
				return true, nil
			}
		}
		return false, nil
	case core.OpNotNull:
		return row[c.Column] != nil, nil
	case core.OpHasRelated:
		rel, ok := c.Value.(core.Related)
		if !ok {
			return false, fmt.Errorf("memory: bad related condition %v", c.Value)
		}
		t, err := s.table(rel.Table)
		if err != nil {
			return false, err
		}
		for _, other := range t.rows {
			if fk, ok := other.Int64(rel.Column); ok && fk == row.ID() {
				return true, nil
			}
		}
		return false, nil
	case core.OpOr:
		for _, sub := range c.Any {
			ok, err := s.match(row, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("memory: unsupported operator %d", c.Op)
}
