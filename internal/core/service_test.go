package core_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Emit(_ context.Context, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func newTestService(t *testing.T) (*core.Service, *memory.Store, *recorder) {
	t.Helper()
	store := memory.New()
	events := &recorder{}
	return core.NewService(store, events), store, events
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func requireBadRequest(t *testing.T, err error, message string) *core.BadRequestError {
	t.Helper()
	var br *core.BadRequestError
	require.True(t, errors.As(err, &br), "expected bad request, got %v", err)
	assert.Equal(t, message, br.Message)
	return br
}

func seedPartner(store *memory.Store, name string) int64 {
	return store.MustSeed("partners", core.Fields{"name": name, "customer_rank": int64(1)})
}

func TestSync_CustomerCreateThenUpdate(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	res, err := svc.Sync(ctx, "customer", body(t, []map[string]any{
		{"mobile_uid": "c-1", "name": "Acme", "city": "Oslo", "tax_id": "NO123"},
	}))
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	created := res.Data[0].(core.CustomerView)
	assert.Equal(t, "Acme", created.Name)
	require.NotNil(t, created.TaxID)
	assert.Equal(t, "NO123", *created.TaxID)

	res, err = svc.Sync(ctx, "customer", body(t, []map[string]any{
		{"mobile_uid": "c-1", "name": "Acme AS"},
	}))
	require.NoError(t, err)

	updated := res.Data[0].(core.CustomerView)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Acme AS", updated.Name)
	require.NotNil(t, updated.City, "absent fields keep their stored value")
	assert.Equal(t, "Oslo", *updated.City)

	assert.Equal(t, []string{"customer.created", "customer.updated"}, events.names())

	list, err := svc.List(ctx, "customer", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestSync_Idempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	partner := seedPartner(store, "Acme")

	payload := body(t, []map[string]any{
		{"mobile_uid": "s-1", "partner_id": partner, "date_order": "2024-03-01T10:00:00"},
		{"mobile_uid": "s-2", "partner_id": partner},
	})

	first, err := svc.Sync(ctx, "sale", payload)
	require.NoError(t, err)
	second, err := svc.Sync(ctx, "sale", payload)
	require.NoError(t, err)

	require.Equal(t, 2, second.Count)
	for i := range first.Data {
		assert.Equal(t, first.Data[i].(core.SaleView).ID, second.Data[i].(core.SaleView).ID)
	}

	n, err := store.Count(ctx, "sale_orders", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sale := second.Data[0].(core.SaleView)
	require.NotNil(t, sale.Name)
	assert.Equal(t, "SO00001", *sale.Name)
	require.NotNil(t, sale.State)
	assert.Equal(t, "draft", *sale.State)
}

func TestSync_DuplicateUIDInBatchUpdatesSameRow(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()
	partner := seedPartner(store, "Acme")

	res, err := svc.Sync(ctx, "visit", body(t, []map[string]any{
		{"mobile_uid": "6f1c2b9e-3d4a-4b5c-8d6e-7f8091a2b3c4", "partner_id": partner, "visit_datetime": "2024-03-01T09:00:00", "memo": "first"},
		{"mobile_uid": "6f1c2b9e-3d4a-4b5c-8d6e-7f8091a2b3c4", "partner_id": partner, "visit_datetime": "2024-03-01T09:00:00", "memo": "second"},
	}))
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)

	a, b := res.Data[0].(core.VisitView), res.Data[1].(core.VisitView)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "second", *b.Memo)
	assert.Equal(t, []string{"visit.created", "visit.updated"}, events.names())
}

func TestSync_BatchBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tooMany := make([]map[string]any, core.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = map[string]any{"mobile_uid": fmt.Sprintf("c-%d", i), "name": "x"}
	}

	tests := []struct {
		name    string
		body    []byte
		message string
	}{
		{"invalid json", []byte(`[{"mobile_uid":`), "Invalid JSON body"},
		{"object instead of array", []byte(`{"mobile_uid":"c-1"}`), "Request body must be a JSON array"},
		{"empty array", []byte(`[]`), "Request body cannot be empty"},
		{"over limit", body(t, tooMany), "Batch size cannot exceed 100 records"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sync(ctx, "customer", tt.body)
			requireBadRequest(t, err, tt.message)
		})
	}
}

func TestSync_MaxBatchAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)

	records := make([]map[string]any, core.MaxBatchSize)
	for i := range records {
		records[i] = map[string]any{"mobile_uid": fmt.Sprintf("c-%d", i), "name": "x"}
	}
	res, err := svc.Sync(context.Background(), "customer", body(t, records))
	require.NoError(t, err)
	assert.Equal(t, core.MaxBatchSize, res.Count)
}

func TestSync_MissingFieldsRollsBackBatch(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()
	partner := seedPartner(store, "Acme")

	_, err := svc.Sync(ctx, "visit", body(t, []map[string]any{
		{"mobile_uid": "6f1c2b9e-3d4a-4b5c-8d6e-7f8091a2b3c4", "partner_id": partner, "visit_datetime": "2024-03-01T09:00:00"},
		{"visit_datetime": "2024-03-01T10:00:00", "partner_id": nil},
	}))
	br := requireBadRequest(t, err, "Validation failed at index 1: missing required fields")
	assert.Equal(t, 1, br.Details["index"])
	assert.Equal(t, "item_1", br.Details["mobile_uid"])
	assert.Equal(t, []string{"mobile_uid", "partner_id"}, br.Details["missing_fields"])

	n, err := store.Count(ctx, "visits", nil)
	require.NoError(t, err)
	assert.Zero(t, n, "first record must be rolled back")
	assert.Empty(t, events.names())
}

func TestSync_UnknownPartner(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Sync(context.Background(), "sale", body(t, []map[string]any{
		{"mobile_uid": "s-1", "partner_id": 42},
	}))
	br := requireBadRequest(t, err, "Invalid partner_id")
	assert.Equal(t, "Record with id 42 does not exist in partners", br.Details["partner_id"])
}

func TestSync_PartnerIDOutOfRange(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.Sync(context.Background(), "sale", body(t, []map[string]any{
		{"mobile_uid": "s-1", "partner_id": 1e20},
	}))
	var br *core.BadRequestError
	require.True(t, errors.As(err, &br), "expected bad request, got %v", err)
	assert.Contains(t, br.Message, "partner_id")
	assert.Equal(t, 400, core.MapError(err, false).Status)

	n, err := store.Count(context.Background(), "sale_orders", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSync_SchemaViolations(t *testing.T) {
	svc, store, _ := newTestService(t)
	partner := seedPartner(store, "Acme")

	tests := []struct {
		name    string
		entity  string
		record  map[string]any
		message string
	}{
		{
			name:    "visit uid must be a uuid4",
			entity:  "visit",
			record:  map[string]any{"mobile_uid": "not-a-uuid", "partner_id": partner, "visit_datetime": "2024-03-01T09:00:00"},
			message: "Validation failed at index 0: invalid mobile_uid",
		},
		{
			name:    "partner id must be an integer",
			entity:  "sale",
			record:  map[string]any{"mobile_uid": "s-1", "partner_id": "abc"},
			message: "Validation failed at index 0: invalid partner_id",
		},
		{
			name:    "amount must be a number",
			entity:  "payment",
			record:  map[string]any{"mobile_uid": "p-1", "partner_id": partner, "amount": "ten"},
			message: "Validation failed at index 0: invalid amount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sync(context.Background(), tt.entity, body(t, []map[string]any{tt.record}))
			br := requireBadRequest(t, err, tt.message)
			assert.Equal(t, 0, br.Details["index"])
		})
	}
}

func TestSync_InvalidDatetime(t *testing.T) {
	svc, store, _ := newTestService(t)
	partner := seedPartner(store, "Acme")

	_, err := svc.Sync(context.Background(), "visit", body(t, []map[string]any{
		{"mobile_uid": "6f1c2b9e-3d4a-4b5c-8d6e-7f8091a2b3c4", "partner_id": partner, "visit_datetime": "yesterday"},
	}))
	br := requireBadRequest(t, err, "Validation failed at index 0: Invalid visit_datetime format")
	assert.Equal(t, "yesterday", br.Details["visit_datetime"])
}

func TestSync_ConcurrentInsertRetriesAsUpdate(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()

	var (
		raced    bool
		winnerID int64
	)
	store.BeforeInsert = func(table string, fields core.Fields) {
		if raced || table != "partners" {
			return
		}
		raced = true
		winnerID = store.MustSeed("partners", core.Fields{
			"name":       "Written elsewhere",
			"mobile_uid": fields["mobile_uid"],
		})
	}

	res, err := svc.Sync(ctx, "customer", body(t, []map[string]any{
		{"mobile_uid": "c-race", "name": "Acme"},
	}))
	require.NoError(t, err)

	got := res.Data[0].(core.CustomerView)
	assert.Equal(t, winnerID, got.ID)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, []string{"customer.updated"}, events.names())

	n, err := store.Count(ctx, "partners", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// conflictTx reports every insert as a unique violation while never finding
// the row that supposedly caused it.
type conflictTx struct {
	core.Tx
	finds, inserts int
}

func (t *conflictTx) FindIDByMobileUID(context.Context, string, string) (int64, bool, error) {
	t.finds++
	return 0, false, nil
}

func (t *conflictTx) Insert(context.Context, string, core.Fields) (int64, error) {
	t.inserts++
	return 0, core.ErrConflict
}

func (t *conflictTx) Savepoint(_ context.Context, fn func(core.Tx) error) error {
	return fn(t)
}

type conflictStore struct {
	*memory.Store
	tx *conflictTx
}

func (s *conflictStore) InTx(ctx context.Context, fn func(core.Tx) error) error {
	return s.Store.InTx(ctx, func(tx core.Tx) error {
		s.tx.Tx = tx
		return fn(s.tx)
	})
}

func TestSync_ConflictWithoutExistingRecordFails(t *testing.T) {
	store := &conflictStore{Store: memory.New(), tx: &conflictTx{}}
	events := &recorder{}
	svc := core.NewService(store, events)
	ctx := context.Background()

	_, err := svc.Sync(ctx, "customer", body(t, []map[string]any{
		{"mobile_uid": "u1", "name": "Acme"},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert conflicted but no existing record was found")
	assert.Equal(t, 500, core.MapError(err, false).Status)

	assert.Equal(t, 1, store.tx.inserts)
	assert.Equal(t, 2, store.tx.finds)
	assert.Empty(t, events.names())

	n, err := store.Count(ctx, "partners", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSync_PaymentDefaults(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	partner := seedPartner(store, "Acme")
	store.MustSeed("journals", core.Fields{"name": "Cash", "type": "cash"})
	bank := store.MustSeed("journals", core.Fields{"name": "Bank", "type": "bank"})

	res, err := svc.Sync(ctx, "payment", body(t, []map[string]any{
		{"mobile_uid": "p-1", "partner_id": partner, "amount": 150.25, "memo": "INV/001", "date": "2024-03-01"},
	}))
	require.NoError(t, err)

	p := res.Data[0].(core.PaymentView)
	require.NotNil(t, p.JournalID)
	assert.Equal(t, bank, *p.JournalID)
	assert.Equal(t, 150.25, *p.Amount)
	assert.Equal(t, "INV/001", *p.Memo)
	assert.Equal(t, "PAY/00001", *p.Name)

	row, err := store.Get(ctx, "payments", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "inbound", row["payment_type"])
	assert.True(t, decimal.RequireFromString("150.25").Equal(row["amount"].(decimal.Decimal)))
}

func TestSync_PaymentUnknownJournal(t *testing.T) {
	svc, store, _ := newTestService(t)
	partner := seedPartner(store, "Acme")

	_, err := svc.Sync(context.Background(), "payment", body(t, []map[string]any{
		{"mobile_uid": "p-1", "partner_id": partner, "amount": 10, "journal_id": 99},
	}))
	br := requireBadRequest(t, err, "Invalid journal_id")
	assert.Equal(t, "Record with id 99 does not exist in journals", br.Details["journal_id"])
}

func TestSync_ReadOnlyResource(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Sync(context.Background(), "product", []byte(`[{}]`))
	require.Error(t, err)
	var br *core.BadRequestError
	assert.False(t, errors.As(err, &br))
}

func TestList_CustomerScope(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.MustSeed("partners", core.Fields{"name": "Vendor"})
	store.MustSeed("partners", core.Fields{"name": "Ranked", "customer_rank": int64(2)})
	buyer := store.MustSeed("partners", core.Fields{"name": "Buyer"})
	store.MustSeed("sale_orders", core.Fields{"partner_id": buyer})
	store.MustSeed("partners", core.Fields{"name": "Mobile", "mobile_uid": "c-9", "city": "Bergen"})

	list, err := svc.List(ctx, "customer", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)

	names := make([]string, 0, list.Count)
	for _, d := range list.Data {
		names = append(names, d.(core.CustomerView).Name)
	}
	assert.Equal(t, []string{"Ranked", "Buyer", "Mobile"}, names)

	list, err = svc.List(ctx, "customer", url.Values{"city": {"Bergen"}, "unknown": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestList_PaginationAndSince(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.MustSeed("partners", core.Fields{
			"name":          fmt.Sprintf("P%d", i),
			"customer_rank": int64(1),
			"write_date":    base.Add(time.Duration(i) * time.Hour),
		})
	}

	list, err := svc.List(ctx, "customer", url.Values{"limit": {"2"}, "offset": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Total)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 2, list.Limit)
	assert.Equal(t, 1, list.Offset)
	assert.Equal(t, "P1", list.Data[0].(core.CustomerView).Name)

	list, err = svc.List(ctx, "customer", url.Values{"since": {"2024-03-01T14:00:00"}})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)

	list, err = svc.List(ctx, "customer", url.Values{"offset": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Total)
	assert.Zero(t, list.Count)
	assert.NotNil(t, list.Data)
}

func TestList_ProductScope(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.MustSeed("products", core.Fields{"name": "Widget", "type": "consu"})
	store.MustSeed("products", core.Fields{"name": "Install", "type": "service"})
	store.MustSeed("products", core.Fields{"name": "Old widget", "type": "consu", "active": false})
	store.MustSeed("products", core.Fields{"name": "Internal", "type": "consu", "sale_ok": false})

	list, err := svc.List(ctx, "product", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	list, err = svc.List(ctx, "product", url.Values{"type": {"consu"}})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	list, err = svc.List(ctx, "product", url.Values{"active": {"false"}})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Old widget", list.Data[0].(core.ProductView).Name)
}

func TestList_VisitsNewestFirstWithPartnerName(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	partner := seedPartner(store, "Acme")

	store.MustSeed("visits", core.Fields{"partner_id": partner, "visit_datetime": time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)})
	store.MustSeed("visits", core.Fields{"partner_id": partner, "visit_datetime": time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)})

	list, err := svc.List(ctx, "visit", url.Values{"partner_id": {fmt.Sprint(partner)}})
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)

	first := list.Data[0].(core.VisitView)
	assert.Equal(t, int64(2), first.ID)
	require.NotNil(t, first.PartnerName)
	assert.Equal(t, "Acme", *first.PartnerName)
}

func TestList_UnknownResource(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.List(context.Background(), "invoice", url.Values{})
	assert.Error(t, err)
}

func seedDelivery(store *memory.Store, fields core.Fields, qty ...float64) int64 {
	id := store.MustSeed("deliveries", fields)
	for _, q := range qty {
		store.MustSeed("delivery_lines", core.Fields{
			"delivery_id":  id,
			"product_name": "Widget",
			"quantity":     decimal.NewFromFloat(q),
		})
	}
	return id
}

func TestCompleteDelivery(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()
	id := seedDelivery(store, core.Fields{"name": "WH/OUT/00001"}, 3, 1.5)

	data, err := svc.CompleteDelivery(ctx, body(t, map[string]any{"id": id}))
	require.NoError(t, err)

	d := data.(core.DeliveryView)
	assert.Equal(t, "done", *d.State)
	require.Len(t, d.Lines, 2)
	for _, l := range d.Lines {
		assert.Equal(t, *l.Quantity, *l.QuantityDone)
	}
	assert.Equal(t, []string{"delivery.updated"}, events.names())

	row, err := store.Get(ctx, "deliveries", id)
	require.NoError(t, err)
	assert.NotNil(t, row["date_done"])

	_, err = svc.CompleteDelivery(ctx, body(t, map[string]any{"id": id}))
	requireBadRequest(t, err, "Delivery is already done")
}

func TestCompleteDelivery_Rejections(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	incoming := seedDelivery(store, core.Fields{"picking_type_code": "incoming"}, 1)
	cancelled := seedDelivery(store, core.Fields{"state": "cancel"}, 1)

	_, err := svc.CompleteDelivery(ctx, []byte(`{}`))
	requireBadRequest(t, err, "Missing required fields")

	_, err = svc.CompleteDelivery(ctx, []byte(`{"id":"abc"}`))
	requireBadRequest(t, err, "Invalid id")

	_, err = svc.CompleteDelivery(ctx, []byte(`[1]`))
	requireBadRequest(t, err, "Request body must be a JSON object")

	_, err = svc.CompleteDelivery(ctx, body(t, map[string]any{"id": cancelled}))
	requireBadRequest(t, err, "Delivery is cancelled")

	for _, id := range []int64{incoming, 999} {
		_, err = svc.CompleteDelivery(ctx, body(t, map[string]any{"id": id}))
		assert.ErrorIs(t, err, core.ErrNotFound)
	}
}

func TestList_DeliveriesOutgoingOnly(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedDelivery(store, core.Fields{"name": "OUT"}, 2)
	seedDelivery(store, core.Fields{"name": "IN", "picking_type_code": "incoming"}, 2)

	list, err := svc.List(context.Background(), "delivery", url.Values{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)

	d := list.Data[0].(core.DeliveryView)
	assert.Equal(t, "OUT", *d.Name)
	assert.Len(t, d.Lines, 1)
}
