package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// Delivery states.
const (
	DeliveryDone      = "done"
	DeliveryCancelled = "cancel"
)

// DeliveryLineView is the wire format of a delivery line.
type DeliveryLineView struct {
	ID           int64    `json:"id"`
	ProductID    *int64   `json:"product_id"`
	ProductName  *string  `json:"product_name"`
	Quantity     *float64 `json:"quantity"`
	QuantityDone *float64 `json:"quantity_done"`
	UOM          *string  `json:"uom"`
}

// DeliveryView is the wire format of an outgoing delivery.
type DeliveryView struct {
	ID            int64              `json:"id"`
	Name          *string            `json:"name"`
	PartnerID     *int64             `json:"partner_id"`
	ScheduledDate *DateTime          `json:"scheduled_date"`
	State         *string            `json:"state"`
	SaleID        *int64             `json:"sale_id"`
	WriteDate     *DateTime          `json:"write_date"`
	Lines         []DeliveryLineView `json:"lines"`
}

var Deliveries = &Resource{
	Name:  "delivery",
	Path:  "deliveries",
	Table: "deliveries",
	Filters: FilterSpec{
		"partner_id": {Column: "partner_id", Type: FieldInt},
		"sale_id":    {Column: "sale_id", Type: FieldInt},
		"state":      {Column: "state", Type: FieldString},
	},
	Base:    []Condition{Eq("picking_type_code", "outgoing")},
	Order:   []Order{{Column: "id"}},
	Project: projectDeliveries,
}

func init() {
	Register(Deliveries)
}

func projectDeliveries(ctx context.Context, r Reader, rows []Row) ([]any, error) {
	lines, err := deliveryLines(ctx, r, rows)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v := DeliveryView{
			ID:            row.ID(),
			Name:          row.stringPtr("name"),
			PartnerID:     row.int64Ptr("partner_id"),
			ScheduledDate: row.dateTimePtr("scheduled_date"),
			State:         row.stringPtr("state"),
			SaleID:        row.int64Ptr("sale_id"),
			WriteDate:     row.dateTimePtr("write_date"),
			Lines:         lines[row.ID()],
		}
		if v.Lines == nil {
			v.Lines = []DeliveryLineView{}
		}
		out = append(out, v)
	}
	return out, nil
}

// deliveryLines loads the lines of every delivery in rows in one query.
func deliveryLines(ctx context.Context, r Reader, rows []Row) (map[int64][]DeliveryLineView, error) {
	byDelivery := make(map[int64][]DeliveryLineView, len(rows))
	ids := uniqueIDs(rows, "id")
	if len(ids) == 0 {
		return byDelivery, nil
	}

	lines, err := r.Select(ctx, Query{
		Table:   "delivery_lines",
		Where:   []Condition{In("delivery_id", ids)},
		OrderBy: []Order{{Column: "id"}},
	})
	if err != nil {
		return nil, fmt.Errorf("load delivery lines: %w", err)
	}
	for _, l := range lines {
		deliveryID, _ := l.Int64("delivery_id")
		byDelivery[deliveryID] = append(byDelivery[deliveryID], DeliveryLineView{
			ID:           l.ID(),
			ProductID:    l.int64Ptr("product_id"),
			ProductName:  l.stringPtr("product_name"),
			Quantity:     l.floatPtr("quantity"),
			QuantityDone: l.floatPtr("quantity_done"),
			UOM:          l.stringPtr("uom"),
		})
	}
	return byDelivery, nil
}

// CompleteDelivery marks an outgoing delivery done: every line's done
// quantity is set to its ordered quantity. The body is {"id": <delivery id>}.
func (s *Service) CompleteDelivery(ctx context.Context, body []byte) (any, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return nil, BadRequest("Invalid JSON body", map[string]any{"error": err.Error()})
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, BadRequest("Request body must be a JSON object", nil)
	}
	rec := Record(obj)
	if missing := missingFields(rec, []string{"id"}); len(missing) > 0 {
		return nil, BadRequest("Missing required fields", map[string]any{"missing_fields": missing})
	}
	violations, err := s.schemas.Validate("delivery_done", obj)
	if err != nil {
		return nil, fmt.Errorf("validate delivery: %w", err)
	}
	if len(violations) > 0 {
		return nil, BadRequest("Invalid id", map[string]any{"id": violations[0].Description})
	}
	id, err := toInt64(rec["id"])
	if err != nil {
		return nil, BadRequest("Invalid id", map[string]any{"id": err.Error()})
	}

	var data any
	err = s.store.InTx(ctx, func(tx Tx) error {
		row, err := tx.Get(ctx, Deliveries.Table, id)
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Resource: "delivery", ID: id}
		}
		if err != nil {
			return fmt.Errorf("load delivery %d: %w", id, err)
		}
		if code, _ := row.String("picking_type_code"); code != "outgoing" {
			return &NotFoundError{Resource: "delivery", ID: id}
		}

		switch state, _ := row.String("state"); state {
		case DeliveryDone:
			return BadRequest("Delivery is already done", map[string]any{"id": id, "state": state})
		case DeliveryCancelled:
			return BadRequest("Delivery is cancelled", map[string]any{"id": id, "state": state})
		}

		lines, err := tx.Select(ctx, Query{
			Table: "delivery_lines",
			Where: []Condition{Eq("delivery_id", id)},
		})
		if err != nil {
			return fmt.Errorf("load delivery lines: %w", err)
		}
		for _, l := range lines {
			qty, _ := l.Decimal("quantity")
			if err := tx.Update(ctx, "delivery_lines", l.ID(), Fields{"quantity_done": qty}); err != nil {
				return fmt.Errorf("update delivery line %d: %w", l.ID(), err)
			}
		}

		if err := tx.Update(ctx, Deliveries.Table, id, Fields{
			"state":     DeliveryDone,
			"date_done": s.now().UTC(),
		}); err != nil {
			return fmt.Errorf("update delivery %d: %w", id, err)
		}

		updated, err := tx.Get(ctx, Deliveries.Table, id)
		if err != nil {
			return fmt.Errorf("reload delivery %d: %w", id, err)
		}
		projected, err := projectDeliveries(ctx, tx, []Row{updated})
		if err != nil {
			return err
		}
		data = projected[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Deliveries, ActionUpdated, id, data)
	logging.FromContext(ctx).Info("delivery completed", "delivery_id", id)
	return data, nil
}
