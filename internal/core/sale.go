package core

import (
	"context"
	"time"
)

// SaleInput is a decoded sale order record.
type SaleInput struct {
	MobileUID      string
	PartnerID      int64
	DateOrder      Optional[time.Time]
	MobileSyncDate Optional[time.Time]
}

// SaleView is the wire format of a sale order. Name, amount and state are
// owned by the back office.
type SaleView struct {
	ID          int64     `json:"id"`
	MobileUID   *string   `json:"mobile_uid"`
	Name        *string   `json:"name"`
	DateOrder   *DateTime `json:"date_order"`
	AmountTotal *float64  `json:"amount_total"`
	State       *string   `json:"state"`
	PartnerID   *int64    `json:"partner_id"`
	WriteDate   *DateTime `json:"write_date"`
}

var Sales = &Resource{
	Name:  "sale",
	Path:  "sales",
	Table: "sale_orders",
	Filters: FilterSpec{
		"partner_id": {Column: "partner_id", Type: FieldInt},
		"state":      {Column: "state", Type: FieldString},
	},
	Order:   []Order{{Column: "id"}},
	Project: projectEach(projectSale),
	Writer: &Writer{
		Schema:   "sale",
		Required: []string{"mobile_uid", "partner_id"},
		Prepare:  prepareSale,
	},
}

func init() {
	Register(Sales)
}

func decodeSale(rec Record) (SaleInput, error) {
	var in SaleInput
	in.MobileUID, _ = rec["mobile_uid"].(string)

	partner, err := rec.Int("partner_id")
	if err != nil {
		return in, err
	}
	in.PartnerID = partner.Value

	if in.DateOrder, err = rec.DateTime("date_order"); err != nil {
		return in, err
	}
	if in.MobileSyncDate, err = rec.Date("mobile_sync_date"); err != nil {
		return in, err
	}
	return in, nil
}

func prepareSale(_ context.Context, _ Reader, rec Record) (Change, error) {
	in, err := decodeSale(rec)
	if err != nil {
		return Change{}, err
	}

	f := Fields{"partner_id": in.PartnerID}
	setIf(f, "date_order", in.DateOrder)
	setIf(f, "mobile_sync_date", in.MobileSyncDate)

	return Change{
		MobileUID: in.MobileUID,
		Fields:    f,
		Refs: []Reference{
			{Field: "partner_id", Table: "partners", ID: Some(in.PartnerID)},
		},
	}, nil
}

func projectSale(row Row) any {
	return SaleView{
		ID:          row.ID(),
		MobileUID:   row.stringPtr("mobile_uid"),
		Name:        row.stringPtr("name"),
		DateOrder:   row.dateTimePtr("date_order"),
		AmountTotal: row.floatPtr("amount_total"),
		State:       row.stringPtr("state"),
		PartnerID:   row.int64Ptr("partner_id"),
		WriteDate:   row.dateTimePtr("write_date"),
	}
}
