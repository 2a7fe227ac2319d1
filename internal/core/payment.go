package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInput is a decoded payment record.
type PaymentInput struct {
	MobileUID string
	PartnerID int64
	Amount    decimal.Decimal
	JournalID Optional[int64]
	Memo      Optional[string]
	Date      Optional[time.Time]
}

// PaymentView is the wire format of a payment.
type PaymentView struct {
	ID        int64     `json:"id"`
	MobileUID *string   `json:"mobile_uid"`
	Name      *string   `json:"name"`
	PartnerID *int64    `json:"partner_id"`
	Amount    *float64  `json:"amount"`
	Date      *Date     `json:"date"`
	Memo      *string   `json:"memo"`
	JournalID *int64    `json:"journal_id"`
	State     *string   `json:"state"`
	WriteDate *DateTime `json:"write_date"`
}

var Payments = &Resource{
	Name:  "payment",
	Path:  "payments",
	Table: "payments",
	Filters: FilterSpec{
		"partner_id": {Column: "partner_id", Type: FieldInt},
		"state":      {Column: "state", Type: FieldString},
	},
	Order:   []Order{{Column: "id"}},
	Project: projectEach(projectPayment),
	Writer: &Writer{
		Schema:   "payment",
		Required: []string{"mobile_uid", "partner_id", "amount"},
		Prepare:  preparePayment,
	},
}

func init() {
	Register(Payments)
}

func decodePayment(rec Record) (PaymentInput, error) {
	var in PaymentInput
	in.MobileUID, _ = rec["mobile_uid"].(string)

	partner, err := rec.Int("partner_id")
	if err != nil {
		return in, err
	}
	in.PartnerID = partner.Value

	amount, err := rec.Decimal("amount")
	if err != nil {
		return in, err
	}
	in.Amount = amount.Value

	if in.JournalID, err = rec.Int("journal_id"); err != nil {
		return in, err
	}
	if in.Memo, err = rec.String("memo"); err != nil {
		return in, err
	}
	if in.Date, err = rec.Date("date"); err != nil {
		return in, err
	}
	return in, nil
}

func preparePayment(ctx context.Context, r Reader, rec Record) (Change, error) {
	in, err := decodePayment(rec)
	if err != nil {
		return Change{}, err
	}

	f := Fields{
		"partner_id": in.PartnerID,
		"amount":     in.Amount,
	}
	setIf(f, "journal_id", in.JournalID)
	setIf(f, "ref", in.Memo)
	setIf(f, "date", in.Date)

	onCreate := Fields{
		"payment_type": "inbound",
		"partner_type": "customer",
	}
	if !in.JournalID.Valid {
		id, ok, err := defaultBankJournal(ctx, r)
		if err != nil {
			return Change{}, err
		}
		if ok {
			onCreate["journal_id"] = id
		}
	}

	return Change{
		MobileUID: in.MobileUID,
		Fields:    f,
		OnCreate:  onCreate,
		Refs: []Reference{
			{Field: "partner_id", Table: "partners", ID: Some(in.PartnerID)},
			{Field: "journal_id", Table: "journals", ID: in.JournalID},
		},
	}, nil
}

// defaultBankJournal returns the first active bank journal.
func defaultBankJournal(ctx context.Context, r Reader) (int64, bool, error) {
	rows, err := r.Select(ctx, Query{
		Table:   "journals",
		Where:   []Condition{Eq("type", "bank"), Eq("active", true)},
		OrderBy: []Order{{Column: "id"}},
		Limit:   1,
	})
	if err != nil {
		return 0, false, fmt.Errorf("find bank journal: %w", err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].ID(), true, nil
}

func projectPayment(row Row) any {
	return PaymentView{
		ID:        row.ID(),
		MobileUID: row.stringPtr("mobile_uid"),
		Name:      row.stringPtr("name"),
		PartnerID: row.int64Ptr("partner_id"),
		Amount:    row.floatPtr("amount"),
		Date:      row.datePtr("date"),
		Memo:      row.stringPtr("ref"),
		JournalID: row.int64Ptr("journal_id"),
		State:     row.stringPtr("state"),
		WriteDate: row.dateTimePtr("write_date"),
	}
}
