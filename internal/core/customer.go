package core

import (
	"context"
	"time"
)

// CustomerInput is a decoded customer record.
type CustomerInput struct {
	MobileUID        string
	Name             string
	City             Optional[string]
	TaxID            Optional[string]
	Email            Optional[string]
	Phone            Optional[string]
	Website          Optional[string]
	PartnerLatitude  Optional[float64]
	PartnerLongitude Optional[float64]
	MobileSyncDate   Optional[time.Time]
}

// CustomerView is the wire format of a customer.
type CustomerView struct {
	ID               int64     `json:"id"`
	MobileUID        *string   `json:"mobile_uid"`
	Name             string    `json:"name"`
	City             *string   `json:"city"`
	TaxID            *string   `json:"tax_id"`
	Email            *string   `json:"email"`
	Phone            *string   `json:"phone"`
	Website          *string   `json:"website"`
	PartnerLatitude  *float64  `json:"partner_latitude"`
	PartnerLongitude *float64  `json:"partner_longitude"`
	MobileSyncDate   *Date     `json:"mobile_sync_date"`
	WriteDate        *DateTime `json:"write_date"`
}

// Customers lists partners that are customers, have sale orders, or came
// from the mobile app.
var Customers = &Resource{
	Name:  "customer",
	Path:  "customer",
	Table: "partners",
	Filters: FilterSpec{
		"city":  {Column: "city", Type: FieldString},
		"email": {Column: "email", Type: FieldString},
	},
	Base: []Condition{
		Or(
			Gt("customer_rank", int64(0)),
			HasRelated("sale_orders", "partner_id"),
			NotNull("mobile_uid"),
		),
	},
	Order:   []Order{{Column: "id"}},
	Project: projectEach(projectCustomer),
	Writer: &Writer{
		Schema:   "customer",
		Required: []string{"mobile_uid", "name"},
		Prepare:  prepareCustomer,
	},
}

func init() {
	Register(Customers)
}

func decodeCustomer(rec Record) (CustomerInput, error) {
	var (
		in  CustomerInput
		err error
	)
	in.MobileUID, _ = rec["mobile_uid"].(string)
	in.Name, _ = rec["name"].(string)

	if in.City, err = rec.String("city"); err != nil {
		return in, err
	}
	if in.TaxID, err = rec.String("tax_id"); err != nil {
		return in, err
	}
	if in.Email, err = rec.String("email"); err != nil {
		return in, err
	}
	if in.Phone, err = rec.String("phone"); err != nil {
		return in, err
	}
	if in.Website, err = rec.String("website"); err != nil {
		return in, err
	}
	if in.PartnerLatitude, err = rec.Float("partner_latitude"); err != nil {
		return in, err
	}
	if in.PartnerLongitude, err = rec.Float("partner_longitude"); err != nil {
		return in, err
	}

	// older app builds send the sync date as "date"
	key := "mobile_sync_date"
	if !rec.Present(key) {
		key = "date"
	}
	if in.MobileSyncDate, err = rec.Date(key); err != nil {
		return in, err
	}
	return in, nil
}

func prepareCustomer(_ context.Context, _ Reader, rec Record) (Change, error) {
	in, err := decodeCustomer(rec)
	if err != nil {
		return Change{}, err
	}

	f := Fields{
		"name":          in.Name,
		"customer_rank": int64(1),
	}
	setIf(f, "city", in.City)
	setIf(f, "vat", in.TaxID)
	setIf(f, "email", in.Email)
	setIf(f, "phone", in.Phone)
	setIf(f, "website", in.Website)
	setIf(f, "partner_latitude", in.PartnerLatitude)
	setIf(f, "partner_longitude", in.PartnerLongitude)
	setIf(f, "mobile_sync_date", in.MobileSyncDate)

	return Change{
		MobileUID: in.MobileUID,
		Fields:    f,
		OnCreate:  Fields{"is_company": true},
	}, nil
}

func projectCustomer(row Row) any {
	name, _ := row.String("name")
	return CustomerView{
		ID:               row.ID(),
		MobileUID:        row.stringPtr("mobile_uid"),
		Name:             name,
		City:             row.stringPtr("city"),
		TaxID:            row.stringPtr("vat"),
		Email:            row.stringPtr("email"),
		Phone:            row.stringPtr("phone"),
		Website:          row.stringPtr("website"),
		PartnerLatitude:  row.floatPtr("partner_latitude"),
		PartnerLongitude: row.floatPtr("partner_longitude"),
		MobileSyncDate:   row.datePtr("mobile_sync_date"),
		WriteDate:        row.dateTimePtr("write_date"),
	}
}

// projectEach adapts a per-row projection that needs no related data.
func projectEach(fn func(Row) any) func(context.Context, Reader, []Row) ([]any, error) {
	return func(_ context.Context, _ Reader, rows []Row) ([]any, error) {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, fn(row))
		}
		return out, nil
	}
}
