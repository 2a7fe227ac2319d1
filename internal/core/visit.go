package core

import (
	"context"
	"fmt"
	"time"
)

// VisitInput is a decoded visit record.
type VisitInput struct {
	MobileUID      string
	PartnerID      int64
	VisitDatetime  time.Time
	Memo           Optional[string]
	MobileSyncDate Optional[time.Time]
}

// VisitView is the wire format of a visit.
type VisitView struct {
	ID            int64     `json:"id"`
	MobileUID     *string   `json:"mobile_uid"`
	PartnerID     *int64    `json:"partner_id"`
	PartnerName   *string   `json:"partner_name"`
	VisitDatetime *DateTime `json:"visit_datetime"`
	Memo          *string   `json:"memo"`
	WriteDate     *DateTime `json:"write_date"`
}

var Visits = &Resource{
	Name:  "visit",
	Path:  "visits",
	Table: "visits",
	Filters: FilterSpec{
		"partner_id": {Column: "partner_id", Type: FieldInt},
	},
	Order:   []Order{{Column: "visit_datetime", Desc: true}, {Column: "id", Desc: true}},
	Project: projectVisits,
	Writer: &Writer{
		Schema:   "visit",
		Required: []string{"mobile_uid", "partner_id", "visit_datetime"},
		Prepare:  prepareVisit,
	},
}

func init() {
	Register(Visits)
}

func decodeVisit(rec Record) (VisitInput, error) {
	var in VisitInput
	in.MobileUID, _ = rec["mobile_uid"].(string)

	partner, err := rec.Int("partner_id")
	if err != nil {
		return in, err
	}
	in.PartnerID = partner.Value

	at, err := rec.DateTime("visit_datetime")
	if err != nil {
		return in, err
	}
	in.VisitDatetime = at.Value

	if in.Memo, err = rec.String("memo"); err != nil {
		return in, err
	}
	if in.MobileSyncDate, err = rec.Date("mobile_sync_date"); err != nil {
		return in, err
	}
	return in, nil
}

func prepareVisit(_ context.Context, _ Reader, rec Record) (Change, error) {
	in, err := decodeVisit(rec)
	if err != nil {
		return Change{}, err
	}

	f := Fields{
		"partner_id":     in.PartnerID,
		"visit_datetime": in.VisitDatetime,
	}
	setIf(f, "memo", in.Memo)
	setIf(f, "mobile_sync_date", in.MobileSyncDate)

	return Change{
		MobileUID: in.MobileUID,
		Fields:    f,
		Refs: []Reference{
			{Field: "partner_id", Table: "partners", ID: Some(in.PartnerID)},
		},
	}, nil
}

func projectVisits(ctx context.Context, r Reader, rows []Row) ([]any, error) {
	names, err := partnerNames(ctx, r, rows)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v := VisitView{
			ID:            row.ID(),
			MobileUID:     row.stringPtr("mobile_uid"),
			PartnerID:     row.int64Ptr("partner_id"),
			VisitDatetime: row.dateTimePtr("visit_datetime"),
			Memo:          row.stringPtr("memo"),
			WriteDate:     row.dateTimePtr("write_date"),
		}
		if v.PartnerID != nil {
			if name, ok := names[*v.PartnerID]; ok {
				v.PartnerName = &name
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// partnerNames loads the names of every partner referenced by rows in one query.
func partnerNames(ctx context.Context, r Reader, rows []Row) (map[int64]string, error) {
	ids := uniqueIDs(rows, "partner_id")
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	partners, err := r.Select(ctx, Query{Table: "partners", Where: []Condition{In("id", ids)}})
	if err != nil {
		return nil, fmt.Errorf("load partner names: %w", err)
	}
	for _, p := range partners {
		if name, ok := p.String("name"); ok {
			names[p.ID()] = name
		}
	}
	return names, nil
}

// uniqueIDs collects the distinct non-null values of col in first-seen order.
func uniqueIDs(rows []Row, col string) []int64 {
	seen := make(map[int64]bool, len(rows))
	var ids []int64
	for _, row := range rows {
		id, ok := row.Int64(col)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
