package core

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Pagination bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Page is a pagination window.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit and offset. Missing or non-numeric values fall back to
// the defaults; limit is clamped to [1, MaxLimit] and offset to >= 0.
func ParsePage(q url.Values) Page {
	p := Page{Limit: DefaultLimit}

	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil {
		p.Limit = min(max(v, 1), MaxLimit)
	}
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil {
		p.Offset = max(v, 0)
	}
	return p
}

// FieldType is the coercion applied to a filter parameter.
type FieldType int

const (
	FieldInt FieldType = iota
	FieldString
	FieldBool
	FieldDate
	FieldDateTime
)

// FilterField maps a query parameter onto a column.
type FilterField struct {
	Column string
	Type   FieldType
}

// FilterSpec is an endpoint's allow-list keyed by query parameter.
type FilterSpec map[string]FilterField

// SinceParam filters on write_date >= value on every list endpoint.
const SinceParam = "since"

// ParseFilters turns allow-listed query parameters into equality conditions,
// plus write_date >= since when since parses. Unknown parameters are ignored
// and values that fail coercion drop their filter.
func ParseFilters(q url.Values, spec FilterSpec) []Condition {
	params := make([]string, 0, len(spec))
	for p := range spec {
		params = append(params, p)
	}
	sort.Strings(params)

	var conds []Condition
	for _, p := range params {
		raw := strings.TrimSpace(q.Get(p))
		if raw == "" {
			continue
		}
		f := spec[p]
		v, ok := coerce(raw, f.Type)
		if !ok {
			continue
		}
		conds = append(conds, Eq(f.Column, v))
	}

	if raw := strings.TrimSpace(q.Get(SinceParam)); raw != "" {
		if t, err := ParseDateTime(raw); err == nil {
			conds = append(conds, Gte("write_date", t))
		}
	}
	return conds
}

func coerce(raw string, t FieldType) (any, bool) {
	switch t {
	case FieldInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		return v, err == nil
	case FieldString:
		return raw, true
	case FieldBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return true, true
		}
		return false, true
	case FieldDate:
		v, err := ParseDate(raw)
		return v, err == nil
	case FieldDateTime:
		v, err := ParseDateTime(raw)
		return v, err == nil
	}
	return nil, false
}

// hasColumn reports whether any top-level condition constrains col.
func hasColumn(conds []Condition, col string) bool {
	for _, c := range conds {
		if c.Column == col {
			return true
		}
	}
	return false
}
