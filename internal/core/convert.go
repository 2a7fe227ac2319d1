package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Wire layouts.
const (
	DateTimeLayout = "2006-01-02T15:04:05"
	DateLayout     = "2006-01-02"
)

// datetimeLayouts are tried in order when parsing client datetimes.
var datetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDateTime parses a client datetime. Values carry no zone and are read as UTC.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse datetime %q; expected YYYY-MM-DDTHH:MM:SS", s)
}

// ParseDate parses a client date, accepting any datetime layout and dropping
// the time of day.
func ParseDate(s string) (time.Time, error) {
	t, err := ParseDateTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date %q; expected YYYY-MM-DD", strings.TrimSpace(s))
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// DateTime renders as "YYYY-MM-DDTHH:MM:SS".
type DateTime time.Time

func (d DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).UTC().Format(DateTimeLayout) + `"`), nil
}

// Date renders as "YYYY-MM-DD".
type Date time.Time

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(DateLayout) + `"`), nil
}

// Optional carries a value that may be absent from a client record. Absent
// and null are both reported as !Valid and never written.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// setIf writes the value into f under col when present.
func setIf[T any](f Fields, col string, o Optional[T]) {
	if o.Valid {
		f[col] = o.Value
	}
}

// Record is one decoded element of a batch. Numbers are json.Number.
type Record map[string]any

// Present reports whether key exists with a non-null value.
func (r Record) Present(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// MobileUID returns the record's mobile_uid for error details.
func (r Record) MobileUID(index int) any {
	if v, ok := r["mobile_uid"]; ok && v != nil {
		return v
	}
	return fmt.Sprintf("item_%d", index)
}

func (r Record) String(key string) (Optional[string], error) {
	if !r.Present(key) {
		return Optional[string]{}, nil
	}
	s, ok := r[key].(string)
	if !ok {
		return Optional[string]{}, fieldError(key, "must be a string")
	}
	return Some(s), nil
}

func (r Record) Int(key string) (Optional[int64], error) {
	if !r.Present(key) {
		return Optional[int64]{}, nil
	}
	n, err := toInt64(r[key])
	if err != nil {
		return Optional[int64]{}, fieldError(key, "must be an integer")
	}
	return Some(n), nil
}

func (r Record) Float(key string) (Optional[float64], error) {
	if !r.Present(key) {
		return Optional[float64]{}, nil
	}
	switch v := r[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return Some(f), nil
		}
	case float64:
		return Some(v), nil
	}
	return Optional[float64]{}, fieldError(key, "must be a number")
}

func (r Record) Decimal(key string) (Optional[decimal.Decimal], error) {
	if !r.Present(key) {
		return Optional[decimal.Decimal]{}, nil
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch v := r[key].(type) {
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return Optional[decimal.Decimal]{}, fieldError(key, "must be a number")
	}
	return Some(d), nil
}

func (r Record) DateTime(key string) (Optional[time.Time], error) {
	s, err := r.String(key)
	if err != nil || !s.Valid {
		return Optional[time.Time]{}, err
	}
	t, err := ParseDateTime(s.Value)
	if err != nil {
		return Optional[time.Time]{}, BadRequest("Invalid "+key+" format", map[string]any{
			key:     s.Value,
			"error": err.Error(),
		})
	}
	return Some(t), nil
}

func (r Record) Date(key string) (Optional[time.Time], error) {
	s, err := r.String(key)
	if err != nil || !s.Valid {
		return Optional[time.Time]{}, err
	}
	t, err := ParseDate(s.Value)
	if err != nil {
		return Optional[time.Time]{}, BadRequest("Invalid "+key+" format", map[string]any{
			key:     s.Value,
			"error": err.Error(),
		})
	}
	return Some(t), nil
}

func fieldError(key, msg string) error {
	return BadRequest("Invalid "+key, map[string]any{key: key + " " + msg})
}

// isInt64 reports whether f is whole and within int64 range. 2^63 itself is
// excluded since float64(math.MaxInt64) rounds up to it.
func isInt64(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || !isInt64(f) {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		return int64(f), nil
	case float64:
		if !isInt64(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
