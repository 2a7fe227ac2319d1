package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

// WhereBuilder assembles a parameterized WHERE clause with $n placeholders.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends column = value. Empty strings are skipped.
func (wb *WhereBuilder) Add(column string, value any) *WhereBuilder {
	if s, ok := value.(string); ok && s == "" {
		return wb
	}
	wb.conditions = append(wb.conditions, quoteIdentifier(column)+" = "+wb.placeholder(value))
	return wb
}

// AddCondition renders a store condition.
func (wb *WhereBuilder) AddCondition(c core.Condition) error {
	sql, err := wb.render(c)
	if err != nil {
		return err
	}
	wb.conditions = append(wb.conditions, sql)
	return nil
}

// AddConditions renders every condition, ANDed.
func (wb *WhereBuilder) AddConditions(conds []core.Condition) error {
	for _, c := range conds {
		if err := wb.AddCondition(c); err != nil {
			return err
		}
	}
	return nil
}

func (wb *WhereBuilder) render(c core.Condition) (string, error) {
	col := quoteIdentifier(c.Column)
	switch c.Op {
	case core.OpEq:
		return col + " = " + wb.placeholder(c.Value), nil
	case core.OpGte:
		return col + " >= " + wb.placeholder(c.Value), nil
	case core.OpGt:
		return col + " > " + wb.placeholder(c.Value), nil
	case core.OpIn:
		return col + " = ANY(" + wb.placeholder(c.Value) + ")", nil
	case core.OpNotNull:
		return col + " IS NOT NULL", nil
	case core.OpHasRelated:
		rel, ok := c.Value.(core.Related)
		if !ok {
			return "", fmt.Errorf("bad related condition %v", c.Value)
		}
		fk := quoteIdentifier(rel.Column)
		return fmt.Sprintf("id IN (SELECT %s FROM %s WHERE %s IS NOT NULL)", fk, quoteIdentifier(rel.Table), fk), nil
	case core.OpOr:
		parts := make([]string, 0, len(c.Any))
		for _, sub := range c.Any {
			sql, err := wb.render(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql)
		}
		if len(parts) == 0 {
			return "FALSE", nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "", fmt.Errorf("unsupported operator %d", c.Op)
}

func (wb *WhereBuilder) placeholder(value any) string {
	wb.args = append(wb.args, encodeArg(value))
	p := fmt.Sprintf("$%d", wb.argIndex)
	wb.argIndex++
	return p
}

// Build returns the clause with a leading " WHERE ", or "" and nil args when
// no condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// quoteIdentifier wraps a column or table name in double quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// encodeArg converts values pgx cannot encode natively.
func encodeArg(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
	}
	return v
}
