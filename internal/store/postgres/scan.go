package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

// collectRows reads every row into a core.Row keyed by column name.
func collectRows(rows pgx.Rows) ([]core.Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]core.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(core.Row, len(fields))
		for i, f := range fields {
			v, err := normalize(values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", f.Name, err)
			}
			row[f.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize maps driver values onto the types core.Row documents.
func normalize(v any) (any, error) {
	switch n := v.(type) {
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float32:
		return float64(n), nil
	case pgtype.Numeric:
		if !n.Valid {
			return nil, nil
		}
		if n.NaN || n.InfinityModifier != pgtype.Finite {
			return nil, fmt.Errorf("non-finite numeric")
		}
		return decimal.NewFromBigInt(n.Int, n.Exp), nil
	}
	return v, nil
}
