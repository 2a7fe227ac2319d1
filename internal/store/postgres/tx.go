package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

type tx struct {
	reader
	tx pgx.Tx
	sp int // savepoints issued so far
}

func (t *tx) FindIDByMobileUID(ctx context.Context, table, mobileUID string) (int64, bool, error) {
	var id int64
	sql := "SELECT id FROM " + quoteIdentifier(table) + " WHERE mobile_uid = $1"
	err := t.tx.QueryRow(ctx, sql, mobileUID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find %s by mobile_uid: %w", table, err)
	}
	return id, true, nil
}

// sortedColumns returns the keys of f in a stable order.
func sortedColumns(f core.Fields) []string {
	cols := make([]string, 0, len(f))
	for c := range f {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (t *tx) Insert(ctx context.Context, table string, fields core.Fields) (int64, error) {
	cols := sortedColumns(fields)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = quoteIdentifier(c)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = encodeArg(fields[c])
	}

	var sql string
	if len(cols) == 0 {
		sql = "INSERT INTO " + quoteIdentifier(table) + " DEFAULT VALUES RETURNING id"
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			quoteIdentifier(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	}

	var id int64
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if isMobileUIDConflict(err) {
			return 0, fmt.Errorf("insert %s: %w", table, core.ErrConflict)
		}
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (t *tx) Update(ctx context.Context, table string, id int64, fields core.Fields) error {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for _, c := range sortedColumns(fields) {
		if c == "id" || c == "mobile_uid" || c == "write_date" {
			continue
		}
		args = append(args, encodeArg(fields[c]))
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentifier(c), len(args)))
	}
	sets = append(sets, `"write_date" = (now() at time zone 'utc')`)
	args = append(args, id)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		quoteIdentifier(table), strings.Join(sets, ", "), len(args))
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", table, id, core.ErrNotFound)
	}
	return nil
}

// Savepoint isolates fn so a failed statement does not abort the
// surrounding transaction.
func (t *tx) Savepoint(ctx context.Context, fn func(core.Tx) error) error {
	t.sp++
	name := fmt.Sprintf("sp_%d", t.sp)

	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	if err := fn(t); err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to rollback savepoint %s: %w", name, rbErr)
		}
		return err
	}

	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}
