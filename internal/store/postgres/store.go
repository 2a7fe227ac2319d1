// Package postgres implements core.Store on PostgreSQL with a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/fieldsync/internal/config"
	"github.com/JonMunkholm/fieldsync/internal/core"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL core.Store.
type Store struct {
	reader
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{reader: reader{q: pool}, pool: pool}
}

// Open creates a pool from cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a read-committed transaction. fn's error, or a panic,
// rolls it back.
func (s *Store) InTx(ctx context.Context, fn func(core.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx) // no-op after commit

	if err := fn(&tx{reader: reader{q: pgTx}, tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// reader implements core.Reader over any querier.
type reader struct {
	q querier
}

func (r reader) Select(ctx context.Context, q core.Query) ([]core.Row, error) {
	wb := NewWhereBuilder()
	if err := wb.AddConditions(q.Where); err != nil {
		return nil, err
	}
	where, args := wb.Build()

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(quoteIdentifier(q.Table))
	sb.WriteString(where)

	order := q.OrderBy
	if len(order) == 0 {
		order = []core.Order{{Column: "id"}}
	}
	terms := make([]string, 0, len(order))
	for _, o := range order {
		term := quoteIdentifier(o.Column)
		if o.Desc {
			term += " DESC"
		}
		terms = append(terms, term)
	}
	sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}

	rows, err := r.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	return collectRows(rows)
}

func (r reader) Count(ctx context.Context, table string, where []core.Condition) (int, error) {
	wb := NewWhereBuilder()
	if err := wb.AddConditions(where); err != nil {
		return 0, err
	}
	clause, args := wb.Build()

	var n int64
	sql := "SELECT count(*) FROM " + quoteIdentifier(table) + clause
	if err := r.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int(n), nil
}

func (r reader) Get(ctx context.Context, table string, id int64) (core.Row, error) {
	rows, err := r.q.Query(ctx, "SELECT * FROM "+quoteIdentifier(table)+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", table, id, err)
	}
	found, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s %d: %w", table, id, core.ErrNotFound)
	}
	return found[0], nil
}

func (r reader) Exists(ctx context.Context, table string, id int64) (bool, error) {
	var ok bool
	sql := "SELECT EXISTS (SELECT 1 FROM " + quoteIdentifier(table) + " WHERE id = $1)"
	if err := r.q.QueryRow(ctx, sql, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists %s %d: %w", table, id, err)
	}
	return ok, nil
}

// isMobileUIDConflict reports a unique violation on a mobile_uid constraint.
func isMobileUIDConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.HasSuffix(pgErr.ConstraintName, "_mobile_uid_key")
}

var (
	_ core.Store = (*Store)(nil)
	_ core.Admin = (*Store)(nil)
)
