package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

const credentialColumns = "id, name, key_hash, user_id, active, last_used, created_at"

func scanCredential(row pgx.Row) (core.Credential, error) {
	var c core.Credential
	err := row.Scan(&c.ID, &c.Name, &c.KeyHash, &c.UserID, &c.Active, &c.LastUsed, &c.CreatedAt)
	return c, err
}

func (s *Store) FindActiveCredential(ctx context.Context, digest string) (core.Credential, error) {
	c, err := scanCredential(s.pool.QueryRow(ctx,
		"SELECT "+credentialColumns+" FROM api_keys WHERE key_hash = $1 AND active", digest))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Credential{}, core.ErrNotFound
	}
	if err != nil {
		return core.Credential{}, fmt.Errorf("find credential: %w", err)
	}
	return c, nil
}

func (s *Store) TouchCredential(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx, "UPDATE api_keys SET last_used = $1 WHERE id = $2", at.UTC(), id); err != nil {
		return fmt.Errorf("touch credential %d: %w", id, err)
	}
	return nil
}

func (s *Store) CreateCredential(ctx context.Context, name, digest string, userID *int64) (core.Credential, error) {
	c, err := scanCredential(s.pool.QueryRow(ctx,
		"INSERT INTO api_keys (name, key_hash, user_id) VALUES ($1, $2, $3) RETURNING "+credentialColumns,
		name, digest, userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Credential{}, fmt.Errorf("credential %q: %w", name, core.ErrConflict)
		}
		return core.Credential{}, fmt.Errorf("create credential: %w", err)
	}
	return c, nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]core.Credential, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+credentialColumns+" FROM api_keys ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []core.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RevokeCredential(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE api_keys SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("revoke credential %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// eventColumn maps "visit.created" to the flag column "on_visit_create".
func eventColumn(event string) (string, bool) {
	if !core.IsWebhookEvent(event) {
		return "", false
	}
	entity, action, _ := strings.Cut(event, ".")
	return "on_" + entity + "_" + strings.TrimSuffix(action, "d"), true
}

func subscriptionColumns() string {
	cols := []string{"id", "name", "url", "secret", "active", "last_triggered", "last_status", "last_error"}
	for _, ev := range core.WebhookEvents {
		col, _ := eventColumn(ev)
		cols = append(cols, col)
	}
	return strings.Join(cols, ", ")
}

func scanSubscription(row pgx.Row) (core.Subscription, error) {
	var (
		sub       core.Subscription
		status    *int32
		lastError *string
		flags     = make([]bool, len(core.WebhookEvents))
	)
	dest := []any{&sub.ID, &sub.Name, &sub.URL, &sub.Secret, &sub.Active, &sub.LastTriggered, &status, &lastError}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	if err := row.Scan(dest...); err != nil {
		return core.Subscription{}, err
	}
	if status != nil {
		v := int(*status)
		sub.LastStatus = &v
	}
	if lastError != nil {
		sub.LastError = *lastError
	}
	for i, on := range flags {
		if on {
			sub.Events = append(sub.Events, core.WebhookEvents[i])
		}
	}
	return sub, nil
}

func (s *Store) querySubscriptions(ctx context.Context, sql string, args ...any) ([]core.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ActiveSubscriptions(ctx context.Context, event string) ([]core.Subscription, error) {
	col, ok := eventColumn(event)
	if !ok {
		return nil, nil
	}
	subs, err := s.querySubscriptions(ctx,
		"SELECT "+subscriptionColumns()+" FROM webhooks WHERE active AND "+quoteIdentifier(col)+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("active subscriptions for %s: %w", event, err)
	}
	return subs, nil
}

func (s *Store) RecordDelivery(ctx context.Context, id int64, outcome core.DeliveryOutcome) error {
	var status *int32
	if outcome.Status != 0 {
		v := int32(outcome.Status)
		status = &v
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE webhooks SET last_triggered = $1, last_status = $2, last_error = $3 WHERE id = $4",
		outcome.At.UTC(), status, outcome.Error, id)
	if err != nil {
		return fmt.Errorf("record delivery for webhook %d: %w", id, err)
	}
	return nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	cols := []string{"name", "url", "secret", "active"}
	args := []any{sub.Name, sub.URL, sub.Secret, sub.Active}
	for _, ev := range sub.Events {
		col, ok := eventColumn(ev)
		if !ok {
			return core.Subscription{}, fmt.Errorf("unknown event %q", ev)
		}
		cols = append(cols, col)
		args = append(args, true)
	}
	marks := make([]string, len(args))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}

	created, err := scanSubscription(s.pool.QueryRow(ctx, fmt.Sprintf(
		"INSERT INTO webhooks (%s) VALUES (%s) RETURNING %s",
		strings.Join(cols, ", "), strings.Join(marks, ", "), subscriptionColumns()), args...))
	if err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return created, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	subs, err := s.querySubscriptions(ctx, "SELECT "+subscriptionColumns()+" FROM webhooks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (core.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		"SELECT "+subscriptionColumns()+" FROM webhooks WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subscription{}, fmt.Errorf("subscription %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return sub, nil
}
