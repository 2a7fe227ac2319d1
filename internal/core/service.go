package core

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/JonMunkholm/fieldsync/internal/core/schema"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// Service provides listing and batch synchronization for registered resources.
type Service struct {
	store   Store
	events  EventEmitter
	schemas *schema.Validator
	now     func() time.Time
}

// NewService creates a new Service. A nil emitter discards events.
func NewService(store Store, events EventEmitter) *Service {
	if events == nil {
		events = NopEmitter{}
	}
	return &Service{
		store:   store,
		events:  events,
		schemas: schema.Default,
		now:     time.Now,
	}
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListResult is the response of a list request.
type ListResult struct {
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Count  int   `json:"count"`
	Data   []any `json:"data"`
}

// List returns one page of a resource filtered by the query parameters its
// allow-list accepts.
func (s *Service) List(ctx context.Context, name string, q url.Values) (ListResult, error) {
	res, ok := Get(name)
	if !ok {
		return ListResult{}, fmt.Errorf("unknown resource %q", name)
	}

	page := ParsePage(q)
	filters := ParseFilters(q, res.Filters)

	where := make([]Condition, 0, len(res.Base)+len(filters)+1)
	where = append(where, res.Base...)
	if res.Scope != nil {
		where = append(where, res.Scope(filters)...)
	}
	where = append(where, filters...)

	total, err := s.store.Count(ctx, res.Table, where)
	if err != nil {
		return ListResult{}, fmt.Errorf("count %s: %w", res.Name, err)
	}

	rows, err := s.store.Select(ctx, Query{
		Table:   res.Table,
		Where:   where,
		OrderBy: res.Order,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("select %s: %w", res.Name, err)
	}

	data, err := res.Project(ctx, s.store, rows)
	if err != nil {
		return ListResult{}, fmt.Errorf("project %s: %w", res.Name, err)
	}

	return ListResult{
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
		Count:  len(data),
		Data:   data,
	}, nil
}

// Sync upserts a batch of client records in one transaction. The first
// invalid record aborts the batch. Events are emitted after commit.
func (s *Service) Sync(ctx context.Context, name string, body []byte) (BatchResult, error) {
	res, ok := Get(name)
	if !ok || res.Writer == nil {
		return BatchResult{}, fmt.Errorf("resource %q does not accept sync", name)
	}

	records, err := decodeBatch(body)
	if err != nil {
		return BatchResult{}, err
	}

	logger := logging.WithFields(ctx, "entity", res.Name, "records", len(records))

	var (
		results []written
		data    []any
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		results = make([]written, 0, len(records))
		for idx, raw := range records {
			change, err := s.prepareRecord(ctx, tx, res, idx, raw)
			if err != nil {
				return err
			}
			w, err := s.upsert(ctx, tx, res, change, false)
			if err != nil {
				return err
			}
			results = append(results, w)
		}

		rows := make([]Row, 0, len(results))
		for _, w := range results {
			row, err := tx.Get(ctx, res.Table, w.id)
			if err != nil {
				return fmt.Errorf("reload %s %d: %w", res.Name, w.id, err)
			}
			rows = append(rows, row)
		}

		var err error
		data, err = res.Project(ctx, tx, rows)
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}

	created := 0
	for i, w := range results {
		action := ActionUpdated
		if w.created {
			action = ActionCreated
			created++
		}
		s.emit(ctx, res, action, w.id, data[i])
	}
	logger.Info("batch synced", "created", created, "updated", len(results)-created)

	return BatchResult{Count: len(data), Data: data}, nil
}

func (s *Service) emit(ctx context.Context, res *Resource, action string, id int64, data any) {
	s.events.Emit(ctx, Event{
		Name:      EventName(res.Name, action),
		Entity:    res.Name,
		Model:     res.Table,
		RecordID:  id,
		Data:      data,
		Timestamp: s.now(),
	})
}
