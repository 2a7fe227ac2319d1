package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/goccy/go-json"

	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// MaxBatchSize bounds the number of records in one sync request.
const MaxBatchSize = 100

// BatchResult is the response of a sync request.
type BatchResult struct {
	Count int   `json:"count"`
	Data  []any `json:"data"`
}

// written is the outcome of one upserted record.
type written struct {
	id      int64
	created bool
}

// decodeJSON decodes body keeping numbers as json.Number.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeBatch parses a sync body into its records.
func decodeBatch(body []byte) ([]any, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return nil, BadRequest("Invalid JSON body", map[string]any{"error": err.Error()})
	}
	records, ok := v.([]any)
	if !ok {
		return nil, BadRequest("Request body must be a JSON array", nil)
	}
	if len(records) == 0 {
		return nil, BadRequest("Request body cannot be empty", nil)
	}
	if len(records) > MaxBatchSize {
		return nil, BadRequest(fmt.Sprintf("Batch size cannot exceed %d records", MaxBatchSize), map[string]any{
			"max_batch_size": MaxBatchSize,
			"received":       len(records),
		})
	}
	return records, nil
}

// missingFields lists required keys that are absent or null.
func missingFields(rec Record, required []string) []string {
	var missing []string
	for _, f := range required {
		if !rec.Present(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// prepareRecord runs the per-record checks in order: required fields, schema,
// decoding, foreign keys.
func (s *Service) prepareRecord(ctx context.Context, r Reader, res *Resource, idx int, raw any) (Change, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Change{}, BadRequest(fmt.Sprintf("Validation failed at index %d: record must be a JSON object", idx), map[string]any{
			"index": idx,
		})
	}
	rec := Record(obj)
	w := res.Writer

	if missing := missingFields(rec, w.Required); len(missing) > 0 {
		return Change{}, BadRequest(fmt.Sprintf("Validation failed at index %d: missing required fields", idx), map[string]any{
			"index":          idx,
			"mobile_uid":     rec.MobileUID(idx),
			"missing_fields": missing,
		})
	}

	violations, err := s.schemas.Validate(w.Schema, obj)
	if err != nil {
		return Change{}, fmt.Errorf("validate %s: %w", res.Name, err)
	}
	if len(violations) > 0 {
		v := violations[0]
		return Change{}, BadRequest(fmt.Sprintf("Validation failed at index %d: invalid %s", idx, v.Field), map[string]any{
			"index":      idx,
			"mobile_uid": rec.MobileUID(idx),
			"field":      v.Field,
			"error":      v.Description,
		})
	}

	change, err := w.Prepare(ctx, r, rec)
	if err != nil {
		return Change{}, atIndex(idx, rec, err)
	}

	if err := checkReferences(ctx, r, change.Refs); err != nil {
		return Change{}, err
	}
	return change, nil
}

// atIndex prefixes a record-level BadRequestError with its batch position.
func atIndex(idx int, rec Record, err error) error {
	var br *BadRequestError
	if !errors.As(err, &br) {
		return err
	}
	details := map[string]any{"index": idx, "mobile_uid": rec.MobileUID(idx)}
	maps.Copy(details, br.Details)
	return BadRequest(fmt.Sprintf("Validation failed at index %d: %s", idx, br.Message), details)
}

// upsert writes change by mobile_uid: update when a row exists, otherwise
// insert inside a savepoint. An insert that loses a race to a concurrent
// request rolls back to the savepoint and re-enters as an update.
func (s *Service) upsert(ctx context.Context, tx Tx, res *Resource, change Change, afterConflict bool) (written, error) {
	id, found, err := tx.FindIDByMobileUID(ctx, res.Table, change.MobileUID)
	if err != nil {
		return written{}, fmt.Errorf("find %s %q: %w", res.Name, change.MobileUID, err)
	}

	if found {
		if err := tx.Update(ctx, res.Table, id, change.Fields); err != nil {
			return written{}, fmt.Errorf("update %s %d: %w", res.Name, id, err)
		}
		return written{id: id}, nil
	}

	if afterConflict {
		return written{}, fmt.Errorf("%s %q: insert conflicted but no existing record was found", res.Name, change.MobileUID)
	}

	fields := make(Fields, len(change.Fields)+len(change.OnCreate)+1)
	maps.Copy(fields, change.OnCreate)
	maps.Copy(fields, change.Fields)
	fields["mobile_uid"] = change.MobileUID

	var newID int64
	err = tx.Savepoint(ctx, func(sp Tx) error {
		var err error
		newID, err = sp.Insert(ctx, res.Table, fields)
		return err
	})
	if errors.Is(err, ErrConflict) {
		logging.FromContext(ctx).Warn("mobile_uid created concurrently, retrying as update",
			"entity", res.Name,
			"mobile_uid", change.MobileUID,
		)
		return s.upsert(ctx, tx, res, change, true)
	}
	if err != nil {
		return written{}, fmt.Errorf("create %s: %w", res.Name, err)
	}
	return written{id: newID, created: true}, nil
}
