package core

import (
	"context"
	"fmt"
)

// Reference is a foreign key carried by a client record.
type Reference struct {
	Field string // wire field name, e.g. "partner_id"
	Table string
	ID    Optional[int64]
}

// checkReferences fails with a BadRequestError naming the first reference
// whose id does not exist. Absent ids pass.
func checkReferences(ctx context.Context, r Reader, refs []Reference) error {
	for _, ref := range refs {
		if !ref.ID.Valid {
			continue
		}
		ok, err := r.Exists(ctx, ref.Table, ref.ID.Value)
		if err != nil {
			return fmt.Errorf("check %s: %w", ref.Field, err)
		}
		if !ok {
			return BadRequest("Invalid "+ref.Field, map[string]any{
				ref.Field: fmt.Sprintf("Record with id %d does not exist in %s", ref.ID.Value, ref.Table),
			})
		}
	}
	return nil
}
