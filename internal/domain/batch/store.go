package batch

import (
	"context"

	"github.com/google/uuid"
)

// Store keeps finished batches for history. Save is an upsert keyed on the
// batch id, so repeating it is harmless.
type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*Job, error)
}
