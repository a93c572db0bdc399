package validation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/extraction/internal/domain/extraction"
)

var ErrAlreadyValidated = errors.New("extraction record has already been validated")

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*extraction.Record, error)
	Queue(ctx context.Context, workspaceID uuid.UUID, pendingOnly bool, limit, offset int) ([]*extraction.Record, int, error)
	History(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*extraction.Record, int, error)
	// Decide applies d only while the record is still unvalidated and
	// returns ErrAlreadyValidated otherwise.
	Decide(ctx context.Context, d Decision) error
	Stats(ctx context.Context, workspaceID uuid.UUID) (*Stats, error)
}
