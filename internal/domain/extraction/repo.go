package extraction

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("extraction record not found")
	ErrDocumentNotFound = errors.New("source document not found")
	ErrExtractionFailed = errors.New("extraction service failed")
)

type DocumentRepository interface {
	Create(ctx context.Context, d *SourceDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*SourceDocument, error)
}

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
}
