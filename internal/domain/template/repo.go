package template

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("template not found")
	ErrInactive        = errors.New("template is inactive")
	ErrNoDefault       = errors.New("no default template for document type")
	ErrInvalidTemplate = errors.New("invalid template")
)

type Repository interface {
	// Create inserts the template and its mappings atomically. When the
	// template is the default, any previous default for the same workspace
	// and document type loses the flag in the same transaction.
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetDefault(ctx context.Context, workspaceID uuid.UUID, documentType string) (*Template, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Template, int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// Supersede deactivates oldID and creates t in one transaction.
	Supersede(ctx context.Context, oldID uuid.UUID, t *Template) error
}
