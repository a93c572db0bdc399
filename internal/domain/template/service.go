package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/domain/population"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// prepare validates t and assigns identifiers. Mappings keep their
// submitted order; when no mapping carries a processing_order the
// submission order becomes the processing order.
func prepare(t *Template) error {
	t.Name = strings.TrimSpace(t.Name)
	t.DocumentType = strings.TrimSpace(t.DocumentType)
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if t.DocumentType == "" {
		return fmt.Errorf("%w: document_type is required", ErrInvalidTemplate)
	}
	if t.WorkspaceID == uuid.Nil {
		return fmt.Errorf("%w: workspace_id is required", ErrInvalidTemplate)
	}
	if len(t.FieldMappings) == 0 {
		return fmt.Errorf("%w: at least one field mapping is required", ErrInvalidTemplate)
	}

	ordered := false
	for _, m := range t.FieldMappings {
		if m.ProcessingOrder != 0 {
			ordered = true
			break
		}
	}

	t.ID = uuid.New()
	t.IsActive = true
	for i := range t.FieldMappings {
		m := &t.FieldMappings[i]
		if m.TransformationType == "" {
			m.TransformationType = mapping.KindDirect
		}
		if m.FieldType == "" {
			m.FieldType = mapping.FieldText
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("field_mappings[%d]: %w", i, err)
		}
		if !population.KnownTable(m.TargetTable) {
			return fmt.Errorf("field_mappings[%d]: %w: unknown target_table %q", i, mapping.ErrInvalidMapping, m.TargetTable)
		}
		if !population.KnownColumn(m.TargetTable, m.TargetField) {
			return fmt.Errorf("field_mappings[%d]: %w: unknown target_field %s.%s", i, mapping.ErrInvalidMapping, m.TargetTable, m.TargetField)
		}
		m.ID = uuid.New()
		m.TemplateID = t.ID
		if !ordered {
			m.ProcessingOrder = i
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, t *Template) error {
	if err := prepare(t); err != nil {
		return err
	}
	return s.repo.Create(ctx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Template, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}

// Supersede replaces an active template with next. next inherits the old
// template's workspace and document type, and its default flag unless next
// sets one itself.
func (s *Service) Supersede(ctx context.Context, oldID uuid.UUID, next *Template) error {
	old, err := s.repo.GetByID(ctx, oldID)
	if err != nil {
		return err
	}
	if !old.IsActive {
		return ErrInactive
	}
	next.WorkspaceID = old.WorkspaceID
	next.DocumentType = old.DocumentType
	if old.IsDefault {
		next.IsDefault = true
	}
	if next.Name == "" {
		next.Name = old.Name
	}
	if err := prepare(next); err != nil {
		return err
	}
	return s.repo.Supersede(ctx, oldID, next)
}

// Select picks the template for a document: the explicit id when given,
// otherwise the active default for the document type. Templates of another
// workspace are reported as not found.
func (s *Service) Select(ctx context.Context, workspaceID uuid.UUID, templateID *uuid.UUID, documentType string) (*Template, error) {
	if templateID != nil {
		t, err := s.repo.GetByID(ctx, *templateID)
		if err != nil {
			return nil, err
		}
		if t.WorkspaceID != workspaceID {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, t.ID)
		}
		if !t.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInactive, t.ID)
		}
		return t, nil
	}
	if documentType == "" {
		return nil, fmt.Errorf("%w: document type unknown", ErrNoDefault)
	}
	t, err := s.repo.GetDefault(ctx, workspaceID, documentType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoDefault
		}
		return nil, err
	}
	return t, nil
}
