package template

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/extraction/internal/domain/mapping"
)

// Template is a reusable, ordered set of field mappings for one document
// type. Templates are deactivated, never deleted.
type Template struct {
	ID            uuid.UUID              `json:"id"`
	WorkspaceID   uuid.UUID              `json:"workspace_id"`
	Name          string                 `json:"name"`
	DocumentType  string                 `json:"document_type"`
	Description   *string                `json:"description,omitempty"`
	IsActive      bool                   `json:"is_active"`
	IsDefault     bool                   `json:"is_default"`
	CreatedBy     string                 `json:"created_by"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	FieldMappings []mapping.FieldMapping `json:"field_mappings"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	WorkspaceID  uuid.UUID
	DocumentType string
	ActiveOnly   bool
}
