package validation

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/extraction/internal/domain/extraction"
)

const (
	QueuePending = "pending"
	QueueAll     = "all"
)

type ApproveRequest struct {
	ExtractionID uuid.UUID      `json:"extraction_id"`
	Corrections  map[string]any `json:"corrections,omitempty"`
	Notes        *string        `json:"notes,omitempty"`
	ValidatedBy  string         `json:"validated_by"`
}

type RejectRequest struct {
	ExtractionID    uuid.UUID `json:"extraction_id"`
	RejectionReason string    `json:"rejection_reason"`
	ValidatedBy     string    `json:"validated_by"`
}

// Decision is what the repository writes for a review outcome.
type Decision struct {
	ExtractionID         uuid.UUID
	Approved             bool
	StructuredExtraction map[string]any
	Changes              map[string]any
	Notes                *string
	RejectionReason      *string
	ValidatedBy          string
	ValidatedAt          time.Time
}

type Stats struct {
	Total             int                `json:"total"`
	Pending           int                `json:"pending"`
	Approved          int                `json:"approved"`
	Rejected          int                `json:"rejected"`
	AverageConfidence map[string]float64 `json:"average_confidence"`
}

type TemplateSummary struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	DocumentType string    `json:"document_type"`
	IsActive     bool      `json:"is_active"`
}

// Detail is a record with the document and template it came from.
type Detail struct {
	Record         *extraction.Record         `json:"record"`
	SourceDocument *extraction.SourceDocument `json:"source_document,omitempty"`
	Template       *TemplateSummary           `json:"template,omitempty"`
	ReviewState    string                     `json:"review_state"`
}
