package extraction

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// SourceDocument is an uploaded file kept in blob storage.
type SourceDocument struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	PageCount   *int       `json:"page_count,omitempty"`
	StorageKey  string     `json:"storage_key"`
	SHA256      string     `json:"sha256"`
	UploadedBy  string     `json:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Record is the history entry for one processing attempt. It is written
// once and afterwards changed only by a review decision.
type Record struct {
	ID                   uuid.UUID              `json:"id"`
	WorkspaceID          uuid.UUID              `json:"workspace_id"`
	SourceDocumentID     uuid.UUID              `json:"source_document_id"`
	TemplateID           *uuid.UUID             `json:"template_id,omitempty"`
	PatientID            *uuid.UUID             `json:"patient_id,omitempty"`
	EncounterID          *uuid.UUID             `json:"encounter_id,omitempty"`
	BatchID              *uuid.UUID             `json:"batch_id,omitempty"`
	DocumentType         string                 `json:"document_type,omitempty"`
	StructuredExtraction map[string]any         `json:"structured_extraction"`
	ConfidenceScores     map[string]float64     `json:"confidence_scores"`
	AutoPopulatedRecords map[string][]uuid.UUID `json:"auto_populated_records"`
	PopulationErrors     []string               `json:"population_errors"`
	ProcessingTimeMS     int64                  `json:"processing_time_ms"`
	ExtractionStatus     Status                 `json:"extraction_status"`
	Validated            bool                   `json:"validated"`
	ValidatedBy          *string                `json:"validated_by,omitempty"`
	ValidatedAt          *time.Time             `json:"validated_at,omitempty"`
	ValidationChanges    map[string]any         `json:"validation_changes,omitempty"`
	ValidationNotes      *string                `json:"validation_notes,omitempty"`
	RejectionReason      *string                `json:"rejection_reason,omitempty"`
	CreatedBy            string                 `json:"created_by"`
	CreatedAt            time.Time              `json:"created_at"`
}

// ReviewState derives the review gate position from the stored flags.
func (r *Record) ReviewState() string {
	switch {
	case !r.Validated:
		return "pending"
	case r.ExtractionStatus == StatusRejected:
		return "rejected"
	}
	return "approved"
}
