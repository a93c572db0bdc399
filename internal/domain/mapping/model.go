package mapping

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidMapping = errors.New("invalid field mapping")

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldBoolean  FieldType = "boolean"
	FieldJSON     FieldType = "json"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldDateTime, FieldBoolean, FieldJSON:
		return true
	}
	return false
}

type Kind string

const (
	KindDirect        Kind = "direct"
	KindSplit         Kind = "split"
	KindConcatenation Kind = "concatenation"
	KindLookup        Kind = "lookup"
	KindAIMatch       Kind = "ai_match"
	KindCalculation   Kind = "calculation"
)

// FieldMapping says where a value lives in an extraction payload, how to
// normalize it, and which target column receives it.
type FieldMapping struct {
	ID                   uuid.UUID      `json:"id"`
	TemplateID           uuid.UUID      `json:"template_id"`
	SourceSection        string         `json:"source_section,omitempty"`
	SourceField          string         `json:"source_field"`
	SourceFieldPath      string         `json:"source_field_path,omitempty"`
	TargetTable          string         `json:"target_table"`
	TargetField          string         `json:"target_field"`
	FieldType            FieldType      `json:"field_type"`
	TransformationType   Kind           `json:"transformation_type"`
	TransformationConfig map[string]any `json:"transformation_config,omitempty"`
	IsRequired           bool           `json:"is_required"`
	DefaultValue         any            `json:"default_value,omitempty"`
	ProcessingOrder      int            `json:"processing_order"`
}

// Validate checks the static shape of a mapping, including its
// transformation config.
func (m FieldMapping) Validate() error {
	if m.SourceField == "" && m.SourceFieldPath == "" {
		return fmt.Errorf("%w: source_field or source_field_path is required", ErrInvalidMapping)
	}
	if m.TargetTable == "" || m.TargetField == "" {
		return fmt.Errorf("%w: target_table and target_field are required", ErrInvalidMapping)
	}
	if !m.FieldType.Valid() {
		return fmt.Errorf("%w: unknown field_type %q", ErrInvalidMapping, m.FieldType)
	}
	if m.ProcessingOrder < 0 {
		return fmt.Errorf("%w: processing_order must not be negative", ErrInvalidMapping)
	}
	if _, err := ParseTransformation(m.TransformationType, m.TransformationConfig); err != nil {
		return err
	}
	return nil
}
