package template

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ehr/extraction/internal/domain/mapping"
)

type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	Name          string        `yaml:"name"`
	DocumentType  string        `yaml:"document_type"`
	Description   string        `yaml:"description"`
	IsDefault     bool          `yaml:"is_default"`
	FieldMappings []seedMapping `yaml:"field_mappings"`
}

type seedMapping struct {
	SourceSection        string         `yaml:"source_section"`
	SourceField          string         `yaml:"source_field"`
	SourceFieldPath      string         `yaml:"source_field_path"`
	TargetTable          string         `yaml:"target_table"`
	TargetField          string         `yaml:"target_field"`
	FieldType            string         `yaml:"field_type"`
	TransformationType   string         `yaml:"transformation_type"`
	TransformationConfig map[string]any `yaml:"transformation_config"`
	IsRequired           bool           `yaml:"is_required"`
	DefaultValue         any            `yaml:"default_value"`
	ProcessingOrder      int            `yaml:"processing_order"`
}

// ParseSeed decodes a YAML template seed file.
func ParseSeed(r io.Reader, workspaceID uuid.UUID, createdBy string) ([]*Template, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode template seed: %w", err)
	}

	out := make([]*Template, 0, len(f.Templates))
	for _, st := range f.Templates {
		t := &Template{
			WorkspaceID:  workspaceID,
			Name:         st.Name,
			DocumentType: st.DocumentType,
			IsDefault:    st.IsDefault,
			CreatedBy:    createdBy,
		}
		if st.Description != "" {
			d := st.Description
			t.Description = &d
		}
		for _, sm := range st.FieldMappings {
			t.FieldMappings = append(t.FieldMappings, mapping.FieldMapping{
				SourceSection:        sm.SourceSection,
				SourceField:          sm.SourceField,
				SourceFieldPath:      sm.SourceFieldPath,
				TargetTable:          sm.TargetTable,
				TargetField:          sm.TargetField,
				FieldType:            mapping.FieldType(sm.FieldType),
				TransformationType:   mapping.Kind(sm.TransformationType),
				TransformationConfig: sm.TransformationConfig,
				IsRequired:           sm.IsRequired,
				DefaultValue:         sm.DefaultValue,
				ProcessingOrder:      sm.ProcessingOrder,
			})
		}
		out = append(out, t)
	}
	return out, nil
}

// Import creates every template in a seed file. It stops at the first
// invalid template and reports how many were created before it.
func (s *Service) Import(ctx context.Context, r io.Reader, workspaceID uuid.UUID, createdBy string) (int, error) {
	templates, err := ParseSeed(r, workspaceID, createdBy)
	if err != nil {
		return 0, err
	}
	for i, t := range templates {
		if err := s.Create(ctx, t); err != nil {
			return i, fmt.Errorf("template %q: %w", t.Name, err)
		}
	}
	return len(templates), nil
}
