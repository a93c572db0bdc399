package terminology

import "github.com/ehr/extraction/internal/domain/mapping"

// Code is one row of a reference code list (ICD-10 diagnoses or
// medications).
type Code struct {
	Code             string `json:"code"`
	Description      string `json:"description"`
	ShortDescription string `json:"short_description,omitempty"`
	Category         string `json:"category,omitempty"`
}

var codeSets = []string{mapping.CodeSetICD10, mapping.CodeSetMedication}

func toEntries(codes []*Code) []mapping.CodeEntry {
	out := make([]mapping.CodeEntry, 0, len(codes))
	for _, c := range codes {
		out = append(out, mapping.CodeEntry{
			Code:             c.Code,
			Description:      c.Description,
			ShortDescription: c.ShortDescription,
		})
	}
	return out
}
