package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/extraction/internal/domain/extraction"
)

const (
	historySheet   = "Validation History"
	exportPageSize = 500
	exportRowLimit = 10000
)

var historyHeaders = []string{
	"Record ID", "Document Type", "Decision", "Validated By", "Validated At",
	"Status", "Rejection Reason", "Notes", "Corrections", "Avg Confidence",
}

// ExportHistory writes the workspace's review history as an XLSX workbook.
func (s *Service) ExportHistory(ctx context.Context, workspaceID uuid.UUID) ([]byte, error) {
	var all []*extraction.Record
	for offset := 0; offset < exportRowLimit; offset += exportPageSize {
		page, total, err := s.repo.History(ctx, workspaceID, exportPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize || offset+len(page) >= total {
			break
		}
	}
	return historyWorkbook(all)
}

func historyWorkbook(records []*extraction.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(historySheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range historyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(historySheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, rec := range records {
		row := []any{
			rec.ID.String(),
			rec.DocumentType,
			rec.ReviewState(),
			deref(rec.ValidatedBy),
			"",
			string(rec.ExtractionStatus),
			deref(rec.RejectionReason),
			deref(rec.ValidationNotes),
			correctionKeys(rec.ValidationChanges),
			averageConfidence(rec.ConfidenceScores),
		}
		if rec.ValidatedAt != nil {
			row[4] = rec.ValidatedAt.UTC().Format(time.RFC3339)
		}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(historySheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	_ = f.SetColWidth(historySheet, "A", "A", 38)
	_ = f.SetColWidth(historySheet, "B", "H", 20)
	_ = f.SetColWidth(historySheet, "I", "I", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func correctionKeys(changes map[string]any) string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func averageConfidence(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}
