package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extraction/internal/platform/db"
)

// =========== Source Documents ===========

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepoPG{pool: pool}
}

const docCols = `id, workspace_id, patient_id, filename, content_type, size_bytes, page_count,
	storage_key, sha256, uploaded_by, created_at`

func (r *documentRepoPG) Create(ctx context.Context, d *SourceDocument) error {
	return db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO source_documents (id, workspace_id, patient_id, filename, content_type,
			size_bytes, page_count, storage_key, sha256, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		d.ID, d.WorkspaceID, d.PatientID, d.Filename, d.ContentType,
		d.SizeBytes, d.PageCount, d.StorageKey, d.SHA256, d.UploadedBy).Scan(&d.CreatedAt)
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SourceDocument, error) {
	var d SourceDocument
	err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+docCols+` FROM source_documents WHERE id = $1`, id).
		Scan(&d.ID, &d.WorkspaceID, &d.PatientID, &d.Filename, &d.ContentType, &d.SizeBytes,
			&d.PageCount, &d.StorageKey, &d.SHA256, &d.UploadedBy, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =========== Extraction Records ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

// RecordCols is the column list ScanRecord expects.
const RecordCols = `id, workspace_id, source_document_id, template_id, patient_id, encounter_id,
	batch_id, document_type, structured_extraction, confidence_scores, auto_populated_records,
	population_errors, processing_time_ms, extraction_status, validated, validated_by,
	validated_at, validation_changes, validation_notes, rejection_reason, created_by, created_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec.StructuredExtraction)
	if err != nil {
		return fmt.Errorf("encode structured_extraction: %w", err)
	}
	scores, err := json.Marshal(rec.ConfidenceScores)
	if err != nil {
		return fmt.Errorf("encode confidence_scores: %w", err)
	}
	populated, err := json.Marshal(rec.AutoPopulatedRecords)
	if err != nil {
		return fmt.Errorf("encode auto_populated_records: %w", err)
	}
	errs := rec.PopulationErrors
	if errs == nil {
		errs = []string{}
	}

	return db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO extraction_records (id, workspace_id, source_document_id, template_id,
			patient_id, encounter_id, batch_id, document_type, structured_extraction,
			confidence_scores, auto_populated_records, population_errors, processing_time_ms,
			extraction_status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`,
		rec.ID, rec.WorkspaceID, rec.SourceDocumentID, rec.TemplateID,
		rec.PatientID, rec.EncounterID, rec.BatchID, rec.DocumentType, payload,
		scores, populated, errs, rec.ProcessingTimeMS,
		string(rec.ExtractionStatus), rec.CreatedBy).Scan(&rec.CreatedAt)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := ScanRecord(db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+RecordCols+` FROM extraction_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ScanRecord reads one row selected with RecordCols.
func ScanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                              Record
		status                           string
		payload, scores, populated, chgs []byte
	)
	err := row.Scan(&rec.ID, &rec.WorkspaceID, &rec.SourceDocumentID, &rec.TemplateID,
		&rec.PatientID, &rec.EncounterID, &rec.BatchID, &rec.DocumentType, &payload,
		&scores, &populated, &rec.PopulationErrors, &rec.ProcessingTimeMS, &status,
		&rec.Validated, &rec.ValidatedBy, &rec.ValidatedAt, &chgs, &rec.ValidationNotes,
		&rec.RejectionReason, &rec.CreatedBy, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.ExtractionStatus = Status(status)

	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"structured_extraction", payload, &rec.StructuredExtraction},
		{"confidence_scores", scores, &rec.ConfidenceScores},
		{"auto_populated_records", populated, &rec.AutoPopulatedRecords},
		{"validation_changes", chgs, &rec.ValidationChanges},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", f.name, rec.ID, err)
		}
	}
	return &rec, nil
}
