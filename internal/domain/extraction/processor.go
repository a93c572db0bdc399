package extraction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/domain/population"
	"github.com/ehr/extraction/internal/domain/template"
	"github.com/ehr/extraction/internal/platform/blobstore"
	"github.com/ehr/extraction/internal/platform/db"
	"github.com/ehr/extraction/internal/platform/events"
	"github.com/ehr/extraction/internal/platform/extractor"
)

type TemplateSelector interface {
	Select(ctx context.Context, workspaceID uuid.UUID, templateID *uuid.UUID, documentType string) (*template.Template, error)
}

type RowWriter interface {
	Populate(ctx context.Context, table string, record map[string]any, owner population.Owner) (uuid.UUID, error)
}

// ProcessRequest is one document to run through the pipeline.
type ProcessRequest struct {
	WorkspaceID  uuid.UUID
	UploadedBy   string
	PatientID    *uuid.UUID
	EncounterID  *uuid.UUID
	TemplateID   *uuid.UUID
	BatchID      *uuid.UUID
	DocumentType string
	Filename     string
	ContentType  string
	Data         []byte
}

type Outcome struct {
	Document *SourceDocument `json:"document"`
	Record   *Record         `json:"record"`
}

// Processor runs a single document from upload to history entry.
type Processor struct {
	docs      DocumentRepository
	records   RecordRepository
	blobs     blobstore.Store
	extractor extractor.Extractor
	templates TemplateSelector
	engine    *mapping.Engine
	writer    RowWriter
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(
	docs DocumentRepository,
	records RecordRepository,
	blobs blobstore.Store,
	ext extractor.Extractor,
	templates TemplateSelector,
	engine *mapping.Engine,
	writer RowWriter,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		docs:      docs,
		records:   records,
		blobs:     blobs,
		extractor: ext,
		templates: templates,
		engine:    engine,
		writer:    writer,
		publisher: publisher,
		logger:    logger.With().Str("component", "processor").Logger(),
		now:       time.Now,
	}
}

// Process stores, extracts, maps and populates one document and appends
// its history record. Only failures that leave nothing to record (storage,
// extraction, history insert) are returned; mapping and write problems end
// up in the record's population_errors.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (*Outcome, error) {
	if len(req.Data) == 0 {
		return nil, extractor.ErrEmptyDocument
	}
	start := p.now()

	doc, err := p.storeDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := p.extractor.Extract(ctx, extractor.Document{
		Filename:     req.Filename,
		ContentType:  doc.ContentType,
		Data:         req.Data,
		DocumentType: req.DocumentType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, req.Filename, err)
	}

	docType := result.DocumentType
	if docType == "" {
		docType = req.DocumentType
	}

	rec := &Record{
		ID:                   uuid.New(),
		WorkspaceID:          req.WorkspaceID,
		SourceDocumentID:     doc.ID,
		PatientID:            req.PatientID,
		EncounterID:          req.EncounterID,
		BatchID:              req.BatchID,
		DocumentType:         docType,
		StructuredExtraction: result.StructuredExtraction,
		ConfidenceScores:     result.ConfidenceScores,
		AutoPopulatedRecords: map[string][]uuid.UUID{},
		PopulationErrors:     []string{},
		CreatedBy:            req.UploadedBy,
	}
	if rec.StructuredExtraction == nil {
		rec.StructuredExtraction = map[string]any{}
	}

	p.populate(ctx, req, rec)

	rec.ExtractionStatus = StatusFailed
	if populatedCount(rec) > 0 || len(rec.PopulationErrors) == 0 {
		rec.ExtractionStatus = StatusSuccess
	}
	rec.ProcessingTimeMS = p.now().Sub(start).Milliseconds()

	if err := p.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create extraction record: %w", err)
	}

	p.logger.Info().
		Str("extraction_id", rec.ID.String()).
		Str("document_id", doc.ID.String()).
		Str("status", string(rec.ExtractionStatus)).
		Int("populated", populatedCount(rec)).
		Int("errors", len(rec.PopulationErrors)).
		Int64("processing_time_ms", rec.ProcessingTimeMS).
		Msg("document processed")

	ev := events.New(events.ExtractionRecordCreated, db.TenantFromContext(ctx), rec.WorkspaceID.String(), rec.ID.String(),
		map[string]any{"status": rec.ExtractionStatus, "document_id": doc.ID, "batch_id": rec.BatchID})
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.Warn().Err(err).Str("extraction_id", rec.ID.String()).Msg("publish event failed")
	}

	return &Outcome{Document: doc, Record: rec}, nil
}

func (p *Processor) storeDocument(ctx context.Context, req ProcessRequest) (*SourceDocument, error) {
	sum := sha256.Sum256(req.Data)
	doc := &SourceDocument{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		PatientID:   req.PatientID,
		Filename:    req.Filename,
		ContentType: detectContentType(req.ContentType, req.Data),
		SizeBytes:   int64(len(req.Data)),
		SHA256:      hex.EncodeToString(sum[:]),
		UploadedBy:  req.UploadedBy,
	}
	doc.StorageKey = fmt.Sprintf("%s/%s/%s", req.WorkspaceID, doc.ID, safeName(req.Filename))
	doc.PageCount = p.pageCount(req.Data, doc.ContentType)

	if err := p.blobs.Put(ctx, doc.StorageKey, bytes.NewReader(req.Data), doc.ContentType); err != nil {
		return nil, fmt.Errorf("store %s: %w", req.Filename, err)
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("register source document: %w", err)
	}
	return doc, nil
}

// populate selects the template, maps the payload and writes every row.
// Nothing is written without a patient; the mapping problems are still
// recorded.
func (p *Processor) populate(ctx context.Context, req ProcessRequest, rec *Record) {
	tmpl, err := p.templates.Select(ctx, req.WorkspaceID, req.TemplateID, rec.DocumentType)
	if err != nil {
		rec.PopulationErrors = append(rec.PopulationErrors, fmt.Sprintf("template: %v", err))
		return
	}
	rec.TemplateID = &tmpl.ID

	res := p.engine.Apply(tmpl.FieldMappings, rec.StructuredExtraction)
	rec.PopulationErrors = append(rec.PopulationErrors, res.Errors...)

	if req.PatientID == nil {
		if len(res.Rows) > 0 {
			rec.PopulationErrors = append(rec.PopulationErrors,
				fmt.Sprintf("population skipped: patient_id is required (%d rows)", len(res.Rows)))
		}
		return
	}

	owner := population.Owner{
		WorkspaceID:  req.WorkspaceID,
		CreatedBy:    req.UploadedBy,
		PatientID:    *req.PatientID,
		EncounterID:  req.EncounterID,
		ExtractionID: rec.ID,
	}
	counts := map[string]int{}
	for _, row := range res.Rows {
		i := counts[row.Table]
		counts[row.Table]++
		id, err := p.writer.Populate(ctx, row.Table, row.Values, owner)
		if err != nil {
			rec.PopulationErrors = append(rec.PopulationErrors, fmt.Sprintf("%s[%d]: write failed: %v", row.Table, i, err))
			continue
		}
		rec.AutoPopulatedRecords[row.Table] = append(rec.AutoPopulatedRecords[row.Table], id)
	}
}

func populatedCount(rec *Record) int {
	n := 0
	for _, ids := range rec.AutoPopulatedRecords {
		n += len(ids)
	}
	return n
}

func (p *Processor) pageCount(data []byte, contentType string) *int {
	if contentType != "application/pdf" {
		return nil
	}
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read PDF page count")
		return nil
	}
	return &n
}

func detectContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// safeName keeps the base name and replaces anything outside a
// conservative character set.
func safeName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "document"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ReplaceAll(b.String(), "..", "_")
}
