package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/domain/population"
	"github.com/ehr/extraction/internal/domain/template"
	"github.com/ehr/extraction/internal/platform/blobstore"
	"github.com/ehr/extraction/internal/platform/events"
	"github.com/ehr/extraction/internal/platform/extractor"
)

// -- fakes --

type memDocs struct {
	mu    sync.Mutex
	store map[uuid.UUID]*SourceDocument
}

func (m *memDocs) Create(_ context.Context, d *SourceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	m.store[d.ID] = d
	return nil
}

func (m *memDocs) GetByID(_ context.Context, id uuid.UUID) (*SourceDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return d, nil
}

type memRecords struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Record
	err   error
}

func (m *memRecords) Create(_ context.Context, r *Record) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = time.Now()
	m.store[r.ID] = r
	return nil
}

func (m *memRecords) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

type stubExtractor struct {
	result *extractor.Result
	err    error
}

func (s *stubExtractor) Extract(context.Context, extractor.Document) (*extractor.Result, error) {
	return s.result, s.err
}

type stubSelector struct {
	tmpl *template.Template
	err  error
}

func (s *stubSelector) Select(context.Context, uuid.UUID, *uuid.UUID, string) (*template.Template, error) {
	return s.tmpl, s.err
}

type recordingWriter struct {
	rows    []population.Owner
	values  []map[string]any
	tables  []string
	failFor string
}

func (w *recordingWriter) Populate(_ context.Context, table string, record map[string]any, owner population.Owner) (uuid.UUID, error) {
	w.tables = append(w.tables, table)
	w.values = append(w.values, record)
	w.rows = append(w.rows, owner)
	if table == w.failFor {
		return uuid.Nil, errors.New("constraint violation")
	}
	return uuid.New(), nil
}

type capturePublisher struct{ events []events.Event }

func (c *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type fixture struct {
	proc    *Processor
	docs    *memDocs
	records *memRecords
	blobs   *blobstore.MemoryStore
	ext     *stubExtractor
	sel     *stubSelector
	writer  *recordingWriter
	pub     *capturePublisher
}

func immunisationTemplate() *template.Template {
	return &template.Template{
		ID:           uuid.New(),
		Name:         "Immunisation card",
		DocumentType: "immunization_record",
		IsActive:     true,
		FieldMappings: []mapping.FieldMapping{
			{SourceSection: "immunisation_history", SourceField: "vaccine", TargetTable: "immunizations", TargetField: "vaccine_name", FieldType: mapping.FieldText},
			{SourceSection: "diagnoses", SourceField: "name", TargetTable: "conditions", TargetField: "condition_name", FieldType: mapping.FieldText},
		},
	}
}

func newFixture() *fixture {
	f := &fixture{
		docs:    &memDocs{store: map[uuid.UUID]*SourceDocument{}},
		records: &memRecords{store: map[uuid.UUID]*Record{}},
		blobs:   blobstore.NewMemoryStore(),
		ext: &stubExtractor{result: &extractor.Result{
			DocumentType: "immunization_record",
			StructuredExtraction: map[string]any{
				"immunisation_history": []any{
					map[string]any{"vaccine": "BCG"},
					map[string]any{"vaccine": "Polio"},
				},
				"diagnoses": map[string]any{"name": "Hypertension"},
			},
			ConfidenceScores: map[string]float64{"immunisation_history": 0.92},
		}},
		sel:    &stubSelector{tmpl: immunisationTemplate()},
		writer: &recordingWriter{},
		pub:    &capturePublisher{},
	}
	f.proc = NewProcessor(f.docs, f.records, f.blobs, f.ext, f.sel,
		mapping.NewEngine(nil), f.writer, f.pub, zerolog.Nop())
	return f
}

func baseRequest() ProcessRequest {
	patient := uuid.New()
	return ProcessRequest{
		WorkspaceID: uuid.New(),
		UploadedBy:  "nurse-1",
		PatientID:   &patient,
		Filename:    "card.txt",
		ContentType: "text/plain",
		Data:        []byte("scanned immunisation card"),
	}
}

// -- tests --

func TestProcessor_Process_PopulatesEveryListItem(t *testing.T) {
	f := newFixture()
	req := baseRequest()

	out, err := f.proc.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := out.Record
	if rec.ExtractionStatus != StatusSuccess {
		t.Errorf("expected success, got %s (errors %v)", rec.ExtractionStatus, rec.PopulationErrors)
	}
	if got := len(rec.AutoPopulatedRecords["immunizations"]); got != 2 {
		t.Errorf("expected 2 immunizations, got %d", got)
	}
	if got := len(rec.AutoPopulatedRecords["conditions"]); got != 1 {
		t.Errorf("expected 1 condition, got %d", got)
	}
	if rec.Validated {
		t.Error("new records start unvalidated")
	}
	if rec.TemplateID == nil {
		t.Error("expected template id recorded")
	}

	var vaccines []string
	for i, table := range f.writer.tables {
		if table == "immunizations" {
			vaccines = append(vaccines, f.writer.values[i]["vaccine_name"].(string))
		}
		if f.writer.rows[i].PatientID != *req.PatientID || f.writer.rows[i].ExtractionID != rec.ID {
			t.Errorf("row %d has wrong owner %+v", i, f.writer.rows[i])
		}
	}
	if strings.Join(vaccines, ",") != "BCG,Polio" {
		t.Errorf("expected BCG,Polio in order, got %v", vaccines)
	}

	if f.blobs.Len() != 1 {
		t.Errorf("expected the document in blob storage")
	}
	if out.Document.SHA256 == "" || !strings.HasSuffix(out.Document.StorageKey, "/card.txt") {
		t.Errorf("unexpected document %+v", out.Document)
	}
	if out.Document.PageCount != nil {
		t.Error("page count only applies to PDFs")
	}
	if _, err := f.records.GetByID(context.Background(), rec.ID); err != nil {
		t.Errorf("record not stored: %v", err)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != events.ExtractionRecordCreated {
		t.Errorf("expected one record-created event, got %v", f.pub.events)
	}
}

func TestProcessor_Process_WriteFailureIsPartial(t *testing.T) {
	f := newFixture()
	f.writer.failFor = "conditions"

	out, err := f.proc.Process(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := out.Record
	if rec.ExtractionStatus != StatusSuccess {
		t.Errorf("partial population is still a success, got %s", rec.ExtractionStatus)
	}
	if len(rec.AutoPopulatedRecords["immunizations"]) != 2 {
		t.Error("sibling rows must still be written")
	}
	if len(rec.PopulationErrors) != 1 || !strings.HasPrefix(rec.PopulationErrors[0], "conditions[0]: write failed") {
		t.Errorf("unexpected errors %v", rec.PopulationErrors)
	}
}

func TestProcessor_Process_AllWritesFailMarksFailed(t *testing.T) {
	f := newFixture()
	f.sel.tmpl.FieldMappings = f.sel.tmpl.FieldMappings[1:]
	f.writer.failFor = "conditions"

	out, err := f.proc.Process(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Record.ExtractionStatus != StatusFailed {
		t.Errorf("expected failed, got %s", out.Record.ExtractionStatus)
	}
}

func TestProcessor_Process_NoPatientSkipsPopulation(t *testing.T) {
	f := newFixture()
	req := baseRequest()
	req.PatientID = nil

	out, err := f.proc.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.writer.tables) != 0 {
		t.Errorf("nothing should be written without a patient, got %v", f.writer.tables)
	}
	if out.Record.ExtractionStatus != StatusFailed {
		t.Errorf("expected failed, got %s", out.Record.ExtractionStatus)
	}
	if len(out.Record.PopulationErrors) != 1 || !strings.Contains(out.Record.PopulationErrors[0], "patient_id") {
		t.Errorf("unexpected errors %v", out.Record.PopulationErrors)
	}
}

func TestProcessor_Process_NoTemplate(t *testing.T) {
	f := newFixture()
	f.sel.tmpl = nil
	f.sel.err = template.ErrNoDefault

	out, err := f.proc.Process(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Record.TemplateID != nil || out.Record.ExtractionStatus != StatusFailed {
		t.Errorf("unexpected record %+v", out.Record)
	}
	if !strings.HasPrefix(out.Record.PopulationErrors[0], "template:") {
		t.Errorf("unexpected errors %v", out.Record.PopulationErrors)
	}
}

func TestProcessor_Process_StructuralFailures(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		f := newFixture()
		req := baseRequest()
		req.Data = nil
		if _, err := f.proc.Process(context.Background(), req); !errors.Is(err, extractor.ErrEmptyDocument) {
			t.Errorf("expected ErrEmptyDocument, got %v", err)
		}
	})

	t.Run("extractor down", func(t *testing.T) {
		f := newFixture()
		f.ext.err = errors.New("connection refused")
		_, err := f.proc.Process(context.Background(), baseRequest())
		if !errors.Is(err, ErrExtractionFailed) {
			t.Errorf("expected ErrExtractionFailed, got %v", err)
		}
		if len(f.records.store) != 0 {
			t.Error("no record should be written when extraction fails")
		}
	})

	t.Run("history insert fails", func(t *testing.T) {
		f := newFixture()
		f.records.err = errors.New("disk full")
		if _, err := f.proc.Process(context.Background(), baseRequest()); err == nil {
			t.Error("expected error")
		}
		if len(f.pub.events) != 0 {
			t.Error("no event without a record")
		}
	})
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"card.pdf":                "card.pdf",
		"../../etc/passwd":        "passwd",
		`C:\scans\lab result.pdf`: "lab_result.pdf",
		"":                        "document",
		"...pdf":                  "_.pdf",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectContentType(t *testing.T) {
	if got := detectContentType("application/pdf", nil); got != "application/pdf" {
		t.Errorf("declared type should win, got %s", got)
	}
	if got := detectContentType("application/octet-stream", []byte("%PDF-1.7\n")); got != "application/pdf" {
		t.Errorf("expected sniffed pdf, got %s", got)
	}
}
