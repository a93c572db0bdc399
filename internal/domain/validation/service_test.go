package validation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/domain/template"
	"github.com/ehr/extraction/internal/platform/events"
)

type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*extraction.Record
	decided []Decision
}

func newMockRepo(recs ...*extraction.Record) *mockRepo {
	r := &mockRepo{records: map[uuid.UUID]*extraction.Record{}}
	for _, rec := range recs {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *mockRepo) Get(_ context.Context, id uuid.UUID) (*extraction.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, extraction.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *mockRepo) filter(ws uuid.UUID, keep func(*extraction.Record) bool, limit, offset int) ([]*extraction.Record, int) {
	var out []*extraction.Record
	for _, rec := range r.records {
		if rec.WorkspaceID == ws && keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total
}

func (r *mockRepo) Queue(_ context.Context, ws uuid.UUID, pendingOnly bool, limit, offset int) ([]*extraction.Record, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, total := r.filter(ws, func(rec *extraction.Record) bool { return !pendingOnly || !rec.Validated }, limit, offset)
	return out, total, nil
}

func (r *mockRepo) History(_ context.Context, ws uuid.UUID, limit, offset int) ([]*extraction.Record, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, total := r.filter(ws, func(rec *extraction.Record) bool { return rec.Validated }, limit, offset)
	return out, total, nil
}

func (r *mockRepo) Decide(_ context.Context, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[d.ExtractionID]
	if !ok {
		return extraction.ErrNotFound
	}
	if rec.Validated {
		return ErrAlreadyValidated
	}
	rec.Validated = true
	rec.ValidatedBy = &d.ValidatedBy
	rec.ValidatedAt = &d.ValidatedAt
	if d.Approved {
		rec.StructuredExtraction = d.StructuredExtraction
		rec.ValidationChanges = d.Changes
		rec.ValidationNotes = d.Notes
	} else {
		rec.ExtractionStatus = extraction.StatusRejected
		rec.RejectionReason = d.RejectionReason
	}
	r.decided = append(r.decided, d)
	return nil
}

func (r *mockRepo) Stats(_ context.Context, ws uuid.UUID) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Stats{AverageConfidence: map[string]float64{}}
	for _, rec := range r.records {
		if rec.WorkspaceID != ws {
			continue
		}
		s.Total++
		switch rec.ReviewState() {
		case "pending":
			s.Pending++
		case "rejected":
			s.Rejected++
		default:
			s.Approved++
		}
	}
	return s, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type stubDocs map[uuid.UUID]*extraction.SourceDocument

func (s stubDocs) GetByID(_ context.Context, id uuid.UUID) (*extraction.SourceDocument, error) {
	if d, ok := s[id]; ok {
		return d, nil
	}
	return nil, extraction.ErrDocumentNotFound
}

type stubTemplates map[uuid.UUID]*template.Template

func (s stubTemplates) Get(_ context.Context, id uuid.UUID) (*template.Template, error) {
	if t, ok := s[id]; ok {
		return t, nil
	}
	return nil, template.ErrNotFound
}

var testWorkspace = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func pendingRecord() *extraction.Record {
	return &extraction.Record{
		ID:               uuid.New(),
		WorkspaceID:      testWorkspace,
		SourceDocumentID: uuid.New(),
		StructuredExtraction: map[string]any{
			"diagnosis": "diabetes",
			"vitals":    map[string]any{"systolic": "120", "diastolic": "80"},
		},
		ConfidenceScores: map[string]float64{"diagnosis": 0.9},
		ExtractionStatus: extraction.StatusSuccess,
		CreatedAt:        time.Now().UTC(),
	}
}

func newTestService(recs ...*extraction.Record) (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo(recs...)
	pub := &recordingPublisher{}
	return NewService(repo, nil, nil, pub, zerolog.Nop()), repo, pub
}

func TestApprove_AppliesCorrections(t *testing.T) {
	rec := pendingRecord()
	svc, repo, pub := newTestService(rec)

	got, err := svc.Approve(context.Background(), ApproveRequest{
		ExtractionID: rec.ID,
		Corrections:  map[string]any{"diagnosis": "E11"},
		ValidatedBy:  "dr-lee",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StructuredExtraction["diagnosis"] != "E11" {
		t.Errorf("expected corrected diagnosis, got %v", got.StructuredExtraction["diagnosis"])
	}
	if !got.Validated || got.ReviewState() != "approved" {
		t.Errorf("expected approved record, got validated=%v state=%s", got.Validated, got.ReviewState())
	}

	stored, _ := repo.Get(context.Background(), rec.ID)
	if stored.StructuredExtraction["diagnosis"] != "E11" || !stored.Validated {
		t.Errorf("expected stored record updated, got %+v", stored.StructuredExtraction)
	}
	if stored.ValidationChanges["diagnosis"] != "E11" {
		t.Errorf("expected validation_changes to hold the corrections")
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.ValidationApproved {
		t.Errorf("expected one approved event, got %+v", pub.events)
	}
}

func TestApprove_DoesNotMutateOriginal(t *testing.T) {
	rec := pendingRecord()
	original := rec.StructuredExtraction["vitals"].(map[string]any)
	svc, _, _ := newTestService(rec)

	_, err := svc.Approve(context.Background(), ApproveRequest{
		ExtractionID: rec.ID,
		Corrections:  map[string]any{"vitals.systolic": "130"},
		ValidatedBy:  "dr-lee",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if original["systolic"] != "120" {
		t.Errorf("expected caller's nested map untouched, got %v", original["systolic"])
	}
}

func TestRejectThenApprove_Conflicts(t *testing.T) {
	rec := pendingRecord()
	svc, repo, pub := newTestService(rec)
	ctx := context.Background()

	got, err := svc.Reject(ctx, RejectRequest{ExtractionID: rec.ID, RejectionReason: "illegible scan", ValidatedBy: "dr-lee"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.ExtractionStatus != extraction.StatusRejected || !got.Validated {
		t.Errorf("expected rejected and validated, got %s %v", got.ExtractionStatus, got.Validated)
	}

	_, err = svc.Approve(ctx, ApproveRequest{ExtractionID: rec.ID, ValidatedBy: "dr-lee"})
	if !errors.Is(err, ErrAlreadyValidated) {
		t.Fatalf("expected ErrAlreadyValidated, got %v", err)
	}
	if len(repo.decided) != 1 {
		t.Errorf("expected exactly one decision recorded, got %d", len(repo.decided))
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.ValidationRejected {
		t.Errorf("expected one rejected event, got %+v", pub.events)
	}
}

func TestApprove_RaceLostReturnsConflict(t *testing.T) {
	rec := pendingRecord()
	svc, repo, _ := newTestService(rec)

	// Another reviewer decides between our read and our write.
	repo.records[rec.ID].Validated = true
	svc.repo = &staleGetRepo{mockRepo: repo, stale: pendingRecord()}

	_, err := svc.Approve(context.Background(), ApproveRequest{ExtractionID: rec.ID, ValidatedBy: "dr-lee"})
	if !errors.Is(err, ErrAlreadyValidated) {
		t.Fatalf("expected ErrAlreadyValidated, got %v", err)
	}
}

type staleGetRepo struct {
	*mockRepo
	stale *extraction.Record
}

func (r *staleGetRepo) Get(_ context.Context, id uuid.UUID) (*extraction.Record, error) {
	cp := *r.stale
	cp.ID = id
	return &cp, nil
}

func TestDecisions_Validation(t *testing.T) {
	rec := pendingRecord()
	svc, _, _ := newTestService(rec)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"approve without id", func() error {
			_, err := svc.Approve(ctx, ApproveRequest{ValidatedBy: "x"})
			return err
		}, ErrInvalidDecision},
		{"approve without reviewer", func() error {
			_, err := svc.Approve(ctx, ApproveRequest{ExtractionID: rec.ID})
			return err
		}, ErrInvalidDecision},
		{"reject without reason", func() error {
			_, err := svc.Reject(ctx, RejectRequest{ExtractionID: rec.ID, ValidatedBy: "x"})
			return err
		}, ErrInvalidDecision},
		{"reject markup-only reason", func() error {
			_, err := svc.Reject(ctx, RejectRequest{ExtractionID: rec.ID, ValidatedBy: "x", RejectionReason: "<b></b>"})
			return err
		}, ErrInvalidDecision},
		{"approve unknown record", func() error {
			_, err := svc.Approve(ctx, ApproveRequest{ExtractionID: uuid.New(), ValidatedBy: "x"})
			return err
		}, extraction.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestApprove_SanitizesNotes(t *testing.T) {
	rec := pendingRecord()
	svc, _, _ := newTestService(rec)
	notes := `checked <script>alert(1)</script><b>dose</b>`

	got, err := svc.Approve(context.Background(), ApproveRequest{ExtractionID: rec.ID, Notes: &notes, ValidatedBy: "dr-lee"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ValidationNotes == nil || *got.ValidationNotes != "checked dose" {
		t.Errorf("expected sanitized notes, got %v", got.ValidationNotes)
	}
}

func TestMergeCorrections(t *testing.T) {
	base := map[string]any{
		"diagnosis":   "diabetes",
		"a.b":         "literal",
		"vitals":      map[string]any{"systolic": "120"},
		"medications": "none",
	}
	tests := []struct {
		name  string
		corr  map[string]any
		check func(t *testing.T, out map[string]any)
	}{
		{"top-level replace", map[string]any{"diagnosis": "E11"}, func(t *testing.T, out map[string]any) {
			if out["diagnosis"] != "E11" {
				t.Errorf("got %v", out["diagnosis"])
			}
		}},
		{"dotted key present at top level", map[string]any{"a.b": "changed"}, func(t *testing.T, out map[string]any) {
			if out["a.b"] != "changed" {
				t.Errorf("got %v", out["a.b"])
			}
		}},
		{"dotted key walks nested map", map[string]any{"vitals.systolic": "130"}, func(t *testing.T, out map[string]any) {
			v := out["vitals"].(map[string]any)
			if v["systolic"] != "130" {
				t.Errorf("got %v", v["systolic"])
			}
		}},
		{"dotted key creates maps", map[string]any{"labs.hba1c.value": "7.1"}, func(t *testing.T, out map[string]any) {
			labs := out["labs"].(map[string]any)
			hba1c := labs["hba1c"].(map[string]any)
			if hba1c["value"] != "7.1" {
				t.Errorf("got %v", hba1c["value"])
			}
		}},
		{"dotted key replaces scalar", map[string]any{"medications.first": "metformin"}, func(t *testing.T, out map[string]any) {
			m, ok := out["medications"].(map[string]any)
			if !ok || m["first"] != "metformin" {
				t.Errorf("got %v", out["medications"])
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MergeCorrections(base, tt.corr)
			tt.check(t, out)
			if base["diagnosis"] != "diabetes" {
				t.Fatal("base was mutated")
			}
		})
	}
}

func TestQueue_Filters(t *testing.T) {
	pending := pendingRecord()
	done := pendingRecord()
	done.Validated = true
	other := pendingRecord()
	other.WorkspaceID = uuid.New()
	svc, _, _ := newTestService(pending, done, other)
	ctx := context.Background()

	items, total, err := svc.Queue(ctx, testWorkspace, "", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != pending.ID {
		t.Errorf("expected only the pending record, got %d", total)
	}

	_, total, _ = svc.Queue(ctx, testWorkspace, QueueAll, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 records with status=all, got %d", total)
	}

	if _, _, err := svc.Queue(ctx, testWorkspace, "approved", 10, 0); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision for unknown status, got %v", err)
	}
}

func TestDetail_IncludesDocumentAndTemplate(t *testing.T) {
	rec := pendingRecord()
	tid := uuid.New()
	rec.TemplateID = &tid
	repo := newMockRepo(rec)
	docs := stubDocs{rec.SourceDocumentID: {ID: rec.SourceDocumentID, Filename: "card.pdf"}}
	tmpls := stubTemplates{tid: {ID: tid, Name: "Immunisation card", DocumentType: "immunization_record", IsActive: true}}
	svc := NewService(repo, docs, tmpls, nil, zerolog.Nop())

	d, err := svc.Detail(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SourceDocument == nil || d.SourceDocument.Filename != "card.pdf" {
		t.Errorf("expected source document, got %+v", d.SourceDocument)
	}
	if d.Template == nil || d.Template.Name != "Immunisation card" {
		t.Errorf("expected template summary, got %+v", d.Template)
	}
	if d.ReviewState != "pending" {
		t.Errorf("expected pending, got %s", d.ReviewState)
	}
}

func TestExportHistory_Workbook(t *testing.T) {
	done := pendingRecord()
	svc, _, _ := newTestService(done)
	ctx := context.Background()
	if _, err := svc.Reject(ctx, RejectRequest{ExtractionID: done.ID, RejectionReason: "blurred", ValidatedBy: "dr-lee"}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	data, err := svc.ExportHistory(ctx, testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// XLSX is a zip container.
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Errorf("expected xlsx bytes, got %d bytes", len(data))
	}
}
