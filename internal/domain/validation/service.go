package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/domain/template"
	"github.com/ehr/extraction/internal/platform/db"
	"github.com/ehr/extraction/internal/platform/events"
)

var ErrInvalidDecision = errors.New("invalid review decision")

type DocumentGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*extraction.SourceDocument, error)
}

type TemplateGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
}

type Service struct {
	repo      Repository
	docs      DocumentGetter
	templates TemplateGetter
	publisher events.Publisher
	logger    zerolog.Logger
	policy    *bluemonday.Policy
	now       func() time.Time
}

func NewService(repo Repository, docs DocumentGetter, templates TemplateGetter, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:      repo,
		docs:      docs,
		templates: templates,
		publisher: publisher,
		logger:    logger.With().Str("component", "validation").Logger(),
		policy:    bluemonday.StrictPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Queue(ctx context.Context, workspaceID uuid.UUID, status string, limit, offset int) ([]*extraction.Record, int, error) {
	switch status {
	case "", QueuePending:
		return s.repo.Queue(ctx, workspaceID, true, limit, offset)
	case QueueAll:
		return s.repo.Queue(ctx, workspaceID, false, limit, offset)
	}
	return nil, 0, fmt.Errorf("%w: status must be %q or %q", ErrInvalidDecision, QueuePending, QueueAll)
}

func (s *Service) History(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*extraction.Record, int, error) {
	return s.repo.History(ctx, workspaceID, limit, offset)
}

func (s *Service) Stats(ctx context.Context, workspaceID uuid.UUID) (*Stats, error) {
	return s.repo.Stats(ctx, workspaceID)
}

// Detail loads a record together with its source document and template.
// Missing side lookups are logged and left empty.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Record: rec, ReviewState: rec.ReviewState()}

	if s.docs != nil {
		doc, err := s.docs.GetByID(ctx, rec.SourceDocumentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", id.String()).Msg("source document lookup failed")
		} else {
			d.SourceDocument = doc
		}
	}
	if s.templates != nil && rec.TemplateID != nil {
		t, err := s.templates.Get(ctx, *rec.TemplateID)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", id.String()).Msg("template lookup failed")
		} else {
			d.Template = &TemplateSummary{ID: t.ID, Name: t.Name, DocumentType: t.DocumentType, IsActive: t.IsActive}
		}
	}
	return d, nil
}

func (s *Service) sanitize(v string) string {
	return strings.TrimSpace(s.policy.Sanitize(v))
}

// Approve merges corrections into the structured extraction and marks the
// record validated. Population is not re-run.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*extraction.Record, error) {
	if req.ExtractionID == uuid.Nil {
		return nil, fmt.Errorf("%w: extraction_id is required", ErrInvalidDecision)
	}
	reviewer := s.sanitize(req.ValidatedBy)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: validated_by is required", ErrInvalidDecision)
	}

	rec, err := s.repo.Get(ctx, req.ExtractionID)
	if err != nil {
		return nil, err
	}
	if rec.Validated {
		return nil, ErrAlreadyValidated
	}

	merged := MergeCorrections(rec.StructuredExtraction, req.Corrections)
	var notes *string
	if req.Notes != nil {
		n := s.sanitize(*req.Notes)
		notes = &n
	}

	d := Decision{
		ExtractionID:         rec.ID,
		Approved:             true,
		StructuredExtraction: merged,
		Changes:              req.Corrections,
		Notes:                notes,
		ValidatedBy:          reviewer,
		ValidatedAt:          s.now(),
	}
	if err := s.repo.Decide(ctx, d); err != nil {
		return nil, err
	}

	rec.StructuredExtraction = merged
	rec.Validated = true
	rec.ValidatedBy = &reviewer
	rec.ValidatedAt = &d.ValidatedAt
	if len(req.Corrections) > 0 {
		rec.ValidationChanges = req.Corrections
	}
	rec.ValidationNotes = notes

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("validated_by", reviewer).
		Int("corrections", len(req.Corrections)).
		Msg("extraction approved")
	s.publish(ctx, events.ValidationApproved, rec)
	return rec, nil
}

func (s *Service) Reject(ctx context.Context, req RejectRequest) (*extraction.Record, error) {
	if req.ExtractionID == uuid.Nil {
		return nil, fmt.Errorf("%w: extraction_id is required", ErrInvalidDecision)
	}
	reviewer := s.sanitize(req.ValidatedBy)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: validated_by is required", ErrInvalidDecision)
	}
	reason := s.sanitize(req.RejectionReason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection_reason is required", ErrInvalidDecision)
	}

	rec, err := s.repo.Get(ctx, req.ExtractionID)
	if err != nil {
		return nil, err
	}
	if rec.Validated {
		return nil, ErrAlreadyValidated
	}

	d := Decision{
		ExtractionID:    rec.ID,
		RejectionReason: &reason,
		ValidatedBy:     reviewer,
		ValidatedAt:     s.now(),
	}
	if err := s.repo.Decide(ctx, d); err != nil {
		return nil, err
	}

	rec.Validated = true
	rec.ExtractionStatus = extraction.StatusRejected
	rec.RejectionReason = &reason
	rec.ValidatedBy = &reviewer
	rec.ValidatedAt = &d.ValidatedAt

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("validated_by", reviewer).
		Msg("extraction rejected")
	s.publish(ctx, events.ValidationRejected, rec)
	return rec, nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec *extraction.Record) {
	ev := events.New(eventType, db.TenantFromContext(ctx), rec.WorkspaceID.String(), rec.ID.String(), map[string]any{
		"validated_by":      rec.ValidatedBy,
		"extraction_status": rec.ExtractionStatus,
	})
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

// MergeCorrections returns a copy of base with corrections applied. Keys
// that already exist at the top level, or contain no dot, replace the
// top-level value. Dotted keys walk nested maps, creating them as needed
// and replacing non-map values on the way.
func MergeCorrections(base, corrections map[string]any) map[string]any {
	out := deepCopy(base)
	for key, val := range corrections {
		if _, top := out[key]; top || !strings.Contains(key, ".") {
			out[key] = val
			continue
		}
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = val
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
