// Package events publishes domain notifications (record created, batch
// completed, review decisions) to interested consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ExtractionRecordCreated = "extraction.record.created"
	BatchCompleted          = "extraction.batch.completed"
	ValidationApproved      = "validation.approved"
	ValidationRejected      = "validation.rejected"
)

type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	TenantID    string          `json:"tenant_id,omitempty"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	SubjectID   string          `json:"subject_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// New stamps id and time and marshals data. Unmarshalable data is dropped.
func New(eventType, tenantID, workspaceID, subjectID string, data any) Event {
	ev := Event{
		ID:          uuid.New(),
		Type:        eventType,
		TenantID:    tenantID,
		WorkspaceID: workspaceID,
		SubjectID:   subjectID,
		OccurredAt:  time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
