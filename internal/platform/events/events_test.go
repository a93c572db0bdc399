package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	ev := New(ValidationApproved, "acme", "ws-1", "rec-1", map[string]any{"validated_by": "dr-who"})

	if ev.ID == uuid.Nil {
		t.Error("expected event id to be set")
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected occurred_at to be set")
	}
	if ev.Type != ValidationApproved || ev.SubjectID != "rec-1" {
		t.Errorf("unexpected event: %+v", ev)
	}

	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["validated_by"] != "dr-who" {
		t.Errorf("expected validated_by dr-who, got %v", data)
	}
}

func TestNew_UnmarshalableDataDropped(t *testing.T) {
	ev := New(BatchCompleted, "", "", "b-1", map[string]any{"ch": make(chan int)})
	if ev.Data != nil {
		t.Errorf("expected nil data, got %s", ev.Data)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), New(BatchCompleted, "", "", "b-1", nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewAMQPPublisher_BadURL(t *testing.T) {
	if _, err := NewAMQPPublisher("not-a-url", "extraction.events", zerolog.Nop()); err == nil {
		t.Fatal("expected dial error")
	}
}
