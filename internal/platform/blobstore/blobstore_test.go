package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "ws-1/doc.pdf", strings.NewReader("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, "ws-1/doc.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "%PDF-1.4" {
		t.Errorf("expected stored content, got %q", data)
	}

	if err := store.Delete(ctx, "ws-1/doc.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "ws-1/doc.pdf"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "ws-1/doc.pdf"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_KeyValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tests := []struct {
		key  string
		want error
	}{
		{"", ErrEmptyKey},
		{"ws/../etc/passwd", ErrInvalidKey},
	}
	for _, tt := range tests {
		if err := store.Put(ctx, tt.key, strings.NewReader("x"), "text/plain"); !errors.Is(err, tt.want) {
			t.Errorf("Put(%q): expected %v, got %v", tt.key, tt.want, err)
		}
		if _, err := store.Get(ctx, tt.key); !errors.Is(err, tt.want) {
			t.Errorf("Get(%q): expected %v, got %v", tt.key, tt.want, err)
		}
	}
}

func TestMemoryStore_ConcurrentPuts(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "ws/" + strings.Repeat("k", i+1)
			if err := store.Put(context.Background(), key, strings.NewReader("data"), "text/plain"); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if store.Len() != 50 {
		t.Errorf("expected 50 blobs, got %d", store.Len())
	}
}
