package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ehr/extraction/internal/config"
	"github.com/ehr/extraction/internal/platform/blobstore"
)

func TestOpenBlobStore_Memory(t *testing.T) {
	store, ping, err := openBlobStore(context.Background(), &config.Config{BlobBackend: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*blobstore.MemoryStore); !ok {
		t.Errorf("expected *blobstore.MemoryStore, got %T", store)
	}
	if ping != nil {
		t.Error("expected no health check for the memory backend")
	}
}

func TestOpenBlobStore_Unknown(t *testing.T) {
	if _, _, err := openBlobStore(context.Background(), &config.Config{BlobBackend: "ftp"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenBatchStore_DefaultsToPostgres(t *testing.T) {
	store, closeFn, ping, err := openBatchStore(context.Background(), &config.Config{BatchStore: "postgres"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if store == nil {
		t.Fatal("expected a store")
	}
	if ping != nil {
		t.Error("expected no extra health check for the postgres store")
	}
}

func TestCommands_Registered(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		subs []string
	}{
		{migrateCmd(), []string{"up", "status"}},
		{tenantCmd(), []string{"create"}},
		{templatesCmd(), []string{"import"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			for _, sub := range tt.subs {
				found, _, err := tt.cmd.Find([]string{sub})
				if err != nil || found.Name() != sub {
					t.Errorf("expected subcommand %q", sub)
				}
			}
		})
	}
}

func TestTemplatesImport_RequiresFile(t *testing.T) {
	cmd := templatesCmd()
	cmd.SetArgs([]string{"import"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --file")
	}
}
