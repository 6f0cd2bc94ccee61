package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orcd/portalctl/pkg/stores"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5e8c2f10-1111-4222-8333-944444444444", "5e8c2f10"},
		{"12345678", "12345678"},
		{"abc", "abc"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// A hand-edited database row with a short id must still list cleanly.
func TestHistoryListsShortRunID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := stores.NewHistoryStore(stores.Config{Path: path})
	if err != nil {
		t.Fatalf("NewHistoryStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err = store.SaveRun(ctx, &stores.RunRecord{
		ID:          "abc",
		Target:      "local",
		Selection:   "all",
		Status:      "completed",
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		Phases:      "[]",
	})
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	cmd := newHistoryCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--history", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "abc") {
		t.Errorf("listing does not show the run: %q", out.String())
	}
}
