package guardfile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestAuditStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenAuditStore(path)
	if err != nil {
		t.Fatalf("OpenAuditStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	reports := []*FileReport{
		{Name: "a.txt", Digest: "d1", MediaType: "text/plain", Decision: &Decision{Outcome: OutcomeAllow}},
		{Name: "b.zip", Digest: "d2", MediaType: "application/zip", Severity: "critical",
			Decision: &Decision{Outcome: OutcomeDeny, RuleID: "deny-traversal"}},
		{Name: "gone.bin", Error: "unreadable"},
	}
	for _, r := range reports {
		if err := store.Record(ctx, "run-1", r); err != nil {
			t.Fatalf("Record(%s) error = %v", r.Name, err)
		}
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2: undecided reports are skipped", len(entries))
	}

	// Newest first.
	if entries[0].Name != "b.zip" || entries[1].Name != "a.txt" {
		t.Errorf("order = %s, %s, want b.zip then a.txt", entries[0].Name, entries[1].Name)
	}

	e := entries[0]
	if e.RunID != "run-1" || e.Digest != "d2" || e.Outcome != "deny" ||
		e.RuleID != "deny-traversal" || e.Severity != "critical" {
		t.Errorf("entry = %+v", e)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt zero")
	}
}

func TestAuditStoreLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenAuditStore(path)
	if err != nil {
		t.Fatalf("OpenAuditStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r := decidedReport(fmt.Sprintf("f%d", i), OutcomeAllow, 1, "text/plain")
		if err := store.Record(ctx, "run-1", r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want the limit of 3", len(entries))
	}
	if entries[0].Name != "f4" {
		t.Errorf("newest entry = %s, want f4", entries[0].Name)
	}
}

func TestAuditStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	store, err := OpenAuditStore(path)
	if err != nil {
		t.Fatalf("OpenAuditStore() error = %v", err)
	}
	if err := store.Record(ctx, "run-1", decidedReport("a.txt", OutcomeAllow, 1, "text/plain")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenAuditStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Errorf("entries = %+v, want the one recorded before reopening", entries)
	}
}

func TestAuditStoreNilSafe(t *testing.T) {
	var store *AuditStore

	if err := store.Record(context.Background(), "run", decidedReport("a", OutcomeAllow, 1, "text/plain")); err != nil {
		t.Errorf("nil store Record error = %v, want nil", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("nil store Close error = %v, want nil", err)
	}
	if _, err := store.Recent(context.Background(), 5); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("nil store Recent error = %v, want ErrStoreClosed", err)
	}
}

func TestAuditStoreRecordAfterClose(t *testing.T) {
	store, err := OpenAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditStore() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = store.Record(context.Background(), "run", decidedReport("a", OutcomeAllow, 1, "text/plain"))
	if !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Record() after Close error = %v, want ErrStoreClosed", err)
	}
}
