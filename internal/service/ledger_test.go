package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/change"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/aieditor"
	"github.com/Strob0t/SiteForge/internal/portpool"
	"github.com/Strob0t/SiteForge/internal/workpool"
)

func testSupervisor(store *mockStore) *Supervisor {
	cfg := config.Defaults()
	cfg.Build.WorkspaceRoot = "" // no live processes in these tests
	return NewSupervisor(cfg.Build, cfg.Preview, store, mustPool(), &mockQueue{}, nil, workpool.New(2))
}

func mustPool() *portpool.Pool {
	p, err := portpool.New(42000, 42010)
	if err != nil {
		panic(err)
	}
	return p
}

func seedSite(store *mockStore, content string) *website.Website {
	site := &website.Website{
		ID:          "site-1",
		Name:        "demo",
		ProjectType: website.TypeStatic,
		BuildStatus: website.BuildRunning,
	}
	store.addWebsite(site, website.File{
		ID:        "f1",
		WebsiteID: site.ID,
		Name:      "index.html",
		Content:   content,
	})
	return site
}

func scored(content, description string, confidence float64) *aieditor.Result {
	return &aieditor.Result{
		Content:     content,
		Description: description,
		Confidence:  confidence,
		Scored:      true,
	}
}

func TestLedgerEditApplies(t *testing.T) {
	store := newMockStore()
	seedSite(store, "<h1>old</h1>")
	queue := &mockQueue{}
	provider := &mockProvider{result: scored("<h1>new</h1>", "changed heading", 0.9)}

	ledger := NewLedger(store, provider, queue, nil, testSupervisor(store), time.Second, 0.5)

	entry, err := ledger.Edit(context.Background(), "site-1", "index.html", "change the heading")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != change.StatusApplied {
		t.Fatalf("expected applied, got %s", entry.Status)
	}
	// The entry keeps the ID the ledger generated; the store must not mint
	// its own.
	if _, err := uuid.Parse(entry.ID); err != nil {
		t.Fatalf("entry ID %q is not a ledger-generated UUID: %v", entry.ID, err)
	}
	if entry.ModifiedContent != "<h1>new</h1>" {
		t.Fatalf("unexpected content %q", entry.ModifiedContent)
	}

	file, err := store.GetFile(context.Background(), "site-1", "index.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Content != "<h1>new</h1>" {
		t.Fatalf("file content not updated, got %q", file.Content)
	}

	var mod change.Modification
	if err := json.Unmarshal(entry.Modification, &mod); err != nil {
		t.Fatalf("modification not valid JSON: %v", err)
	}
	if mod.CharsAdded == 0 {
		t.Fatal("expected a non-empty diff")
	}

	subjects := queue.subjects()
	if len(subjects) == 0 || subjects[len(subjects)-1] != "edits.applied" {
		t.Fatalf("expected edits.applied publish, got %v", subjects)
	}
}

func TestLedgerEditRejectsLowConfidence(t *testing.T) {
	store := newMockStore()
	seedSite(store, "<h1>old</h1>")
	provider := &mockProvider{result: scored("<h1>sketchy</h1>", "maybe", 0.2)}

	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	_, err := ledger.Edit(context.Background(), "site-1", "index.html", "do something")
	if !errors.Is(err, domain.ErrEditRejected) {
		t.Fatalf("expected ErrEditRejected, got %v", err)
	}

	// A rejected edit must leave both the file and the history untouched.
	file, _ := store.GetFile(context.Background(), "site-1", "index.html")
	if file.Content != "<h1>old</h1>" {
		t.Fatalf("file mutated by rejected edit: %q", file.Content)
	}
	entries, _ := ledger.History(context.Background(), "site-1")
	if len(entries) != 0 {
		t.Fatalf("rejected edit recorded in history: %d entries", len(entries))
	}
}

func TestLedgerEditMalformedResponseRejected(t *testing.T) {
	store := newMockStore()
	seedSite(store, "<h1>old</h1>")
	provider := &mockProvider{err: fmt.Errorf("malformed edit payload: %w", domain.ErrEditRejected)}

	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	_, err := ledger.Edit(context.Background(), "site-1", "index.html", "p")
	if !errors.Is(err, domain.ErrEditRejected) {
		t.Fatalf("expected ErrEditRejected, got %v", err)
	}

	file, _ := store.GetFile(context.Background(), "site-1", "index.html")
	if file.Content != "<h1>old</h1>" {
		t.Fatalf("file mutated by malformed edit: %q", file.Content)
	}
	entries, _ := ledger.History(context.Background(), "site-1")
	if len(entries) != 0 {
		t.Fatalf("malformed edit recorded in history: %d entries", len(entries))
	}
}

func TestLedgerEditUnscoredResultPassesThreshold(t *testing.T) {
	store := newMockStore()
	seedSite(store, "a")
	provider := &mockProvider{result: &aieditor.Result{Content: "b", Description: "edit"}}

	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.9)

	entry, err := ledger.Edit(context.Background(), "site-1", "index.html", "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Confidence != nil {
		t.Fatal("expected no confidence on unscored result")
	}
}

func TestLedgerEditTimeout(t *testing.T) {
	store := newMockStore()
	seedSite(store, "a")
	provider := &mockProvider{
		result: scored("b", "slow", 0.9),
		delay:  200 * time.Millisecond,
	}

	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), 20*time.Millisecond, 0.5)

	_, err := ledger.Edit(context.Background(), "site-1", "index.html", "p")
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestLedgerEditFileNotFound(t *testing.T) {
	store := newMockStore()
	seedSite(store, "a")
	ledger := NewLedger(store, &mockProvider{}, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	_, err := ledger.Edit(context.Background(), "site-1", "missing.html", "p")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerRevertRestoresOriginal(t *testing.T) {
	store := newMockStore()
	seedSite(store, "<h1>original</h1>")
	provider := &mockProvider{result: scored("<h1>edited</h1>", "edit", 0.9)}
	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	entry, err := ledger.Edit(context.Background(), "site-1", "index.html", "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reverted, err := ledger.Revert(context.Background(), "site-1", entry.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reverted.Status != change.StatusReverted {
		t.Fatalf("expected reverted, got %s", reverted.Status)
	}

	file, _ := store.GetFile(context.Background(), "site-1", "index.html")
	if file.Content != "<h1>original</h1>" {
		t.Fatalf("expected original content restored, got %q", file.Content)
	}
}

func TestLedgerRevertRestoresPriorEdit(t *testing.T) {
	store := newMockStore()
	seedSite(store, "v0")
	provider := &mockProvider{result: scored("v1", "first", 0.9)}
	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	first, err := ledger.Edit(context.Background(), "site-1", "index.html", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Entries are ordered by creation time; make sure the second is newer.
	store.mu.Lock()
	for i := range store.changes {
		if store.changes[i].ID == first.ID {
			store.changes[i].CreatedAt = store.changes[i].CreatedAt.Add(-time.Second)
		}
	}
	store.mu.Unlock()

	provider.result = scored("v2", "second", 0.9)
	second, err := ledger.Edit(context.Background(), "site-1", "index.html", "p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ledger.Revert(context.Background(), "site-1", second.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file, _ := store.GetFile(context.Background(), "site-1", "index.html")
	if file.Content != "v1" {
		t.Fatalf("expected prior edit content restored, got %q", file.Content)
	}
}

func TestLedgerRevertRejectsNonLatest(t *testing.T) {
	store := newMockStore()
	seedSite(store, "v0")
	provider := &mockProvider{result: scored("v1", "first", 0.9)}
	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	first, err := ledger.Edit(context.Background(), "site-1", "index.html", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.mu.Lock()
	for i := range store.changes {
		if store.changes[i].ID == first.ID {
			store.changes[i].CreatedAt = store.changes[i].CreatedAt.Add(-time.Second)
		}
	}
	store.mu.Unlock()

	provider.result = scored("v2", "second", 0.9)
	if _, err := ledger.Edit(context.Background(), "site-1", "index.html", "p2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = ledger.Revert(context.Background(), "site-1", first.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for non-latest revert, got %v", err)
	}

	file, _ := store.GetFile(context.Background(), "site-1", "index.html")
	if file.Content != "v2" {
		t.Fatalf("rejected revert mutated the file: %q", file.Content)
	}
}

func TestLedgerRevertAlreadyReverted(t *testing.T) {
	store := newMockStore()
	seedSite(store, "v0")
	provider := &mockProvider{result: scored("v1", "edit", 0.9)}
	ledger := NewLedger(store, provider, &mockQueue{}, nil, testSupervisor(store), time.Second, 0.5)

	entry, err := ledger.Edit(context.Background(), "site-1", "index.html", "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ledger.Revert(context.Background(), "site-1", entry.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = ledger.Revert(context.Background(), "site-1", entry.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on double revert, got %v", err)
	}
}
