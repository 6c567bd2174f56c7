package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/website"
)

func testResolver(store *mockStore) (*PreviewResolver, *Supervisor) {
	cfg := config.Defaults()
	sup := testSupervisor(store)
	return NewPreviewResolver(cfg.Preview, store, sup.ports, nil, sup), sup
}

func TestPreviewResolveStaticRunning(t *testing.T) {
	store := newMockStore()
	site := staticSite("s1", website.BuildRunning)
	site.PreviewURL = "/sites/s1/index.html"
	store.addWebsite(site, indexFiles()...)
	resolver, _ := testResolver(store)

	target, err := resolver.Resolve(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !target.Available {
		t.Fatal("expected an available target")
	}
	if target.Proxied {
		t.Fatal("static targets are not proxied")
	}
	if target.URL != "/sites/s1/index.html" {
		t.Fatalf("unexpected URL %q", target.URL)
	}
}

func TestPreviewResolveProcessRunning(t *testing.T) {
	store := newMockStore()
	site := &website.Website{
		ID:          "p1",
		ProjectType: website.TypeVite,
		BuildStatus: website.BuildRunning,
	}
	store.addWebsite(site)
	resolver, sup := testResolver(store)

	port, err := sup.ports.Acquire("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	target, err := resolver.Resolve(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !target.Available || !target.Proxied {
		t.Fatalf("expected an available proxied target, got %+v", target)
	}
	want := "http://127.0.0.1:" + strconv.Itoa(port)
	if target.URL != want {
		t.Fatalf("expected %q, got %q", want, target.URL)
	}
}

func TestPreviewResolveRunningWithoutLease(t *testing.T) {
	store := newMockStore()
	site := &website.Website{
		ID:          "p1",
		ProjectType: website.TypeVite,
		BuildStatus: website.BuildRunning,
	}
	store.addWebsite(site)
	resolver, _ := testResolver(store)

	target, err := resolver.Resolve(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Available {
		t.Fatal("expected unavailable target when the lease is gone")
	}
	if target.Status != website.BuildStopped {
		t.Fatalf("expected stopped status, got %s", target.Status)
	}
}

func TestPreviewResolveNotRunning(t *testing.T) {
	store := newMockStore()
	store.addWebsite(staticSite("s1", website.BuildBuilding), indexFiles()...)
	resolver, _ := testResolver(store)

	target, err := resolver.Resolve(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Available {
		t.Fatal("expected unavailable target while building")
	}
	if target.Status != website.BuildBuilding {
		t.Fatalf("expected building status, got %s", target.Status)
	}
}

func TestPreviewResolveNotFound(t *testing.T) {
	resolver, _ := testResolver(newMockStore())
	_, err := resolver.Resolve(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
