package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/SiteForge/internal/adapter/ws"
	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/broadcast"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
)

// BuildStatusView is the composite answer to a build-status query.
type BuildStatusView struct {
	WebsiteID   string              `json:"website_id"`
	Status      website.BuildStatus `json:"status"`
	Preview     *PreviewTarget      `json:"preview,omitempty"`
	Output      []string            `json:"output,omitempty"`
	DurationMs  int64               `json:"duration_ms,omitempty"`
	LastBuiltAt *time.Time          `json:"last_built_at,omitempty"`
}

// Export is a snapshot of a website's current file set, handed to the
// external packaging collaborator.
type Export struct {
	WebsiteID   string               `json:"website_id"`
	Name        string               `json:"name"`
	ProjectType website.ProjectType  `json:"project_type"`
	ExportedAt  time.Time            `json:"exported_at"`
	Files       []website.FileUpload `json:"files"`
}

// Orchestrator is the public facade over the supervisor, the preview
// resolver, the ledger and the website service. It serializes lifecycle
// operations per website: a second start, stop, restart or delete for the
// same site while one is in flight is rejected with a conflict instead of
// queued, so callers always see a fresh answer.
type Orchestrator struct {
	cfg        config.Build
	store      database.Store
	supervisor *Supervisor
	resolver   *PreviewResolver
	websites   *WebsiteService
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator creates the facade.
func NewOrchestrator(cfg config.Build, store database.Store, supervisor *Supervisor, resolver *PreviewResolver, websites *WebsiteService, queue messagequeue.Queue, hub broadcast.Broadcaster) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		supervisor: supervisor,
		resolver:   resolver,
		websites:   websites,
		queue:      queue,
		hub:        hub,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-website lifecycle mutex, creating it on first use.
func (o *Orchestrator) lockFor(websiteID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[websiteID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[websiteID] = l
	}
	return l
}

// withLifecycleLock runs fn holding the website's lifecycle lock, or fails
// fast with a conflict when another lifecycle operation is already running.
func (o *Orchestrator) withLifecycleLock(websiteID string, fn func() error) error {
	l := o.lockFor(websiteID)
	if !l.TryLock() {
		return fmt.Errorf("another operation is in progress for website %s: %w", websiteID, domain.ErrConflict)
	}
	defer l.Unlock()
	return fn()
}

// StartWebsite kicks off the build/serve pipeline for a website.
func (o *Orchestrator) StartWebsite(ctx context.Context, websiteID string) error {
	return o.withLifecycleLock(websiteID, func() error {
		site, err := o.store.GetWebsite(ctx, websiteID)
		if err != nil {
			return err
		}
		files, err := o.store.ListFiles(ctx, websiteID)
		if err != nil {
			return err
		}
		o.resolver.Invalidate(ctx, websiteID)
		return o.supervisor.Start(ctx, site, files)
	})
}

// StopWebsite tears a website's preview down.
func (o *Orchestrator) StopWebsite(ctx context.Context, websiteID string) error {
	return o.withLifecycleLock(websiteID, func() error {
		site, err := o.store.GetWebsite(ctx, websiteID)
		if err != nil {
			return err
		}
		o.resolver.Invalidate(ctx, websiteID)
		return o.supervisor.Stop(ctx, site)
	})
}

// RestartWebsite stops and starts a website under one lifecycle lock.
func (o *Orchestrator) RestartWebsite(ctx context.Context, websiteID string) error {
	return o.withLifecycleLock(websiteID, func() error {
		site, err := o.store.GetWebsite(ctx, websiteID)
		if err != nil {
			return err
		}
		files, err := o.store.ListFiles(ctx, websiteID)
		if err != nil {
			return err
		}
		o.resolver.Invalidate(ctx, websiteID)
		return o.supervisor.Restart(ctx, site, files)
	})
}

// GetBuildStatus assembles the composite status view: persisted status and
// timing, the resolver's current preview target, and the output tail.
func (o *Orchestrator) GetBuildStatus(ctx context.Context, websiteID string) (*BuildStatusView, error) {
	site, err := o.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}

	view := &BuildStatusView{
		WebsiteID:   websiteID,
		Status:      site.BuildStatus,
		Output:      o.supervisor.OutputTail(websiteID),
		DurationMs:  site.BuildDurationMs,
		LastBuiltAt: site.LastBuiltAt,
	}

	target, err := o.resolver.Resolve(ctx, websiteID)
	if err != nil {
		slog.Warn("resolve preview for status view", "website_id", websiteID, "error", err)
	} else {
		view.Preview = target
		view.Status = target.Status
	}
	return view, nil
}

// DeleteWebsite stops any live process, removes the workspace, deletes the
// persisted record and announces the deletion.
func (o *Orchestrator) DeleteWebsite(ctx context.Context, websiteID string) error {
	err := o.withLifecycleLock(websiteID, func() error {
		site, err := o.store.GetWebsite(ctx, websiteID)
		if err != nil {
			return err
		}
		if err := o.supervisor.Stop(ctx, site); err != nil {
			return err
		}
		if err := o.store.DeleteWebsite(ctx, websiteID); err != nil {
			return err
		}
		o.resolver.Invalidate(ctx, websiteID)
		if err := o.supervisor.Cleanup(websiteID); err != nil {
			slog.Warn("workspace cleanup", "website_id", websiteID, "error", err)
		}
		publishJSON(ctx, o.queue, messagequeue.SubjectSiteDeleted,
			messagequeue.SiteDeletedPayload{WebsiteID: websiteID})
		slog.Info("website deleted", "website_id", websiteID)
		return nil
	})
	if err != nil {
		return err
	}

	// The site is gone; its lifecycle lock entry must not outlive it.
	o.mu.Lock()
	delete(o.locks, websiteID)
	o.mu.Unlock()
	return nil
}

// ExportWebsite snapshots the current file set. No process interaction:
// the export reflects the stored content, which every applied edit and
// revert keeps current.
func (o *Orchestrator) ExportWebsite(ctx context.Context, websiteID string) (*Export, error) {
	site, err := o.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}
	files, err := o.store.ListFiles(ctx, websiteID)
	if err != nil {
		return nil, err
	}

	exp := &Export{
		WebsiteID:   websiteID,
		Name:        site.Name,
		ProjectType: site.ProjectType,
		ExportedAt:  time.Now().UTC(),
		Files:       make([]website.FileUpload, 0, len(files)),
	}
	for _, f := range files {
		exp.Files = append(exp.Files, website.FileUpload{
			Name:        f.Name,
			Content:     f.Content,
			ContentType: f.ContentType,
		})
	}
	return exp, nil
}

// SaveFiles persists bulk editor saves and pushes every saved file into the
// live workspace, exactly like an applied AI edit, so a running dev server
// hot-reloads instead of serving stale content until the next restart.
func (o *Orchestrator) SaveFiles(ctx context.Context, websiteID string, files []website.FileUpload) (int, error) {
	saved, err := o.websites.SaveFiles(ctx, websiteID, files)
	for _, f := range files[:saved] {
		if syncErr := o.supervisor.FileChanged(ctx, websiteID, f.Name, f.Content); syncErr != nil {
			slog.Warn("workspace sync after save", "website_id", websiteID, "file", f.Name, "error", syncErr)
		}
	}
	return saved, err
}

// RecoverStale is called once at startup: websites persisted as building or
// running have no surviving process, so their rows move to failed until an
// explicit restart.
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	ids, err := o.store.ResetStaleBuildStates(ctx)
	if err != nil {
		return fmt.Errorf("reset stale build states: %w", err)
	}
	for _, id := range ids {
		o.supervisor.NoteRecovered(id)
	}
	if len(ids) > 0 {
		slog.Info("recovered stale build states", "count", len(ids))
	}
	return nil
}

// StartOutputSubscriber bridges builds.output messages from the queue to
// the WebSocket hub so every instance's clients see every site's output.
// The returned function cancels the subscription.
func (o *Orchestrator) StartOutputSubscriber(ctx context.Context) (func(), error) {
	if o.queue == nil || o.hub == nil {
		return func() {}, nil
	}
	return o.queue.Subscribe(ctx, messagequeue.SubjectBuildOutput,
		func(ctx context.Context, subject string, data []byte) error {
			var payload messagequeue.BuildOutputPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("decode %s payload: %w", subject, err)
			}
			o.hub.BroadcastEvent(ctx, ws.EventBuildOutput, ws.BuildOutputEvent{
				WebsiteID: payload.WebsiteID,
				Line:      payload.Line,
				Stream:    payload.Stream,
			})
			return nil
		})
}

// RunIdleSweep reclaims ports and processes from previews nobody has
// touched within the idle window. Blocks until ctx is cancelled.
func (o *Orchestrator) RunIdleSweep(ctx context.Context) {
	if o.cfg.IdleWindow <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-o.cfg.IdleWindow)
			for _, id := range o.supervisor.IdleProcesses(cutoff) {
				if err := o.StopWebsite(ctx, id); err != nil {
					slog.Warn("idle sweep stop", "website_id", id, "error", err)
					continue
				}
				slog.Info("idle preview reclaimed", "website_id", id)
			}
		}
	}
}
