package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/cache"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/portpool"
)

// PreviewTarget is where a website's preview can currently be reached.
type PreviewTarget struct {
	WebsiteID string              `json:"website_id"`
	Available bool                `json:"available"`
	URL       string              `json:"url,omitempty"`
	Proxied   bool                `json:"proxied,omitempty"` // true when URL points at a live dev server
	Status    website.BuildStatus `json:"status"`
}

// PreviewResolver maps website IDs to preview targets. Resolutions are
// cached briefly since the preview iframe polls aggressively; the TTL keeps
// a stale target window no wider than the cache config.
type PreviewResolver struct {
	cfg        config.Preview
	store      database.Store
	ports      *portpool.Pool
	cache      cache.Cache
	supervisor *Supervisor
}

// NewPreviewResolver creates a PreviewResolver. cache may be nil to disable
// caching.
func NewPreviewResolver(cfg config.Preview, store database.Store, ports *portpool.Pool, c cache.Cache, supervisor *Supervisor) *PreviewResolver {
	return &PreviewResolver{
		cfg:        cfg,
		store:      store,
		ports:      ports,
		cache:      c,
		supervisor: supervisor,
	}
}

// Resolve returns the current preview target for a website. Running
// process-backed sites resolve to the leased dev-server address, running
// static sites to their stored static URL, and everything else to an
// unavailable target carrying the current build status.
func (r *PreviewResolver) Resolve(ctx context.Context, websiteID string) (*PreviewTarget, error) {
	if target, ok := r.cached(ctx, websiteID); ok {
		r.supervisor.Touch(websiteID)
		return target, nil
	}

	site, err := r.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}

	target := &PreviewTarget{WebsiteID: websiteID, Status: site.BuildStatus}
	if site.BuildStatus == website.BuildRunning {
		switch {
		case site.ProjectType.IsStatic():
			target.Available = true
			target.URL = site.PreviewURL
			if target.URL == "" {
				target.URL = fmt.Sprintf("%s/%s/", strings.TrimRight(r.cfg.StaticURL, "/"), websiteID)
			}
		default:
			if port, ok := r.ports.LeaseFor(websiteID); ok {
				target.Available = true
				target.Proxied = true
				target.URL = "http://" + net.JoinHostPort(r.cfg.Host, strconv.Itoa(port))
			} else {
				// Persisted running without a lease means the process is
				// gone; report unavailable rather than a dead port.
				target.Status = website.BuildStopped
			}
		}
	}

	r.put(ctx, websiteID, target)
	r.supervisor.Touch(websiteID)
	return target, nil
}

// Invalidate drops a website's cached target. Called on every build-status
// transition so the preview never lags a stop or restart by more than one
// in-flight request.
func (r *PreviewResolver) Invalidate(ctx context.Context, websiteID string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, previewCacheKey(websiteID))
	}
}

func (r *PreviewResolver) cached(ctx context.Context, websiteID string) (*PreviewTarget, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, previewCacheKey(websiteID))
	if err != nil || !ok {
		return nil, false
	}
	var target PreviewTarget
	if err := json.Unmarshal(data, &target); err != nil {
		slog.Warn("corrupt preview cache entry", "website_id", websiteID, "error", err)
		_ = r.cache.Delete(ctx, previewCacheKey(websiteID))
		return nil, false
	}
	return &target, true
}

func (r *PreviewResolver) put(ctx context.Context, websiteID string, target *PreviewTarget) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(target)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, previewCacheKey(websiteID), data, r.cfg.CacheTTL)
}

func previewCacheKey(websiteID string) string {
	return "preview:" + websiteID
}
