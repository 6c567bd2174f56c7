package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/change"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/aieditor"
	"github.com/Strob0t/SiteForge/internal/port/broadcast"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ aieditor.Provider     = (*mockProvider)(nil)
)

type mockStore struct {
	mu       sync.Mutex
	websites map[string]*website.Website
	files    map[string]map[string]*website.File // websiteID -> name -> file
	changes  []change.Entry

	getWebsiteErr       error
	updateBuildStateErr error
	applyChangeErr      error
	revertChangeErr     error

	buildStates []website.BuildStatus // every status passed to UpdateBuildState
}

func newMockStore() *mockStore {
	return &mockStore{
		websites: make(map[string]*website.Website),
		files:    make(map[string]map[string]*website.File),
	}
}

func (m *mockStore) addWebsite(site *website.Website, files ...website.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.websites[site.ID] = site
	m.files[site.ID] = make(map[string]*website.File)
	for i := range files {
		f := files[i]
		if f.OriginalContent == "" {
			f.OriginalContent = f.Content
		}
		m.files[site.ID][f.Name] = &f
	}
}

func (m *mockStore) ListWebsites(_ context.Context) ([]website.Website, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]website.Website, 0, len(m.websites))
	for _, s := range m.websites {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetWebsite(_ context.Context, id string) (*website.Website, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getWebsiteErr != nil {
		return nil, m.getWebsiteErr
	}
	s, ok := m.websites[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) CreateWebsite(_ context.Context, req website.CreateRequest, projectType website.ProjectType) (*website.Website, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	site := &website.Website{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		ProjectType: projectType,
		Status:      website.LifecycleActive,
		BuildStatus: website.BuildPending,
		Version:     1,
		CreatedAt:   time.Now(),
	}
	m.websites[site.ID] = site
	m.files[site.ID] = make(map[string]*website.File)
	for i, f := range req.Files {
		m.files[site.ID][f.Name] = &website.File{
			ID:              uuid.NewString(),
			WebsiteID:       site.ID,
			Name:            f.Name,
			Content:         f.Content,
			ContentType:     f.ContentType,
			OriginalContent: f.Content,
			Position:        i,
		}
	}
	cp := *site
	return &cp, nil
}

func (m *mockStore) DeleteWebsite(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.websites[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.websites, id)
	delete(m.files, id)
	return nil
}

func (m *mockStore) UpdateBuildState(_ context.Context, id string, status website.BuildStatus, port *int, previewURL string, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateBuildStateErr != nil {
		return m.updateBuildStateErr
	}
	s, ok := m.websites[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.BuildStatus = status
	s.Port = port
	s.PreviewURL = previewURL
	if durationMs > 0 {
		s.BuildDurationMs = durationMs
		now := time.Now()
		s.LastBuiltAt = &now
	}
	s.Version++
	m.buildStates = append(m.buildStates, status)
	return nil
}

func (m *mockStore) ResetStaleBuildStates(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.websites {
		if s.BuildStatus == website.BuildBuilding || s.BuildStatus == website.BuildRunning {
			s.BuildStatus = website.BuildFailed
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockStore) ListFiles(_ context.Context, websiteID string) ([]website.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.files[websiteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]website.File, 0, len(byName))
	for _, f := range byName {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *mockStore) GetFile(_ context.Context, websiteID, name string) (*website.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.files[websiteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f, ok := byName[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockStore) UpdateFileContent(_ context.Context, websiteID, name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.files[websiteID]
	if !ok {
		return domain.ErrNotFound
	}
	f, ok := byName[name]
	if !ok {
		return domain.ErrNotFound
	}
	f.Content = content
	return nil
}

func (m *mockStore) ListChanges(_ context.Context, websiteID string) ([]change.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []change.Entry
	for i := range m.changes {
		if m.changes[i].WebsiteID == websiteID {
			out = append(out, m.changes[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) GetChange(_ context.Context, websiteID, changeID string) (*change.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.changes {
		if m.changes[i].WebsiteID == websiteID && m.changes[i].ID == changeID {
			cp := m.changes[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) LatestAppliedChange(_ context.Context, websiteID, fileName string) (*change.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *change.Entry
	for i := range m.changes {
		e := &m.changes[i]
		if e.WebsiteID != websiteID || e.FileName != fileName || e.Status != change.StatusApplied {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockStore) PriorAppliedChange(_ context.Context, websiteID, fileName string, before time.Time) (*change.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prior *change.Entry
	for i := range m.changes {
		e := &m.changes[i]
		if e.WebsiteID != websiteID || e.FileName != fileName || e.Status != change.StatusApplied {
			continue
		}
		if !e.CreatedAt.Before(before) {
			continue
		}
		if prior == nil || e.CreatedAt.After(prior.CreatedAt) {
			prior = e
		}
	}
	if prior == nil {
		return nil, domain.ErrNotFound
	}
	cp := *prior
	return &cp, nil
}

func (m *mockStore) ApplyChange(_ context.Context, entry *change.Entry) (*change.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyChangeErr != nil {
		return nil, m.applyChangeErr
	}
	byName, ok := m.files[entry.WebsiteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f, ok := byName[entry.FileName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f.Content = entry.ModifiedContent

	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.changes = append(m.changes, cp)
	out := cp
	return &out, nil
}

func (m *mockStore) RevertChange(_ context.Context, websiteID, changeID, restoredContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revertChangeErr != nil {
		return m.revertChangeErr
	}
	for i := range m.changes {
		e := &m.changes[i]
		if e.WebsiteID != websiteID || e.ID != changeID {
			continue
		}
		if e.Status != change.StatusApplied {
			return domain.ErrConflict
		}
		e.Status = change.StatusReverted
		if f, ok := m.files[websiteID][e.FileName]; ok {
			f.Content = restoredContent
		}
		return nil
	}
	return domain.ErrNotFound
}

type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error { return nil }

func (q *mockQueue) Close() error { return nil }

func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, p := range q.published {
		out = append(out, p.subject)
	}
	return out
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []struct {
		eventType string
		payload   any
	}
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, struct {
		eventType string
		payload   any
	}{eventType, payload})
}

type mockProvider struct {
	result *aieditor.Result
	err    error
	delay  time.Duration
}

func (p *mockProvider) Edit(ctx context.Context, _ aieditor.Request) (*aieditor.Result, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}
