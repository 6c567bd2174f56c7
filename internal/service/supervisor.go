package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	sfotel "github.com/Strob0t/SiteForge/internal/adapter/otel"
	"github.com/Strob0t/SiteForge/internal/adapter/ws"
	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/buildlog"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/broadcast"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
	"github.com/Strob0t/SiteForge/internal/portpool"
	"github.com/Strob0t/SiteForge/internal/workpool"
)

// readyMarkers are dev-server output fragments that signal the server is up
// before the TCP probe confirms it.
var readyMarkers = []string{"Local:", "ready in", "Compiled successfully", "localhost:"}

// process is one supervised dev-server process. All fields except output
// and lastAccess are written only while the supervisor mutex is held.
type process struct {
	websiteID string
	port      int
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	output    *buildlog.Buffer
	done      chan struct{} // closed once Wait returns
	startedAt time.Time

	mu         sync.Mutex
	lastAccess time.Time
}

func (p *process) touch() {
	p.mu.Lock()
	p.lastAccess = time.Now()
	p.mu.Unlock()
}

func (p *process) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAccess
}

// Supervisor owns the build/runtime lifecycle of every website: it launches
// dev-server processes with leased ports, watches their output, enforces the
// build-status state machine and tears processes down again. The process
// table is the single source of truth for what is live; ambient globals are
// never used.
type Supervisor struct {
	cfg     config.Build
	preview config.Preview
	store   database.Store
	ports   *portpool.Pool
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *sfotel.Metrics
	pool    *workpool.Pool

	mu      sync.Mutex
	procs   map[string]*process
	notes   map[string]*buildlog.Buffer // output kept for sites without a live process

	// newCommand builds the dev-server command for a project type.
	// Replaced in tests.
	newCommand func(ctx context.Context, projectType website.ProjectType, dir string, port int) *exec.Cmd

	// probe reports whether the port accepts connections. Replaced in tests.
	probe func(host string, port int) bool
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg config.Build, preview config.Preview, store database.Store, ports *portpool.Pool, queue messagequeue.Queue, hub broadcast.Broadcaster, pool *workpool.Pool) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		preview:    preview,
		store:      store,
		ports:      ports,
		queue:      queue,
		hub:        hub,
		pool:       pool,
		procs:      make(map[string]*process),
		notes:      make(map[string]*buildlog.Buffer),
		newCommand: devServerCommand,
		probe:      probeTCP,
	}
}

// SetMetrics attaches metric instruments.
func (s *Supervisor) SetMetrics(m *sfotel.Metrics) {
	s.metrics = m
}

// Start brings a website's preview up. Static projects go straight to
// running without a process or a port. Process-backed projects lease a port,
// move to building and bootstrap asynchronously; the per-website transition
// to running or failed is reported through the store, NATS and the WS hub.
func (s *Supervisor) Start(ctx context.Context, site *website.Website, files []website.File) error {
	if !website.CanTransition(site.BuildStatus, website.BuildBuilding) &&
		!website.CanTransition(site.BuildStatus, website.BuildRunning) {
		return fmt.Errorf("start website %s from %s: %w", site.ID, site.BuildStatus, domain.ErrConflict)
	}

	if site.ProjectType.IsStatic() {
		return s.startStatic(ctx, site, files)
	}
	return s.startProcess(ctx, site, files)
}

func (s *Supervisor) startStatic(ctx context.Context, site *website.Website, files []website.File) error {
	index, ok := website.IndexFile(files)
	if !ok {
		s.note(site.ID, "no HTML entry file found in upload")
		if err := s.store.UpdateBuildState(ctx, site.ID, website.BuildFailed, nil, "", 0); err != nil {
			return err
		}
		s.publishStatus(ctx, site.ID, website.BuildFailed, 0, "", "no HTML entry file")
		return fmt.Errorf("start static website %s: %w", site.ID, domain.ErrBuildFailed)
	}

	previewURL := fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.preview.StaticURL, "/"), site.ID, index)
	if err := s.store.UpdateBuildState(ctx, site.ID, website.BuildRunning, nil, previewURL, 0); err != nil {
		return fmt.Errorf("start static website %s: %w", site.ID, err)
	}
	s.publishStatus(ctx, site.ID, website.BuildRunning, 0, previewURL, "")
	slog.Info("static website running", "website_id", site.ID, "preview_url", previewURL)
	return nil
}

func (s *Supervisor) startProcess(ctx context.Context, site *website.Website, files []website.File) error {
	s.mu.Lock()
	if _, exists := s.procs[site.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("start website %s: process already supervised: %w", site.ID, domain.ErrConflict)
	}
	s.mu.Unlock()

	port, err := s.ports.Acquire(site.ID)
	if err != nil {
		return fmt.Errorf("start website %s: %w", site.ID, err)
	}

	if err := s.store.UpdateBuildState(ctx, site.ID, website.BuildBuilding, &port, "", 0); err != nil {
		s.ports.Release(site.ID)
		return fmt.Errorf("start website %s: %w", site.ID, err)
	}

	buildCtx, cancel := context.WithCancel(context.Background())
	p := &process{
		websiteID: site.ID,
		port:      port,
		cancel:    cancel,
		output:    buildlog.NewBuffer(s.cfg.OutputLines),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	p.touch()

	s.mu.Lock()
	s.procs[site.ID] = p
	delete(s.notes, site.ID)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BuildsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("project.type", string(site.ProjectType))))
		s.metrics.PortsLeased.Add(ctx, 1)
	}
	s.publishStatus(ctx, site.ID, website.BuildBuilding, 0, "", "")

	go s.build(buildCtx, p, site, files)
	return nil
}

// build runs in its own goroutine: materialize the workspace, launch the
// dev server through the shared work pool, wait for readiness, then settle
// the state machine.
func (s *Supervisor) build(ctx context.Context, p *process, site *website.Website, files []website.File) {
	spanCtx, span := sfotel.StartBuildSpan(ctx, site.ID, string(site.ProjectType))
	defer span.End()

	err := s.pool.Run(ctx, func() error {
		dir := s.workspaceDir(site.ID)
		if err := materializeWorkspace(dir, files); err != nil {
			return fmt.Errorf("materialize workspace: %w", err)
		}

		cmd := s.newCommand(ctx, site.ProjectType, dir, p.port)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("launch dev server: %w", err)
		}

		s.mu.Lock()
		p.cmd = cmd
		s.mu.Unlock()

		ready := make(chan struct{}, 1)
		go s.captureOutput(spanCtx, p, stdout, "stdout", ready)
		go s.captureOutput(spanCtx, p, stderr, "stderr", ready)
		go func() {
			_ = cmd.Wait()
			close(p.done)
		}()

		return s.waitReady(ctx, p, ready)
	})

	if err != nil {
		s.settleFailed(p, site, err, span)
		return
	}

	duration := time.Since(p.startedAt)
	previewURL := net.JoinHostPort(s.preview.Host, strconv.Itoa(p.port))

	bg := context.Background()
	if dbErr := s.store.UpdateBuildState(bg, site.ID, website.BuildRunning, &p.port, previewURL, duration.Milliseconds()); dbErr != nil {
		slog.Error("persist running state failed", "website_id", site.ID, "error", dbErr)
	}
	if s.metrics != nil {
		s.metrics.BuildsCompleted.Add(bg, 1, metric.WithAttributes(
			attribute.String("project.type", string(site.ProjectType))))
		s.metrics.BuildDuration.Record(bg, duration.Seconds())
	}
	span.SetAttributes(attribute.Int64("build.duration_ms", duration.Milliseconds()))
	s.publishStatus(bg, site.ID, website.BuildRunning, duration.Milliseconds(), previewURL, "")
	slog.Info("website running", "website_id", site.ID, "port", p.port, "build_ms", duration.Milliseconds())

	// A crash after reaching running moves the site to failed unless a stop
	// already removed the process from the table.
	go s.watchCrash(p, site)
}

func (s *Supervisor) settleFailed(p *process, site *website.Website, cause error, span trace.Span) {
	bg := context.Background()

	// An explicit stop removes the entry before cancelling the build and
	// owns the state transition; nothing left to settle here.
	s.mu.Lock()
	current, tracked := s.procs[site.ID]
	if !tracked || current != p {
		s.mu.Unlock()
		return
	}
	delete(s.procs, site.ID)
	s.notes[site.ID] = p.output
	s.mu.Unlock()

	s.killAndReap(p)

	s.ports.Release(site.ID)
	p.output.Append(fmt.Sprintf("build failed: %v", cause))

	if err := s.store.UpdateBuildState(bg, site.ID, website.BuildFailed, nil, "", 0); err != nil {
		slog.Error("persist failed state", "website_id", site.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.BuildsFailed.Add(bg, 1, metric.WithAttributes(
			attribute.String("project.type", string(site.ProjectType))))
		s.metrics.PortsLeased.Add(bg, -1)
	}
	span.SetStatus(codes.Error, cause.Error())
	s.publishStatus(bg, site.ID, website.BuildFailed, 0, "", cause.Error())
	slog.Warn("build failed", "website_id", site.ID, "error", cause)
}

// watchCrash flips a running site to failed when its process exits on its own.
func (s *Supervisor) watchCrash(p *process, site *website.Website) {
	<-p.done

	s.mu.Lock()
	current, tracked := s.procs[site.ID]
	if !tracked || current != p {
		// Removed by an explicit stop; nothing to do.
		s.mu.Unlock()
		return
	}
	delete(s.procs, site.ID)
	s.notes[site.ID] = p.output
	s.mu.Unlock()

	s.ports.Release(site.ID)
	p.output.Append("dev server exited unexpectedly")

	bg := context.Background()
	if err := s.store.UpdateBuildState(bg, site.ID, website.BuildFailed, nil, "", 0); err != nil {
		slog.Error("persist crash state", "website_id", site.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.BuildsFailed.Add(bg, 1, metric.WithAttributes(
			attribute.String("project.type", string(site.ProjectType))))
		s.metrics.PortsLeased.Add(bg, -1)
	}
	s.publishStatus(bg, site.ID, website.BuildFailed, 0, "", "process exited unexpectedly")
	slog.Warn("dev server crashed", "website_id", site.ID, "port", p.port)
}

// Stop tears a website's preview down. Safe to call on a website that is
// already stopped or failed (no-op). A stop during building cancels the
// in-progress build. The port is only released once process termination is
// confirmed; an unconfirmed kill surfaces domain.ErrConflict and keeps the
// lease so the port cannot be double-bound.
func (s *Supervisor) Stop(ctx context.Context, site *website.Website) error {
	s.mu.Lock()
	p, live := s.procs[site.ID]
	if live {
		delete(s.procs, site.ID)
		s.notes[site.ID] = p.output
	}
	s.mu.Unlock()

	if !live {
		// Static running sites have no process; anything else is a no-op.
		if site.BuildStatus == website.BuildRunning && site.ProjectType.IsStatic() {
			if err := s.store.UpdateBuildState(ctx, site.ID, website.BuildStopped, nil, "", 0); err != nil {
				return fmt.Errorf("stop website %s: %w", site.ID, err)
			}
			s.publishStatus(ctx, site.ID, website.BuildStopped, 0, "", "")
		}
		return nil
	}

	if err := s.terminate(p); err != nil {
		// Put the entry back: the process may still hold the port.
		s.mu.Lock()
		s.procs[site.ID] = p
		s.mu.Unlock()
		return fmt.Errorf("stop website %s: %w", site.ID, err)
	}

	s.ports.Release(site.ID)
	if s.metrics != nil {
		s.metrics.PortsLeased.Add(ctx, -1)
	}

	if err := s.store.UpdateBuildState(ctx, site.ID, website.BuildStopped, nil, "", 0); err != nil {
		return fmt.Errorf("stop website %s: %w", site.ID, err)
	}
	s.publishStatus(ctx, site.ID, website.BuildStopped, 0, "", "")
	slog.Info("website stopped", "website_id", site.ID)
	return nil
}

// Restart is stop followed by start. When termination of the previous
// process cannot be confirmed the error from Stop (ErrConflict) is
// propagated instead of risking a double-bound port.
func (s *Supervisor) Restart(ctx context.Context, site *website.Website, files []website.File) error {
	if err := s.Stop(ctx, site); err != nil {
		return err
	}
	// Stop may have advanced the persisted status; reflect that for the
	// transition check in Start.
	if !site.ProjectType.IsStatic() || site.BuildStatus == website.BuildRunning {
		site.BuildStatus = website.BuildStopped
	}
	return s.Start(ctx, site, files)
}

// terminate sends SIGTERM, waits the grace period, force-kills, then waits
// the grace period again for the reap. Only a confirmed exit returns nil.
func (s *Supervisor) terminate(p *process) error {
	p.cancel()

	// The build goroutine writes p.cmd under the supervisor mutex.
	s.mu.Lock()
	cmd := p.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		// Build never launched a process; the cancelled context stops it.
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-time.After(s.cfg.StopGrace):
	}

	_ = cmd.Process.Kill()
	select {
	case <-p.done:
		return nil
	case <-time.After(s.cfg.StopGrace):
		return fmt.Errorf("process termination unconfirmed after force kill: %w", domain.ErrConflict)
	}
}

func (s *Supervisor) killAndReap(p *process) {
	p.cancel()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		select {
		case <-p.done:
		case <-time.After(s.cfg.StopGrace):
			slog.Error("failed build process did not reap", "website_id", p.websiteID)
		}
	}
}

// waitReady blocks until the dev server accepts connections, prints a ready
// marker, exits, or the startup timeout fires.
func (s *Supervisor) waitReady(ctx context.Context, p *process, ready <-chan struct{}) error {
	deadline := time.NewTimer(s.cfg.StartupTimeout)
	defer deadline.Stop()
	probe := time.NewTicker(250 * time.Millisecond)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			tail := p.output.Lines()
			last := ""
			if len(tail) > 0 {
				last = tail[len(tail)-1]
			}
			return fmt.Errorf("dev server exited during startup (%s): %w", last, domain.ErrBuildFailed)
		case <-ready:
			return nil
		case <-probe.C:
			if s.probe(s.preview.Host, p.port) {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("dev server not ready within %s: %w", s.cfg.StartupTimeout, domain.ErrBuildFailed)
		}
	}
}

// captureOutput scans one process stream line by line into the ring buffer,
// publishes each line to NATS and signals readiness on marker lines.
func (s *Supervisor) captureOutput(ctx context.Context, p *process, r io.Reader, stream string, ready chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.output.Append(line)

		for _, marker := range readyMarkers {
			if strings.Contains(line, marker) {
				select {
				case ready <- struct{}{}:
				default:
				}
				break
			}
		}

		s.publishOutput(ctx, p.websiteID, line, stream)
	}
}

// OutputTail returns the captured output for a website, live or not.
func (s *Supervisor) OutputTail(websiteID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.procs[websiteID]; ok {
		return p.output.Lines()
	}
	if buf, ok := s.notes[websiteID]; ok {
		return buf.Lines()
	}
	return nil
}

// Touch records preview traffic for the idle-reclamation sweep.
func (s *Supervisor) Touch(websiteID string) {
	s.mu.Lock()
	p, ok := s.procs[websiteID]
	s.mu.Unlock()
	if ok {
		p.touch()
	}
}

// IdleProcesses returns the IDs of running processes with no traffic since
// the cutoff. Sites still building are never reported.
func (s *Supervisor) IdleProcesses(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.procs {
		select {
		case <-p.done:
			continue // already exiting; crash watcher handles it
		default:
		}
		if p.cmd == nil {
			continue // still bootstrapping
		}
		if p.idleSince().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// FileChanged syncs a mutated file into the live workspace so the dev
// server's own watcher hot-reloads it. Sites without a live process need
// nothing: their next start rematerializes the workspace from the store.
func (s *Supervisor) FileChanged(ctx context.Context, websiteID, fileName, content string) error {
	s.mu.Lock()
	_, live := s.procs[websiteID]
	s.mu.Unlock()
	if !live {
		return nil
	}

	path, err := workspacePath(s.workspaceDir(websiteID), fileName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("sync file %s/%s: %w", websiteID, fileName, err)
	}
	return nil
}

// NoteRecovered records why a website woke up as failed after an
// orchestrator restart.
func (s *Supervisor) NoteRecovered(websiteID string) {
	s.note(websiteID, "orchestrator restarted: previous build state could not be confirmed, marked failed")
}

// Cleanup removes the on-disk workspace for a deleted website.
func (s *Supervisor) Cleanup(websiteID string) error {
	s.mu.Lock()
	delete(s.notes, websiteID)
	s.mu.Unlock()
	return os.RemoveAll(s.workspaceDir(websiteID))
}

func (s *Supervisor) note(websiteID, line string) {
	s.mu.Lock()
	buf, ok := s.notes[websiteID]
	if !ok {
		buf = buildlog.NewBuffer(s.cfg.OutputLines)
		s.notes[websiteID] = buf
	}
	s.mu.Unlock()
	buf.Append(line)
}

func (s *Supervisor) workspaceDir(websiteID string) string {
	return filepath.Join(s.cfg.WorkspaceRoot, websiteID)
}

func (s *Supervisor) publishStatus(ctx context.Context, websiteID string, status website.BuildStatus, durationMs int64, previewURL, errMsg string) {
	payload := messagequeue.BuildStatusPayload{
		WebsiteID:  websiteID,
		Status:     string(status),
		PreviewURL: previewURL,
		DurationMs: durationMs,
		Error:      errMsg,
	}
	if port, ok := s.ports.LeaseFor(websiteID); ok {
		payload.Port = port
	}
	publishJSON(ctx, s.queue, messagequeue.SubjectBuildStatus, payload)

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventBuildStatus, ws.BuildStatusEvent{
			WebsiteID:  websiteID,
			Status:     string(status),
			Port:       payload.Port,
			PreviewURL: previewURL,
			DurationMs: durationMs,
			Error:      errMsg,
		})
	}
}

func (s *Supervisor) publishOutput(ctx context.Context, websiteID, line, stream string) {
	publishJSON(ctx, s.queue, messagequeue.SubjectBuildOutput, messagequeue.BuildOutputPayload{
		WebsiteID: websiteID,
		Line:      line,
		Stream:    stream,
	})
}

func probeTCP(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
