package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
)

// materializeWorkspace writes the stored files of a website to disk,
// replacing whatever the previous build left behind.
func materializeWorkspace(dir string, files []website.File) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		path, err := workspacePath(dir, f.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}

// workspacePath joins a stored file name under the workspace directory,
// rejecting names that would escape it.
func workspacePath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("file name %q escapes workspace", name)
	}
	return filepath.Join(dir, clean), nil
}

// devServerCommand builds the dev-server invocation for a project type.
// Install and serve run through a single shell so dependency setup and the
// long-lived server share one supervised process group.
func devServerCommand(ctx context.Context, projectType website.ProjectType, dir string, port int) *exec.Cmd {
	var script string
	switch projectType {
	case website.TypeVite, website.TypeReactVite:
		script = fmt.Sprintf("npm install --no-audit --no-fund && exec npx vite --host 127.0.0.1 --port %d --strictPort", port)
	default:
		script = fmt.Sprintf("npm install --no-audit --no-fund && exec npm run dev -- --port %d", port)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"PORT="+strconv.Itoa(port),
		"BROWSER=none",
		"CI=true",
	)
	return cmd
}

// publishJSON marshals a payload and publishes it, logging instead of
// failing the caller when the queue is unavailable.
func publishJSON(ctx context.Context, queue messagequeue.Queue, subject string, payload any) {
	if queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish event", "subject", subject, "error", err)
	}
}
