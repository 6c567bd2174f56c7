package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	sfotel "github.com/Strob0t/SiteForge/internal/adapter/otel"
	"github.com/Strob0t/SiteForge/internal/adapter/ws"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/change"
	"github.com/Strob0t/SiteForge/internal/port/aieditor"
	"github.com/Strob0t/SiteForge/internal/port/broadcast"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
)

// Ledger runs AI edits against website files and keeps the append-only
// change history that makes them revertible.
type Ledger struct {
	store      database.Store
	provider   aieditor.Provider
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	supervisor *Supervisor
	metrics    *sfotel.Metrics

	timeout   time.Duration
	threshold float64
}

// NewLedger creates a Ledger. threshold is the minimum confidence an AI
// result must carry to be applied; results without a confidence score pass.
func NewLedger(store database.Store, provider aieditor.Provider, queue messagequeue.Queue, hub broadcast.Broadcaster, supervisor *Supervisor, timeout time.Duration, threshold float64) *Ledger {
	return &Ledger{
		store:      store,
		provider:   provider,
		queue:      queue,
		hub:        hub,
		supervisor: supervisor,
		timeout:    timeout,
		threshold:  threshold,
	}
}

// SetMetrics attaches metric instruments.
func (l *Ledger) SetMetrics(m *sfotel.Metrics) {
	l.metrics = m
}

// Edit sends a file plus an instruction to the AI provider and, when the
// result clears the confidence threshold, applies it: file content and the
// new history entry are written in a single transaction so the ledger can
// never reference content the file does not have. A rejected or failed edit
// leaves both the file and the history untouched.
func (l *Ledger) Edit(ctx context.Context, websiteID, fileName, prompt string) (*change.Entry, error) {
	spanCtx, span := sfotel.StartEditSpan(ctx, websiteID, fileName)
	defer span.End()

	file, err := l.store.GetFile(spanCtx, websiteID, fileName)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	editCtx, cancel := context.WithTimeout(spanCtx, l.timeout)
	defer cancel()

	result, err := l.provider.Edit(editCtx, aieditor.Request{
		Prompt:   prompt,
		Content:  file.Content,
		FileName: file.Name,
		FileType: file.ContentType,
	})
	if err != nil {
		if errors.Is(editCtx.Err(), context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("ai edit of %s/%s after %s: %w", websiteID, fileName, l.timeout, domain.ErrUpstreamTimeout)
		}
		// Malformed provider responses carry ErrEditRejected and count as
		// rejections, same as a confidence miss.
		if errors.Is(err, domain.ErrEditRejected) && l.metrics != nil {
			l.metrics.EditsRejected.Add(spanCtx, 1)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ai edit of %s/%s: %w", websiteID, fileName, err)
	}

	if result.Scored && result.Confidence < l.threshold {
		if l.metrics != nil {
			l.metrics.EditsRejected.Add(spanCtx, 1)
		}
		span.SetAttributes(attribute.Float64("edit.confidence", result.Confidence))
		span.SetStatus(codes.Error, "below confidence threshold")
		slog.Info("ai edit rejected", "website_id", websiteID, "file", fileName,
			"confidence", result.Confidence, "threshold", l.threshold)
		return nil, fmt.Errorf("ai edit of %s/%s scored %.2f (minimum %.2f): %w",
			websiteID, fileName, result.Confidence, l.threshold, domain.ErrEditRejected)
	}

	modification, err := buildModification(file.Content, result.Content, result.Description)
	if err != nil {
		return nil, fmt.Errorf("diff %s/%s: %w", websiteID, fileName, err)
	}

	entry := &change.Entry{
		ID:              uuid.NewString(),
		WebsiteID:       websiteID,
		FileName:        fileName,
		Description:     result.Description,
		Prompt:          prompt,
		Modification:    modification,
		Status:          change.StatusApplied,
		ProcessingMs:    time.Since(started).Milliseconds(),
		ModifiedContent: result.Content,
	}
	if result.Scored {
		c := result.Confidence
		entry.Confidence = &c
	}

	applied, err := l.store.ApplyChange(spanCtx, entry)
	if err != nil {
		return nil, fmt.Errorf("apply change to %s/%s: %w", websiteID, fileName, err)
	}

	if l.metrics != nil {
		l.metrics.EditsApplied.Add(spanCtx, 1)
		l.metrics.EditDuration.Record(spanCtx, time.Since(started).Seconds())
	}
	span.SetAttributes(attribute.String("change.id", applied.ID))

	if err := l.supervisor.FileChanged(spanCtx, websiteID, fileName, result.Content); err != nil {
		slog.Warn("workspace sync after edit", "website_id", websiteID, "file", fileName, "error", err)
	}

	l.announceApplied(spanCtx, applied)
	slog.Info("ai edit applied", "website_id", websiteID, "file", fileName,
		"change_id", applied.ID, "processing_ms", applied.ProcessingMs)
	return applied, nil
}

// History lists a website's change entries, newest first.
func (l *Ledger) History(ctx context.Context, websiteID string) ([]change.Entry, error) {
	if _, err := l.store.GetWebsite(ctx, websiteID); err != nil {
		return nil, err
	}
	return l.store.ListChanges(ctx, websiteID)
}

// Revert undoes an applied change entry. Only the newest applied entry for
// its file can be reverted; anything older would silently clobber later
// edits, so it is rejected with a conflict. The restored content is the
// previous applied entry's result, or the file's original upload when the
// entry being reverted was the first edit.
func (l *Ledger) Revert(ctx context.Context, websiteID, changeID string) (*change.Entry, error) {
	entry, err := l.store.GetChange(ctx, websiteID, changeID)
	if err != nil {
		return nil, err
	}
	if entry.Status != change.StatusApplied {
		return nil, fmt.Errorf("revert change %s: status is %s: %w", changeID, entry.Status, domain.ErrConflict)
	}

	latest, err := l.store.LatestAppliedChange(ctx, websiteID, entry.FileName)
	if err != nil {
		return nil, err
	}
	if latest.ID != entry.ID {
		return nil, fmt.Errorf("revert change %s: a newer applied change (%s) exists for %s: %w",
			changeID, latest.ID, entry.FileName, domain.ErrConflict)
	}

	restored, err := l.restoredContent(ctx, entry)
	if err != nil {
		return nil, err
	}

	if err := l.store.RevertChange(ctx, websiteID, changeID, restored); err != nil {
		return nil, fmt.Errorf("revert change %s: %w", changeID, err)
	}
	entry.Status = change.StatusReverted

	if err := l.supervisor.FileChanged(ctx, websiteID, entry.FileName, restored); err != nil {
		slog.Warn("workspace sync after revert", "website_id", websiteID, "file", entry.FileName, "error", err)
	}

	l.announceReverted(ctx, entry)
	slog.Info("change reverted", "website_id", websiteID, "change_id", changeID, "file", entry.FileName)
	return entry, nil
}

// restoredContent resolves what the file held before the entry was applied.
func (l *Ledger) restoredContent(ctx context.Context, entry *change.Entry) (string, error) {
	prior, err := l.store.PriorAppliedChange(ctx, entry.WebsiteID, entry.FileName, entry.CreatedAt)
	switch {
	case err == nil:
		return prior.ModifiedContent, nil
	case errors.Is(err, domain.ErrNotFound):
		file, err := l.store.GetFile(ctx, entry.WebsiteID, entry.FileName)
		if err != nil {
			return "", err
		}
		return file.OriginalContent, nil
	default:
		return "", err
	}
}

// buildModification computes a character-level diff between the two
// contents and packs it into the stored modification document.
func buildModification(before, after, summary string) (json.RawMessage, error) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	mod := change.Modification{Summary: summary}
	for _, d := range diffs {
		var op string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = "insert"
			mod.CharsAdded += len(d.Text)
		case diffmatchpatch.DiffDelete:
			op = "delete"
			mod.CharsRemoved += len(d.Text)
		default:
			op = "equal"
		}
		mod.Chunks = append(mod.Chunks, change.DiffChunk{Op: op, Text: d.Text})
	}
	return json.Marshal(mod)
}

func (l *Ledger) announceApplied(ctx context.Context, entry *change.Entry) {
	payload := messagequeue.EditAppliedPayload{
		WebsiteID:   entry.WebsiteID,
		ChangeID:    entry.ID,
		FileName:    entry.FileName,
		Description: entry.Description,
	}
	if entry.Confidence != nil {
		payload.Confidence = *entry.Confidence
	}
	publishJSON(ctx, l.queue, messagequeue.SubjectEditApplied, payload)

	if l.hub != nil {
		l.hub.BroadcastEvent(ctx, ws.EventEditApplied, ws.EditAppliedEvent{
			WebsiteID:   entry.WebsiteID,
			ChangeID:    entry.ID,
			FileName:    entry.FileName,
			Description: entry.Description,
			Confidence:  payload.Confidence,
		})
	}
}

func (l *Ledger) announceReverted(ctx context.Context, entry *change.Entry) {
	publishJSON(ctx, l.queue, messagequeue.SubjectEditReverted, messagequeue.EditRevertedPayload{
		WebsiteID: entry.WebsiteID,
		ChangeID:  entry.ID,
		FileName:  entry.FileName,
	})
	if l.hub != nil {
		l.hub.BroadcastEvent(ctx, ws.EventEditReverted, ws.EditRevertedEvent{
			WebsiteID: entry.WebsiteID,
			ChangeID:  entry.ID,
			FileName:  entry.FileName,
		})
	}
}
