package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/llm"
	"github.com/stellarlinkco/briefops/internal/scope"
	"github.com/stellarlinkco/briefops/internal/store"
)

const memoryContextLimit = 12

// Runner produces one version per ticket. Scheduled runs, manual "run now"
// and the synchronous queue fallback all execute through here.
type Runner struct {
	store     *store.Engine
	scope     *scope.Engine
	completer llm.Completer
}

func NewRunner(st *store.Engine, sc *scope.Engine, completer llm.Completer) *Runner {
	return &Runner{store: st, scope: sc, completer: completer}
}

// Execute implements the queue's runner contract.
func (r *Runner) Execute(ctx context.Context, ticket *store.WorkTicket) (string, error) {
	d, err := r.store.GetDeliverable(ticket.UserID, ticket.DeliverableID)
	if err != nil {
		return "", fmt.Errorf("load deliverable: %w", err)
	}
	if d.Status == deliverable.StatusArchived {
		return "", fmt.Errorf("deliverable %s is archived", d.ID)
	}

	version, err := r.store.CreateVersion(d.UserID, d.ID)
	if err != nil {
		return "", err
	}

	r.progress(ticket, "fetching", 10, "pulling sources")
	result, err := r.scope.Fetch(ctx, d, time.Now().UTC())
	if err != nil {
		r.failVersion(d, version.ID, fmt.Sprintf("fetch: %v", err))
		return "", fmt.Errorf("fetch sources: %w", err)
	}
	if result.AllSourcesFailed() {
		r.failVersion(d, version.ID, "all sources failed")
		return "", fmt.Errorf("all %d sources failed", result.Summary.SourcesTotal)
	}

	r.progress(ticket, "generating", 50, "drafting content")
	prompt, err := r.buildPrompt(d, result)
	if err != nil {
		r.failVersion(d, version.ID, fmt.Sprintf("build prompt: %v", err))
		return "", err
	}
	draft, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		r.failVersion(d, version.ID, fmt.Sprintf("generate: %v", err))
		return "", fmt.Errorf("generate draft: %w", err)
	}

	r.progress(ticket, "staging", 90, "staging draft")
	if err := r.store.StageVersion(d.UserID, version.ID, draft, &result.Summary); err != nil {
		return "", fmt.Errorf("stage version: %w", err)
	}

	if err := r.store.AppendActivity(d.UserID, store.EventDeliverableRun, d.ID, map[string]any{
		"version_id":        version.ID,
		"deliverable_type":  string(d.Type),
		"sources_total":     result.Summary.SourcesTotal,
		"sources_succeeded": result.Summary.SourcesSucceeded,
		"sources_failed":    result.Summary.SourcesFailed,
		"truncated":         result.Summary.Truncated,
	}); err != nil {
		log.Printf("[pipeline] log run activity: %v", err)
	}
	return version.ID, nil
}

func (r *Runner) progress(ticket *store.WorkTicket, stage string, percent int, message string) {
	if err := r.store.SetTicketProgress(ticket.UserID, ticket.ID, stage, percent, message); err != nil {
		log.Printf("[pipeline] set progress on ticket %s: %v", ticket.ID, err)
	}
}

func (r *Runner) failVersion(d *deliverable.Deliverable, versionID, reason string) {
	if err := r.store.SetVersionStatus(d.UserID, versionID, deliverable.VersionFailed, deliverable.VersionGenerating); err != nil {
		log.Printf("[pipeline] fail version %s: %v", versionID, err)
	}
	if err := r.store.AppendActivity(d.UserID, store.EventDeliverableFailed, d.ID, map[string]any{
		"version_id": versionID,
		"reason":     reason,
	}); err != nil {
		log.Printf("[pipeline] log failure activity: %v", err)
	}
}

// buildPrompt assembles the type template, recipient context, learned
// preferences and the fetched items into one generation prompt.
func (r *Runner) buildPrompt(d *deliverable.Deliverable, result *scope.Result) (string, error) {
	tmpl, err := deliverable.TemplateFor(d.Type)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(tmpl.RenderPrompt(d.Title))
	sb.WriteString("\n")

	if ctxText := strings.TrimSpace(d.RecipientContext); ctxText != "" {
		sb.WriteString("\nAudience: " + ctxText + "\n")
	}

	memories, err := r.store.ListMemories(d.UserID, memoryContextLimit)
	if err != nil {
		log.Printf("[pipeline] load memories: %v", err)
	}
	if len(memories) > 0 {
		sb.WriteString("\nKnown preferences:\n")
		for _, m := range memories {
			sb.WriteString(fmt.Sprintf("- %s\n", m.Value))
		}
	}

	sb.WriteString(fmt.Sprintf("\nSource material (%s to %s):\n",
		result.Summary.TimeRangeStart.Format(time.RFC3339),
		result.Summary.TimeRangeEnd.Format(time.RFC3339)))
	for _, item := range result.Items {
		sb.WriteString(fmt.Sprintf("--- [%s] %s (%s)\n%s\n",
			item.SourceKey, item.Title, item.Timestamp.Format(time.RFC3339), item.Content))
	}

	if result.Summary.SourcesFailed > 0 {
		sb.WriteString(fmt.Sprintf("\nNote: %d of %d sources could not be fetched; state that coverage is partial.\n",
			result.Summary.SourcesFailed, result.Summary.SourcesTotal))
	}
	if result.Summary.Truncated {
		sb.WriteString("\nNote: source material was truncated; do not present it as exhaustive.\n")
	}
	return sb.String(), nil
}
