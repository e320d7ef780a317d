// Package signal reacts to external events (a new calendar entry, an inbound
// escalation) by either triggering an existing deliverable, creating a
// one-off signal-emergent deliverable, or doing nothing.
package signal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/llm"
	"github.com/stellarlinkco/briefops/internal/store"
)

const (
	ActionTriggerExisting = "trigger_existing"
	ActionCreateEmergent  = "create_signal_emergent"
	ActionNoAction        = "no_action"

	versionPreviewChars = 400
	dedupeWindowDays    = 7
)

// Signal is one external event to be considered.
type Signal struct {
	ID       string
	Kind     string // calendar_entry, message_thread, document_change
	Title    string
	Body     string
	OccursAt time.Time
}

// Decision is the engine's verdict for one signal.
type Decision struct {
	SignalID      string
	Action        string
	DeliverableID string
	Reason        string
}

// Submitter triggers a deliverable run; the queue dispatcher satisfies it.
type Submitter interface {
	Submit(userID, deliverableID string) (*store.WorkTicket, error)
}

type Engine struct {
	store     *store.Engine
	completer llm.Completer
	submitter Submitter
}

func NewEngine(st *store.Engine, completer llm.Completer, submitter Submitter) *Engine {
	return &Engine{store: st, completer: completer, submitter: submitter}
}

const decisionPrompt = `You route incoming workplace signals to recurring deliverables.

Signal:
kind: %s
title: %s
occurs_at: %s
body: %s

Existing deliverables (most recent content preview and its age):
%s

Decide one action:
- "trigger_existing" if one deliverable's recent content already covers this signal's parties and topic but is stale enough to need a refresh; give its id.
- "create_signal_emergent" if no deliverable covers it; propose a title and a type from: status_report, meeting_prep, digest, brief, summary.
- "no_action" if a deliverable covers it with fresh content, or the signal needs nothing.

Return strict JSON object:
{"action":"...","deliverable_id":"...","title":"...","deliverable_type":"...","reason":"..."}`

type decisionPayload struct {
	Action          string `json:"action"`
	DeliverableID   string `json:"deliverable_id"`
	Title           string `json:"title"`
	DeliverableType string `json:"deliverable_type"`
	Reason          string `json:"reason"`
}

// Process evaluates each signal against the user's current deliverables.
// Re-running over the same signal set is safe: handled signals are skipped by
// fingerprint and every decision re-checks live state before acting.
func (e *Engine) Process(ctx context.Context, userID string, signals []Signal) ([]Decision, error) {
	var decisions []Decision
	for _, sig := range signals {
		decision, err := e.processOne(ctx, userID, sig)
		if err != nil {
			log.Printf("[signal] process signal %s: %v", sig.ID, err)
			continue
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (e *Engine) processOne(ctx context.Context, userID string, sig Signal) (Decision, error) {
	fp := Fingerprint(sig)
	since := time.Now().UTC().AddDate(0, 0, -dedupeWindowDays)
	handled, err := e.store.HasActivityWithMetadata(userID, store.EventSignalDecision, "fingerprint", fp, since)
	if err != nil {
		return Decision{}, fmt.Errorf("dedupe check: %w", err)
	}
	if handled {
		return Decision{SignalID: sig.ID, Action: ActionNoAction, Reason: "already handled"}, nil
	}

	existing, err := e.store.ListDeliverables(userID, false)
	if err != nil {
		return Decision{}, fmt.Errorf("list deliverables: %w", err)
	}

	payload, err := e.decide(ctx, userID, sig, existing)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{SignalID: sig.ID, Action: payload.Action, Reason: payload.Reason}
	switch payload.Action {
	case ActionTriggerExisting:
		decision.DeliverableID = payload.DeliverableID
		if err := e.applyTrigger(userID, payload.DeliverableID); err != nil {
			decision.Action = ActionNoAction
			decision.Reason = fmt.Sprintf("trigger declined: %v", err)
		}
	case ActionCreateEmergent:
		id, err := e.applyCreate(userID, sig, payload, existing)
		if err != nil {
			decision.Action = ActionNoAction
			decision.Reason = fmt.Sprintf("create declined: %v", err)
		} else {
			decision.DeliverableID = id
		}
	case ActionNoAction:
	default:
		decision.Action = ActionNoAction
		decision.Reason = fmt.Sprintf("unknown action %q", payload.Action)
	}

	if err := e.store.AppendActivity(userID, store.EventSignalDecision, decision.DeliverableID, map[string]any{
		"fingerprint": fp,
		"signal_id":   sig.ID,
		"action":      decision.Action,
		"reason":      decision.Reason,
	}); err != nil {
		log.Printf("[signal] log decision: %v", err)
	}
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, userID string, sig Signal, existing []deliverable.Deliverable) (*decisionPayload, error) {
	catalog := e.describeDeliverables(userID, existing)
	prompt := fmt.Sprintf(decisionPrompt, sig.Kind, sig.Title, sig.OccursAt.Format(time.RFC3339), sig.Body, catalog)

	resp, err := e.completer.CompleteJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decision call: %w", err)
	}
	var payload decisionPayload
	if err := json.Unmarshal([]byte(resp), &payload); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}
	return &payload, nil
}

// describeDeliverables renders each active deliverable with a bounded preview
// of its latest content and that content's age, so the decision is
// content-aware rather than type-aware.
func (e *Engine) describeDeliverables(userID string, existing []deliverable.Deliverable) string {
	if len(existing) == 0 {
		return "(none)"
	}
	now := time.Now().UTC()
	var sb strings.Builder
	for _, d := range existing {
		preview := "(never generated)"
		age := "n/a"
		if v, err := e.store.LatestVersion(userID, d.ID); err == nil {
			content := strings.TrimSpace(v.EffectiveContent())
			if content != "" {
				preview = truncateRunes(content, versionPreviewChars)
				ageDays := int(now.Sub(v.CreatedAt).Hours() / 24)
				age = fmt.Sprintf("%d days", ageDays)
			}
		}
		sb.WriteString(fmt.Sprintf("id: %s | type: %s | title: %s | status: %s | content age: %s\npreview: %s\n\n",
			d.ID, d.Type, d.Title, d.Status, age, preview))
	}
	return sb.String()
}

func (e *Engine) applyTrigger(userID, deliverableID string) error {
	// Re-check live state: the deliverable must still exist, be active, and
	// have no version in flight. Submitting against an in-flight version would
	// fail the ticket after the fingerprint already marked the signal handled.
	d, err := e.store.GetDeliverable(userID, deliverableID)
	if err != nil {
		return err
	}
	if d.Status != deliverable.StatusActive {
		return fmt.Errorf("deliverable %s is %s", d.ID, d.Status)
	}
	if v, err := e.store.LatestVersion(userID, deliverableID); err == nil && !v.Status.Terminal() {
		return fmt.Errorf("deliverable %s already has a %s version", d.ID, v.Status)
	}
	if e.submitter == nil {
		return fmt.Errorf("no submitter configured")
	}
	_, err = e.submitter.Submit(userID, deliverableID)
	return err
}

func (e *Engine) applyCreate(userID string, sig Signal, payload *decisionPayload, existing []deliverable.Deliverable) (string, error) {
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = sig.Title
	}
	// Re-check live state: an identically titled emergent deliverable means a
	// concurrent pass already created it.
	for _, d := range existing {
		if d.Origin == deliverable.OriginSignalEmergent && strings.EqualFold(d.Title, title) {
			return "", fmt.Errorf("emergent deliverable %q already exists", title)
		}
	}

	dType, err := deliverable.ParseType(payload.DeliverableType)
	if err != nil {
		dType = deliverable.TypeBrief
	}

	d := &deliverable.Deliverable{
		UserID: userID,
		Title:  title,
		Type:   dType,
		Origin: deliverable.OriginSignalEmergent,
		Schedule: deliverable.Schedule{
			Frequency: deliverable.Daily,
			TimeOfDay: sig.OccursAt.UTC().Format("15:04"),
		},
		Sources: []deliverable.Source{{
			Type: deliverable.SourceDescription,
			Text: fmt.Sprintf("%s: %s\n%s", sig.Kind, sig.Title, sig.Body),
			Scope: deliverable.ExtractionScope{
				Mode:        deliverable.ScopeFixedWindow,
				RecencyDays: 7,
			},
		}},
		Destination: deliverable.Destination{Type: deliverable.DestLog},
	}
	if err := d.Validate(); err != nil {
		return "", err
	}
	if err := e.store.CreateDeliverable(d); err != nil {
		return "", err
	}

	// Schedule it like any other deliverable and run it right away; a signal
	// that warranted a new deliverable warrants content now, not tomorrow.
	next := d.Schedule.NextRun(time.Now().UTC())
	if err := e.store.SetNextRun(userID, d.ID, next); err != nil {
		return "", fmt.Errorf("schedule emergent deliverable: %w", err)
	}
	if e.submitter != nil {
		if _, err := e.submitter.Submit(userID, d.ID); err != nil {
			log.Printf("[signal] submit emergent run for %s: %v", d.ID, err)
		}
	}
	return d.ID, nil
}

// Fingerprint identifies a signal's content for dedupe across repeated runs.
func Fingerprint(sig Signal) string {
	h := sha256.Sum256([]byte(sig.Kind + "\x00" + sig.Title + "\x00" + sig.Body + "\x00" + sig.OccursAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h[:16])
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
