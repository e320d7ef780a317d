package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/store"
)

type scriptedCompleter struct {
	responses []string
	calls     int
}

func (c *scriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteJSON(ctx, prompt)
}

func (c *scriptedCompleter) CompleteJSON(_ context.Context, _ string) (string, error) {
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("unexpected call %d", c.calls)
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func decisionJSON(t *testing.T, action, deliverableID, title, dType, reason string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{
		"action":           action,
		"deliverable_id":   deliverableID,
		"title":            title,
		"deliverable_type": dType,
		"reason":           reason,
	})
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return string(data)
}

type stubSubmitter struct {
	submitted []string
}

func (s *stubSubmitter) Submit(userID, deliverableID string) (*store.WorkTicket, error) {
	s.submitted = append(s.submitted, deliverableID)
	return &store.WorkTicket{ID: "t", UserID: userID, DeliverableID: deliverableID}, nil
}

func newSignalStore(t *testing.T) *store.Engine {
	t.Helper()
	st, err := store.NewEngine(filepath.Join(t.TempDir(), "signal.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func activeDeliverable(t *testing.T, st *store.Engine, userID, title string) *deliverable.Deliverable {
	t.Helper()
	d := &deliverable.Deliverable{
		UserID:   userID,
		Title:    title,
		Type:     deliverable.TypeMeetingPrep,
		Schedule: deliverable.Schedule{Frequency: deliverable.Weekly, Weekday: "monday"},
		Sources: []deliverable.Source{{
			Type:  deliverable.SourceDescription,
			Text:  "Vendor relationship notes.",
			Scope: deliverable.ExtractionScope{Mode: deliverable.ScopeFixedWindow, RecencyDays: 7},
		}},
		Destination: deliverable.Destination{Type: deliverable.DestLog},
	}
	if err := st.CreateDeliverable(d); err != nil {
		t.Fatalf("CreateDeliverable: %v", err)
	}
	return d
}

func testSignal(id string) Signal {
	return Signal{
		ID:       id,
		Kind:     "calendar_entry",
		Title:    "Quarterly review with Acme",
		Body:     "60 minutes, their CTO is attending.",
		OccursAt: time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC),
	}
}

func TestProcessTriggersExisting(t *testing.T) {
	st := newSignalStore(t)
	d := activeDeliverable(t, st, "u1", "Acme account prep")

	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionTriggerExisting, d.ID, "", "", "stale coverage"),
	}}
	submitter := &stubSubmitter{}
	e := NewEngine(st, completer, submitter)

	decisions, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions=%d, want 1", len(decisions))
	}
	if decisions[0].Action != ActionTriggerExisting || decisions[0].DeliverableID != d.ID {
		t.Fatalf("decision=%+v", decisions[0])
	}
	if len(submitter.submitted) != 1 || submitter.submitted[0] != d.ID {
		t.Fatalf("submitted=%v", submitter.submitted)
	}
}

func TestProcessTriggerDeclinedForPaused(t *testing.T) {
	st := newSignalStore(t)
	d := activeDeliverable(t, st, "u1", "Acme account prep")
	if err := st.SetDeliverableStatus("u1", d.ID, deliverable.StatusPaused); err != nil {
		t.Fatalf("SetDeliverableStatus: %v", err)
	}

	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionTriggerExisting, d.ID, "", "", "stale coverage"),
	}}
	submitter := &stubSubmitter{}
	e := NewEngine(st, completer, submitter)

	decisions, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if decisions[0].Action != ActionNoAction {
		t.Fatalf("Action=%s, want no_action when target is paused", decisions[0].Action)
	}
	if len(submitter.submitted) != 0 {
		t.Fatal("paused deliverable must not be submitted")
	}
}

func TestProcessCreatesEmergentDeliverable(t *testing.T) {
	st := newSignalStore(t)
	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionCreateEmergent, "", "Acme quarterly review prep", "meeting_prep", "no coverage"),
	}}
	submitter := &stubSubmitter{}
	e := NewEngine(st, completer, submitter)

	decisions, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if decisions[0].Action != ActionCreateEmergent || decisions[0].DeliverableID == "" {
		t.Fatalf("decision=%+v", decisions[0])
	}

	d, err := st.GetDeliverable("u1", decisions[0].DeliverableID)
	if err != nil {
		t.Fatalf("GetDeliverable: %v", err)
	}
	if d.Origin != deliverable.OriginSignalEmergent {
		t.Fatalf("Origin=%s, want signal_emergent", d.Origin)
	}
	if d.Type != deliverable.TypeMeetingPrep {
		t.Fatalf("Type=%s", d.Type)
	}
	if len(d.Sources) != 1 || d.Sources[0].Type != deliverable.SourceDescription {
		t.Fatalf("Sources=%+v", d.Sources)
	}

	// The new deliverable must be schedulable and get an immediate run.
	if d.NextRunAt.IsZero() {
		t.Fatal("emergent deliverable has no next_run_at; it would never be picked up")
	}
	if len(submitter.submitted) != 1 || submitter.submitted[0] != d.ID {
		t.Fatalf("submitted=%v, want an immediate run of %s", submitter.submitted, d.ID)
	}
}

func TestProcessTriggerDeclinedWhileVersionInFlight(t *testing.T) {
	st := newSignalStore(t)
	d := activeDeliverable(t, st, "u1", "Acme account prep")
	if _, err := st.CreateVersion("u1", d.ID); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionTriggerExisting, d.ID, "", "", "stale coverage"),
	}}
	submitter := &stubSubmitter{}
	e := NewEngine(st, completer, submitter)

	decisions, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if decisions[0].Action != ActionNoAction {
		t.Fatalf("Action=%s, want no_action while a version is in flight", decisions[0].Action)
	}
	if len(submitter.submitted) != 0 {
		t.Fatal("in-flight deliverable must not be submitted")
	}
}

func TestProcessCreateFallsBackToBriefOnUnknownType(t *testing.T) {
	st := newSignalStore(t)
	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionCreateEmergent, "", "Acme follow-up", "press_release", "no coverage"),
	}}
	e := NewEngine(st, completer, &stubSubmitter{})

	decisions, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	d, err := st.GetDeliverable("u1", decisions[0].DeliverableID)
	if err != nil {
		t.Fatalf("GetDeliverable: %v", err)
	}
	if d.Type != deliverable.TypeBrief {
		t.Fatalf("Type=%s, want brief fallback", d.Type)
	}
}

func TestProcessDeduplicatesByFingerprint(t *testing.T) {
	st := newSignalStore(t)
	completer := &scriptedCompleter{responses: []string{
		decisionJSON(t, ActionNoAction, "", "", "", "nothing to do"),
	}}
	e := NewEngine(st, completer, &stubSubmitter{})

	sig := testSignal("s1")
	if _, err := e.Process(context.Background(), "u1", []Signal{sig}); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	// Same content under a different id: fingerprinted, no second model call.
	sig.ID = "s2"
	decisions, err := e.Process(context.Background(), "u1", []Signal{sig})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if decisions[0].Reason != "already handled" {
		t.Fatalf("Reason=%q, want already handled", decisions[0].Reason)
	}
	if completer.calls != 1 {
		t.Fatalf("completer calls=%d, want 1", completer.calls)
	}
}

func TestProcessDuplicateEmergentTitleDeclined(t *testing.T) {
	st := newSignalStore(t)
	first := decisionJSON(t, ActionCreateEmergent, "", "Acme quarterly review prep", "brief", "no coverage")
	second := decisionJSON(t, ActionCreateEmergent, "", "acme quarterly review prep", "brief", "no coverage")
	completer := &scriptedCompleter{responses: []string{first, second}}
	e := NewEngine(st, completer, &stubSubmitter{})

	if _, err := e.Process(context.Background(), "u1", []Signal{testSignal("s1")}); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	other := testSignal("s2")
	other.Body = "rescheduled to 90 minutes" // new fingerprint
	decisions, err := e.Process(context.Background(), "u1", []Signal{other})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if decisions[0].Action != ActionNoAction {
		t.Fatalf("Action=%s, want no_action for duplicate emergent title", decisions[0].Action)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := testSignal("s1")
	b := testSignal("different-id")
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint must ignore the signal id")
	}
	b.Body = "changed"
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("fingerprint must change with content")
	}
}
