package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/scope"
	"github.com/stellarlinkco/briefops/internal/store"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeCompleter) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return c.Complete(ctx, prompt)
}

type brokenProvider struct{}

func (brokenProvider) Fetch(context.Context, deliverable.Source, scope.Window) ([]scope.Item, error) {
	return nil, errors.New("upstream down")
}

func newPipelineStore(t *testing.T) *store.Engine {
	t.Helper()
	st, err := store.NewEngine(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newDeliverable(userID string) *deliverable.Deliverable {
	return &deliverable.Deliverable{
		UserID: userID,
		Title:  "Weekly status report",
		Type:   deliverable.TypeStatusReport,
		Schedule: deliverable.Schedule{
			Frequency: deliverable.Weekly,
			Weekday:   "friday",
			TimeOfDay: "09:00",
		},
		Sources: []deliverable.Source{{
			Type: deliverable.SourceDescription,
			Text: "Track the billing migration rollout.",
			Scope: deliverable.ExtractionScope{
				Mode:        deliverable.ScopeFixedWindow,
				RecencyDays: 7,
			},
		}},
		Destination:      deliverable.Destination{Type: deliverable.DestLog},
		RecipientContext: "engineering leadership",
	}
}

func mustCreate(t *testing.T, st *store.Engine, d *deliverable.Deliverable) {
	t.Helper()
	if err := st.CreateDeliverable(d); err != nil {
		t.Fatalf("CreateDeliverable: %v", err)
	}
}

func mustTicket(t *testing.T, st *store.Engine, userID, deliverableID string) *store.WorkTicket {
	t.Helper()
	ticket, err := st.CreateTicket(userID, deliverableID)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestRunnerExecuteStagesVersion(t *testing.T) {
	st := newPipelineStore(t)
	d := newDeliverable("u1")
	mustCreate(t, st, d)
	if err := st.UpsertMemory("u1", "pattern:formatting_length", "prefers shorter deliverables", "pattern", 0.8); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	completer := &fakeCompleter{reply: "Draft: billing migration on track."}
	runner := NewRunner(st, scope.NewEngine(st), completer)

	ticket := mustTicket(t, st, "u1", d.ID)
	versionID, err := runner.Execute(context.Background(), ticket)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	v, err := st.GetVersion("u1", versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Status != deliverable.VersionStaged {
		t.Fatalf("Status=%s, want staged", v.Status)
	}
	if v.DraftContent != completer.reply {
		t.Fatalf("DraftContent=%q", v.DraftContent)
	}
	if v.FetchSummary == nil || v.FetchSummary.SourcesSucceeded != 1 {
		t.Fatalf("FetchSummary=%+v", v.FetchSummary)
	}

	if len(completer.prompts) != 1 {
		t.Fatalf("completer called %d times", len(completer.prompts))
	}
	prompt := completer.prompts[0]
	for _, want := range []string{
		"Weekly status report",
		"engineering leadership",
		"prefers shorter deliverables",
		"Track the billing migration rollout.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	entries, err := st.ActivitySince("u1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ActivitySince: %v", err)
	}
	var sawRun bool
	for _, e := range entries {
		if e.EventType == store.EventDeliverableRun && e.DeliverableID == d.ID {
			sawRun = true
		}
	}
	if !sawRun {
		t.Fatal("no deliverable_run activity recorded")
	}
}

func TestRunnerExecuteAllSourcesFailed(t *testing.T) {
	st := newPipelineStore(t)
	d := newDeliverable("u1")
	mustCreate(t, st, d)

	sc := scope.NewEngine(st)
	sc.Register(deliverable.SourceDescription, brokenProvider{})
	runner := NewRunner(st, sc, &fakeCompleter{reply: "unused"})

	ticket := mustTicket(t, st, "u1", d.ID)
	if _, err := runner.Execute(context.Background(), ticket); err == nil {
		t.Fatal("expected error when every source fails")
	}

	v, err := st.LatestVersion("u1", d.ID)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if v.Status != deliverable.VersionFailed {
		t.Fatalf("Status=%s, want failed", v.Status)
	}

	// The terminal failure must not block the next run.
	ticket = mustTicket(t, st, "u1", d.ID)
	sc.Register(deliverable.SourceDescription, &scope.DescriptionProvider{})
	if _, err := runner.Execute(context.Background(), ticket); err != nil {
		t.Fatalf("Execute after failure: %v", err)
	}
}

func TestRunnerExecuteGenerationFailure(t *testing.T) {
	st := newPipelineStore(t)
	d := newDeliverable("u1")
	mustCreate(t, st, d)

	runner := NewRunner(st, scope.NewEngine(st), &fakeCompleter{err: errors.New("model unavailable")})
	ticket := mustTicket(t, st, "u1", d.ID)
	if _, err := runner.Execute(context.Background(), ticket); err == nil {
		t.Fatal("expected generation error")
	}

	v, err := st.LatestVersion("u1", d.ID)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if v.Status != deliverable.VersionFailed {
		t.Fatalf("Status=%s, want failed", v.Status)
	}
}

func TestRunnerExecuteRejectsArchived(t *testing.T) {
	st := newPipelineStore(t)
	d := newDeliverable("u1")
	mustCreate(t, st, d)
	if err := st.SetDeliverableStatus("u1", d.ID, deliverable.StatusArchived); err != nil {
		t.Fatalf("SetDeliverableStatus: %v", err)
	}

	runner := NewRunner(st, scope.NewEngine(st), &fakeCompleter{reply: "unused"})
	ticket := mustTicket(t, st, "u1", d.ID)
	if _, err := runner.Execute(context.Background(), ticket); err == nil {
		t.Fatal("archived deliverable must not run")
	}
}

func TestRunnerExecuteSecondRunBlockedByStagedVersion(t *testing.T) {
	st := newPipelineStore(t)
	d := newDeliverable("u1")
	mustCreate(t, st, d)

	runner := NewRunner(st, scope.NewEngine(st), &fakeCompleter{reply: "draft"})
	ticket := mustTicket(t, st, "u1", d.ID)
	if _, err := runner.Execute(context.Background(), ticket); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	ticket = mustTicket(t, st, "u1", d.ID)
	_, err := runner.Execute(context.Background(), ticket)
	if !errors.Is(err, store.ErrRunInFlight) {
		t.Fatalf("err=%v, want ErrRunInFlight while a staged version is pending", err)
	}
}
