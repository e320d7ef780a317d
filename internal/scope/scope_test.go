package scope

import (
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// memWatermarks is an in-memory WatermarkStore for tests.
type memWatermarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{marks: make(map[string]time.Time)}
}

func (m *memWatermarks) key(userID, deliverableID, sourceKey string) string {
	return userID + "|" + deliverableID + "|" + sourceKey
}

func (m *memWatermarks) Watermark(userID, deliverableID, sourceKey string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.marks[m.key(userID, deliverableID, sourceKey)]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memWatermarks) AdvanceWatermark(userID, deliverableID, sourceKey string, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, deliverableID, sourceKey)
	if existing, ok := m.marks[k]; !ok || to.After(existing) {
		m.marks[k] = to
	}
	return nil
}

func TestResolveWindowDeltaFirstRun(t *testing.T) {
	store := newMemWatermarks()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	src := deliverable.Source{
		Type:  deliverable.SourceURL,
		URL:   "https://example.com",
		Scope: deliverable.ExtractionScope{Mode: deliverable.ScopeDelta, FallbackDays: 7},
	}

	w, err := ResolveWindow(store, "u1", "d1", src, now)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if w.UsedWatermark {
		t.Fatal("first run should not use a watermark")
	}
	if want := now.AddDate(0, 0, -7); !w.Since.Equal(want) {
		t.Fatalf("Since=%s, want %s", w.Since, want)
	}
	if !w.Until.Equal(now) {
		t.Fatalf("Until=%s, want %s", w.Until, now)
	}
}

func TestResolveWindowDeltaWithWatermark(t *testing.T) {
	store := newMemWatermarks()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	mark := now.Add(-36 * time.Hour)
	src := deliverable.Source{
		Type:  deliverable.SourceURL,
		URL:   "https://example.com",
		Scope: deliverable.ExtractionScope{Mode: deliverable.ScopeDelta, FallbackDays: 7},
	}
	_ = store.AdvanceWatermark("u1", "d1", src.Key(), mark)

	w, err := ResolveWindow(store, "u1", "d1", src, now)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if !w.UsedWatermark {
		t.Fatal("expected watermark to be used")
	}
	if !w.Since.Equal(mark) {
		t.Fatalf("Since=%s, want watermark %s", w.Since, mark)
	}
}

func TestResolveWindowFixedIgnoresWatermark(t *testing.T) {
	store := newMemWatermarks()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	src := deliverable.Source{
		Type:  deliverable.SourceURL,
		URL:   "https://example.com",
		Scope: deliverable.ExtractionScope{Mode: deliverable.ScopeFixedWindow, RecencyDays: 3},
	}
	_ = store.AdvanceWatermark("u1", "d1", src.Key(), now.Add(-time.Hour))

	w, err := ResolveWindow(store, "u1", "d1", src, now)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if w.UsedWatermark {
		t.Fatal("fixed window must never use a watermark")
	}
	if want := now.AddDate(0, 0, -3); !w.Since.Equal(want) {
		t.Fatalf("Since=%s, want %s", w.Since, want)
	}
}

func TestResolveWindowUnknownMode(t *testing.T) {
	src := deliverable.Source{Scope: deliverable.ExtractionScope{Mode: "sliding"}}
	if _, err := ResolveWindow(newMemWatermarks(), "u1", "d1", src, time.Now()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
