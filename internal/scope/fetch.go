package scope

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// Item is one piece of extracted content.
type Item struct {
	SourceKey string
	Title     string
	Content   string
	Timestamp time.Time
}

// Provider fetches items for one source type within a resolved window.
type Provider interface {
	Fetch(ctx context.Context, src deliverable.Source, window Window) ([]Item, error)
}

// Result aggregates the fan-out outcome for one run.
type Result struct {
	Items   []Item
	Summary deliverable.FetchSummary
}

// AllSourcesFailed reports whether nothing at all could be fetched.
func (r *Result) AllSourcesFailed() bool {
	return r.Summary.SourcesTotal > 0 && r.Summary.SourcesFailed == r.Summary.SourcesTotal
}

// Engine runs source fetches in parallel with independent failure domains.
type Engine struct {
	store     WatermarkStore
	providers map[deliverable.SourceType]Provider
}

func NewEngine(store WatermarkStore) *Engine {
	return &Engine{
		store: store,
		providers: map[deliverable.SourceType]Provider{
			deliverable.SourceURL:         &URLProvider{},
			deliverable.SourceDescription: &DescriptionProvider{},
		},
	}
}

// Register installs or replaces the provider for a source type.
func (e *Engine) Register(t deliverable.SourceType, p Provider) {
	e.providers[t] = p
}

type sourceOutcome struct {
	key       string
	window    Window
	items     []Item
	truncated bool
	err       error
}

// Fetch pulls every source of the deliverable concurrently. One source
// failing neither blocks its siblings nor advances its own watermark; the
// summary records partial failure so generation can caveat the output.
func (e *Engine) Fetch(ctx context.Context, d *deliverable.Deliverable, now time.Time) (*Result, error) {
	outcomes := make([]sourceOutcome, len(d.Sources))

	var g errgroup.Group
	g.SetLimit(4)
	for i, src := range d.Sources {
		g.Go(func() error {
			outcomes[i] = e.fetchOne(ctx, d, src, now)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		Summary: deliverable.FetchSummary{
			SourcesTotal: len(d.Sources),
			TimeRangeEnd: now,
		},
	}
	for _, out := range outcomes {
		if out.err != nil {
			result.Summary.SourcesFailed++
			result.Summary.FailedSources = append(result.Summary.FailedSources, out.key)
			log.Printf("[scope] source %s failed: %v", out.key, out.err)
			continue
		}
		result.Summary.SourcesSucceeded++
		if out.window.UsedWatermark {
			result.Summary.DeltaModeUsed = true
		}
		if out.truncated {
			result.Summary.Truncated = true
		}
		if result.Summary.TimeRangeStart.IsZero() || out.window.Since.Before(result.Summary.TimeRangeStart) {
			result.Summary.TimeRangeStart = out.window.Since
		}
		result.Items = append(result.Items, out.items...)
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].Timestamp.Before(result.Items[j].Timestamp)
	})
	return result, nil
}

func (e *Engine) fetchOne(ctx context.Context, d *deliverable.Deliverable, src deliverable.Source, now time.Time) sourceOutcome {
	out := sourceOutcome{key: src.Key()}

	provider, ok := e.providers[src.Type]
	if !ok {
		out.err = fmt.Errorf("no provider for source type %q", src.Type)
		return out
	}

	window, err := ResolveWindow(e.store, d.UserID, d.ID, src, now)
	if err != nil {
		out.err = err
		return out
	}
	out.window = window

	items, err := provider.Fetch(ctx, src, window)
	if err != nil {
		out.err = err
		return out
	}

	if src.Scope.MaxItems > 0 && len(items) > src.Scope.MaxItems {
		items = items[:src.Scope.MaxItems]
		out.truncated = true
	}
	out.items = items

	// The watermark only moves after the fetch has fully succeeded, so a
	// failed or partial fetch replays the same range on the next run.
	if src.Scope.Mode == deliverable.ScopeDelta {
		if err := e.store.AdvanceWatermark(d.UserID, d.ID, src.Key(), now); err != nil {
			out.err = fmt.Errorf("advance watermark: %w", err)
			out.items = nil
			return out
		}
	}
	return out
}

// StaticProvider serves canned items, keyed by source key. Tests and local
// development use it in place of live integrations.
type StaticProvider struct {
	mu    sync.Mutex
	items map[string][]Item
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{items: make(map[string][]Item)}
}

func (p *StaticProvider) Add(sourceKey string, items ...Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[sourceKey] = append(p.items[sourceKey], items...)
}

func (p *StaticProvider) Fetch(_ context.Context, src deliverable.Source, window Window) ([]Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Item
	for _, item := range p.items[src.Key()] {
		if item.Timestamp.Before(window.Since) || item.Timestamp.After(window.Until) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
