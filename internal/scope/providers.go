package scope

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

const maxURLBodyBytes = 256 * 1024

// URLProvider fetches a page or feed over HTTP and yields it as one item
// stamped at fetch time.
type URLProvider struct {
	Client *http.Client
}

func (p *URLProvider) Fetch(ctx context.Context, src deliverable.Source, window Window) ([]Item, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	req.Header.Set("User-Agent", "briefops/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch url: http %d from %s", resp.StatusCode, src.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch url: read body: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return nil, nil
	}

	return []Item{{
		SourceKey: src.Key(),
		Title:     src.URL,
		Content:   content,
		Timestamp: window.Until,
	}}, nil
}

// DescriptionProvider yields the source's free-text description as a single
// synthetic item. It exists so a deliverable can carry standing context
// ("cover the Q3 migration") alongside live sources.
type DescriptionProvider struct{}

func (p *DescriptionProvider) Fetch(_ context.Context, src deliverable.Source, window Window) ([]Item, error) {
	text := strings.TrimSpace(src.Text)
	if text == "" {
		return nil, nil
	}
	return []Item{{
		SourceKey: src.Key(),
		Title:     "context",
		Content:   text,
		Timestamp: window.Until,
	}}, nil
}
