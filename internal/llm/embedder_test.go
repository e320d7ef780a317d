package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellarlinkco/briefops/internal/config"
)

func embeddingServer(t *testing.T, dim int, onInput func(any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if onInput != nil {
			onInput(req.Input)
		}

		count := 1
		if list, ok := req.Input.([]any); ok {
			count = len(list)
		}
		data := make([]map[string]any, count)
		for i := 0; i < count; i++ {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data[i] = map[string]any{"index": i, "embedding": vec}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func embedderConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.APIKey = "test-key"
	cfg.Embedding.BaseURL = baseURL
	cfg.Embedding.Model = "test-embed"
	return cfg
}

func TestEmbed(t *testing.T) {
	srv := embeddingServer(t, 4, nil)
	defer srv.Close()

	e := NewEmbedder(embedderConfig(srv.URL))
	vec, err := e.Embed(context.Background(), "  some text  ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("dim=%d, want 4", len(vec))
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	e := NewEmbedder(embedderConfig("http://unused"))
	if _, err := e.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestEmbedBatchChunks(t *testing.T) {
	var calls int
	srv := embeddingServer(t, 3, func(any) { calls++ })
	defer srv.Close()

	cfg := embedderConfig(srv.URL)
	cfg.Embedding.BatchSize = 2
	e := NewEmbedder(cfg)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("vectors=%d, want 5", len(vectors))
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3 chunks of size <=2", calls)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, 3, nil)
	defer srv.Close()

	cfg := embedderConfig(srv.URL)
	cfg.Embedding.Dimension = 8
	e := NewEmbedder(cfg)

	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedAPIProviderRequiresKey(t *testing.T) {
	cfg := embedderConfig("http://unused")
	cfg.Embedding.APIKey = ""
	cfg.Provider.APIKey = ""
	e := NewEmbedder(cfg)

	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error without api key for api provider")
	}
}
