package intent

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func mustCatalog(t *testing.T) []Skill {
	t.Helper()
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return catalog
}

func TestDetectSlashCommand(t *testing.T) {
	embedder := &fakeEmbedder{}
	d := NewDetector(mustCatalog(t), embedder, 0.72)

	got := d.Detect(context.Background(), "/approve the latest draft")
	if got.SkillID != "approve_version" {
		t.Fatalf("SkillID=%q, want approve_version", got.SkillID)
	}
	if got.Method != MethodPattern {
		t.Fatalf("Method=%q, want pattern", got.Method)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("Confidence=%v, want 1.0", got.Confidence)
	}
	if embedder.calls != 0 {
		t.Fatalf("pattern match made %d external calls, want 0", embedder.calls)
	}
}

func TestDetectRegexPattern(t *testing.T) {
	embedder := &fakeEmbedder{}
	d := NewDetector(mustCatalog(t), embedder, 0.72)

	got := d.Detect(context.Background(), "set up a weekly status report for my team")
	if got.SkillID != "create_deliverable" {
		t.Fatalf("SkillID=%q, want create_deliverable", got.SkillID)
	}
	if got.Method != MethodPattern || got.Confidence != 1.0 {
		t.Fatalf("got %+v, want pattern/1.0", got)
	}
	if embedder.calls != 0 {
		t.Fatalf("pattern match made %d external calls, want 0", embedder.calls)
	}
}

func TestDetectSemanticFallback(t *testing.T) {
	catalog := mustCatalog(t)
	utterance := "could you put together that thing for tomorrow's sync?"

	vectors := map[string][]float32{utterance: {0, 1, 0}}
	for _, s := range catalog {
		if s.ID == "run_deliverable" {
			vectors[s.Description] = []float32{0, 1, 0}
		} else {
			vectors[s.Description] = []float32{1, 0, 0}
		}
	}
	embedder := &fakeEmbedder{vectors: vectors}
	d := NewDetector(catalog, embedder, 0.72)

	got := d.Detect(context.Background(), utterance)
	if got.SkillID != "run_deliverable" {
		t.Fatalf("SkillID=%q, want run_deliverable", got.SkillID)
	}
	if got.Method != MethodSemantic {
		t.Fatalf("Method=%q, want semantic", got.Method)
	}
	if got.Confidence < 0.72 {
		t.Fatalf("Confidence=%v below threshold", got.Confidence)
	}
}

func TestDetectBelowThresholdReturnsNothing(t *testing.T) {
	catalog := mustCatalog(t)
	utterance := "completely unrelated chatter about lunch"

	vectors := map[string][]float32{utterance: {0, 0, 1}}
	for _, s := range catalog {
		vectors[s.Description] = []float32{1, 0, 0}
	}
	d := NewDetector(catalog, &fakeEmbedder{vectors: vectors}, 0.72)

	got := d.Detect(context.Background(), utterance)
	if got.SkillID != "" {
		t.Fatalf("SkillID=%q, want no detection", got.SkillID)
	}
}

func TestDetectDegradesWhenEmbedderFails(t *testing.T) {
	d := NewDetector(mustCatalog(t), &fakeEmbedder{fail: true}, 0.72)

	got := d.Detect(context.Background(), "completely unrelated chatter about lunch")
	if got.SkillID != "" {
		t.Fatalf("SkillID=%q, want no detection on embedder failure", got.SkillID)
	}
}

func TestDetectEmptyUtterance(t *testing.T) {
	d := NewDetector(mustCatalog(t), &fakeEmbedder{}, 0.72)
	if got := d.Detect(context.Background(), "   "); got.SkillID != "" {
		t.Fatalf("SkillID=%q, want no detection for blank input", got.SkillID)
	}
}
