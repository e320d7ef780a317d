// Package intent resolves free-text utterances to known skills. A cheap
// deterministic stage absorbs most traffic; an embedding-similarity stage
// handles the rest and degrades to "no skill" when the embedder is down.
package intent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/runtime/skills"

	"github.com/stellarlinkco/briefops/internal/llm"
)

const (
	MethodPattern  = "pattern"
	MethodSemantic = "semantic"
)

// Detection is the outcome of Detect. SkillID is empty when nothing matched.
type Detection struct {
	SkillID    string
	Method     string
	Confidence float64
}

type Detector struct {
	skills    []Skill
	matchers  map[string]skills.Matcher
	embedder  llm.Embedder
	threshold float64

	mu         sync.Mutex
	embeddings map[string][]float32
}

func NewDetector(catalog []Skill, embedder llm.Embedder, threshold float64) *Detector {
	d := &Detector{
		skills:    catalog,
		matchers:  make(map[string]skills.Matcher, len(catalog)),
		embedder:  embedder,
		threshold: threshold,
	}
	for i := range catalog {
		d.matchers[catalog[i].ID] = patternMatcher(&catalog[i])
	}
	return d
}

// patternMatcher folds a skill's slash command, regexes and keywords into a
// single deterministic matcher.
func patternMatcher(s *Skill) skills.Matcher {
	keyword := skills.KeywordMatcher{All: s.Keywords.All, Any: s.Keywords.Any}
	slash := strings.ToLower(strings.TrimSpace(s.Slash))

	return skills.MatcherFunc(func(ctx skills.ActivationContext) skills.MatchResult {
		prompt := strings.TrimSpace(ctx.Prompt)
		if prompt == "" {
			return skills.MatchResult{}
		}

		if slash != "" {
			lower := strings.ToLower(prompt)
			if lower == slash || strings.HasPrefix(lower, slash+" ") {
				return skills.MatchResult{Matched: true, Score: 1.0, Reason: "slash"}
			}
		}
		for _, re := range s.compiled {
			if re.MatchString(prompt) {
				return skills.MatchResult{Matched: true, Score: 1.0, Reason: "regex"}
			}
		}
		if len(s.Keywords.All) > 0 || len(s.Keywords.Any) > 0 {
			if r := keyword.Match(ctx); r.Matched {
				return r
			}
		}
		return skills.MatchResult{}
	})
}

// Detect resolves an utterance to a skill id. The deterministic stage returns
// confidence 1.0 and performs no network calls; only on a miss does the
// semantic stage embed the utterance.
func (d *Detector) Detect(ctx context.Context, utterance string) Detection {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Detection{}
	}

	activation := skills.ActivationContext{Prompt: utterance}
	best := Detection{}
	bestResult := skills.MatchResult{}
	for _, s := range d.skills {
		r := d.matchers[s.ID].Match(activation)
		if r.Matched && r.BetterThan(bestResult) {
			bestResult = r
			best = Detection{SkillID: s.ID, Method: MethodPattern, Confidence: 1.0}
		}
	}
	if best.SkillID != "" {
		return best
	}

	return d.detectSemantic(ctx, utterance)
}

func (d *Detector) detectSemantic(ctx context.Context, utterance string) Detection {
	if d.embedder == nil {
		return Detection{}
	}

	catalog, err := d.skillEmbeddings(ctx)
	if err != nil {
		log.Printf("[intent] semantic stage unavailable: %v", err)
		return Detection{}
	}

	vec, err := d.embedder.Embed(ctx, utterance)
	if err != nil {
		log.Printf("[intent] embed utterance: %v", err)
		return Detection{}
	}

	bestID := ""
	bestSim := -2.0
	for _, s := range d.skills {
		sim := Cosine(vec, catalog[s.ID])
		if sim > bestSim {
			bestSim = sim
			bestID = s.ID
		}
	}
	if bestID == "" || bestSim < d.threshold {
		return Detection{}
	}
	return Detection{SkillID: bestID, Method: MethodSemantic, Confidence: bestSim}
}

// skillEmbeddings lazily computes and caches one embedding per skill
// description. The catalog is fixed, so this happens at most once.
func (d *Detector) skillEmbeddings(ctx context.Context) (map[string][]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.embeddings != nil {
		return d.embeddings, nil
	}

	texts := make([]string, len(d.skills))
	for i, s := range d.skills {
		texts[i] = s.Description
	}
	vectors, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed skill catalog: %w", err)
	}
	if len(vectors) != len(d.skills) {
		return nil, fmt.Errorf("embed skill catalog: got %d vectors want %d", len(vectors), len(d.skills))
	}

	embeddings := make(map[string][]float32, len(d.skills))
	for i, s := range d.skills {
		embeddings[s.ID] = vectors[i]
	}
	d.embeddings = embeddings
	return embeddings, nil
}
