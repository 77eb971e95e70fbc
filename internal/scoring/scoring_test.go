package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/persona"
)

// mapEmbedder returns fixed vectors per exact text and records batch calls.
type mapEmbedder struct {
	vectors    map[string]embedding.Vector
	batchCalls [][]string
}

func (m *mapEmbedder) Name() string { return "map" }

func (m *mapEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	v, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	m.batchCalls = append(m.batchCalls, texts)
	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func simpleLead(role string) lead.Lead {
	return lead.Lead{{Name: "role", Value: role}}
}

func TestScoreVPSalesScenario(t *testing.T) {
	t.Parallel()

	p := persona.Parse("Target: VP Sales. Avoid: HR. Prefer: enterprise.")

	embedder := &mapEmbedder{vectors: map[string]embedding.Vector{
		p.Target: {1, 0, 0},
		p.Avoid:  {0, 1, 0},
		p.Prefer: {0, 0, 1},
	}}

	leads := []lead.Lead{
		simpleLead("sales leader"),
		simpleLead("hr manager"),
		simpleLead("enterprise seller"),
	}
	// Highest target similarity, lowest avoid similarity first.
	supplied := []embedding.Vector{
		{1, 0, 0},
		{0, 1, 0},
		{0.7, 0, 0.7},
	}

	engine := NewEngine(embedder, Config{}, zap.NewNop())

	results, err := engine.Score(context.Background(), p, leads, supplied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if results[0].Rank != 1 || results[0].Lead.Resolve(lead.AttrRole) != "sales leader" {
		t.Fatalf("expected sales leader ranked first, got %+v", results[0])
	}
	if len(embedder.batchCalls) != 0 {
		t.Fatal("expected supplied embeddings to be reused, not recomputed")
	}

	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Fatalf("score out of [0,1]: %v", r.Score)
		}
		if r.Similarity < -1 || r.Similarity > 1 {
			t.Fatalf("similarity out of [-1,1]: %v", r.Similarity)
		}
	}
}

func TestScoreTargetOnlyNormalization(t *testing.T) {
	t.Parallel()

	p := persona.Parse("only a target description")

	embedder := &mapEmbedder{vectors: map[string]embedding.Vector{
		p.Target: {1, 0},
	}}

	leads := []lead.Lead{simpleLead("a"), simpleLead("b")}
	supplied := []embedding.Vector{{1, 0}, {-1, 0}}

	engine := NewEngine(embedder, Config{MinScore: 1e-9}, zap.NewNop())

	results, err := engine.Score(context.Background(), p, leads, supplied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(results[0].Score-1) > 1e-9 {
		t.Fatalf("expected (1+1)/2 = 1, got %v", results[0].Score)
	}
	if len(results) != 1 {
		// Opposite vector normalizes to 0 and falls under any positive floor.
		t.Fatalf("expected opposite lead filtered out, got %d results", len(results))
	}
}

func TestScoreTruncatesBeforeFiltering(t *testing.T) {
	t.Parallel()

	p := persona.Parse("target only")
	vectors := map[string]embedding.Vector{p.Target: {1, 0}}

	var leads []lead.Lead
	var supplied []embedding.Vector

	sims := []float64{0.9, 0.85, 0.8, 0.75, 0.7, 0.65, 0.6, 0.55, 0.5, -0.5, -0.6, -0.7}
	for i, sim := range sims {
		leads = append(leads, simpleLead(fmt.Sprintf("lead-%d", i)))
		supplied = append(supplied, embedding.Vector{float32(sim), float32(math.Sqrt(1 - sim*sim))})
	}

	engine := NewEngine(&mapEmbedder{vectors: vectors}, Config{TopN: 10, MinScore: 0.3}, zap.NewNop())

	results, err := engine.Score(context.Background(), p, leads, supplied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The 10th-ranked lead scores 0.25 and is dropped; ranks 11+ never
	// backfill the truncated set.
	if len(results) != 9 {
		t.Fatalf("expected 9 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Rank != i+1 {
			t.Fatalf("expected dense ranks, got %+v", r)
		}
		if r.Score < 0.3 {
			t.Fatalf("result under floor survived: %+v", r)
		}
	}
}

func TestScoreIdempotent(t *testing.T) {
	t.Parallel()

	p := persona.Parse("Target: engineers. Prefer: remote")
	embedder := &mapEmbedder{vectors: map[string]embedding.Vector{
		p.Target: {1, 0},
		p.Prefer: {0, 1},
	}}

	leads := []lead.Lead{simpleLead("a"), simpleLead("b"), simpleLead("c")}
	supplied := []embedding.Vector{{0.5, 0.5}, {1, 0}, {0, 1}}

	engine := NewEngine(embedder, Config{}, zap.NewNop())

	first, err := engine.ScoreAll(context.Background(), p, leads, supplied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.ScoreAll(context.Background(), p, leads, supplied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range first {
		if first[i].Rank != second[i].Rank || first[i].Score != second[i].Score {
			t.Fatalf("scoring not deterministic: %+v vs %+v", first[i], second[i])
		}
	}
}

func TestScoreRecomputesOnCountMismatch(t *testing.T) {
	t.Parallel()

	p := persona.Parse("target text")

	leads := []lead.Lead{simpleLead("alpha"), simpleLead("beta")}
	embedder := &mapEmbedder{vectors: map[string]embedding.Vector{
		p.Target:       {1, 0},
		leads[0].Text(): {1, 0},
		leads[1].Text(): {0, 1},
	}}

	engine := NewEngine(embedder, Config{}, zap.NewNop())

	// One embedding for two leads: silently recomputed, not an error.
	results, err := engine.ScoreAll(context.Background(), p, leads, []embedding.Vector{{1, 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(embedder.batchCalls) != 1 {
		t.Fatalf("expected one recompute batch call, got %d", len(embedder.batchCalls))
	}
}

func TestScoreEmptyProfile(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&mapEmbedder{}, Config{}, zap.NewNop())

	_, err := engine.Score(context.Background(), persona.Persona{}, []lead.Lead{simpleLead("x")}, nil)
	if !errors.Is(err, ErrEmptyProfile) {
		t.Fatalf("expected ErrEmptyProfile, got %v", err)
	}
}

func TestScoreLeadWithoutTextFails(t *testing.T) {
	t.Parallel()

	p := persona.Parse("target text")
	engine := NewEngine(&mapEmbedder{vectors: map[string]embedding.Vector{p.Target: {1}}}, Config{}, zap.NewNop())

	_, err := engine.ScoreAll(context.Background(), p, []lead.Lead{{}}, nil)
	if err == nil {
		t.Fatal("expected error for lead with no descriptive text")
	}
}
