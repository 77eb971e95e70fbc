// Package scoring turns a parsed persona and a set of leads into a ranked,
// normalized result list using embedding-space similarity.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/persona"
)

// ErrEmptyProfile is returned when the persona has no Target after parsing.
var ErrEmptyProfile = errors.New("profile has no target description")

// RankedResult is one lead's position in a scored ranking.
type RankedResult struct {
	Lead lead.Lead `json:"lead"`
	// Score is the normalized combined score in [0, 1].
	Score float64 `json:"score"`
	// Similarity is the raw cosine similarity to the Target slot in [-1, 1].
	Similarity float64 `json:"similarity"`
	// Rank is 1-based, assigned by descending score, ties broken by input
	// order.
	Rank int `json:"rank"`
	// Input is the lead's position in the submitted order, kept so callers
	// can realign ranks with their own sequence.
	Input int `json:"-"`
}

// Weights holds the combination and normalization constants. The defaults
// were tuned empirically against one evaluation set; they are configuration,
// not law.
type Weights struct {
	Avoid  float64 `mapstructure:"avoid-weight"`
	Prefer float64 `mapstructure:"prefer-weight"`
	// RawMin and RawMax bound the affine normalization window used when
	// Avoid or Prefer is present.
	RawMin float64 `mapstructure:"raw-min"`
	RawMax float64 `mapstructure:"raw-max"`
}

// DefaultWeights penalizes Avoid roughly 40% harder than Prefer rewards:
// a false positive costs more than a missed bonus.
func DefaultWeights() Weights {
	return Weights{Avoid: 0.35, Prefer: 0.25, RawMin: -1.6, RawMax: 1.35}
}

const (
	DefaultTopN     = 10
	DefaultMinScore = 0.3
)

// Config tunes the engine's ranking output.
type Config struct {
	Weights  Weights
	TopN     int
	MinScore float64
}

// Engine scores leads against a persona via an embedding gateway.
type Engine struct {
	embedder embedding.Provider
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(embedder embedding.Provider, cfg Config, logger *zap.Logger) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{embedder: embedder, cfg: cfg, logger: logger}
}

// Score ranks the leads against the persona, truncates to the configured
// top-N and then drops entries under the minimum score floor. Truncation
// happens before filtering, so filtering only shrinks the result set.
func (e *Engine) Score(ctx context.Context, p persona.Persona, leads []lead.Lead, leadEmbeddings []embedding.Vector) ([]RankedResult, error) {
	results, err := e.ScoreAll(ctx, p, leads, leadEmbeddings)
	if err != nil {
		return nil, err
	}

	if len(results) > e.cfg.TopN {
		results = results[:e.cfg.TopN]
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= e.cfg.MinScore {
			kept = append(kept, r)
		}
	}

	return kept, nil
}

// ScoreAll ranks every lead without truncation or floor filtering. The
// optimization loop uses it so each evaluation lead receives a rank.
func (e *Engine) ScoreAll(ctx context.Context, p persona.Persona, leads []lead.Lead, leadEmbeddings []embedding.Vector) ([]RankedResult, error) {
	if p.Target == "" {
		return nil, ErrEmptyProfile
	}

	if len(leads) == 0 {
		return []RankedResult{}, nil
	}

	slots, err := e.embedSlots(ctx, p)
	if err != nil {
		return nil, err
	}

	vectors, err := e.leadVectors(ctx, leads, leadEmbeddings)
	if err != nil {
		return nil, err
	}

	results := make([]RankedResult, len(leads))
	for i := range leads {
		score, sim, err := e.combine(slots, vectors[i], p)
		if err != nil {
			return nil, fmt.Errorf("scoring lead %d: %w", i, err)
		}
		results[i] = RankedResult{Lead: leads[i], Score: score, Similarity: sim, Input: i}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	for i := range results {
		results[i].Rank = i + 1
	}

	return results, nil
}

type slotVectors struct {
	target embedding.Vector
	avoid  embedding.Vector
	prefer embedding.Vector
}

func (e *Engine) embedSlots(ctx context.Context, p persona.Persona) (*slotVectors, error) {
	slots := &slotVectors{}

	var err error
	if slots.target, err = e.embedder.Embed(ctx, p.Target); err != nil {
		return nil, fmt.Errorf("target slot: %w", err)
	}

	if p.HasAvoid() {
		if slots.avoid, err = e.embedder.Embed(ctx, p.Avoid); err != nil {
			return nil, fmt.Errorf("avoid slot: %w", err)
		}
	}

	if p.HasPrefer() {
		if slots.prefer, err = e.embedder.Embed(ctx, p.Prefer); err != nil {
			return nil, fmt.Errorf("prefer slot: %w", err)
		}
	}

	return slots, nil
}

// leadVectors reuses caller-supplied embeddings when their count matches the
// lead count, otherwise recomputes them from the lead text projection. A
// count mismatch is recovered locally, never surfaced.
func (e *Engine) leadVectors(ctx context.Context, leads []lead.Lead, supplied []embedding.Vector) ([]embedding.Vector, error) {
	if len(supplied) == len(leads) && len(supplied) > 0 {
		return supplied, nil
	}

	if len(supplied) > 0 {
		e.logger.Debug("supplied lead embeddings do not match lead count, recomputing",
			zap.Int("supplied", len(supplied)),
			zap.Int("leads", len(leads)),
		)
	}

	texts := make([]string, len(leads))
	for i, l := range leads {
		text := l.Text()
		if text == "" {
			return nil, fmt.Errorf("lead %d has no descriptive text to embed", i)
		}
		texts[i] = text
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("lead embeddings: %w", err)
	}

	return vectors, nil
}

// combine folds the per-slot similarities into one normalized score. With an
// Avoid or Prefer slot present the raw combination
// simTarget - Wavoid*simAvoid + Wprefer*simPrefer is mapped through an affine
// transform over [RawMin, RawMax]; with Target alone the plain cosine is
// mapped through (sim+1)/2. The two paths are never mixed within one call.
func (e *Engine) combine(slots *slotVectors, leadVec embedding.Vector, p persona.Persona) (score, similarity float64, err error) {
	simTarget, err := embedding.Cosine(slots.target, leadVec)
	if err != nil {
		return 0, 0, fmt.Errorf("target similarity: %w", err)
	}

	if !p.HasAvoid() && !p.HasPrefer() {
		return clamp01((simTarget + 1) / 2), simTarget, nil
	}

	raw := simTarget
	if p.HasAvoid() {
		simAvoid, err := embedding.Cosine(slots.avoid, leadVec)
		if err != nil {
			return 0, 0, fmt.Errorf("avoid similarity: %w", err)
		}
		raw -= e.cfg.Weights.Avoid * simAvoid
	}
	if p.HasPrefer() {
		simPrefer, err := embedding.Cosine(slots.prefer, leadVec)
		if err != nil {
			return 0, 0, fmt.Errorf("prefer similarity: %w", err)
		}
		raw += e.cfg.Weights.Prefer * simPrefer
	}

	window := e.cfg.Weights.RawMax - e.cfg.Weights.RawMin
	if window <= 0 {
		return 0, simTarget, fmt.Errorf("invalid normalization window [%v, %v]", e.cfg.Weights.RawMin, e.cfg.Weights.RawMax)
	}

	return clamp01((raw - e.cfg.Weights.RawMin) / window), simTarget, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
