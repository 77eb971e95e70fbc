// Package optimizer refines a persona's text against a gold-ranked
// evaluation set: evaluate, build feedback, ask a text-generation capability
// for a rewrite, keep the best-scoring text.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "embed"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/agreement"
	"github.com/spigell/leadrank/internal/ai"
	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/logger"
	"github.com/spigell/leadrank/internal/persona"
	"github.com/spigell/leadrank/internal/scoring"
	"github.com/spigell/leadrank/internal/utils"
)

//go:embed prompt.md
var systemPrompt string

const (
	defaultMaxIterations = 4
	maxIterationsCeiling = 10
	defaultTopK          = 5

	// minProposalLength filters replies too short to be a plausible persona.
	minProposalLength = 20

	// historyWindow and historyEntryLimit bound how much of the run history
	// is quoted back to the proposer.
	historyWindow     = 3
	historyEntryLimit = 200
)

// Scorer is the scoring-engine surface the loop needs: a full ranking of the
// evaluation set with no truncation.
type Scorer interface {
	ScoreAll(ctx context.Context, p persona.Persona, leads []lead.Lead, leadEmbeddings []embedding.Vector) ([]scoring.RankedResult, error)
}

// Config tunes one optimization run.
type Config struct {
	// MaxIterations bounds the evaluate/propose loop, clamped to 1..10.
	MaxIterations int
	// TopK sizes the feedback diagnostic.
	TopK int
}

// HistoryEntry records one evaluated persona and its agreement score.
type HistoryEntry struct {
	Persona string  `json:"persona"`
	Score   float64 `json:"score"`
}

// Result is the outcome of one optimization run. History is an append-only
// audit trail, not mutated after return.
type Result struct {
	RunID       string         `json:"run_id"`
	BestPersona string         `json:"best_persona"`
	BestScore   float64        `json:"best_score"`
	History     []HistoryEntry `json:"history"`
	Iterations  int            `json:"iterations"`
}

// Optimizer owns the search loop. State lives entirely inside one Run call;
// an Optimizer is safe to reuse across runs.
type Optimizer struct {
	scorer   Scorer
	proposer ai.Proposer
	cfg      Config
	log      *zap.Logger
}

func New(scorer Scorer, proposer ai.Proposer, cfg Config, log *zap.Logger) *Optimizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxIterations > maxIterationsCeiling {
		cfg.MaxIterations = maxIterationsCeiling
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Optimizer{scorer: scorer, proposer: proposer, cfg: cfg, log: log}
}

// Run executes one optimization over the evaluation set. The evaluation
// embeddings are required and must align 1:1 with the leads: the set is fixed
// and expensive to re-embed, so the loop never recomputes them.
func (o *Optimizer) Run(ctx context.Context, initialPersona string, evalLeads []lead.EvalLead, evalEmbeddings []embedding.Vector) (*Result, error) {
	if strings.TrimSpace(initialPersona) == "" {
		return nil, scoring.ErrEmptyProfile
	}
	if len(evalLeads) == 0 {
		return nil, errors.New("evaluation set is empty")
	}
	if len(evalEmbeddings) != len(evalLeads) {
		return nil, fmt.Errorf("evaluation embeddings count %d does not match evaluation set size %d", len(evalEmbeddings), len(evalLeads))
	}
	if err := lead.ValidateGoldRanks(evalLeads); err != nil {
		return nil, err
	}

	leads := make([]lead.Lead, len(evalLeads))
	gold := make([]int, len(evalLeads))
	for i, ev := range evalLeads {
		leads[i] = ev.Lead
		gold[i] = ev.GoldRank
	}

	runID := uuid.NewString()
	log := logger.WithFields(o.log, zap.String(logger.FieldRunID, runID))

	result := &Result{
		RunID:     runID,
		BestScore: math.Inf(-1),
	}
	current := initialPersona

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		ourRanks, score, err := o.evaluate(ctx, current, leads, evalEmbeddings, gold)
		if err != nil {
			if len(result.History) == 0 {
				return nil, fmt.Errorf("iteration %d: %w", iteration, err)
			}
			// At least one evaluation succeeded: return the best found so
			// far instead of losing the run.
			log.Warn("optimization ended early, returning best result so far",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			return result, nil
		}

		result.History = append(result.History, HistoryEntry{Persona: current, Score: score})
		result.Iterations = iteration

		// Strict improvement only: a tie keeps the earlier, simpler text.
		if score > result.BestScore {
			result.BestScore = score
			result.BestPersona = current
		}

		log.Info("evaluated persona",
			zap.Int("iteration", iteration),
			zap.Float64("score", score),
			zap.Float64("best_score", result.BestScore),
		)

		// The final iteration evaluates only.
		if iteration == o.cfg.MaxIterations {
			break
		}

		current = o.nextPersona(ctx, log, current, score, result, evalLeads, ourRanks, gold)
	}

	return result, nil
}

// evaluate scores the evaluation set with the given persona text and returns
// input-aligned produced ranks plus the Spearman agreement with gold.
func (o *Optimizer) evaluate(ctx context.Context, personaText string, leads []lead.Lead, embeddings []embedding.Vector, gold []int) ([]int, float64, error) {
	p := persona.Parse(personaText)

	results, err := o.scorer.ScoreAll(ctx, p, leads, embeddings)
	if err != nil {
		return nil, 0, err
	}

	ourRanks := make([]int, len(leads))
	for _, r := range results {
		ourRanks[r.Input] = r.Rank
	}

	return ourRanks, agreement.Spearman(ourRanks, gold), nil
}

// nextPersona asks the proposer for a refined persona and validates the
// reply. A malformed or failed proposal never becomes the next iteration's
// text: the loop continues from the best-known persona instead.
func (o *Optimizer) nextPersona(ctx context.Context, log *zap.Logger, current string, score float64, result *Result, evalLeads []lead.EvalLead, ourRanks, gold []int) string {
	feedback := BuildFeedback(evalLeads, ourRanks, gold, o.cfg.TopK)

	proposal, err := o.propose(ctx, current, score, result.History, feedback, "")
	if err != nil {
		log.Warn("proposal request failed, continuing with best-known persona", zap.Error(err))
		return result.BestPersona
	}

	if normalize(proposal) == normalize(current) {
		log.Debug("proposal identical to current persona, re-requesting")
		proposal, err = o.propose(ctx, current, score, result.History, feedback,
			"Your previous reply repeated the current persona. The new persona MUST differ from it.")
		if err != nil {
			log.Warn("proposal re-request failed, continuing with best-known persona", zap.Error(err))
			return result.BestPersona
		}
	}

	proposal = cleanReply(proposal)
	if len([]rune(proposal)) < minProposalLength {
		log.Debug("rejecting implausibly short proposal",
			zap.String("proposal_preview", utils.TruncateForLog(proposal, 80)),
		)
		return result.BestPersona
	}

	return proposal
}

func (o *Optimizer) propose(ctx context.Context, current string, score float64, history []HistoryEntry, feedback, extra string) (string, error) {
	var b strings.Builder

	b.WriteString("Current persona:\n")
	b.WriteString(current)
	b.WriteString("\n\nCurrent agreement score (Spearman, -1..1): ")
	b.WriteString(strconv.FormatFloat(score, 'f', 4, 64))
	b.WriteString("\n")

	if window := historyTail(history); len(window) > 0 {
		b.WriteString("\nEarlier attempts (oldest first):\n")
		for _, entry := range window {
			fmt.Fprintf(&b, "- score %.4f: %s\n", entry.Score, utils.TruncateForLog(entry.Persona, historyEntryLimit))
		}
	}

	if feedback != "" {
		b.WriteString("\nRanking mistakes to fix:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}

	if extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	return o.proposer.Propose(ctx, systemPrompt, b.String())
}

func historyTail(history []HistoryEntry) []HistoryEntry {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// normalize compares persona texts case- and whitespace-insensitively.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// cleanReply strips code fences from a proposal. Near-miss formatting is
// expected from a non-deterministic capability; the persona parser copes
// with the rest.
func cleanReply(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```markdown")
		raw = strings.TrimPrefix(raw, "```text")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(strings.Trim(raw, "`"))
}
