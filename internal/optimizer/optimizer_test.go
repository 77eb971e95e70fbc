package optimizer

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/persona"
	"github.com/spigell/leadrank/internal/scoring"
)

// fakeScorer assigns produced ranks per persona text. Personas without an
// entry rank in input order.
type fakeScorer struct {
	ranks map[string][]int
	calls int
	// failAfter, when positive, fails every call past that number.
	failAfter int
}

func (f *fakeScorer) ScoreAll(_ context.Context, p persona.Persona, leads []lead.Lead, _ []embedding.Vector) ([]scoring.RankedResult, error) {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, errors.New("embedding backend down")
	}

	ranks, ok := f.ranks[p.Target]
	if !ok {
		ranks = make([]int, len(leads))
		for i := range ranks {
			ranks[i] = i + 1
		}
	}

	results := make([]scoring.RankedResult, len(leads))
	for i := range leads {
		results[i] = scoring.RankedResult{
			Lead:  leads[i],
			Score: 1 / float64(ranks[i]),
			Rank:  ranks[i],
			Input: i,
		}
	}
	return results, nil
}

type proposerReply struct {
	text string
	err  error
}

type fakeProposer struct {
	queue    []proposerReply
	requests []string
}

func (f *fakeProposer) Propose(_ context.Context, _, user string) (string, error) {
	f.requests = append(f.requests, user)
	if len(f.queue) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := f.queue[0]
	f.queue = f.queue[1:]
	return reply.text, reply.err
}

func (f *fakeProposer) Model() string { return "fake" }

func evalSet(n int) ([]lead.EvalLead, []embedding.Vector) {
	set := make([]lead.EvalLead, n)
	vectors := make([]embedding.Vector, n)
	for i := range set {
		set[i] = lead.EvalLead{
			Lead:     lead.Lead{{Name: "name", Value: "lead-" + string(rune('a'+i))}},
			GoldRank: i + 1,
		}
		vectors[i] = embedding.Vector{1}
	}
	return set, vectors
}

func TestRunSingleIterationEvaluatesOnly(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{}
	proposer := &fakeProposer{}
	set, vectors := evalSet(5)

	o := New(scorer, proposer, Config{MaxIterations: 1}, zap.NewNop())

	result, err := o.Run(context.Background(), "Target profile: engineers", set, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if scorer.calls != 1 {
		t.Fatalf("expected exactly one evaluation, got %d", scorer.calls)
	}
	if len(proposer.requests) != 0 {
		t.Fatalf("expected zero proposals, got %d", len(proposer.requests))
	}
	if result.Iterations != 1 || len(result.History) != 1 {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	if result.BestPersona != "Target profile: engineers" {
		t.Fatalf("expected initial persona as best, got %q", result.BestPersona)
	}
	// Identity ranking against gold 1..5.
	if math.Abs(result.BestScore-1) > 1e-9 {
		t.Fatalf("expected perfect agreement, got %v", result.BestScore)
	}
}

func TestRunInvertedRankingScoresMinusOne(t *testing.T) {
	t.Parallel()

	p := persona.Parse("Target: backwards")
	scorer := &fakeScorer{ranks: map[string][]int{
		p.Target: {5, 4, 3, 2, 1},
	}}
	set, vectors := evalSet(5)

	o := New(scorer, &fakeProposer{}, Config{MaxIterations: 1}, zap.NewNop())

	result, err := o.Run(context.Background(), "Target: backwards", set, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(result.BestScore+1) > 1e-9 {
		t.Fatalf("expected Spearman -1, got %v", result.BestScore)
	}
}

func TestRunBestScoreNeverRegresses(t *testing.T) {
	t.Parallel()

	initial := "Target: the good persona"
	worse := "Target: a decidedly worse persona with enough length"

	pGood := persona.Parse(initial)
	pWorse := persona.Parse(worse)

	scorer := &fakeScorer{ranks: map[string][]int{
		pGood.Target:  {1, 2, 3, 4, 5},
		pWorse.Target: {5, 4, 3, 2, 1},
	}}

	proposer := &fakeProposer{queue: []proposerReply{
		{text: worse},
		{text: "short"},              // malformed: under minimum length
		{text: "", err: errors.New("provider hiccup")},
	}}

	set, vectors := evalSet(5)
	o := New(scorer, proposer, Config{MaxIterations: 4}, zap.NewNop())

	result, err := o.Run(context.Background(), initial, set, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.BestPersona != initial {
		t.Fatalf("expected initial persona kept as best, got %q", result.BestPersona)
	}
	if math.Abs(result.BestScore-1) > 1e-9 {
		t.Fatalf("best score regressed: %v", result.BestScore)
	}
	if result.Iterations != 4 {
		t.Fatalf("expected 4 iterations, got %d", result.Iterations)
	}

	// History keeps every evaluated persona, including the regression.
	if len(result.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(result.History))
	}
	if result.History[1].Persona != worse {
		t.Fatalf("expected worse persona evaluated second, got %q", result.History[1].Persona)
	}
	if result.History[1].Score >= result.History[0].Score {
		t.Fatalf("expected regression recorded in history: %+v", result.History)
	}
}

func TestRunReRequestsIdenticalProposal(t *testing.T) {
	t.Parallel()

	initial := "Target: sales leaders at b2b companies"
	refined := "Target: sales leaders at enterprise b2b companies"

	proposer := &fakeProposer{queue: []proposerReply{
		{text: strings.ToUpper(initial)},      // same text modulo case
		{text: refined},
	}}

	set, vectors := evalSet(3)
	o := New(&fakeScorer{}, proposer, Config{MaxIterations: 2}, zap.NewNop())

	result, err := o.Run(context.Background(), initial, set, vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(proposer.requests) != 2 {
		t.Fatalf("expected re-request after identical proposal, got %d requests", len(proposer.requests))
	}
	if !strings.Contains(proposer.requests[1], "MUST differ") {
		t.Fatalf("expected must-differ instruction, got %q", proposer.requests[1])
	}
	if result.History[1].Persona != refined {
		t.Fatalf("expected refined persona evaluated, got %q", result.History[1].Persona)
	}
}

func TestRunReturnsBestSoFarOnLateFailure(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{failAfter: 1}
	proposer := &fakeProposer{queue: []proposerReply{
		{text: "Target: another sufficiently long persona"},
	}}

	set, vectors := evalSet(4)
	o := New(scorer, proposer, Config{MaxIterations: 3}, zap.NewNop())

	result, err := o.Run(context.Background(), "Target: the initial persona text", set, vectors)
	if err != nil {
		t.Fatalf("expected best-so-far result, got error: %v", err)
	}

	if result.Iterations != 1 || len(result.History) != 1 {
		t.Fatalf("expected one completed iteration, got %+v", result)
	}
	if result.BestPersona != "Target: the initial persona text" {
		t.Fatalf("unexpected best persona: %q", result.BestPersona)
	}
}

func TestRunPropagatesEarlyFailure(t *testing.T) {
	t.Parallel()

	set, vectors := evalSet(3)

	o := New(&failingScorer{}, &fakeProposer{}, Config{}, zap.NewNop())

	if _, err := o.Run(context.Background(), "Target: anything at all here", set, vectors); err == nil {
		t.Fatal("expected error when the first evaluation fails")
	}
}

type failingScorer struct{}

func (f *failingScorer) ScoreAll(context.Context, persona.Persona, []lead.Lead, []embedding.Vector) ([]scoring.RankedResult, error) {
	return nil, errors.New("no provider")
}

func TestRunValidatesInputs(t *testing.T) {
	t.Parallel()

	o := New(&fakeScorer{}, &fakeProposer{}, Config{}, zap.NewNop())
	set, vectors := evalSet(3)

	if _, err := o.Run(context.Background(), "  ", set, vectors); !errors.Is(err, scoring.ErrEmptyProfile) {
		t.Fatalf("expected ErrEmptyProfile, got %v", err)
	}

	if _, err := o.Run(context.Background(), "Target: x", nil, nil); err == nil {
		t.Fatal("expected error for empty evaluation set")
	}

	if _, err := o.Run(context.Background(), "Target: x", set, vectors[:2]); err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
}
