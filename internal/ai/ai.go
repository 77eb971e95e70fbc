package ai

import "context"

// Proposer is the text-generation capability used by the prompt optimizer:
// given a system instruction and user content, it returns a proposed text.
// Replies may be empty or malformed; the optimizer handles both.
type Proposer interface {
	Propose(ctx context.Context, system, user string) (string, error)
	Model() string
}
