package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Vector is a fixed-dimension embedding of a piece of text. The dimension is
// provider-defined but must stay constant within one ranking run.
type Vector []float32

// Provider computes embedding vectors for text. Implementations exist per
// backend and are selected once at startup, never per call.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

var (
	// ErrUnavailable is returned when no embedding provider is configured.
	ErrUnavailable = errors.New("embedding provider is not configured")
	// ErrQuotaExceeded is returned once rate-limit retries are exhausted.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrFormat is returned when a provider response cannot be normalized
	// into a numeric vector. It indicates a provider contract violation and
	// is never retried.
	ErrFormat = errors.New("malformed embedding response")
	// ErrTimeout is returned after the per-item fallback for a timed-out
	// batch also fails.
	ErrTimeout = errors.New("embedding request timed out")
)

// rateLimitedError marks an error as a provider rate-limit signal, optionally
// carrying the wait the provider suggested.
type rateLimitedError struct {
	err        error
	retryAfter float64 // seconds; 0 when the provider gave no hint
}

func (e *rateLimitedError) Error() string { return e.err.Error() }

func (e *rateLimitedError) Unwrap() error { return e.err }

// RateLimited wraps err so the gateway recognizes it as retryable, with
// retryAfterSeconds <= 0 meaning no provider-suggested delay.
func RateLimited(err error, retryAfterSeconds float64) error {
	return &rateLimitedError{err: err, retryAfter: retryAfterSeconds}
}

// IsRateLimit reports whether err carries a rate-limit signal and returns the
// provider-suggested wait in seconds, when present.
func IsRateLimit(err error) (float64, bool) {
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return rl.retryAfter, true
	}
	return 0, false
}

// Cosine computes the cosine similarity between two vectors of equal
// dimension. A zero-magnitude vector yields similarity 0.
func Cosine(a, b Vector) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cosine similarity of empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
