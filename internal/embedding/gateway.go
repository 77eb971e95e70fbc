package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/leadrank/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize  = 64
	defaultMaxRetries = 3
	defaultTimeout    = 90 * time.Second

	defaultRetryWait = 5 * time.Second
	minRetryWait     = 1 * time.Second
	maxRetryWait     = 30 * time.Second
)

var waitFor = utils.WaitFor

// GatewayConfig tunes batching, retries and throttling of embedding calls.
type GatewayConfig struct {
	// BatchSize is the maximum number of texts sent in one provider call.
	BatchSize int
	// MaxRetries caps attempts for rate-limited calls.
	MaxRetries int
	// RequestsPerMinute throttles outbound provider calls. Zero disables
	// throttling.
	RequestsPerMinute int
	// Timeout is the hard deadline applied to every provider call.
	Timeout time.Duration
}

// Gateway fronts an embedding Provider with chunking, throttling, retries on
// rate limits, and a per-item fallback on batch timeouts. It holds no cache
// and no state beyond its configuration.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewGateway(provider Provider, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Name reports the wrapped provider's name.
func (g *Gateway) Name() string {
	if g == nil || g.provider == nil {
		return "none"
	}
	return g.provider.Name()
}

// Embed returns the vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) (Vector, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Oversized
// batches are split into provider-safe chunks dispatched in parallel; the
// results are reassembled before returning, so chunking never changes output
// order or count.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if g == nil || g.provider == nil {
		return nil, ErrUnavailable
	}

	if len(texts) == 0 {
		return []Vector{}, nil
	}

	type chunk struct {
		start int
		texts []string
	}

	chunks := make([]chunk, 0, len(texts)/g.cfg.BatchSize+1)
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunks = append(chunks, chunk{start: start, texts: texts[start:end]})
	}

	results := make([]Vector, len(texts))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c chunk) {
			defer wg.Done()

			vectors, err := g.embedChunk(ctx, c.texts)
			if err != nil {
				errs[i] = fmt.Errorf("lead batch %d: %w", i, err)
				return
			}
			copy(results[c.start:], vectors)
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// embedChunk performs one provider call with retry and fallback handling.
func (g *Gateway) embedChunk(ctx context.Context, texts []string) ([]Vector, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := g.call(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if suggested, ok := IsRateLimit(err); ok {
			wait := retryWait(suggested)
			g.logger.Debug("embedding provider rate limited",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			if werr := waitFor(ctx, wait); werr != nil {
				return nil, werr
			}
			continue
		}

		if isTimeout(ctx, err) && len(texts) > 1 {
			g.logger.Debug("batch embedding timed out, falling back to per-item requests",
				zap.Int("batch_size", len(texts)),
			)
			return g.embedOneByOne(ctx, texts)
		}

		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, err)
		}

		return nil, err
	}

	return nil, fmt.Errorf("%w: %d attempts: %s", ErrQuotaExceeded, g.cfg.MaxRetries, lastErr)
}

// embedOneByOne re-requests a timed-out batch one item at a time, so a single
// slow item does not lose the whole batch.
func (g *Gateway) embedOneByOne(ctx context.Context, texts []string) ([]Vector, error) {
	vectors := make([]Vector, len(texts))
	for i, text := range texts {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := g.call(ctx, []string{text})
		if err != nil {
			if isTimeout(ctx, err) {
				return nil, fmt.Errorf("%w: item %d: %s", ErrTimeout, i, err)
			}
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		vectors[i] = result[0]
	}
	return vectors, nil
}

func (g *Gateway) call(ctx context.Context, texts []string) ([]Vector, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	vectors, err := g.provider.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrFormat, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrFormat, i)
		}
	}

	return vectors, nil
}

// retryWait bounds a provider-suggested delay, falling back to the default
// when the provider gave no hint.
func retryWait(suggestedSeconds float64) time.Duration {
	if suggestedSeconds <= 0 {
		return defaultRetryWait
	}

	wait := time.Duration(suggestedSeconds * float64(time.Second))
	if wait < minRetryWait {
		return minRetryWait
	}
	if wait > maxRetryWait {
		return maxRetryWait
	}
	return wait
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		// The caller's own context expired; not a per-call timeout.
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout)
}
