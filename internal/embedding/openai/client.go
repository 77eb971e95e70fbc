// Package openai implements the embedding provider contract on top of the
// OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spigell/leadrank/internal/embedding"
)

const defaultModel = "text-embedding-3-small"

type embedder interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client computes embeddings through the OpenAI API or any compatible
// endpoint reachable via a custom base URL.
type Client struct {
	api   embedder
	model string
}

// New creates a Client for the OpenAI backend. An empty baseURL targets the
// public API.
func New(apiKey, model, baseURL string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Client{api: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if c == nil || c.api == nil {
		return nil, embedding.ErrUnavailable
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", embedding.ErrFormat, len(resp.Data), len(texts))
	}

	// Results carry a declared index; order by it before reading positions.
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([]embedding.Vector, len(texts))
	for i, item := range data {
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", embedding.ErrFormat, i)
		}
		vectors[i] = embedding.Vector(item.Embedding)
	}

	return vectors, nil
}

// classify marks HTTP 429 responses as rate-limit signals for the gateway.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return embedding.RateLimited(err, 0)
	}
	return err
}
