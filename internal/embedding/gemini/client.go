// Package gemini implements the embedding provider contract on top of the
// Google GenAI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/spigell/leadrank/internal/embedding"
)

const defaultModel = "gemini-embedding-001"

type embedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client computes embeddings through the Gemini API backend.
type Client struct {
	models embedder
	model  string
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Client{models: client.Models, model: model}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if c == nil || c.models == nil {
		return nil, embedding.ErrUnavailable
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.Text(text)...)
	}

	resp, err := c.models.EmbedContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, classify(err)
	}

	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", embedding.ErrFormat, got, len(texts))
	}

	vectors := make([]embedding.Vector, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", embedding.ErrFormat, i)
		}
		vectors[i] = embedding.Vector(emb.Values)
	}

	return vectors, nil
}

var retryDelayPattern = regexp.MustCompile(`(?i)retry\s+(?:after|in)\s+(\d+(?:\.\d+)?)`)

// classify translates genai API errors into the gateway's taxonomy, parsing a
// suggested delay out of quota messages when present.
func classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		delay := 0.0
		if m := retryDelayPattern.FindStringSubmatch(apiErr.Message); m != nil {
			delay, _ = strconv.ParseFloat(m[1], 64)
		}
		return embedding.RateLimited(err, delay)
	}

	return err
}
