// Package local implements the embedding provider contract against any
// OpenAI-compatible embeddings endpoint, such as a local ollama or llama.cpp
// server. No API key is required.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/leadrank/internal/embedding"
)

const embeddingsPath = "/v1/embeddings"

// Client talks to an OpenAI-compatible /v1/embeddings endpoint over plain
// HTTP.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	HTTPClient *http.Client
}

// New creates a Client for the given base URL, e.g. http://localhost:11434.
func New(baseURL, model, apiKey string) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if baseURL == "" {
		return nil, errors.New("local embedding base url is required")
	}

	if model = strings.TrimSpace(model); model == "" {
		return nil, errors.New("local embedding model is required")
	}

	return &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

func (c *Client) Name() string { return "local" }

type request struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, embedding.ErrUnavailable
	}

	body, err := json.Marshal(request{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := 0.0
		if header := resp.Header.Get("Retry-After"); header != "" {
			delay, _ = strconv.ParseFloat(header, 64)
		}
		return nil, embedding.RateLimited(fmt.Errorf("bad status: %s", resp.Status), delay)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var parsed response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", embedding.ErrFormat, err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: endpoint returned %d embeddings for %d inputs", embedding.ErrFormat, len(parsed.Data), len(texts))
	}

	vectors := make([]embedding.Vector, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", embedding.ErrFormat, item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", embedding.ErrFormat, item.Index)
		}
		vectors[item.Index] = embedding.Vector(item.Embedding)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for index %d", embedding.ErrFormat, i)
		}
	}

	return vectors, nil
}
