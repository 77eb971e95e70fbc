package local

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spigell/leadrank/internal/embedding"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(server.URL, "nomic-embed-text", "")
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return client, server
}

func TestEmbedBatchParsesIndexedResponse(t *testing.T) {
	t.Parallel()

	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Input) != 2 || req.Model != "nomic-embed-text" {
			t.Errorf("unexpected request: %+v", req)
		}

		// Out-of-order indices must still land in input positions.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{2, 2}},
				{"index": 0, "embedding": []float32{1, 1}},
			},
		})
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Fatalf("embeddings not reassembled by index: %v", vectors)
	}
}

func TestEmbedBatchRateLimitSignal(t *testing.T) {
	t.Parallel()

	client, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	delay, ok := embedding.IsRateLimit(err)
	if !ok {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	if delay != 7 {
		t.Fatalf("expected suggested delay 7, got %v", delay)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	t.Parallel()

	client, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, embedding.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "model", ""); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := New("http://localhost:11434/v1/", "", ""); err == nil {
		t.Fatal("expected error for empty model")
	}

	client, err := New("http://localhost:11434/v1/", "m", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.baseURL != "http://localhost:11434" {
		t.Fatalf("expected trimmed base url, got %q", client.baseURL)
	}
}
