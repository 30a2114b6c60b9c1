package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL targets a local Ollama-compatible inference server.
	DefaultBaseURL = "http://localhost:11434/api/embed"
	// DefaultModel is a 384-dimension sentence embedding model.
	DefaultModel = "all-minilm"
	// DefaultBatchSize bounds how many texts go into one request.
	DefaultBatchSize = 64
)

// HTTPClient computes embeddings via an Ollama-compatible HTTP endpoint.
// Vectors are unit-normalized before being returned, as the store's
// distance-to-similarity conversion requires.
type HTTPClient struct {
	baseURL   string
	model     string
	batchSize int
	client    *http.Client
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithBaseURL sets the inference server URL.
func WithBaseURL(u string) HTTPClientOption {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithModel sets the embedding model name.
func WithModel(model string) HTTPClientOption {
	return func(c *HTTPClient) { c.model = model }
}

// WithBatchSize sets how many texts are embedded per request.
func WithBatchSize(n int) HTTPClientOption {
	return func(c *HTTPClient) { c.batchSize = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.client = h }
}

// NewHTTPClient creates an embedding client for an Ollama-compatible server.
func NewHTTPClient(opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   DefaultBaseURL,
		model:     DefaultModel,
		batchSize: DefaultBatchSize,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimensions returns the fixed vector width.
func (c *HTTPClient) Dimensions() int { return Dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedTexts embeds texts in batches, returning one unit-normalized vector
// per input in order.
func (c *HTTPClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding: batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *HTTPClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server returned HTTP %d: %s", resp.StatusCode, body)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d texts",
			len(decoded.Embeddings), len(texts))
	}
	for i, v := range decoded.Embeddings {
		if len(v) != Dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), Dimensions)
		}
		Normalize(v)
	}
	return decoded.Embeddings, nil
}
