/**
 * Cohere Embedding Client
 *
 * Generates dense vector embeddings for chunk text and retrieval queries
 * via the Cohere embed API. Documents and queries use distinct input types
 * so the model applies the matching representation. Batches are capped at
 * the API limit and submitted sequentially.
 */

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
	defaultBaseURL = "https://api.cohere.com/v1/embed"
	maxBatchSize   = 90
)

// InputType selects the embedding representation Cohere applies
type InputType string

const (
	InputTypeDocument InputType = "search_document"
	InputTypeQuery    InputType = "search_query"
)

// Client calls the Cohere embed endpoint
type Client struct {
	apiKey     string
	model      string
	dimension  int
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Cohere embedding client
func NewClient(apiKey, model string, dimension int) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cohere API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("cohere model is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}

	return &Client{
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		baseURL:   defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Dimension returns the vector width this client was configured for
func (c *Client) Dimension() int {
	return c.dimension
}

type embedRequest struct {
	Texts          []string `json:"texts"`
	Model          string   `json:"model"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type embedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Message string `json:"message"`
}

// EmbedDocuments embeds chunk texts for indexing. Results align one-to-one
// with the input order across batches.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embed(ctx, texts[start:end], InputTypeDocument)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery embeds a single retrieval query
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{query}, InputTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d texts exceeds API limit of %d", len(texts), maxBatchSize)
	}

	payload, err := json.Marshal(embedRequest{
		Texts:          texts,
		Model:          c.model,
		InputType:      string(inputType),
		EmbeddingTypes: []string{"float"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr embedResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cohere API error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("cohere API returned status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}

	got := result.Embeddings.Float
	if len(got) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(got))
	}
	for i, vec := range got {
		if len(vec) != c.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vec), c.dimension)
		}
	}

	return got, nil
}
