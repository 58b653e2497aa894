/**
 * Hierarchical Retrieval Composer
 *
 * Answers questions over ingested documents: embeds the query, searches the
 * child-tier vectors for precision, then swaps each hit for its parent
 * chunk so the answer model sees full surrounding context. Parent order
 * follows the first appearance of each parent among the ranked children.
 */

package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/scandock/ingest-worker/internal/storage"
)

// VectorSearcher finds the closest child chunks for a query vector
type VectorSearcher interface {
	SearchChildren(ctx context.Context, queryVector []float32, documentIDs []string, limit int) ([]storage.ChildMatch, error)
}

// ParentFetcher loads parent chunks and document names from the content store
type ParentFetcher interface {
	GetParents(ctx context.Context, parentIDs []string) ([]storage.ParentChunk, error)
	NamesByID(ctx context.Context, documentIDs []string) (map[string]string, error)
}

// QueryEmbedder turns a question into a query-space vector
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// AnswerModel generates an answer from a grounded prompt
type AnswerModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ContextChunk is one piece of retrieved context handed to the answer model
type ContextChunk struct {
	DocumentID   string
	DocumentName string
	PageNumber   int
	Text         string
	Similarity   float64
}

// Result is a generated answer with the context that grounded it
type Result struct {
	Answer  string
	Sources []ContextChunk
}

// Composer runs the retrieve-then-generate flow
type Composer struct {
	embedder QueryEmbedder
	searcher VectorSearcher
	fetcher  ParentFetcher
	model    AnswerModel
	topK     int
}

// NewComposer creates a retrieval composer
func NewComposer(embedder QueryEmbedder, searcher VectorSearcher, fetcher ParentFetcher, model AnswerModel, topK int) (*Composer, error) {
	if embedder == nil || searcher == nil || fetcher == nil {
		return nil, fmt.Errorf("embedder, searcher and fetcher are required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	return &Composer{
		embedder: embedder,
		searcher: searcher,
		fetcher:  fetcher,
		model:    model,
		topK:     topK,
	}, nil
}

// Retrieve embeds the query, ranks child chunks and expands them to their
// parents. When documentIDs is non-empty, search is restricted to those
// documents. A child whose parent cannot be resolved falls back to its own
// text rather than being dropped.
func (c *Composer) Retrieve(ctx context.Context, query string, documentIDs []string) ([]ContextChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	queryVector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := c.searcher.SearchChildren(ctx, queryVector, documentIDs, c.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search child chunks: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Distinct parent IDs in first-appearance order. A parent hit by several
	// children is fetched once and keeps its best (earliest) rank.
	var parentOrder []string
	bestMatch := make(map[string]storage.ChildMatch)
	for _, m := range matches {
		if m.ParentID == "" {
			continue
		}
		if _, seen := bestMatch[m.ParentID]; !seen {
			parentOrder = append(parentOrder, m.ParentID)
			bestMatch[m.ParentID] = m
		}
	}

	parents, err := c.fetcher.GetParents(ctx, parentOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parent chunks: %w", err)
	}
	parentByID := make(map[string]storage.ParentChunk, len(parents))
	for _, p := range parents {
		parentByID[p.ID] = p
	}

	var chunks []ContextChunk
	emitted := make(map[string]bool)
	for _, m := range matches {
		if m.ParentID != "" {
			if emitted[m.ParentID] {
				continue
			}
			emitted[m.ParentID] = true
			if parent, ok := parentByID[m.ParentID]; ok {
				best := bestMatch[m.ParentID]
				chunks = append(chunks, ContextChunk{
					DocumentID: parent.DocumentID,
					PageNumber: parent.PageNumber,
					Text:       parent.Text,
					Similarity: best.Similarity,
				})
				continue
			}
		}
		// Parent missing from the content store, use the child text itself
		chunks = append(chunks, ContextChunk{
			DocumentID: m.DocumentID,
			PageNumber: m.PageNumber,
			Text:       m.Text,
			Similarity: m.Similarity,
		})
	}

	idSet := make(map[string]struct{})
	var ids []string
	for _, chunk := range chunks {
		if _, ok := idSet[chunk.DocumentID]; !ok {
			idSet[chunk.DocumentID] = struct{}{}
			ids = append(ids, chunk.DocumentID)
		}
	}
	names, err := c.fetcher.NamesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document names: %w", err)
	}
	for i := range chunks {
		if name, ok := names[chunks[i].DocumentID]; ok {
			chunks[i].DocumentName = name
		} else {
			chunks[i].DocumentName = chunks[i].DocumentID
		}
	}

	return chunks, nil
}

// BuildPrompt renders the retrieved context into the grounded answer prompt
func BuildPrompt(query string, chunks []ContextChunk) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions about scanned documents.\n")
	sb.WriteString("Answer using only the context below. If the context does not contain the answer, say so.\n\n")
	sb.WriteString("Context:\n")
	for i, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("[Source %d: %s | Page %d]\n", i+1, chunk.DocumentName, chunk.PageNumber))
		sb.WriteString(chunk.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// Answer runs the full flow: retrieve context and generate a grounded answer
func (c *Composer) Answer(ctx context.Context, query string, documentIDs []string) (*Result, error) {
	if c.model == nil {
		return nil, fmt.Errorf("answer model is not configured")
	}

	chunks, err := c.Retrieve(ctx, query, documentIDs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Result{Answer: "No relevant context was found for this question."}, nil
	}

	answer, err := c.model.Generate(ctx, BuildPrompt(query, chunks))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &Result{Answer: answer, Sources: chunks}, nil
}
