/**
 * Storage Manager for Document Ingestion
 *
 * Coordinates storage across PostgreSQL (document records, parent chunks)
 * and Qdrant (child chunk vectors). Parent chunks never enter the vector
 * store; children carry only the parent_id needed to fetch them back.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/scandock/ingest-worker/internal/chunker"
)

// Manager coordinates PostgreSQL and Qdrant operations
type Manager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// NewManager creates a storage manager connected to both backends
func NewManager(postgresURL, qdrantAddress, qdrantCollection string, dimension int) (*Manager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection, dimension)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return &Manager{
		postgres: postgres,
		qdrant:   qdrant,
	}, nil
}

// IndexChunks persists a document's chunk sequence: parents go to
// PostgreSQL as plain text, children go to Qdrant with their vectors.
// childVectors aligns one-to-one with the child chunks in sequence order.
func (m *Manager) IndexChunks(ctx context.Context, documentID string, chunks []chunker.Chunk, childVectors [][]float32) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	children := chunker.Children(chunks)
	if len(childVectors) != len(children) {
		return fmt.Errorf("vector count %d does not match child chunk count %d", len(childVectors), len(children))
	}

	parents := make([]ParentChunk, 0, len(chunks)-len(children))
	for _, c := range chunker.Parents(chunks) {
		parents = append(parents, ParentChunk{
			ID:          c.ParentID,
			DocumentID:  documentID,
			PageNumber:  c.PageNumber,
			GlobalIndex: c.GlobalIndex,
			Text:        c.Text,
		})
	}
	if err := m.postgres.InsertParents(ctx, parents); err != nil {
		return fmt.Errorf("failed to store parent chunks: %w", err)
	}

	points := make([]ChildPoint, 0, len(children))
	for i, c := range children {
		points = append(points, ChildPoint{
			DocumentID:  documentID,
			ParentID:    c.ParentID,
			PageNumber:  c.PageNumber,
			GlobalIndex: c.GlobalIndex,
			Text:        c.Text,
			Vector:      childVectors[i],
		})
	}
	if err := m.qdrant.UpsertChildren(ctx, points); err != nil {
		// Roll back the parent rows so both stores stay consistent
		if delErr := m.postgres.DeleteParents(ctx, documentID); delErr != nil {
			return fmt.Errorf("failed to store child vectors: %w (parent rollback also failed: %v)", err, delErr)
		}
		return fmt.Errorf("failed to store child vectors: %w", err)
	}

	return nil
}

// DeleteDocument removes a document's chunks from both backends
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	if err := m.qdrant.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := m.postgres.DeleteParents(ctx, documentID); err != nil {
		return err
	}

	return nil
}

// Documents exposes the document record client
func (m *Manager) Documents() *PostgresClient {
	return m.postgres
}

// Vectors exposes the vector store client
func (m *Manager) Vectors() *QdrantClient {
	return m.qdrant
}

// Ping checks connectivity to PostgreSQL
func (m *Manager) Ping(ctx context.Context) error {
	return m.postgres.Ping(ctx)
}

// Close closes both backend connections
func (m *Manager) Close() error {
	var firstErr error
	if err := m.qdrant.Close(); err != nil {
		firstErr = err
	}
	if err := m.postgres.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
