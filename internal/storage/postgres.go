/**
 * PostgreSQL Client for Document Ingestion
 *
 * Persists document records through the ingestion lifecycle and stores the
 * parent-tier chunk texts used for retrieval context expansion.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Document lifecycle statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// Document is the persisted ingestion record for one uploaded file
type Document struct {
	ID               string
	Name             string
	Status           string
	Step             string
	OCRText          string
	PageCount        int
	ChunkCount       int
	OCRConfidenceAvg float64
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ParentChunk is one parent-tier chunk stored as plain text. Children live
// in the vector store and reference these rows by ParentID.
type ParentChunk struct {
	ID          string
	DocumentID  string
	PageNumber  int
	GlobalIndex int
	Text        string
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 100.0]. Float64 representations like 96.32000000000001 cause
// precision errors when cast to bounded NUMERIC columns.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 100.0 {
		return 100.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// newPostgresClientWithDB wraps an existing connection, used by tests
func newPostgresClientWithDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// CreateDocument inserts a new document record in pending status
func (p *PostgresClient) CreateDocument(ctx context.Context, documentID, name string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if name == "" {
		return fmt.Errorf("document name is required")
	}

	query := `
		INSERT INTO ingest.documents (id, name, status, step, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, '', NOW(), NOW())
	`

	if _, err := p.db.ExecContext(ctx, query, documentID, name, StatusPending); err != nil {
		return fmt.Errorf("failed to create document %s: %w", documentID, err)
	}

	return nil
}

// SetProcessing marks a document processing and records the current step
func (p *PostgresClient) SetProcessing(ctx context.Context, documentID, step string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if step == "" {
		return fmt.Errorf("step is required")
	}

	query := `
		UPDATE ingest.documents
		SET status = $2, step = $3, updated_at = NOW()
		WHERE id = $1::uuid
	`

	result, err := p.db.ExecContext(ctx, query, documentID, StatusProcessing, step)
	if err != nil {
		return fmt.Errorf("failed to set step %q for document %s: %w", step, documentID, err)
	}
	return requireRow(result, documentID)
}

// AppendOCRText appends a page's extracted text to the document's running
// OCR text. Each page is appended exactly once, so the column accumulates
// text page by page as extraction progresses.
func (p *PostgresClient) AppendOCRText(ctx context.Context, documentID, text string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if text == "" {
		return nil
	}

	query := `
		UPDATE ingest.documents
		SET ocr_text = COALESCE(ocr_text, '') || $2, updated_at = NOW()
		WHERE id = $1::uuid
	`

	result, err := p.db.ExecContext(ctx, query, documentID, text)
	if err != nil {
		return fmt.Errorf("failed to append OCR text for document %s: %w", documentID, err)
	}
	return requireRow(result, documentID)
}

// Complete marks a document completed with its final counters
func (p *PostgresClient) Complete(ctx context.Context, documentID string, pageCount, chunkCount int, confidenceAvg float64) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `
		UPDATE ingest.documents
		SET status = $2, step = 'Done', page_count = $3, chunk_count = $4,
		    ocr_confidence_avg = $5::NUMERIC(8,4), error_message = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`

	result, err := p.db.ExecContext(ctx, query, documentID, StatusCompleted,
		pageCount, chunkCount, sanitizeConfidence(confidenceAvg))
	if err != nil {
		return fmt.Errorf("failed to complete document %s: %w", documentID, err)
	}
	return requireRow(result, documentID)
}

// Fail marks a document failed with the terminal error message
func (p *PostgresClient) Fail(ctx context.Context, documentID, message string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `
		UPDATE ingest.documents
		SET status = $2, step = 'error', error_message = $3, updated_at = NOW()
		WHERE id = $1::uuid
	`

	result, err := p.db.ExecContext(ctx, query, documentID, StatusFailed, message)
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", documentID, err)
	}
	return requireRow(result, documentID)
}

// GetDocument retrieves a document record by ID
func (p *PostgresClient) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT id, name, status, step, COALESCE(ocr_text, ''),
		       COALESCE(page_count, 0), COALESCE(chunk_count, 0),
		       COALESCE(ocr_confidence_avg, 0), COALESCE(error_message, ''),
		       created_at, updated_at
		FROM ingest.documents
		WHERE id = $1::uuid
	`

	var doc Document
	err := p.db.QueryRowContext(ctx, query, documentID).Scan(
		&doc.ID, &doc.Name, &doc.Status, &doc.Step, &doc.OCRText,
		&doc.PageCount, &doc.ChunkCount, &doc.OCRConfidenceAvg,
		&doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", documentID, err)
	}

	return &doc, nil
}

// NamesByID resolves document display names for a set of document IDs.
// Unknown IDs are simply absent from the result.
func (p *PostgresClient) NamesByID(ctx context.Context, documentIDs []string) (map[string]string, error) {
	if len(documentIDs) == 0 {
		return map[string]string{}, nil
	}

	query := `
		SELECT id, name
		FROM ingest.documents
		WHERE id = ANY($1::uuid[])
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(documentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(documentIDs))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read document names: %w", err)
	}

	return names, nil
}

// InsertParents stores parent chunks for a document in one transaction
func (p *PostgresClient) InsertParents(ctx context.Context, parents []ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin parent chunk transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ingest.parent_chunks (id, document_id, page_number, global_index, text, created_at)
		VALUES ($1, $2::uuid, $3, $4, $5, NOW())
	`

	for _, parent := range parents {
		if parent.ID == "" || parent.DocumentID == "" {
			return fmt.Errorf("parent chunk ID and document ID are required")
		}
		if _, err := tx.ExecContext(ctx, query,
			parent.ID, parent.DocumentID, parent.PageNumber, parent.GlobalIndex, parent.Text); err != nil {
			return fmt.Errorf("failed to insert parent chunk %s: %w", parent.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit parent chunks: %w", err)
	}

	return nil
}

// GetParents retrieves parent chunks by ID, preserving the input order.
// Missing IDs are skipped rather than treated as errors.
func (p *PostgresClient) GetParents(ctx context.Context, parentIDs []string) ([]ParentChunk, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, document_id, page_number, global_index, text
		FROM ingest.parent_chunks
		WHERE id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(parentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get parent chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]ParentChunk, len(parentIDs))
	for rows.Next() {
		var chunk ParentChunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.PageNumber, &chunk.GlobalIndex, &chunk.Text); err != nil {
			return nil, fmt.Errorf("failed to scan parent chunk: %w", err)
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read parent chunks: %w", err)
	}

	ordered := make([]ParentChunk, 0, len(byID))
	for _, id := range parentIDs {
		if chunk, ok := byID[id]; ok {
			ordered = append(ordered, chunk)
		}
	}

	return ordered, nil
}

// DeleteParents removes all parent chunks of a document
func (p *PostgresClient) DeleteParents(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `DELETE FROM ingest.parent_chunks WHERE document_id = $1::uuid`
	if _, err := p.db.ExecContext(ctx, query, documentID); err != nil {
		return fmt.Errorf("failed to delete parent chunks for document %s: %w", documentID, err)
	}

	return nil
}

// requireRow converts a zero-row update into a not-found error
func requireRow(result sql.Result, documentID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document not found: %s", documentID)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
