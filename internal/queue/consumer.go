/**
 * Queue Consumer for Document Ingestion
 *
 * Consumes ingestion tasks from the Redis-backed queue and runs each
 * document through the pipeline. A terminal pipeline failure is final: the
 * document record already carries the failure, so the task is not retried.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/scandock/ingest-worker/internal/pipeline"
)

// TaskTypeIngestDocument is the asynq task type for ingestion jobs
const TaskTypeIngestDocument = "ingest:document"

// TaskPayload is the structure of an ingestion task's payload
type TaskPayload struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"`
}

// DocumentFailer marks a document record failed. Errors that occur before
// the pipeline takes over must still reach a terminal status.
type DocumentFailer interface {
	Fail(ctx context.Context, documentID, message string) error
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	pipeline *pipeline.Pipeline
	store    DocumentFailer
	config   *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Pipeline          *pipeline.Pipeline
	Store             DocumentFailer
	ProcessingTimeout int64 // milliseconds
	OutputDir         string
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("Pipeline is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payload=%s, error=%v",
					task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:   client,
		server:   server,
		mux:      mux,
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		config:   cfg,
	}

	mux.HandleFunc(TaskTypeIngestDocument, consumer.handleIngestDocument)

	return consumer, nil
}

// Enqueue submits an ingestion task. Failures are recorded on the document
// record rather than retried, hence MaxRetry(0).
func (c *Consumer) Enqueue(ctx context.Context, payload TaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeIngestDocument, data)
	if _, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.config.QueueName), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue ingestion task: %w", err)
	}

	return nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleIngestDocument runs one ingestion task through the pipeline
func (c *Consumer) handleIngestDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A partial decode may still carry the document ID; without one
		// there is no record to mark failed.
		c.failDocument(ctx, payload.DocumentID, fmt.Sprintf("invalid task payload: %v", err))
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("[Doc %s] Ingesting document: file=%s, type=%s",
		payload.DocumentID, payload.FileName, payload.FileType)

	data, err := os.ReadFile(payload.FilePath)
	if err != nil {
		c.failDocument(ctx, payload.DocumentID, fmt.Sprintf("failed to read uploaded file: %v", err))
		return fmt.Errorf("failed to read uploaded file %s: %w", payload.FilePath, err)
	}

	timeout := 600000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = c.pipeline.Run(processCtx, pipeline.Request{
		DocumentID:    payload.DocumentID,
		FileName:      payload.FileName,
		FileType:      payload.FileType,
		Data:          data,
		OutputPDFPath: c.outputPath(payload.DocumentID),
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Doc %s] Ingestion timed out after %v (timeout: %v)",
				payload.DocumentID, duration, timeout)
		} else {
			log.Printf("[Doc %s] Ingestion failed after %v: %v", payload.DocumentID, duration, err)
		}
		// The record is already marked failed, do not retry
		return nil
	}

	log.Printf("[Doc %s] Ingestion completed in %v", payload.DocumentID, duration)
	return nil
}

// failDocument moves the record to the failed status when an error occurs
// before the pipeline runs; the pipeline handles its own failures
func (c *Consumer) failDocument(ctx context.Context, documentID, message string) {
	if documentID == "" {
		return
	}
	if err := c.store.Fail(ctx, documentID, message); err != nil {
		log.Printf("[Doc %s] Failed to persist failure state: %v", documentID, err)
	}
}

// outputPath is where the searchable PDF for a document is written
func (c *Consumer) outputPath(documentID string) string {
	if c.config.OutputDir == "" {
		return ""
	}
	return filepath.Join(c.config.OutputDir, documentID+".pdf")
}
