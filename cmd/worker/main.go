/**
 * Document Ingestion Worker - Main Entry Point
 *
 * Go worker for scanned-document ingestion and hierarchical retrieval.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed ingestion queue
 * - Page loading (PDF rasterization + image decoding)
 * - OpenCV preprocessing and Tesseract OCR per page
 * - Searchable PDF composition with an invisible text layer
 * - Parent/child chunking with Cohere embeddings
 * - PostgreSQL for document records and parent chunks
 * - Qdrant for child chunk vectors
 * - Gemini for grounded answer generation
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scandock/ingest-worker/internal/config"
	"github.com/scandock/ingest-worker/internal/embedding"
	"github.com/scandock/ingest-worker/internal/loader"
	"github.com/scandock/ingest-worker/internal/ocr"
	"github.com/scandock/ingest-worker/internal/pdfgen"
	"github.com/scandock/ingest-worker/internal/pipeline"
	"github.com/scandock/ingest-worker/internal/preprocess"
	"github.com/scandock/ingest-worker/internal/progress"
	"github.com/scandock/ingest-worker/internal/queue"
	"github.com/scandock/ingest-worker/internal/rag"
	"github.com/scandock/ingest-worker/internal/server"
	"github.com/scandock/ingest-worker/internal/storage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Ingestion worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Qdrant=%s, Workers=%d",
		cfg.RedisURL, cfg.QdrantURL, cfg.WorkerConcurrency)

	// Unified storage (PostgreSQL + Qdrant)
	log.Printf("Connecting to storage (PostgreSQL + Qdrant)...")
	storageManager, err := storage.NewManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		cfg.EmbedDimension,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	defer storageManager.Close()
	log.Printf("Storage manager initialized")

	embedder, err := embedding.NewClient(cfg.CohereAPIKey, cfg.CohereModel, cfg.EmbedDimension)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	ctx := context.Background()
	answerModel, err := rag.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("Failed to initialize answer model: %v", err)
	}
	defer answerModel.Close()

	composer, err := rag.NewComposer(embedder, storageManager.Vectors(), storageManager.Documents(),
		answerModel, cfg.TopKResults)
	if err != nil {
		log.Fatalf("Failed to initialize retrieval composer: %v", err)
	}

	pipe, err := pipeline.New(pipeline.Options{
		Loader:       loader.NewLoader(cfg.RasterDPI),
		Preprocessor: preprocess.NewPreprocessor(),
		Extractor:    ocr.NewExtractor(""),
		Composer:     pdfgen.NewComposer(),
		Embedder:     embedder,
		Store:        storageManager.Documents(),
		Indexer:      storageManager,
		ChunkConfig:  cfg.ChunkConfig(),
		CPUPoolSize:  cfg.CPUPoolSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	log.Printf("Ingestion pipeline initialized")

	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         "ingest:jobs",
		Concurrency:       cfg.WorkerConcurrency,
		Pipeline:          pipe,
		Store:             storageManager.Documents(),
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		OutputDir:         cfg.StorageDir,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Progress events: polled from the document records, relayed over SSE
	// and mirrored to Redis pub/sub
	publisher, err := progress.NewRedisPublisher(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize progress publisher: %v", err)
	}
	defer publisher.Close()

	watcher, err := progress.NewWatcher(storageManager.Documents(), publisher,
		time.Duration(cfg.ProgressPollInterval)*time.Millisecond)
	if err != nil {
		log.Fatalf("Failed to initialize progress watcher: %v", err)
	}

	srv, err := server.NewServer(server.Options{
		Port:      cfg.HTTPPort,
		Documents: storageManager.Documents(),
		Composer:  composer,
		Watcher:   watcher,
		Consumer:  consumer,
		UploadDir: filepath.Join(cfg.StorageDir, "uploads"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize HTTP server: %v", err)
	}
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("===========================================")
	log.Printf("Ingestion worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: ingest:jobs")
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Raster DPI: %d", cfg.RasterDPI)
	log.Printf("Chunking: parent=%d child=%d overlap=%d",
		cfg.ParentChunkSize, cfg.ChildChunkSize, cfg.ChildChunkOverlap)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	log.Printf("Shutdown complete")
}
