/**
 * Configuration for the document ingestion worker
 *
 * Loads configuration from environment variables.
 */

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/scandock/ingest-worker/internal/chunker"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (job queue + progress pub/sub)
	RedisURL string

	// PostgreSQL configuration (document records + parent chunks)
	DatabaseURL string

	// Qdrant vector database configuration (child chunk index)
	QdrantURL        string
	QdrantCollection string

	// Embedding capability (Cohere)
	CohereAPIKey   string
	CohereModel    string
	EmbedDimension int

	// Generative answer capability (Gemini)
	GeminiAPIKey string
	GeminiModel  string

	// Chunking
	ParentChunkSize   int
	ChildChunkSize    int
	ChildChunkOverlap int

	// Retrieval
	TopKResults int

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	CPUPoolSize       int // 0 means NumCPU

	// Page rasterization
	RasterDPI int

	// Storage for generated searchable PDFs
	StorageDir string

	// Progress observer
	ProgressPollInterval int // milliseconds

	// HTTP API
	HTTPPort string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:          getEnvOrThrow("DATABASE_URL"),
		QdrantURL:            getEnvOrDefault("QDRANT_URL", "localhost:6334"),
		QdrantCollection:     getEnvOrDefault("QDRANT_COLLECTION", "document_chunks"),
		CohereAPIKey:         getEnvOrThrow("COHERE_API_KEY"),
		CohereModel:          getEnvOrDefault("COHERE_MODEL", "embed-english-v3.0"),
		EmbedDimension:       getEnvAsIntOrDefault("EMBED_DIMENSION", 1024),
		GeminiAPIKey:         getEnvOrThrow("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		ParentChunkSize:      getEnvAsIntOrDefault("PARENT_CHUNK_SIZE", 800),
		ChildChunkSize:       getEnvAsIntOrDefault("CHILD_CHUNK_SIZE", 300),
		ChildChunkOverlap:    getEnvAsIntOrDefault("CHILD_CHUNK_OVERLAP", 50),
		TopKResults:          getEnvAsIntOrDefault("TOP_K_RESULTS", 5),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 600000), // 10 minutes
		CPUPoolSize:          getEnvAsIntOrDefault("CPU_POOL_SIZE", 0),
		RasterDPI:            getEnvAsIntOrDefault("RASTER_DPI", 200),
		StorageDir:           getEnvOrDefault("STORAGE_DIR", "./storage"),
		ProgressPollInterval: getEnvAsIntOrDefault("PROGRESS_POLL_INTERVAL", 100),
		HTTPPort:             getEnvOrDefault("HTTP_PORT", "8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.EmbedDimension < 1 {
		return fmt.Errorf("EMBED_DIMENSION must be positive, got %d", c.EmbedDimension)
	}

	if c.ParentChunkSize < 1 {
		return fmt.Errorf("PARENT_CHUNK_SIZE must be positive, got %d", c.ParentChunkSize)
	}

	if c.ChildChunkSize < 1 || c.ChildChunkSize > c.ParentChunkSize {
		return fmt.Errorf("CHILD_CHUNK_SIZE must be in [1, PARENT_CHUNK_SIZE], got %d", c.ChildChunkSize)
	}

	if c.ChildChunkOverlap < 0 || c.ChildChunkOverlap >= c.ChildChunkSize {
		return fmt.Errorf("CHILD_CHUNK_OVERLAP must be in [0, CHILD_CHUNK_SIZE), got %d", c.ChildChunkOverlap)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.RasterDPI < 72 || c.RasterDPI > 600 {
		return fmt.Errorf("RASTER_DPI must be between 72 and 600, got %d", c.RasterDPI)
	}

	return nil
}

// ChunkConfig returns the chunking window configuration
func (c *Config) ChunkConfig() chunker.Config {
	return chunker.Config{
		ParentSize:   c.ParentChunkSize,
		ChildSize:    c.ChildChunkSize,
		ChildOverlap: c.ChildChunkOverlap,
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or panics when unset
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
