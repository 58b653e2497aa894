package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/ingest")
	t.Setenv("COHERE_API_KEY", "cohere-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "localhost:6334", cfg.QdrantURL)
	assert.Equal(t, "document_chunks", cfg.QdrantCollection)
	assert.Equal(t, 1024, cfg.EmbedDimension)
	assert.Equal(t, 800, cfg.ParentChunkSize)
	assert.Equal(t, 300, cfg.ChildChunkSize)
	assert.Equal(t, 50, cfg.ChildChunkOverlap)
	assert.Equal(t, 5, cfg.TopKResults)
	assert.Equal(t, 200, cfg.RasterDPI)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PARENT_CHUNK_SIZE", "1000")
	t.Setenv("CHILD_CHUNK_SIZE", "250")
	t.Setenv("RASTER_DPI", "300")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.ParentChunkSize)
	assert.Equal(t, 250, cfg.ChildChunkSize)
	assert.Equal(t, 300, cfg.RasterDPI)
}

func TestValidateChunkRelation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHILD_CHUNK_SIZE", "900") // larger than parent

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHILD_CHUNK_SIZE")
}

func TestValidateOverlapRelation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHILD_CHUNK_OVERLAP", "300") // equal to child size

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHILD_CHUNK_OVERLAP")
}

func TestValidateDPIBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RASTER_DPI", "9999")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RASTER_DPI")
}

func TestChunkConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	cc := cfg.ChunkConfig()
	assert.Equal(t, 800, cc.ParentSize)
	assert.Equal(t, 300, cc.ChildSize)
	assert.Equal(t, 50, cc.ChildOverlap)
}
