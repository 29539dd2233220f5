package arxrag

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gpt-4o", cfg.Chat.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.FallbackChatModel)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, 3072, cfg.EmbeddingDim)
	assert.Equal(t, 350, cfg.MaxChunkTokens)
	assert.Equal(t, 60, cfg.ChunkOverlap)
	assert.Equal(t, 50, cfg.ChunkDedupEditMin)
	assert.True(t, cfg.EmbedReferences)
	assert.InDelta(t, 0.45, cfg.Distill.NumericHeavyRatio, 1e-9)
	assert.Equal(t, 800, cfg.Distill.WordBudget)
	assert.Equal(t, 160, cfg.Distill.AnswerWordCap)

	require.NoError(t, cfg.validate())
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arxrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/arxrag
embedding_dim: 1536
chat:
  model: gpt-4o-mini
distill:
  word_budget: 400
  numeric_heavy_ratio: 0.45
  per_chunk_sentence_cap: 3
  sentence_pool_factor: 4
  answer_word_cap: 160
  context_truncate_chars: 1200
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/arxrag", cfg.DataDir)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)
	assert.Equal(t, 400, cfg.Distill.WordBudget)
	// Untouched keys keep their defaults.
	assert.Equal(t, 350, cfg.MaxChunkTokens)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [unterminated"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimension", func(c *Config) { c.EmbeddingDim = 0 }},
		{"zero chunk tokens", func(c *Config) { c.MaxChunkTokens = 0 }},
		{"overlap equals window", func(c *Config) { c.ChunkOverlap = c.MaxChunkTokens }},
		{"overlap exceeds window", func(c *Config) { c.ChunkOverlap = c.MaxChunkTokens + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "arxrag.db"), cfg.resolveDBPath())
	assert.Equal(t, filepath.Join("/data", "index", "chunks.index"), cfg.ChunkIndexPath())
	assert.Equal(t, filepath.Join("/data", "index", "references.index"), cfg.ReferenceIndexPath())
	assert.Equal(t, filepath.Join("/data", "pdfs"), cfg.PDFCacheDir())

	cfg.DBPath = "/elsewhere/x.db"
	assert.Equal(t, "/elsewhere/x.db", cfg.resolveDBPath())
}
