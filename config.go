package arxrag

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the arxrag engine.
type Config struct {
	// DataDir is the root directory for all engine state: the SQLite
	// database, cached PDFs, and persisted vector index files.
	// Defaults to "data" in the working directory.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DBPath overrides the SQLite database location. When empty the
	// database lives at <DataDir>/arxrag.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// LLM endpoints. Embedding and Chat may point at different providers.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// FallbackChatModel is tried once when the primary chat model fails.
	FallbackChatModel string `json:"fallback_chat_model" yaml:"fallback_chat_model"`

	// EmbeddingDim is the fixed vector dimension D. Every embedding batch
	// and every stored vector must match it exactly.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// OfflineEmbedding switches the embedding gateway to the
	// deterministic hash-seeded mode (no network). Used in tests.
	OfflineEmbedding bool `json:"offline_embedding" yaml:"offline_embedding"`

	// Chunking
	MaxChunkTokens    int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap      int `json:"chunk_overlap" yaml:"chunk_overlap"`
	ChunkDedupEditMin int `json:"chunk_dedup_edit_min" yaml:"chunk_dedup_edit_min"` // keep a chunk only if edit distance to the previous kept chunk exceeds this

	// EmbedReferences enables the reference-extraction pass during ingest.
	EmbedReferences bool `json:"embed_references" yaml:"embed_references"`

	// Distillation policy; all knobs tunable.
	Distill DistillConfig `json:"distill" yaml:"distill"`
}

// LLMConfig configures a single LLM endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DistillConfig names the context-distillation policy constants.
type DistillConfig struct {
	NumericHeavyRatio    float64 `json:"numeric_heavy_ratio" yaml:"numeric_heavy_ratio"`       // digit-dominant token fraction above which a text is suppressed
	WordBudget           int     `json:"word_budget" yaml:"word_budget"`                       // total words of extracted sentences
	PerChunkSentenceCap  int     `json:"per_chunk_sentence_cap" yaml:"per_chunk_sentence_cap"` // max sentences accepted per source chunk
	SentencePoolFactor   int     `json:"sentence_pool_factor" yaml:"sentence_pool_factor"`     // scan top k*factor scored chunks for sentences
	AnswerWordCap        int     `json:"answer_word_cap" yaml:"answer_word_cap"`               // hard cap on generated answer length
	ContextTruncateChars int     `json:"context_truncate_chars" yaml:"context_truncate_chars"` // per-chunk display truncation
}

// DefaultConfig returns a Config matching the production defaults:
// OpenAI text-embedding-3-large vectors (D=3072), gpt-4o answers with a
// gpt-4o-mini fallback, 350/60 chunk windows.
func DefaultConfig() Config {
	return Config{
		DataDir: "data",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-large",
			BaseURL:  "https://api.openai.com",
		},
		FallbackChatModel: "gpt-4o-mini",
		EmbeddingDim:      3072,
		MaxChunkTokens:    350,
		ChunkOverlap:      60,
		ChunkDedupEditMin: 50,
		EmbedReferences:   true,
		Distill: DistillConfig{
			NumericHeavyRatio:    0.45,
			WordBudget:           800,
			PerChunkSentenceCap:  3,
			SentencePoolFactor:   4,
			AnswerWordCap:        160,
			ContextTruncateChars: 1200,
		},
	}
}

// LoadConfig reads a YAML config file layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.MaxChunkTokens <= 0 {
		return fmt.Errorf("%w: max_chunk_tokens must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlap >= c.MaxChunkTokens {
		// The sliding window would never shrink and emit a chunk per
		// token. The chunker tolerates it; the engine rejects it.
		return fmt.Errorf("%w: chunk_overlap must be smaller than max_chunk_tokens", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the SQLite database location.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "arxrag.db")
}

// ChunkIndexPath is the persisted chunk-vector index file.
func (c *Config) ChunkIndexPath() string {
	return filepath.Join(c.DataDir, "index", "chunks.index")
}

// ReferenceIndexPath is the persisted reference-vector index file.
func (c *Config) ReferenceIndexPath() string {
	return filepath.Join(c.DataDir, "index", "references.index")
}

// PDFCacheDir is where fetched PDFs are cached.
func (c *Config) PDFCacheDir() string {
	return filepath.Join(c.DataDir, "pdfs")
}
