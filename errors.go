package arxrag

import "errors"

var (
	// ErrDimensionMismatch is returned when an embedding batch does not
	// match the configured vector dimension.
	ErrDimensionMismatch = errors.New("arxrag: embedding dimension mismatch")

	// ErrIndexUnavailable is returned when a persisted vector index is
	// missing or unreadable and no graceful fallback applies.
	ErrIndexUnavailable = errors.New("arxrag: vector index unavailable")

	// ErrGenerationFailed is returned when the answer generator fails on
	// both the primary and the fallback model.
	ErrGenerationFailed = errors.New("arxrag: answer generation failed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("arxrag: no results found")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("arxrag: document not found")

	// ErrFetchFailed is returned when a source artifact cannot be fetched.
	ErrFetchFailed = errors.New("arxrag: source fetch failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("arxrag: embedding generation failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("arxrag: invalid configuration")
)
