// Package store persists documents, chunks, references, and the query log
// in SQLite. Chunk and reference rows are the backing tables for the two
// vector index files: iterating either table in id order yields the rows in
// the exact order their vectors were appended to the corresponding index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ImageOrdinalBase is the ordinal band for image chunks, chosen high enough
// to never collide with the sequential text-chunk ordinals.
const ImageOrdinalBase = 100000

// Document represents a row in the documents table.
type Document struct {
	ID        int64  `json:"id"`
	ArxivID   string `json:"arxiv_id"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	PDFPath   string `json:"pdf_path"`
	CreatedAt string `json:"created_at"`
}

// Chunk represents a row in the chunks table. Embedding holds the raw
// little-endian float32 bytes of a unit-normalized vector.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Kind       string `json:"kind"` // "text" | "image"
	Content    string `json:"content"`
	MediaPath  string `json:"media_path,omitempty"`
	Ord        int    `json:"ord"`
	Embedding  []byte `json:"-"`
}

// ChunkWithDoc is a chunk joined with its document's citation metadata.
type ChunkWithDoc struct {
	Chunk
	DocTitle   string `json:"doc_title"`
	DocArxivID string `json:"doc_arxiv_id"`
}

// Reference represents a row in the doc_references table.
type Reference struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	RawText    string `json:"raw_text"`
	ArxivID    string `json:"arxiv_id,omitempty"`
	Authors    string `json:"authors,omitempty"`
	Position   int    `json:"position"`
	Embedding  []byte `json:"-"`
	AddedAt    string `json:"added_at"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	Query            string `json:"query"`
	TopK             int    `json:"topk"`
	Answer           string `json:"answer"`
	ModelUsed        string `json:"model_used"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
}

// Stats holds counts of key database objects.
type Stats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	References int `json:"references"`
}

// Store wraps the SQLite database for all arxrag persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// InsertDocument creates a document row and returns its ID.
// No uniqueness is enforced on arxiv_id: re-ingesting the same source id
// deliberately creates a new Document (callers own dedup policy).
func (s *Store) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (arxiv_id, title, authors, pdf_path)
		VALUES (?, ?, ?, ?)
	`, doc.ArxivID, doc.Title, doc.Authors, doc.PDFPath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, arxiv_id, title, authors, pdf_path, created_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.ArxivID, &doc.Title, &doc.Authors, &doc.PDFPath, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents, most recently ingested first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, arxiv_id, title, authors, pdf_path, created_at
		FROM documents ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ArxivID, &d.Title, &d.Authors, &d.PDFPath, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; chunks and references cascade.
// The vector indexes are NOT touched: after a delete they are stale until
// the caller rebuilds them.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Chunk operations ---

// InsertChunks inserts chunks in the given order and returns their IDs.
// Insertion order is load-bearing: it defines index row position.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, kind, content, media_path, ord, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, c.DocumentID, c.Kind, c.Content, c.MediaPath, c.Ord, c.Embedding)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// ChunksInIDOrder returns every chunk (without vectors) joined with its
// document metadata, in stable id order. That order is what maps index row
// positions back to rows.
func (s *Store) ChunksInIDOrder(ctx context.Context) ([]ChunkWithDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.kind, c.content, c.media_path, c.ord,
			d.title, d.arxiv_id
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ChunkWithDoc
	for rows.Next() {
		var c ChunkWithDoc
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Kind, &c.Content, &c.MediaPath, &c.Ord,
			&c.DocTitle, &c.DocArxivID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkVectorsInIDOrder streams every chunk's raw embedding bytes in id
// order, for index rebuilds.
func (s *Store) ChunkVectorsInIDOrder(ctx context.Context) ([][]byte, error) {
	return s.vectorsInIDOrder(ctx, "SELECT embedding FROM chunks ORDER BY id")
}

// ChunksByDocument returns a document's chunks ordered by ordinal.
func (s *Store) ChunksByDocument(ctx context.Context, docID int64, limit, offset int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, kind, content, media_path, ord
		FROM chunks WHERE document_id = ?
		ORDER BY ord LIMIT ? OFFSET ?
	`, docID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Kind, &c.Content, &c.MediaPath, &c.Ord); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunksWithDim counts chunks whose stored vector byte length matches
// the given dimension. Used by the index health check.
func (s *Store) CountChunksWithDim(ctx context.Context, dim int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE length(embedding) = ?", dim*4).Scan(&n)
	return n, err
}

// --- Reference operations ---

// InsertReferences inserts references in the given order.
// As with chunks, insertion order defines index row position.
func (s *Store) InsertReferences(ctx context.Context, refs []Reference) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO doc_references (document_id, raw_text, arxiv_id, authors, position, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range refs {
			if _, err := stmt.ExecContext(ctx, r.DocumentID, r.RawText, r.ArxivID, r.Authors, r.Position, r.Embedding); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReferencesInIDOrder returns every reference (without vectors) in stable
// id order for index position mapping.
func (s *Store) ReferencesInIDOrder(ctx context.Context) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, raw_text, arxiv_id, authors, position, added_at
		FROM doc_references ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// ReferenceVectorsInIDOrder streams every reference's raw embedding bytes
// in id order, for index rebuilds. References without a vector yield an
// empty row (counted as malformed by the rebuild).
func (s *Store) ReferenceVectorsInIDOrder(ctx context.Context) ([][]byte, error) {
	return s.vectorsInIDOrder(ctx, "SELECT COALESCE(embedding, x'') FROM doc_references ORDER BY id")
}

// ReferencesByDocument returns a document's references in extraction order.
func (s *Store) ReferencesByDocument(ctx context.Context, docID int64) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, raw_text, arxiv_id, authors, position, added_at
		FROM doc_references WHERE document_id = ? ORDER BY position
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// FirstReference returns the first parsed reference of a document, or nil
// when the document has none.
func (s *Store) FirstReference(ctx context.Context, docID int64) (*Reference, error) {
	var r Reference
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, raw_text, arxiv_id, authors, position, added_at
		FROM doc_references WHERE document_id = ?
		ORDER BY position LIMIT 1
	`, docID).Scan(&r.ID, &r.DocumentID, &r.RawText, &r.ArxivID, &r.Authors, &r.Position, &r.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountReferences returns the total reference row count.
func (s *Store) CountReferences(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM doc_references").Scan(&n)
	return n, err
}

// --- Query log ---

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (query, topk, answer, model_used, prompt_tokens, completion_tokens, total_tokens, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.Query, q.TopK, q.Answer, q.ModelUsed, q.PromptTokens, q.CompletionTokens, q.TotalTokens, q.LatencyMs)
	return err
}

// --- Maintenance helpers ---

// ClearCorpus deletes all documents (cascading to chunks and references).
// Used by reset-reingest maintenance; callers must also remove or rebuild
// the index files.
func (s *Store) ClearCorpus(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	return err
}

// GetStats returns row counts for diagnostics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &st.Documents},
		{"SELECT COUNT(*) FROM chunks", &st.Chunks},
		{"SELECT COUNT(*) FROM doc_references", &st.References},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return st, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) vectorsInIDOrder(ctx context.Context, query string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

func scanReferences(rows *sql.Rows) ([]Reference, error) {
	var refs []Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.RawText, &r.ArxivID, &r.Authors, &r.Position, &r.AddedAt); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
