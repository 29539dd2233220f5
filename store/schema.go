package store

// schemaSQL is the DDL for all tables. Vectors are stored as raw
// little-endian float32 bytes; a row is dimension-valid when
// length(embedding) equals 4*D.
const schemaSQL = `
-- Ingested source documents
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    arxiv_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    authors TEXT NOT NULL DEFAULT '',
    pdf_path TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Retrieval chunks; index row position follows id order
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    kind TEXT NOT NULL DEFAULT 'text',
    content TEXT NOT NULL DEFAULT '',
    media_path TEXT NOT NULL DEFAULT '',
    ord INTEGER NOT NULL DEFAULT 0,
    embedding BLOB NOT NULL
);

-- Parsed bibliography entries; index row position follows id order
CREATE TABLE IF NOT EXISTS doc_references (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    raw_text TEXT NOT NULL,
    arxiv_id TEXT NOT NULL DEFAULT '',
    authors TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    added_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Query audit log
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    query TEXT NOT NULL,
    topk INTEGER DEFAULT 5,
    answer TEXT,
    model_used TEXT,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    latency_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_arxiv ON documents(arxiv_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_refs_document ON doc_references(document_id);
`
