package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	description    TEXT NOT NULL DEFAULT '',
	document_count INTEGER NOT NULL DEFAULT 0,
	chunk_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	kb_id        TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	file_path    TEXT NOT NULL,
	file_type    TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(kb_id);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(kb_id, content_hash);

CREATE TABLE IF NOT EXISTS text_chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	kb_id       TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	vector_id   TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON text_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_kb ON text_chunks(kb_id);
CREATE INDEX IF NOT EXISTS idx_chunks_vector ON text_chunks(vector_id);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	kb_id         TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_kb ON conversations(kb_id);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id               TEXT PRIMARY KEY,
	conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	confidence_level TEXT NOT NULL DEFAULT '',
	from_cache       INTEGER NOT NULL DEFAULT 0,
	is_welcome       INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	uploaded_files   TEXT NOT NULL DEFAULT '[]',
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id);

CREATE TABLE IF NOT EXISTS conversation_file_refs (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	filename        TEXT NOT NULL,
	stored_path     TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_refs_conversation ON conversation_file_refs(conversation_id);

CREATE TABLE IF NOT EXISTS session_temporary_files (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	filename   TEXT NOT NULL,
	path       TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_temp_files_session ON session_temporary_files(session_id);
CREATE INDEX IF NOT EXISTS idx_temp_files_created ON session_temporary_files(created_at);
`

// MetaStore is the SQLite metadata store.
type MetaStore struct {
	db *sql.DB
}

// OpenMetaStore opens (or creates) the database at path, verifies its
// integrity, and applies the schema. SQLite writes serialize anyway, so
// the pool is capped at one connection to avoid lock contention.
func OpenMetaStore(ctx context.Context, path string) (*MetaStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission, "create data directory", err)
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kberrors.StorageError("open database", err).WithDetail("path", path)
	}
	db.SetMaxOpenConns(1)

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		_ = db.Close()
		return nil, kberrors.New(kberrors.ErrCodeFileCorrupt, "database failed integrity check", err).
			WithDetail("path", path).
			WithSuggestion("restore from backup or delete the database and re-ingest")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, kberrors.StorageError("apply schema", err)
	}

	return &MetaStore{db: db}, nil
}

// DB exposes the underlying handle for stats queries.
func (m *MetaStore) DB() *sql.DB {
	return m.db
}

// Close closes the database.
func (m *MetaStore) Close() error {
	return m.db.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (m *MetaStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.StorageError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return kberrors.StorageError("commit transaction", err)
	}
	return nil
}
