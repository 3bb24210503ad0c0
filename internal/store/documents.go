package store

import (
	"context"
	"database/sql"
	"time"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

// InsertDocument writes a document with its chunks in one transaction and
// bumps the KB counters. Chunk inserts go through a prepared statement.
func (m *MetaStore) InsertDocument(ctx context.Context, doc *Document, chunks []*TextChunk) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.ChunkCount = len(chunks)

	return m.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, kb_id, filename, file_path, file_type,
				size_bytes, content_hash, chunk_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.KBID, doc.Filename, doc.FilePath, doc.FileType,
			doc.SizeBytes, doc.ContentHash, doc.ChunkCount, doc.CreatedAt)
		if err != nil {
			return kberrors.StorageError("insert document", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO text_chunks (id, document_id, kb_id, chunk_index,
				content, vector_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return kberrors.StorageError("prepare chunk insert", err)
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx,
				chunk.ID, chunk.DocumentID, chunk.KBID, chunk.ChunkIndex,
				chunk.Content, chunk.VectorID, chunk.CreatedAt); err != nil {
				return kberrors.StorageError("insert chunk", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE knowledge_bases SET
				document_count = document_count + 1,
				chunk_count    = chunk_count + ?,
				updated_at     = ?
			 WHERE id = ?`,
			len(chunks), now, doc.KBID)
		if err != nil {
			return kberrors.StorageError("update knowledge base counters", err)
		}
		return nil
	})
}

// GetDocument fetches one document.
func (m *MetaStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := m.db.QueryRowContext(ctx,
		`SELECT id, kb_id, filename, file_path, file_type, size_bytes,
			content_hash, chunk_count, created_at
		 FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.KBID, &doc.Filename, &doc.FilePath, &doc.FileType,
			&doc.SizeBytes, &doc.ContentHash, &doc.ChunkCount, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, kberrors.New(kberrors.ErrCodeNotFound, "document not found", nil)
	}
	if err != nil {
		return nil, kberrors.StorageError("read document", err)
	}
	return &doc, nil
}

// FindDocumentByHash returns the document with the given content hash in
// a KB, or nil when no duplicate exists.
func (m *MetaStore) FindDocumentByHash(ctx context.Context, kbID, hash string) (*Document, error) {
	var doc Document
	err := m.db.QueryRowContext(ctx,
		`SELECT id, kb_id, filename, file_path, file_type, size_bytes,
			content_hash, chunk_count, created_at
		 FROM documents WHERE kb_id = ? AND content_hash = ?`, kbID, hash).
		Scan(&doc.ID, &doc.KBID, &doc.Filename, &doc.FilePath, &doc.FileType,
			&doc.SizeBytes, &doc.ContentHash, &doc.ChunkCount, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kberrors.StorageError("find document by hash", err)
	}
	return &doc, nil
}

// ListDocuments returns a KB's documents, newest first.
func (m *MetaStore) ListDocuments(ctx context.Context, kbID string) ([]*Document, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, kb_id, filename, file_path, file_type, size_bytes,
			content_hash, chunk_count, created_at
		 FROM documents WHERE kb_id = ? ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, kberrors.StorageError("list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.KBID, &doc.Filename, &doc.FilePath,
			&doc.FileType, &doc.SizeBytes, &doc.ContentHash, &doc.ChunkCount,
			&doc.CreatedAt); err != nil {
			return nil, kberrors.StorageError("scan document", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its chunks, returning the vector
// IDs the caller must purge from the index.
func (m *MetaStore) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	doc, err := m.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	vectorIDs, err := m.VectorIDsByDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	err = m.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM text_chunks WHERE document_id = ?`, id); err != nil {
			return kberrors.StorageError("delete chunks", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return kberrors.StorageError("delete document", err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE knowledge_bases SET
				document_count = MAX(document_count - 1, 0),
				chunk_count    = MAX(chunk_count - ?, 0),
				updated_at     = ?
			 WHERE id = ?`,
			doc.ChunkCount, time.Now().UTC(), doc.KBID)
		if err != nil {
			return kberrors.StorageError("update knowledge base counters", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectorIDs, nil
}

// VectorIDsByDocument lists the vector IDs of a document's chunks.
func (m *MetaStore) VectorIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT vector_id FROM text_chunks WHERE document_id = ?`, docID)
	if err != nil {
		return nil, kberrors.StorageError("list vector ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kberrors.StorageError("scan vector id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunksByDocument returns a document's chunks in order.
func (m *MetaStore) GetChunksByDocument(ctx context.Context, docID string) ([]*TextChunk, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, document_id, kb_id, chunk_index, content, vector_id, created_at
		 FROM text_chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, kberrors.StorageError("list chunks", err)
	}
	defer rows.Close()

	var chunks []*TextChunk
	for rows.Next() {
		var c TextChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.KBID, &c.ChunkIndex,
			&c.Content, &c.VectorID, &c.CreatedAt); err != nil {
			return nil, kberrors.StorageError("scan chunk", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
