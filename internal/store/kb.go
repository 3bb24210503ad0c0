package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

// CreateKB creates a knowledge base. Names are unique.
func (m *MetaStore) CreateKB(ctx context.Context, name, description string) (*KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, kberrors.ValidationError("knowledge base name is required", nil)
	}

	now := time.Now().UTC()
	kb := &KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		kb.ID, kb.Name, kb.Description, kb.CreatedAt, kb.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, kberrors.New(kberrors.ErrCodeDuplicateName,
				"knowledge base name already exists", err).
				WithDetail("name", name)
		}
		return nil, kberrors.StorageError("create knowledge base", err)
	}
	return kb, nil
}

// GetKB fetches a knowledge base by ID.
func (m *MetaStore) GetKB(ctx context.Context, id string) (*KnowledgeBase, error) {
	return m.scanKB(m.db.QueryRowContext(ctx,
		`SELECT id, name, description, document_count, chunk_count, created_at, updated_at
		 FROM knowledge_bases WHERE id = ?`, id))
}

// GetKBByName fetches a knowledge base by its unique name.
func (m *MetaStore) GetKBByName(ctx context.Context, name string) (*KnowledgeBase, error) {
	return m.scanKB(m.db.QueryRowContext(ctx,
		`SELECT id, name, description, document_count, chunk_count, created_at, updated_at
		 FROM knowledge_bases WHERE name = ?`, name))
}

func (m *MetaStore) scanKB(row *sql.Row) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := row.Scan(&kb.ID, &kb.Name, &kb.Description,
		&kb.DocumentCount, &kb.ChunkCount, &kb.CreatedAt, &kb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, kberrors.New(kberrors.ErrCodeKBNotFound, "knowledge base not found", nil)
	}
	if err != nil {
		return nil, kberrors.StorageError("read knowledge base", err)
	}
	return &kb, nil
}

// ListKBs returns all knowledge bases ordered by name.
func (m *MetaStore) ListKBs(ctx context.Context) ([]*KnowledgeBase, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, description, document_count, chunk_count, created_at, updated_at
		 FROM knowledge_bases ORDER BY name`)
	if err != nil {
		return nil, kberrors.StorageError("list knowledge bases", err)
	}
	defer rows.Close()

	var kbs []*KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description,
			&kb.DocumentCount, &kb.ChunkCount, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, kberrors.StorageError("scan knowledge base", err)
		}
		kbs = append(kbs, &kb)
	}
	return kbs, rows.Err()
}

// DeleteKB removes a knowledge base and everything attached to it:
// documents, chunks, and conversation history for the KB. Foreign keys
// cascade the document and message children.
func (m *MetaStore) DeleteKB(ctx context.Context, id string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM text_chunks WHERE kb_id = ?`,
			`DELETE FROM documents WHERE kb_id = ?`,
			`DELETE FROM conversations WHERE kb_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return kberrors.StorageError("delete knowledge base data", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
		if err != nil {
			return kberrors.StorageError("delete knowledge base", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kberrors.New(kberrors.ErrCodeKBNotFound, "knowledge base not found", nil)
		}
		return nil
	})
}

// RefreshKBStats recomputes the document and chunk counters from the
// actual rows and bumps updated_at.
func (m *MetaStore) RefreshKBStats(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET
			document_count = (SELECT COUNT(*) FROM documents WHERE kb_id = ?),
			chunk_count    = (SELECT COUNT(*) FROM text_chunks WHERE kb_id = ?),
			updated_at     = ?
		 WHERE id = ?`,
		id, id, time.Now().UTC(), id)
	if err != nil {
		return kberrors.StorageError("refresh knowledge base stats", err)
	}
	return nil
}
