package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

// CreateConversation starts a conversation in a knowledge base.
func (m *MetaStore) CreateConversation(ctx context.Context, kbID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		KBID:      kbID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO conversations (id, kb_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.KBID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, kberrors.StorageError("create conversation", err)
	}
	return conv, nil
}

// GetConversation fetches one conversation.
func (m *MetaStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := m.db.QueryRowContext(ctx,
		`SELECT id, kb_id, title, message_count, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.KBID, &conv.Title, &conv.MessageCount,
			&conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, kberrors.New(kberrors.ErrCodeNotFound, "conversation not found", nil)
	}
	if err != nil {
		return nil, kberrors.StorageError("read conversation", err)
	}
	return &conv, nil
}

// ListConversations returns a KB's conversations, most recently active
// first.
func (m *MetaStore) ListConversations(ctx context.Context, kbID string) ([]*Conversation, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, kb_id, title, message_count, created_at, updated_at
		 FROM conversations WHERE kb_id = ? ORDER BY updated_at DESC`, kbID)
	if err != nil {
		return nil, kberrors.StorageError("list conversations", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.KBID, &conv.Title, &conv.MessageCount,
			&conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, kberrors.StorageError("scan conversation", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// AppendMessage adds a turn and bumps the conversation's message count in
// one transaction.
func (m *MetaStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	files, err := json.Marshal(msg.UploadedFiles)
	if err != nil {
		return kberrors.InternalError("marshal uploaded files", err)
	}

	return m.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (id, conversation_id, role, content,
				confidence, confidence_level, from_cache, is_welcome, response_time_ms,
				uploaded_files, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, msg.Role, msg.Content,
			msg.Confidence, msg.ConfidenceLevel, msg.FromCache, msg.IsWelcome,
			msg.ResponseTimeMs, string(files), msg.CreatedAt)
		if err != nil {
			return kberrors.StorageError("insert message", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET message_count = message_count + 1, updated_at = ?
			 WHERE id = ?`,
			msg.CreatedAt, msg.ConversationID)
		if err != nil {
			return kberrors.StorageError("update conversation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kberrors.New(kberrors.ErrCodeNotFound, "conversation not found", nil)
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in order.
func (m *MetaStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, confidence, confidence_level,
			from_cache, is_welcome, response_time_ms, uploaded_files, created_at
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, kberrors.StorageError("list messages", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var files string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Confidence, &msg.ConfidenceLevel, &msg.FromCache, &msg.IsWelcome,
			&msg.ResponseTimeMs, &files, &msg.CreatedAt); err != nil {
			return nil, kberrors.StorageError("scan message", err)
		}
		if err := json.Unmarshal([]byte(files), &msg.UploadedFiles); err != nil {
			return nil, kberrors.InternalError("unmarshal uploaded files", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// DeleteConversation removes a conversation; messages and file refs
// cascade.
func (m *MetaStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return kberrors.StorageError("delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kberrors.New(kberrors.ErrCodeNotFound, "conversation not found", nil)
	}
	return nil
}

// AddFileRef records that an uploaded file was used in a conversation.
func (m *MetaStore) AddFileRef(ctx context.Context, ref *FileRef) error {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO conversation_file_refs (id, conversation_id, filename,
			stored_path, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.ConversationID, ref.Filename, ref.StoredPath,
		ref.SizeBytes, ref.CreatedAt)
	if err != nil {
		return kberrors.StorageError("insert file ref", err)
	}
	return nil
}

// ListFileRefs returns a conversation's file references, oldest first.
func (m *MetaStore) ListFileRefs(ctx context.Context, conversationID string) ([]*FileRef, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, conversation_id, filename, stored_path, size_bytes, created_at
		 FROM conversation_file_refs WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, kberrors.StorageError("list file refs", err)
	}
	defer rows.Close()

	var refs []*FileRef
	for rows.Next() {
		var ref FileRef
		if err := rows.Scan(&ref.ID, &ref.ConversationID, &ref.Filename,
			&ref.StoredPath, &ref.SizeBytes, &ref.CreatedAt); err != nil {
			return nil, kberrors.StorageError("scan file ref", err)
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// AddTempFile records a session upload for janitor tracking.
func (m *MetaStore) AddTempFile(ctx context.Context, tf *TempFile) error {
	if tf.ID == "" {
		tf.ID = uuid.NewString()
	}
	if tf.CreatedAt.IsZero() {
		tf.CreatedAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO session_temporary_files (id, session_id, filename, path,
			size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tf.ID, tf.SessionID, tf.Filename, tf.Path, tf.SizeBytes, tf.CreatedAt)
	if err != nil {
		return kberrors.StorageError("insert temp file", err)
	}
	return nil
}

// ListTempFiles returns all tracked session uploads, oldest first.
func (m *MetaStore) ListTempFiles(ctx context.Context) ([]*TempFile, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_id, filename, path, size_bytes, created_at
		 FROM session_temporary_files ORDER BY created_at, id`)
	if err != nil {
		return nil, kberrors.StorageError("list temp files", err)
	}
	defer rows.Close()

	var files []*TempFile
	for rows.Next() {
		var tf TempFile
		if err := rows.Scan(&tf.ID, &tf.SessionID, &tf.Filename, &tf.Path,
			&tf.SizeBytes, &tf.CreatedAt); err != nil {
			return nil, kberrors.StorageError("scan temp file", err)
		}
		files = append(files, &tf)
	}
	return files, rows.Err()
}

// DeleteTempFile removes a temp-file record.
func (m *MetaStore) DeleteTempFile(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM session_temporary_files WHERE id = ?`, id)
	if err != nil {
		return kberrors.StorageError("delete temp file", err)
	}
	return nil
}

// TempFileTotalBytes sums the tracked upload sizes.
func (m *MetaStore) TempFileTotalBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT SUM(size_bytes) FROM session_temporary_files`).Scan(&total)
	if err != nil {
		return 0, kberrors.StorageError("sum temp file sizes", err)
	}
	return total.Int64, nil
}
