// Package store is the persistence layer: the HNSW vector index with its
// on-disk envelope metadata, and the SQLite store for knowledge bases,
// documents, chunks, and conversations.
package store

import (
	"context"
	"time"
)

// VectorRecord is one vector plus the payload retrieved with it.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]string
}

// SearchResult is one nearest-neighbor hit. Distance is the raw metric
// value, lower is closer.
type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float32
}

// VectorStore provides approximate nearest-neighbor search over records.
type VectorStore interface {
	// Add inserts records. An existing ID is replaced.
	Add(ctx context.Context, records []VectorRecord) error

	// Search returns up to topK nearest live records.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)

	// DeleteByID tombstones records by ID and returns how many were removed.
	DeleteByID(ctx context.Context, ids []string) (int, error)

	// DeleteByMetadata tombstones every record whose metadata contains all
	// filter pairs and returns how many were removed.
	DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error)

	// Count returns the number of live records.
	Count() int

	// Compact rebuilds the graph without tombstoned nodes.
	Compact(ctx context.Context) error

	// Close persists and releases the store.
	Close() error
}

// KnowledgeBase is one named document collection.
type KnowledgeBase struct {
	ID            string
	Name          string
	Description   string
	DocumentCount int
	ChunkCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Document is one ingested source file.
type Document struct {
	ID          string
	KBID        string
	Filename    string
	FilePath    string // Archived copy under the KB upload dir
	FileType    string
	SizeBytes   int64
	ContentHash string
	ChunkCount  int
	CreatedAt   time.Time
}

// TextChunk is one retrievable slice of a document. VectorID links the
// chunk to its HNSW envelope.
type TextChunk struct {
	ID         string
	DocumentID string
	KBID       string
	ChunkIndex int
	Content    string
	VectorID   string
	CreatedAt  time.Time
}

// Conversation is one chat session scoped to a knowledge base.
type Conversation struct {
	ID           string
	KBID         string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one turn of a conversation. Assistant turns carry the answer
// bookkeeping; user turns leave those fields zero.
type Message struct {
	ID              string
	ConversationID  string
	Role            string // "user" or "assistant"
	Content         string
	Confidence      float64
	ConfidenceLevel string
	FromCache       bool
	IsWelcome       bool // Greeting inserted when the conversation opens
	ResponseTimeMs  int64
	UploadedFiles   []string // Filenames attached to this turn
	CreatedAt       time.Time
}

// FileRef ties an uploaded file to the conversation that used it.
type FileRef struct {
	ID             string
	ConversationID string
	Filename       string
	StoredPath     string
	SizeBytes      int64
	CreatedAt      time.Time
}

// TempFile is a session-scoped upload awaiting janitor cleanup.
type TempFile struct {
	ID        string
	SessionID string
	Filename  string
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}
