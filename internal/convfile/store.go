// Package convfile handles files attached to conversation turns: a
// content-addressed store under the upload dir, fusion of extracted file
// text with knowledge-base retrieval, and a janitor that keeps the upload
// dir within its TTL and quota.
package convfile

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/ingest"
	"github.com/Fang088/FF-KB-Robot/internal/llm"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

const (
	// DefaultMaxFileSize caps one attachment at 100MB.
	DefaultMaxFileSize = 100 << 20

	// extractedCacheSize bounds the extracted-text LRU.
	extractedCacheSize = 128
)

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Attachment is one stored conversation file.
type Attachment struct {
	ID        string
	Filename  string
	Path      string
	Hash      string
	SizeBytes int64
	MimeType  string // Set for images only
}

// IsImage reports whether the attachment goes to the LLM as a vision part.
func (a *Attachment) IsImage() bool {
	return a.MimeType != ""
}

// Store keeps conversation attachments content-addressed under dir and
// caches their extracted text.
type Store struct {
	dir         string
	meta        *store.MetaStore
	extractors  *ingest.Registry
	extracted   *lru.Cache[string, string]
	maxFileSize int64
	logger      *slog.Logger
}

// NewStore creates an attachment store rooted at dir.
func NewStore(dir string, meta *store.MetaStore, extractors *ingest.Registry,
	maxFileSize int64, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.ValidationError("attachment store requires a directory", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StorageError("cannot create upload directory", err)
	}
	if extractors == nil {
		extractors = ingest.NewRegistry()
	}
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](extractedCacheSize)
	if err != nil {
		return nil, errors.InternalError("cannot create extracted-text cache", err)
	}
	return &Store{
		dir:         dir,
		meta:        meta,
		extractors:  extractors,
		extracted:   cache,
		maxFileSize: maxFileSize,
		logger:      logger,
	}, nil
}

// Attach stores one uploaded file. Identical content is stored once; a
// re-upload of known content returns the existing path. Every attach still
// records a temp-file row so the janitor sees the session's usage.
func (s *Store) Attach(ctx context.Context, sessionID, filename string, r io.Reader) (*Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxFileSize+1))
	if err != nil {
		return nil, errors.StorageError("cannot read upload", err)
	}
	if int64(len(data)) > s.maxFileSize {
		return nil, errors.New(errors.ErrCodeFileTooLarge, "upload exceeds size limit: "+filename, nil)
	}
	if len(data) == 0 {
		return nil, errors.ValidationError("upload is empty: "+filename, nil)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	mime := imageExts[ext]
	if mime == "" {
		if _, err := s.extractors.Lookup(filename); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(s.dir, hash+ext)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, errors.StorageError("cannot store upload", err)
		}
	}

	att := &Attachment{
		ID:        uuid.NewString(),
		Filename:  filename,
		Path:      path,
		Hash:      hash,
		SizeBytes: int64(len(data)),
		MimeType:  mime,
	}

	if s.meta != nil {
		err := s.meta.AddTempFile(ctx, &store.TempFile{
			ID:        att.ID,
			SessionID: sessionID,
			Filename:  filename,
			Path:      path,
			SizeBytes: att.SizeBytes,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("attachment_stored",
		"session_id", sessionID,
		"filename", filename,
		"hash", hash[:12],
		"size_bytes", att.SizeBytes,
		"image", att.IsImage())
	return att, nil
}

// ExtractText returns the attachment's text, from the LRU when the content
// was seen before.
func (s *Store) ExtractText(ctx context.Context, att *Attachment) (string, error) {
	if att.IsImage() {
		return "", errors.ValidationError("image attachments have no text: "+att.Filename, nil)
	}
	if text, ok := s.extracted.Get(att.Hash); ok {
		return text, nil
	}

	extractor, err := s.extractors.Lookup(att.Filename)
	if err != nil {
		return "", err
	}
	text, err := extractor.Extract(ctx, att.Path)
	if err != nil {
		return "", err
	}
	s.extracted.Add(att.Hash, text)
	return text, nil
}

// Image loads an image attachment as a data-URL vision part.
func (s *Store) Image(att *Attachment) (llm.Image, error) {
	if !att.IsImage() {
		return llm.Image{}, errors.ValidationError("not an image attachment: "+att.Filename, nil)
	}
	data, err := os.ReadFile(att.Path)
	if err != nil {
		return llm.Image{}, errors.StorageError("cannot read image attachment", err)
	}
	return llm.Image{
		DataURL: "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}
