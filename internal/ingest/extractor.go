package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Fang088/FF-KB-Robot/internal/errors"
)

// Extractor turns one source file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// recognizedExts are the upload types the system accepts. Only plain text
// is extracted natively; the rest need a registered extractor.
var recognizedExts = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".pdf":  {},
	".docx": {},
	".doc":  {},
	".xlsx": {},
	".xls":  {},
}

// textExtractor reads the file as-is.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		return "", errors.New(errors.ErrCodeFilePermission, "cannot read file: "+path, err)
	}
	return string(data), nil
}

// Registry maps file extensions to extractors.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Extractor
}

// NewRegistry creates a registry with the native text extractor bound to
// .txt and .md.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(".txt", textExtractor{})
	r.Register(".md", textExtractor{})
	return r
}

// Register binds an extractor to a file extension (with leading dot).
func (r *Registry) Register(ext string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[strings.ToLower(ext)] = e
}

// Lookup resolves the extractor for a filename. A recognized type with no
// extractor and an unrecognized type both fail with a format error, with
// messages telling the two cases apart.
func (r *Registry) Lookup(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	r.mu.RLock()
	e, ok := r.byExt[ext]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	if _, recognized := recognizedExts[ext]; recognized {
		return nil, errors.New(errors.ErrCodeUnsupportedFormat,
			"no extractor registered for "+ext+" files", nil).
			WithSuggestion("register an extractor for " + ext + " before ingesting")
	}
	return nil, errors.New(errors.ErrCodeUnsupportedFormat,
		"unsupported file type: "+ext, nil)
}

// CanExtract reports whether the filename has a usable extractor.
func (r *Registry) CanExtract(filename string) bool {
	_, err := r.Lookup(filename)
	return err == nil
}
