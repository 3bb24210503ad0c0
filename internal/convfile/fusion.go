package convfile

import (
	"context"
	"sort"

	"github.com/Fang088/FF-KB-Robot/internal/llm"
	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

const (
	// syntheticScore is the pre-weight score of an attached-file document.
	// Attachments the user just uploaded outrank all but the very best KB
	// hits.
	syntheticScore = 0.9

	// DefaultFuseTopK bounds the fused document list.
	DefaultFuseTopK = 5
)

// Fuser merges attached-file text with knowledge-base retrieval.
type Fuser struct {
	store      *Store
	fileWeight float64
	kbWeight   float64
	topK       int
}

// NewFuser creates a fuser. Zero weights default to 1, zero topK to
// DefaultFuseTopK.
func NewFuser(s *Store, fileWeight, kbWeight float64, topK int) *Fuser {
	if fileWeight <= 0 {
		fileWeight = 1
	}
	if kbWeight <= 0 {
		kbWeight = 1
	}
	if topK <= 0 {
		topK = DefaultFuseTopK
	}
	return &Fuser{store: s, fileWeight: fileWeight, kbWeight: kbWeight, topK: topK}
}

// Hook builds the document rewrite applied between retrieval and
// generation: text attachments become synthetic documents scored
// 0.9·fileWeight, KB documents keep their score scaled by kbWeight, and
// the merged list is truncated to topK by descending score.
func (f *Fuser) Hook(ctx context.Context, atts []*Attachment) (func([]retrieval.Document) []retrieval.Document, error) {
	synthetic := make([]retrieval.Document, 0, len(atts))
	for _, att := range atts {
		if att.IsImage() {
			continue
		}
		text, err := f.store.ExtractText(ctx, att)
		if err != nil {
			return nil, err
		}
		synthetic = append(synthetic, retrieval.Document{
			SearchResult: store.SearchResult{
				ID:      "file:" + att.Hash,
				Content: text,
				Metadata: map[string]string{
					"source":   "upload",
					"filename": att.Filename,
				},
			},
			Score: syntheticScore * f.fileWeight,
		})
	}

	return func(kbDocs []retrieval.Document) []retrieval.Document {
		fused := make([]retrieval.Document, 0, len(kbDocs)+len(synthetic))
		for _, d := range kbDocs {
			d.Score *= f.kbWeight
			fused = append(fused, d)
		}
		fused = append(fused, synthetic...)

		sort.SliceStable(fused, func(i, j int) bool {
			return fused[i].Score > fused[j].Score
		})
		if len(fused) > f.topK {
			fused = fused[:f.topK]
		}
		return fused
	}, nil
}

// Images loads every image attachment as a vision part.
func (f *Fuser) Images(atts []*Attachment) ([]llm.Image, error) {
	var images []llm.Image
	for _, att := range atts {
		if !att.IsImage() {
			continue
		}
		img, err := f.store.Image(att)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}
