// Package retrieval turns raw nearest-neighbor hits into a ranked,
// deduplicated document list for answer generation.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/Fang088/FF-KB-Robot/internal/cache"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

const (
	// DefaultTopK is how many documents survive post-processing.
	DefaultTopK = 5

	// DefaultFetchMultiplier oversizes the raw search so filtering and
	// dedup still leave topK candidates.
	DefaultFetchMultiplier = 5

	// DefaultSimilarityThreshold drops hits with a larger raw distance.
	DefaultSimilarityThreshold = 10.0
)

// ScoreBreakdown carries the rerank components for one document.
type ScoreBreakdown struct {
	Vector       float64
	Keyword      float64
	Completeness float64
}

// Document is one post-processed retrieval hit.
type Document struct {
	store.SearchResult
	Score     float64
	Breakdown ScoreBreakdown
}

// Options configures the post-processor.
type Options struct {
	TopK                int
	FetchMultiplier     int
	SimilarityThreshold float64
}

// PostProcessor filters, dedups, and reranks search hits.
type PostProcessor struct {
	opts Options
}

// NewPostProcessor creates a post-processor, filling zero options with
// defaults.
func NewPostProcessor(opts Options) *PostProcessor {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.FetchMultiplier <= 0 {
		opts.FetchMultiplier = DefaultFetchMultiplier
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &PostProcessor{opts: opts}
}

// FetchK returns how many raw hits to request from the index.
func (p *PostProcessor) FetchK() int {
	return p.opts.TopK * p.opts.FetchMultiplier
}

// TopK returns the configured output size.
func (p *PostProcessor) TopK() int {
	return p.opts.TopK
}

// Process filters hits to the knowledge base, drops far matches, dedups
// repeated content keeping the closest copy, and reranks against the
// query. Without a query the documents come back in ascending distance.
func (p *PostProcessor) Process(hits []store.SearchResult, query, kbID string) []Document {
	kept := make([]store.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if kbID != "" && hit.Metadata["kb_id"] != kbID {
			continue
		}
		if float64(hit.Distance) > p.opts.SimilarityThreshold {
			continue
		}
		kept = append(kept, hit)
	}

	kept = dedupByContent(kept)

	docs := make([]Document, 0, len(kept))
	for _, hit := range kept {
		docs = append(docs, Document{SearchResult: hit})
	}

	if strings.TrimSpace(query) == "" {
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].Distance < docs[j].Distance
		})
	} else {
		p.rerank(docs, query)
	}

	if len(docs) > p.opts.TopK {
		docs = docs[:p.opts.TopK]
	}
	return docs
}

// rerank scores 0.5·vector + 0.3·keyword + 0.2·completeness and sorts
// descending.
func (p *PostProcessor) rerank(docs []Document, query string) {
	if len(docs) == 0 {
		return
	}

	minDist, maxDist := docs[0].Distance, docs[0].Distance
	for _, d := range docs[1:] {
		if d.Distance < minDist {
			minDist = d.Distance
		}
		if d.Distance > maxDist {
			maxDist = d.Distance
		}
	}

	keywords := cache.Keywords(query)

	for i := range docs {
		d := &docs[i]

		// Min-max normalized closeness. Equal distances all count as
		// equally close via the 1/(1+d) fallback.
		var vector float64
		if maxDist > minDist {
			vector = 1 - float64(d.Distance-minDist)/float64(maxDist-minDist)
		} else {
			vector = 1 / (1 + float64(d.Distance))
		}

		keyword := keywordFraction(d.Content, keywords)

		completeness := float64(len([]rune(d.Content))) / 200
		if completeness > 1 {
			completeness = 1
		}

		d.Breakdown = ScoreBreakdown{
			Vector:       vector,
			Keyword:      keyword,
			Completeness: completeness,
		}
		d.Score = 0.5*vector + 0.3*keyword + 0.2*completeness
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}

// keywordFraction is the share of query keywords present in content. A
// query with no keywords scores a neutral 0.5.
func keywordFraction(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0.5
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// dedupByContent drops repeated content, keeping the closest copy.
func dedupByContent(hits []store.SearchResult) []store.SearchResult {
	best := make(map[string]int, len(hits))
	out := make([]store.SearchResult, 0, len(hits))
	for _, hit := range hits {
		sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(hit.Content))))
		key := hex.EncodeToString(sum[:])
		if idx, seen := best[key]; seen {
			if hit.Distance < out[idx].Distance {
				out[idx] = hit
			}
			continue
		}
		best[key] = len(out)
		out = append(out, hit)
	}
	return out
}
