// Package chunk splits document text into overlapping retrieval chunks.
// Splitting is language-aware: Chinese, English, and mixed text use
// different sentence terminator sets.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

// Language classifies the dominant script of a text.
type Language string

const (
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
	LanguageMixed   Language = "mixed"
)

const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the requested overlap between chunks in runes.
	DefaultChunkOverlap = 200
	// DefaultMinChunkSize drops fragments below this rune count.
	DefaultMinChunkSize = 100
	// MaxChunkSize bounds configurable chunk sizes.
	MaxChunkSize = 4000
)

// Options configures the chunker.
type Options struct {
	ChunkSize    int // Target chunk length in runes (default: DefaultChunkSize)
	ChunkOverlap int // Overlap between chunks in runes (default: DefaultChunkOverlap)
	MinChunkSize int // Minimum chunk length in runes (default: DefaultMinChunkSize)
}

// Chunker splits cleaned text into sentence-aligned chunks.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(Options{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts Options) *Chunker {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize > MaxChunkSize {
		opts.ChunkSize = MaxChunkSize
	}
	if opts.ChunkOverlap == 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.MinChunkSize == 0 {
		opts.MinChunkSize = DefaultMinChunkSize
	}
	return &Chunker{opts: opts}
}

var (
	zhSentenceEnd = regexp.MustCompile(`([。！？，；：\n])`)
	enSentenceEnd = regexp.MustCompile(`([.!?\n;:])`)
	// Mixed text splits on the union of both terminator sets.
	mixedSentenceEnd = regexp.MustCompile(`([。！？，；：.!?\n;:])`)

	spaceRun = regexp.MustCompile(`  +`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes raw document text: strips NULs and BOMs, folds CRLF,
// collapses space runs and blank-line runs, and trims the edges.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\uFEFF", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRun.ReplaceAllString(text, " ")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// DetectLanguage classifies text by the ratio of CJK to Latin letters.
// A ratio above 0.5 either way is decisive; otherwise the text is mixed.
func DetectLanguage(text string) Language {
	var cjk, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}

	total := cjk + latin
	if total == 0 {
		return LanguageMixed
	}
	if float64(cjk)/float64(total) > 0.5 {
		return LanguageChinese
	}
	if float64(latin)/float64(total) > 0.5 {
		return LanguageEnglish
	}
	return LanguageMixed
}

// splitSentences splits text into sentences, each keeping its terminator.
func splitSentences(text string, lang Language) []string {
	var re *regexp.Regexp
	switch lang {
	case LanguageChinese:
		re = zhSentenceEnd
	case LanguageEnglish:
		re = enSentenceEnd
	default:
		re = mixedSentenceEnd
	}

	// Insert a split marker after each terminator, then cut on it.
	marked := re.ReplaceAllString(text, "$1\x1f")
	parts := strings.Split(marked, "\x1f")

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// Chunk cleans and splits text into overlapping chunks. Short texts come
// back as a single chunk. Exact duplicates are dropped, as are fragments
// below MinChunkSize unless that would drop everything.
func (c *Chunker) Chunk(text string) []string {
	text = Clean(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= c.opts.ChunkSize {
		return []string{text}
	}

	lang := DetectLanguage(text)

	var chunks []string
	var current strings.Builder
	currentLen := 0
	prevEmitted := ""

	emit := func() {
		if currentLen == 0 {
			return
		}
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		currentLen = 0
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		prevEmitted = chunk
	}

	push := func(sentence string) {
		sLen := runeLen(sentence)
		if currentLen > 0 && currentLen+sLen > c.opts.ChunkSize {
			emit()
			// Seed the next chunk with the tail of the previous one so
			// sentences near the boundary keep their context.
			if tail := c.overlapTail(prevEmitted); tail != "" {
				current.WriteString(tail)
				currentLen = runeLen(tail)
			}
		}
		current.WriteString(sentence)
		currentLen += sLen
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, sentence := range splitSentences(para, lang) {
			push(sentence)
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
	}
	emit()

	chunks = dedupe(chunks)
	return c.dropFragments(chunks)
}

// overlapTail returns the trailing overlap to prepend to the next chunk:
// at most ChunkOverlap runes, and never more than a third of the previous
// chunk so short chunks don't echo themselves forward.
func (c *Chunker) overlapTail(prev string) string {
	if prev == "" {
		return ""
	}
	runes := []rune(prev)
	n := c.opts.ChunkOverlap
	if limit := len(runes) / 3; n > limit {
		n = limit
	}
	if n <= 0 {
		return ""
	}
	return string(runes[len(runes)-n:])
}

// dedupe drops chunks whose case-folded content hash was already seen.
func dedupe(chunks []string) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, chunk := range chunks {
		h := contentHash(chunk)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, chunk)
	}
	return out
}

// dropFragments removes chunks below MinChunkSize. If everything is below
// the floor the original set is kept: tiny documents beat no documents.
func (c *Chunker) dropFragments(chunks []string) []string {
	kept := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if runeLen(chunk) >= c.opts.MinChunkSize {
			kept = append(kept, chunk)
		}
	}
	if len(kept) == 0 {
		return chunks
	}
	return kept
}

// contentHash hashes normalized chunk content for deduplication.
func contentHash(chunk string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(chunk))))
	return hex.EncodeToString(sum[:])
}

func runeLen(s string) int {
	return len([]rune(s))
}
