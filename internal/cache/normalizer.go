package cache

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopwords dropped during keyword extraction. Mixed Chinese/English because
// knowledge bases and questions routinely mix both.
var stopwords = map[string]struct{}{
	"什么": {}, "是": {}, "啥": {}, "呢": {}, "吗": {},
	"的": {}, "了": {}, "哦": {}, "呃": {},
	"is": {}, "are": {}, "what": {}, "the": {},
}

// synonyms folds colloquial variants onto one canonical form so that
// phrasings like "Python是啥" and "Python是什么" share a semantic key.
var synonyms = []struct{ from, to string }{
	{"怎样", "怎么"},
	{"为何", "为什么"},
	{"如何", "怎么"},
	{"啥", "什么"},
}

var punctRun = regexp.MustCompile(`[？?！!，,。.；;：:'"“”‘’【】\[\]（）()\s]+`)

// Normalized is the canonical form of a question.
type Normalized struct {
	// Text is the cleaned question with synonyms folded and punctuation
	// collapsed to single spaces.
	Text string
	// Keywords are the sorted unique content tokens of Text.
	Keywords []string
	// SemanticHash identifies the keyword set. Two questions with the same
	// keywords share a hash regardless of phrasing.
	SemanticHash string
}

// Normalize canonicalizes a question for semantic cache lookup and keyword
// scoring. Normalization is idempotent: Normalize(n.Text) == n.
func Normalize(question string) Normalized {
	text := strings.ToLower(strings.TrimSpace(question))

	for _, s := range synonyms {
		text = strings.ReplaceAll(text, s.from, s.to)
	}

	text = strings.TrimSpace(punctRun.ReplaceAllString(text, " "))

	seen := make(map[string]struct{})
	var keywords []string
	for _, field := range strings.Fields(text) {
		for _, tok := range splitCJK(field) {
			if utf8.RuneCountInString(tok) <= 1 {
				continue
			}
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			keywords = append(keywords, tok)
		}
	}
	sort.Strings(keywords)

	sum := md5.Sum([]byte(strings.Join(keywords, ":")))

	return Normalized{
		Text:         text,
		Keywords:     keywords,
		SemanticHash: hex.EncodeToString(sum[:]),
	}
}

// Keywords extracts the sorted unique content tokens of a question.
func Keywords(question string) []string {
	return Normalize(question).Keywords
}

// Tokenize splits text into lowercase tokens in order, without dedup or
// stopword filtering. Used for lexical overlap scoring.
func Tokenize(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = punctRun.ReplaceAllString(text, " ")
	var out []string
	for _, field := range strings.Fields(text) {
		out = append(out, splitCJK(field)...)
	}
	return out
}

// splitCJK breaks a token into Han runs and everything-else runs. Chinese
// has no word boundaries, so Han runs longer than two characters become
// overlapping bigrams.
func splitCJK(tok string) []string {
	runes := []rune(tok)
	var out []string
	start := 0
	flush := func(end int, han bool) {
		if end <= start {
			return
		}
		run := runes[start:end]
		if han && len(run) > 2 {
			for i := 0; i+1 < len(run); i++ {
				out = append(out, string(run[i:i+2]))
			}
		} else {
			out = append(out, string(run))
		}
		start = end
	}

	prevHan := false
	for i, r := range runes {
		han := unicode.Is(unicode.Han, r)
		if i > 0 && han != prevHan {
			flush(i, prevHan)
		}
		prevHan = han
	}
	flush(len(runes), prevHan)
	return out
}
