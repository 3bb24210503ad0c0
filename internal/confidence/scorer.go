// Package confidence estimates how trustworthy a generated answer is,
// combining retrieval strength with lexical checks of the answer itself.
package confidence

import (
	"strings"

	"github.com/Fang088/FF-KB-Robot/internal/cache"
	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
)

// Level buckets an overall score.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Weights are the five scoring dimension weights. They should sum to 1.
type Weights struct {
	Retrieval    float64
	Completeness float64
	Keyword      float64
	Quality      float64
	Consistency  float64
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Retrieval:    0.45,
		Completeness: 0.25,
		Keyword:      0.15,
		Quality:      0.10,
		Consistency:  0.05,
	}
}

// Score is a scored answer with its per-dimension breakdown.
type Score struct {
	Overall float64
	Level   Level

	Retrieval    float64
	Completeness float64
	Keyword      float64
	Quality      float64
	Consistency  float64
}

// Scorer scores answers against their question and retrieved documents.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer. Zero weights fall back to the defaults.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Scorer{weights: w}
}

// Score evaluates an answer. An empty answer or empty document set scores
// zero outright: there is nothing to trust.
func (s *Scorer) Score(question, answer string, docs []retrieval.Document) Score {
	if strings.TrimSpace(answer) == "" || len(docs) == 0 {
		return Score{Level: LevelLow}
	}

	sc := Score{
		Retrieval:    retrievalScore(docs),
		Completeness: completenessScore(answer),
		Keyword:      keywordScore(question, answer),
		Quality:      qualityScore(answer),
		Consistency:  consistencyScore(answer, docs),
	}
	sc.Overall = s.weights.Retrieval*sc.Retrieval +
		s.weights.Completeness*sc.Completeness +
		s.weights.Keyword*sc.Keyword +
		s.weights.Quality*sc.Quality +
		s.weights.Consistency*sc.Consistency
	sc.Level = levelFor(sc.Overall)
	return sc
}

func levelFor(overall float64) Level {
	switch {
	case overall >= 0.75:
		return LevelHigh
	case overall >= 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// retrievalScore rewards one very close hit more than a crowd of mediocre
// ones: 0.8·best + 0.2·mean of the similarity 1/(1+distance).
func retrievalScore(docs []retrieval.Document) float64 {
	var best, sum float64
	for _, d := range docs {
		sim := 1 / (1 + float64(d.Distance))
		if sim > best {
			best = sim
		}
		sum += sim
	}
	return 0.8*best + 0.2*sum/float64(len(docs))
}

// lengthAnchors maps answer length in runes onto a score, interpolating
// linearly between the anchor points.
var lengthAnchors = []struct {
	length int
	score  float64
}{
	{0, 0},
	{50, 0.3},
	{150, 0.6},
	{300, 0.8},
	{600, 1.0},
}

func lengthScore(n int) float64 {
	last := lengthAnchors[len(lengthAnchors)-1]
	if n >= last.length {
		return last.score
	}
	for i := 1; i < len(lengthAnchors); i++ {
		lo, hi := lengthAnchors[i-1], lengthAnchors[i]
		if n <= hi.length {
			frac := float64(n-lo.length) / float64(hi.length-lo.length)
			return lo.score + frac*(hi.score-lo.score)
		}
	}
	return last.score
}

func sentenceFactor(answer string) float64 {
	count := 0
	for _, r := range answer {
		switch r {
		case '。', '，', ',', '.':
			count++
		}
	}
	switch {
	case count == 0:
		return 0.3
	case count == 1:
		return 0.6
	case count == 2:
		return 0.75
	default:
		return 1.0
	}
}

// completenessScore blends answer length with sentence structure.
func completenessScore(answer string) float64 {
	n := len([]rune(strings.TrimSpace(answer)))
	return 0.6*lengthScore(n) + 0.4*sentenceFactor(answer)
}

// keywordScore is the fraction of question keywords the answer covers.
// A keyword-free question scores a slightly-positive neutral.
func keywordScore(question, answer string) float64 {
	keywords := cache.Keywords(question)
	if len(keywords) == 0 {
		return 0.6
	}
	lower := strings.ToLower(answer)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// hedgeTerms are phrasings that signal the model is guessing.
var hedgeTerms = []string{
	"可能", "也许", "感觉", "似乎", "不太确定",
	"might", "maybe", "probably", "seems", "unclear",
}

// qualityScore checks surface signals of a well-formed answer: sentence
// punctuation, clause structure, vocabulary variety, decisiveness, and a
// reasonable length band.
func qualityScore(answer string) float64 {
	score := 0.5
	lower := strings.ToLower(answer)
	n := len([]rune(answer))

	if strings.ContainsAny(answer, "。.") {
		score += 0.1
	}
	if strings.Count(answer, "，")+strings.Count(answer, ",") >= 2 {
		score += 0.1
	}

	tokens := cache.Tokenize(answer)
	if len(tokens) > 0 {
		unique := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			unique[tok] = struct{}{}
		}
		ratio := float64(len(unique)) / float64(len(tokens))
		if ratio > 0.7 {
			score += 0.1
		}
		if ratio > 0.8 {
			score += 0.1
		}
	}

	hedges := 0
	for _, term := range hedgeTerms {
		if strings.Contains(lower, term) {
			hedges++
		}
	}
	switch hedges {
	case 0:
		score += 0.2
	case 1:
		score += 0.1
	}

	if n > 100 && n < 1000 {
		score += 0.15
	}
	if n > 200 && n < 800 {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	return score
}

// consistencyScore checks that the answer's numbers and keywords actually
// appear in the retrieved documents. Claims the documents never made pull
// the score down; an answer with nothing checkable passes by default.
func consistencyScore(answer string, docs []retrieval.Document) float64 {
	if len(docs) == 0 {
		return 0.6
	}

	var corpus strings.Builder
	for _, d := range docs {
		corpus.WriteString(strings.ToLower(d.Content))
		corpus.WriteString("\n")
	}
	source := corpus.String()

	digitScore := 1.0
	if digits := numberRuns(answer); len(digits) > 0 {
		grounded := 0
		for _, d := range digits {
			if strings.Contains(source, d) {
				grounded++
			}
		}
		digitScore = float64(grounded) / float64(len(digits))
	}

	keywordGrounding := 1.0
	if keywords := cache.Keywords(answer); len(keywords) > 0 {
		grounded := 0
		for _, kw := range keywords {
			if strings.Contains(source, kw) {
				grounded++
			}
		}
		keywordGrounding = float64(grounded) / float64(len(keywords))
	}

	return 0.2*digitScore + 0.8*keywordGrounding
}

// numberRuns extracts the distinct digit runs of a string.
func numberRuns(text string) []string {
	var runs []string
	seen := make(map[string]struct{})
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		run := cur.String()
		cur.Reset()
		if _, dup := seen[run]; dup {
			return
		}
		seen[run] = struct{}{}
		runs = append(runs, run)
	}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return runs
}
