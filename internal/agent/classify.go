package agent

import (
	"strings"

	"github.com/Fang088/FF-KB-Robot/internal/cache"
)

// Question categories. The category is informational: it rides along in
// the response and the trace, it does not change routing.
const (
	CategoryFactual     = "factual"
	CategoryExplanatory = "explanatory"
	CategoryProcedural  = "procedural"
	CategoryComparative = "comparative"
	CategoryCreative    = "creative"
)

// categoryMarkers is checked in order; the first list with a match wins.
var categoryMarkers = []struct {
	category string
	markers  []string
}{
	{CategoryProcedural, []string{"怎样", "怎么", "如何", "步骤", "how to", "how do"}},
	{CategoryComparative, []string{"对比", "差异", "vs", "versus", "区别", "相比"}},
	{CategoryCreative, []string{"建议", "推荐", "想法", "想象", "创意", "suggest", "recommend"}},
	{CategoryExplanatory, []string{"为什么", "原因", "因为", "why", "reason"}},
}

// Classify buckets a question by surface markers. Anything unmatched is
// factual.
func Classify(question string) string {
	lower := strings.ToLower(question)
	for _, c := range categoryMarkers {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return c.category
			}
		}
	}
	return CategoryFactual
}

// classifyCached consults the classifier cache before computing.
func classifyCached(cc *cache.ClassifierCache, question string) string {
	if cc != nil {
		if category, ok := cc.Get(question); ok {
			return category
		}
	}
	category := Classify(question)
	if cc != nil {
		cc.Set(question, category)
	}
	return category
}
