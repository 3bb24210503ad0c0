package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fang088/FF-KB-Robot/internal/store"
)

func hit(id, content string, distance float32, kbID string) store.SearchResult {
	return store.SearchResult{
		ID:       id,
		Content:  content,
		Distance: distance,
		Metadata: map[string]string{"kb_id": kbID},
	}
}

func TestProcess_FiltersForeignKB(t *testing.T) {
	p := NewPostProcessor(Options{})

	docs := p.Process([]store.SearchResult{
		hit("a", "Python是一种编程语言", 0.1, "kb1"),
		hit("b", "Go是一种编程语言", 0.2, "kb2"),
	}, "Python", "kb1")

	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestProcess_DropsFarMatches(t *testing.T) {
	p := NewPostProcessor(Options{SimilarityThreshold: 1.0})

	docs := p.Process([]store.SearchResult{
		hit("near", "相关内容", 0.5, "kb1"),
		hit("far", "无关内容", 5.0, "kb1"),
	}, "", "kb1")

	require.Len(t, docs, 1)
	assert.Equal(t, "near", docs[0].ID)
}

func TestProcess_DedupKeepsClosest(t *testing.T) {
	p := NewPostProcessor(Options{})

	docs := p.Process([]store.SearchResult{
		hit("a", "  重复的内容段落  ", 0.8, "kb1"),
		hit("b", "重复的内容段落", 0.2, "kb1"),
		hit("c", "独立的内容段落", 0.5, "kb1"),
	}, "", "kb1")

	require.Len(t, docs, 2)
	ids := []string{docs[0].ID, docs[1].ID}
	assert.Contains(t, ids, "b", "closest duplicate survives")
	assert.NotContains(t, ids, "a")
}

func TestProcess_NoQuerySortsByDistance(t *testing.T) {
	p := NewPostProcessor(Options{})

	docs := p.Process([]store.SearchResult{
		hit("far", "内容一内容一", 2.0, "kb1"),
		hit("near", "内容二内容二", 0.1, "kb1"),
		hit("mid", "内容三内容三", 1.0, "kb1"),
	}, "  ", "kb1")

	require.Len(t, docs, 3)
	assert.Equal(t, []string{"near", "mid", "far"},
		[]string{docs[0].ID, docs[1].ID, docs[2].ID})
	assert.Zero(t, docs[0].Score, "no rerank without a query")
}

func TestProcess_RerankPrefersKeywordMatch(t *testing.T) {
	p := NewPostProcessor(Options{})

	// Same distance: keyword overlap decides.
	docs := p.Process([]store.SearchResult{
		hit("off", "今天的天气很好，适合出门散步和游玩呀。", 0.5, "kb1"),
		hit("on", "Python安装步骤：下载安装包，运行安装程序。", 0.5, "kb1"),
	}, "怎么安装Python", "kb1")

	require.Len(t, docs, 2)
	assert.Equal(t, "on", docs[0].ID)
	assert.Greater(t, docs[0].Score, docs[1].Score)
	assert.Greater(t, docs[0].Breakdown.Keyword, docs[1].Breakdown.Keyword)
}

func TestProcess_RerankVectorComponent(t *testing.T) {
	p := NewPostProcessor(Options{})

	docs := p.Process([]store.SearchResult{
		hit("near", "主题相关的文档内容", 0.1, "kb1"),
		hit("far", "主题相近的文档材料", 3.0, "kb1"),
	}, "主题", "kb1")

	require.Len(t, docs, 2)
	var near, far *Document
	for i := range docs {
		switch docs[i].ID {
		case "near":
			near = &docs[i]
		case "far":
			far = &docs[i]
		}
	}
	require.NotNil(t, near)
	require.NotNil(t, far)
	assert.InDelta(t, 1.0, near.Breakdown.Vector, 1e-9)
	assert.InDelta(t, 0.0, far.Breakdown.Vector, 1e-9)
}

func TestProcess_EqualDistancesFallback(t *testing.T) {
	p := NewPostProcessor(Options{})

	docs := p.Process([]store.SearchResult{
		hit("a", "第一段文档内容", 0.5, "kb1"),
		hit("b", "第二段文档内容", 0.5, "kb1"),
	}, "文档", "kb1")

	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.InDelta(t, 1/(1+0.5), d.Breakdown.Vector, 1e-6)
	}
}

func TestProcess_TruncatesToTopK(t *testing.T) {
	p := NewPostProcessor(Options{TopK: 2})

	var hits []store.SearchResult
	for i := 0; i < 10; i++ {
		hits = append(hits, hit(string(rune('a'+i)),
			fmt.Sprintf("第%d段文档内容", i), float32(i)/10, "kb1"))
	}
	docs := p.Process(hits, "文档", "kb1")
	assert.Len(t, docs, 2)
}

func TestProcess_CompletenessSaturates(t *testing.T) {
	p := NewPostProcessor(Options{})

	long := make([]rune, 0, 400)
	for i := 0; i < 400; i++ {
		long = append(long, '字')
	}
	docs := p.Process([]store.SearchResult{
		hit("long", string(long), 0.5, "kb1"),
		hit("short", "短", 0.5, "kb1"),
	}, "字", "kb1")

	require.Len(t, docs, 2)
	for _, d := range docs {
		if d.ID == "long" {
			assert.InDelta(t, 1.0, d.Breakdown.Completeness, 1e-9)
		} else {
			assert.InDelta(t, 1.0/200, d.Breakdown.Completeness, 1e-9)
		}
	}
}

func TestFetchK(t *testing.T) {
	p := NewPostProcessor(Options{TopK: 5, FetchMultiplier: 5})
	assert.Equal(t, 25, p.FetchK())
	assert.Equal(t, 5, p.TopK())
}
