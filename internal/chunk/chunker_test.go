package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nul bytes", "a\x00b", "ab"},
		{"bom", "\uFEFFhello", "hello"},
		{"crlf", "line1\r\nline2", "line1\nline2"},
		{"space runs", "a    b", "a b"},
		{"blank runs", "p1\n\n\n\n\np2", "p1\n\np2"},
		{"trim", "  text  ", "text"},
		{"empty", "   \n\n  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Language
	}{
		{"chinese", "这是一个关于知识库的中文文档。", LanguageChinese},
		{"english", "This is an English document about retrieval.", LanguageEnglish},
		{"mixed", "向量检索系统 vector", LanguageMixed},
		{"no letters", "12345 !!!", LanguageMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.in))
		})
	}
}

func TestChunk_ShortTextPassthrough(t *testing.T) {
	c := NewChunker()

	chunks := c.Chunk("短文本不需要切分。")
	require.Len(t, chunks, 1)
	assert.Equal(t, "短文本不需要切分。", chunks[0])
}

func TestChunk_EmptyText(t *testing.T) {
	c := NewChunker()
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestChunk_ChineseSplitsOnTerminators(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 60, ChunkOverlap: 10, MinChunkSize: 10})

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("知识库问答系统依赖向量检索提供候选文档。")
		sb.WriteString("置信度评分决定是否继续迭代检索流程呢。")
	}
	chunks := c.Chunk(sb.String())

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 60+20,
			"chunk should stay near the size limit plus one sentence")
	}
}

func TestChunk_EnglishSplitsOnSentences(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 80, ChunkOverlap: 20, MinChunkSize: 10})

	text := strings.Repeat("The index stores vectors on disk. Queries run an approximate search. ", 10)
	chunks := c.Chunk(text)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunk_OverlapCarriesTail(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 50, ChunkOverlap: 15, MinChunkSize: 5})

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteRune(rune('a' + i%26))
		sb.WriteString("entence body text here.")
		sb.WriteString(" ")
	}
	chunks := c.Chunk(sb.String())
	require.Greater(t, len(chunks), 2)

	// Each chunk after the first starts with a tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		n := 15
		if limit := len(prev) / 3; n > limit {
			n = limit
		}
		if n <= 0 {
			continue
		}
		tail := strings.TrimSpace(string(prev[len(prev)-n:]))
		assert.True(t, strings.Contains(chunks[i], tail),
			"chunk %d should carry the tail of chunk %d", i, i-1)
	}
}

func TestChunk_DedupesRepeatedParagraphs(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 40, ChunkOverlap: 1, MinChunkSize: 5})

	para := "这段文字在文档中完全重复出现了很多次真的很多次。"
	text := strings.Repeat(para+"\n\n", 8)
	chunks := c.Chunk(text)

	seen := map[string]int{}
	for _, chunk := range chunks {
		seen[strings.ToLower(strings.TrimSpace(chunk))]++
	}
	for content, count := range seen {
		assert.Equal(t, 1, count, "duplicate chunk survived: %q", content)
	}
}

func TestChunk_DropsFragmentsUnlessAllSmall(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 30, ChunkOverlap: 1, MinChunkSize: 25})

	// Every produced chunk is below the floor, so all are kept.
	text := strings.Repeat("短句。", 30)
	chunks := c.Chunk(text)
	assert.NotEmpty(t, chunks, "all-small inputs must not vanish")
}

func TestChunk_RuneSafety(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 25, ChunkOverlap: 8, MinChunkSize: 3})

	text := strings.Repeat("中文字符占多个字节但算一个字。", 20)
	chunks := c.Chunk(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, strings.HasSuffix(strings.TrimRight(chunk, "\n"), "。") ||
			strings.ContainsRune(chunk, '。') || len([]rune(chunk)) <= 25)
	}
}

func TestNewChunkerWithOptions_Caps(t *testing.T) {
	c := NewChunkerWithOptions(Options{ChunkSize: 99999})
	assert.Equal(t, MaxChunkSize, c.opts.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, c.opts.ChunkOverlap)
	assert.Equal(t, DefaultMinChunkSize, c.opts.MinChunkSize)
}
