package agent

import (
	"fmt"
	"strings"

	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
)

const systemPrompt = "你是一个知识库问答助手。直接、准确地回答问题。\n\n" +
	"要求：\n" +
	"1. 仅基于提供的文档回答\n" +
	"2. 清晰简洁，避免冗余\n" +
	"3. 如文档信息不足，明确指出"

const emptyContextNotice = "【提示】未找到相关文档。"

// buildContext numbers the retrieved documents for the prompt.
func buildContext(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return emptyContextNotice
	}
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, d.Content)
	}
	return b.String()
}

// buildUserPrompt assembles the reference block and the question.
func buildUserPrompt(docs []retrieval.Document, question string) string {
	return fmt.Sprintf("【参考文档】\n%s\n\n【问题】%s\n\n请直接回答：",
		buildContext(docs), question)
}
