package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("📂", "Loading knowledge base")

	assert.Equal(t, "📂 Loading knowledge base\n", buf.String())
}

func TestWriter_Status_EmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "Done: 3 ingested, 0 skipped, 1 failed")

	assert.Equal(t, "   Done: 3 ingested, 0 skipped, 1 failed\n", buf.String())
}

func TestWriter_Statusf(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Found %d files under %s", 42, "docs/")

	assert.Contains(t, buf.String(), "📂 Found 42 files under docs/")
}

func TestWriter_Icons(t *testing.T) {
	tests := []struct {
		name  string
		print func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Success("ingest complete") }, "✅ ingest complete\n"},
		{"successf", func(w *Writer) { w.Successf("%d chunks", 7) }, "✅ 7 chunks\n"},
		{"warning", func(w *Writer) { w.Warning("already ingested") }, "⚠️  already ingested\n"},
		{"warningf", func(w *Writer) { w.Warningf("skipped %s", "a.md") }, "⚠️  skipped a.md\n"},
		{"error", func(w *Writer) { w.Error("embedder unreachable") }, "❌ embedder unreachable\n"},
		{"errorf", func(w *Writer) { w.Errorf("%s: timeout", "b.md") }, "❌ b.md: timeout\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.print(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
