package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fang088/FF-KB-Robot/internal/config"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_KBLifecycle(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	kb, err := e.CreateKB(ctx, "产品手册", "产品文档知识库")
	require.NoError(t, err)
	require.NotEmpty(t, kb.ID)

	// Resolvable by ID and by name.
	byID, err := e.ResolveKB(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.ID, byID.ID)

	byName, err := e.ResolveKB(ctx, "产品手册")
	require.NoError(t, err)
	assert.Equal(t, kb.ID, byName.ID)

	kbs, err := e.ListKBs(ctx)
	require.NoError(t, err)
	require.Len(t, kbs, 1)

	require.NoError(t, e.DeleteKB(ctx, "产品手册"))

	_, err = e.ResolveKB(ctx, kb.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKBNotFound, errors.GetCode(err))
}

func TestEngine_ResolveKBValidation(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.ResolveKB(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = e.ResolveKB(context.Background(), "不存在的库")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKBNotFound, errors.GetCode(err))
}

func TestEngine_ConversationFlow(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateKB(ctx, "kb", "")
	require.NoError(t, err)

	conv, err := e.NewConversation(ctx, "kb", "第一次会话")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.MessageCount)

	// A new conversation opens with the assistant greeting.
	msgs, err := e.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.True(t, msgs[0].IsWelcome)
	assert.Contains(t, msgs[0].Content, "kb")
}

func TestEngine_StatsStartEmpty(t *testing.T) {
	e := openTestEngine(t)

	stats := e.Stats()
	assert.Zero(t, stats.Telemetry.TotalQueries)
	assert.Contains(t, stats.Caches, "query")
}

func TestEngine_CloseIsIdempotentOnStores(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}
