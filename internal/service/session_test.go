package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/intent"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/node"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/store"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

func newService(t *testing.T) *SessionService {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	o := orchestrator.New(st, intent.NewClassifier(nil, intent.DefaultHistoryTurns, logger.Nop()),
		node.NewSet(nil), node.NewPersonalizer(nil), orchestrator.Config{}, logger.Nop())
	return NewSessionService(st, o, logger.Nop())
}

func TestSessionLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, "u1")
	require.NoError(t, err)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	_, err = svc.Get(ctx, "u1", id)
	assert.ErrorIs(t, err, ErrNotFound, "no metadata before the first turn")

	var stages []model.Stage
	res, err := svc.Submit(ctx, "u1", id, "你好", func(out model.StageOutput) { stages = append(stages, out.Stage) })
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnNumber)
	assert.NotEmpty(t, res.FinalText)
	assert.Equal(t, model.StageOutputAssembler, stages[len(stages)-1])

	meta, err := svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalTurns)

	turns, err := svc.RecentTurns(ctx, "u1", id, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "你好", turns[0].UserMessage)

	summary, err := svc.Summary(ctx, "u1", id)
	require.NoError(t, err)
	assert.Contains(t, summary, "历史对话共 1 轮")
}

func TestOtherUsersSessionIsHidden(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "owner", "s1", "你好", nil)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "intruder", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.RecentTurns(ctx, "intruder", "s1", 5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Summary(ctx, "intruder", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Submit(ctx, "intruder", "s1", "刚才说了什么", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
