package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

func drivers(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "lifeos.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func turn(session, user string, n int, msg string, intent model.Intent) *model.TurnRecord {
	return &model.TurnRecord{
		SessionID:        session,
		UserID:           user,
		TurnNumber:       n,
		UserMessage:      msg,
		AssistantMessage: "reply " + msg,
		Intent:           intent,
		Confidence:       0.9,
	}
}

func TestStoreOrderingAndMetadata(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			for i := 1; i <= 5; i++ {
				require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", i, fmt.Sprintf("m%d", i), model.IntentTask)))
			}

			recent, err := s.GetRecentTurns(ctx, "s1", 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, []int{3, 4, 5}, []int{recent[0].TurnNumber, recent[1].TurnNumber, recent[2].TurnNumber})
			assert.Equal(t, "m5", recent[2].UserMessage)
			assert.False(t, recent[2].CreatedAt.IsZero())

			meta, err := s.GetSessionMetadata(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, meta)
			assert.Equal(t, "u1", meta.UserID)
			assert.Equal(t, 5, meta.TotalTurns)
			assert.False(t, meta.LastActiveAt.Before(meta.StartedAt))
		})
	}
}

func TestStoreUnknownSession(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			recent, err := s.GetRecentTurns(ctx, "nope", 5)
			require.NoError(t, err)
			assert.Empty(t, recent)

			meta, err := s.GetSessionMetadata(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, meta)
		})
	}
}

func TestStoreRejectsGapsAndDuplicates(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 1, "a", model.IntentCasual)))

			for _, n := range []int{1, 3, 0} {
				err := s.AppendTurn(ctx, turn("s1", "u1", n, "x", model.IntentCasual))
				var perr *PersistenceError
				require.True(t, errors.As(err, &perr), "turn %d: %v", n, err)
				assert.ErrorIs(t, err, ErrTurnConflict)
			}

			recent, err := s.GetRecentTurns(ctx, "s1", 10)
			require.NoError(t, err)
			assert.Len(t, recent, 1)
		})
	}
}

func TestStoreRejectsForeignUser(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 1, "a", model.IntentCasual)))
			err := s.AppendTurn(ctx, turn("s1", "u2", 2, "b", model.IntentCasual))
			assert.ErrorIs(t, err, ErrSessionOwner)
		})
	}
}

func TestStorePayloadRoundTrip(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			payload := model.Payload{Tasks: []model.TaskItem{{Title: "写报告", Priority: model.PriorityHigh}}}
			data, err := json.Marshal(payload)
			require.NoError(t, err)

			rec := turn("s1", "u1", 1, "写报告", model.IntentTask)
			rec.Data = data
			require.NoError(t, s.AppendTurn(ctx, rec))

			recent, err := s.GetRecentTurns(ctx, "s1", 1)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			got := recent[0].Payload()
			require.NotNil(t, got)
			assert.Equal(t, "写报告", got.Tasks[0].Title)
		})
	}
}

func TestStoreSummarizeIsIdempotent(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			long := strings.Repeat("很长的消息", 30)
			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 1, "你好", model.IntentCasual)))
			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 2, long, model.IntentTask)))
			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 3, "第二个呢", model.IntentTask)))
			require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", 4, "我好累", model.IntentEmotion)))

			first, err := s.Summarize(ctx, "s1")
			require.NoError(t, err)
			second, err := s.Summarize(ctx, "s1")
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.True(t, strings.HasPrefix(first, "历史对话共 4 轮："))
			assert.NotContains(t, first, "你好", "only the last three turns are summarized")
			assert.Contains(t, first, "意图: emotion")
			assert.LessOrEqual(t, utf8.RuneCountInString(first), summaryMaxRunes)

			meta, err := s.GetSessionMetadata(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, first, meta.Summary)
		})
	}
}

func TestStoreProfileCounts(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			intents := []model.Intent{model.IntentTask, model.IntentTask, model.IntentHabit}
			for i, in := range intents {
				require.NoError(t, s.AppendTurn(ctx, turn("s1", "u1", i+1, "m", in)))
			}
			require.NoError(t, s.AppendTurn(ctx, turn("s2", "u1", 1, "m", model.IntentGoal)))
			require.NoError(t, s.AppendTurn(ctx, turn("s3", "u2", 1, "m", model.IntentGoal)))

			profile, err := NewProfileSource(s, 0).ProfileCounts(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 2, profile[model.IntentTask])
			assert.Equal(t, 1, profile[model.IntentGoal])
			assert.Equal(t, 4, profile.Total())

			windowed, err := s.ProfileCounts(ctx, "u1", 2)
			require.NoError(t, err)
			assert.Equal(t, 2, windowed.Total())
			assert.Zero(t, windowed[model.IntentTask])
			assert.Equal(t, 1, windowed[model.IntentGoal])
			assert.Equal(t, 1, windowed[model.IntentHabit])
		})
	}
}

func TestStoreConcurrentSessions(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for sess := 0; sess < 4; sess++ {
				wg.Add(1)
				go func(sess int) {
					defer wg.Done()
					id := fmt.Sprintf("s%d", sess)
					for n := 1; n <= 10; n++ {
						if err := s.AppendTurn(ctx, turn(id, "u1", n, "m", model.IntentCasual)); err != nil {
							errs <- err
						}
					}
				}(sess)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}

			for sess := 0; sess < 4; sess++ {
				recent, err := s.GetRecentTurns(ctx, fmt.Sprintf("s%d", sess), 50)
				require.NoError(t, err)
				require.Len(t, recent, 10)
				for i, r := range recent {
					assert.Equal(t, i+1, r.TurnNumber)
				}
			}
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open(DriverMemory, "")
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))

	_, err = Open("bogus", "")
	assert.Error(t, err)
}

func TestBuildSummaryEmpty(t *testing.T) {
	assert.Equal(t, emptySummary, buildSummary(0, nil))
}
