package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

func TestEveryIntentReachesTheAssembler(t *testing.T) {
	for _, i := range model.Intents() {
		state := &model.TurnState{Classification: &model.Classification{Intent: i}}

		var path []model.Stage
		for stage := entryStage; stage != stageDone; stage = next(stage, state) {
			path = append(path, stage)
			require.Less(t, len(path), maxSteps)
		}

		require.Len(t, path, 3, i)
		assert.Equal(t, model.StageIntentClassifier, path[0])
		assert.Contains(t, model.ProcessingStages(), path[1])
		assert.Equal(t, model.StageOutputAssembler, path[2])
	}
}

func TestUnknownIntentRoutesToGeneralConversation(t *testing.T) {
	state := &model.TurnState{Classification: &model.Classification{Intent: "shopping"}}
	assert.Equal(t, model.StageGeneralConversation, next(model.StageIntentClassifier, state))
}

func TestPersonalizationGate(t *testing.T) {
	tasks := func(n int) *model.Payload {
		p := &model.Payload{}
		for i := 0; i < n; i++ {
			p.Tasks = append(p.Tasks, model.TaskItem{Title: "t", Priority: model.PriorityLow})
		}
		return p
	}

	tests := []struct {
		name    string
		payload *model.Payload
		want    model.Stage
	}{
		{"no payload", nil, model.StageOutputAssembler},
		{"one task", tasks(1), model.StageOutputAssembler},
		{"two tasks", tasks(2), model.StagePersonalization},
		{"milestones", &model.Payload{Milestones: []model.Milestone{{Title: "a"}, {Title: "b"}}}, model.StagePersonalization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &model.TurnState{}
			state.Record(model.StageOutput{Stage: model.StageTaskProcessing, Status: model.StatusOK, Text: "x", Payload: tt.payload})
			assert.Equal(t, tt.want, next(model.StageTaskProcessing, state))
		})
	}
}

func TestSessionLocksAreFIFOAndReleased(t *testing.T) {
	locks := newSessionLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "s1")
	require.NoError(t, err)

	order := make(chan int, 3)
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			r, err := locks.acquire(ctx, "s1")
			if err == nil {
				order <- i
				r()
			}
			if i == 3 {
				close(done)
			}
		}()
		// Let each waiter enqueue before the next one arrives.
		require.Eventually(t, func() bool { return refs(locks, "s1") == i+1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
	}

	release()
	<-done
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, time.Millisecond)
}

func TestSessionLockAcquireHonoursContext(t *testing.T) {
	locks := newSessionLocks()
	release, err := locks.acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Equal(t, 0, locks.size())
}

func refs(l *sessionLocks, id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lk, ok := l.locks[id]; ok {
		return lk.refs
	}
	return 0
}
