package node

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm/llmtest"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

func titles(tasks []model.TaskItem) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func recordWith(t *testing.T, p *model.Payload) model.TurnRecord {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return model.TurnRecord{TurnNumber: 1, UserMessage: "earlier", Data: data}
}

func TestExtractTasks(t *testing.T) {
	tasks := ExtractTasks("我今天完成了跑步，还要写报告和回邮件")
	assert.Equal(t, []string{"写报告", "回邮件"}, titles(tasks))
	assert.Equal(t, 0, tasks[0].Position)
	assert.Equal(t, 1, tasks[1].Position)
}

func TestExtractTasksSeparatorsAndHeader(t *testing.T) {
	tasks := ExtractTasks("今天要做：写周报、开会；还有整理桌面")
	assert.Equal(t, []string{"写周报", "开会", "整理桌面"}, titles(tasks))
	for _, task := range tasks {
		assert.Equal(t, model.PriorityHigh, task.Priority, "header urgency applies to %s", task.Title)
	}

	tasks = ExtractTasks("明天10:30开会")
	require.Len(t, tasks, 1)
	assert.Equal(t, model.PriorityHigh, tasks[0].Priority)

	tasks = ExtractTasks("I need to call mom and also buy milk")
	assert.Equal(t, []string{"call mom", "buy milk"}, titles(tasks))
}

func TestExtractTasksDropsShortFragments(t *testing.T) {
	assert.Empty(t, ExtractTasks("嗯，好"))
}

func TestRubricPriority(t *testing.T) {
	assert.Equal(t, model.PriorityHigh, RubricPriority("明天交方案"))
	assert.Equal(t, model.PriorityHigh, RubricPriority("finish it ASAP"))
	assert.Equal(t, model.PriorityMedium, RubricPriority("周五之前提交"))
	assert.Equal(t, model.PriorityMedium, RubricPriority("send it by friday"))
	assert.Equal(t, model.PriorityLow, RubricPriority("整理书架"))
}

func TestSortTasksKeepsMentionOrderAmongEquals(t *testing.T) {
	tasks := []model.TaskItem{
		{Title: "a", Priority: model.PriorityLow, Position: 0},
		{Title: "b", Priority: model.PriorityHigh, Position: 1},
		{Title: "c", Priority: model.PriorityLow, Position: 2},
		{Title: "d", Priority: model.PriorityHigh, Position: 3},
		{Title: "e", Priority: model.PriorityMedium, Position: 4},
	}
	SortTasks(tasks)
	assert.Equal(t, []string{"b", "d", "e", "a", "c"}, titles(tasks))
}

func TestTaskRunUsesModelAndRubric(t *testing.T) {
	gen := llmtest.NewScripted(map[string]string{
		"task_extract": `{"tasks": [
			{"title": "回邮件", "priority": "low"},
			{"title": "写报告", "priority": "unknown", "deadline": "明天"},
			{"title": "开会", "priority": "medium"}
		], "suggestions": ["先写报告"]}`,
	})
	n := NewTaskNode(gen)

	res, err := n.Run(context.Background(), &Input{Utterance: "明天要写报告，还要开会，回邮件"})
	require.NoError(t, err)
	require.NotNil(t, res.Payload)

	assert.Equal(t, []string{"写报告", "开会", "回邮件"}, titles(res.Payload.Tasks))
	assert.Equal(t, model.PriorityHigh, res.Payload.Tasks[0].Priority, "rubric fills an invalid label")
	assert.Equal(t, "写报告", res.Payload.StartHere)
	assert.Contains(t, res.Text, "好的！我帮你整理了 3 个任务")
	assert.Contains(t, res.Text, "👉 建议先从「写报告」开始")
	assert.Contains(t, res.Text, "先写报告")
}

func TestTaskRunNoHighPriorityHasNoStartHere(t *testing.T) {
	gen := llmtest.NewScripted(map[string]string{
		"task_extract": `{"tasks": [{"title": "整理书架", "priority": "low"}, {"title": "浇花", "priority": "low"}]}`,
	})
	res, err := NewTaskNode(gen).Run(context.Background(), &Input{Utterance: "整理书架，浇花"})
	require.NoError(t, err)
	assert.Empty(t, res.Payload.StartHere)
	assert.NotContains(t, res.Text, "👉")
}

func TestTaskRunFailsWithoutBackend(t *testing.T) {
	_, err := NewTaskNode(llmtest.Failing(llm.KindTimeout)).Run(context.Background(), &Input{Utterance: "写报告"})
	assert.Equal(t, llm.KindTimeout, llm.KindOf(err))
}

func TestTaskFallbackReusesPreviousTasksOnContinuation(t *testing.T) {
	prev := &model.Payload{Tasks: []model.TaskItem{
		{Title: "写报告", Priority: model.PriorityHigh, Position: 0},
		{Title: "回邮件", Priority: model.PriorityLow, Position: 1},
	}}
	in := &Input{
		Utterance:      "第二个呢",
		History:        []model.TurnRecord{recordWith(t, prev)},
		Classification: model.Classification{Intent: model.IntentTask, Continuation: true},
	}

	res := NewTaskNode(nil).Fallback(in)
	require.NotNil(t, res.Payload)
	assert.Equal(t, []string{"写报告", "回邮件"}, titles(res.Payload.Tasks))
	assert.Contains(t, res.Text, "接着上次整理的 2 个任务")
}

func TestTaskFallbackWithNothingToExtract(t *testing.T) {
	res := NewTaskNode(nil).Fallback(&Input{Utterance: "嗯"})
	assert.NotEmpty(t, res.Text)
	assert.Nil(t, res.Payload)
}
