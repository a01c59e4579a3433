package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm/llmtest"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

func history(msgs ...string) []model.TurnRecord {
	out := make([]model.TurnRecord, len(msgs))
	for i, m := range msgs {
		out[i] = model.TurnRecord{TurnNumber: i + 1, UserMessage: m, Intent: model.IntentTask}
	}
	return out
}

func TestClassifyWithModel(t *testing.T) {
	gen := new(llmtest.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.MatchedBy(func(o llm.Options) bool {
		return o.Purpose == "classify"
	})).Return("```json\n{\"intent\": \"task\", \"confidence\": 0.92, \"is_continuation\": false, \"reasoning\": \"列出了待办\"}\n```", nil)

	c := NewClassifier(gen, 3, logger.Nop())
	cls := c.Classify(context.Background(), "我今天完成了跑步，还要写报告和回邮件", nil)

	assert.Equal(t, model.IntentTask, cls.Intent)
	assert.InDelta(t, 0.92, cls.Confidence, 1e-9)
	assert.False(t, cls.Continuation)
	assert.Equal(t, model.SourceModel, cls.Source)
	gen.AssertExpectations(t)
}

func TestClassifyModelDefaultsAndClamping(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		confidence float64
	}{
		{"missing confidence", `{"intent": "goal"}`, 0.7},
		{"above one", `{"intent": "goal", "confidence": 3}`, 1},
		{"below zero", `{"intent": "goal", "confidence": -0.2}`, 0},
		{"alias label", `{"intent": "goal_setting", "confidence": 0.8}`, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := llmtest.NewScripted(map[string]string{"classify": tt.reply})
			cls := NewClassifier(gen, 3, logger.Nop()).Classify(context.Background(), "我想学吉他", nil)

			assert.Equal(t, model.IntentGoal, cls.Intent)
			assert.Equal(t, tt.confidence, cls.Confidence)
			assert.Equal(t, model.SourceModel, cls.Source)
		})
	}
}

func TestClassifyFallbackOnGatewayFailure(t *testing.T) {
	for _, kind := range []llm.Kind{llm.KindTimeout, llm.KindServerError, llm.KindUnavailable} {
		t.Run(string(kind), func(t *testing.T) {
			c := NewClassifier(llmtest.Failing(kind), 3, logger.Nop())
			cls := c.Classify(context.Background(), "打卡", nil)

			assert.Equal(t, model.IntentHabit, cls.Intent)
			assert.Equal(t, 0.5, cls.Confidence)
			assert.Equal(t, model.SourceFallback, cls.Source)
		})
	}
}

func TestClassifyFallbackOnBadOutput(t *testing.T) {
	tests := map[string]string{
		"prose":         "这是一个任务相关的请求",
		"unknown label": `{"intent": "shopping", "confidence": 0.9}`,
		"missing label": `{"confidence": 0.9}`,
	}

	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			gen := llmtest.NewScripted(map[string]string{"classify": reply})
			c := NewClassifier(gen, 3, logger.Wrap(zap.New(core)))

			cls := c.Classify(context.Background(), "帮我整理一下待办", nil)

			assert.Equal(t, model.IntentTask, cls.Intent)
			assert.Equal(t, FallbackConfidence, cls.Confidence)
			assert.Equal(t, 1, logs.FilterMessage("model classification unavailable, using keywords").Len())
		})
	}
}

func TestClassifyWithoutGenerator(t *testing.T) {
	cls := NewClassifier(nil, 0, nil).Classify(context.Background(), "hello there", nil)
	assert.Equal(t, model.IntentCasual, cls.Intent)
	assert.Equal(t, model.SourceFallback, cls.Source)
}

func TestClassifyPassesRecentHistoryOnly(t *testing.T) {
	var prompt string
	gen := llmtest.Func(func(_ context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
		prompt = msgs[len(msgs)-1].Content
		return `{"intent": "task", "is_continuation": true}`, nil
	})

	c := NewClassifier(gen, 2, logger.Nop())
	cls := c.Classify(context.Background(), "第二个呢", history("one", "two", "three"))

	assert.NotContains(t, prompt, "one")
	assert.Contains(t, prompt, "three")
	assert.True(t, cls.Continuation)
}

func TestKeywordIntentPriority(t *testing.T) {
	tests := []struct {
		text string
		want model.Intent
	}{
		{"打卡", model.IntentHabit},
		{"我想坚持跑步这个目标", model.IntentHabit},
		{"我想要学会游泳", model.IntentGoal},
		{"帮我回顾一下这周", model.IntentReflection},
		{"最近压力好大", model.IntentEmotion},
		{"我今天完成了跑步，还要写报告和回邮件", model.IntentTask},
		{"I have a deadline on Friday", model.IntentTask},
		{"I feel so overwhelmed", model.IntentEmotion},
		{"你好呀", model.IntentCasual},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordIntent(tt.text))
		})
	}
}

func TestLooksLikeContinuation(t *testing.T) {
	prior := history("今天要写报告和回邮件")

	assert.True(t, LooksLikeContinuation("第二个呢", prior))
	assert.True(t, LooksLikeContinuation("那个要多久", prior))
	assert.False(t, LooksLikeContinuation("第二个呢", nil), "no history")
	assert.False(t, LooksLikeContinuation("帮我重新整理一下明天的所有安排和这个月的计划吧", prior), "too long")
	assert.False(t, LooksLikeContinuation("你好", prior), "no back reference")
}

func TestRouteIsTotal(t *testing.T) {
	processing := make(map[model.Stage]bool)
	for _, s := range model.ProcessingStages() {
		processing[s] = true
	}

	seen := make(map[model.Stage]bool)
	for _, i := range model.Intents() {
		stage := Route(i)
		assert.True(t, processing[stage], "intent %s routed to %s", i, stage)
		seen[stage] = true
	}
	assert.Len(t, seen, len(model.Intents()), "each intent has its own stage")

	assert.Equal(t, model.StageGeneralConversation, Route("shopping"))
	assert.Equal(t, model.StageGeneralConversation, Route(""))
	assert.Equal(t, model.StageTaskProcessing, Route(model.IntentTask))
}
