// Package intent classifies utterances and routes them to processing stages.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

const (
	// DefaultHistoryTurns is how many prior turns the classifier sees.
	DefaultHistoryTurns = 3

	defaultModelConfidence = 0.7
)

const systemPrompt = `你是 LifeOS 智能助理的意图识别模块。根据用户输入和对话历史，判断用户意图。

可选意图（只能选一个）：
- task: 任务管理，整理待办、安排事情
- habit: 习惯追踪，打卡、坚持某件事
- goal: 目标规划，想要学习或实现某个目标
- reflection: 反思总结，回顾一段时间
- emotion: 情绪支持，表达疲惫、焦虑、压力
- casual: 闲聊或其他

如果用户是在追问上一轮的内容（例如"第二个呢"、"它要多久"），is_continuation 为 true。

只输出 JSON：
{"intent": "task", "confidence": 0.9, "is_continuation": false, "reasoning": "简短理由"}`

var classificationSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["intent"],
	"properties": {
		"intent": {"type": "string"},
		"confidence": {"type": "number"},
		"is_continuation": {"type": "boolean"},
		"reasoning": {"type": "string"}
	}
}`)

type modelClassification struct {
	Intent         string   `json:"intent"`
	Confidence     *float64 `json:"confidence"`
	IsContinuation *bool    `json:"is_continuation"`
	Reasoning      string   `json:"reasoning"`
}

var errUnknownIntent = errors.New("intent label outside the enumeration")

// Classifier assigns an intent to each utterance. A generation failure of
// any kind degrades to keyword classification; Classify never fails.
type Classifier struct {
	gen          llm.Generator
	historyTurns int
	log          *logger.Logger
}

// NewClassifier creates a classifier. gen may be nil, in which case every
// classification uses keywords.
func NewClassifier(gen llm.Generator, historyTurns int, log *logger.Logger) *Classifier {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	if log == nil {
		log = logger.Global()
	}
	return &Classifier{
		gen:          gen,
		historyTurns: historyTurns,
		log:          log.Named("classifier"),
	}
}

// Classify returns the classification for utterance given the session's
// recent history (oldest first).
func (c *Classifier) Classify(ctx context.Context, utterance string, history []model.TurnRecord) model.Classification {
	if len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}

	cls, err := c.classifyWithModel(ctx, utterance, history)
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		var malformed *parser.MalformedError
		if errors.As(err, &malformed) {
			fields = append(fields, logger.Raw("raw", malformed.Raw, 500))
		}
		c.log.Warn("model classification unavailable, using keywords", fields...)

		cls = model.Classification{
			Intent:       KeywordIntent(utterance),
			Confidence:   FallbackConfidence,
			Continuation: LooksLikeContinuation(utterance, history),
			Rationale:    "keyword match",
			Source:       model.SourceFallback,
		}
	}

	metrics.ClassificationsTotal.WithLabelValues(string(cls.Source), string(cls.Intent)).Inc()
	return cls
}

func (c *Classifier) classifyWithModel(ctx context.Context, utterance string, history []model.TurnRecord) (model.Classification, error) {
	if c.gen == nil {
		return model.Classification{}, &llm.Error{Kind: llm.KindUnavailable, Err: llm.ErrNoBackend}
	}

	raw, err := c.gen.Generate(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(buildPrompt(utterance, history)),
	}, llm.Options{Temperature: 0.1, MaxTokens: 256, Purpose: "classify"})
	if err != nil {
		return model.Classification{}, err
	}

	var out modelClassification
	if err := parser.Parse(raw, classificationSchema, &out); err != nil {
		return model.Classification{}, err
	}

	label, ok := model.ParseIntent(out.Intent)
	if !ok {
		return model.Classification{}, fmt.Errorf("%w: %q", errUnknownIntent, out.Intent)
	}

	confidence := defaultModelConfidence
	if out.Confidence != nil {
		confidence = clamp(*out.Confidence)
	}

	continuation := LooksLikeContinuation(utterance, history)
	if out.IsContinuation != nil {
		continuation = *out.IsContinuation && len(history) > 0
	}

	return model.Classification{
		Intent:       label,
		Confidence:   confidence,
		Continuation: continuation,
		Rationale:    out.Reasoning,
		Source:       model.SourceModel,
	}, nil
}

func buildPrompt(utterance string, history []model.TurnRecord) string {
	var b strings.Builder
	if len(history) == 0 {
		b.WriteString("对话历史：（这是新对话的开始）\n")
	} else {
		b.WriteString("对话历史：\n")
		for _, t := range history {
			fmt.Fprintf(&b, "第%d轮 用户: %s（意图: %s）\n", t.TurnNumber, t.UserMessage, t.Intent)
		}
	}
	fmt.Fprintf(&b, "\n用户当前输入：%s", utterance)
	return b.String()
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
