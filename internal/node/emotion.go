package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

const emotionFallback = "我理解你现在的感受。要不要先休息一下，然后我们一起整理思路？"

const emotionSystemPrompt = `你是 LifeOS 的情绪陪伴者。先共情，再给出一两个温和的小建议。不要布置任务，不要说教。

只输出 JSON：
{"empathy_response": "温暖的回应", "suggestions": ["深呼吸三次"]}`

var emotionSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["empathy_response"],
	"properties": {
		"empathy_response": {"type": "string", "minLength": 1},
		"suggestions": {"type": "array", "items": {"type": "string"}}
	}
}`)

type emotionReply struct {
	EmpathyResponse string   `json:"empathy_response"`
	Suggestions     []string `json:"suggestions"`
}

// EmotionNode responds empathetically. It never extracts tasks or payload.
type EmotionNode struct {
	caller
}

// NewEmotionNode creates the emotional support node.
func NewEmotionNode(gen llm.Generator) *EmotionNode {
	return &EmotionNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *EmotionNode) Stage() model.Stage { return model.StageEmotionSupport }

// Run implements Node.
func (n *EmotionNode) Run(ctx context.Context, in *Input) (Result, error) {
	prompt := fmt.Sprintf("对话历史：\n%s\n\n用户当前输入：%s", historyText(in.History, 3), in.Utterance)

	var reply emotionReply
	if err := n.generateJSON(ctx, emotionSystemPrompt, prompt, emotionSchema,
		llm.Options{Temperature: 0.8, Purpose: "emotion"}, &reply); err != nil {
		return Result{}, err
	}

	text := strings.TrimSpace(reply.EmpathyResponse)
	if s := nonEmpty(reply.Suggestions); len(s) > 0 {
		text += "\n\n" + bullets(s, 3)
	}
	return Result{Text: text}, nil
}

// Fallback implements Node.
func (n *EmotionNode) Fallback(*Input) Result {
	return Result{Text: emotionFallback}
}
