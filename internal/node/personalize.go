package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

// PersonalizationThreshold is the minimum payload item count that triggers
// personalization.
const PersonalizationThreshold = 2

// ErrNoAdjustments is returned when the model proposes nothing.
var ErrNoAdjustments = errors.New("no adjustments proposed")

const personalizeSystemPrompt = `你是个性化调整专家。根据用户最近的使用习惯，对当前安排给出具体的调整建议。

调整策略：
- 重新安排任务时间（早上/下午/晚上）
- 调整任务顺序（先易后难 or 先难后易）
- 建议延后与核心目标无关的事项

只输出 JSON：
{"adjustments": ["把「写报告」安排在明天早上 9 点（你早上效率最高）"], "reasoning": "..."}`

var personalizeSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["adjustments"],
	"properties": {
		"adjustments": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"}
	}
}`)

type personalizeReply struct {
	Adjustments []string `json:"adjustments"`
}

var intentLabels = map[model.Intent]string{
	model.IntentTask:       "任务",
	model.IntentHabit:      "习惯",
	model.IntentGoal:       "目标",
	model.IntentReflection: "反思",
	model.IntentEmotion:    "情绪",
	model.IntentCasual:     "闲聊",
}

// Personalizer tailors a multi-item draft to the user's profile.
type Personalizer struct {
	caller
}

// NewPersonalizer creates the personalization stage.
func NewPersonalizer(gen llm.Generator) *Personalizer {
	return &Personalizer{caller{gen: gen}}
}

// Stage returns the personalization stage name.
func (p *Personalizer) Stage() model.Stage { return model.StagePersonalization }

// Personalize returns draft extended with adjustment statements. Any error
// means the stage should be skipped and draft left untouched.
func (p *Personalizer) Personalize(ctx context.Context, draft Result, profile model.Profile) (Result, error) {
	prompt := fmt.Sprintf("用户上下文：\n%s\n\n当前安排：\n%s", describeProfile(profile), describePlan(draft.Payload))

	var reply personalizeReply
	if err := p.generateJSON(ctx, personalizeSystemPrompt, prompt, personalizeSchema,
		llm.Options{Temperature: 0.3, Purpose: "personalize"}, &reply); err != nil {
		return Result{}, err
	}

	adjustments := nonEmpty(reply.Adjustments)
	if len(adjustments) == 0 {
		return Result{}, ErrNoAdjustments
	}
	if len(adjustments) > 3 {
		adjustments = adjustments[:3]
	}

	text := strings.TrimRight(draft.Text, "\n") + "\n\n💡 个性化调整：\n" + bullets(adjustments, 3)
	return Result{Text: text, Payload: &model.Payload{Adjustments: adjustments}}, nil
}

func describeProfile(profile model.Profile) string {
	total := profile.Total()
	if total == 0 {
		return "（暂无历史数据）"
	}
	parts := make([]string, 0, len(profile))
	for _, i := range model.Intents() {
		if c := profile[i]; c > 0 {
			parts = append(parts, fmt.Sprintf("%s %d 次", intentLabels[i], c))
		}
	}
	out := fmt.Sprintf("最近 %d 轮对话中：%s", total, strings.Join(parts, "、"))
	if top, ok := profile.Dominant(); ok {
		out += fmt.Sprintf("。最常聊的是%s", intentLabels[top])
	}
	return out
}

func describePlan(p *model.Payload) string {
	if p == nil {
		return "（无）"
	}
	var b strings.Builder
	for i, t := range p.Tasks {
		fmt.Fprintf(&b, "%d. %s（%s）\n", i+1, t.Title, t.Priority)
	}
	for _, m := range p.Milestones {
		fmt.Fprintf(&b, "第%d周：%s\n", m.Week, m.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
