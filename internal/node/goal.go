package node

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

// MaxFirstStepMinutes bounds the first micro-step of a goal plan.
const MaxFirstStepMinutes = 5

const goalSystemPrompt = `你是 LifeOS 的目标规划教练。把用户的目标拆成按周推进的里程碑，并给出一个 5 分钟内就能开始的第一步。

只输出 JSON：
{
  "goal": "学会弹吉他",
  "why": "为什么值得做",
  "milestones": [{"week": 1, "title": "认识吉他", "description": "...", "actions": ["..."]}],
  "first_step": {"action": "打开一个入门视频看前 5 分钟", "minutes": 5, "expected_outcome": "知道怎么握琴"},
  "tips": ["..."]
}`

var goalSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["goal", "milestones"],
	"properties": {
		"goal": {"type": "string"},
		"why": {"type": "string"},
		"milestones": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"week": {"type": "integer"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"actions": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"first_step": {
			"type": "object",
			"properties": {
				"action": {"type": "string"},
				"minutes": {"type": "number"},
				"expected_outcome": {"type": "string"}
			}
		},
		"tips": {"type": "array", "items": {"type": "string"}}
	}
}`)

type goalReply struct {
	Goal       string            `json:"goal"`
	Why        string            `json:"why"`
	Milestones []model.Milestone `json:"milestones"`
	FirstStep  *struct {
		Action          string  `json:"action"`
		Minutes         float64 `json:"minutes"`
		ExpectedOutcome string  `json:"expected_outcome"`
	} `json:"first_step"`
	Tips []string `json:"tips"`
}

var goalPrefixes = []string{"我想要", "我想", "想要", "我要", "我希望", "希望", "我计划", "计划", "目标是", "我的目标是", "i want to ", "i'd like to ", "my goal is to "}

// GoalNode turns a goal into weekly milestones and a first micro-step.
type GoalNode struct {
	caller
}

// NewGoalNode creates the goal planning node.
func NewGoalNode(gen llm.Generator) *GoalNode {
	return &GoalNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *GoalNode) Stage() model.Stage { return model.StageGoalPlanning }

// Run implements Node.
func (n *GoalNode) Run(ctx context.Context, in *Input) (Result, error) {
	if r, ok := answerStep(in); ok {
		return r, nil
	}

	prompt := fmt.Sprintf("对话历史：\n%s\n\n用户当前输入：%s", historyText(in.History, 3), in.Utterance)

	var reply goalReply
	if err := n.generateJSON(ctx, goalSystemPrompt, prompt, goalSchema,
		llm.Options{Purpose: "goal_plan", MaxTokens: 1500}, &reply); err != nil {
		return Result{}, err
	}

	goal := strings.TrimSpace(reply.Goal)
	if goal == "" {
		goal = extractGoal(in.Utterance)
	}

	milestones := make([]model.Milestone, 0, len(reply.Milestones))
	for _, m := range reply.Milestones {
		m.Title = strings.TrimSpace(m.Title)
		if m.Title == "" {
			continue
		}
		m.Week = len(milestones) + 1
		m.Actions = nonEmpty(m.Actions)
		milestones = append(milestones, m)
	}
	if len(milestones) == 0 {
		milestones = defaultMilestones(goal)
	}

	var step *model.ActionStep
	if reply.FirstStep != nil {
		step = &model.ActionStep{
			Action:          strings.TrimSpace(reply.FirstStep.Action),
			Minutes:         int(reply.FirstStep.Minutes + 0.5),
			ExpectedOutcome: strings.TrimSpace(reply.FirstStep.ExpectedOutcome),
		}
	}
	step = EnforceFirstStep(step, goal)

	return renderGoal(goal, strings.TrimSpace(reply.Why), milestones, step, nonEmpty(reply.Tips)), nil
}

// Fallback implements Node.
func (n *GoalNode) Fallback(in *Input) Result {
	if r, ok := answerStep(in); ok {
		return r
	}
	goal := extractGoal(in.Utterance)
	return renderGoal(goal, "", defaultMilestones(goal), EnforceFirstStep(nil, goal), nil)
}

// EnforceFirstStep returns step when it is concrete and fits in
// MaxFirstStepMinutes, and a deterministic replacement otherwise.
func EnforceFirstStep(step *model.ActionStep, goal string) *model.ActionStep {
	if step != nil && step.Action != "" && step.Minutes <= MaxFirstStepMinutes {
		out := *step
		if out.Minutes <= 0 {
			out.Minutes = MaxFirstStepMinutes
		}
		return &out
	}
	return &model.ActionStep{
		Action:          fmt.Sprintf("拿出纸笔，用 5 分钟写下你想「%s」的原因，以及这周能做的一件最小的事", goal),
		Minutes:         MaxFirstStepMinutes,
		ExpectedOutcome: "目标变得具体，知道下一步做什么",
	}
}

func defaultMilestones(goal string) []model.Milestone {
	return []model.Milestone{
		{Week: 1, Title: "明确目标与现状", Description: fmt.Sprintf("弄清楚「%s」具体要达到什么程度，记录现在的起点", goal)},
		{Week: 2, Title: "建立基础", Description: "找到一份入门资料，每天固定 15 分钟学习"},
		{Week: 3, Title: "刻意练习", Description: "针对最薄弱的部分集中练习，记录进展"},
		{Week: 4, Title: "复盘调整", Description: "回顾这一个月的收获，调整下个月的计划"},
	}
}

func extractGoal(utterance string) string {
	goal := strings.TrimSpace(utterance)
	lower := strings.ToLower(goal)
	for _, p := range goalPrefixes {
		if strings.HasPrefix(lower, p) && len(goal) > len(p) {
			goal = strings.TrimSpace(goal[len(p):])
			break
		}
	}
	goal = strings.TrimRight(goal, "。.!！~")
	if goal == "" {
		return "这个目标"
	}
	return truncate(goal, 40)
}

func renderGoal(goal, why string, milestones []model.Milestone, step *model.ActionStep, tips []string) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 目标：%s\n", goal)
	if why != "" {
		fmt.Fprintf(&b, "💡 动机：%s\n", why)
	}

	b.WriteString("\n📍 里程碑：")
	for _, m := range milestones {
		fmt.Fprintf(&b, "\n第%d周：%s", m.Week, m.Title)
		if m.Description != "" {
			fmt.Fprintf(&b, "（%s）", m.Description)
		}
		for _, a := range firstN(m.Actions, 3) {
			fmt.Fprintf(&b, "\n   ✓ %s", a)
		}
	}

	fmt.Fprintf(&b, "\n\n🚀 立即开始（%d 分钟内）：%s", step.Minutes, step.Action)
	if step.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "\n✨ 预期成果：%s", step.ExpectedOutcome)
	}
	if len(tips) > 0 {
		b.WriteString("\n\n💡 实用建议：\n")
		b.WriteString(bullets(tips, 3))
	}

	return Result{
		Text: b.String(),
		Payload: &model.Payload{
			Goal:       goal,
			Milestones: milestones,
			FirstStep:  step,
		},
	}
}

var stepQuestion = regexp.MustCompile(`第\s*([0-9一二三四五六七八九十]+)\s*[步个阶周]|(?i)(?:step|week)\s*(\d+)`)

var chineseDigits = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
}

// answerStep answers "第N步" follow-ups from the milestones stored on the
// previous turn.
func answerStep(in *Input) (Result, bool) {
	if !in.Continuation() {
		return Result{}, false
	}
	prev := in.LastPayload()
	if prev == nil || len(prev.Milestones) == 0 {
		return Result{}, false
	}

	m := stepQuestion.FindStringSubmatch(in.Utterance)
	if m == nil {
		return Result{}, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = chineseDigits[raw]
	}
	if n < 1 || n > len(prev.Milestones) {
		return Result{Text: fmt.Sprintf("之前的计划一共有 %d 个阶段，你想了解第几个呢？", len(prev.Milestones))}, true
	}

	ms := prev.Milestones[n-1]
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 第%d步（第%d周）：%s", n, ms.Week, ms.Title)
	if ms.Description != "" {
		fmt.Fprintf(&b, "\n\n💡 具体来说：%s", ms.Description)
	}
	if len(ms.Actions) > 0 {
		b.WriteString("\n\n行动清单：\n")
		b.WriteString(bullets(ms.Actions, 5))
	}
	if prev.Goal != "" {
		fmt.Fprintf(&b, "\n\n这一步完成后，你离「%s」又近了一步。", prev.Goal)
	}

	return Result{
		Text:    b.String(),
		Payload: &model.Payload{Goal: prev.Goal, Milestones: []model.Milestone{ms}},
	}, true
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
