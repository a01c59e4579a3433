package node

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

const habitSystemPrompt = `你是 LifeOS 的习惯教练。根据用户的话和最近的打卡记录，给出解释和鼓励。
你不负责判断某次打卡是否算完成，只做说明和激励。

只输出 JSON：
{"habit_name": "晨跑", "message": "一段温暖的回应", "tips": ["从每天 5 分钟开始"]}`

var habitSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["message"],
	"properties": {
		"habit_name": {"type": "string"},
		"message": {"type": "string", "minLength": 1},
		"tips": {"type": "array", "items": {"type": "string"}}
	}
}`)

type habitReply struct {
	HabitName string   `json:"habit_name"`
	Message   string   `json:"message"`
	Tips      []string `json:"tips"`
}

// SummarizeHabits condenses habit events into completion counts. It returns
// nil when there are no events.
func SummarizeHabits(events []model.HabitEvent) *model.HabitSummary {
	if len(events) == 0 {
		return nil
	}
	var s model.HabitSummary
	for _, e := range events {
		switch e.Status {
		case model.HabitCompleted:
			s.Completed++
		case model.HabitMissed:
			s.Missed++
		}
	}
	if total := s.Completed + s.Missed; total > 0 {
		s.Rate = math.Round(float64(s.Completed)/float64(total)*100) / 100
	}
	return &s
}

// HabitNode coaches the user on habit formation and check-ins.
type HabitNode struct {
	caller
}

// NewHabitNode creates the habit coaching node.
func NewHabitNode(gen llm.Generator) *HabitNode {
	return &HabitNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *HabitNode) Stage() model.Stage { return model.StageHabitCoaching }

// Run implements Node.
func (n *HabitNode) Run(ctx context.Context, in *Input) (Result, error) {
	summary := SummarizeHabits(in.HabitEvents)

	var b strings.Builder
	fmt.Fprintf(&b, "用户输入：%s\n\n最近打卡记录：", in.Utterance)
	if summary == nil {
		b.WriteString("暂无")
	} else {
		fmt.Fprintf(&b, "完成 %d 次，错过 %d 次", summary.Completed, summary.Missed)
	}

	var reply habitReply
	if err := n.generateJSON(ctx, habitSystemPrompt, b.String(), habitSchema,
		llm.Options{Purpose: "habit_coach"}, &reply); err != nil {
		return Result{}, err
	}

	var out strings.Builder
	if name := strings.TrimSpace(reply.HabitName); name != "" {
		fmt.Fprintf(&out, "📌 习惯：%s\n\n", name)
	}
	out.WriteString(strings.TrimSpace(reply.Message))
	if line := rateLine(summary); line != "" {
		out.WriteString("\n\n")
		out.WriteString(line)
	}
	if tips := nonEmpty(reply.Tips); len(tips) > 0 {
		out.WriteString("\n\n💪 小建议：\n")
		out.WriteString(bullets(tips, 3))
	}

	return Result{Text: out.String(), Payload: habitPayload(summary)}, nil
}

// Fallback implements Node.
func (n *HabitNode) Fallback(in *Input) Result {
	summary := SummarizeHabits(in.HabitEvents)

	text := "好的！要养成新习惯，建议：\n1. 从小目标开始\n2. 设定固定时间\n3. 记录打卡"
	if line := rateLine(summary); line != "" {
		text = line + "\n\n" + text
	}
	return Result{Text: text, Payload: habitPayload(summary)}
}

func rateLine(s *model.HabitSummary) string {
	if s == nil || s.Completed+s.Missed == 0 {
		return ""
	}
	return fmt.Sprintf("📊 最近 %d 次记录：完成 %d 次，错过 %d 次，完成率 %.0f%%",
		s.Completed+s.Missed, s.Completed, s.Missed, s.Rate*100)
}

func habitPayload(s *model.HabitSummary) *model.Payload {
	if s == nil {
		return nil
	}
	return &model.Payload{Habit: s}
}
