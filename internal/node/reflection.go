package node

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/lexicon"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

// themeWords are the recurring topics a reflection can point out.
var themeWords = lexicon.Set{
	"累", "烦", "焦虑", "压力", "无力", "失眠", "拖延", "等待", "扯皮", "加班", "孤独",
	"开心", "满足", "成就感", "进步",
	"tired", "stress", "anxious", "procrastinate", "overtime",
}

const (
	minThemeTurns   = 2
	defaultFollowUp = "这段时间里，哪一刻让你印象最深？"
)

const reflectionSystemPrompt = `你是 LifeOS 的反思引导教练。帮助用户回顾和总结，语气温暖、不评判。
最后必须用一个开放式的问题引导用户继续思考。

只输出 JSON：
{"summary": "一句话总结", "achievements": ["..."], "learnings": ["..."], "question": "一个引导问题？"}`

var reflectionSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["summary"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"achievements": {"type": "array", "items": {"type": "string"}},
		"learnings": {"type": "array", "items": {"type": "string"}},
		"question": {"type": "string"}
	}
}`)

type reflectionReply struct {
	Summary      string   `json:"summary"`
	Achievements []string `json:"achievements"`
	Learnings    []string `json:"learnings"`
	Question     string   `json:"question"`
}

// RecurringTheme returns the theme keyword found in the most history turns,
// provided it appears in at least two of them, and that count.
func RecurringTheme(history []model.TurnRecord) (string, int) {
	best, bestCount := "", 0
	for _, kw := range themeWords {
		count := 0
		for _, t := range history {
			if (lexicon.Set{kw}).Contains(t.UserMessage) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = kw, count
		}
	}
	if bestCount < minThemeTurns {
		return "", 0
	}
	return best, bestCount
}

// EnsureQuestion appends followUp unless text already ends with a question.
func EnsureQuestion(text, followUp string) string {
	text = strings.TrimRight(text, " \n\t")
	if endsWithQuestion(text) {
		return text
	}
	if !endsWithQuestion(followUp) {
		followUp = defaultFollowUp
	}
	if text == "" {
		return followUp
	}
	return text + "\n\n" + followUp
}

// ReflectionNode guides the user through reviewing a period of time.
type ReflectionNode struct {
	caller
}

// NewReflectionNode creates the reflection guidance node.
func NewReflectionNode(gen llm.Generator) *ReflectionNode {
	return &ReflectionNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *ReflectionNode) Stage() model.Stage { return model.StageReflectionGuidance }

// Run implements Node.
func (n *ReflectionNode) Run(ctx context.Context, in *Input) (Result, error) {
	theme, count := RecurringTheme(in.History)

	prompt := fmt.Sprintf("最近的对话：\n%s\n\n用户当前输入：%s", historyText(in.History, len(in.History)), in.Utterance)
	if theme != "" {
		prompt += fmt.Sprintf("\n\n注意：用户最近 %d 次提到「%s」。", count, theme)
	}

	var reply reflectionReply
	if err := n.generateJSON(ctx, reflectionSystemPrompt, prompt, reflectionSchema,
		llm.Options{Purpose: "reflect"}, &reply); err != nil {
		return Result{}, err
	}

	var b strings.Builder
	if theme != "" {
		b.WriteString(patternLine(theme, count))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "📊 %s", strings.TrimSpace(reply.Summary))
	if a := nonEmpty(reply.Achievements); len(a) > 0 {
		b.WriteString("\n\n✅ 成就：\n")
		b.WriteString(bullets(a, 5))
	}
	if l := nonEmpty(reply.Learnings); len(l) > 0 {
		b.WriteString("\n\n💡 收获：\n")
		b.WriteString(bullets(l, 5))
	}

	followUp := strings.TrimSpace(reply.Question)
	if !endsWithQuestion(followUp) {
		followUp = defaultFollowUp
	}
	text := EnsureQuestion(b.String(), followUp)

	return Result{Text: text, Payload: &model.Payload{RecurringTheme: theme, FollowUp: followUp}}, nil
}

// Fallback implements Node.
func (n *ReflectionNode) Fallback(in *Input) Result {
	theme, count := RecurringTheme(in.History)

	var b strings.Builder
	if theme != "" {
		b.WriteString(patternLine(theme, count))
		b.WriteString("\n\n")
	}
	b.WriteString("让我们一起回顾一下：\n1. 这段时间完成了什么？\n2. 有什么收获？\n3. 下一步怎么做？")

	return Result{
		Text:    EnsureQuestion(b.String(), defaultFollowUp),
		Payload: &model.Payload{RecurringTheme: theme, FollowUp: "下一步怎么做？"},
	}
}

func endsWithQuestion(s string) bool {
	last, _ := utf8.DecodeLastRuneInString(strings.TrimSpace(s))
	return last == '？' || last == '?'
}

func patternLine(theme string, count int) string {
	return fmt.Sprintf("🔍 我注意到你最近 %d 次提到「%s」，这可能是一个值得关注的模式。", count, theme)
}
