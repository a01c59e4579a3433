package node

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/lexicon"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/parser"
)

var (
	urgencyWords = lexicon.Set{
		"紧急", "马上", "立刻", "立即", "尽快", "今天", "今晚", "明天", "明早",
		"urgent", "asap", "immediately", "today", "tonight", "tomorrow",
	}
	deadlineWords = lexicon.Set{
		"截止", "之前", "以前", "本周", "这周", "下周", "周一", "周二", "周三", "周四", "周五", "周六", "周日", "月底",
		"deadline", "due", "by", "this week", "next week", "end of month",
	}
	completedWords = lexicon.Set{
		"完成了", "做完了", "写完了", "搞定了", "已经", "done", "finished", "completed",
	}
	leadIns = []string{
		"我今天", "我明天", "今天", "明天", "今晚", "我", "还要", "还得", "还需要", "需要", "要", "得", "还", "再", "也", "先", "然后",
		"i need to ", "i have to ", "need to ", "have to ", "i must ", "also ", "then ",
	}
	clauseSeparators = []string{
		"，", ",", "。", "；", ";", "、", "！", "!", "？", "?", "\n", "还有", "然后", "和",
		" and ", " also ",
	}
	separatorReplacer = func() *strings.Replacer {
		pairs := make([]string, 0, 2*len(clauseSeparators))
		for _, s := range clauseSeparators {
			pairs = append(pairs, s, "\x00")
		}
		return strings.NewReplacer(pairs...)
	}()
)

// maxTasks bounds how many items a single turn may extract.
const maxTasks = 10

// RubricPriority applies the priority rubric to a piece of text.
func RubricPriority(text string) model.Priority {
	switch {
	case urgencyWords.Contains(text):
		return model.PriorityHigh
	case deadlineWords.Contains(text):
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// SortTasks orders tasks by priority, keeping mention order among equals.
func SortTasks(tasks []model.TaskItem) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return tasks[i].Position < tasks[j].Position
	})
}

// ExtractTasks splits free text into work items without a model.
func ExtractTasks(text string) []model.TaskItem {
	header, body := splitHeader(text)

	var tasks []model.TaskItem
	for _, clause := range strings.Split(separatorReplacer.Replace(strings.ToLower(body)), "\x00") {
		clause = strings.TrimSpace(clause)
		if clause == "" || completedWords.Contains(clause) || isQuestion(clause) {
			continue
		}

		title := stripLeadIns(clause)
		if utf8.RuneCountInString(title) < 2 {
			continue
		}

		priority := RubricPriority(clause)
		if priority == model.PriorityLow && header != "" {
			priority = RubricPriority(header)
		}

		tasks = append(tasks, model.TaskItem{
			Title:    title,
			Priority: priority,
			Position: len(tasks),
		})
		if len(tasks) == maxTasks {
			break
		}
	}
	return tasks
}

// isQuestion reports whether a clause ends with a question particle, as in
// the follow-up "第二个呢".
func isQuestion(clause string) bool {
	last, _ := utf8.DecodeLastRuneInString(clause)
	switch last {
	case '呢', '吗', '嘛', '么':
		return true
	}
	return false
}

// splitHeader separates a leading "今天要做：" style header. Colons inside
// clock times are not headers.
func splitHeader(text string) (header, body string) {
	for i, r := range text {
		if r != ':' && r != '：' {
			continue
		}
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
		if unicode.IsDigit(before) && unicode.IsDigit(after) {
			continue
		}
		return text[:i], text[i+utf8.RuneLen(r):]
	}
	return "", text
}

func stripLeadIns(s string) string {
	for {
		trimmed := false
		for _, p := range leadIns {
			if strings.HasPrefix(s, p) && len(s) > len(p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
			}
		}
		if !trimmed {
			return strings.Trim(s, " .…~")
		}
	}
}

const taskSystemPrompt = `你是 LifeOS 的任务整理助手。从用户输入中提取所有需要去做的具体任务，已经完成的事情不要提取。

优先级规则：
- high：紧急、今天、明天、马上要做的
- medium：有截止时间（本周、周五、月底之前）的
- low：其他

只输出 JSON：
{"tasks": [{"title": "写报告", "priority": "high", "deadline": "今天"}], "suggestions": ["先从写报告开始"]}`

var taskSchema = parser.MustSchema(`{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"title": {"type": "string"},
					"priority": {"type": "string"},
					"deadline": {"type": "string"}
				}
			}
		},
		"suggestions": {"type": "array", "items": {"type": "string"}}
	}
}`)

type taskReply struct {
	Tasks []struct {
		Title    string `json:"title"`
		Priority string `json:"priority"`
		Deadline string `json:"deadline"`
	} `json:"tasks"`
	Suggestions []string `json:"suggestions"`
}

// TaskNode decomposes an utterance into prioritized work items.
type TaskNode struct {
	caller
}

// NewTaskNode creates the task decomposition node.
func NewTaskNode(gen llm.Generator) *TaskNode {
	return &TaskNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *TaskNode) Stage() model.Stage { return model.StageTaskProcessing }

// Run implements Node.
func (n *TaskNode) Run(ctx context.Context, in *Input) (Result, error) {
	prompt := "用户输入：" + in.Utterance
	if prev := previousTasks(in); len(prev) > 0 && in.Continuation() {
		prompt = "上一轮整理的任务：" + taskTitles(prev) + "\n\n" + prompt
	}

	var reply taskReply
	if err := n.generateJSON(ctx, taskSystemPrompt, prompt, taskSchema,
		llm.Options{Temperature: 0.2, Purpose: "task_extract"}, &reply); err != nil {
		return Result{}, err
	}

	lower := strings.ToLower(in.Utterance)
	tasks := make([]model.TaskItem, 0, len(reply.Tasks))
	seen := make(map[string]bool)
	for _, t := range reply.Tasks {
		title := strings.TrimSpace(t.Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true

		priority, ok := model.ParsePriority(t.Priority)
		if !ok {
			priority = RubricPriority(title + " " + t.Deadline)
		}
		tasks = append(tasks, model.TaskItem{
			Title:    title,
			Priority: priority,
			Position: mentionOffset(lower, title, len(tasks)),
			Deadline: strings.TrimSpace(t.Deadline),
		})
		if len(tasks) == maxTasks {
			break
		}
	}
	renumber(tasks)

	if len(tasks) == 0 {
		tasks = ExtractTasks(in.Utterance)
	}
	return n.render(in, tasks, nonEmpty(reply.Suggestions)), nil
}

// Fallback implements Node.
func (n *TaskNode) Fallback(in *Input) Result {
	return n.render(in, ExtractTasks(in.Utterance), nil)
}

func (n *TaskNode) render(in *Input, tasks []model.TaskItem, suggestions []string) Result {
	reused := false
	if len(tasks) == 0 && in.Continuation() {
		if prev := previousTasks(in); len(prev) > 0 {
			tasks = append([]model.TaskItem(nil), prev...)
			reused = true
		}
	}

	if len(tasks) == 0 {
		return Result{Text: "我还没有从你的话里找到具体的任务。可以把今天要做的事情列给我吗？比如：写报告、回邮件、开会。"}
	}

	SortTasks(tasks)

	var b strings.Builder
	if reused {
		fmt.Fprintf(&b, "接着上次整理的 %d 个任务，按优先级排好是这样的：\n", len(tasks))
	} else {
		fmt.Fprintf(&b, "好的！我帮你整理了 %d 个任务：\n", len(tasks))
	}
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s %s（%s）", i+1, priorityIcon(t.Priority), t.Title, priorityLabel(t.Priority))
		if t.Deadline != "" {
			fmt.Fprintf(&b, " ⏰ %s", t.Deadline)
		}
	}

	payload := &model.Payload{Tasks: tasks}
	if tasks[0].Priority == model.PriorityHigh {
		payload.StartHere = tasks[0].Title
		fmt.Fprintf(&b, "\n\n👉 建议先从「%s」开始，先花 5 分钟把它启动起来。", tasks[0].Title)
	}
	if len(suggestions) > 0 {
		b.WriteString("\n\n💡 执行建议：\n")
		b.WriteString(bullets(suggestions, 3))
	}

	return Result{Text: b.String(), Payload: payload}
}

func previousTasks(in *Input) []model.TaskItem {
	if p := in.LastPayload(); p != nil {
		return p.Tasks
	}
	return nil
}

func taskTitles(tasks []model.TaskItem) string {
	titles := make([]string, len(tasks))
	for i, t := range tasks {
		titles[i] = t.Title
	}
	return strings.Join(titles, "、")
}

// mentionOffset returns where title appears in the utterance; unmatched
// titles sort after every matched one, in model order.
func mentionOffset(lower, title string, index int) int {
	if i := strings.Index(lower, strings.ToLower(title)); i >= 0 {
		return i
	}
	return len(lower) + index
}

// renumber rewrites mention offsets into a dense 0..n-1 order.
func renumber(tasks []model.TaskItem) {
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return tasks[order[a]].Position < tasks[order[b]].Position
	})
	for rank, idx := range order {
		tasks[idx].Position = rank
	}
}

func priorityIcon(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "🔴"
	case model.PriorityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "高优先级"
	case model.PriorityMedium:
		return "中优先级"
	default:
		return "低优先级"
	}
}
