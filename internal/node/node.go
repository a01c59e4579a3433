// Package node implements the processing stages of a turn: one node per
// routed intent, the personalization pass and the output assembler.
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

// Apology is the draft used when a stage breaks its own contract.
const Apology = "抱歉，处理你的消息时出现了问题。请稍后再试。"

// ErrEmptyReply is returned when the model produced nothing usable.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Input is the read-only view of a turn that a node works from.
type Input struct {
	UserID         string
	Utterance      string
	History        []model.TurnRecord
	Classification model.Classification
	Profile        model.Profile
	HabitEvents    []model.HabitEvent
}

// Continuation reports the classifier's follow-up flag.
func (in *Input) Continuation() bool {
	return in.Classification.Continuation
}

// LastPayload returns the structured data of the most recent history turn
// that carried some.
func (in *Input) LastPayload() *model.Payload {
	for i := len(in.History) - 1; i >= 0; i-- {
		if p := in.History[i].Payload(); !p.IsEmpty() {
			return p
		}
	}
	return nil
}

// Result is a node's draft.
type Result struct {
	Text    string
	Payload *model.Payload
}

// Node is one processing stage. Run is the model-backed path and may fail;
// Fallback is deterministic and must always produce a usable draft.
type Node interface {
	Stage() model.Stage
	Run(ctx context.Context, in *Input) (Result, error)
	Fallback(in *Input) Result
}

// Set indexes nodes by stage.
type Set map[model.Stage]Node

// NewSet builds the standard node set on top of gen. gen may be nil, in
// which case every Run fails and fallbacks answer.
func NewSet(gen llm.Generator) Set {
	nodes := []Node{
		NewTaskNode(gen),
		NewHabitNode(gen),
		NewGoalNode(gen),
		NewReflectionNode(gen),
		NewEmotionNode(gen),
		NewGeneralNode(gen),
	}
	set := make(Set, len(nodes))
	for _, n := range nodes {
		set[n.Stage()] = n
	}
	return set
}

// Get returns the node for stage.
func (s Set) Get(stage model.Stage) (Node, bool) {
	n, ok := s[stage]
	return n, ok
}

// caller holds the generation capability shared by the model-backed nodes.
type caller struct {
	gen llm.Generator
}

func (c caller) generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	if c.gen == nil {
		return "", &llm.Error{Kind: llm.KindUnavailable, Err: llm.ErrNoBackend}
	}
	return c.gen.Generate(ctx, msgs, opts)
}

// generateJSON runs one call and decodes its JSON answer into v.
func (c caller) generateJSON(ctx context.Context, system, user string, schema *parser.Schema, opts llm.Options, v any) error {
	raw, err := c.generate(ctx, []llm.Message{llm.System(system), llm.User(user)}, opts)
	if err != nil {
		return err
	}
	return parser.Parse(raw, schema, v)
}

// generateText runs one call and returns the trimmed reply.
func (c caller) generateText(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	raw, err := c.generate(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// historyText renders recent turns for a prompt.
func historyText(history []model.TurnRecord, max int) string {
	if len(history) == 0 {
		return "（这是新对话的开始）"
	}
	if len(history) > max {
		history = history[len(history)-max:]
	}
	var b strings.Builder
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "用户: %s\n助理: %s", t.UserMessage, truncate(t.AssistantMessage, 120))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func bullets(items []string, max int) string {
	if len(items) > max {
		items = items[:max]
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(it)
	}
	return b.String()
}

func nonEmpty(items []string) []string {
	out := items[:0:0]
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
