package node

import (
	"context"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/lexicon"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

const generalSystemPrompt = `你是 LifeOS 智能助理，一个温暖、专业、富有同理心的生活助手。

你的特点：
- 友善亲切，像朋友一样交流
- 善于倾听，理解用户情绪
- 适当使用 emoji 让对话更生动
- 回复简洁明了，不啰嗦`

var cannedReplies = []struct {
	words lexicon.Set
	reply string
}{
	{
		lexicon.Set{"你好", "您好", "hi", "hello", "hey"},
		"你好！我是 LifeOS 智能助理 😊\n\n我可以帮你：\n• 管理任务和待办\n• 追踪习惯打卡\n• 设定和拆解目标\n• 记录反思总结\n• 提供情绪支持\n\n有什么可以帮到你的吗？",
	},
	{
		lexicon.Set{"功能", "能做", "help", "what can you do"},
		"我有这些能力：\n\n1. 📋 任务管理：整理待办，智能排序\n2. 🎯 习惯追踪：打卡记录，数据统计\n3. 🌟 目标规划：拆解目标，制定计划\n4. 📝 反思总结：定期回顾，持续改进\n5. 💚 情绪支持：倾听理解，温暖陪伴\n\n试试告诉我你现在想做什么吧！",
	},
	{
		lexicon.Set{"谢谢", "感谢", "thanks", "thank you"},
		"不客气！😊 很高兴能帮到你。有其他需要随时告诉我哦！",
	},
}

const defaultCannedReply = "我在呢！有什么可以帮你的吗？😊"

// CannedReply returns the rule-based reply for casual utterances.
func CannedReply(utterance string) string {
	for _, c := range cannedReplies {
		if c.words.Contains(utterance) {
			return c.reply
		}
	}
	return defaultCannedReply
}

// GeneralNode handles casual conversation.
type GeneralNode struct {
	caller
}

// NewGeneralNode creates the general conversation node.
func NewGeneralNode(gen llm.Generator) *GeneralNode {
	return &GeneralNode{caller{gen: gen}}
}

// Stage implements Node.
func (n *GeneralNode) Stage() model.Stage { return model.StageGeneralConversation }

// Run implements Node.
func (n *GeneralNode) Run(ctx context.Context, in *Input) (Result, error) {
	history := in.History
	if len(history) > 3 {
		history = history[len(history)-3:]
	}

	msgs := make([]llm.Message, 0, 2+2*len(history))
	msgs = append(msgs, llm.System(generalSystemPrompt))
	for _, t := range history {
		msgs = append(msgs, llm.User(t.UserMessage), llm.Assistant(t.AssistantMessage))
	}
	msgs = append(msgs, llm.User(in.Utterance))

	text, err := n.generateText(ctx, msgs, llm.Options{Temperature: 0.8, Purpose: "chat"})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// Fallback implements Node.
func (n *GeneralNode) Fallback(in *Input) Result {
	return Result{Text: CannedReply(in.Utterance)}
}
