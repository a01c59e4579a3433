package intent

import (
	"unicode/utf8"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/lexicon"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

// FallbackConfidence is the confidence reported by keyword classification.
const FallbackConfidence = 0.5

// keywordRules are checked in order; the first set that matches wins.
var keywordRules = []struct {
	intent model.Intent
	words  lexicon.Set
}{
	{model.IntentHabit, lexicon.Set{"习惯", "坚持", "打卡", "habit", "streak", "check in"}},
	{model.IntentGoal, lexicon.Set{"目标", "想要", "计划", "实现", "goal", "plan to", "want to learn"}},
	{model.IntentReflection, lexicon.Set{"总结", "反思", "回顾", "reflect", "review", "look back"}},
	{model.IntentEmotion, lexicon.Set{"累", "焦虑", "压力", "崩溃", "tired", "anxious", "stress", "stressed", "overwhelmed"}},
	{model.IntentTask, lexicon.Set{"任务", "要做", "整理", "待办", "还要", "截止", "todo", "to-do", "task", "tasks", "deadline"}},
}

// KeywordIntent classifies text by keyword sets alone. It never fails and
// defaults to casual.
func KeywordIntent(text string) model.Intent {
	for _, rule := range keywordRules {
		if rule.words.Contains(text) {
			return rule.intent
		}
	}
	return model.IntentCasual
}

const shortUtterance = 20

var backReferences = lexicon.Set{
	"它", "这个", "那个", "这些", "那些", "第二", "第三", "第一", "上面", "刚才", "继续", "然后呢",
	"it", "that", "those", "the second", "the first", "next step",
}

// LooksLikeContinuation applies the follow-up heuristic: there is prior
// history, the utterance is short and it refers back to something.
func LooksLikeContinuation(utterance string, history []model.TurnRecord) bool {
	if len(history) == 0 {
		return false
	}
	if utf8.RuneCountInString(utterance) >= shortUtterance {
		return false
	}
	return backReferences.Contains(utterance)
}
