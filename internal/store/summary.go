package store

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

const (
	summaryTurns    = 3
	summaryHeadLen  = 50
	summaryMaxRunes = 600

	emptySummary = "这是新对话的开始。"
)

// buildSummary renders the rolling summary for a session with total stored
// turns, the last of which are recent (oldest first). The result is a pure
// function of its inputs.
func buildSummary(total int, recent []model.TurnRecord) string {
	if total == 0 || len(recent) == 0 {
		return emptySummary
	}
	if len(recent) > summaryTurns {
		recent = recent[len(recent)-summaryTurns:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "历史对话共 %d 轮：", total)
	for _, t := range recent {
		fmt.Fprintf(&b, "\n- 用户: %s -> 意图: %s", head(t.UserMessage, summaryHeadLen), t.Intent)
	}
	return clip(b.String(), summaryMaxRunes)
}

func head(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
