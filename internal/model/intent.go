// Package model defines data structures for the conversation orchestrator.
package model

import (
	"strings"
)

// Intent is the fixed-enumeration category assigned to a turn.
type Intent string

const (
	IntentTask       Intent = "task"
	IntentHabit      Intent = "habit"
	IntentGoal       Intent = "goal"
	IntentReflection Intent = "reflection"
	IntentEmotion    Intent = "emotion"
	IntentCasual     Intent = "casual"
)

// Intents returns every member of the intent enumeration in classifier priority order.
func Intents() []Intent {
	return []Intent{
		IntentHabit,
		IntentGoal,
		IntentReflection,
		IntentEmotion,
		IntentTask,
		IntentCasual,
	}
}

// Valid reports whether i belongs to the enumeration.
func (i Intent) Valid() bool {
	switch i {
	case IntentTask, IntentHabit, IntentGoal, IntentReflection, IntentEmotion, IntentCasual:
		return true
	}
	return false
}

// intentAliases maps labels that models commonly return onto the enumeration.
var intentAliases = map[string]Intent{
	"task_management": IntentTask,
	"tasks":           IntentTask,
	"habit_tracking":  IntentHabit,
	"goal_setting":    IntentGoal,
	"goal_planning":   IntentGoal,
	"reflect":         IntentReflection,
	"emotion_support": IntentEmotion,
	"emotional":       IntentEmotion,
	"casual_chat":     IntentCasual,
	"chat":            IntentCasual,
}

// ParseIntent normalizes a raw label. The boolean is false when the label
// does not resolve to a member of the enumeration.
func ParseIntent(raw string) (Intent, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if i := Intent(label); i.Valid() {
		return i, true
	}
	if i, ok := intentAliases[label]; ok {
		return i, true
	}
	return "", false
}
