package model

import (
	"strings"
)

// Priority tags an extracted work item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities: high sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// ParsePriority normalizes a priority label; ok is false for unknown labels.
func ParsePriority(raw string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "高", "urgent":
		return PriorityHigh, true
	case "medium", "mid", "中", "normal":
		return PriorityMedium, true
	case "low", "低":
		return PriorityLow, true
	}
	return "", false
}

// TaskItem is one discrete work item extracted from free text.
type TaskItem struct {
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	// Position is the zero-based order of mention in the utterance.
	Position int    `json:"position"`
	Deadline string `json:"deadline,omitempty"`
}

// Milestone is one weekly step of a goal plan.
type Milestone struct {
	Week        int      `json:"week"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}

// ActionStep is an immediately actionable step.
type ActionStep struct {
	Action          string `json:"action"`
	Minutes         int    `json:"minutes"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// HabitSummary condenses recent completion and miss events.
type HabitSummary struct {
	Completed int     `json:"completed"`
	Missed    int     `json:"missed"`
	Rate      float64 `json:"rate"`
}

// Payload is the structured side data a stage may produce. Every field is
// optional.
type Payload struct {
	Tasks          []TaskItem    `json:"tasks,omitempty"`
	StartHere      string        `json:"start_here,omitempty"`
	Goal           string        `json:"goal,omitempty"`
	Milestones     []Milestone   `json:"milestones,omitempty"`
	FirstStep      *ActionStep   `json:"first_step,omitempty"`
	Habit          *HabitSummary `json:"habit,omitempty"`
	RecurringTheme string        `json:"recurring_theme,omitempty"`
	FollowUp       string        `json:"follow_up,omitempty"`
	Adjustments    []string      `json:"adjustments,omitempty"`
}

// ItemCount returns the size of the payload's countable collection: extracted
// tasks, or goal milestones when no tasks exist.
func (p *Payload) ItemCount() int {
	if p == nil {
		return 0
	}
	if len(p.Tasks) > 0 {
		return len(p.Tasks)
	}
	return len(p.Milestones)
}

// IsEmpty reports whether no field is set.
func (p *Payload) IsEmpty() bool {
	if p == nil {
		return true
	}
	return len(p.Tasks) == 0 && p.StartHere == "" && p.Goal == "" &&
		len(p.Milestones) == 0 && p.FirstStep == nil && p.Habit == nil &&
		p.RecurringTheme == "" && p.FollowUp == "" && len(p.Adjustments) == 0
}

// Merge unions other into p. Fields already set on p are kept; lists gain
// the entries of other that p does not have yet.
func (p *Payload) Merge(other *Payload) {
	if p == nil || other == nil {
		return
	}

	seenTasks := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		seenTasks[t.Title] = true
	}
	for _, t := range other.Tasks {
		if !seenTasks[t.Title] {
			p.Tasks = append(p.Tasks, t)
			seenTasks[t.Title] = true
		}
	}

	seenWeeks := make(map[int]bool, len(p.Milestones))
	for _, m := range p.Milestones {
		seenWeeks[m.Week] = true
	}
	for _, m := range other.Milestones {
		if !seenWeeks[m.Week] {
			p.Milestones = append(p.Milestones, m)
			seenWeeks[m.Week] = true
		}
	}

	seenAdj := make(map[string]bool, len(p.Adjustments))
	for _, a := range p.Adjustments {
		seenAdj[a] = true
	}
	for _, a := range other.Adjustments {
		if !seenAdj[a] {
			p.Adjustments = append(p.Adjustments, a)
			seenAdj[a] = true
		}
	}

	if p.StartHere == "" {
		p.StartHere = other.StartHere
	}
	if p.Goal == "" {
		p.Goal = other.Goal
	}
	if p.FirstStep == nil && other.FirstStep != nil {
		step := *other.FirstStep
		p.FirstStep = &step
	}
	if p.Habit == nil && other.Habit != nil {
		h := *other.Habit
		p.Habit = &h
	}
	if p.RecurringTheme == "" {
		p.RecurringTheme = other.RecurringTheme
	}
	if p.FollowUp == "" {
		p.FollowUp = other.FollowUp
	}
}
