package model

import (
	"time"
)

// ClassificationSource tells which path produced a classification.
type ClassificationSource string

const (
	SourceModel    ClassificationSource = "model"
	SourceFallback ClassificationSource = "fallback"
)

// Classification is the intent classifier's output.
type Classification struct {
	Intent       Intent               `json:"intent"`
	Confidence   float64              `json:"confidence"`
	Continuation bool                 `json:"continuation"`
	Rationale    string               `json:"rationale,omitempty"`
	Source       ClassificationSource `json:"source"`
}

// StageOutput is what one stage contributed to the turn.
type StageOutput struct {
	Stage   Stage       `json:"stage"`
	Status  StageStatus `json:"status"`
	Text    string      `json:"text,omitempty"`
	Payload *Payload    `json:"payload,omitempty"`
	Err     error       `json:"-"`
}

// Output is the assembled, user-facing result of a turn.
type Output struct {
	FinalText string   `json:"final_text"`
	Payload   *Payload `json:"payload,omitempty"`
	Trace     []Stage  `json:"trace"`
}

// TurnState is the record threaded through one turn's processing. It is
// owned by a single turn and discarded after persistence.
type TurnState struct {
	UserID     string
	SessionID  string
	TurnNumber int
	Timestamp  time.Time

	Utterance string
	History   []TurnRecord
	Profile   Profile

	Classification *Classification
	Stages         []StageOutput

	Output Output
}

// Record appends a stage output. Only stages that produced output (ok or
// degraded) enter the processing trace.
func (s *TurnState) Record(out StageOutput) {
	s.Stages = append(s.Stages, out)
	if out.Status == StatusOK || out.Status == StatusDegraded {
		s.Output.Trace = append(s.Output.Trace, out.Stage)
	}
}

// Result returns the last output recorded for stage.
func (s *TurnState) Result(stage Stage) (*StageOutput, bool) {
	for i := len(s.Stages) - 1; i >= 0; i-- {
		if s.Stages[i].Stage == stage {
			return &s.Stages[i], true
		}
	}
	return nil, false
}

// Intent returns the classified intent, or casual before classification.
func (s *TurnState) Intent() Intent {
	if s.Classification == nil {
		return IntentCasual
	}
	return s.Classification.Intent
}

// Continuation reports the classifier's continuation flag.
func (s *TurnState) Continuation() bool {
	return s.Classification != nil && s.Classification.Continuation
}

// LastTurn returns the most recent history record.
func (s *TurnState) LastTurn() (*TurnRecord, bool) {
	if len(s.History) == 0 {
		return nil, false
	}
	return &s.History[len(s.History)-1], true
}

// TurnRequest is the orchestrator entry-point input.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
}

// TurnResult is the orchestrator entry-point output. It is always populated.
type TurnResult struct {
	SessionID          string   `json:"session_id"`
	TurnNumber         int      `json:"turn_number"`
	FinalText          string   `json:"final_text"`
	Intent             Intent   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	Continuation       bool     `json:"continuation"`
	Trace              []Stage  `json:"processing_trace"`
	Degraded           []Stage  `json:"degraded_stages,omitempty"`
	PersistenceWarning bool     `json:"persistence_warning,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	Cancelled          bool     `json:"cancelled,omitempty"`
	Payload            *Payload `json:"payload,omitempty"`
}
