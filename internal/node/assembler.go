package node

import (
	"strings"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

// FallbackText is the final text when no stage produced any.
const FallbackText = "抱歉，我现在有点困惑。能再说一次吗？"

// Assemble composes the turn's final output from the stages recorded so
// far and appends the assembler to the trace. The latest non-empty draft
// wins; payloads are unioned in execution order.
func Assemble(state *model.TurnState) {
	var (
		text    string
		payload model.Payload
	)
	for _, out := range state.Stages {
		if out.Status != model.StatusOK && out.Status != model.StatusDegraded {
			continue
		}
		if t := strings.TrimSpace(out.Text); t != "" {
			text = t
		}
		payload.Merge(out.Payload)
	}
	if text == "" {
		text = FallbackText
	}

	state.Output.FinalText = text
	if !payload.IsEmpty() {
		state.Output.Payload = &payload
	}
	state.Record(model.StageOutput{Stage: model.StageOutputAssembler, Status: model.StatusOK, Text: text})
}
