package orchestrator

import (
	"github.com/capitalize-ai/lifeos-orchestrator/internal/intent"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/node"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

// stageDone terminates the interpreter loop.
const stageDone model.Stage = ""

// entryStage is where every turn starts.
const entryStage = model.StageIntentClassifier

// transition picks the stage that follows the one just executed.
type transition func(state *model.TurnState) model.Stage

// transitions is the turn graph. Every stage has exactly one outgoing
// transition; output_assembler is the only way out.
var transitions = buildTransitions()

func buildTransitions() map[model.Stage]transition {
	t := map[model.Stage]transition{
		model.StageIntentClassifier: func(s *model.TurnState) model.Stage {
			return intent.Route(s.Intent())
		},
		model.StagePersonalization: func(*model.TurnState) model.Stage {
			return model.StageOutputAssembler
		},
		model.StageOutputAssembler: func(*model.TurnState) model.Stage {
			return stageDone
		},
	}
	for _, stage := range model.ProcessingStages() {
		stage := stage
		t[stage] = func(s *model.TurnState) model.Stage {
			return personalizationGate(s, stage)
		}
	}
	return t
}

// personalizationGate sends multi-item drafts through personalization and
// everything else straight to the assembler.
func personalizationGate(s *model.TurnState, from model.Stage) model.Stage {
	var count int
	if out, ok := s.Result(from); ok {
		count = out.Payload.ItemCount()
	}
	if count >= node.PersonalizationThreshold {
		metrics.PersonalizationGate.WithLabelValues("apply").Inc()
		return model.StagePersonalization
	}
	metrics.PersonalizationGate.WithLabelValues("skip").Inc()
	return model.StageOutputAssembler
}

// next returns the successor of stage. Unknown stages end at the assembler
// unless they are the assembler.
func next(stage model.Stage, s *model.TurnState) model.Stage {
	if t, ok := transitions[stage]; ok {
		return t(s)
	}
	return model.StageOutputAssembler
}
