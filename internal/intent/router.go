package intent

import (
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

var routes = map[model.Intent]model.Stage{
	model.IntentTask:       model.StageTaskProcessing,
	model.IntentHabit:      model.StageHabitCoaching,
	model.IntentGoal:       model.StageGoalPlanning,
	model.IntentReflection: model.StageReflectionGuidance,
	model.IntentEmotion:    model.StageEmotionSupport,
	model.IntentCasual:     model.StageGeneralConversation,
}

// Route maps an intent to the processing stage that handles it. Labels
// outside the enumeration go to general conversation.
func Route(i model.Intent) model.Stage {
	if stage, ok := routes[i]; ok {
		return stage
	}
	return model.StageGeneralConversation
}
