package model

// Stage names a node of the turn pipeline. Stage names are what appears in
// the processing trace.
type Stage string

const (
	StageIntentClassifier    Stage = "intent_classifier"
	StageTaskProcessing      Stage = "task_processing"
	StageHabitCoaching       Stage = "habit_coaching"
	StageGoalPlanning        Stage = "goal_planning"
	StageReflectionGuidance  Stage = "reflection_guidance"
	StageEmotionSupport      Stage = "emotion_support"
	StageGeneralConversation Stage = "general_conversation"
	StagePersonalization     Stage = "personalization"
	StageOutputAssembler     Stage = "output_assembler"
)

// StageStatus is the typed outcome of running a stage.
type StageStatus string

const (
	// StatusOK means the primary, model-backed path produced the output.
	StatusOK StageStatus = "ok"
	// StatusDegraded means the deterministic fallback produced the output.
	StatusDegraded StageStatus = "degraded"
	// StatusFailed means the stage produced nothing usable.
	StatusFailed StageStatus = "failed"
	// StatusSkipped means an optional stage was dropped without effect.
	StatusSkipped StageStatus = "skipped"
)

// ProcessingStages returns the stages that handle a routed intent.
func ProcessingStages() []Stage {
	return []Stage{
		StageTaskProcessing,
		StageHabitCoaching,
		StageGoalPlanning,
		StageReflectionGuidance,
		StageEmotionSupport,
		StageGeneralConversation,
	}
}
