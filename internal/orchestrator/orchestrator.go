// Package orchestrator runs conversation turns through the stage graph:
// classification, routing, one processing node, optional personalization
// and assembly, then persists the turn and publishes its events.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/intent"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/node"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/store"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

const (
	// DefaultHistoryTurns is how many prior turns a turn is processed with.
	DefaultHistoryTurns = 5

	habitEventLimit = 20
	publishTimeout  = 5 * time.Second

	// maxSteps bounds the interpreter; the graph itself has at most four.
	maxSteps = 8
)

const (
	warnHistoryUnavailable = "history unavailable, processed without context"
	warnPersistence        = "turn could not be saved"
	warnSummary            = "session summary could not be updated"
)

// ProfileSource supplies the user's intent-frequency profile.
type ProfileSource interface {
	ProfileCounts(ctx context.Context, userID string) (model.Profile, error)
}

// HabitLog supplies recent habit check-ins for coaching.
type HabitLog interface {
	RecentHabitEvents(ctx context.Context, userID string, limit int) ([]model.HabitEvent, error)
}

// EventSink receives turn events.
type EventSink interface {
	Publish(ctx context.Context, event *model.TurnEvent) error
}

// StageObserver is called after each executed stage.
type StageObserver func(out model.StageOutput)

// Config tunes the orchestrator.
type Config struct {
	HistoryTurns int
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithProfileSource enables profile-aware personalization.
func WithProfileSource(p ProfileSource) Option {
	return func(o *Orchestrator) { o.profiles = p }
}

// WithHabitLog feeds habit check-ins to habit coaching.
func WithHabitLog(h HabitLog) Option {
	return func(o *Orchestrator) { o.habits = h }
}

// WithEventSink publishes turn events to sink.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.events = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator processes turns. It is safe for concurrent use; turns of one
// session are serialized in arrival order.
type Orchestrator struct {
	store        store.Store
	classifier   *intent.Classifier
	nodes        node.Set
	personalizer *node.Personalizer

	profiles ProfileSource
	habits   HabitLog
	events   EventSink

	locks        *sessionLocks
	historyTurns int
	now          func() time.Time
	tracer       trace.Tracer
	log          *logger.Logger
}

// New creates an orchestrator.
func New(st store.Store, classifier *intent.Classifier, nodes node.Set, personalizer *node.Personalizer, cfg Config, log *logger.Logger, opts ...Option) *Orchestrator {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if log == nil {
		log = logger.Global()
	}
	o := &Orchestrator{
		store:        st,
		classifier:   classifier,
		nodes:        nodes,
		personalizer: personalizer,
		locks:        newSessionLocks(),
		historyTurns: cfg.HistoryTurns,
		now:          time.Now,
		tracer:       otel.Tracer("github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"),
		log:          log.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turn is the per-turn working set.
type turn struct {
	state    *model.TurnState
	warnings []string
	degraded []model.Stage
	failures []stageFailure
	observe  StageObserver
	log      *logger.Logger
}

type stageFailure struct {
	stage model.Stage
	err   error
}

// ProcessTurn runs one turn. It never fails: every outcome is described by
// the result.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req model.TurnRequest) model.TurnResult {
	return o.ProcessTurnObserved(ctx, req, nil)
}

// ProcessTurnObserved is ProcessTurn with a callback per executed stage.
func (o *Orchestrator) ProcessTurnObserved(ctx context.Context, req model.TurnRequest, observe StageObserver) model.TurnResult {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	release, err := o.locks.acquire(ctx, req.SessionID)
	if err != nil {
		span.SetStatus(codes.Error, "cancelled while waiting for session")
		metrics.RecordTurn(string(model.IntentCasual), "cancelled", time.Since(start).Seconds())
		return cancelledResult(req)
	}
	defer release()

	// In-flight generation is paid for; let it finish even if the caller
	// goes away and decide afterwards whether to deliver.
	work := context.WithoutCancel(ctx)

	t := o.prepare(work, req, observe)
	t.log.Debug("turn started", zap.Int("history", len(t.state.History)))

	o.run(work, t)

	res := t.result()
	span.SetAttributes(
		attribute.Int("turn.number", res.TurnNumber),
		attribute.String("turn.intent", string(res.Intent)),
	)

	if ctx.Err() != nil {
		t.log.Info("caller went away, turn discarded", zap.Error(ctx.Err()))
		span.SetStatus(codes.Error, "cancelled")
		metrics.RecordTurn(string(res.Intent), "cancelled", time.Since(start).Seconds())
		res.Cancelled = true
		return res
	}

	rec := o.record(t)
	persisted := true
	if err := o.persist(work, t, rec); err != nil {
		persisted = false
		res.PersistenceWarning = true
		span.RecordError(err)
	}
	res.Warnings = t.warnings

	o.publishAll(work, t, rec, persisted)

	outcome := "ok"
	if len(res.Degraded) > 0 {
		outcome = "degraded"
	}
	metrics.RecordTurn(string(res.Intent), outcome, time.Since(start).Seconds())
	t.log.Info("turn completed",
		zap.String("intent", string(res.Intent)),
		zap.Float64("confidence", res.Confidence),
		zap.Any("trace", res.Trace),
		zap.Int("degraded", len(res.Degraded)),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// prepare loads everything the turn is processed with. Read failures
// degrade to an empty context.
func (o *Orchestrator) prepare(ctx context.Context, req model.TurnRequest, observe StageObserver) *turn {
	state := &model.TurnState{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		TurnNumber: 1,
		Timestamp:  o.now(),
		Utterance:  req.Utterance,
	}
	t := &turn{state: state, observe: observe}

	meta, err := o.store.GetSessionMetadata(ctx, req.SessionID)
	switch {
	case err != nil:
		o.log.Warn("failed to load session metadata", zap.String("session_id", req.SessionID), zap.Error(err))
		t.warn(warnHistoryUnavailable)
	case meta != nil && meta.UserID != req.UserID:
		// Another user's session: never leak its history into this turn.
		// The write is rejected by the store.
		state.TurnNumber = meta.TotalTurns + 1
	default:
		if meta != nil {
			state.TurnNumber = meta.TotalTurns + 1
		}
		history, err := o.store.GetRecentTurns(ctx, req.SessionID, o.historyTurns)
		if err != nil {
			o.log.Warn("failed to load history", zap.String("session_id", req.SessionID), zap.Error(err))
			t.warn(warnHistoryUnavailable)
		} else {
			state.History = history
		}
	}

	if o.profiles != nil {
		profile, err := o.profiles.ProfileCounts(ctx, req.UserID)
		if err != nil {
			o.log.Warn("failed to load profile", zap.String("user_id", req.UserID), zap.Error(err))
		} else {
			state.Profile = profile
		}
	}

	t.log = o.log.WithTurn(req.UserID, req.SessionID, state.TurnNumber)
	return t
}

// run interprets the stage graph from the entry stage to the assembler.
func (o *Orchestrator) run(ctx context.Context, t *turn) {
	stage := entryStage
	for step := 0; stage != stageDone; step++ {
		if step == maxSteps {
			t.log.Error("stage graph did not terminate", zap.String("stage", string(stage)))
			if _, ok := t.state.Result(model.StageOutputAssembler); !ok {
				o.execute(ctx, t, model.StageOutputAssembler)
			}
			return
		}
		o.execute(ctx, t, stage)
		stage = next(stage, t.state)
	}
}

func (o *Orchestrator) execute(ctx context.Context, t *turn, stage model.Stage) {
	ctx, span := o.tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	var out model.StageOutput
	switch stage {
	case model.StageIntentClassifier:
		out = o.classify(ctx, t)
	case model.StagePersonalization:
		out = o.personalize(ctx, t)
	case model.StageOutputAssembler:
		node.Assemble(t.state)
		assembled, _ := t.state.Result(model.StageOutputAssembler)
		o.observed(t, *assembled)
		return
	default:
		out = o.process(ctx, t, stage)
	}

	span.SetAttributes(attribute.String("stage.status", string(out.Status)))
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	t.state.Record(out)
	o.observed(t, out)
}

func (o *Orchestrator) observed(t *turn, out model.StageOutput) {
	metrics.RecordStage(string(out.Stage), string(out.Status))
	if out.Status == model.StatusDegraded {
		t.degraded = append(t.degraded, out.Stage)
	}
	if t.observe != nil {
		t.observe(out)
	}
}

func (o *Orchestrator) classify(ctx context.Context, t *turn) model.StageOutput {
	cls := o.classifier.Classify(ctx, t.state.Utterance, t.state.History)
	t.state.Classification = &cls

	out := model.StageOutput{Stage: model.StageIntentClassifier, Status: model.StatusOK}
	if cls.Source == model.SourceFallback {
		out.Status = model.StatusDegraded
		t.failures = append(t.failures, stageFailure{stage: out.Stage, err: errors.New("model classification unavailable")})
	}
	return out
}

// process runs the node for stage. A failed Run degrades to the node's
// fallback; a broken fallback degrades to the apology.
func (o *Orchestrator) process(ctx context.Context, t *turn, stage model.Stage) model.StageOutput {
	n, ok := o.nodes.Get(stage)
	if !ok {
		err := fmt.Errorf("no node for stage %s", stage)
		t.failures = append(t.failures, stageFailure{stage: stage, err: err})
		return model.StageOutput{Stage: stage, Status: model.StatusDegraded, Text: node.Apology, Err: err}
	}

	in := o.input(ctx, t, stage)
	res, err := runNode(ctx, n, in)
	if err == nil && res.Text != "" {
		return model.StageOutput{Stage: stage, Status: model.StatusOK, Text: res.Text, Payload: res.Payload}
	}
	if err == nil {
		err = node.ErrEmptyReply
	}

	t.log.Warn("stage degraded to fallback", zap.String("stage", string(stage)), zap.Error(err))
	t.failures = append(t.failures, stageFailure{stage: stage, err: err})

	res, ferr := fallbackNode(n, in)
	if ferr != nil || res.Text == "" {
		t.log.Error("fallback failed", zap.String("stage", string(stage)), zap.Error(ferr))
		res = node.Result{Text: node.Apology}
	}
	return model.StageOutput{Stage: stage, Status: model.StatusDegraded, Text: res.Text, Payload: res.Payload, Err: err}
}

func (o *Orchestrator) input(ctx context.Context, t *turn, stage model.Stage) *node.Input {
	in := &node.Input{
		UserID:    t.state.UserID,
		Utterance: t.state.Utterance,
		History:   t.state.History,
		Profile:   t.state.Profile,
	}
	if t.state.Classification != nil {
		in.Classification = *t.state.Classification
	}
	if stage == model.StageHabitCoaching && o.habits != nil {
		events, err := o.habits.RecentHabitEvents(ctx, t.state.UserID, habitEventLimit)
		if err != nil {
			t.log.Warn("failed to load habit events", zap.Error(err))
		}
		in.HabitEvents = events
	}
	return in
}

// personalize extends the processing draft. Any failure leaves the draft
// as it was and the stage is skipped.
func (o *Orchestrator) personalize(ctx context.Context, t *turn) model.StageOutput {
	skipped := model.StageOutput{Stage: model.StagePersonalization, Status: model.StatusSkipped}

	draft, ok := lastDraft(t.state)
	if !ok || o.personalizer == nil {
		return skipped
	}

	res, err := func() (res node.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("personalization panicked: %v", r)
			}
		}()
		return o.personalizer.Personalize(ctx, draft, t.state.Profile)
	}()
	if err != nil {
		t.log.Info("personalization skipped", zap.Error(err))
		skipped.Err = err
		return skipped
	}
	return model.StageOutput{Stage: model.StagePersonalization, Status: model.StatusOK, Text: res.Text, Payload: res.Payload}
}

func lastDraft(s *model.TurnState) (node.Result, bool) {
	for i := len(s.Stages) - 1; i >= 0; i-- {
		out := s.Stages[i]
		if out.Stage == model.StageIntentClassifier {
			break
		}
		if out.Status == model.StatusOK || out.Status == model.StatusDegraded {
			return node.Result{Text: out.Text, Payload: out.Payload}, true
		}
	}
	return node.Result{}, false
}

func runNode(ctx context.Context, n node.Node, in *node.Input) (res node.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", n.Stage(), r)
		}
	}()
	return n.Run(ctx, in)
}

func fallbackNode(n node.Node, in *node.Input) (res node.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s fallback panicked: %v", n.Stage(), r)
		}
	}()
	return n.Fallback(in), nil
}

func (o *Orchestrator) record(t *turn) *model.TurnRecord {
	s := t.state
	rec := &model.TurnRecord{
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		TurnNumber:       s.TurnNumber,
		UserMessage:      s.Utterance,
		AssistantMessage: s.Output.FinalText,
		Intent:           s.Intent(),
		CreatedAt:        s.Timestamp,
	}
	if s.Classification != nil {
		rec.Confidence = s.Classification.Confidence
	}
	if s.Output.Payload != nil {
		data, err := json.Marshal(s.Output.Payload)
		if err != nil {
			t.log.Warn("failed to encode payload", zap.Error(err))
		} else {
			rec.Data = data
		}
	}
	return rec
}

// persist appends the turn and refreshes the summary. The returned error is
// the append failure; summary failures only add a warning.
func (o *Orchestrator) persist(ctx context.Context, t *turn, rec *model.TurnRecord) error {
	if err := o.store.AppendTurn(ctx, rec); err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("append_turn").Inc()
		t.log.Error("failed to persist turn", zap.Error(err))
		t.warn(warnPersistence)
		o.publish(ctx, t, &model.TurnEvent{
			Type:   model.EventTypePersistenceFailed,
			Reason: err.Error(),
			Record: rec,
		})
		return err
	}

	if _, err := o.store.Summarize(ctx, rec.SessionID); err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("summarize").Inc()
		t.log.Warn("failed to update summary", zap.Error(err))
		t.warn(warnSummary)
	}
	return nil
}

// publishAll reports degraded stages and, for a saved turn, its record.
func (o *Orchestrator) publishAll(ctx context.Context, t *turn, rec *model.TurnRecord, persisted bool) {
	for _, f := range t.failures {
		o.publish(ctx, t, &model.TurnEvent{
			Type:   model.EventTypeStageDegraded,
			Stage:  f.stage,
			Reason: f.err.Error(),
		})
	}
	if !persisted {
		return
	}
	o.publish(ctx, t, &model.TurnEvent{
		Type:   model.EventTypeTurnCompleted,
		Record: rec,
		Metadata: map[string]any{
			"trace":      t.state.Output.Trace,
			"continuing": t.state.Continuation(),
		},
	})
}

// publish fills in the turn's identity and hands event to the sink. Sink
// errors are logged only.
func (o *Orchestrator) publish(ctx context.Context, t *turn, event *model.TurnEvent) {
	if o.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.SessionID = t.state.SessionID
	event.UserID = t.state.UserID
	event.TurnNumber = t.state.TurnNumber
	event.CreatedAt = o.now()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := o.events.Publish(ctx, event); err != nil {
		t.log.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (t *turn) warn(msg string) {
	for _, w := range t.warnings {
		if w == msg {
			return
		}
	}
	t.warnings = append(t.warnings, msg)
}

func (t *turn) result() model.TurnResult {
	s := t.state
	res := model.TurnResult{
		SessionID:    s.SessionID,
		TurnNumber:   s.TurnNumber,
		FinalText:    s.Output.FinalText,
		Intent:       s.Intent(),
		Continuation: s.Continuation(),
		Trace:        s.Output.Trace,
		Degraded:     t.degraded,
		Payload:      s.Output.Payload,
	}
	if s.Classification != nil {
		res.Confidence = s.Classification.Confidence
	}
	if res.FinalText == "" {
		res.FinalText = node.FallbackText
	}
	return res
}

func cancelledResult(req model.TurnRequest) model.TurnResult {
	return model.TurnResult{
		SessionID: req.SessionID,
		FinalText: node.FallbackText,
		Intent:    model.IntentCasual,
		Cancelled: true,
	}
}
