package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

const (
	// StreamName is the name of the turn event stream.
	StreamName = "LIFEOS_TURNS"

	// SubjectPrefix is the prefix for all turn event subjects.
	SubjectPrefix = "turn"
)

// EventPublisher writes turn events to JetStream.
type EventPublisher struct {
	js  jetstream.JetStream
	log *logger.Logger
}

// NewEventPublisher creates a publisher on top of a JetStream context.
func NewEventPublisher(js jetstream.JetStream, log *logger.Logger) *EventPublisher {
	return &EventPublisher{js: js, log: log.Named("events")}
}

// EnsureStream ensures the turn event stream exists.
func (p *EventPublisher) EnsureStream(ctx context.Context) error {
	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Description: "Completed turns, degraded stages and persistence failures",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject an event is published on.
func EventSubject(userID, sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, token(userID), token(sessionID), eventType)
}

// SessionFilter matches every event of one session.
func SessionFilter(userID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(userID), token(sessionID))
}

// Publish publishes an event. The event id doubles as the JetStream message
// id, so a retried publish is deduplicated by the server.
func (p *EventPublisher) Publish(ctx context.Context, event *model.TurnEvent) error {
	subject := EventSubject(event.UserID, event.SessionID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
	p.log.Debug("event published",
		zap.String("subject", subject),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
