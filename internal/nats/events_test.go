package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

// fakeJetStream records publishes. Methods other than Publish are left
// unimplemented.
type fakeJetStream struct {
	jetstream.JetStream

	subject string
	data    []byte
	err     error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject, f.data = subject, data
	return &jetstream.PubAck{Stream: StreamName, Sequence: 7}, nil
}

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "turn.u1.s1.turn_completed", EventSubject("u1", "s1", model.EventTypeTurnCompleted))
	assert.Equal(t, "turn.a_b_c.s_1.stage_degraded", EventSubject("a.b*c", "s>1", model.EventTypeStageDegraded))
	assert.Equal(t, "turn._.s1.>", SessionFilter("", "s1"))
}

func TestPublish(t *testing.T) {
	js := &fakeJetStream{}
	p := NewEventPublisher(js, logger.Nop())

	event := &model.TurnEvent{
		ID:         "e1",
		SessionID:  "s1",
		UserID:     "u1",
		TurnNumber: 2,
		Type:       model.EventTypePersistenceFailed,
		Reason:     "disk full",
	}
	require.NoError(t, p.Publish(context.Background(), event))

	assert.Equal(t, "turn.u1.s1.persistence_failed", js.subject)
	var got model.TurnEvent
	require.NoError(t, json.Unmarshal(js.data, &got))
	assert.Equal(t, "disk full", got.Reason)
	assert.Equal(t, 2, got.TurnNumber)
}

func TestPublishError(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	p := NewEventPublisher(js, logger.Nop())

	err := p.Publish(context.Background(), &model.TurnEvent{ID: "e1", Type: model.EventTypeTurnCompleted})
	assert.ErrorContains(t, err, "no responders")
}
