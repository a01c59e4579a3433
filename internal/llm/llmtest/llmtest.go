// Package llmtest provides fake generators for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
)

// Func adapts a function to llm.Generator.
type Func func(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)

// Generate implements llm.Generator.
func (f Func) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	return f(ctx, messages, opts)
}

// Failing returns a generator whose every call fails with kind.
func Failing(kind llm.Kind) Func {
	return func(context.Context, []llm.Message, llm.Options) (string, error) {
		return "", &llm.Error{Kind: kind}
	}
}

// Scripted answers by call purpose. Purposes without a reply fail as
// unavailable. It records every purpose it was asked for.
type Scripted struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

// NewScripted creates a Scripted generator from purpose → reply.
func NewScripted(replies map[string]string) *Scripted {
	return &Scripted{replies: replies}
}

// Generate implements llm.Generator.
func (s *Scripted) Generate(_ context.Context, _ []llm.Message, opts llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts.Purpose)
	reply, ok := s.replies[opts.Purpose]
	if !ok {
		return "", &llm.Error{Kind: llm.KindUnavailable}
	}
	return reply, nil
}

// Calls returns the purposes requested so far.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// MockGenerator is a testify mock of llm.Generator.
type MockGenerator struct {
	mock.Mock
}

// Generate implements llm.Generator.
func (m *MockGenerator) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}
