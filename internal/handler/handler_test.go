package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/intent"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm/llmtest"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/node"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/service"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/store"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

const testSecret = "handler-test-secret"

type failingAppendStore struct {
	store.Store
}

func (failingAppendStore) AppendTurn(context.Context, *model.TurnRecord) error {
	return errors.New("database is locked")
}

type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return errors.New("closed") }

type conn bool

func (c conn) IsConnected() bool { return bool(c) }

func newAPI(t *testing.T, st store.Store, gen llm.Generator) http.Handler {
	t.Helper()
	log := logger.Nop()
	o := orchestrator.New(st, intent.NewClassifier(gen, intent.DefaultHistoryTurns, log),
		node.NewSet(gen), node.NewPersonalizer(gen), orchestrator.Config{}, log)
	svc := service.NewSessionService(st, o, log)
	return NewRouter(RouterConfig{
		JWTSecret:         testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, NewHealthHandler(st, nil), NewSessionHandler(svc, log), log)
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSessionFlow(t *testing.T) {
	gen := llmtest.NewScripted(map[string]string{
		"classify":     `{"intent": "task", "confidence": 0.9}`,
		"task_extract": `{"tasks": [{"title": "写报告", "priority": "high"}]}`,
	})
	api := newAPI(t, store.NewMemoryStore(), gen)

	rec := do(t, api, http.MethodPost, "/api/v1/sessions", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateSessionResponse](t, rec).SessionID
	require.NotEmpty(t, id)

	rec = do(t, api, http.MethodPost, "/api/v1/sessions/"+id+"/turns", "u1", `{"content": "今天要写报告"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Persistence-Warning"))

	res := decode[model.TurnResult](t, rec)
	assert.Equal(t, model.IntentTask, res.Intent)
	assert.Equal(t, 1, res.TurnNumber)
	assert.Equal(t, []model.Stage{model.StageIntentClassifier, model.StageTaskProcessing, model.StageOutputAssembler}, res.Trace)
	assert.Contains(t, rec.Body.String(), `"processing_trace"`)

	rec = do(t, api, http.MethodGet, "/api/v1/sessions/"+id, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.SessionMetadata](t, rec).TotalTurns)

	rec = do(t, api, http.MethodGet, "/api/v1/sessions/"+id+"/turns?limit=5", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	turns := decode[TurnsResponse](t, rec).Turns
	require.Len(t, turns, 1)
	assert.Equal(t, "今天要写报告", turns[0].UserMessage)

	rec = do(t, api, http.MethodGet, "/api/v1/sessions/"+id+"/summary", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(decode[SummaryResponse](t, rec).Summary, "历史对话共 1 轮："))

	// Another user sees nothing and cannot write.
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/v1/sessions/"+id, "u2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodPost, "/api/v1/sessions/"+id+"/turns", "u2", `{"content": "hi"}`).Code)
}

func TestRequestValidation(t *testing.T) {
	api := newAPI(t, store.NewMemoryStore(), nil)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
	}{
		{"no token", http.MethodPost, "/api/v1/sessions", "", "", http.StatusUnauthorized},
		{"empty content", http.MethodPost, "/api/v1/sessions/s1/turns", "u1", `{"content": "  "}`, http.StatusBadRequest},
		{"too long", http.MethodPost, "/api/v1/sessions/s1/turns", "u1", `{"content": "` + strings.Repeat("字", 4001) + `"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/v1/sessions/s1/turns", "u1", `{"content":`, http.StatusBadRequest},
		{"bad session id", http.MethodPost, "/api/v1/sessions/a.b/turns", "u1", `{"content": "hi"}`, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", "u1", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/v1/sessions/s1/turns?limit=51", "u1", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestPersistenceWarningHeader(t *testing.T) {
	api := newAPI(t, failingAppendStore{store.NewMemoryStore()}, nil)

	rec := do(t, api, http.MethodPost, "/api/v1/sessions/s1/turns", "u1", `{"content": "你好"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Persistence-Warning"))
	res := decode[model.TurnResult](t, rec)
	assert.True(t, res.PersistenceWarning)
	assert.NotEmpty(t, res.FinalText)
	assert.NotEmpty(t, res.Warnings)
}

func TestStreamTurn(t *testing.T) {
	api := newAPI(t, store.NewMemoryStore(), llmtest.Failing(llm.KindServerError))

	rec := do(t, api, http.MethodPost, "/api/v1/sessions/s1/turns/stream", "u1", `{"content": "打卡"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event: stage\n"))
	assert.Contains(t, body, `"stage":"habit_coaching","status":"degraded"`)

	complete := strings.Index(body, "event: turn_complete\n")
	done := strings.Index(body, "event: done\n")
	require.Positive(t, complete)
	assert.Greater(t, done, complete)
	assert.Greater(t, complete, strings.LastIndex(body, "event: stage\n"))
}

func TestHealth(t *testing.T) {
	log := logger.Nop()
	build := func(st store.Store, feed ConnChecker) http.Handler {
		return NewRouter(RouterConfig{JWTSecret: testSecret, RateLimitRequests: 10, RateLimitWindow: time.Minute},
			NewHealthHandler(st, feed), NewSessionHandler(nil, log), log)
	}
	mem := store.NewMemoryStore()

	assert.Equal(t, http.StatusOK, do(t, build(mem, nil), http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, build(mem, nil), http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, build(mem, conn(true)), http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, build(mem, conn(false)), http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, build(downStore{mem}, nil), http.MethodGet, "/ready", "", "").Code)

	rec := do(t, build(mem, nil), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")
}
