package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

const secret = "test-secret"

func signed(t *testing.T, subject string, method jwt.SigningMethod, key any) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(secret)(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + signed(t, "user-1", jwt.SigningMethodHS256, []byte(secret)), http.StatusOK, "user-1"},
		{"missing", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"wrong key", "Bearer " + signed(t, "user-1", jwt.SigningMethodHS256, []byte("other")), http.StatusUnauthorized, "invalid token"},
		{"no subject", "Bearer " + signed(t, "", jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized, "invalid token subject"},
		{"none alg", "Bearer " + signed(t, "user-1", jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType), http.StatusUnauthorized, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("帮我整理任务"))
	assert.Error(t, ValidateContent(""))
	assert.Error(t, ValidateContent(" \n\t"))
	assert.Error(t, ValidateContent("\xff\xfe"))
	assert.NoError(t, ValidateContent(strings.Repeat("字", MaxContentRunes)))
	assert.Error(t, ValidateContent(strings.Repeat("字", MaxContentRunes+1)))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("0190c7a4-8f3e-7b2a-9c1d-123456789abc"))
	assert.NoError(t, ValidateSessionID("my_session-1"))
	for _, bad := range []string{"", "a.b", "a*", "a>", "has space", strings.Repeat("a", 129)} {
		assert.Error(t, ValidateSessionID(bad), bad)
	}
}

func TestLoggingSeesAuthenticatedUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(Logging(logger.Wrap(zap.New(core))))
	r.With(Auth(secret)).Get("/sessions/{sessionID}", echoUser().ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "user-9", jwt.SigningMethodHS256, []byte(secret)))
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "user-9", fields["user_id"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(echoUser())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
