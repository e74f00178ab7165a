package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerLoginIssuesUsableToken(t *testing.T) {
	service := newTestService("pass", time.Hour, NewMemoryStore())
	handler := NewHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"user_id":"user_7","email":"u7@example.com","password":"pass"}`))
	rr := httptest.NewRecorder()
	handler.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.ExpiresAt)

	identity, ok := service.ResolveUserID(requestWithToken(resp.Token))
	require.True(t, ok)
	assert.Equal(t, "user_7", identity.UserID)

	logoutReq := requestWithToken(resp.Token)
	logoutRR := httptest.NewRecorder()
	handler.Logout(logoutRR, logoutReq)
	assert.Equal(t, http.StatusNoContent, logoutRR.Code)

	_, ok = service.ResolveUserID(requestWithToken(resp.Token))
	assert.False(t, ok)
}

func TestHandlerLoginErrors(t *testing.T) {
	service := newTestService("pass", time.Hour, NewMemoryStore())
	handler := NewHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
		{name: "no user id", body: `{"password":"pass"}`, status: http.StatusBadRequest},
		{name: "wrong password", body: `{"user_id":"u","password":"nope"}`, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			handler.Login(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestHandlerLoginDisabledWithoutPassword(t *testing.T) {
	service := newTestService("", time.Hour, NewMemoryStore())
	handler := NewHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"user_id":"victim_pro_user"}`))
	rr := httptest.NewRecorder()
	handler.Login(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotContains(t, rr.Body.String(), "token")
}

func TestHandlerLogoutRequiresToken(t *testing.T) {
	service := newTestService(testPassword, time.Hour, NewMemoryStore())
	handler := NewHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr := httptest.NewRecorder()
	handler.Logout(rr, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Unauthorized", rr.Body.String())
}
