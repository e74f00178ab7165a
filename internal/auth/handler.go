package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"codegen/internal/httpserver"
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Handler обслуживает выдачу и отзыв токенов.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse login request")
		return
	}

	session, token, err := h.service.Login(r.Context(), req.UserID, req.Email, req.Password)
	switch {
	case errors.Is(err, ErrUserIDRequired):
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	case errors.Is(err, ErrLoginDisabled):
		httpserver.WriteJSONError(w, http.StatusForbidden, "login_disabled", "login is disabled")
		return
	case errors.Is(err, ErrUnauthorized):
		httpserver.WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	case err != nil:
		h.logger.Error("login failed", slog.String("user_id", req.UserID), slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	resp := loginResponse{Token: token}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = &session.ExpiresAt
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.service.ResolveUserID(r)
	if !ok {
		httpserver.WriteText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.service.Logout(r.Context(), identity.UserID); err != nil {
		h.logger.Error("logout failed", slog.String("user_id", identity.UserID), slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
