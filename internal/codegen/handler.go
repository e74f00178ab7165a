package codegen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"codegen/internal/auth"
	"codegen/internal/httpserver"
	"codegen/internal/middleware"
)

const maxBodyBytes = 1 << 20

// IdentityResolver определяет пользователя по запросу.
type IdentityResolver interface {
	ResolveUserID(r *http.Request) (auth.Identity, bool)
}

// Generator реализован Service.
type Generator interface {
	Generate(ctx context.Context, userID string, messages []Message) (string, error)
	Usage(ctx context.Context, userID string) (Usage, error)
	ClearHistory(ctx context.Context, userID string) error
}

type Handler struct {
	identity  IdentityResolver
	generator Generator
	logger    *slog.Logger
}

func NewHandler(identity IdentityResolver, generator Generator, logger *slog.Logger) *Handler {
	return &Handler{identity: identity, generator: generator, logger: logger}
}

// ServeHTTP обрабатывает POST /api/code. Успешный ответ содержит JSON-строку с кодом.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity.ResolveUserID(r)
	if !ok {
		h.writeError(w, r, ErrUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	messages, err := ParseMessages(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	answer, err := h.generator.Generate(r.Context(), identity.UserID, messages)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, answer)
}

// Limit обрабатывает GET /api/limit.
func (h *Handler) Limit(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity.ResolveUserID(r)
	if !ok {
		h.writeError(w, r, ErrUnauthorized)
		return
	}
	usage, err := h.generator.Usage(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, usage)
}

// ClearHistory обрабатывает DELETE /api/code/history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity.ResolveUserID(r)
	if !ok {
		h.writeError(w, r, ErrUnauthorized)
		return
	}
	if err := h.generator.ClearHistory(r.Context(), identity.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, known := statusFor(err)
	if !known {
		attrs := []any{
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetRequestID(r)),
		}
		if errors.Is(err, context.Canceled) {
			attrs = append(attrs, slog.Bool("client_gone", true))
		}
		h.logger.Error("[CODE_ERROR]", attrs...)
	}
	httpserver.WriteText(w, status, body)
}
