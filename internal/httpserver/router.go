package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"codegen/internal/middleware"
)

// RouterDeps содержит обработчики всех маршрутов.
type RouterDeps struct {
	Logger *slog.Logger

	Code         http.Handler
	Limit        http.HandlerFunc
	ClearHistory http.HandlerFunc

	Login  http.HandlerFunc
	Logout http.HandlerFunc

	Stripe  http.HandlerFunc
	Webhook http.HandlerFunc
}

// NewRouter собирает chi-роутер с общими middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteText(w, http.StatusOK, "pong")
	})

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/code", deps.Code)
		r.Delete("/code/history", deps.ClearHistory)
		r.Get("/limit", deps.Limit)

		r.Post("/auth/login", deps.Login)
		r.Post("/auth/logout", deps.Logout)

		r.Get("/stripe", deps.Stripe)
		r.Post("/webhook", deps.Webhook)
	})

	return r
}
