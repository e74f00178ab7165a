package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"codegen/internal/auth"
	"codegen/internal/billing"
	"codegen/internal/codegen"
	"codegen/internal/config"
	"codegen/internal/conversation"
	"codegen/internal/httpserver"
	"codegen/internal/llm"
	"codegen/internal/quota"
	"codegen/internal/storage"
	"codegen/internal/subscription"
	"codegen/internal/transport"
)

func main() {
	loader := config.DefaultLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	authService := auth.NewService(auth.Options{
		Password: cfg.Auth.Password,
		Secret:   jwtSecret(cfg.Auth.JWTSecret, logger),
		Issuer:   cfg.Auth.Issuer,
		TTL:      cfg.Auth.SessionTTL,
	}, newSessionStore(cfg.Auth.StoreType, db))
	if !authService.LoginEnabled() {
		logger.Warn("AUTH_PASSWORD is empty, /api/auth/login is disabled")
	}

	httpClient := transport.NewHTTPClient(cfg.RequestTimeout)
	llmClient := llm.NewGenAIClient(cfg.GenAI, httpClient, logger)
	warnUnknownModel(logger, cfg.GenAI.ModelID)
	logger.Info("inference configured",
		slog.String("model", llm.GetModelName(cfg.GenAI.ModelID)),
		slog.Duration("timeout", cfg.GenAI.Timeout))

	subscriptions := subscription.NewSQLiteChecker(db)
	history := conversation.NewMemoryStore(cfg.History.TTL)

	codeService := codegen.NewService(codegen.ServiceConfig{
		Quota:          newQuotaTracker(cfg.Quota, db),
		Entitlements:   subscriptions,
		Client:         llmClient,
		History:        history,
		Parameters:     llm.ParametersFromConfig(cfg.GenAI),
		Scope:          cfg.History.Scope,
		MaxTurns:       cfg.History.MaxTurns,
		StoreRawAnswer: cfg.History.StoreRawAnswer,
		Preamble:       cfg.GenAI.SystemPrompt,
		Logger:         logger,
	})
	codeHandler := codegen.NewHandler(authService, codeService, logger)

	billingHandler := billing.NewHandler(billing.HandlerConfig{
		Identity:      authService,
		Stripe:        billing.NewStripeClient(cfg.Stripe.APIKey),
		Subscriptions: subscriptions,
		Plan:          billing.PlanFromConfig(cfg.Stripe),
		WebhookSecret: cfg.Stripe.WebhookSecret,
		AppURL:        cfg.Stripe.AppURL,
		Logger:        logger,
	})
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is empty, webhook events will be rejected")
	}
	authHandler := auth.NewHandler(authService, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger:       logger,
		Code:         codeHandler,
		Limit:        codeHandler.Limit,
		ClearHistory: codeHandler.ClearHistory,
		Login:        authHandler.Login,
		Logout:       authHandler.Logout,
		Stripe:       billingHandler.Checkout,
		Webhook:      billingHandler.Webhook,
	})

	// Параметры генерации перечитываются из файла конфигурации на лету.
	// Остальные настройки требуют перезапуска.
	loader.Watch(func(next config.Config, e fsnotify.Event) {
		codeService.UpdateParameters(llm.ParametersFromConfig(next.GenAI))
		warnUnknownModel(logger, next.GenAI.ModelID)
		logger.Info("generation parameters reloaded",
			slog.String("file", e.Name),
			slog.String("model_id", next.GenAI.ModelID),
			slog.String("model", llm.GetModelName(next.GenAI.ModelID)))
	}, func(err error) {
		logger.Error("config reload failed", slog.String("error", err.Error()))
	})

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Инференс целиком укладывается в genai.timeout, ответ должен успеть уйти клиенту.
		WriteTimeout: cfg.GenAI.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	})
	wg.Go(func() {
		runHistoryJanitor(ctx, history, cfg.History.SweepInterval, logger)
	})

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if r := wg.WaitAndRecover(); r != nil {
		logger.Error("background task panicked", slog.String("error", r.String()))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}

func newSessionStore(storeType string, db *sql.DB) auth.Store {
	switch strings.ToLower(storeType) {
	case "memory":
		return auth.NewMemoryStore()
	default:
		return auth.NewSQLiteStore(db)
	}
}

func newQuotaTracker(cfg config.QuotaConfig, db *sql.DB) quota.Tracker {
	switch strings.ToLower(cfg.StoreType) {
	case "memory":
		return quota.NewMemoryTracker(cfg.MaxFreeCounts)
	default:
		return quota.NewSQLiteTracker(db, cfg.MaxFreeCounts)
	}
}

// jwtSecret возвращает ключ подписи токенов. Без настроенного ключа генерируется
// случайный, и все сессии теряются при перезапуске.
func jwtSecret(configured string, logger *slog.Logger) []byte {
	if configured != "" {
		return []byte(configured)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("failed to generate jwt secret: %v", err)
	}
	logger.Warn("AUTH_JWT_SECRET is empty, using a random secret")
	return []byte(hex.EncodeToString(buf))
}

func warnUnknownModel(logger *slog.Logger, modelID string) {
	if !llm.IsKnownModel(modelID) {
		logger.Warn("model is not in the tested catalog, prompt format may not fit",
			slog.String("model_id", modelID))
	}
}

// runHistoryJanitor периодически удаляет истории, у которых истёк TTL.
func runHistoryJanitor(ctx context.Context, store conversation.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			deleted, err := store.ClearExpired(ctx, now)
			if err != nil {
				logger.Error("history cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				logger.Debug("expired histories removed", slog.Int("count", deleted))
			}
		}
	}
}
