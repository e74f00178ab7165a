// Package codegen отвечает за эндпоинт генерации кода: проверку квоты,
// сборку промпта из истории и вызов модели.
package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"codegen/internal/conversation"
	"codegen/internal/llm"
)

const (
	ScopeUser   = "user"
	ScopeGlobal = "global"

	// Ключ единственной общей истории при ScopeGlobal.
	globalDialogID = "global"

	answerPrefix = "Answer: "
)

// QuotaTracker считает бесплатные генерации пользователя.
type QuotaTracker interface {
	HasFreeTrial(ctx context.Context, userID string) (bool, error)
	Increase(ctx context.Context, userID string) error
	Count(ctx context.Context, userID string) (int, error)
	Max() int
}

// EntitlementChecker сообщает, есть ли у пользователя активная подписка.
type EntitlementChecker interface {
	IsPro(ctx context.Context, userID string) (bool, error)
}

type Service struct {
	quota          QuotaTracker
	entitlements   EntitlementChecker
	client         llm.Client
	history        conversation.Store
	scope          string
	maxTurns       int
	storeRawAnswer bool
	preamble       string
	params         atomic.Pointer[llm.Parameters]
	logger         *slog.Logger
}

// ServiceConfig содержит зависимости для создания Service.
type ServiceConfig struct {
	Quota          QuotaTracker
	Entitlements   EntitlementChecker
	Client         llm.Client
	History        conversation.Store
	Parameters     llm.Parameters
	Scope          string // ScopeUser (по умолчанию) или ScopeGlobal
	MaxTurns       int    // 0 — вся история
	StoreRawAnswer bool
	Preamble       string // пусто — conversation.DefaultPreamble
	Logger         *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	scope := cfg.Scope
	if scope == "" {
		scope = ScopeUser
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		quota:          cfg.Quota,
		entitlements:   cfg.Entitlements,
		client:         cfg.Client,
		history:        cfg.History,
		scope:          scope,
		maxTurns:       cfg.MaxTurns,
		storeRawAnswer: cfg.StoreRawAnswer,
		preamble:       cfg.Preamble,
		logger:         logger,
	}
	s.UpdateParameters(cfg.Parameters)
	return s
}

// UpdateParameters подменяет параметры генерации для следующих запросов.
// Запросы, уже ушедшие в модель, используют старые параметры.
func (s *Service) UpdateParameters(p llm.Parameters) {
	s.params.Store(&p)
}

func (s *Service) Parameters() llm.Parameters {
	return *s.params.Load()
}

// Generate проверяет квоту, добавляет вопрос в историю, вызывает модель и возвращает
// ответ без префикса "Answer: ". Счётчик бесплатных генераций растёт только после
// успешного ответа и только у пользователей без подписки.
//
// Вопрос остаётся в истории, даже если модель вернула ошибку.
func (s *Service) Generate(ctx context.Context, userID string, messages []Message) (string, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}
	if len(messages) == 0 {
		return "", ErrMessagesRequired
	}

	freeTrial, err := s.quota.HasFreeTrial(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("check free trial: %w", err)
	}
	isPro, err := s.entitlements.IsPro(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("check subscription: %w", err)
	}
	if !freeTrial && !isPro {
		return "", ErrTrialExpired
	}

	dialogID := s.dialogID(userID)
	question := messages[len(messages)-1].Content
	if err := s.history.Append(ctx, dialogID, conversation.Turn{Question: question}); err != nil {
		return "", fmt.Errorf("append question: %w", err)
	}

	turns, _, err := s.history.Get(ctx, dialogID)
	if err != nil {
		return "", fmt.Errorf("get dialog history: %w", err)
	}
	prompt := conversation.BuildPrompt(s.preamble, conversation.Window(turns, s.maxTurns))

	raw, err := s.client.Generate(ctx, prompt, s.Parameters())
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	// Клиент уже ушёл: ответ он не получит, значит генерация не засчитывается.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("request abandoned: %w", err)
	}
	answer := strings.TrimPrefix(raw, answerPrefix)

	stored := raw
	if !s.storeRawAnswer {
		stored = answer
	}
	if err := s.history.Append(ctx, dialogID, conversation.Turn{Answer: stored}); err != nil {
		return "", fmt.Errorf("append answer: %w", err)
	}

	if !isPro {
		if err := s.quota.Increase(ctx, userID); err != nil {
			return "", fmt.Errorf("increase api limit: %w", err)
		}
	}

	s.logger.Debug("code generated",
		slog.String("user_id", userID),
		slog.Int("history_turns", len(turns)+1),
		slog.Bool("pro", isPro))
	return answer, nil
}

// Usage описывает состояние квоты пользователя.
type Usage struct {
	Count int  `json:"count"`
	Max   int  `json:"max"`
	IsPro bool `json:"isPro"`
}

func (s *Service) Usage(ctx context.Context, userID string) (Usage, error) {
	if userID == "" {
		return Usage{}, ErrUnauthorized
	}
	count, err := s.quota.Count(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("get api limit count: %w", err)
	}
	isPro, err := s.entitlements.IsPro(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("check subscription: %w", err)
	}
	return Usage{Count: count, Max: s.quota.Max(), IsPro: isPro}, nil
}

// ClearHistory удаляет историю пользователя (или общую при ScopeGlobal).
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	return s.history.Delete(ctx, s.dialogID(userID))
}

func (s *Service) dialogID(userID string) string {
	if s.scope == ScopeGlobal {
		return globalDialogID
	}
	return userID
}
