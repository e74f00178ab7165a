package codegen

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"codegen/internal/auth"
	"codegen/internal/llm"
)

// stubQuota реализует QuotaTracker для тестов.
type stubQuota struct {
	mu         sync.Mutex
	freeTrial  bool
	count      int
	max        int
	increases  int
	trialCalls int
	trialErr   error
	increaseFn func() error
}

func (q *stubQuota) HasFreeTrial(ctx context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trialCalls++
	return q.freeTrial, q.trialErr
}

func (q *stubQuota) Increase(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.increaseFn != nil {
		if err := q.increaseFn(); err != nil {
			return err
		}
	}
	q.increases++
	q.count++
	return nil
}

func (q *stubQuota) Count(ctx context.Context, userID string) (int, error) {
	return q.count, nil
}

func (q *stubQuota) Max() int {
	return q.max
}

type stubEntitlements struct {
	pro bool
	err error
}

func (e stubEntitlements) IsPro(ctx context.Context, userID string) (bool, error) {
	return e.pro, e.err
}

// mockClient реализует llm.Client для тестов.
type mockClient struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, prompt string, params llm.Parameters) (string, error)
	prompts      []string
}

func (m *mockClient) Generate(ctx context.Context, prompt string, params llm.Parameters) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc(ctx, prompt, params)
	}
	return "", errors.New("not implemented")
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func answer(text string) func(context.Context, string, llm.Parameters) (string, error) {
	return func(context.Context, string, llm.Parameters) (string, error) {
		return text, nil
	}
}

// headerIdentity берёт пользователя из заголовка X-User-ID.
type headerIdentity struct{}

func (headerIdentity) ResolveUserID(r *http.Request) (auth.Identity, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: id}, true
}
