// Package quota считает бесплатные генерации пользователей.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Tracker хранит счётчик использованных бесплатных генераций.
type Tracker interface {
	// HasFreeTrial сообщает, остались ли у пользователя бесплатные генерации.
	HasFreeTrial(ctx context.Context, userID string) (bool, error)
	// Increase списывает одну бесплатную генерацию.
	Increase(ctx context.Context, userID string) error
	// Count возвращает число уже использованных генераций.
	Count(ctx context.Context, userID string) (int, error)
	// Max возвращает лимит бесплатных генераций.
	Max() int
}

// SQLiteTracker хранит счётчики в таблице user_api_limit.
type SQLiteTracker struct {
	db       *sql.DB
	maxCount int
}

func NewSQLiteTracker(db *sql.DB, maxCount int) *SQLiteTracker {
	return &SQLiteTracker{db: db, maxCount: maxCount}
}

func (t *SQLiteTracker) HasFreeTrial(ctx context.Context, userID string) (bool, error) {
	count, err := t.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < t.maxCount, nil
}

func (t *SQLiteTracker) Increase(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO user_api_limit (user_id, count) VALUES (?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET count = count + 1, updated_at = unixepoch()`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("increase api limit for %s: %w", userID, err)
	}
	return nil
}

func (t *SQLiteTracker) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		`SELECT count FROM user_api_limit WHERE user_id = ?`,
		userID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read api limit for %s: %w", userID, err)
	}
	return count, nil
}

func (t *SQLiteTracker) Max() int {
	return t.maxCount
}

// MemoryTracker потокобезопасная in-memory реализация, счётчики живут до рестарта.
type MemoryTracker struct {
	mu       sync.Mutex
	counts   map[string]int
	maxCount int
}

func NewMemoryTracker(maxCount int) *MemoryTracker {
	return &MemoryTracker{
		counts:   make(map[string]int),
		maxCount: maxCount,
	}
}

func (t *MemoryTracker) HasFreeTrial(ctx context.Context, userID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] < t.maxCount, nil
}

func (t *MemoryTracker) Increase(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[userID]++
	return nil
}

func (t *MemoryTracker) Count(ctx context.Context, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID], nil
}

func (t *MemoryTracker) Max() int {
	return t.maxCount
}
