package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore хранит сессии в таблице auth_sessions, они переживают рестарт сервиса.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save сохраняет/обновляет сессию пользователя.
func (s *SQLiteStore) Save(ctx context.Context, session Session) error {
	var expiresAt int64
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (user_id, token_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token_id = excluded.token_id, expires_at = excluded.expires_at`,
		session.UserID, session.TokenID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save session for %s: %w", session.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (Session, bool, error) {
	var (
		session   Session
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, token_id, expires_at FROM auth_sessions WHERE user_id = ?`,
		userID,
	).Scan(&session.UserID, &session.TokenID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session for %s: %w", userID, err)
	}
	// 0 в expires_at — сессия без срока действия.
	if expiresAt > 0 {
		session.ExpiresAt = time.Unix(expiresAt, 0)
	}
	return session, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete session for %s: %w", userID, err)
	}
	return nil
}
