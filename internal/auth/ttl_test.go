package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codegen/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	db, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db), path
}

func TestTTLZeroDoesNotExpire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := newTestService(testPassword, 0, store)

	session, token, err := service.Login(ctx, "user_1", "", testPassword)
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.IsZero())

	// Даже спустя год сессия с ttl=0 остаётся действительной.
	service.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }

	_, ok := service.ResolveUserID(requestWithToken(token))
	assert.True(t, ok, "session with ttl=0 should stay authorized")

	_, found, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, found, "session should not be deleted when ttl=0")
}

func TestTTLRemovesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store, path := newSQLiteStore(t)
	service := newTestService(testPassword, time.Minute, store)

	_, token, err := service.Login(ctx, "user_42", "", testPassword)
	require.NoError(t, err)

	service.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ok := service.ResolveUserID(requestWithToken(token))
	assert.False(t, ok, "expected authorization to fail for expired session")

	_, found, err := store.Get(ctx, "user_42")
	require.NoError(t, err)
	assert.False(t, found, "expired session should be removed from store")

	// Переоткрываем базу, чтобы убедиться, что удаление записано на диск.
	db, err := storage.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	_, found, err = NewSQLiteStore(db).Get(ctx, "user_42")
	require.NoError(t, err)
	assert.False(t, found, "expired session should be removed from persisted db")
}

func TestSQLiteStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newSQLiteStore(t)

	original := Session{
		UserID:    "user_123",
		TokenID:   "tok_123",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, original))

	loaded, found, err := store.Get(ctx, original.UserID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, original.TokenID, loaded.TokenID)
	assert.True(t, loaded.ExpiresAt.Equal(original.ExpiresAt))

	require.NoError(t, store.Save(ctx, Session{UserID: "user_123", TokenID: "tok_456"}))
	loaded, found, err = store.Get(ctx, original.UserID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tok_456", loaded.TokenID)
	assert.True(t, loaded.ExpiresAt.IsZero())
}
