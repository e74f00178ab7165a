package quota

import (
	"context"
	"path/filepath"
	"testing"

	"codegen/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTracker(t *testing.T, maxCount int) *SQLiteTracker {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteTracker(db, maxCount)
}

func TestTrackers(t *testing.T) {
	trackers := map[string]func(t *testing.T) Tracker{
		"sqlite": func(t *testing.T) Tracker { return newSQLiteTracker(t, 2) },
		"memory": func(t *testing.T) Tracker { return NewMemoryTracker(2) },
	}

	for name, newTracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tracker := newTracker(t)

			ok, err := tracker.HasFreeTrial(ctx, "user_1")
			require.NoError(t, err)
			assert.True(t, ok, "new user should have a free trial")

			require.NoError(t, tracker.Increase(ctx, "user_1"))
			ok, err = tracker.HasFreeTrial(ctx, "user_1")
			require.NoError(t, err)
			assert.True(t, ok, "one of two generations used")

			require.NoError(t, tracker.Increase(ctx, "user_1"))
			ok, err = tracker.HasFreeTrial(ctx, "user_1")
			require.NoError(t, err)
			assert.False(t, ok, "limit reached")

			count, err := tracker.Count(ctx, "user_1")
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			// Счётчики разных пользователей независимы.
			count, err = tracker.Count(ctx, "user_2")
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			assert.Equal(t, 2, tracker.Max())
		})
	}
}

func TestSQLiteTrackerZeroLimit(t *testing.T) {
	tracker := newSQLiteTracker(t, 0)

	ok, err := tracker.HasFreeTrial(context.Background(), "user_1")
	require.NoError(t, err)
	assert.False(t, ok)
}
