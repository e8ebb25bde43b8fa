package filter

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrestLabs/coherent/store"
)

func TestFingerprint(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Fingerprint("hello"), Fingerprint("hello"))
	})

	t.Run("order sensitive", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("helloworld"), Fingerprint("worldhello"))
	})

	t.Run("distinct content differs", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("aaa"), Fingerprint("aab"))
	})
}

func newTestTracker(t *testing.T, window time.Duration) (*duplicateTracker, *time.Time) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tracker := newDuplicateTracker(store.NewMemory(), window, logger)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestDuplicateTracker(t *testing.T) {
	t.Run("first submission is not a duplicate", func(t *testing.T) {
		tracker, _ := newTestTracker(t, 30*time.Minute)
		dup, err := tracker.checkAndRecord("user-1", Fingerprint("some text"))
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("resubmission inside window is a duplicate", func(t *testing.T) {
		tracker, now := newTestTracker(t, 30*time.Minute)
		hash := Fingerprint("some text")

		_, err := tracker.checkAndRecord("user-1", hash)
		require.NoError(t, err)

		*now = now.Add(10 * time.Minute)
		dup, err := tracker.checkAndRecord("user-1", hash)
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("window expiry clears the duplicate", func(t *testing.T) {
		tracker, now := newTestTracker(t, 30*time.Minute)
		hash := Fingerprint("some text")

		_, err := tracker.checkAndRecord("user-1", hash)
		require.NoError(t, err)

		*now = now.Add(31 * time.Minute)
		dup, err := tracker.checkAndRecord("user-1", hash)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("users are isolated", func(t *testing.T) {
		tracker, _ := newTestTracker(t, 30*time.Minute)
		hash := Fingerprint("some text")

		_, err := tracker.checkAndRecord("user-1", hash)
		require.NoError(t, err)

		dup, err := tracker.checkAndRecord("user-2", hash)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("history survives pruning of old entries", func(t *testing.T) {
		tracker, now := newTestTracker(t, 30*time.Minute)

		_, err := tracker.checkAndRecord("user-1", Fingerprint("old"))
		require.NoError(t, err)

		*now = now.Add(20 * time.Minute)
		_, err = tracker.checkAndRecord("user-1", Fingerprint("recent"))
		require.NoError(t, err)

		// "old" is now outside the window, "recent" still inside.
		*now = now.Add(15 * time.Minute)
		dup, err := tracker.checkAndRecord("user-1", Fingerprint("old"))
		require.NoError(t, err)
		assert.False(t, dup)

		dup, err = tracker.checkAndRecord("user-1", Fingerprint("recent"))
		require.NoError(t, err)
		assert.True(t, dup)
	})
}
