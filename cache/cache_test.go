package cache

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string
	Title string
	Likes int
}

func newTestCache(capacity int, ttl time.Duration) (*Bounded[record], *time.Time) {
	c := New[record](Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
		Capacity: capacity,
		TTL:      ttl,
	})
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestBounded_GetPut(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)

	c.Put("a", record{ID: "a", Title: "first"})

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", got.Title)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestBounded_TTLExpiry(t *testing.T) {
	c, now := newTestCache(4, time.Minute)

	c.Put("a", record{ID: "a"})
	*now = now.Add(61 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok, "entry past TTL must read as absent")
	assert.Equal(t, 0, c.Len(), "expired entry must be evicted on read")

	// A second read must not resurrect a partially-alive state.
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestBounded_LRUEviction(t *testing.T) {
	c, now := newTestCache(3, time.Hour)

	c.Put("a", record{ID: "a"})
	c.Put("b", record{ID: "b"})
	c.Put("c", record{ID: "c"})

	// Refresh a and c so b holds the oldest last-accessed time.
	*now = now.Add(time.Second)
	_, _ = c.Get("a")
	_, _ = c.Get("c")

	*now = now.Add(time.Second)
	c.Put("d", record{ID: "d"})

	_, ok := c.Get("b")
	assert.False(t, ok, "the never-read entry must be the one evicted")
	for _, id := range []string{"a", "c", "d"} {
		_, ok := c.Get(id)
		assert.True(t, ok, "entry %s should survive", id)
	}
}

func TestBounded_UpdateKeepsTTLClock(t *testing.T) {
	c, now := newTestCache(4, time.Minute)

	c.Put("a", record{ID: "a", Likes: 1})
	*now = now.Add(30 * time.Second)

	updated := c.Update("a", func(v *record) {
		v.Likes = 5
	})
	require.True(t, updated)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, got.Likes)

	// cachedAt was not reset by Update, so the original TTL still applies.
	*now = now.Add(31 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "TTL must count from the original insertion")
}

func TestBounded_UpdateAbsentOrExpired(t *testing.T) {
	c, now := newTestCache(4, time.Minute)

	assert.False(t, c.Update("missing", func(v *record) {}))

	c.Put("a", record{ID: "a"})
	*now = now.Add(2 * time.Minute)
	assert.False(t, c.Update("a", func(v *record) {}), "expired entry must not be updated")
	assert.Equal(t, 0, c.Len())
}

func TestBounded_SweepExpired(t *testing.T) {
	c, now := newTestCache(8, time.Minute)

	c.Put("a", record{ID: "a"})
	c.Put("b", record{ID: "b"})
	*now = now.Add(45 * time.Second)
	c.Put("c", record{ID: "c"})

	*now = now.Add(30 * time.Second) // a, b now past TTL; c is not
	removed := c.SweepExpired()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestBounded_DerivedViews(t *testing.T) {
	c, now := newTestCache(8, time.Hour)

	c.Put("a", record{ID: "a"})
	c.Put("b", record{ID: "b"})
	c.Put("c", record{ID: "c"})

	// a read twice, b once, c never.
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	*now = now.Add(time.Second)
	_, _ = c.Get("b")

	popular := c.MostPopular(2)
	require.Len(t, popular, 2)
	assert.Equal(t, "a", popular[0].ID)
	assert.Equal(t, "b", popular[1].ID)

	recent := c.MostRecent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].ID, "most recently accessed entry should lead")

	all := c.MostPopular(100)
	assert.Len(t, all, 3, "n above the live count returns everything")
}

func TestBounded_RemoveClear(t *testing.T) {
	c, _ := newTestCache(4, time.Hour)

	c.Put("a", record{ID: "a"})
	c.Put("b", record{ID: "b"})

	c.Remove("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
