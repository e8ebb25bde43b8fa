package filter

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrestLabs/coherent/models"
	"github.com/CrestLabs/coherent/provider"
	"github.com/CrestLabs/coherent/store"
)

type fakeTermSource struct {
	mu      sync.Mutex
	list    *models.TermList
	err     error
	fetches int
}

func (f *fakeTermSource) FetchTermList(ctx context.Context, haveVersion string) (*models.TermList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if haveVersion != "" && haveVersion == f.list.Version {
		return nil, provider.ErrNotModified
	}
	return f.list, nil
}

func (f *fakeTermSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeModerationLog struct {
	mu      sync.Mutex
	entries []models.ModerationLogEntry
}

func (f *fakeModerationLog) RecordModeration(ctx context.Context, entry models.ModerationLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func defaultTermList() *models.TermList {
	return &models.TermList{
		Version: "v1",
		Terms: []models.Term{
			{Word: "forbidden", Severity: 4, AutoAction: models.VerdictRejected},
			{Word: "dubious", Severity: 1, Variations: []string{"dub1ous"}},
			{Word: "tolerated", Severity: 1, AutoAction: models.VerdictApproved},
			{Word: "spamcall", Severity: 5, Pattern: `spam+call`},
		},
	}
}

func newTestPipeline(t *testing.T, source TermSource, log ModerationLog, fuzzy bool) *Pipeline {
	t.Helper()
	p, err := New(&Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
		Source:          source,
		Log:             log,
		Store:           store.NewMemory(),
		RejectSeverity:  3,
		MaxURLs:         2,
		DuplicateWindow: 30 * time.Minute,
		TermCacheTTL:    5 * time.Minute,
		FetchRetries:    3,
		FetchBackoff:    time.Millisecond,
		FuzzyVariations: fuzzy,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_Stages(t *testing.T) {
	ctx := context.Background()
	source := &fakeTermSource{list: defaultTermList()}
	p := newTestPipeline(t, source, nil, false)

	t.Run("clean content is approved", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "a perfectly nice post"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictApproved, v.Status)
		assert.Equal(t, models.ReasonNone, v.Reason)
	})

	t.Run("empty content goes to manual review", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "   "})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
		assert.Equal(t, models.ReasonManualReview, v.Reason)
	})

	t.Run("severe term rejects", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "this is forbidden content"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
		assert.Equal(t, models.ReasonSensitiveWords, v.Reason)
		assert.Contains(t, v.MatchedTerms, "forbidden")
	})

	t.Run("mild term goes to manual review", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "somewhat dubious claim"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPending, v.Status)
		assert.Equal(t, models.ReasonSensitiveWords, v.Reason)
	})

	t.Run("approved auto-action term passes", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "a tolerated phrase"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictApproved, v.Status)
		assert.Equal(t, models.ReasonSensitiveWords, v.Reason)
		assert.Contains(t, v.MatchedTerms, "tolerated")
	})

	t.Run("most severe auto-action wins across hits", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "tolerated but dubious"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPending, v.Status)
	})

	t.Run("spaced-out term still matches", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "f o r b i d d e n"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
	})

	t.Run("pattern term matches", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "spammmcall now"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
	})

	t.Run("term split across title and body matches", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Title: "forbi", Body: "dden"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
	})

	t.Run("urls beyond the limit go to manual review", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{
			UserID: "u1",
			Body:   "links https://a.com https://b.com https://c.com",
		})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPending, v.Status)
		assert.Equal(t, models.ReasonExcessiveURLs, v.Reason)
	})

	t.Run("severe term outranks excessive urls", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{
			UserID: "u1",
			Body:   "forbidden https://a.com https://b.com https://c.com https://d.com https://e.com",
		})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
		assert.Equal(t, models.ReasonSensitiveWords, v.Reason)
	})

	t.Run("urls at the limit pass", func(t *testing.T) {
		v, err := p.Evaluate(ctx, Submission{
			UserID: "u1",
			Body:   "two links https://a.com https://b.com only",
		})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictApproved, v.Status)
	})

	t.Run("resubmission is a duplicate", func(t *testing.T) {
		first, err := p.Evaluate(ctx, Submission{UserID: "u2", Body: "original thought"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictApproved, first.Status)

		second, err := p.Evaluate(ctx, Submission{UserID: "u2", Body: "original thought"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPending, second.Status)
		assert.Equal(t, models.ReasonDuplicateContent, second.Reason)
	})

	t.Run("sensitive terms win over duplicate detection", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			v, err := p.Evaluate(ctx, Submission{UserID: "u3", Body: "forbidden twice over"})
			require.NoError(t, err)
			assert.Equal(t, models.ReasonSensitiveWords, v.Reason, "term stage runs before duplicate stage")
		}
	})
}

func TestPipeline_FuzzyVariations(t *testing.T) {
	ctx := context.Background()
	source := &fakeTermSource{list: defaultTermList()}

	t.Run("disabled by default", func(t *testing.T) {
		p := newTestPipeline(t, source, nil, false)
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "quite dub2ous"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictApproved, v.Status)
	})

	t.Run("edit distance one matches when enabled", func(t *testing.T) {
		p := newTestPipeline(t, &fakeTermSource{list: defaultTermList()}, nil, true)
		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "quite dub2ous"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPending, v.Status)
		assert.Equal(t, models.ReasonSensitiveWords, v.Reason)
	})
}

func TestPipeline_TermCaching(t *testing.T) {
	ctx := context.Background()
	source := &fakeTermSource{list: defaultTermList()}
	p := newTestPipeline(t, source, nil, false)

	for i := 0; i < 5; i++ {
		_, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "hello there"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.fetchCount(), "cached term set should serve repeat evaluations")

	t.Run("invalidation triggers refetch", func(t *testing.T) {
		source.mu.Lock()
		source.list = &models.TermList{
			Version: "v2",
			Terms:   []models.Term{{Word: "newbad", Severity: 5}},
		}
		source.mu.Unlock()

		p.InvalidateTerms("v2")

		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "newbad stuff"})
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
	})

	t.Run("invalidation with current version is a no-op", func(t *testing.T) {
		before := source.fetchCount()
		p.InvalidateTerms("v2")
		_, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "hello again"})
		require.NoError(t, err)
		assert.Equal(t, before, source.fetchCount())
	})
}

func TestPipeline_FetchFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no list anywhere fails closed", func(t *testing.T) {
		source := &fakeTermSource{err: errors.New("remote down")}
		p := newTestPipeline(t, source, nil, false)

		v, err := p.Evaluate(ctx, Submission{UserID: "u1", Body: "anything at all"})
		require.Error(t, err)
		assert.Equal(t, models.VerdictRejected, v.Status)
		assert.Equal(t, models.ReasonManualReview, v.Reason)
		assert.Equal(t, 3, source.fetchCount(), "fetch should retry before giving up")
	})

	t.Run("persisted list serves after remote failure", func(t *testing.T) {
		backing := store.NewMemory()
		source := &fakeTermSource{list: defaultTermList()}

		p, err := New(&Config{
			Logger:          slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
			Source:          source,
			Store:           backing,
			RejectSeverity:  3,
			MaxURLs:         2,
			DuplicateWindow: 30 * time.Minute,
			TermCacheTTL:    5 * time.Minute,
			FetchRetries:    2,
			FetchBackoff:    time.Millisecond,
		})
		require.NoError(t, err)

		// Prime the persisted copy, then simulate the remote going away
		// for a fresh pipeline over the same store.
		_, err = p.Evaluate(ctx, Submission{UserID: "u1", Body: "warm up"})
		require.NoError(t, err)
		p.Close()

		broken := &fakeTermSource{err: errors.New("remote down")}
		p2, err := New(&Config{
			Logger:          slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
			Source:          broken,
			Store:           backing,
			RejectSeverity:  3,
			MaxURLs:         2,
			DuplicateWindow: 30 * time.Minute,
			TermCacheTTL:    5 * time.Minute,
			FetchRetries:    2,
			FetchBackoff:    time.Millisecond,
		})
		require.NoError(t, err)
		t.Cleanup(p2.Close)

		v, err := p2.Evaluate(ctx, Submission{UserID: "u1", Body: "forbidden words"})
		require.NoError(t, err, "known-good persisted list should cover the outage")
		assert.Equal(t, models.VerdictRejected, v.Status)
	})
}

func TestPipeline_EvaluateAndLog(t *testing.T) {
	ctx := context.Background()
	source := &fakeTermSource{list: defaultTermList()}
	log := &fakeModerationLog{}
	p := newTestPipeline(t, source, log, false)

	v, err := p.EvaluateAndLog(ctx, Submission{
		UserID:      "u1",
		ContentType: "post",
		ContentID:   "post-9",
		Body:        "forbidden content",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRejected, v.Status)

	require.Len(t, log.entries, 1)
	entry := log.entries[0]
	assert.NotEmpty(t, entry.EntryID)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "post-9", entry.ContentID)
	assert.Equal(t, models.VerdictRejected, entry.Status)
	assert.Contains(t, entry.MatchedTerms, "forbidden")

	t.Run("approvals are not logged", func(t *testing.T) {
		_, err := p.EvaluateAndLog(ctx, Submission{UserID: "u1", Body: "harmless"})
		require.NoError(t, err)
		assert.Len(t, log.entries, 1)
	})
}
