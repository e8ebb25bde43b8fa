package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/CrestLabs/coherent/models"
	"github.com/CrestLabs/coherent/provider"
	"github.com/CrestLabs/coherent/store"
)

const (
	termListStoreKey = "coherent:moderation:terms:current"
	termCacheKey     = "terms"
)

// TermSource retrieves the versioned sensitive-term list from the remote
// provider. Passing the version already held allows the source to answer
// provider.ErrNotModified instead of shipping the full list again.
type TermSource interface {
	FetchTermList(ctx context.Context, haveVersion string) (*models.TermList, error)
}

// termSet is a term list compiled for matching: words and variations are
// normalized the same way submitted content is, and regex patterns are
// compiled once at build time.
type termSet struct {
	version string
	terms   []compiledTerm
}

type compiledTerm struct {
	source     models.Term
	word       string
	variations []string
	pattern    *regexp.Regexp
}

func compileTermSet(list *models.TermList, logger *slog.Logger) *termSet {
	set := &termSet{version: list.Version}
	for _, t := range list.Terms {
		ct := compiledTerm{
			source: t,
			word:   Normalize(t.Word),
		}
		for _, v := range t.Variations {
			if n := Normalize(v); n != "" {
				ct.variations = append(ct.variations, n)
			}
		}
		if t.Pattern != "" {
			re, err := regexp.Compile(t.Pattern)
			if err != nil {
				// A broken pattern must not take the whole list down;
				// the literal word still matches.
				logger.Warn("skipping uncompilable term pattern", "word", t.Word, "error", err)
			} else {
				ct.pattern = re
			}
		}
		if ct.word == "" && ct.pattern == nil {
			continue
		}
		set.terms = append(set.terms, ct)
	}
	return set
}

// match scans normalized content against the set and returns every term
// hit. fuzzy additionally matches variations at edit distance one.
func (s *termSet) match(normalized string, fuzzy bool) []compiledTerm {
	var hits []compiledTerm
	for _, ct := range s.terms {
		if s.termMatches(ct, normalized, fuzzy) {
			hits = append(hits, ct)
		}
	}
	return hits
}

func (s *termSet) termMatches(ct compiledTerm, normalized string, fuzzy bool) bool {
	if ct.word != "" && strings.Contains(normalized, ct.word) {
		return true
	}
	for _, v := range ct.variations {
		if strings.Contains(normalized, v) {
			return true
		}
		if fuzzy && containsNearMatch(normalized, v) {
			return true
		}
	}
	if ct.pattern != nil && ct.pattern.MatchString(normalized) {
		return true
	}
	return false
}

// termManager layers a short-lived in-process cache over the remote term
// source, with the last successfully fetched list persisted to the store
// as a known-good fallback.
type termManager struct {
	logger  *slog.Logger
	source  TermSource
	store   store.Store
	cache   *ttlcache.Cache[string, *termSet]
	retries int
	backoff time.Duration

	mu        sync.Mutex
	knownGood *termSet
}

func newTermManager(logger *slog.Logger, source TermSource, s store.Store, cacheTTL time.Duration, retries int, backoff time.Duration) *termManager {
	if retries <= 0 {
		retries = 1
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	tm := &termManager{
		logger: logger.WithGroup("term_manager"),
		source: source,
		store:  s,
		cache: ttlcache.New[string, *termSet](
			ttlcache.WithTTL[string, *termSet](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *termSet](),
		),
		retries: retries,
		backoff: backoff,
	}
	go tm.cache.Start()
	return tm
}

func (m *termManager) stop() {
	m.cache.Stop()
}

// current returns the term set to evaluate against. Resolution order:
// fresh in-process cache, then a remote fetch conditioned on the version
// already persisted, then the persisted known-good list. Only when every
// layer fails does current return an error.
func (m *termManager) current(ctx context.Context) (*termSet, error) {
	if item := m.cache.Get(termCacheKey); item != nil {
		return item.Value(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if item := m.cache.Get(termCacheKey); item != nil {
		return item.Value(), nil
	}

	persisted := m.loadPersisted()
	haveVersion := ""
	if persisted != nil {
		haveVersion = persisted.Version
	}

	list, err := m.fetchWithRetries(ctx, haveVersion)
	switch {
	case err == nil:
		set := compileTermSet(list, m.logger)
		m.persist(list)
		m.install(set)
		return set, nil

	case errors.Is(err, provider.ErrNotModified):
		if persisted == nil {
			return nil, fmt.Errorf("term source reported not-modified but no persisted list exists")
		}
		set := compileTermSet(persisted, m.logger)
		m.install(set)
		return set, nil

	default:
		m.logger.Warn("term list fetch failed, falling back to known-good list", "error", err)
		if persisted != nil {
			set := compileTermSet(persisted, m.logger)
			m.install(set)
			return set, nil
		}
		if m.knownGood != nil {
			return m.knownGood, nil
		}
		return nil, fmt.Errorf("failed to obtain term list and no fallback exists: %w", err)
	}
}

// invalidateVersion drops the cached set when the pushed version differs
// from the one in hand, forcing a refetch on the next evaluation.
func (m *termManager) invalidateVersion(version string) {
	item := m.cache.Get(termCacheKey)
	if item != nil && item.Value().version == version {
		return
	}
	m.cache.Delete(termCacheKey)
	m.logger.Info("term list invalidated by push", "version", version)
}

func (m *termManager) fetchWithRetries(ctx context.Context, haveVersion string) (*models.TermList, error) {
	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * m.backoff):
			}
		}
		list, err := m.source.FetchTermList(ctx, haveVersion)
		if err == nil {
			return list, nil
		}
		if errors.Is(err, provider.ErrNotModified) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("term list fetch attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (m *termManager) install(set *termSet) {
	m.cache.Set(termCacheKey, set, ttlcache.DefaultTTL)
	m.knownGood = set
}

func (m *termManager) loadPersisted() *models.TermList {
	raw, err := m.store.Get(termListStoreKey)
	if err != nil {
		if !store.IsErrKeyNotFound(err) {
			m.logger.Warn("failed to load persisted term list", "error", err)
		}
		return nil
	}
	var list models.TermList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		m.logger.Warn("discarding unreadable persisted term list", "error", err)
		return nil
	}
	return &list
}

func (m *termManager) persist(list *models.TermList) {
	list.FetchedAt = time.Now()
	encoded, err := json.Marshal(list)
	if err != nil {
		m.logger.Error("failed to encode term list for persistence", "error", err)
		return
	}
	if err := m.store.Set(termListStoreKey, string(encoded)); err != nil {
		m.logger.Warn("failed to persist term list", "error", err)
	}
}
