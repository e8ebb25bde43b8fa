package filter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/CrestLabs/coherent/models"
	"github.com/CrestLabs/coherent/store"
)

const fingerprintKeyPrefix = "coherent:moderation:fingerprints:"

// Fingerprint computes an order-sensitive rolling hash of normalized
// content. Reordered words hash differently; byte-identical submissions
// collide by construction.
func Fingerprint(normalized string) uint64 {
	var h uint64 = 1469598103934665603
	for _, r := range normalized {
		h = h*131 + uint64(r)
	}
	return h
}

// duplicateTracker keeps each user's recent submission fingerprints in
// the persistent store so duplicate detection survives restarts. Entries
// outside the trailing window are pruned on every write.
type duplicateTracker struct {
	store  store.Store
	window time.Duration
	logger *slog.Logger

	now func() time.Time
}

func newDuplicateTracker(s store.Store, window time.Duration, logger *slog.Logger) *duplicateTracker {
	return &duplicateTracker{
		store:  s,
		window: window,
		logger: logger.WithGroup("duplicate_tracker"),
		now:    time.Now,
	}
}

// checkAndRecord reports whether hash matches one of userID's
// fingerprints inside the window, then records the new fingerprint
// either way so subsequent checks see it.
func (t *duplicateTracker) checkAndRecord(userID string, hash uint64) (bool, error) {
	key := fingerprintKeyPrefix + userID

	var history []models.Fingerprint
	raw, err := t.store.Get(key)
	if err != nil {
		if !store.IsErrKeyNotFound(err) {
			return false, fmt.Errorf("failed to load fingerprint history: %w", err)
		}
	} else if err := json.Unmarshal([]byte(raw), &history); err != nil {
		// Corrupt history is discarded rather than blocking submissions.
		t.logger.Warn("discarding unreadable fingerprint history", "user", userID, "error", err)
		history = nil
	}

	now := t.now()
	cutoff := now.Add(-t.window)

	duplicate := false
	kept := history[:0]
	for _, fp := range history {
		if fp.Timestamp.Before(cutoff) {
			continue
		}
		if fp.ContentHash == hash {
			duplicate = true
		}
		kept = append(kept, fp)
	}

	kept = append(kept, models.Fingerprint{
		UserID:      userID,
		ContentHash: hash,
		Timestamp:   now,
	})

	encoded, err := json.Marshal(kept)
	if err != nil {
		return duplicate, fmt.Errorf("failed to encode fingerprint history: %w", err)
	}
	if err := t.store.Set(key, string(encoded)); err != nil {
		return duplicate, fmt.Errorf("failed to persist fingerprint history: %w", err)
	}
	return duplicate, nil
}
