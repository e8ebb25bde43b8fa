package models

import "time"

// VerdictStatus is the terminal state of one moderation evaluation.
type VerdictStatus string

const (
	VerdictApproved VerdictStatus = "approved"
	VerdictPending  VerdictStatus = "pending"
	VerdictRejected VerdictStatus = "rejected"
)

// VerdictReason names the rule that produced the verdict.
type VerdictReason string

const (
	ReasonNone             VerdictReason = "none"
	ReasonSensitiveWords   VerdictReason = "sensitive_words"
	ReasonExcessiveURLs    VerdictReason = "excessive_urls"
	ReasonDuplicateContent VerdictReason = "duplicate_content"
	ReasonManualReview     VerdictReason = "manual_review"
)

// Verdict is produced fresh per submission and never mutated afterwards.
// A rejected verdict is a valid outcome of evaluation, not an error.
type Verdict struct {
	Status       VerdictStatus
	Reason       VerdictReason
	MatchedTerms []string
}

// Term is one entry of the remotely managed sensitive-term list.
type Term struct {
	Word       string        `json:"word"`
	Severity   int           `json:"severity"`
	Category   string        `json:"category"`
	Variations []string      `json:"variations,omitempty"`
	Pattern    string        `json:"pattern,omitempty"`
	AutoAction VerdictStatus `json:"auto_action"`
}

// TermList is the versioned term set fetched from the remote provider.
// Version mismatches against the provider trigger a refetch.
type TermList struct {
	Version   string    `json:"version"`
	Terms     []Term    `json:"terms"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fingerprint records one submission for duplicate detection. Entries are
// only relevant within the configured trailing window and are pruned
// outside it on every write.
type Fingerprint struct {
	UserID      string    `json:"user_id"`
	ContentHash uint64    `json:"content_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// ModerationLogEntry is the best-effort record of a sensitive-term match,
// shipped to the remote provider after the verdict is finalized.
type ModerationLogEntry struct {
	EntryID      string        `json:"entry_id"`
	UserID       string        `json:"user_id"`
	ContentType  string        `json:"content_type"`
	ContentID    string        `json:"content_id"`
	Status       VerdictStatus `json:"status"`
	Reason       VerdictReason `json:"reason"`
	MatchedTerms []string      `json:"matched_terms,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
