// Package filter implements the content moderation pipeline: submitted
// text passes through staged checks (empty content, sensitive terms,
// URL count, duplicate detection) and comes out with exactly one
// verdict. Stage order is fixed; the first stage to decide wins.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CrestLabs/coherent/models"
	"github.com/CrestLabs/coherent/store"
)

// ModerationLog receives best-effort records of term matches and
// rejections. Implementations may drop entries under load; the pipeline
// never blocks on the log.
type ModerationLog interface {
	RecordModeration(ctx context.Context, entry models.ModerationLogEntry) error
}

type Config struct {
	Logger *slog.Logger
	Source TermSource
	Log    ModerationLog // optional
	Store  store.Store

	RejectSeverity  int
	MaxURLs         int
	DuplicateWindow time.Duration
	TermCacheTTL    time.Duration
	FetchRetries    int
	FetchBackoff    time.Duration
	FuzzyVariations bool
}

// Pipeline evaluates content submissions. Safe for concurrent use.
type Pipeline struct {
	logger *slog.Logger
	log    ModerationLog

	terms      *termManager
	duplicates *duplicateTracker

	rejectSeverity int
	maxURLs        int
	fuzzy          bool
}

// Submission is one piece of user content to evaluate. Title and Body
// are checked as a unit: terms split across the two fields still match
// after normalization joins them.
type Submission struct {
	UserID      string
	ContentType string
	ContentID   string
	Title       string
	Body        string
}

func New(cfg *Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("term source is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("filter")

	return &Pipeline{
		logger:         logger,
		log:            cfg.Log,
		terms:          newTermManager(logger, cfg.Source, cfg.Store, cfg.TermCacheTTL, cfg.FetchRetries, cfg.FetchBackoff),
		duplicates:     newDuplicateTracker(cfg.Store, cfg.DuplicateWindow, logger),
		rejectSeverity: cfg.RejectSeverity,
		maxURLs:        cfg.MaxURLs,
		fuzzy:          cfg.FuzzyVariations,
	}, nil
}

// Close releases the pipeline's background resources.
func (p *Pipeline) Close() {
	p.terms.stop()
}

// InvalidateTerms forces a term list refetch on the next evaluation when
// the pushed version differs from the one currently cached. Wire this to
// the provider's term-list update stream.
func (p *Pipeline) InvalidateTerms(version string) {
	p.terms.invalidateVersion(version)
}

// Evaluate runs sub through every stage and returns its verdict. A
// rejected verdict with a nil error is a normal outcome. A non-nil error
// means the pipeline itself failed; the accompanying verdict fails
// closed to rejected pending manual review rather than letting unchecked
// content through.
func (p *Pipeline) Evaluate(ctx context.Context, sub Submission) (models.Verdict, error) {
	combined := strings.TrimSpace(sub.Title + " " + sub.Body)
	if combined == "" {
		return manualReviewVerdict(), nil
	}
	normalized := Normalize(combined)

	set, err := p.terms.current(ctx)
	if err != nil {
		p.logger.Error("term list unavailable, failing closed", "error", err)
		return manualReviewVerdict(), fmt.Errorf("term evaluation unavailable: %w", err)
	}

	if hits := set.match(normalized, p.fuzzy); len(hits) > 0 {
		verdict := p.termVerdict(hits)
		p.logger.Info("sensitive terms matched",
			"user", sub.UserID,
			"status", verdict.Status,
			"terms", verdict.MatchedTerms,
		)
		return verdict, nil
	}

	if count := CountURLs(combined); count > p.maxURLs {
		p.logger.Info("excessive urls", "user", sub.UserID, "count", count, "max", p.maxURLs)
		return models.Verdict{Status: models.VerdictPending, Reason: models.ReasonExcessiveURLs}, nil
	}

	dup, err := p.duplicates.checkAndRecord(sub.UserID, Fingerprint(normalized))
	if err != nil {
		p.logger.Error("duplicate check failed, failing closed", "error", err)
		return manualReviewVerdict(), fmt.Errorf("duplicate check unavailable: %w", err)
	}
	if dup {
		p.logger.Info("duplicate content", "user", sub.UserID)
		return models.Verdict{Status: models.VerdictPending, Reason: models.ReasonDuplicateContent}, nil
	}

	return models.Verdict{Status: models.VerdictApproved, Reason: models.ReasonNone}, nil
}

// EvaluateAndLog evaluates sub and, when the verdict is anything but a
// clean approval, ships a moderation log entry. Logging is best-effort:
// a log failure never changes the verdict.
func (p *Pipeline) EvaluateAndLog(ctx context.Context, sub Submission) (models.Verdict, error) {
	verdict, err := p.Evaluate(ctx, sub)

	if p.log != nil && verdict.Status != models.VerdictApproved {
		entry := models.ModerationLogEntry{
			EntryID:      uuid.New().String(),
			UserID:       sub.UserID,
			ContentType:  sub.ContentType,
			ContentID:    sub.ContentID,
			Status:       verdict.Status,
			Reason:       verdict.Reason,
			MatchedTerms: verdict.MatchedTerms,
			CreatedAt:    time.Now(),
		}
		if logErr := p.log.RecordModeration(ctx, entry); logErr != nil {
			p.logger.Warn("failed to record moderation log entry", "error", logErr)
		}
	}
	return verdict, err
}

// termVerdict folds term hits into one verdict. Any hit at or above the
// reject severity rejects outright; below it, each hit contributes its
// configured auto-action (pending when unset) and the most severe
// outcome wins.
func (p *Pipeline) termVerdict(hits []compiledTerm) models.Verdict {
	status := models.VerdictApproved
	matched := make([]string, 0, len(hits))
	for _, ct := range hits {
		matched = append(matched, ct.source.Word)

		hit := models.VerdictPending
		switch {
		case ct.source.Severity >= p.rejectSeverity:
			hit = models.VerdictRejected
		case ct.source.AutoAction == models.VerdictRejected:
			hit = models.VerdictRejected
		case ct.source.AutoAction == models.VerdictApproved:
			hit = models.VerdictApproved
		}
		if verdictRank(hit) > verdictRank(status) {
			status = hit
		}
	}
	return models.Verdict{
		Status:       status,
		Reason:       models.ReasonSensitiveWords,
		MatchedTerms: matched,
	}
}

func verdictRank(s models.VerdictStatus) int {
	switch s {
	case models.VerdictRejected:
		return 2
	case models.VerdictPending:
		return 1
	default:
		return 0
	}
}

func manualReviewVerdict() models.Verdict {
	return models.Verdict{Status: models.VerdictRejected, Reason: models.ReasonManualReview}
}
