// Package core assembles the coherent runtime: the event bus, the
// request deduplicator, the bounded query cache, the moderation
// pipeline, and the shutdown coordinator, wired against one persistent
// store and one remote provider. Hosts construct a Core at startup, use
// it for the lifetime of the process, and Close it exactly once.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CrestLabs/coherent/bus"
	"github.com/CrestLabs/coherent/cache"
	"github.com/CrestLabs/coherent/config"
	"github.com/CrestLabs/coherent/dedup"
	"github.com/CrestLabs/coherent/filter"
	"github.com/CrestLabs/coherent/models"
	"github.com/CrestLabs/coherent/shutdown"
	"github.com/CrestLabs/coherent/store"
)

// Remote is the read surface of the backing service. provider.Client
// satisfies it.
type Remote interface {
	Query(ctx context.Context, target string, params map[string]string) (json.RawMessage, error)
}

// Deps carries the externally owned collaborators. Store and Terms are
// required; Remote enables FetchCached and Log enables moderation
// logging.
type Deps struct {
	Store  store.Store
	Remote Remote
	Terms  filter.TermSource
	Log    filter.ModerationLog
}

type Core struct {
	logger *slog.Logger
	cfg    *config.Config

	bus         *bus.EventBus
	dedup       *dedup.Deduplicator
	cache       *cache.Bounded[json.RawMessage]
	filter      *filter.Pipeline
	coordinator *shutdown.Coordinator

	remote Remote
	store  store.Store

	stopSweepers context.CancelFunc
}

func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Terms == nil {
		return nil, fmt.Errorf("term source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Core{
		logger: logger.WithGroup("core"),
		cfg:    cfg,
		remote: deps.Remote,
		store:  deps.Store,
	}

	c.bus = bus.New(bus.Config{
		Logger:            logger,
		DebounceDelay:     cfg.Bus.DebounceDelay,
		MaxInFlightTopics: cfg.Bus.MaxInFlightTopics,
	})

	c.dedup = dedup.New(dedup.Config{
		Logger:         logger,
		Timeout:        cfg.Dedup.Timeout,
		RetryDelay:     cfg.Dedup.RetryDelay,
		SweepInterval:  cfg.Dedup.SweepInterval,
		StaleThreshold: cfg.Dedup.StaleThreshold,
	})

	c.cache = cache.New[json.RawMessage](cache.Config{
		Logger:   logger,
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
	})

	var err error
	c.filter, err = filter.New(&filter.Config{
		Logger:          logger,
		Source:          deps.Terms,
		Log:             deps.Log,
		Store:           deps.Store,
		RejectSeverity:  cfg.Filter.RejectSeverity,
		MaxURLs:         cfg.Filter.MaxURLs,
		DuplicateWindow: cfg.Filter.DuplicateWindow,
		TermCacheTTL:    cfg.Filter.TermCacheTTL,
		FetchRetries:    cfg.Filter.FetchRetries,
		FetchBackoff:    cfg.Filter.FetchBackoff,
		FuzzyVariations: cfg.Filter.FuzzyVariations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build moderation pipeline: %w", err)
	}

	c.coordinator = shutdown.New(logger)

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	c.stopSweepers = stopSweepers
	c.dedup.StartSweeper(sweepCtx)
	c.cache.StartSweeper(sweepCtx, cfg.Cache.SweepInterval)

	if err := c.registerCleanups(); err != nil {
		stopSweepers()
		c.filter.Close()
		return nil, err
	}
	return c, nil
}

// registerCleanups wires the components into the coordinator. Teardown
// order: stop producing work (high), release in-memory state (medium),
// close the store last (low) so late cleanups can still persist.
func (c *Core) registerCleanups() error {
	steps := []struct {
		name     string
		priority shutdown.Priority
		fn       shutdown.CleanupFunc
	}{
		{"dedup-cancel-all", shutdown.PriorityHigh, func(ctx context.Context) error {
			c.dedup.CancelAll()
			return nil
		}},
		{"bus-reset", shutdown.PriorityHigh, func(ctx context.Context) error {
			c.bus.Reset()
			return nil
		}},
		{"sweepers", shutdown.PriorityHigh, func(ctx context.Context) error {
			c.stopSweepers()
			return nil
		}},
		{"filter", shutdown.PriorityMedium, func(ctx context.Context) error {
			c.filter.Close()
			return nil
		}},
		{"cache-clear", shutdown.PriorityMedium, func(ctx context.Context) error {
			c.cache.Clear()
			return nil
		}},
		{"store", shutdown.PriorityLow, func(ctx context.Context) error {
			return c.store.Close()
		}},
	}
	for _, s := range steps {
		if _, err := c.coordinator.Register(s.name, s.fn, s.priority); err != nil {
			return fmt.Errorf("failed to register cleanup %s: %w", s.name, err)
		}
	}
	return nil
}

// Bus exposes the event bus for subscription.
func (c *Core) Bus() *bus.EventBus { return c.bus }

// Dedup exposes the deduplicator for callers running their own keyed
// operations.
func (c *Core) Dedup() *dedup.Deduplicator { return c.dedup }

// Cache exposes the raw query cache.
func (c *Core) Cache() *cache.Bounded[json.RawMessage] { return c.cache }

// Filter exposes the moderation pipeline.
func (c *Core) Filter() *filter.Pipeline { return c.filter }

// Coordinator exposes the shutdown coordinator so hosts can register
// their own cleanups alongside the core's.
func (c *Core) Coordinator() *shutdown.Coordinator { return c.coordinator }

// Publish emits payload on topic, debounced for the topics that default
// to trailing-edge coalescing (positional streams), immediate for the
// rest.
func (c *Core) Publish(topic models.Topic, payload any) {
	if models.DebouncedByDefault(topic) {
		c.bus.EmitDebounced(topic, payload)
		return
	}
	c.bus.Emit(topic, payload)
}

// FetchCached answers a remote query through the cache and the
// deduplicator: a fresh cached answer is returned directly; otherwise
// all concurrent callers with an equivalent query (same target, same
// parameters after coordinate rounding) collapse into one remote call
// whose answer is cached for the next reader.
func (c *Core) FetchCached(ctx context.Context, target string, params map[string]any) (json.RawMessage, error) {
	if c.remote == nil {
		return nil, fmt.Errorf("no remote configured")
	}

	key := dedup.QueryKey("GET", target, params)
	if raw, ok := c.cache.Get(key); ok {
		return raw, nil
	}

	return dedup.Run(ctx, c.dedup, key, dedup.RunConfig{
		Retryable:  true,
		MaxRetries: c.cfg.Dedup.MaxRetries,
	}, func(ctx context.Context) (json.RawMessage, error) {
		// A waiter that raced a just-settled flight may find the answer
		// already cached.
		if raw, ok := c.cache.Get(key); ok {
			return raw, nil
		}
		raw, err := c.remote.Query(ctx, target, stringifyParams(params))
		if err != nil {
			return nil, err
		}
		c.cache.Put(key, raw)
		return raw, nil
	})
}

// InvalidateQuery drops the cached answer for an equivalent query, if
// any.
func (c *Core) InvalidateQuery(target string, params map[string]any) {
	c.cache.Remove(dedup.QueryKey("GET", target, params))
}

// SubmitContent runs sub through moderation and, when approved,
// announces the new content on the bus.
func (c *Core) SubmitContent(ctx context.Context, sub filter.Submission) (models.Verdict, error) {
	verdict, err := c.filter.EvaluateAndLog(ctx, sub)
	if err != nil {
		return verdict, err
	}
	if verdict.Status == models.VerdictApproved {
		c.Publish(models.TopicContentCreated, models.ContentPayload{
			ContentID: sub.ContentID,
			UserID:    sub.UserID,
		})
	}
	return verdict, nil
}

// Close tears the core down through the coordinator and reports the
// first cleanup failure, if any. Safe to call more than once.
func (c *Core) Close(ctx context.Context) error {
	results := c.coordinator.RunAll(ctx)
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("cleanup %s failed: %w", r.Name, r.Err)
		}
	}
	return nil
}

func stringifyParams(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
