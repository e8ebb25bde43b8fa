// Package shutdown coordinates application teardown. Consumers register
// named cleanup callbacks at a priority; RunAll executes every callback
// exactly once, high priority first, recording per-callback failure
// without aborting the rest. Once drained the coordinator stays drained:
// further registrations are rejected and further RunAll calls are no-ops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

var (
	ErrDrained      = errors.New("coordinator already drained")
	ErrNameTaken    = errors.New("cleanup name already registered")
	ErrNameNotFound = errors.New("cleanup name not registered")
	ErrEmptyName    = errors.New("cleanup name cannot be empty")
	ErrNilCleanup   = errors.New("cleanup function cannot be nil")
)

// CleanupFunc tears one component down. The context carries the overall
// teardown deadline.
type CleanupFunc func(ctx context.Context) error

// Unregister removes the registration that produced it. No-op after the
// coordinator drains or if called twice.
type Unregister func()

// Result records the outcome of one cleanup invocation.
type Result struct {
	Name     string
	Priority Priority
	Err      error
	Elapsed  time.Duration
}

type registration struct {
	name     string
	priority Priority
	order    int // registration sequence, stable within one priority
	fn       CleanupFunc
}

type Coordinator struct {
	logger *slog.Logger

	mu      sync.Mutex
	regs    map[string]*registration
	seq     int
	drained bool
}

func New(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger.WithGroup("shutdown"),
		regs:   make(map[string]*registration),
	}
}

// Register adds a named cleanup at the given priority. Registration after
// RunAll has drained the coordinator is rejected.
func (c *Coordinator) Register(name string, fn CleanupFunc, priority Priority) (Unregister, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if fn == nil {
		return nil, ErrNilCleanup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drained {
		c.logger.Warn("registration rejected, coordinator drained", "name", name)
		return nil, ErrDrained
	}
	if _, exists := c.regs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	c.seq++
	c.regs[name] = &registration{
		name:     name,
		priority: priority,
		order:    c.seq,
		fn:       fn,
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.regs, name)
		})
	}, nil
}

// RunAll executes every registered cleanup exactly once, ordered
// high -> medium -> low (registration order within a priority), then
// marks the coordinator permanently drained. A second call returns nil
// without running anything.
func (c *Coordinator) RunAll(ctx context.Context) []Result {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		c.logger.Debug("RunAll called on drained coordinator, nothing to do")
		return nil
	}
	c.drained = true

	ordered := make([]*registration, 0, len(c.regs))
	for _, r := range c.regs {
		ordered = append(ordered, r)
	}
	c.regs = make(map[string]*registration)
	c.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority < ordered[j].priority
		}
		return ordered[i].order < ordered[j].order
	})

	results := make([]Result, 0, len(ordered))
	for _, r := range ordered {
		results = append(results, c.invoke(ctx, r))
	}
	return results
}

// RunOne invokes a single named cleanup ad hoc, for diagnostics. The
// registration stays in place.
func (c *Coordinator) RunOne(ctx context.Context, name string) (Result, error) {
	c.mu.Lock()
	r, ok := c.regs[name]
	c.mu.Unlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	return c.invoke(ctx, r), nil
}

// ListRegistered returns the currently registered cleanup names in
// execution order.
func (c *Coordinator) ListRegistered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := make([]*registration, 0, len(c.regs))
	for _, r := range c.regs {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority < ordered[j].priority
		}
		return ordered[i].order < ordered[j].order
	})

	names := make([]string, 0, len(ordered))
	for _, r := range ordered {
		names = append(names, r.name)
	}
	return names
}

// Drained reports whether RunAll has already executed.
func (c *Coordinator) Drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drained
}

func (c *Coordinator) invoke(ctx context.Context, r *registration) Result {
	start := time.Now()
	res := Result{Name: r.name, Priority: r.priority}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				res.Err = fmt.Errorf("cleanup %s panicked: %v", r.name, rec)
			}
		}()
		res.Err = r.fn(ctx)
	}()

	res.Elapsed = time.Since(start)
	if res.Err != nil {
		c.logger.Error("cleanup failed", "name", r.name, "priority", r.priority.String(), "error", res.Err)
	} else {
		c.logger.Debug("cleanup completed", "name", r.name, "priority", r.priority.String(), "elapsed", res.Elapsed)
	}
	return res
}
