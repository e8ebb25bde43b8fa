// Package bus provides the in-process publish/subscribe event
// distribution for the coherent core. Fan-out is synchronous over a
// snapshot of the subscribers registered at emission time, so handlers
// that subscribe or unsubscribe mid-emission never affect the current
// round. A per-topic emission guard drops re-entrant emissions instead of
// recursing, and a hard ceiling bounds the number of distinct topics that
// can be mid-emission at once.
package bus

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrestLabs/coherent/models"
	"github.com/google/uuid"
)

const (
	DefaultDebounceDelay     = 300 * time.Millisecond
	DefaultMaxInFlightTopics = 10
)

// Handler receives events for a topic. Handlers run on the emitter's
// goroutine; a panicking handler is isolated and logged, it never stops
// the remaining handlers of the same emission.
type Handler func(event models.Event)

// Unsubscribe removes exactly the subscription that produced it. Safe to
// call more than once; calls after the first are no-ops.
type Unsubscribe func()

type Config struct {
	Logger            *slog.Logger
	DebounceDelay     time.Duration // zero means DefaultDebounceDelay
	MaxInFlightTopics int           // zero means DefaultMaxInFlightTopics
}

// Diagnostics is a read-only snapshot of the bus guard counters.
type Diagnostics struct {
	LoopDrops     uint64
	CeilingDrops  uint64
	HandlerPanics uint64
}

type subscription struct {
	id      string
	handler Handler
}

type pendingDebounce struct {
	timer *time.Timer
}

type EventBus struct {
	logger        *slog.Logger
	debounceDelay time.Duration
	ceiling       int

	mu       sync.Mutex
	subs     map[models.Topic][]*subscription
	emitting map[models.Topic]struct{}
	pending  map[models.Topic]*pendingDebounce

	loopDrops     atomic.Uint64
	ceilingDrops  atomic.Uint64
	handlerPanics atomic.Uint64
}

func New(cfg Config) *EventBus {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.MaxInFlightTopics <= 0 {
		cfg.MaxInFlightTopics = DefaultMaxInFlightTopics
	}
	return &EventBus{
		logger:        cfg.Logger.WithGroup("event_bus"),
		debounceDelay: cfg.DebounceDelay,
		ceiling:       cfg.MaxInFlightTopics,
		subs:          make(map[models.Topic][]*subscription),
		emitting:      make(map[models.Topic]struct{}),
		pending:       make(map[models.Topic]*pendingDebounce),
	}
}

// Subscribe registers handler for topic and returns the capability that
// removes it. When the last subscriber of a topic leaves, the topic entry
// is dropped and any pending debounced emission for it is cancelled.
func (b *EventBus) Subscribe(topic models.Topic, handler Handler) Unsubscribe {
	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			b.subs[topic] = slices.DeleteFunc(b.subs[topic], func(s *subscription) bool {
				return s.id == sub.id
			})
			if len(b.subs[topic]) == 0 {
				b.dropTopicLocked(topic)
			}
		})
	}
}

// Emit delivers payload to every handler subscribed to topic at call
// time. Delivery is synchronous with respect to the caller.
func (b *EventBus) Emit(topic models.Topic, payload any) {
	b.mu.Lock()
	if !b.beginEmissionLocked(topic) {
		b.mu.Unlock()
		return
	}
	snapshot := slices.Clone(b.subs[topic])
	b.mu.Unlock()

	event := models.NewEvent(topic, payload)
	for _, sub := range snapshot {
		b.dispatch(sub, event)
	}

	b.mu.Lock()
	delete(b.emitting, topic)
	b.mu.Unlock()
}

// EmitDebounced schedules an emission after the bus default delay,
// replacing any pending debounced emission for the same topic
// (trailing-edge coalescing: the last payload wins, the timer resets).
func (b *EventBus) EmitDebounced(topic models.Topic, payload any) {
	b.EmitDebouncedAfter(topic, payload, b.debounceDelay)
}

// EmitDebouncedAfter is EmitDebounced with an explicit delay.
func (b *EventBus) EmitDebouncedAfter(topic models.Topic, payload any, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, busy := b.emitting[topic]; busy {
		b.loopDrops.Add(1)
		b.logger.Warn("debounced emission dropped, topic is mid-emission", "topic", topic)
		return
	}

	if prev, ok := b.pending[topic]; ok {
		prev.timer.Stop()
	}
	p := &pendingDebounce{}
	p.timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		// A replaced timer can fire while blocked on the lock; only the
		// entry still registered for the topic may emit.
		if b.pending[topic] != p {
			b.mu.Unlock()
			return
		}
		delete(b.pending, topic)
		b.mu.Unlock()
		b.Emit(topic, payload)
	})
	b.pending[topic] = p
}

// UnsubscribeAll removes every handler for topic and cancels its pending
// debounced emission.
func (b *EventBus) UnsubscribeAll(topic models.Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropTopicLocked(topic)
}

// Reset removes every handler and cancels every pending debounced
// emission across all topics. The bus remains usable afterwards.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic := range b.subs {
		delete(b.subs, topic)
	}
	for topic, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, topic)
	}
	b.logger.Debug("event bus reset")
}

// Diagnostics returns the guard counters accumulated since construction.
func (b *EventBus) Diagnostics() Diagnostics {
	return Diagnostics{
		LoopDrops:     b.loopDrops.Load(),
		CeilingDrops:  b.ceilingDrops.Load(),
		HandlerPanics: b.handlerPanics.Load(),
	}
}

// SubscriberCount reports the number of handlers currently registered for
// topic.
func (b *EventBus) SubscriberCount(topic models.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *EventBus) dropTopicLocked(topic models.Topic) {
	delete(b.subs, topic)
	if p, ok := b.pending[topic]; ok {
		p.timer.Stop()
		delete(b.pending, topic)
	}
}

// beginEmissionLocked applies the re-entrancy and ceiling guards. It
// returns false if the emission must be dropped.
func (b *EventBus) beginEmissionLocked(topic models.Topic) bool {
	if _, busy := b.emitting[topic]; busy {
		b.loopDrops.Add(1)
		b.logger.Warn("emission dropped, topic is already mid-emission", "topic", topic)
		return false
	}
	if len(b.emitting) >= b.ceiling {
		b.ceilingDrops.Add(1)
		b.logger.Warn("emission dropped, too many topics in flight", "topic", topic, "in_flight", len(b.emitting))
		return false
	}
	b.emitting[topic] = struct{}{}
	return true
}

func (b *EventBus) dispatch(sub *subscription, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.logger.Error("event handler panicked", "topic", event.Topic, "subscription", sub.id, "panic", r)
		}
	}()
	sub.handler(event)
}
