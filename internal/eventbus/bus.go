// Package eventbus implements the inter-layer event broker: typed events
// fan out to subscribed layers under category, priority, and targeting
// filters, with bounded per-subscriber channels, a capped in-memory history,
// and running statistics.
//
// Delivery is best-effort, at-most-once per subscriber. A full or closed
// subscriber channel silently drops the event for that subscriber only; the
// statistics and history are the observability tools for diagnosing drops.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/strataos/strata/internal/layer"
)

const (
	// DefaultHistoryCapacity bounds the in-memory event history.
	DefaultHistoryCapacity = 1000

	// DefaultChannelBuffer is the per-subscription channel capacity.
	DefaultChannelBuffer = 100
)

// Config tunes bus capacities. The zero value selects the defaults.
type Config struct {
	HistoryCapacity int // max events retained in history (default 1000)
	ChannelBuffer   int // per-subscription channel capacity (default 100)
}

// subscription is a layer's delivery endpoint: filter criteria plus the
// sending side of its bounded channel.
type subscription struct {
	layer       layer.ID
	categories  []Category // empty = all categories
	minPriority Priority
	ch          chan Event
}

func (s *subscription) matches(e Event) bool {
	if !matchesFilter(e, s.categories, s.minPriority) {
		return false
	}
	if t := e.Metadata.Target; t != "" && t != s.layer {
		return false
	}
	return true
}

// Statistics aggregates counters across the bus lifetime. Updated exactly
// once per Publish call, even for events with zero matching subscribers.
type Statistics struct {
	TotalEvents      uint64            `json:"total_events"`
	EventsByPriority map[string]uint64 `json:"events_by_priority"`
	EventsByCategory map[string]uint64 `json:"events_by_category"`
	DroppedEvents    uint64            `json:"dropped_events"`
	AvgProcessingMs  float64           `json:"avg_processing_time_ms"`
}

// Bus is the central broker. It owns all subscriptions, handlers, history,
// and statistics; external code interacts only through the published API.
//
// Each collection has its own lock, and Publish acquires them one at a time
// in a fixed order (stats, history, subscriptions, handlers), releasing each
// before taking the next, so no lock is ever held while another is acquired.
type Bus struct {
	cfg Config

	subsMu sync.RWMutex
	subs   map[layer.ID]*subscription

	handlersMu sync.RWMutex
	handlers   []Handler

	historyMu sync.Mutex
	history   []Event

	statsMu sync.Mutex
	stats   Statistics
}

// New creates a bus with the given config; zero-value fields use defaults.
func New(cfg Config) *Bus {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultChannelBuffer
	}
	return &Bus{
		cfg:  cfg,
		subs: make(map[layer.ID]*subscription),
		stats: Statistics{
			EventsByPriority: make(map[string]uint64),
			EventsByCategory: make(map[string]uint64),
		},
	}
}

// Subscribe registers a delivery channel for the given layer and returns its
// receiving end. An empty categories slice subscribes to all categories.
//
// A second Subscribe for the same layer replaces the first: events published
// afterwards are delivered only on the new channel, and the old channel is
// orphaned (never closed, never fed again).
func (b *Bus) Subscribe(id layer.ID, categories []Category, minPriority Priority) <-chan Event {
	cats := make([]Category, len(categories))
	copy(cats, categories)

	sub := &subscription{
		layer:       id,
		categories:  cats,
		minPriority: minPriority,
		ch:          make(chan Event, b.cfg.ChannelBuffer),
	}

	b.subsMu.Lock()
	b.subs[id] = sub
	b.subsMu.Unlock()

	return sub.ch
}

// Unsubscribe removes the subscription for a layer. Idempotent: removing a
// layer with no active subscription is a no-op.
func (b *Bus) Unsubscribe(id layer.ID) {
	b.subsMu.Lock()
	delete(b.subs, id)
	b.subsMu.Unlock()
}

// RegisterHandler appends a handler to the invocation list. There is no
// unregister; handler registration is fire-and-forget for the process
// lifetime.
func (b *Bus) RegisterHandler(h Handler) {
	b.handlersMu.Lock()
	b.handlers = append(b.handlers, h)
	b.handlersMu.Unlock()
}

// Handlers returns the registered handlers (for introspection/status).
func (b *Bus) Handlers() []Handler {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// Publish runs the delivery pipeline, in this order: count the event in the
// statistics, append it to history (evicting the oldest entries past
// capacity), fan out a copy to every matching subscription with a
// non-blocking send, then invoke every interested handler sequentially.
//
// Publish never fails because of slow or absent subscribers; a full channel
// drops the event for that subscriber only and increments DroppedEvents.
// Handler errors are logged and do not abort the chain. The only error
// Publish returns is context cancellation between handler invocations.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	start := time.Now()

	// Step 1: statistics. Capture n for the running-mean update below so
	// concurrent publishes each fold in their own sample exactly once.
	b.statsMu.Lock()
	b.stats.TotalEvents++
	n := b.stats.TotalEvents
	b.stats.EventsByPriority[e.Metadata.Priority.String()]++
	b.stats.EventsByCategory[string(e.Metadata.Category)]++
	b.statsMu.Unlock()

	// Step 2: history, oldest evicted first.
	b.historyMu.Lock()
	b.history = append(b.history, e)
	if over := len(b.history) - b.cfg.HistoryCapacity; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
	b.historyMu.Unlock()

	// Step 3: fan out to a snapshot of the subscription set.
	b.subsMu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subsMu.RUnlock()

	var dropped uint64
	for _, sub := range subs {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Full channel: the event is lost for this subscriber only.
			dropped++
		}
	}
	if dropped > 0 {
		b.statsMu.Lock()
		b.stats.DroppedEvents += dropped
		b.statsMu.Unlock()
	}

	// Step 4: handlers, sequentially, on a snapshot of the handler list.
	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			b.recordProcessingTime(n, start)
			return fmt.Errorf("eventbus: publish cancelled: %w", err)
		}
		if !h.InterestedIn(e) {
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			log.Printf("eventbus: handler %q error for %s event %d: %v",
				h.ID(), e.Metadata.Category, e.Metadata.ID, err)
		}
	}

	// Step 5: fold the elapsed time into the lifetime running mean.
	b.recordProcessingTime(n, start)
	return nil
}

// recordProcessingTime updates the running mean with the sample for the
// n-th publish: new = (old*(n-1) + elapsed) / n.
func (b *Bus) recordProcessingTime(n uint64, start time.Time) {
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	b.statsMu.Lock()
	b.stats.AvgProcessingMs = (b.stats.AvgProcessingMs*float64(n-1) + elapsedMs) / float64(n)
	b.statsMu.Unlock()
}

// History returns past events from the capped buffer.
//
// With limit > 0 it returns at most limit of the most recent events, newest
// first (the recent-tail view). With limit <= 0 it returns the full buffer
// in chronological order, oldest first (the audit view). The asymmetry is
// deliberate: the two orderings serve different consumers.
func (b *Bus) History(limit int) []Event {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if limit <= 0 {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}

	if limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, 0, limit)
	for i := len(b.history) - 1; i >= len(b.history)-limit; i-- {
		out = append(out, b.history[i])
	}
	return out
}

// ClearHistory empties the history buffer. Statistics are unaffected.
func (b *Bus) ClearHistory() {
	b.historyMu.Lock()
	b.history = nil
	b.historyMu.Unlock()
}

// Statistics returns a snapshot of the aggregate counters.
func (b *Bus) Statistics() Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	snap := b.stats
	snap.EventsByPriority = make(map[string]uint64, len(b.stats.EventsByPriority))
	for k, v := range b.stats.EventsByPriority {
		snap.EventsByPriority[k] = v
	}
	snap.EventsByCategory = make(map[string]uint64, len(b.stats.EventsByCategory))
	for k, v := range b.stats.EventsByCategory {
		snap.EventsByCategory[k] = v
	}
	return snap
}
