// Package router schedules events onto the bus by priority and applies
// routing rules that rewrite an event's target before delivery.
//
// The router sits in front of the bus: producers that want priority
// scheduling or policy-based targeting call Route instead of publishing
// directly. Events wait in a bounded priority queue (critical first, FIFO
// within a priority) and are published by a worker loop under a concurrency
// cap.
package router

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/layer"
)

// Policy selects how a rule rewrites an event's target.
type Policy string

const (
	// PolicyBroadcast leaves the event untargeted.
	PolicyBroadcast Policy = "broadcast"

	// PolicyRoundRobin cycles the target through the registered layers,
	// with an independent counter per category.
	PolicyRoundRobin Policy = "round_robin"

	// PolicyLeastLoaded targets the healthy provider of the event's
	// required capability with the lowest load.
	PolicyLeastLoaded Policy = "least_loaded"

	// PolicyDirect targets the rule's fixed Target layer.
	PolicyDirect Policy = "direct"

	// PolicyCapability targets the best provider of the event's required
	// capability. Alias of least-loaded selection, kept separate so rules
	// read naturally.
	PolicyCapability Policy = "capability"
)

// Rule rewrites the target of matching events. Rules are applied in order;
// a later rule can overwrite the target set by an earlier one.
type Rule struct {
	Name        string              `json:"name" yaml:"name"`
	Categories  []eventbus.Category `json:"categories,omitempty" yaml:"categories,omitempty"` // empty = all
	Policy      Policy              `json:"policy" yaml:"policy"`
	Target      layer.ID            `json:"target,omitempty" yaml:"target,omitempty"` // direct policy only
	MinPriority eventbus.Priority   `json:"min_priority" yaml:"min_priority"`
	Enabled     bool                `json:"enabled" yaml:"enabled"`
}

const (
	DefaultMaxQueueSize  = 10000
	DefaultMaxConcurrent = 100
	DefaultEventTimeout  = 5 * time.Second
)

// Config tunes router capacities. The zero value selects the defaults.
type Config struct {
	MaxQueueSize  int           `json:"max_queue_size" yaml:"max_queue_size"`
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	EventTimeout  time.Duration `json:"event_timeout" yaml:"event_timeout"`
}

// Statistics aggregates router counters.
type Statistics struct {
	EventsRouted   uint64  `json:"events_routed"`
	EventsQueued   uint64  `json:"events_queued"`
	EventsDropped  uint64  `json:"events_dropped"`
	EventsTimedOut uint64  `json:"events_timed_out"`
	AvgQueueTimeMs float64 `json:"avg_queue_time_ms"`
	QueueDepth     int     `json:"queue_depth"`
}

// scheduledEvent is a queue entry. seq breaks priority ties so equal
// priorities dequeue in arrival order.
type scheduledEvent struct {
	event      eventbus.Event
	enqueuedAt time.Time
	seq        uint64
}

// eventHeap is a max-heap on priority, min on seq within a priority.
type eventHeap []scheduledEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Metadata.Priority != h[j].event.Metadata.Priority {
		return h[i].event.Metadata.Priority > h[j].event.Metadata.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(scheduledEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Router applies rules and feeds the bus from a priority queue.
type Router struct {
	cfg      Config
	bus      *eventbus.Bus
	registry *layer.Registry
	sem      *semaphore.Weighted

	mu    sync.Mutex
	queue eventHeap
	seq   uint64
	wake  chan struct{}

	rulesMu sync.RWMutex
	rules   []Rule

	rrMu       sync.Mutex
	rrCounters map[eventbus.Category]int

	statsMu sync.Mutex
	stats   Statistics

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a router in front of the given bus. The registry supplies
// providers for the capability and round-robin policies; it may be shared
// with other components.
func New(bus *eventbus.Bus, registry *layer.Registry, cfg Config) *Router {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	return &Router{
		cfg:        cfg,
		bus:        bus,
		registry:   registry,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:       make(chan struct{}, 1),
		rrCounters: make(map[eventbus.Category]int),
	}
}

// AddRule appends a routing rule.
func (r *Router) AddRule(rule Rule) {
	r.rulesMu.Lock()
	r.rules = append(r.rules, rule)
	r.rulesMu.Unlock()
}

// RemoveRule removes all rules with the given name. Unknown names are a
// no-op.
func (r *Router) RemoveRule(name string) {
	r.rulesMu.Lock()
	kept := r.rules[:0]
	for _, rule := range r.rules {
		if rule.Name != name {
			kept = append(kept, rule)
		}
	}
	r.rules = kept
	r.rulesMu.Unlock()
}

// SetRules replaces the whole rule list atomically. Used by config reload.
func (r *Router) SetRules(rules []Rule) {
	next := make([]Rule, len(rules))
	copy(next, rules)
	r.rulesMu.Lock()
	r.rules = next
	r.rulesMu.Unlock()
}

// Rules returns a snapshot of the current rule list.
func (r *Router) Rules() []Rule {
	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Start launches the worker loop. Starting a running router is a no-op.
func (r *Router) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop halts the worker loop and waits for it to exit. Queued events remain
// queued; in-flight publishes finish on their own timeout.
func (r *Router) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.runMu.Unlock()
	<-done
}

// Route applies the routing rules to the event and enqueues it. When the
// queue is full the event is dropped, counted, and reported as an error so
// producers can tell; Route never blocks on a full queue.
func (r *Router) Route(e eventbus.Event) error {
	e = r.applyRules(e)

	r.mu.Lock()
	if len(r.queue) >= r.cfg.MaxQueueSize {
		r.mu.Unlock()
		r.statsMu.Lock()
		r.stats.EventsDropped++
		r.statsMu.Unlock()
		return fmt.Errorf("router: queue full, dropped event %d", e.Metadata.ID)
	}
	r.seq++
	heap.Push(&r.queue, scheduledEvent{event: e, enqueuedAt: time.Now(), seq: r.seq})
	depth := len(r.queue)
	r.mu.Unlock()

	r.statsMu.Lock()
	r.stats.EventsQueued++
	r.stats.QueueDepth = depth
	r.statsMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueDepth returns the number of events waiting in the queue.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// ClearQueue discards all queued events.
func (r *Router) ClearQueue() {
	r.mu.Lock()
	r.queue = r.queue[:0]
	r.mu.Unlock()

	r.statsMu.Lock()
	r.stats.QueueDepth = 0
	r.statsMu.Unlock()
}

// Statistics returns a snapshot of the router counters with a fresh queue
// depth.
func (r *Router) Statistics() Statistics {
	r.mu.Lock()
	depth := len(r.queue)
	r.mu.Unlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	snap := r.stats
	snap.QueueDepth = depth
	return snap
}

func (r *Router) run(ctx context.Context) {
	defer close(r.done)
	for {
		r.mu.Lock()
		var next scheduledEvent
		ok := len(r.queue) > 0
		if ok {
			next = heap.Pop(&r.queue).(scheduledEvent)
		}
		r.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}

		r.recordQueueTime(time.Since(next.enqueuedAt))

		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(e eventbus.Event) {
			defer r.sem.Release(1)
			pubCtx, cancel := context.WithTimeout(ctx, r.cfg.EventTimeout)
			defer cancel()

			err := r.bus.Publish(pubCtx, e)
			r.statsMu.Lock()
			r.stats.EventsRouted++
			if err != nil && pubCtx.Err() != nil {
				r.stats.EventsTimedOut++
			}
			r.statsMu.Unlock()
			if err != nil {
				log.Printf("router: publish event %d: %v", e.Metadata.ID, err)
			}
		}(next.event)
	}
}

// recordQueueTime folds a queue-wait sample into the running mean, weighted
// by the number of events routed so far.
func (r *Router) recordQueueTime(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	r.statsMu.Lock()
	n := float64(r.stats.EventsRouted)
	r.stats.AvgQueueTimeMs = (r.stats.AvgQueueTimeMs*n + ms) / (n + 1)
	r.statsMu.Unlock()
}

// applyRules runs every enabled matching rule over the event, in order.
// Policies that need a provider leave the target unchanged when the registry
// has no candidate.
func (r *Router) applyRules(e eventbus.Event) eventbus.Event {
	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()

	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if len(rule.Categories) > 0 && !containsCategory(rule.Categories, e.Metadata.Category) {
			continue
		}
		if e.Metadata.Priority < rule.MinPriority {
			continue
		}

		switch rule.Policy {
		case PolicyBroadcast:
			// Untargeted is the default; nothing to rewrite.
		case PolicyDirect:
			e = e.WithTarget(rule.Target)
		case PolicyRoundRobin:
			if target, ok := r.nextRoundRobin(e.Metadata.Category); ok {
				e = e.WithTarget(target)
			}
		case PolicyLeastLoaded, PolicyCapability:
			if c := e.Metadata.RequiredCapability; c != "" {
				if target, ok := r.registry.BestProvider(c); ok {
					e = e.WithTarget(target)
				}
			}
		}
	}
	return e
}

// nextRoundRobin cycles through the registered layers, one counter per
// category.
func (r *Router) nextRoundRobin(c eventbus.Category) (layer.ID, bool) {
	layers := r.registry.Layers()
	if len(layers) == 0 {
		return "", false
	}

	r.rrMu.Lock()
	i := r.rrCounters[c]
	r.rrCounters[c] = i + 1
	r.rrMu.Unlock()

	return layers[i%len(layers)], true
}

func containsCategory(cats []eventbus.Category, c eventbus.Category) bool {
	for _, cat := range cats {
		if cat == c {
			return true
		}
	}
	return false
}
