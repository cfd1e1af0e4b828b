package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forge3d/forge3d/pkg/types"
)

// Category is the closed set of event streams the hub maintains.
type Category string

const (
	// CategoryLLM is retained as an opaque stream for the surrounding
	// assistant; the orchestrator itself never publishes to it.
	CategoryLLM       Category = "llm"
	CategoryOps       Category = "operations"
	CategoryScheduler Category = "scheduler"
	CategoryBridge    Category = "bridge"

	// CategoryAll is a subscription target only: the firehose.
	CategoryAll Category = "all"
)

// categories enumerates the real (publishable) streams.
var categories = []Category{CategoryLLM, CategoryOps, CategoryScheduler, CategoryBridge}

// Event is one telemetry record.
type Event struct {
	ID        string            `json:"id"`
	Category  Category          `json:"category"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`

	// Duration, when positive, is also recorded as a latency sample for
	// the event's category.
	Duration time.Duration `json:"durationMs,omitempty"`
}

// Percentiles is a latency summary over a category's sliding window.
type Percentiles struct {
	P50 time.Duration `json:"p50Ms"`
	P95 time.Duration `json:"p95Ms"`
	P99 time.Duration `json:"p99Ms"`
}

// Subscription is one consumer's bounded view of the hub. Slow consumers
// lose events rather than blocking emitters; every loss is counted.
type Subscription struct {
	C        <-chan Event
	ch       chan Event
	category Category
	dropped  atomic.Uint64
}

// Dropped returns how many events this subscriber has lost to backpressure.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// subscriberBuffer bounds each subscription channel.
const subscriberBuffer = 64

// Hub is the in-process event bus: per-category ring buffers, aggregate
// counters, sliding latency windows, and subscriber fan-out.
type Hub struct {
	mu            sync.RWMutex
	ringSize      int
	latencyWindow int
	rings         map[Category][]Event
	counters      map[string]uint64
	latencies     map[Category][]time.Duration
	subs          map[*Subscription]struct{}
	totalDropped  atomic.Uint64
}

// NewHub creates a hub with the given ring and latency window capacities.
func NewHub(ringSize, latencyWindow int) *Hub {
	if ringSize <= 0 {
		ringSize = 100
	}
	if latencyWindow <= 0 {
		latencyWindow = 1000
	}
	h := &Hub{
		ringSize:      ringSize,
		latencyWindow: latencyWindow,
		rings:         make(map[Category][]Event, len(categories)),
		counters:      make(map[string]uint64),
		latencies:     make(map[Category][]time.Duration, len(categories)),
		subs:          make(map[*Subscription]struct{}),
	}
	for _, c := range categories {
		h.rings[c] = nil
		h.latencies[c] = nil
	}
	return h
}

// Publish records an event and fans it out. Never blocks: subscribers at
// capacity drop the event and the drop is counted on both sides.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = types.NewID()
	}

	h.mu.Lock()
	ring := append(h.rings[ev.Category], ev)
	if len(ring) > h.ringSize {
		ring = ring[len(ring)-h.ringSize:]
	}
	h.rings[ev.Category] = ring

	h.counters[ev.Type]++

	if ev.Duration > 0 {
		window := append(h.latencies[ev.Category], ev.Duration)
		if len(window) > h.latencyWindow {
			window = window[len(window)-h.latencyWindow:]
		}
		h.latencies[ev.Category] = window
	}

	for sub := range h.subs {
		if sub.category != CategoryAll && sub.category != ev.Category {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			h.totalDropped.Add(1)
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a consumer for one category, or the firehose with
// CategoryAll.
func (h *Hub) Subscribe(cat Category) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, category: cat}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Recent returns a copy of a category's ring buffer, oldest first.
func (h *Hub) Recent(cat Category) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ring := h.rings[cat]
	out := make([]Event, len(ring))
	copy(out, ring)
	return out
}

// Counters returns a copy of the aggregate per-type counters.
func (h *Hub) Counters() map[string]uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]uint64, len(h.counters))
	for k, v := range h.counters {
		out[k] = v
	}
	return out
}

// TotalDropped returns the total events lost to subscriber backpressure.
func (h *Hub) TotalDropped() uint64 {
	return h.totalDropped.Load()
}

// LatencyPercentiles computes p50/p95/p99 over a category's sliding
// window: for a sorted window w of n samples, p_k = w[ceil(n*k/100) - 1].
// An empty window yields zeros.
func (h *Hub) LatencyPercentiles(cat Category) Percentiles {
	h.mu.RLock()
	window := h.latencies[cat]
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	h.mu.RUnlock()

	return computePercentiles(sorted)
}

func computePercentiles(window []time.Duration) Percentiles {
	n := len(window)
	if n == 0 {
		return Percentiles{}
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return Percentiles{
		P50: window[percentileIndex(n, 50)],
		P95: window[percentileIndex(n, 95)],
		P99: window[percentileIndex(n, 99)],
	}
}

// percentileIndex returns ceil(n*k/100) - 1, clamped to [0, n-1].
func percentileIndex(n, k int) int {
	idx := (n*k + 99) / 100
	if idx < 1 {
		idx = 1
	}
	if idx > n {
		idx = n
	}
	return idx - 1
}
