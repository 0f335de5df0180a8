// Package telemetry keeps local statistics about served requests: how
// often each command runs, how long requests take and which lookups found
// nothing. Nothing is reported anywhere; data stays in a local SQLite file.
package telemetry

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketP1    LatencyBucket = "p1"    // <1ms
	BucketP10   LatencyBucket = "p10"   // 1-10ms
	BucketP100  LatencyBucket = "p100"  // 10-100ms
	BucketP1000 LatencyBucket = "p1000" // 100ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Millisecond:
		return BucketP1
	case d < 10*time.Millisecond:
		return BucketP10
	case d < 100*time.Millisecond:
		return BucketP100
	case d < time.Second:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// Event describes one handled request.
type Event struct {
	// Command is the request type tag.
	Command string
	// Names are the class or package names looked up, if any.
	Names []string
	// Misses are the looked-up names that resolved to an empty list.
	Misses  []string
	Latency time.Duration
	Time    time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding up to capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		n := copy(out, b.items[b.head:])
		copy(out[n:], b.items[:b.head])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// NameCount is a looked-up name and how often it was requested.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collector's totals.
type Snapshot struct {
	CommandCounts map[string]int64        `json:"command_counts"`
	Latencies     map[LatencyBucket]int64 `json:"latencies"`
	TopNames      []NameCount             `json:"top_names"`
	RecentMisses  []string                `json:"recent_misses"`
	Total         int64                   `json:"total"`
	MissCount     int64                   `json:"miss_count"`
	Since         time.Time               `json:"since"`
}

// Sink persists collector deltas.
type Sink interface {
	SaveCommandCounts(date string, counts map[string]int64) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	UpsertNameCounts(counts map[string]int64) error
	AddMisses(names []string, at time.Time) error
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	TopNamesCapacity int           // default 100
	MissesCapacity   int           // default 100
	FlushInterval    time.Duration // 0 disables the background flush
}

// DefaultCollectorConfig returns the defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		TopNamesCapacity: 100,
		MissesCapacity:   100,
		FlushInterval:    time.Minute,
	}
}

// Collector aggregates events in memory and periodically flushes the
// increments since the last flush to a Sink. Safe for concurrent use. A
// nil *Collector ignores events.
type Collector struct {
	mu sync.Mutex

	commands  map[string]int64
	latencies map[LatencyBucket]int64
	names     *lru.Cache[string, int64]
	misses    *CircularBuffer[string]
	total     int64
	missCount int64
	since     time.Time

	// pending* hold what has not been flushed yet.
	pendingCommands  map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingNames     map[string]int64
	pendingMisses    []string

	sink   Sink
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// NewCollector creates a collector. sink may be nil for memory-only use.
func NewCollector(sink Sink, cfg CollectorConfig) *Collector {
	if cfg.TopNamesCapacity <= 0 {
		cfg.TopNamesCapacity = 100
	}
	if cfg.MissesCapacity <= 0 {
		cfg.MissesCapacity = 100
	}
	names, _ := lru.New[string, int64](cfg.TopNamesCapacity)

	c := &Collector{
		commands:         make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		names:            names,
		misses:           NewCircularBuffer[string](cfg.MissesCapacity),
		since:            time.Now(),
		pendingCommands:  make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingNames:     make(map[string]int64),
		sink:             sink,
		stopCh:           make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && sink != nil {
		c.ticker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.ticker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// Record adds one event.
func (c *Collector) Record(e Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.total++
	c.commands[e.Command]++
	c.pendingCommands[e.Command]++

	bucket := LatencyToBucket(e.Latency)
	c.latencies[bucket]++
	c.pendingLatencies[bucket]++

	for _, name := range e.Names {
		n, _ := c.names.Get(name)
		c.names.Add(name, n+1)
		c.pendingNames[name]++
	}
	for _, name := range e.Misses {
		c.misses.Add(name)
		c.missCount++
		c.pendingMisses = append(c.pendingMisses, name)
	}
}

// Snapshot returns the totals since the collector was created.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var top []NameCount
	for _, name := range c.names.Keys() {
		if n, ok := c.names.Peek(name); ok {
			top = append(top, NameCount{Name: name, Count: n})
		}
	}
	slices.SortFunc(top, func(a, b NameCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Name, b.Name)
	})

	return &Snapshot{
		CommandCounts: maps.Clone(c.commands),
		Latencies:     maps.Clone(c.latencies),
		TopNames:      top,
		RecentMisses:  c.misses.Items(),
		Total:         c.total,
		MissCount:     c.missCount,
		Since:         c.since,
	}
}

// Flush writes pending increments to the sink. On failure the increments
// are kept for the next attempt.
func (c *Collector) Flush() error {
	if c == nil || c.sink == nil {
		return nil
	}

	c.mu.Lock()
	commands, latencies, names, misses := c.pendingCommands, c.pendingLatencies, c.pendingNames, c.pendingMisses
	c.pendingCommands = make(map[string]int64)
	c.pendingLatencies = make(map[LatencyBucket]int64)
	c.pendingNames = make(map[string]int64)
	c.pendingMisses = nil
	c.mu.Unlock()

	if len(commands) == 0 && len(misses) == 0 {
		return nil
	}

	today := time.Now().Format(time.DateOnly)
	err := c.sink.SaveCommandCounts(today, commands)
	if err == nil {
		err = c.sink.SaveLatencyCounts(today, latencies)
	}
	if err == nil {
		err = c.sink.UpsertNameCounts(names)
	}
	if err == nil {
		err = c.sink.AddMisses(misses, time.Now())
	}
	if err != nil {
		c.restore(commands, latencies, names, misses)
		return err
	}
	return nil
}

// restore merges unflushed increments back into the pending set. A
// partially applied flush may count some increments twice.
func (c *Collector) restore(commands map[string]int64, latencies map[LatencyBucket]int64, names map[string]int64, misses []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range commands {
		c.pendingCommands[k] += v
	}
	for k, v := range latencies {
		c.pendingLatencies[k] += v
	}
	for k, v := range names {
		c.pendingNames[k] += v
	}
	c.pendingMisses = append(misses, c.pendingMisses...)
}

// Close stops the background flush and flushes once more.
func (c *Collector) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}
