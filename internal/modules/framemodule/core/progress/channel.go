// Package progress delivers indexing progress to subscribers at a bounded
// rate. A Channel lives for exactly one indexing operation.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// DefaultInterval is the minimum spacing between two emissions
const DefaultInterval = 500 * time.Millisecond

// Observer receives progress updates
type Observer func(types.Progress)

// Stats reports channel activity
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Channel samples progress updates from an indexing run and forwards at most
// one per interval to its observers. The final update is always delivered.
type Channel struct {
	id       string
	interval time.Duration
	logger   hclog.Logger

	mu        sync.Mutex
	observers map[string]Observer
	pending   *types.Progress
	lastEmit  time.Time
	timer     *time.Timer
	closed    bool

	// emitMu orders deliveries; fields below are guarded by it
	emitMu      sync.Mutex
	lastCurrent int64
	finished    bool

	published uint64
	delivered uint64
	dropped   uint64
}

// NewChannel creates a channel for one indexing operation
func NewChannel(interval time.Duration, logger hclog.Logger) *Channel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	id := uuid.New().String()
	return &Channel{
		id:          id,
		interval:    interval,
		logger:      logger.Named("progress").With("operation_id", id),
		observers:   make(map[string]Observer),
		lastCurrent: -1,
	}
}

// ID returns the indexing operation id
func (c *Channel) ID() string {
	return c.id
}

// Subscribe registers an observer and returns its id and a cancel func
func (c *Channel) Subscribe(obs Observer) (string, func()) {
	id := uuid.New().String()

	c.mu.Lock()
	if !c.closed && obs != nil {
		c.observers[id] = obs
	}
	c.mu.Unlock()

	return id, func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Publish records a raw progress sample. It is emitted immediately if the
// interval since the previous emission has passed, otherwise it replaces any
// pending sample and is emitted at the end of the window.
func (c *Channel) Publish(current, total int64) {
	atomic.AddUint64(&c.published, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	p := types.Progress{OperationID: c.id, Current: current, Total: total}
	now := time.Now()
	since := now.Sub(c.lastEmit)
	if since >= c.interval {
		c.lastEmit = now
		c.pending = nil
		c.mu.Unlock()
		c.deliver(p, false)
		return
	}

	c.pending = &p
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval-since, c.flush)
	}
	c.mu.Unlock()
}

func (c *Channel) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.pending == nil {
		c.mu.Unlock()
		return
	}
	p := *c.pending
	c.pending = nil
	c.lastEmit = time.Now()
	c.mu.Unlock()

	c.deliver(p, false)
}

// Complete delivers {total, total}, closes the channel and drops every
// observer. Later Publish calls are ignored.
func (c *Channel) Complete(total int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if total <= 0 {
		total = 1
	}
	c.deliver(types.Progress{OperationID: c.id, Current: total, Total: total}, true)

	c.mu.Lock()
	c.observers = make(map[string]Observer)
	c.mu.Unlock()
}

// Abandon closes the channel without a final update, used when indexing fails
func (c *Channel) Abandon() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.observers = make(map[string]Observer)
	c.mu.Unlock()

	c.emitMu.Lock()
	c.finished = true
	c.emitMu.Unlock()
}

func (c *Channel) deliver(p types.Progress, final bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.finished || p.Current < c.lastCurrent {
		atomic.AddUint64(&c.dropped, 1)
		return
	}
	c.lastCurrent = p.Current
	if final {
		c.finished = true
	}

	c.mu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.mu.Unlock()

	for _, obs := range observers {
		obs(p)
	}
	atomic.AddUint64(&c.delivered, 1)
	c.logger.Trace("progress delivered", "current", p.Current, "total", p.Total, "final", final)
}

// Stats returns channel counters
func (c *Channel) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&c.published),
		Delivered: atomic.LoadUint64(&c.delivered),
		Dropped:   atomic.LoadUint64(&c.dropped),
	}
}
