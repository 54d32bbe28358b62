// Package clickmanager buffers per-code redirect counts in memory and
// periodically flushes them to a Sink, so the redirect path never blocks
// on storage I/O for a click increment.
package clickmanager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives a batch of additive click deltas. Implementations (the
// storage façade, or a WAL spillover) must treat each update as "add Delta
// to whatever is currently stored for Code".
type Sink interface {
	FlushClicks(ctx context.Context, updates []Update) error
}

// Update is one (code, delta) pair handed to the Sink.
type Update struct {
	Code  string
	Delta int64
}

// Config controls the background flush cadence and opportunistic
// threshold trigger.
type Config struct {
	FlushInterval         time.Duration
	MaxEntriesBeforeFlush int
}

// Manager is the click buffer and flush coordinator.
type Manager struct {
	sink   Sink
	logger *slog.Logger
	cfg    Config

	buffer   sync.Map // code -> *atomic.Int64
	size     atomic.Int64
	flushing sync.Mutex

	consecutiveFailures atomic.Int32

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager. Call Run to start its background flush loop.
func New(sink Sink, logger *slog.Logger, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.MaxEntriesBeforeFlush <= 0 {
		cfg.MaxEntriesBeforeFlush = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Increment adds 1 to code's in-memory count. Non-blocking, safe for many
// concurrent callers; completes in bounded time independent of buffer size.
func (m *Manager) Increment(code string) {
	v, loaded := m.buffer.Load(code)
	if !loaded {
		counter := &atomic.Int64{}
		actual, existed := m.buffer.LoadOrStore(code, counter)
		if !existed {
			m.size.Add(1)
		}
		v = actual
	}
	v.(*atomic.Int64).Add(1)

	if int(m.size.Load()) > m.cfg.MaxEntriesBeforeFlush {
		go m.tryFlush(context.Background())
	}
}

// Run starts the background flush timer. Blocks until Stop is called.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tryFlush(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the background loop. Registered with the server's shutdown
// hooks ahead of a final explicit Flush.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// tryFlush attempts a single-flight, non-blocking flush: used by both the
// timer and the threshold trigger. If a flush is already in progress, the
// trigger is dropped, not queued.
func (m *Manager) tryFlush(ctx context.Context) {
	if !m.flushing.TryLock() {
		return
	}
	defer m.flushing.Unlock()
	m.doFlush(ctx)
}

// Flush performs an explicit, blocking flush: waits for any in-progress
// flush to finish, then runs its own. Used at shutdown to drain the buffer.
func (m *Manager) Flush(ctx context.Context) {
	m.flushing.Lock()
	defer m.flushing.Unlock()
	m.doFlush(ctx)
}

// doFlush must be called with m.flushing held.
func (m *Manager) doFlush(ctx context.Context) {
	snapshot := m.drain()
	if len(snapshot) == 0 {
		return
	}

	updates := make([]Update, 0, len(snapshot))
	for code, count := range snapshot {
		updates = append(updates, Update{Code: code, Delta: count})
	}

	if err := m.sink.FlushClicks(ctx, updates); err != nil {
		failures := m.consecutiveFailures.Add(1)
		if failures >= 2 {
			m.logger.Error("click flush failed twice in a row, dropping batch to bound memory",
				"error", err, "dropped_codes", len(snapshot))
			m.consecutiveFailures.Store(0)
			return
		}
		m.logger.Warn("click flush failed, re-merging into buffer", "error", err, "codes", len(snapshot))
		m.remerge(snapshot)
		return
	}
	m.consecutiveFailures.Store(0)
}

// drain atomically snapshots the buffer and clears it. Increments that
// arrive during the sink call accumulate into the post-drain buffer, not
// the snapshot just taken.
func (m *Manager) drain() map[string]int64 {
	snapshot := make(map[string]int64)
	m.buffer.Range(func(key, value any) bool {
		code := key.(string)
		counter := value.(*atomic.Int64)
		snapshot[code] = counter.Load()
		m.buffer.Delete(code)
		m.size.Add(-1)
		return true
	})
	return snapshot
}

// remerge adds each (code, count) from a failed flush back into the
// buffer, additively, so it is not lost and does not clobber increments
// that arrived while the flush was in flight.
func (m *Manager) remerge(snapshot map[string]int64) {
	for code, count := range snapshot {
		v, loaded := m.buffer.Load(code)
		if !loaded {
			counter := &atomic.Int64{}
			actual, existed := m.buffer.LoadOrStore(code, counter)
			if !existed {
				m.size.Add(1)
			}
			v = actual
		}
		v.(*atomic.Int64).Add(count)
	}
}
