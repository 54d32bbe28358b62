package clickmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]Update
	failNext int32
}

func (f *fakeSink) FlushClicks(ctx context.Context, updates []Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if atomic.CompareAndSwapInt32(&f.failNext, 1, 0) {
		return errors.New("sink unavailable")
	}
	cp := make([]Update, len(updates))
	copy(cp, updates)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) totalFor(code string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, batch := range f.batches {
		for _, u := range batch {
			if u.Code == code {
				total += u.Delta
			}
		}
	}
	return total
}

func TestManager_IncrementThenFlushDeliversCount(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour, MaxEntriesBeforeFlush: 1000})

	for i := 0; i < 5; i++ {
		m.Increment("abc")
	}
	m.Flush(context.Background())

	if got := sink.totalFor("abc"); got != 5 {
		t.Fatalf("expected 5 clicks delivered, got %d", got)
	}
}

func TestManager_FlushOfEmptyBufferIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour})
	m.Flush(context.Background())

	if len(sink.batches) != 0 {
		t.Fatalf("expected no batches for an empty buffer, got %d", len(sink.batches))
	}
}

func TestManager_FailedFlushReMergesAdditively(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour})

	m.Increment("abc")
	m.Increment("abc")

	atomic.StoreInt32(&sink.failNext, 1)
	m.Flush(context.Background())
	if len(sink.batches) != 0 {
		t.Fatalf("expected failed flush to deliver no batch, got %d", len(sink.batches))
	}

	// more increments arrive after the failed flush before the retry
	m.Increment("abc")

	m.Flush(context.Background())
	if got := sink.totalFor("abc"); got != 3 {
		t.Fatalf("expected re-merged count of 3 (2 re-merged + 1 new), got %d", got)
	}
}

func TestManager_SecondConsecutiveFailureDropsBatch(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour})

	m.Increment("abc")

	atomic.StoreInt32(&sink.failNext, 1)
	m.Flush(context.Background())

	atomic.StoreInt32(&sink.failNext, 1)
	m.Flush(context.Background())

	// Buffer should now be empty: the second consecutive failure dropped
	// the batch rather than re-merging it again.
	m.Increment("def")
	m.Flush(context.Background())

	if got := sink.totalFor("abc"); got != 0 {
		t.Fatalf("expected dropped batch for abc, got %d", got)
	}
	if got := sink.totalFor("def"); got != 1 {
		t.Fatalf("expected def's independent count to survive, got %d", got)
	}
}

func TestManager_TryFlushDropsWhenAlreadyFlushing(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour})
	m.Increment("abc")

	m.flushing.Lock()
	defer m.flushing.Unlock()

	// tryFlush must not block or queue; it should return immediately since
	// the lock is already held.
	done := make(chan struct{})
	go func() {
		m.tryFlush(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tryFlush blocked instead of dropping the trigger")
	}
}

func TestManager_ConcurrentIncrements(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Increment("hot-code")
		}()
	}
	wg.Wait()
	m.Flush(context.Background())

	if got := sink.totalFor("hot-code"); got != 100 {
		t.Fatalf("expected 100 concurrent increments counted, got %d", got)
	}
}

func TestManager_RunStopsOnStop(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, nil, Config{FlushInterval: time.Millisecond})

	go m.Run(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()
}
