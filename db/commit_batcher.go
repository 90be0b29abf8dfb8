package db

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

type pendingWrite struct {
	fn      func(*pebble.Batch) error
	promise *future.Promise[struct{}]
}

// CommitBatcher groups concurrent pebble writes into a single batch commit so
// that one WAL sync covers many acceptor updates. Each caller gets a future
// resolved with the commit result of the group its write landed in.
type CommitBatcher struct {
	db           *pebble.DB
	writeOpts    *pebble.WriteOptions
	maxBatchSize int
	maxWaitTime  time.Duration

	mu      sync.Mutex
	pending []*pendingWrite
	kick    chan struct{}

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewCommitBatcher creates a batcher; sync selects durable commits
func NewCommitBatcher(db *pebble.DB, maxBatchSize int, maxWaitTime time.Duration, sync bool) *CommitBatcher {
	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	if maxWaitTime <= 0 {
		maxWaitTime = time.Millisecond
	}
	return &CommitBatcher{
		db:           db,
		writeOpts:    opts,
		maxBatchSize: maxBatchSize,
		maxWaitTime:  maxWaitTime,
		pending:      make([]*pendingWrite, 0, maxBatchSize),
		kick:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the flush loop
func (cb *CommitBatcher) Start() {
	cb.wg.Add(1)
	go cb.flushLoop()
}

// Stop flushes what is pending and stops the loop
func (cb *CommitBatcher) Stop() {
	cb.mu.Lock()
	if !cb.stopped.CompareAndSwap(false, true) {
		cb.mu.Unlock()
		return
	}
	cb.mu.Unlock()
	close(cb.stopCh)
	cb.wg.Wait()
}

// Enqueue schedules fn to run against the next group batch
func (cb *CommitBatcher) Enqueue(fn func(*pebble.Batch) error) *future.Future[struct{}] {
	p := future.NewPromise[struct{}]()

	cb.mu.Lock()
	if cb.stopped.Load() {
		cb.mu.Unlock()
		p.Set(struct{}{}, ErrClosed)
		return p.Future()
	}
	cb.pending = append(cb.pending, &pendingWrite{fn: fn, promise: p})
	full := len(cb.pending) >= cb.maxBatchSize
	cb.mu.Unlock()

	if full {
		select {
		case cb.kick <- struct{}{}:
		default:
		}
	}
	return p.Future()
}

func (cb *CommitBatcher) flushLoop() {
	defer cb.wg.Done()

	ticker := time.NewTicker(cb.maxWaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.flush()
		case <-cb.kick:
			cb.flush()
		case <-cb.stopCh:
			cb.flush()
			return
		}
	}
}

func (cb *CommitBatcher) flush() {
	cb.mu.Lock()
	if len(cb.pending) == 0 {
		cb.mu.Unlock()
		return
	}
	group := cb.pending
	cb.pending = make([]*pendingWrite, 0, cb.maxBatchSize)
	cb.mu.Unlock()

	start := time.Now()
	batch := cb.db.NewBatch()
	defer batch.Close()

	// A write whose fn fails is rejected on its own; the rest of the group
	// still commits.
	applied := group[:0:0]
	for _, w := range group {
		if err := w.fn(batch); err != nil {
			w.promise.Set(struct{}{}, err)
			continue
		}
		applied = append(applied, w)
	}

	err := batch.Commit(cb.writeOpts)
	if err != nil {
		log.Error().Err(err).Int("writes", len(applied)).Msg("Group commit failed")
	}
	telemetry.StorageWriteSeconds.With("pebble").Observe(time.Since(start).Seconds())

	for _, w := range applied {
		w.promise.Set(struct{}{}, err)
	}
}
