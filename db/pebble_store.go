package db

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble
const (
	prefixData  = "/data/"  // /data/{table}\x00{msgpack partition key}
	prefixPaxos = "/paxos/" // /paxos/{table}\x00{msgpack partition key}
)

// PebbleStoreOptions configures Pebble
type PebbleStoreOptions struct {
	CacheSizeMB        int64         // Block cache size (default: 64MB)
	MemTableSizeMB     int64         // Write buffer size (default: 32MB)
	Sync               bool          // fsync every group commit
	BatchMaxSize       int           // Writes per group commit
	BatchMaxWait       time.Duration // Max time a write waits for its group
	WALMinSyncInterval time.Duration
	DisableWAL         bool // Only for testing!
}

// DefaultPebbleStoreOptions returns options suitable for tests and small nodes
func DefaultPebbleStoreOptions() PebbleStoreOptions {
	return PebbleStoreOptions{
		CacheSizeMB:    64,
		MemTableSizeMB: 32,
		Sync:           true,
		BatchMaxSize:   100,
		BatchMaxWait:   2 * time.Millisecond,
	}
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// PebbleStore implements Store on a Pebble database
type PebbleStore struct {
	db      *pebble.DB
	path    string
	batcher *CommitBatcher
	closed  atomic.Bool
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) a store at path
func NewPebbleStore(path string, opts PebbleStoreOptions) (*PebbleStore, error) {
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = 64
	}
	if opts.MemTableSizeMB <= 0 {
		opts.MemTableSizeMB = 32
	}

	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref() // DB will hold reference

	pebbleOpts := &pebble.Options{
		Cache:        cache,
		MemTableSize: uint64(opts.MemTableSizeMB << 20),
		DisableWAL:   opts.DisableWAL,
		Logger:       &pebbleLogger{},
	}
	if opts.WALMinSyncInterval > 0 {
		interval := opts.WALMinSyncInterval
		pebbleOpts.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	s := &PebbleStore{
		db:      db,
		path:    path,
		batcher: NewCommitBatcher(db, opts.BatchMaxSize, opts.BatchMaxWait, opts.Sync),
	}
	s.batcher.Start()

	log.Info().Str("path", path).Msg("Opened pebble replica store")
	return s, nil
}

func dataKey(key []byte) []byte {
	return append([]byte(prefixData), key...)
}

func paxosKey(key []byte) []byte {
	return append([]byte(prefixPaxos), key...)
}

func (s *PebbleStore) get(k []byte, v interface{}) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	val, closer, err := s.db.Get(k)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := encoding.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", k, err)
	}
	return true, nil
}

// ReadState returns the acceptor record, an empty one when none is stored
func (s *PebbleStore) ReadState(key []byte) (*paxos.State, error) {
	state := &paxos.State{}
	if _, err := s.get(paxosKey(key), state); err != nil {
		return nil, err
	}
	return state, nil
}

// ReadPartition returns the committed partition, nil when none is stored
func (s *PebbleStore) ReadPartition(key []byte) (*row.Partition, error) {
	p := &row.Partition{}
	found, err := s.get(dataKey(key), p)
	if err != nil || !found {
		return nil, err
	}
	return p, nil
}

// Write persists the non-nil parts of w in one group commit
func (s *PebbleStore) Write(key []byte, w Write) error {
	if s.closed.Load() {
		return ErrClosed
	}

	var stateVal, dataVal []byte
	var err error
	if w.State != nil {
		if stateVal, err = encoding.Marshal(w.State); err != nil {
			return fmt.Errorf("failed to encode paxos state: %w", err)
		}
	}
	if w.Data != nil {
		if dataVal, err = encoding.Marshal(w.Data); err != nil {
			return fmt.Errorf("failed to encode partition: %w", err)
		}
	}

	fut := s.batcher.Enqueue(func(b *pebble.Batch) error {
		if stateVal != nil {
			if err := b.Set(paxosKey(key), stateVal, nil); err != nil {
				return err
			}
		}
		if dataVal != nil {
			return b.Set(dataKey(key), dataVal, nil)
		}
		return nil
	})
	_, err = fut.Get()
	return err
}

// RangeStates iterates acceptor records in key order
func (s *PebbleStore) RangeStates(fn func(key []byte, state *paxos.State) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	prefix := []byte(prefixPaxos)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		var state paxos.State
		if err := encoding.Unmarshal(val, &state); err != nil {
			log.Warn().Err(err).Bytes("key", iter.Key()).Msg("Skipping undecodable paxos state")
			continue
		}
		key := append([]byte(nil), iter.Key()[len(prefix):]...)
		if !fn(key, &state) {
			break
		}
	}
	return iter.Error()
}

// Close closes the Pebble DB (idempotent - safe to call multiple times)
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.batcher.Stop()
	return s.db.Close()
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
