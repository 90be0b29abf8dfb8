package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/lwt/encoding"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixPubLog    = "/publog/"    // /publog/{16-hex-digit seq}
	prefixPubCursor = "/pubcursor/" // /pubcursor/{sinkName}
	prefixPubSeq    = "/pubseq"     // /pubseq -> uint64 (last assigned sequence)
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // Cleanup every 128 sequences
)

var errLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed append-only log of commit events with one
// consumption cursor per sink
type PublishLog struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// NewPublishLog creates or opens the log under dataDir/publish_log
func NewPublishLog(dataDir string) (*PublishLog, error) {
	logPath := filepath.Join(dataDir, "publish_log")

	db, err := pebble.Open(logPath, &pebble.Options{
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		Logger:                      pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log at %s: %w", logPath, err)
	}

	pl := &PublishLog{
		db:      db,
		path:    logPath,
		cursors: make(map[string]uint64),
	}
	if err := pl.load(); err != nil {
		db.Close()
		return nil, err
	}
	return pl, nil
}

// load restores the last sequence number and every cursor
func (pl *PublishLog) load() error {
	seq, err := pl.getUint64([]byte(prefixPubSeq))
	if err != nil {
		return fmt.Errorf("failed to load sequence number: %w", err)
	}
	pl.lastSeq.Store(seq)

	prefix := []byte(prefixPubCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: invalid length %d", name, len(val))
		}
		pl.cursors[name] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to load cursors: %w", err)
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Uint64("last_seq", seq).Msg("Loaded publish log cursors")
	}
	return nil
}

func (pl *PublishLog) getUint64(key []byte) (uint64, error) {
	val, closer, err := pl.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d for %s", len(val), key)
	}
	return binary.LittleEndian.Uint64(val), nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Append assigns sequence numbers to events, in order, and stores them in
// one durable batch. SeqNum of every element is set.
func (pl *PublishLog) Append(events []CommitEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return errLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.lastSeq.Load()
	batch := pl.db.NewBatch()
	defer batch.Close()

	for i := range events {
		seq++
		events[i].SeqNum = seq
		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set(pubLogKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	if err := batch.Set([]byte(prefixPubSeq), encodeUint64(seq), nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	pl.lastSeq.Store(seq)
	return nil
}

// LastSeq is the sequence number of the newest event
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// ReadFrom returns up to limit events after cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]CommitEvent, error) {
	if pl.closed.Load() {
		return nil, errLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := pubLogKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixPubLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]CommitEvent, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var event CommitEvent
		if err := encoding.Unmarshal(val, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable commit event")
			continue
		}
		events = append(events, event)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetCursor returns the last sequence consumed by a sink, 0 for a new sink.
// From then on cleanup keeps every entry the sink has not consumed.
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, errLogClosed
	}
	pl.cursorsMu.Lock()
	defer pl.cursorsMu.Unlock()
	cursor, ok := pl.cursors[sinkName]
	if !ok {
		pl.cursors[sinkName] = 0
	}
	return cursor, nil
}

// AdvanceCursor records that a sink consumed every event up to seq. Every
// 128 sequences the entries below the slowest cursor are dropped.
func (pl *PublishLog) AdvanceCursor(sinkName string, seq uint64) error {
	if pl.closed.Load() {
		return errLogClosed
	}

	pl.cursorsMu.Lock()
	pl.cursors[sinkName] = seq
	pl.cursorsMu.Unlock()

	if err := pl.db.Set([]byte(prefixPubCursor+sinkName), encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}
	return nil
}

// cleanup deletes entries every sink has consumed
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()
	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range pl.cursors {
		minCursor = min(minCursor, c)
	}
	pl.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}
	// Entries up to and including minCursor are consumed
	if err := pl.db.DeleteRange([]byte(prefixPubLog), pubLogKey(minCursor+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up publish log")
		return
	}
	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up publish log")
}

// Close waits for cleanup and closes the database
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return errLogClosed
	}
	pl.cleanupWg.Wait()
	return pl.db.Close()
}

func pubLogKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixPubLog, seq))
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
	return nil
}

type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[publog] "+format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[publog] "+format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[publog] "+format, args...)
}
