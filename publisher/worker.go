package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures the delivery of the publish log to one sink
type WorkerConfig struct {
	Name            string      // Sink name, also the cursor name
	Log             *PublishLog // Publish log to read from
	Sink            Sink
	Filter          Filter
	TopicPrefix     string // Topic is {prefix}.{keyspace}.{table}
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
}

// Worker polls the PublishLog and delivers events to its sink in log order.
// Delivery is at least once: the cursor advances only after a publish.
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config and resumes from the sink's stored cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("publish log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier < 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	w := &Worker{config: config}
	w.cursor.Store(cursor)
	return w, nil
}

// Cursor is the sequence of the last event handled
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor.Load()).
		Msg("Starting commit feed worker")
	go w.pollLoop()
}

// Stop stops the worker and waits for its goroutine
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)
	log.Info().Str("worker", w.config.Name).Msg("Commit feed worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("cursor", w.cursor.Load()).
				Msg("Failed to read from publish log")
			w.sleep(w.config.PollInterval)
			continue
		}
		if len(events) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for i := range events {
			if err := w.processEvent(&events[i]); err != nil {
				// Only a stop interrupts delivery
				return
			}
			w.cursor.Store(events[i].SeqNum)
		}
	}
}

// processEvent publishes one event. A partition deletion is followed by a
// tombstone so compacted topics drop the key.
func (w *Worker) processEvent(event *CommitEvent) error {
	if w.config.Filter.Match(event.Keyspace, event.Table) {
		data, err := encoding.Marshal(event)
		if err != nil {
			log.Error().Err(err).Uint64("seq", event.SeqNum).Msg("Dropping unencodable commit event")
		} else {
			topic := w.buildTopic(event.Keyspace, event.Table)
			if err := w.publishWithRetry(topic, event.Key, data); err != nil {
				return err
			}
			if event.DeletesPartition() {
				if err := w.publishWithRetry(topic, event.Key, nil); err != nil {
					return err
				}
			}
		}
	}

	if err := w.config.Log.AdvanceCursor(w.config.Name, event.SeqNum); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", event.SeqNum).
			Msg("Failed to advance cursor, event may be redelivered")
	}
	return nil
}

func (w *Worker) buildTopic(keyspace, table string) string {
	if w.config.TopicPrefix == "" {
		return keyspace + "." + table
	}
	return w.config.TopicPrefix + "." + keyspace + "." + table
}

// publishWithRetry retries with exponential backoff until the sink accepts
// the message or the worker stops
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}
		telemetry.PublishFailuresTotal.With(w.config.Name).Inc()
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}
		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep returns false when the worker was stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
