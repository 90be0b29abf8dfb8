package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the commit feed of one node
type RegistryConfig struct {
	DataDir     string // The publish log lives in DataDir/publish_log
	NodeID      uint64
	SinkConfigs []cfg.SinkConfiguration
}

// Registry owns the publish log and one worker per configured sink. Its
// Record method is the coordinator's commit listener, so each node publishes
// the commits it coordinated.
type Registry struct {
	log     *PublishLog
	nodeID  uint64
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry opens the publish log and creates the sink workers
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	pubLog, err := NewPublishLog(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	r := &Registry{
		log:     pubLog,
		nodeID:  config.NodeID,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}
	for _, sinkCfg := range config.SinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			r.closeSinks()
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(r.workers)).Msg("Commit feed initialized")
	return r, nil
}

// AddSink creates a worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	return r.addWorker(config, snk)
}

func (r *Registry) addWorker(config cfg.SinkConfiguration, snk Sink) error {
	filter, err := NewGlobFilter(config.FilterTables, config.FilterKeyspaces)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.mu.Lock()
	r.workers = append(r.workers, worker)
	running := r.running.Load()
	r.mu.Unlock()
	if running {
		worker.Start()
	}

	log.Info().Str("sink", config.Name).Str("type", config.Type).Msg("Added commit feed sink")
	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("registry already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	return nil
}

// Stop stops all workers, closes their sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running.Swap(false) {
		return
	}

	for _, w := range r.workers {
		w.Stop()
	}
	r.closeSinks()
	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
	log.Info().Msg("Commit feed stopped")
}

func (r *Registry) closeSinks() {
	for _, w := range r.workers {
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
}

// Record appends a committed proposal to the publish log. A failure is
// logged; the commit itself already happened.
func (r *Registry) Record(key paxos.Key, proposal *paxos.Proposal) {
	event, err := NewCommitEvent(key, proposal, r.nodeID)
	if err == nil {
		err = r.log.Append([]CommitEvent{event})
	}
	if err != nil {
		log.Error().Err(err).Stringer("partition", key).Msg("Failed to record commit in publish log")
		return
	}
	telemetry.PublishLogAppendsTotal.Inc()
}

// SinkLag reports the events each sink has yet to handle
func (r *Registry) SinkLag() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.log.LastSeq()
	out := make(map[string]uint64, len(r.workers))
	for _, w := range r.workers {
		if c := w.Cursor(); c < last {
			out[w.config.Name] = last - c
		} else {
			out[w.config.Name] = 0
		}
	}
	return out
}

// SinkFactory creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a sink type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}
