package telemetry

import (
	"sync"
	"time"
)

// LagProvider reports how far each commit feed sink trails the publish log
type LagProvider interface {
	SinkLag() map[string]uint64
}

// QuorumProvider reports whether enough replicas are reachable to run rounds
type QuorumProvider interface {
	QuorumAvailable() bool
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	lag      LagProvider
	quorum   QuorumProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector; either provider may be nil
func NewMetricsCollector(lag LagProvider, quorum QuorumProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		lag:      lag,
		quorum:   quorum,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.lag != nil {
		for sink, lag := range mc.lag.SinkLag() {
			PublishLogLag.With(sink).Set(float64(lag))
		}
	}
	if mc.quorum != nil {
		if mc.quorum.QuorumAvailable() {
			ClusterQuorumAvailable.Set(1)
		} else {
			ClusterQuorumAvailable.Set(0)
		}
	}
}
