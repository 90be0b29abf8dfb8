package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// CASBuckets for full conditional write rounds (four network round trips)
	CASBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// PhaseBuckets for a single Paxos phase
	PhaseBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// QuorumAckBuckets for number of quorum acknowledgments
	QuorumAckBuckets = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
)

// Coordinator metrics
var (
	// CASTotal counts conditional write attempts by outcome (applied, rejected, indeterminate, contention, failed)
	CASTotal CounterVec = noopCounterVec{}

	// CASDurationSeconds measures a full attempt by outcome
	CASDurationSeconds HistogramVec = noopHistogramVec{}

	// PaxosPhaseSeconds measures phase latency (prepare, read, propose, commit)
	PaxosPhaseSeconds HistogramVec = noopHistogramVec{}

	// PaxosQuorumAcks measures acknowledgments received per phase
	PaxosQuorumAcks HistogramVec = noopHistogramVec{}

	// PaxosContentionTotal counts rounds lost to a higher ballot by phase
	PaxosContentionTotal CounterVec = noopCounterVec{}

	// PaxosRepairsTotal counts commits re-sent to lagging replicas and in-progress proposals carried forward
	PaxosRepairsTotal CounterVec = noopCounterVec{}

	// CASRetriesTotal counts caller-side retries after prepare contention
	CASRetriesTotal Counter = NoopStat{}

	// ActiveCASRounds tracks rounds currently in flight on this coordinator
	ActiveCASRounds Gauge = NoopStat{}

	// ClusterQuorumAvailable indicates if quorum is achievable (1=yes, 0=no)
	ClusterQuorumAvailable Gauge = NoopStat{}
)

// Replica metrics
var (
	// ReplicaRequestsTotal counts acceptor requests by phase and result
	ReplicaRequestsTotal CounterVec = noopCounterVec{}

	// StorageWriteSeconds measures grouped store commits
	StorageWriteSeconds HistogramVec = noopHistogramVec{}
)

// Commit feed metrics
var (
	// PublishLogAppendsTotal counts committed proposals written to the publish log
	PublishLogAppendsTotal Counter = NoopStat{}

	// PublishLogLag tracks events each sink still has to deliver
	PublishLogLag GaugeVec = noopGaugeVec{}

	// PublishFailuresTotal counts failed sink publish attempts by sink
	PublishFailuresTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists.
func InitMetrics() {
	CASTotal = NewCounterVec(
		"cas_total",
		"Conditional write attempts by outcome",
		[]string{"outcome"},
	)
	CASDurationSeconds = NewHistogramVec(
		"cas_duration_seconds",
		"Conditional write duration in seconds",
		[]string{"outcome"},
		CASBuckets,
	)
	PaxosPhaseSeconds = NewHistogramVec(
		"paxos_phase_seconds",
		"Paxos phase duration in seconds",
		[]string{"phase"},
		PhaseBuckets,
	)
	PaxosQuorumAcks = NewHistogramVec(
		"paxos_quorum_acks",
		"Number of acknowledgments received per phase",
		[]string{"phase"},
		QuorumAckBuckets,
	)
	PaxosContentionTotal = NewCounterVec(
		"paxos_contention_total",
		"Rounds preempted by a higher ballot",
		[]string{"phase"},
	)
	PaxosRepairsTotal = NewCounterVec(
		"paxos_repairs_total",
		"Repairs performed during prepare",
		[]string{"kind"},
	)
	CASRetriesTotal = NewCounter(
		"cas_retries_total",
		"Conditional writes retried after prepare contention",
	)
	ActiveCASRounds = NewGauge(
		"active_cas_rounds",
		"Number of conditional write rounds in flight",
	)
	ClusterQuorumAvailable = NewGauge(
		"cluster_quorum_available",
		"Whether quorum is achievable (1=yes, 0=no)",
	)

	ReplicaRequestsTotal = NewCounterVec(
		"replica_requests_total",
		"Acceptor requests by phase and result",
		[]string{"phase", "result"},
	)
	StorageWriteSeconds = NewHistogramVec(
		"storage_write_seconds",
		"Grouped store commit duration in seconds",
		[]string{"engine"},
		PhaseBuckets,
	)

	PublishLogAppendsTotal = NewCounter(
		"publish_log_appends_total",
		"Committed proposals appended to the publish log",
	)
	PublishLogLag = NewGaugeVec(
		"publish_log_lag",
		"Events not yet delivered per sink",
		[]string{"sink"},
	)
	PublishFailuresTotal = NewCounterVec(
		"publish_failures_total",
		"Failed publish attempts per sink",
		[]string{"sink"},
	)
}
