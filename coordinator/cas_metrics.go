package coordinator

import (
	"errors"
	"time"

	"github.com/maxpert/lwt/telemetry"
)

// CASMetrics records the telemetry of one conditional write round: phase
// latencies, quorum sizes and the final outcome.
type CASMetrics struct {
	startTime time.Time
}

// NewCASMetrics starts timing a round
func NewCASMetrics() *CASMetrics {
	telemetry.ActiveCASRounds.Inc()
	return &CASMetrics{startTime: time.Now()}
}

// RecordPhase records the duration of a phase and the acks it collected
func (m *CASMetrics) RecordPhase(phase string, duration time.Duration, acks int) {
	telemetry.PaxosPhaseSeconds.With(phase).Observe(duration.Seconds())
	telemetry.PaxosQuorumAcks.With(phase).Observe(float64(acks))
}

// RecordOutcome closes the round and passes its result through
func (m *CASMetrics) RecordOutcome(outcome Outcome, err error) (Outcome, error) {
	telemetry.ActiveCASRounds.Dec()
	telemetry.CASTotal.With(outcome.String()).Inc()
	telemetry.CASDurationSeconds.With(outcome.String()).Observe(time.Since(m.startTime).Seconds())
	var ce *ContentionError
	if errors.As(err, &ce) {
		telemetry.PaxosContentionTotal.With(ce.Phase).Inc()
	}
	return outcome, err
}
