package input

import "time"

// RTT estimator constants from spec.md §4.7.
const (
	DefaultAlpha = 1.0 / 8.0
	DefaultBeta  = 1.0 / 4.0
)

// RTTEstimator implements the EWMA srtt/rttvar/rto estimator computed by
// the client on each InputAck.
type RTTEstimator struct {
	alpha, beta        float64
	minRTO, maxRTO     time.Duration
	srtt, rttvar       time.Duration
	haveSample         bool
}

// NewRTTEstimator returns an estimator with spec.md default alpha/beta and
// the given RTO clamp bounds.
func NewRTTEstimator(minRTO, maxRTO time.Duration) *RTTEstimator {
	return &RTTEstimator{alpha: DefaultAlpha, beta: DefaultBeta, minRTO: minRTO, maxRTO: maxRTO}
}

// Sample folds one RTT observation (now - original_client_time) into the
// running estimate.
func (e *RTTEstimator) Sample(sample time.Duration) {
	if !e.haveSample {
		e.srtt = sample
		e.rttvar = sample / 2
		e.haveSample = true
		return
	}
	diff := e.srtt - sample
	if diff < 0 {
		diff = -diff
	}
	e.rttvar = time.Duration((1-e.beta)*float64(e.rttvar) + e.beta*float64(diff))
	e.srtt = time.Duration((1-e.alpha)*float64(e.srtt) + e.alpha*float64(sample))
}

// SRTT returns the smoothed RTT estimate.
func (e *RTTEstimator) SRTT() time.Duration { return e.srtt }

// RTO returns srtt + 4*rttvar, clamped to [minRTO, maxRTO].
func (e *RTTEstimator) RTO() time.Duration {
	rto := e.srtt + 4*e.rttvar
	if e.minRTO > 0 && rto < e.minRTO {
		return e.minRTO
	}
	if e.maxRTO > 0 && rto > e.maxRTO {
		return e.maxRTO
	}
	return rto
}
