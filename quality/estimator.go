// Package quality implements the per-bond quality estimator: it turns each
// eligible path slot's rolling statistics into a normalized quality score
// and distributes a 0-255 allocation across the bonded set proportional
// to that score.
package quality

import (
	"math"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/pathslot"
)

// AcceptableMax holds the "this much is already as bad as it gets" ceiling
// for each raw metric. Values at or above the ceiling normalize to the
// same floor score as the worst observed value.
type AcceptableMax struct {
	Latency float64
	Jitter  float64
	Loss    float64
	Error   float64
}

// DefaultAcceptableMax mirrors the upstream bonding core's defaults.
var DefaultAcceptableMax = AcceptableMax{
	Latency: 500,
	Jitter:  200,
	Loss:    0.20,
	Error:   0.20,
}

// Weights is a bond's quality weight vector, qw[6] in the data model. Only
// the first four terms feed the weighted sum; see bondconst.QualityWeightCount.
type Weights [bondconst.QualityWeightCount]float64

// DefaultWeights splits weight evenly across latency, jitter, loss, and
// error, with throughput and scope held at zero until a caller opts in.
var DefaultWeights = Weights{0.25, 0.25, 0.25, 0.25, 0, 0}

// Sum returns the total of all six weights. Valid checks that total
// against 1.0 within ±0.01.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Valid reports whether the weight vector sums to 1.0 within tolerance.
// Callers loading weights from configuration should reject the vector
// outright rather than feed an invalid one into Estimate.
func (w Weights) Valid() bool {
	return math.Abs(w.Sum()-1.0) <= 0.01
}

func normalize(raw, max float64) float64 {
	if max <= 0 {
		return 1
	}
	c := raw / max
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return math.Exp(-4 * c)
}

// Estimate recomputes latency/error statistics, normalized quality, and
// allocation across the given set of eligible slots. declaredSpeeds, when
// non-nil, maps a slot's index in the eligible slice to a user-declared
// link speed that overrides the measured throughput mean. Outstanding-ack
// entries older than bondconst.QoSRecordTimeout are drained and counted as
// lost, feeding packet_loss_ratio.
func Estimate(now int64, eligible []*pathslot.Slot, w Weights, max AcceptableMax, declaredSpeeds map[int]float64) {
	if len(eligible) == 0 {
		return
	}

	type normalized struct {
		lat, jit, loss, err float64
	}
	norms := make([]normalized, len(eligible))

	var maxLat, maxJit, maxLoss, maxErr float64
	for i, s := range eligible {
		s.RecomputeLatencyStats()
		s.RecomputeErrorRatio()

		lost := s.DrainExpiredOutstanding(now, bondconst.QoSRecordTimeout)
		s.PacketLossRatio = lossRatio(s, lost)

		if speed, ok := declaredSpeeds[i]; ok {
			s.ThroughputMean = speed
		}

		n := normalized{
			lat:  normalize(s.LatencyMean, max.Latency),
			jit:  normalize(s.LatencyVariance, max.Jitter),
			loss: normalize(s.PacketLossRatio, max.Loss),
			err:  normalize(s.PacketErrorRatio, max.Error),
		}
		norms[i] = n
		maxLat = math.Max(maxLat, n.lat)
		maxJit = math.Max(maxJit, n.jit)
		maxLoss = math.Max(maxLoss, n.loss)
		maxErr = math.Max(maxErr, n.err)
	}
	if maxLat == 0 {
		maxLat = 1
	}
	if maxJit == 0 {
		maxJit = 1
	}
	if maxLoss == 0 {
		maxLoss = 1
	}
	if maxErr == 0 {
		maxErr = 1
	}

	qualities := make([]float64, len(eligible))
	var total float64
	for i, n := range norms {
		q := w[bondconst.WeightLatency]*(n.lat/maxLat) +
			w[bondconst.WeightJitter]*(n.jit/maxJit) +
			w[bondconst.WeightLoss]*(n.loss/maxLoss) +
			w[bondconst.WeightError]*(n.err/maxErr)
		qualities[i] = q
		total += q
	}

	if total <= 0 {
		share := uint8(255 / len(eligible))
		for _, s := range eligible {
			s.Allocation = share
		}
		return
	}

	for i, s := range eligible {
		alloc := int(math.Ceil(255 * qualities[i] / total))
		if alloc > 255 {
			alloc = 255
		}
		if alloc < 0 {
			alloc = 0
		}
		s.Allocation = uint8(alloc)
	}
}

// lossRatio blends a slot's existing sample-derived loss ratio with newly
// observed timeouts using an exponential moving average, consistent with
// how the outstanding-ack drain feeds loss incrementally rather than
// recomputing it from scratch every tick (there is no bounded history of
// past sends to recompute a ratio from once entries are drained).
func lossRatio(s *pathslot.Slot, newlyLost int) float64 {
	const alpha = 0.2
	sample := 0.0
	if newlyLost > 0 {
		sample = 1.0
	}
	return s.PacketLossRatio*(1-alpha) + sample*alpha
}
