// Exact rational gains.
//
// BBRv2 specifies its gains as small rationals (7/10, 5/4, 277/100).
// Keeping them exact avoids the float rounding drift the reference
// implementation goes out of its way to prevent.

package bbr

import (
	"math"

	"github.com/sagernet/quic-go/congestion"
)

// Ratio is an exact non-negative rational number.
type Ratio struct {
	num uint64
	den uint64
}

// NewRatio returns num/den. den must be non-zero.
func NewRatio(num, den uint64) Ratio {
	if den == 0 {
		panic("bbr: ratio with zero denominator")
	}
	return Ratio{num: num, den: den}
}

var (
	ratioOne = NewRatio(1, 1)

	// beta is the multiplicative decrease factor.
	beta = NewRatio(7, 10)
	// lossThresh is the tolerated per-round loss ratio.
	lossThresh = NewRatio(1, 50)
	// headroom is the fraction of inflight_hi left for other flows.
	headroom = NewRatio(85, 100)
	// ecnFactor scales the ECN alpha cut of inflight_lo.
	ecnFactor = NewRatio(1, 3)
	// pacingMargin keeps the pacing rate just below the estimated bandwidth.
	pacingMargin = NewRatio(99, 100)
	// startupPacingGain is 2/ln(2) per the BBR draft, rounded to 2.77.
	startupPacingGain = NewRatio(277, 100)
	drainPacingGain   = NewRatio(100, 277)
)

// ScaleU64 returns v*num/den, saturating at MaxUint64.
func (r Ratio) ScaleU64(v uint64) uint64 {
	whole := v / r.den
	rem := v % r.den
	if r.num != 0 && whole > math.MaxUint64/r.num {
		return math.MaxUint64
	}
	scaled := whole * r.num
	part := rem * r.num / r.den
	if scaled > math.MaxUint64-part {
		return math.MaxUint64
	}
	return scaled + part
}

// ScaleBytes returns v*num/den over a byte count.
func (r Ratio) ScaleBytes(v congestion.ByteCount) congestion.ByteCount {
	if v < 0 {
		return 0
	}
	scaled := r.ScaleU64(uint64(v))
	if scaled > math.MaxInt64 {
		return congestion.ByteCount(math.MaxInt64)
	}
	return congestion.ByteCount(scaled)
}

// Mul returns r*other without reducing.
func (r Ratio) Mul(other Ratio) Ratio {
	return NewRatio(r.num*other.num, r.den*other.den)
}

// Inverse returns den/num. num must be non-zero.
func (r Ratio) Inverse() Ratio {
	return NewRatio(r.den, r.num)
}

// OneMinus returns 1 - r for r <= 1.
func (r Ratio) OneMinus() Ratio {
	if r.num > r.den {
		panic("bbr: ratio above one")
	}
	return Ratio{num: r.den - r.num, den: r.den}
}
