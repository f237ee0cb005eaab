// ECN CE accounting.

package bbr

import "github.com/sagernet/quic-go/congestion"

const (
	// ecnAlphaScale is the fixed point scale of the CE fraction EWMA.
	ecnAlphaScale uint64 = 256
)

var (
	// ecnAlphaGain is the EWMA gain for the per-round CE fraction.
	ecnAlphaGain = NewRatio(1, 16)
	// ecnThresh marks a round as congested when at least half the
	// delivered data was CE marked.
	ecnThresh = NewRatio(1, 2)
)

// EcnState tracks the per-round CE mark fraction as a fixed point EWMA.
type EcnState struct {
	alphaScaled           uint64
	ceInRound             uint64
	deliveredAtRoundStart congestion.ByteCount
}

func NewEcnState() *EcnState {
	// Alpha starts at one so the first congested round reacts fully.
	return &EcnState{alphaScaled: ecnAlphaScale}
}

// Alpha returns the smoothed CE fraction.
func (e *EcnState) Alpha() Ratio {
	return NewRatio(e.alphaScaled, ecnAlphaScale)
}

// OnExplicitCongestion records newly reported CE marks.
func (e *EcnState) OnExplicitCongestion(ceCount uint64) {
	e.ceInRound += ceCount
}

// OnRoundStart folds the last round's CE fraction into alpha.
// deliveredBytes is the estimator's lifetime delivered total.
func (e *EcnState) OnRoundStart(deliveredBytes congestion.ByteCount, maxDatagramSize congestion.ByteCount) {
	roundDelivered := deliveredBytes - e.deliveredAtRoundStart
	e.deliveredAtRoundStart = deliveredBytes
	deliveredPackets := uint64(roundDelivered / maxDatagramSize)
	if deliveredPackets > 0 {
		frac := e.ceInRound * ecnAlphaScale / deliveredPackets
		if frac > ecnAlphaScale {
			frac = ecnAlphaScale
		}
		e.alphaScaled = e.alphaScaled - ecnAlphaGain.ScaleU64(e.alphaScaled) + ecnAlphaGain.ScaleU64(frac)
		if e.alphaScaled > ecnAlphaScale {
			e.alphaScaled = ecnAlphaScale
		}
	}
	e.ceInRound = 0
}

// isEcnCeTooHigh reports whether CE marks cover at least half of the
// delivered data, assuming full sized datagrams.
func isEcnCeTooHigh(ceCount uint64, deliveredBytes, maxDatagramSize congestion.ByteCount) bool {
	if deliveredBytes == 0 {
		return false
	}
	return congestion.ByteCount(ceCount)*maxDatagramSize >= ecnThresh.ScaleBytes(deliveredBytes)
}
