// Startup exit (full pipe) estimation.

package bbr

import "github.com/sagernet/quic-go/congestion"

const (
	// fullBwPlateauRounds is how many consecutive rounds without 25%
	// growth prove the bandwidth has plateaued.
	fullBwPlateauRounds uint8 = 3
	// ecnCeRoundsThresh is how many consecutive CE-heavy rounds prove
	// the path is congested.
	ecnCeRoundsThresh uint8 = 2
	// startupFullLossBursts is the loss burst count below which loss
	// evidence is ignored during Startup.
	startupFullLossBursts uint8 = 8
)

// fullBwGrowthThresh is the round over round growth that still counts
// as "growing".
var fullBwGrowthThresh = NewRatio(5, 4)

// FullPipeEstimator decides during Startup whether the available
// bandwidth has been fully discovered. filledPipe is a one way latch;
// once set the estimator is inert.
type FullPipeEstimator struct {
	filledPipe  bool
	fullBw      Bandwidth
	fullBwCount saturatingCounter[uint8]
	ecnCeRounds saturatingCounter[uint8]
}

func (f *FullPipeEstimator) FilledPipe() bool {
	return f.filledPipe
}

// OnRoundStart evaluates the bandwidth plateau and ECN detectors.
func (f *FullPipeEstimator) OnRoundStart(rateSample *RateSample, maxBw Bandwidth, ecnCeTooHigh bool) {
	if f.filledPipe {
		return
	}
	plateau := f.bandwidthPlateau(rateSample, maxBw)
	excessiveEcn := f.excessiveExplicitCongestion(ecnCeTooHigh)
	if plateau || excessiveEcn {
		f.filledPipe = true
	}
}

// OnLossRoundStart evaluates the loss detector. Below the burst
// threshold loss evidence is ignored regardless of the loss rate.
func (f *FullPipeEstimator) OnLossRoundStart(rateSample *RateSample, lossBurstsInRound uint8, maxDatagramSize congestion.ByteCount) {
	if f.filledPipe {
		return
	}
	if lossBurstsInRound < startupFullLossBursts {
		return
	}
	if isInflightTooHigh(rateSample, maxDatagramSize, lossBurstsInRound, startupFullLossBursts) {
		f.filledPipe = true
	}
}

// bandwidthPlateau reports whether max_bw has stopped growing for
// fullBwPlateauRounds rounds. App-limited samples prove nothing.
func (f *FullPipeEstimator) bandwidthPlateau(rateSample *RateSample, maxBw Bandwidth) bool {
	if rateSample.IsAppLimited {
		return false
	}
	if maxBw >= f.fullBw.MulRatio(fullBwGrowthThresh) {
		f.fullBw = maxBw
		f.fullBwCount.Reset()
		return false
	}
	f.fullBwCount.Increment()
	return f.fullBwCount.Value() >= fullBwPlateauRounds
}

// excessiveExplicitCongestion requires consecutive CE-heavy rounds.
func (f *FullPipeEstimator) excessiveExplicitCongestion(ecnCeTooHigh bool) bool {
	if ecnCeTooHigh {
		f.ecnCeRounds.Increment()
	} else {
		f.ecnCeRounds.Reset()
	}
	return f.ecnCeRounds.Value() >= ecnCeRoundsThresh
}
