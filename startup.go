// Startup state handling.

package bbr

var (
	// startupCwndGain gives Startup room to keep the pipe full while
	// the bandwidth estimate catches up.
	startupCwndGain = NewRatio(2, 1)
)

// enterStartup re-enters Startup after a ProbeRTT that found the pipe
// was never filled. The initial Startup state comes from NewSender.
func (s *Sender) enterStartup() {
	s.tryFastPath = false
	s.transitionTo(ModeStartup)
}

// checkStartupDone feeds the full pipe estimator and exits Startup once
// the available bandwidth has been discovered.
func (s *Sender) checkStartupDone() {
	rateSample := s.bwEstimator.RateSample()

	if s.roundCounter.Start() {
		ecnCeTooHigh := isEcnCeTooHigh(rateSample.EcnCeCount, rateSample.DeliveredBytes, s.maxDatagramSize)
		s.fullPipeEstimator.OnRoundStart(rateSample, s.dataRateModel.MaxBw(), ecnCeTooHigh)
	}
	if s.congestionState.LossRoundStart() {
		s.fullPipeEstimator.OnLossRoundStart(rateSample, s.congestionState.LossBurstsInRound(), s.maxDatagramSize)
	}

	if s.mode == ModeStartup && s.fullPipeEstimator.FilledPipe() {
		s.enterDrain()
	}
}
