// ProbeRTT state handling.

package bbr

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

// probeRttDuration is how long inflight stays reduced once it fits
// under the ProbeRTT window.
const probeRttDuration = 200 * time.Millisecond

// probeRttCwndGain shrinks the window to drain queues and expose the
// propagation RTT.
var probeRttCwndGain = NewRatio(1, 2)

type probeRttState struct {
	doneStamp    monotime.Time
	doneStampSet bool
	roundDone    bool
}

// checkProbeRtt enters, advances, and exits the ProbeRTT state.
func (s *Sender) checkProbeRtt(now monotime.Time) {
	if s.mode != ModeProbeRtt && s.dataVolumeModel.ProbeRttExpired() && !s.idleRestart {
		s.enterProbeRtt()
		s.roundCounter.SetRoundEnd(s.bwEstimator.DeliveredBytes())
	}

	if s.mode == ModeProbeRtt {
		s.handleProbeRtt(now)
	}

	if s.bwEstimator.RateSample().DeliveredBytes > 0 {
		s.idleRestart = false
	}
}

func (s *Sender) enterProbeRtt() {
	// The cwnd is saved before the mode changes so the pre-probe value
	// is restored on exit.
	s.saveCwnd()
	s.probeRtt = probeRttState{}
	s.tryFastPath = false
	s.transitionTo(ModeProbeRtt)
}

func (s *Sender) handleProbeRtt(now monotime.Time) {
	// Sending is limited by the probe window, so samples taken now
	// must not lower the bandwidth estimate.
	s.bwEstimator.OnAppLimited(s.bytesInFlight)

	if !s.probeRtt.doneStampSet {
		if s.bytesInFlight <= s.probeRttCwnd() {
			// Inflight fits, hold it here for the dwell period plus a
			// full round.
			s.probeRtt.doneStamp = now.Add(probeRttDuration)
			s.probeRtt.doneStampSet = true
			s.probeRtt.roundDone = false
			s.roundCounter.SetRoundEnd(s.bwEstimator.DeliveredBytes())
		}
	} else {
		if s.roundCounter.Start() {
			s.probeRtt.roundDone = true
		}
		if s.probeRtt.roundDone {
			s.checkProbeRttDone(now)
		}
	}
}

func (s *Sender) checkProbeRttDone(now monotime.Time) {
	if s.probeRtt.doneStampSet && now.Sub(s.probeRtt.doneStamp) > 0 {
		// Schedule the next ProbeRTT before leaving.
		s.dataVolumeModel.ScheduleNextProbeRtt(now)
		s.restoreCwnd()
		s.exitProbeRtt(now)
	}
}

func (s *Sender) exitProbeRtt(now monotime.Time) {
	s.dataVolumeModel.ResetLowerBound()
	s.dataRateModel.ResetLowerBound()

	if s.fullPipeEstimator.FilledPipe() {
		s.enterProbeBw(true, now)
	} else {
		s.enterStartup()
	}
}

// probeRttCwnd is the window target while probing for min RTT.
func (s *Sender) probeRttCwnd() congestion.ByteCount {
	return maxBytes(s.bdpMultiple(s.dataRateModel.Bw(), probeRttCwndGain), s.minimumWindow())
}
