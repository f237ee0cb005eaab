// Drain state handling.

package bbr

import "github.com/sagernet/quic-go/monotime"

// enterDrain leaves Startup to drain the queue Startup built up. The
// pacing gain inverts the Startup gain; the cwnd gain stays at the
// Startup value so in-flight data is not force-dropped.
func (s *Sender) enterDrain() {
	s.tryFastPath = false
	s.transitionTo(ModeDrain)
}

// checkDrainDone moves on to ProbeBW once the queue estimate is empty.
func (s *Sender) checkDrainDone(now monotime.Time) {
	if s.mode == ModeDrain && s.bytesInFlight <= s.inflight(s.dataRateModel.Bw(), ratioOne) {
		s.enterProbeBw(false, now)
	}
}
