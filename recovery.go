// Fast recovery tracking.

package bbr

import "github.com/sagernet/quic-go/monotime"

type recoveryPhase int

const (
	// recoveryRecovered is the steady state, no recent congestion.
	recoveryRecovered recoveryPhase = iota
	// recoveryConservation is the first round after a congestion
	// event, growing cwnd by no more than newly acked data.
	recoveryConservation
	// recoveryGrowth follows Conservation until an ack proves data
	// sent after the congestion event arrived.
	recoveryGrowth
)

type recoveryState struct {
	phase recoveryPhase
	// start is when the congestion event that began recovery occurred.
	start monotime.Time
}

func (r *recoveryState) InRecovery() bool {
	return r.phase != recoveryRecovered
}

// OnCongestionEvent enters recovery, returning true on the transition.
func (r *recoveryState) OnCongestionEvent(now monotime.Time) bool {
	if r.phase == recoveryRecovered {
		r.phase = recoveryConservation
		r.start = now
		return true
	}
	return false
}

// OnAck moves Conservation to Growth at a round start and exits
// recovery once an acked packet was sent after the recovery started.
// Returns true when this ack exited recovery.
func (r *recoveryState) OnAck(roundStart bool, newestAckedTimeSent monotime.Time) bool {
	if r.phase == recoveryConservation && roundStart {
		r.phase = recoveryGrowth
	}
	if r.phase != recoveryRecovered && newestAckedTimeSent.Sub(r.start) > 0 {
		r.phase = recoveryRecovered
		return true
	}
	return false
}
