// BBRv2 state machine enums and pacing gains.

package bbr

// Mode is the top level BBR state.
type Mode int

const (
	// ModeStartup quickly ramps up the sending rate to discover the
	// available bandwidth.
	ModeStartup Mode = iota
	// ModeDrain empties the queue built up during Startup.
	ModeDrain
	// ModeProbeBw is the steady state bandwidth probing cycle.
	ModeProbeBw
	// ModeProbeRtt periodically reduces inflight to refresh min RTT.
	ModeProbeRtt
)

func (m Mode) String() string {
	switch m {
	case ModeStartup:
		return "Startup"
	case ModeDrain:
		return "Drain"
	case ModeProbeBw:
		return "ProbeBw"
	case ModeProbeRtt:
		return "ProbeRtt"
	default:
		return "Invalid"
	}
}

// isValidModeTransition enumerates the legal mode edges. ProbeRtt may
// be entered from any mode.
func isValidModeTransition(from, to Mode) bool {
	switch to {
	case ModeStartup:
		return from == ModeProbeRtt
	case ModeDrain:
		return from == ModeStartup
	case ModeProbeBw:
		return from == ModeDrain || from == ModeProbeRtt
	case ModeProbeRtt:
		return true
	default:
		return false
	}
}

// CyclePhase is the ProbeBW cycle phase.
type CyclePhase uint8

const (
	// CyclePhaseDown drains the excess queue from the last Up phase.
	CyclePhaseDown CyclePhase = iota
	// CyclePhaseCruise sends at the estimated bandwidth.
	CyclePhaseCruise
	// CyclePhaseRefill refills the pipe before probing up.
	CyclePhaseRefill
	// CyclePhaseUp probes for more bandwidth.
	CyclePhaseUp
)

func (p CyclePhase) String() string {
	switch p {
	case CyclePhaseDown:
		return "Down"
	case CyclePhaseCruise:
		return "Cruise"
	case CyclePhaseRefill:
		return "Refill"
	case CyclePhaseUp:
		return "Up"
	default:
		return "Invalid"
	}
}

var (
	probeBwDownPacingGain = NewRatio(9, 10)
	probeBwUpPacingGain   = NewRatio(5, 4)
)

// PacingGain returns the sending rate multiplier for the phase.
func (p CyclePhase) PacingGain() Ratio {
	switch p {
	case CyclePhaseDown:
		return probeBwDownPacingGain
	case CyclePhaseUp:
		return probeBwUpPacingGain
	default:
		return ratioOne
	}
}

// transitionTo moves to the next phase, panicking on an illegal edge.
func (p *CyclePhase) transitionTo(next CyclePhase) {
	valid := false
	switch next {
	case CyclePhaseDown:
		valid = *p == CyclePhaseUp
	case CyclePhaseCruise:
		valid = *p == CyclePhaseDown
	case CyclePhaseRefill:
		valid = *p == CyclePhaseDown || *p == CyclePhaseCruise
	case CyclePhaseUp:
		valid = *p == CyclePhaseRefill
	}
	if !valid {
		panic("bbr: invalid cycle phase transition " + p.String() + " -> " + next.String())
	}
	*p = next
}

// AckPhase tracks which portion of the probing cycle the acks currently
// arriving were sent in.
type AckPhase uint8

const (
	AckPhaseInit AckPhase = iota
	AckPhaseProbeStopping
	AckPhaseRefilling
	AckPhaseProbeStarting
	AckPhaseProbeFeedback
)

func (p AckPhase) String() string {
	switch p {
	case AckPhaseInit:
		return "Init"
	case AckPhaseProbeStopping:
		return "ProbeStopping"
	case AckPhaseRefilling:
		return "Refilling"
	case AckPhaseProbeStarting:
		return "ProbeStarting"
	case AckPhaseProbeFeedback:
		return "ProbeFeedback"
	default:
		return "Invalid"
	}
}

func (p *AckPhase) transitionTo(next AckPhase) {
	valid := false
	switch next {
	case AckPhaseProbeStopping:
		valid = *p == AckPhaseInit || *p == AckPhaseProbeStarting || *p == AckPhaseProbeFeedback
	case AckPhaseRefilling:
		valid = *p == AckPhaseInit || *p == AckPhaseProbeStopping
	case AckPhaseProbeStarting:
		valid = *p == AckPhaseRefilling
	case AckPhaseProbeFeedback:
		valid = *p == AckPhaseProbeStarting
	case AckPhaseInit:
		valid = *p == AckPhaseProbeStopping
	}
	if !valid {
		panic("bbr: invalid ack phase transition " + p.String() + " -> " + next.String())
	}
	*p = next
}
