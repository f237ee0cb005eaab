// ProbeBW cycle state machine.

package bbr

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	// maxBwProbeUpRounds caps the exponential inflight_hi growth slope
	// at roughly 1GB per round.
	maxBwProbeUpRounds = 30
	// maxBwProbeRounds bounds the Reno coexistence round count.
	maxBwProbeRounds uint8 = 63
	// probeBwFullLossCount is the loss burst threshold while probing.
	probeBwFullLossCount uint8 = 2
)

// ProbeBwState is the Down/Cruise/Refill/Up probing cycle state.
type ProbeBwState struct {
	cyclePhase CyclePhase
	ackPhase   AckPhase
	// bwProbeWait is the randomized wall clock wait before the next
	// bandwidth probe.
	bwProbeWait        time.Duration
	roundsSinceBwProbe saturatingCounter[uint8]
	bwProbeUpCnt       uint32
	bwProbeUpAcks      uint32
	bwProbeUpRounds    uint8
	cycleStamp         monotime.Time
	cycleStarted       bool
}

func newProbeBwState() ProbeBwState {
	return ProbeBwState{
		cyclePhase:   CyclePhaseUp,
		ackPhase:     AckPhaseInit,
		bwProbeUpCnt: math.MaxUint32,
	}
}

// CyclePhase returns the current cycle phase.
func (s *ProbeBwState) CyclePhase() CyclePhase {
	return s.cyclePhase
}

// AckPhase returns the current ack phase.
func (s *ProbeBwState) AckPhase() AckPhase {
	return s.ackPhase
}

func (s *ProbeBwState) onRoundStart() {
	s.roundsSinceBwProbe.Increment()
}

// isTimeToProbeBw reports whether the cycle should leave Down or Cruise
// for Refill: either the randomized wait has elapsed or the Reno
// coexistence heuristic fires.
func (s *ProbeBwState) isTimeToProbeBw(targetInflight, maxDatagramSize congestion.ByteCount, now monotime.Time) bool {
	if s.cyclePhase != CyclePhaseDown && s.cyclePhase != CyclePhaseCruise {
		panic("bbr: probing check outside Down or Cruise")
	}
	return s.hasElapsedInPhase(s.bwProbeWait, now) ||
		s.isRenoCoexistenceProbeTime(targetInflight, maxDatagramSize)
}

// probeInflightHiUpward raises inflight_hi by one datagram per
// bwProbeUpCnt acknowledged bytes, carrying the remainder.
func (s *ProbeBwState) probeInflightHiUpward(
	ackedBytes congestion.ByteCount,
	volumeModel *DataVolumeModel,
	cwnd congestion.ByteCount,
	maxDatagramSize congestion.ByteCount,
	roundStart bool,
) {
	s.bwProbeUpAcks += uint32(ackedBytes)
	if s.bwProbeUpAcks >= s.bwProbeUpCnt {
		delta := s.bwProbeUpAcks / s.bwProbeUpCnt
		s.bwProbeUpAcks -= delta * s.bwProbeUpCnt
		volumeModel.UpdateUpperBound(volumeModel.InflightHi() + congestion.ByteCount(delta)*maxDatagramSize)
	}
	if roundStart {
		s.raiseInflightHiSlope(cwnd, maxDatagramSize)
	}
}

// raiseInflightHiSlope doubles the per-round inflight_hi growth budget.
func (s *ProbeBwState) raiseInflightHiSlope(cwnd, maxDatagramSize congestion.ByteCount) {
	growthThisRound := uint32(1) << s.bwProbeUpRounds
	if s.bwProbeUpRounds < maxBwProbeUpRounds {
		s.bwProbeUpRounds++
	}
	upCnt := uint32(cwnd) / growthThisRound
	if upCnt < uint32(maxDatagramSize) {
		upCnt = uint32(maxDatagramSize)
	}
	s.bwProbeUpCnt = upCnt
}

// hasElapsedInPhase reports whether interval has passed since the
// current cycle phase began.
func (s *ProbeBwState) hasElapsedInPhase(interval time.Duration, now monotime.Time) bool {
	return s.cycleStarted && now.Sub(s.cycleStamp) > interval
}

// isRenoCoexistenceProbeTime spreads probing out over the number of
// rounds an idealized Reno flow needs between loss epochs.
func (s *ProbeBwState) isRenoCoexistenceProbeTime(targetInflight, maxDatagramSize congestion.ByteCount) bool {
	renoRounds := targetInflight / maxDatagramSize
	rounds := maxBwProbeRounds
	if renoRounds < congestion.ByteCount(maxBwProbeRounds) {
		rounds = uint8(renoRounds)
	}
	return s.roundsSinceBwProbe.Value() >= rounds
}

func (s *ProbeBwState) startCruise() {
	s.cyclePhase.transitionTo(CyclePhaseCruise)
}

func (s *ProbeBwState) startUp(
	roundCounter *RoundCounter,
	deliveredBytes congestion.ByteCount,
	cwnd congestion.ByteCount,
	maxDatagramSize congestion.ByteCount,
	now monotime.Time,
) {
	s.ackPhase.transitionTo(AckPhaseProbeStarting)
	roundCounter.SetRoundEnd(deliveredBytes)
	s.cycleStamp = now
	s.cycleStarted = true
	s.cyclePhase.transitionTo(CyclePhaseUp)
	s.raiseInflightHiSlope(cwnd, maxDatagramSize)
}

func (s *ProbeBwState) startRefill(
	volumeModel *DataVolumeModel,
	rateModel *DataRateModel,
	roundCounter *RoundCounter,
	deliveredBytes congestion.ByteCount,
) {
	volumeModel.ResetLowerBound()
	rateModel.ResetLowerBound()
	s.bwProbeUpRounds = 0
	s.bwProbeUpAcks = 0
	s.ackPhase.transitionTo(AckPhaseRefilling)
	roundCounter.SetRoundEnd(deliveredBytes)
	s.cyclePhase.transitionTo(CyclePhaseRefill)
}

func (s *ProbeBwState) startDown(
	congestionState *CongestionState,
	roundCounter *RoundCounter,
	deliveredBytes congestion.ByteCount,
	random randSource,
	now monotime.Time,
) {
	congestionState.Reset()
	s.bwProbeUpCnt = math.MaxUint32
	s.pickProbeWait(random)
	s.cycleStamp = now
	s.cycleStarted = true
	s.ackPhase.transitionTo(AckPhaseProbeStopping)
	roundCounter.SetRoundEnd(deliveredBytes)
	s.cyclePhase.transitionTo(CyclePhaseDown)
}

// pickProbeWait randomizes the round and wall clock bounds for the next
// bandwidth probe.
func (s *ProbeBwState) pickProbeWait(random randSource) {
	s.roundsSinceBwProbe.Set(uint8(random.Intn(2)))
	s.bwProbeWait = time.Duration(2000+random.Intn(1001)) * time.Millisecond
}

// enterProbeBw enters the ProbeBw state through the Down phase. With
// cruiseImmediately the Cruise phase is entered right after, used when
// leaving ProbeRTT without a queue to drain.
func (s *Sender) enterProbeBw(cruiseImmediately bool, now monotime.Time) {
	state := newProbeBwState()
	state.startDown(
		&s.congestionState,
		&s.roundCounter,
		s.bwEstimator.DeliveredBytes(),
		s.rand,
		now,
	)

	s.probeBw = state
	// New state requires updating the model.
	s.tryFastPath = false
	s.transitionTo(ModeProbeBw)
	s.publisher.OnCyclePhaseChanged(s.probeBw.cyclePhase)
	if cruiseImmediately {
		s.probeBw.startCruise()
		s.publisher.OnCyclePhaseChanged(s.probeBw.cyclePhase)
	}
}

// updateProbeBwCyclePhase advances the probing cycle once per ack batch.
func (s *Sender) updateProbeBwCyclePhase(now monotime.Time) {
	if !s.fullPipeEstimator.FilledPipe() {
		panic("bbr: cycling before the pipe is filled")
	}
	if s.mode != ModeProbeBw {
		panic("bbr: cycling outside ProbeBw")
	}

	targetInflight := s.targetInflight()
	inflightTarget := s.inflight(s.dataRateModel.MaxBw(), s.probeBw.cyclePhase.PacingGain())
	timeToCruise := s.isTimeToCruise(now)

	priorCyclePhase := s.probeBw.cyclePhase

	if s.roundCounter.Start() {
		s.probeBw.onRoundStart()
	}

	switch s.probeBw.cyclePhase {
	case CyclePhaseDown, CyclePhaseCruise:
		if s.probeBw.isTimeToProbeBw(targetInflight, s.maxDatagramSize, now) {
			s.probeBw.startRefill(
				s.dataVolumeModel,
				s.dataRateModel,
				&s.roundCounter,
				s.bwEstimator.DeliveredBytes(),
			)
		} else if s.probeBw.cyclePhase == CyclePhaseDown && timeToCruise {
			s.probeBw.startCruise()
		}
	case CyclePhaseRefill:
		// After one round of Refill, start Up.
		if s.roundCounter.Start() {
			s.bwProbeSamples = true
			s.probeBw.startUp(
				&s.roundCounter,
				s.bwEstimator.DeliveredBytes(),
				s.cwnd,
				s.maxDatagramSize,
				now,
			)
		}
	case CyclePhaseUp:
		minRtt, ok := s.dataVolumeModel.MinRtt()
		if ok && s.probeBw.hasElapsedInPhase(minRtt, now) && s.bytesInFlight > inflightTarget {
			s.probeBw.startDown(
				&s.congestionState,
				&s.roundCounter,
				s.bwEstimator.DeliveredBytes(),
				s.rand,
				now,
			)
		}
	}

	if priorCyclePhase != s.probeBw.cyclePhase {
		// New phase, so cwnd and pacing rate need updating.
		s.tryFastPath = false
		s.publisher.OnCyclePhaseChanged(s.probeBw.cyclePhase)
	}
}

// adaptUpperBounds moves the upper bounds up or down depending on the
// loss rate observed while probing.
func (s *Sender) adaptUpperBounds(ackedBytes congestion.ByteCount, now monotime.Time) {
	if !s.fullPipeEstimator.FilledPipe() {
		panic("bbr: adapting bounds before the pipe is filled")
	}

	rateSample := s.bwEstimator.RateSample()

	// Ack phase advances once per round.
	if s.roundCounter.Start() {
		s.updateAckPhase(rateSample)
	}

	if isInflightTooHigh(rateSample, s.maxDatagramSize, s.congestionState.LossBurstsInRound(), probeBwFullLossCount) {
		if s.bwProbeSamples {
			// The sample is from bandwidth probing: lower inflight_hi.
			s.onInflightTooHigh(rateSample.IsAppLimited, rateSample.BytesInFlight, now)
		}
	} else {
		// Loss rate is safe. Adjust upper bounds upward.
		if s.dataVolumeModel.InflightHi() == infByteCount {
			// No upper bound to raise.
			return
		}
		if rateSample.BytesInFlight > s.dataVolumeModel.InflightHi() {
			s.dataVolumeModel.UpdateUpperBound(rateSample.BytesInFlight)
		}

		if s.mode == ModeProbeBw &&
			s.probeBw.cyclePhase == CyclePhaseUp &&
			s.cwndLimitedInRound &&
			s.cwnd >= s.dataVolumeModel.InflightHi() {
			// inflight_hi is fully utilized, probe for an increase.
			s.probeBw.probeInflightHiUpward(
				ackedBytes,
				s.dataVolumeModel,
				s.cwnd,
				s.maxDatagramSize,
				s.roundCounter.Start(),
			)
		}
	}
}

// updateAckPhase rolls the ack phase forward at a round start and
// advances the max bandwidth filter when a probe's samples end.
func (s *Sender) updateAckPhase(rateSample *RateSample) {
	if s.mode != ModeProbeBw {
		s.bwProbeSamples = false
		return
	}
	switch s.probeBw.ackPhase {
	case AckPhaseProbeStarting:
		// Acks from the probe are starting to arrive.
		s.probeBw.ackPhase.transitionTo(AckPhaseProbeFeedback)
	case AckPhaseProbeStopping:
		// End of samples from the probing phase.
		s.bwProbeSamples = false
		s.probeBw.ackPhase.transitionTo(AckPhaseInit)
		if !rateSample.IsAppLimited {
			s.dataRateModel.AdvanceMaxBwFilter()
		}
	}
}

// onInflightTooHigh reacts to a probe sample showing too much loss:
// inflight_hi comes down to what the path demonstrably sustained, and
// an Up phase ends immediately.
func (s *Sender) onInflightTooHigh(isAppLimited bool, bytesInFlight congestion.ByteCount, now monotime.Time) {
	// Only react once per bandwidth probe.
	s.bwProbeSamples = false
	if !isAppLimited {
		s.dataVolumeModel.UpdateUpperBound(
			maxBytes(bytesInFlight, beta.ScaleBytes(s.targetInflight())),
		)
	}
	if s.mode == ModeProbeBw && s.probeBw.cyclePhase == CyclePhaseUp {
		s.probeBw.startDown(
			&s.congestionState,
			&s.roundCounter,
			s.bwEstimator.DeliveredBytes(),
			s.rand,
			now,
		)
		s.publisher.OnCyclePhaseChanged(s.probeBw.cyclePhase)
	}
}

// isTimeToCruise reports whether Down has drained enough to cruise.
func (s *Sender) isTimeToCruise(now monotime.Time) bool {
	if s.mode == ModeProbeBw {
		// Chromium and Linux TCP both bound the time spent in Down to
		// a min RTT.
		if minRtt, ok := s.dataVolumeModel.MinRtt(); ok && s.probeBw.hasElapsedInPhase(minRtt, now) {
			return true
		}
	}
	if s.bytesInFlight > s.inflightWithHeadroom() {
		return false // not enough headroom
	}
	if s.bytesInFlight <= s.inflight(s.dataRateModel.MaxBw(), ratioOne) {
		return true // inflight is at or under the estimated BDP
	}
	return false
}
