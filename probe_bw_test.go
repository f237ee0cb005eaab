package bbr

import (
	"math"
	"testing"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRand returns canned values, clamped to the requested range.
type stubRand struct {
	values []int
	index  int
}

func (r *stubRand) Intn(n int) int {
	value := r.values[r.index%len(r.values)]
	r.index++
	if value >= n {
		value = n - 1
	}
	return value
}

func TestCyclePhase_PacingGain(t *testing.T) {
	assert.Equal(t, NewRatio(9, 10), CyclePhaseDown.PacingGain())
	assert.Equal(t, ratioOne, CyclePhaseCruise.PacingGain())
	assert.Equal(t, ratioOne, CyclePhaseRefill.PacingGain())
	assert.Equal(t, NewRatio(5, 4), CyclePhaseUp.PacingGain())
}

func TestProbeBwState_CycleTransitions(t *testing.T) {
	var congestionState CongestionState
	var roundCounter RoundCounter
	volumeModel := NewDataVolumeModel(0)
	rateModel := NewDataRateModel()
	random := &stubRand{values: []int{0, 500}}
	now := monotime.Time(time.Second)

	state := newProbeBwState()
	require.Equal(t, CyclePhaseUp, state.CyclePhase())
	require.Equal(t, AckPhaseInit, state.AckPhase())

	state.startDown(&congestionState, &roundCounter, 1000, random, now)
	assert.Equal(t, CyclePhaseDown, state.CyclePhase())
	assert.Equal(t, AckPhaseProbeStopping, state.AckPhase())
	assert.Equal(t, uint32(math.MaxUint32), state.bwProbeUpCnt)
	assert.Equal(t, 2500*time.Millisecond, state.bwProbeWait)
	assert.True(t, state.cycleStarted)

	state.startCruise()
	assert.Equal(t, CyclePhaseCruise, state.CyclePhase())

	rateModel.UpdateLowerBound(BandwidthFromBytesPerSecond(100))
	volumeModel.UpdateLowerBound(10000, 500, true, false, ratioOne)
	state.startRefill(volumeModel, rateModel, &roundCounter, 2000)
	assert.Equal(t, CyclePhaseRefill, state.CyclePhase())
	assert.Equal(t, AckPhaseRefilling, state.AckPhase())
	assert.True(t, rateModel.BwLo().IsInfinite(), "refill clears the lower bounds")
	assert.Equal(t, infByteCount, volumeModel.InflightLo())

	state.startUp(&roundCounter, 3000, 12000, 1200, now.Add(time.Second))
	assert.Equal(t, CyclePhaseUp, state.CyclePhase())
	assert.Equal(t, AckPhaseProbeStarting, state.AckPhase())
	assert.NotEqual(t, uint32(math.MaxUint32), state.bwProbeUpCnt)
}

func TestProbeBwState_IsTimeToProbeBwAfterWait(t *testing.T) {
	var congestionState CongestionState
	var roundCounter RoundCounter
	random := &stubRand{values: []int{1, 500}}
	now := monotime.Time(time.Second)

	state := newProbeBwState()
	state.startDown(&congestionState, &roundCounter, 0, random, now)
	require.Equal(t, 2500*time.Millisecond, state.bwProbeWait)

	// Large target keeps the Reno heuristic out of the way.
	target := congestion.ByteCount(1 << 30)
	assert.False(t, state.isTimeToProbeBw(target, 1200, now.Add(2500*time.Millisecond)))
	assert.True(t, state.isTimeToProbeBw(target, 1200, now.Add(2501*time.Millisecond)))
}

func TestProbeBwState_RenoCoexistence(t *testing.T) {
	var congestionState CongestionState
	var roundCounter RoundCounter
	random := &stubRand{values: []int{0, 1000}}
	now := monotime.Time(time.Second)

	state := newProbeBwState()
	state.startDown(&congestionState, &roundCounter, 0, random, now)

	// An idealized Reno flow with ten packets in flight probes every
	// ten rounds.
	target := congestion.ByteCount(12000)
	for i := 0; i < 9; i++ {
		state.onRoundStart()
	}
	assert.False(t, state.isTimeToProbeBw(target, 1200, now))

	state.onRoundStart()
	assert.True(t, state.isTimeToProbeBw(target, 1200, now))
}

func TestProbeBwState_RenoRoundsCapped(t *testing.T) {
	var congestionState CongestionState
	var roundCounter RoundCounter
	random := &stubRand{values: []int{0, 1000}}

	state := newProbeBwState()
	state.startDown(&congestionState, &roundCounter, 0, random, monotime.Time(time.Second))

	// Even a huge BDP probes within 63 rounds.
	target := congestion.ByteCount(1 << 30)
	for i := 0; i < 63; i++ {
		state.onRoundStart()
	}
	assert.True(t, state.isTimeToProbeBw(target, 1200, monotime.Time(time.Second)))
}

func TestProbeBwState_ProbeInflightHiUpward(t *testing.T) {
	volumeModel := NewDataVolumeModel(0)
	volumeModel.UpdateUpperBound(12000)

	state := newProbeBwState()
	state.bwProbeUpRounds = 3
	state.bwProbeUpCnt = 1500

	// 2400 acked bytes buy one datagram of growth, remainder carried.
	state.probeInflightHiUpward(2400, volumeModel, 12000, 1200, false)
	assert.Equal(t, congestion.ByteCount(13200), volumeModel.InflightHi())
	assert.Equal(t, uint32(900), state.bwProbeUpAcks)

	state.probeInflightHiUpward(1500, volumeModel, 12000, 1200, false)
	assert.Equal(t, congestion.ByteCount(14400), volumeModel.InflightHi())
	assert.Equal(t, uint32(900), state.bwProbeUpAcks)
}

func TestProbeBwState_RaiseInflightHiSlope(t *testing.T) {
	state := newProbeBwState()
	state.bwProbeUpRounds = 3

	// Growth this round is 2^3 = 8: one datagram per cwnd/8 acked.
	state.raiseInflightHiSlope(12000, 1200)
	assert.Equal(t, uint32(1500), state.bwProbeUpCnt)
	assert.Equal(t, uint8(4), state.bwProbeUpRounds)

	// The slope never grows by less than a datagram per datagram acked.
	state.bwProbeUpRounds = 30
	state.raiseInflightHiSlope(12000, 1200)
	assert.Equal(t, uint32(1200), state.bwProbeUpCnt)
	assert.Equal(t, uint8(30), state.bwProbeUpRounds, "round exponent is capped")
}

// phaseRecorder collects cycle phase events.
type phaseRecorder struct {
	NopPublisher
	phases []CyclePhase
}

func (r *phaseRecorder) OnCyclePhaseChanged(phase CyclePhase) {
	r.phases = append(r.phases, phase)
}

func TestSender_EnterProbeBwPublishesEveryPhaseEdge(t *testing.T) {
	now := monotime.Time(time.Second)

	recorder := &phaseRecorder{}
	sender := NewSender(&testClock{now: now}, 1200, 0, WithRandomSeed(42), WithPublisher(recorder))
	sender.mode = ModeDrain
	sender.enterProbeBw(false, now)
	assert.Equal(t, []CyclePhase{CyclePhaseDown}, recorder.phases)

	// Cruising immediately still passes through Down, and subscribers
	// see both edges.
	recorder = &phaseRecorder{}
	sender = NewSender(&testClock{now: now}, 1200, 0, WithRandomSeed(42), WithPublisher(recorder))
	sender.mode = ModeDrain
	sender.enterProbeBw(true, now)
	assert.Equal(t, []CyclePhase{CyclePhaseDown, CyclePhaseCruise}, recorder.phases)
	assert.Equal(t, CyclePhaseCruise, sender.CyclePhase())
}

func TestAckPhase_TransitionChain(t *testing.T) {
	phase := AckPhaseInit
	phase.transitionTo(AckPhaseProbeStopping)
	phase.transitionTo(AckPhaseInit)
	phase.transitionTo(AckPhaseProbeStopping)
	phase.transitionTo(AckPhaseRefilling)
	phase.transitionTo(AckPhaseProbeStarting)
	phase.transitionTo(AckPhaseProbeFeedback)
	phase.transitionTo(AckPhaseProbeStopping)
	assert.Equal(t, AckPhaseProbeStopping, phase)
}

func TestAckPhase_InvalidTransitionPanics(t *testing.T) {
	phase := AckPhaseInit
	assert.Panics(t, func() {
		phase.transitionTo(AckPhaseProbeFeedback)
	})
}

func TestCyclePhase_InvalidTransitionPanics(t *testing.T) {
	phase := CyclePhaseDown
	assert.Panics(t, func() {
		phase.transitionTo(CyclePhaseDown)
	})
}
