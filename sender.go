// BBRv2 congestion control for quic-go.

package bbr

import (
	"math"
	"math/rand"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	// initialCongestionWindowPackets is the pre-handshake window.
	initialCongestionWindowPackets = 10
	// minPipeCwndPackets keeps enough inflight for delivery rate samples
	// and ack clocking to keep working.
	minPipeCwndPackets = 4
)

type randSource interface {
	Intn(n int) int
}

// sentPacket is the per-packet state held between send and ack or loss.
type sentPacket struct {
	info     PacketInfo
	sentTime monotime.Time
	bytes    congestion.ByteCount
}

// Sender implements BBRv2 congestion control per
// draft-cardwell-iccrg-bbr-congestion-control-02.
type Sender struct {
	clock     Clock
	rttStats  congestion.RTTStatsProvider
	publisher Publisher
	rand      randSource

	mode     Mode
	probeBw  ProbeBwState
	probeRtt probeRttState

	bwEstimator       *BandwidthEstimator
	roundCounter      RoundCounter
	congestionState   CongestionState
	fullPipeEstimator FullPipeEstimator
	dataRateModel     *DataRateModel
	dataVolumeModel   *DataVolumeModel
	ecnState          *EcnState
	recoveryState     recoveryState

	cwnd            congestion.ByteCount
	priorCwnd       congestion.ByteCount
	initialCwnd     congestion.ByteCount
	bytesInFlight   congestion.ByteCount
	maxDatagramSize congestion.ByteCount
	pacer           *pacer

	// bwProbeSamples marks the acks currently arriving as feedback from
	// a bandwidth probe.
	bwProbeSamples     bool
	cwndLimitedInRound bool
	// tryFastPath skips model and control updates for acks that cannot
	// change either.
	tryFastPath bool
	idleRestart bool

	packets              map[congestion.PacketNumber]sentPacket
	lastLostPacketNumber congestion.PacketNumber
	lastLostValid        bool
}

var _ congestion.CongestionControlEx = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithPublisher routes estimator events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Sender) {
		s.publisher = p
	}
}

// WithRandomSeed seeds the probe wait randomization, for reproducible
// tests.
func WithRandomSeed(seed int64) Option {
	return func(s *Sender) {
		s.rand = rand.New(rand.NewSource(seed))
	}
}

// NewSender creates a BBRv2 sender. A zero initialCongestionWindow
// selects the default of ten datagrams.
func NewSender(
	clock Clock,
	maxDatagramSize congestion.ByteCount,
	initialCongestionWindow congestion.ByteCount,
	options ...Option,
) *Sender {
	cwnd := initialCongestionWindow
	if cwnd == 0 {
		cwnd = initialWindow(maxDatagramSize)
	}
	s := &Sender{
		clock:           clock,
		publisher:       NopPublisher{},
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		mode:            ModeStartup,
		probeBw:         newProbeBwState(),
		bwEstimator:     NewBandwidthEstimator(),
		dataRateModel:   NewDataRateModel(),
		dataVolumeModel: NewDataVolumeModel(clock.Now()),
		ecnState:        NewEcnState(),
		cwnd:            cwnd,
		priorCwnd:       cwnd,
		initialCwnd:     cwnd,
		maxDatagramSize: maxDatagramSize,
		pacer:           newPacer(maxDatagramSize, cwnd),
		packets:         make(map[congestion.PacketNumber]sentPacket),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// initialWindow is the default initial congestion window.
func initialWindow(maxDatagramSize congestion.ByteCount) congestion.ByteCount {
	return minBytes(
		initialCongestionWindowPackets*maxDatagramSize,
		maxBytes(14720, 2*maxDatagramSize),
	)
}

// SetRTTStatsProvider sets the RTT stats provider.
func (s *Sender) SetRTTStatsProvider(provider congestion.RTTStatsProvider) {
	s.rttStats = provider
}

// TimeUntilSend returns when the next packet should be sent.
func (s *Sender) TimeUntilSend(bytesInFlight congestion.ByteCount) monotime.Time {
	if bytesInFlight >= s.GetCongestionWindow() {
		return monotime.Time(math.MaxInt64)
	}
	return s.pacer.TimeUntilSend()
}

// HasPacingBudget returns whether there's budget available for sending.
func (s *Sender) HasPacingBudget(now monotime.Time) bool {
	return s.pacer.Budget(now) >= s.maxDatagramSize
}

// OnPacketSent handles a sent packet.
func (s *Sender) OnPacketSent(
	sentTime monotime.Time,
	bytesInFlight congestion.ByteCount,
	packetNumber congestion.PacketNumber,
	bytes congestion.ByteCount,
	isRetransmittable bool,
) {
	s.pacer.SentPacket(sentTime, bytes)
	if !isRetransmittable {
		return
	}

	priorInFlight := satSubBytes(bytesInFlight, bytes)
	s.handleRestartFromIdle(priorInFlight, sentTime)
	s.bytesInFlight = bytesInFlight
	if s.isCongestionLimited() {
		s.cwndLimitedInRound = true
	}

	s.packets[packetNumber] = sentPacket{
		info:     s.bwEstimator.OnPacketSent(priorInFlight, sentTime),
		sentTime: sentTime,
		bytes:    bytes,
	}
}

// CanSend returns whether we can send more data.
func (s *Sender) CanSend(bytesInFlight congestion.ByteCount) bool {
	return bytesInFlight < s.GetCongestionWindow()
}

// MaybeExitSlowStart is a no-op: Startup exit is driven by the full
// pipe estimator.
func (s *Sender) MaybeExitSlowStart() {}

// OnPacketAcked is handled by OnCongestionEventEx.
func (s *Sender) OnPacketAcked(
	number congestion.PacketNumber,
	ackedBytes congestion.ByteCount,
	priorInFlight congestion.ByteCount,
	eventTime monotime.Time,
) {
}

// OnCongestionEvent is handled by OnCongestionEventEx.
func (s *Sender) OnCongestionEvent(
	number congestion.PacketNumber,
	lostBytes congestion.ByteCount,
	priorInFlight congestion.ByteCount,
) {
}

// OnCongestionEventEx handles an ack event with its newly acked and
// newly lost packets.
func (s *Sender) OnCongestionEventEx(
	priorInFlight congestion.ByteCount,
	eventTime monotime.Time,
	ackedPackets []congestion.AckedPacketInfo,
	lostPackets []congestion.LostPacketInfo,
) {
	s.bytesInFlight = priorInFlight

	for _, packet := range lostPackets {
		s.onPacketLost(packet, eventTime)
	}
	if len(ackedPackets) > 0 {
		s.onAck(ackedPackets, eventTime)
	}
}

func (s *Sender) onPacketLost(packet congestion.LostPacketInfo, eventTime monotime.Time) {
	s.bytesInFlight = satSubBytes(s.bytesInFlight, packet.BytesLost)
	s.bwEstimator.OnLoss(packet.BytesLost)

	newLossBurst := !s.lastLostValid || packet.PacketNumber != s.lastLostPacketNumber+1
	s.lastLostPacketNumber = packet.PacketNumber
	s.lastLostValid = true
	s.congestionState.OnPacketLost(s.bwEstimator.DeliveredBytes(), newLossBurst)

	if s.recoveryState.OnCongestionEvent(eventTime) {
		s.saveCwnd()
		s.tryFastPath = false
	}

	if state, ok := s.packets[packet.PacketNumber]; ok {
		s.handleLostPacket(state.info, packet.BytesLost, eventTime)
		delete(s.packets, packet.PacketNumber)
	}
}

// handleLostPacket reacts to a single loss while probing for bandwidth:
// if the loss rate since this packet was sent is too high, inflight_hi
// comes down to the highest value the loss rate allows.
func (s *Sender) handleLostPacket(info PacketInfo, lostBytes congestion.ByteCount, now monotime.Time) {
	if !s.bwProbeSamples {
		return
	}
	lostSinceTransmit := s.bwEstimator.LostBytes() - info.LostBytes
	if isLossTooHigh(lostSinceTransmit, info.BytesInFlight, s.congestionState.LossBurstsInRound(), probeBwFullLossCount) {
		inflightHiFromLostPacket := s.inflightHiFromLostPacket(lostBytes, lostSinceTransmit, info)
		s.onInflightTooHigh(info.IsAppLimited, inflightHiFromLostPacket, now)
	}
}

// inflightHiFromLostPacket estimates the inflight level at which the
// loss rate crossed the threshold, assuming losses are spread evenly
// over the packet's transmission.
func (s *Sender) inflightHiFromLostPacket(
	size congestion.ByteCount,
	lostSinceTransmit congestion.ByteCount,
	info PacketInfo,
) congestion.ByteCount {
	inflightPrev := satSubBytes(info.BytesInFlight, size)
	lostPrev := lostSinceTransmit - size
	budget := satSubBytes(lossThresh.ScaleBytes(inflightPrev), lostPrev)
	lostPrefix := lossThresh.OneMinus().Inverse().ScaleBytes(budget)
	return inflightPrev + lostPrefix
}

func (s *Sender) onAck(ackedPackets []congestion.AckedPacketInfo, eventTime monotime.Time) {
	isCwndLimited := s.isCongestionLimited()

	if s.rttStats != nil {
		// The first RTT sample replaces the nominal pacing rate.
		s.pacer.initializePacingRate(s.cwnd, s.rttStats.SmoothedRTT(), startupPacingGain)
	}

	var ackedBytes congestion.ByteCount
	for _, packet := range ackedPackets {
		ackedBytes += packet.BytesAcked
	}
	s.bytesInFlight = satSubBytes(s.bytesInFlight, ackedBytes)

	newest := ackedPackets[len(ackedPackets)-1]
	newestSentTime := eventTime
	var newestInfo PacketInfo
	if state, ok := s.packets[newest.PacketNumber]; ok {
		newestInfo = state.info
		newestSentTime = state.sentTime
	}
	s.bwEstimator.OnAck(ackedBytes, newestSentTime, newestInfo, eventTime)
	rateSample := s.bwEstimator.RateSample()

	s.roundCounter.OnAck(newestInfo, s.bwEstimator.DeliveredBytes())
	if s.recoveryState.OnAck(s.roundCounter.Start(), newestSentTime) {
		s.tryFastPath = false
	}

	if s.roundCounter.Start() {
		s.ecnState.OnRoundStart(s.bwEstimator.DeliveredBytes(), s.maxDatagramSize)
		s.cwndLimitedInRound = isCwndLimited
	}

	updateModel := s.modelUpdateRequired(rateSample)
	if updateModel {
		s.updateLatestSignals(newestInfo, rateSample)
		s.dataVolumeModel.UpdateAckAggregation(
			s.dataRateModel.Bw(),
			ackedBytes,
			s.cwnd,
			s.roundCounter.Count(),
			eventTime,
		)
		s.checkStartupDone()
	}

	s.checkDrainDone(eventTime)

	// Runs on every ack once the pipe is filled, fast path or not:
	// the Cruise to Refill transition is wall clock driven and must
	// fire even when app limited acks carry no new model input.
	if s.fullPipeEstimator.FilledPipe() {
		s.adaptUpperBounds(ackedBytes, eventTime)
		if s.mode == ModeProbeBw {
			s.updateProbeBwCyclePhase(eventTime)
		}
	}

	prevMinRtt, prevMinRttValid := s.dataVolumeModel.MinRtt()
	if s.rttStats != nil {
		if latestRtt := s.rttStats.LatestRTT(); latestRtt > 0 {
			s.dataVolumeModel.UpdateMinRtt(latestRtt, eventTime)
		}
	}
	minRtt, minRttValid := s.dataVolumeModel.MinRtt()
	if minRttValid && (!prevMinRttValid || minRtt != prevMinRtt) {
		s.publisher.OnMinRttUpdated(minRtt)
	}

	s.checkProbeRtt(eventTime)

	if s.controlUpdateRequired(updateModel, prevMinRtt, minRtt) {
		s.congestionState.Advance(rateSample)
		s.dataRateModel.BoundBwForModel()
		s.pacer.setPacingRate(s.dataRateModel.Bw(), s.pacingGain(), s.fullPipeEstimator.FilledPipe())
		s.pacer.setSendQuantum()
		s.setCwnd(ackedBytes)
		s.publisher.OnPacingRateUpdated(s.pacer.PacingRate(), s.pacer.SendQuantum())
		s.publisher.OnCongestionWindowUpdated(s.cwnd)
	}

	for _, packet := range ackedPackets {
		delete(s.packets, packet.PacketNumber)
	}
}

// modelUpdateRequired reports whether this ack can change the network
// model. App-limited samples below the known maximum carry no news
// unless congestion signals are pending.
func (s *Sender) modelUpdateRequired(rateSample *RateSample) bool {
	return !s.tryFastPath ||
		!rateSample.IsAppLimited ||
		rateSample.DeliveryRate() >= s.dataRateModel.MaxBw() ||
		s.congestionState.LossInRound() ||
		s.congestionState.EcnInRound()
}

// controlUpdateRequired reports whether the pacing rate and cwnd need
// recomputing.
func (s *Sender) controlUpdateRequired(modelUpdated bool, prevMinRtt, minRtt time.Duration) bool {
	return !s.tryFastPath || modelUpdated || minRtt != prevMinRtt
}

// updateLatestSignals folds the ack into the congestion state and
// publishes the delivery rate sample.
func (s *Sender) updateLatestSignals(info PacketInfo, rateSample *RateSample) {
	s.congestionState.Update(
		info,
		rateSample,
		s.bwEstimator.DeliveredBytes(),
		s.dataRateModel,
		s.dataVolumeModel,
		s.isProbingForBandwidth(),
		s.cwnd,
		s.ecnState.Alpha(),
	)
	s.publisher.OnDeliveryRateSampled(rateSample.DeliveryRate())
}

// handleRestartFromIdle restarts the aggregation epoch and re-arms the
// pacer when sending resumes on an idle, app-limited connection.
func (s *Sender) handleRestartFromIdle(priorInFlight congestion.ByteCount, now monotime.Time) {
	if priorInFlight != 0 || !s.bwEstimator.IsAppLimited() {
		return
	}
	s.idleRestart = true
	s.dataVolumeModel.SetExtraAckedIntervalStart(now)
	if s.mode == ModeProbeBw {
		s.pacer.setPacingRate(s.dataRateModel.Bw(), ratioOne, s.fullPipeEstimator.FilledPipe())
	}
}

// setCwnd grows the window towards the inflight target and applies the
// model bounds.
func (s *Sender) setCwnd(ackedBytes congestion.ByteCount) {
	s.tryFastPath = false
	maxInflight := s.maxInflight()
	cwnd := s.cwnd

	if s.fullPipeEstimator.FilledPipe() {
		cwnd += ackedBytes
		if cwnd >= maxInflight {
			cwnd = maxInflight
			s.tryFastPath = true
		}
	} else if cwnd < maxInflight || s.bwEstimator.DeliveredBytes() < 2*s.initialCwnd {
		// Below the target, or too early to tell: keep growing.
		cwnd += ackedBytes
	} else {
		s.tryFastPath = true
	}

	if s.mode == ModeProbeRtt {
		cwnd = minBytes(cwnd, s.probeRttCwnd())
	}

	s.cwnd = maxBytes(minBytes(cwnd, s.boundCwndForModel()), s.minimumWindow())
}

// boundCwndForModel caps the window with the inflight bounds that apply
// to the current mode and cycle phase.
func (s *Sender) boundCwndForModel() congestion.ByteCount {
	bound := infByteCount
	if s.mode == ModeProbeBw && s.probeBw.cyclePhase != CyclePhaseCruise {
		bound = s.dataVolumeModel.InflightHi()
	} else if s.mode == ModeProbeRtt || (s.mode == ModeProbeBw && s.probeBw.cyclePhase == CyclePhaseCruise) {
		bound = s.inflightWithHeadroom()
	}
	bound = minBytes(bound, s.dataVolumeModel.InflightLo())
	return maxBytes(bound, s.minimumWindow())
}

// saveCwnd remembers the window before loss recovery or ProbeRTT
// shrinks it.
func (s *Sender) saveCwnd() {
	if !s.recoveryState.InRecovery() && s.mode != ModeProbeRtt {
		s.priorCwnd = s.cwnd
	} else {
		s.priorCwnd = maxBytes(s.priorCwnd, s.cwnd)
	}
}

// restoreCwnd restores the window saved by saveCwnd.
func (s *Sender) restoreCwnd() {
	s.cwnd = maxBytes(s.cwnd, s.priorCwnd)
}

// transitionTo moves to the next mode, panicking on an illegal edge.
func (s *Sender) transitionTo(next Mode) {
	if !isValidModeTransition(s.mode, next) {
		panic("bbr: invalid mode transition " + s.mode.String() + " -> " + next.String())
	}
	s.mode = next
	s.publisher.OnModeChanged(next)
}

// pacingGain returns the pacing gain for the current mode and phase.
func (s *Sender) pacingGain() Ratio {
	switch s.mode {
	case ModeStartup:
		return startupPacingGain
	case ModeDrain:
		return drainPacingGain
	case ModeProbeBw:
		return s.probeBw.cyclePhase.PacingGain()
	default:
		return ratioOne
	}
}

// cwndGain returns the cwnd gain for the current mode.
func (s *Sender) cwndGain() Ratio {
	if s.mode == ModeProbeRtt {
		return probeRttCwndGain
	}
	return startupCwndGain
}

// isProbingForBandwidth reports whether the sender is intentionally
// sending faster than the estimated bandwidth.
func (s *Sender) isProbingForBandwidth() bool {
	return s.mode == ModeStartup ||
		(s.mode == ModeProbeBw &&
			(s.probeBw.cyclePhase == CyclePhaseRefill || s.probeBw.cyclePhase == CyclePhaseUp))
}

func (s *Sender) isProbingBwUp() bool {
	return s.mode == ModeProbeBw && s.probeBw.cyclePhase == CyclePhaseUp
}

// isCongestionLimited reports whether sending is limited by the window
// rather than by the application.
func (s *Sender) isCongestionLimited() bool {
	if s.bytesInFlight >= s.cwnd {
		return true
	}
	return s.cwnd-s.bytesInFlight < s.maxDatagramSize
}

// bdpMultiple is gain times the estimated bandwidth-delay product.
// Before the first RTT sample the initial window stands in for the BDP.
func (s *Sender) bdpMultiple(bw Bandwidth, gain Ratio) congestion.ByteCount {
	minRtt, ok := s.dataVolumeModel.MinRtt()
	if !ok {
		return gain.ScaleBytes(s.initialCwnd)
	}
	return gain.ScaleBytes(bw.ToBytesPerPeriod(minRtt))
}

func (s *Sender) bdp() congestion.ByteCount {
	return s.bdpMultiple(s.dataRateModel.Bw(), ratioOne)
}

// targetInflight is the volume needed to fill the estimated pipe,
// without exceeding the window.
func (s *Sender) targetInflight() congestion.ByteCount {
	return minBytes(s.bdp(), s.cwnd)
}

// maxInflight is the window target: BDP scaled by the cwnd gain plus
// the ack aggregation allowance.
func (s *Sender) maxInflight() congestion.ByteCount {
	inflight := s.bdpMultiple(s.dataRateModel.Bw(), s.cwndGain()) + s.dataVolumeModel.ExtraAcked()
	return s.quantizationBudget(inflight)
}

// inflight is the volume matching the given bandwidth and gain.
func (s *Sender) inflight(bw Bandwidth, gain Ratio) congestion.ByteCount {
	return s.quantizationBudget(s.bdpMultiple(bw, gain))
}

// inflightWithHeadroom leaves a fraction of inflight_hi for other
// flows to claim.
func (s *Sender) inflightWithHeadroom() congestion.ByteCount {
	inflightHi := s.dataVolumeModel.InflightHi()
	if inflightHi == infByteCount {
		return infByteCount
	}
	return maxBytes(headroom.ScaleBytes(inflightHi), s.minimumWindow())
}

// quantizationBudget pads an inflight value to keep ack clocking and
// offload quantization effects from stalling the sender.
func (s *Sender) quantizationBudget(inflight congestion.ByteCount) congestion.ByteCount {
	inflight = maxBytes(inflight, 3*s.pacer.SendQuantum())
	inflight = maxBytes(inflight, s.minimumWindow())
	if s.isProbingBwUp() {
		inflight += 2 * s.maxDatagramSize
	}
	return inflight
}

// minimumWindow is the floor the window never drops below.
func (s *Sender) minimumWindow() congestion.ByteCount {
	return minPipeCwndPackets * s.maxDatagramSize
}

// OnRetransmissionTimeout is a no-op: losses arrive via
// OnCongestionEventEx.
func (s *Sender) OnRetransmissionTimeout(packetsRetransmitted bool) {}

// GetCongestionWindow returns the current congestion window.
func (s *Sender) GetCongestionWindow() congestion.ByteCount {
	return s.cwnd
}

// SetMaxDatagramSize updates the maximum datagram size.
func (s *Sender) SetMaxDatagramSize(size congestion.ByteCount) {
	if size == s.maxDatagramSize {
		return
	}
	cwndIsMinimum := s.cwnd == s.minimumWindow()
	s.maxDatagramSize = size
	if cwndIsMinimum {
		s.cwnd = s.minimumWindow()
	}
	s.pacer.SetMaxDatagramSize(size)
}

// InSlowStart reports whether the sender is still in Startup.
func (s *Sender) InSlowStart() bool {
	return s.mode == ModeStartup
}

// InRecovery reports whether the sender is in loss recovery.
func (s *Sender) InRecovery() bool {
	return s.recoveryState.InRecovery()
}

// OnPacketNeutered drops the per-packet state of a neutered packet.
func (s *Sender) OnPacketNeutered(packetNumber congestion.PacketNumber) {
	delete(s.packets, packetNumber)
}

// OnAppLimited marks the connection application limited: delivery rate
// samples taken now underestimate the path and must not lower the
// bandwidth estimate.
func (s *Sender) OnAppLimited(bytesInFlight congestion.ByteCount) {
	s.bwEstimator.OnAppLimited(bytesInFlight)
}

// OnExplicitCongestion records newly CE marked packets reported by the
// peer.
func (s *Sender) OnExplicitCongestion(ceCount uint64, eventTime monotime.Time) {
	if ceCount == 0 {
		return
	}
	s.bwEstimator.OnExplicitCongestion(ceCount)
	s.ecnState.OnExplicitCongestion(ceCount)
	s.congestionState.OnExplicitCongestion()
	if s.recoveryState.OnCongestionEvent(eventTime) {
		s.saveCwnd()
		s.tryFastPath = false
	}
}

// Mode returns the current mode.
func (s *Sender) Mode() Mode {
	return s.mode
}

// CyclePhase returns the current ProbeBW cycle phase.
func (s *Sender) CyclePhase() CyclePhase {
	return s.probeBw.CyclePhase()
}

// MinRtt returns the current min RTT estimate, zero if none yet.
func (s *Sender) MinRtt() time.Duration {
	minRtt, ok := s.dataVolumeModel.MinRtt()
	if !ok {
		return 0
	}
	return minRtt
}

// PacingRate returns the current pacing rate.
func (s *Sender) PacingRate() Bandwidth {
	return s.pacer.PacingRate()
}

// BandwidthEstimate returns the windowed maximum delivery rate.
func (s *Sender) BandwidthEstimate() Bandwidth {
	return s.dataRateModel.MaxBw()
}

// isLossTooHigh reports whether lost exceeds the tolerated fraction of
// the data that was in flight. Below the burst threshold isolated
// losses are ignored.
func isLossTooHigh(lostBytes, bytesInFlight congestion.ByteCount, lossBursts, burstThresh uint8) bool {
	return lossBursts >= burstThresh && lostBytes > lossThresh.ScaleBytes(bytesInFlight)
}

// isInflightTooHigh reports whether the rate sample shows more loss or
// CE marking than the path can be sustaining.
func isInflightTooHigh(rateSample *RateSample, maxDatagramSize congestion.ByteCount, lossBursts, burstThresh uint8) bool {
	return isLossTooHigh(rateSample.LostBytes, rateSample.BytesInFlight, lossBursts, burstThresh) ||
		isEcnCeTooHigh(rateSample.EcnCeCount, rateSample.DeliveredBytes, maxDatagramSize)
}

func satSubBytes(a, b congestion.ByteCount) congestion.ByteCount {
	if a <= b {
		return 0
	}
	return a - b
}
