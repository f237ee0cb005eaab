// Per-round congestion signal tracking.

package bbr

import "github.com/sagernet/quic-go/congestion"

// CongestionState aggregates the delivery-rate and volume signals seen
// during the current loss round and pushes lower-bound updates into the
// rate and volume models at round boundaries.
type CongestionState struct {
	// Loss rounds are tracked separately from the sender's round
	// counter: the first loss in a round pins the round end.
	lossRoundCounter  RoundCounter
	bwLatest          Bandwidth
	inflightLatest    congestion.ByteCount
	lossBurstsInRound saturatingCounter[uint8]
	ecnInRound        bool
}

// Update folds an ack into the round's signals. Lower bounds are only
// recomputed at a loss round start while the sender is not actively
// probing for bandwidth.
func (s *CongestionState) Update(
	packetInfo PacketInfo,
	rateSample *RateSample,
	deliveredBytes congestion.ByteCount,
	rateModel *DataRateModel,
	volumeModel *DataVolumeModel,
	isProbingForBandwidth bool,
	cwnd congestion.ByteCount,
	ecnAlpha Ratio,
) {
	s.lossRoundCounter.OnAck(packetInfo, deliveredBytes)

	s.bwLatest = maxBandwidth(s.bwLatest, rateSample.DeliveryRate())
	s.inflightLatest = maxBytes(s.inflightLatest, rateSample.DeliveredBytes)

	// Best-ever bandwidth tracking is independent of round boundaries.
	rateModel.UpdateMaxBw(rateSample.DeliveryRate(), rateSample.IsAppLimited)

	if rateSample.EcnCeCount > 0 {
		s.ecnInRound = true
	}

	if s.lossRoundCounter.Start() && !isProbingForBandwidth {
		if s.LossInRound() {
			rateModel.UpdateLowerBound(s.bwLatest)
		}
		// The volume lower bound weighs ECN evidence even when the
		// round saw no loss.
		volumeModel.UpdateLowerBound(cwnd, s.inflightLatest, s.LossInRound(), s.ecnInRound, ecnAlpha)
	}
}

// Advance rolls the latest-signal trackers forward at a loss round
// start: this round's signals become the baseline for the next round.
func (s *CongestionState) Advance(rateSample *RateSample) {
	if !s.lossRoundCounter.Start() {
		return
	}
	s.bwLatest = rateSample.DeliveryRate()
	s.inflightLatest = rateSample.DeliveredBytes
	s.lossBurstsInRound.Reset()
	s.ecnInRound = false
}

// OnPacketLost records a loss event. The first loss in a round pins the
// loss round end; newLossBurst marks the start of a run of adjacent
// lost packets.
func (s *CongestionState) OnPacketLost(deliveredBytes congestion.ByteCount, newLossBurst bool) {
	if !s.LossInRound() {
		s.lossRoundCounter.SetRoundEnd(deliveredBytes)
	}
	if newLossBurst {
		s.lossBurstsInRound.Increment()
	}
}

// OnExplicitCongestion records CE marks reported outside the ack path.
func (s *CongestionState) OnExplicitCongestion() {
	s.ecnInRound = true
}

// Reset clears the round's signals. The loss round counter keeps its
// boundaries.
func (s *CongestionState) Reset() {
	s.lossBurstsInRound.Reset()
	s.ecnInRound = false
	s.bwLatest = 0
	s.inflightLatest = 0
}

func (s *CongestionState) LossInRound() bool {
	return s.lossBurstsInRound.Value() > 0
}

func (s *CongestionState) LossRoundStart() bool {
	return s.lossRoundCounter.Start()
}

func (s *CongestionState) EcnInRound() bool {
	return s.ecnInRound
}

func (s *CongestionState) LossBurstsInRound() uint8 {
	return s.lossBurstsInRound.Value()
}
