package bbr

import (
	"testing"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCongestionState_LossBurstCounting(t *testing.T) {
	var state CongestionState

	assert.False(t, state.LossInRound())

	state.OnPacketLost(1000, true)
	state.OnPacketLost(1000, false)
	state.OnPacketLost(1000, true)
	assert.True(t, state.LossInRound())
	assert.Equal(t, uint8(2), state.LossBurstsInRound())
}

func TestCongestionState_LowerBoundsAtLossRoundStart(t *testing.T) {
	var state CongestionState
	rateModel := NewDataRateModel()
	volumeModel := NewDataVolumeModel(0)

	rateSample := &RateSample{
		Interval:       100 * time.Millisecond,
		DeliveredBytes: 100,
	}

	// Seed max_bw at 1000 B/s via the first ack.
	state.Update(PacketInfo{DeliveredBytes: 0}, rateSample, 100, rateModel, volumeModel, false, 10000, ratioOne)
	require.Equal(t, BandwidthFromBytesPerSecond(1000), rateModel.MaxBw())

	// A loss pins the loss round end at the current delivered total.
	state.OnPacketLost(100, true)

	// Acks of packets sent before the loss stay inside the round: no
	// lower bound updates yet.
	state.Update(PacketInfo{DeliveredBytes: 50}, rateSample, 200, rateModel, volumeModel, false, 10000, ratioOne)
	assert.True(t, rateModel.BwLo().IsInfinite())
	assert.Equal(t, infByteCount, volumeModel.InflightLo())

	// The first ack of a packet sent after the loss starts the loss
	// round and applies the decayed bounds.
	state.Update(PacketInfo{DeliveredBytes: 100}, rateSample, 300, rateModel, volumeModel, false, 10000, ratioOne)
	assert.Equal(t, BandwidthFromBytesPerSecond(1000), rateModel.BwLo())
	assert.Equal(t, congestion.ByteCount(7000), volumeModel.InflightLo())
}

func TestCongestionState_NoLowerBoundsWhileProbing(t *testing.T) {
	var state CongestionState
	rateModel := NewDataRateModel()
	volumeModel := NewDataVolumeModel(0)

	rateSample := &RateSample{
		Interval:       100 * time.Millisecond,
		DeliveredBytes: 100,
	}

	state.OnPacketLost(0, true)
	state.Update(PacketInfo{DeliveredBytes: 0}, rateSample, 100, rateModel, volumeModel, true, 10000, ratioOne)

	assert.True(t, rateModel.BwLo().IsInfinite())
	assert.Equal(t, infByteCount, volumeModel.InflightLo())
}

func TestCongestionState_AdvanceResetsRoundSignals(t *testing.T) {
	var state CongestionState

	rateSample := &RateSample{
		Interval:       100 * time.Millisecond,
		DeliveredBytes: 100,
	}

	state.OnPacketLost(0, true)
	state.OnExplicitCongestion()
	require.True(t, state.LossInRound())
	require.True(t, state.EcnInRound())

	// Start a loss round, then roll the signals forward.
	rateModel := NewDataRateModel()
	volumeModel := NewDataVolumeModel(0)
	state.Update(PacketInfo{DeliveredBytes: 0}, rateSample, 100, rateModel, volumeModel, true, 10000, ratioOne)
	require.True(t, state.LossRoundStart())

	state.Advance(rateSample)
	assert.False(t, state.LossInRound())
	assert.False(t, state.EcnInRound())
	assert.Equal(t, uint8(0), state.LossBurstsInRound())
}

func TestCongestionState_ResetKeepsRoundBoundaries(t *testing.T) {
	var state CongestionState

	state.OnPacketLost(500, true)
	state.OnExplicitCongestion()
	state.Reset()

	assert.False(t, state.LossInRound())
	assert.False(t, state.EcnInRound())
	assert.Equal(t, uint8(0), state.LossBurstsInRound())
}
