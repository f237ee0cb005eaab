package bbr

import (
	"testing"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
	"github.com/stretchr/testify/assert"
)

func TestDataVolumeModel_LowerBoundFromLoss(t *testing.T) {
	model := NewDataVolumeModel(0)

	// No congestion signal, no change.
	model.UpdateLowerBound(1500, 500, false, false, ratioOne)
	assert.Equal(t, infByteCount, model.InflightLo())

	// First loss initializes inflight_lo from the window, then decays
	// by beta.
	model.UpdateLowerBound(1500, 500, true, false, ratioOne)
	assert.Equal(t, congestion.ByteCount(1050), model.InflightLo())

	// The latest delivered volume is a floor under the decay.
	model.UpdateLowerBound(1500, 1000, true, false, ratioOne)
	assert.Equal(t, congestion.ByteCount(1000), model.InflightLo())

	model.ResetLowerBound()
	assert.Equal(t, infByteCount, model.InflightLo())
}

func TestDataVolumeModel_LowerBoundFromEcn(t *testing.T) {
	model := NewDataVolumeModel(0)

	// Full alpha cuts inflight_lo by a third.
	model.UpdateLowerBound(1500, 0, false, true, ratioOne)
	assert.Equal(t, congestion.ByteCount(1000), model.InflightLo())
}

func TestDataVolumeModel_LowerBoundStrongerSignalWins(t *testing.T) {
	model := NewDataVolumeModel(0)

	// Loss allows 1050, ECN allows 1000: the lower bound takes the min.
	model.UpdateLowerBound(1500, 500, true, true, ratioOne)
	assert.Equal(t, congestion.ByteCount(1000), model.InflightLo())
}

func TestDataVolumeModel_AckAggregation(t *testing.T) {
	start := monotime.Time(time.Second)
	model := NewDataVolumeModel(start)
	bw := BandwidthFromBytesPerSecond(1500)

	// At epoch start nothing is expected yet: the full ack is excess.
	model.UpdateAckAggregation(bw, 1600, 5000, 1, start)
	assert.Equal(t, congestion.ByteCount(1600), model.ExtraAcked())

	// One second in, 1500 bytes were expected; delivery stays ahead by
	// 1500, below the current maximum.
	model.UpdateAckAggregation(bw, 1400, 5000, 2, start.Add(time.Second))
	assert.Equal(t, congestion.ByteCount(1600), model.ExtraAcked())

	// Two seconds in, expected delivery catches up and the epoch
	// restarts.
	model.UpdateAckAggregation(bw, 100, 5000, 3, start.Add(2*time.Second))
	assert.Equal(t, congestion.ByteCount(1600), model.ExtraAcked())
}

func TestDataVolumeModel_AckAggregationCappedByCwnd(t *testing.T) {
	start := monotime.Time(time.Second)
	model := NewDataVolumeModel(start)

	model.UpdateAckAggregation(BandwidthFromBytesPerSecond(1500), 5000, 1200, 1, start)
	assert.Equal(t, congestion.ByteCount(1200), model.ExtraAcked())
}

func TestDataVolumeModel_UpperBound(t *testing.T) {
	model := NewDataVolumeModel(0)

	assert.Equal(t, infByteCount, model.InflightHi())
	model.UpdateUpperBound(20000)
	assert.Equal(t, congestion.ByteCount(20000), model.InflightHi())
}
