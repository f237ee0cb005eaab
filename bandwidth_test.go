package bbr

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthFromBytesAndTimeDelta(t *testing.T) {
	assert.Equal(t, BandwidthFromBytesPerSecond(1000), BandwidthFromBytesAndTimeDelta(1000, time.Second))
	assert.Equal(t, BandwidthFromBytesPerSecond(10000), BandwidthFromBytesAndTimeDelta(1000, 100*time.Millisecond))
	assert.True(t, BandwidthFromBytesAndTimeDelta(1000, 0).IsInfinite())
	assert.True(t, BandwidthFromBytesAndTimeDelta(0, time.Second).IsZero())
}

func TestBandwidthToBytesPerPeriod(t *testing.T) {
	bw := BandwidthFromBytesPerSecond(10000)
	assert.Equal(t, int64(1000), int64(bw.ToBytesPerPeriod(100*time.Millisecond)))
	assert.Equal(t, int64(10), int64(bw.ToBytesPerPeriod(time.Millisecond)))
}

func TestBandwidthMulRatio(t *testing.T) {
	bw := BandwidthFromBytesPerSecond(1000)
	assert.Equal(t, BandwidthFromBytesPerSecond(700), bw.MulRatio(beta))
	assert.True(t, infBandwidth.MulRatio(beta).IsInfinite())
}

func TestRatioScale(t *testing.T) {
	assert.Equal(t, uint64(700), beta.ScaleU64(1000))
	assert.Equal(t, uint64(20), lossThresh.ScaleU64(1000))

	// Saturation instead of overflow.
	double := NewRatio(2, 1)
	assert.Equal(t, uint64(math.MaxUint64), double.ScaleU64(math.MaxUint64))
}

func TestRatioOneMinusAndInverse(t *testing.T) {
	assert.Equal(t, NewRatio(49, 50), lossThresh.OneMinus())
	assert.Equal(t, uint64(1000), lossThresh.OneMinus().Inverse().ScaleU64(980))
	assert.Equal(t, NewRatio(10, 7), beta.Inverse())
}
