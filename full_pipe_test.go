package bbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullPipeEstimator_BandwidthPlateau(t *testing.T) {
	var estimator FullPipeEstimator
	rateSample := &RateSample{}

	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1000), false)
	assert.False(t, estimator.FilledPipe())

	// Exactly 25% growth still counts as growing and re-baselines.
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1250), false)
	assert.False(t, estimator.FilledPipe())

	// Three rounds below the growth threshold prove the plateau.
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1550), false)
	assert.False(t, estimator.FilledPipe())
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1550), false)
	assert.False(t, estimator.FilledPipe())
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1550), false)
	assert.True(t, estimator.FilledPipe())
}

func TestFullPipeEstimator_AppLimitedRoundsProveNothing(t *testing.T) {
	var estimator FullPipeEstimator
	rateSample := &RateSample{IsAppLimited: true}

	bw := BandwidthFromBytesPerSecond(1000)
	for i := 0; i < 10; i++ {
		estimator.OnRoundStart(rateSample, bw, false)
	}
	assert.False(t, estimator.FilledPipe())
}

func TestFullPipeEstimator_ExcessiveExplicitCongestion(t *testing.T) {
	var estimator FullPipeEstimator
	rateSample := &RateSample{}

	// Growing bandwidth keeps the plateau detector quiet; two
	// consecutive CE-heavy rounds still fill the pipe.
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1000), true)
	assert.False(t, estimator.FilledPipe())
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(2000), true)
	assert.True(t, estimator.FilledPipe())
}

func TestFullPipeEstimator_EcnRoundsMustBeConsecutive(t *testing.T) {
	var estimator FullPipeEstimator
	rateSample := &RateSample{}

	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(1000), true)
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(2000), false)
	estimator.OnRoundStart(rateSample, BandwidthFromBytesPerSecond(4000), true)
	assert.False(t, estimator.FilledPipe())
}

func TestFullPipeEstimator_LossBursts(t *testing.T) {
	var estimator FullPipeEstimator

	// 3% loss, above the threshold.
	rateSample := &RateSample{LostBytes: 300, BytesInFlight: 10000}

	estimator.OnLossRoundStart(rateSample, 7, 1200)
	assert.False(t, estimator.FilledPipe(), "below the burst threshold loss is ignored")

	estimator.OnLossRoundStart(rateSample, 8, 1200)
	assert.True(t, estimator.FilledPipe())
}

func TestFullPipeEstimator_LatchIsOneWay(t *testing.T) {
	var estimator FullPipeEstimator
	rateSample := &RateSample{LostBytes: 300, BytesInFlight: 10000}

	estimator.OnLossRoundStart(rateSample, 8, 1200)
	require.True(t, estimator.FilledPipe())

	estimator.OnRoundStart(&RateSample{}, BandwidthFromBytesPerSecond(1), false)
	assert.True(t, estimator.FilledPipe())
}
