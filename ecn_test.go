package bbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEcnState_AlphaStartsAtOne(t *testing.T) {
	state := NewEcnState()
	assert.Equal(t, NewRatio(256, 256), state.Alpha())
}

func TestEcnState_AlphaEwma(t *testing.T) {
	state := NewEcnState()

	// A clean round of ten packets decays alpha by the gain.
	state.OnRoundStart(12000, 1200)
	assert.Equal(t, NewRatio(240, 256), state.Alpha())

	// A fully marked round pulls alpha back up.
	state.OnExplicitCongestion(10)
	state.OnRoundStart(24000, 1200)
	assert.Equal(t, NewRatio(241, 256), state.Alpha())
}

func TestEcnState_EmptyRoundLeavesAlpha(t *testing.T) {
	state := NewEcnState()

	// No delivery this round, nothing to measure.
	state.OnRoundStart(0, 1200)
	assert.Equal(t, NewRatio(256, 256), state.Alpha())
}

func TestIsEcnCeTooHigh(t *testing.T) {
	assert.False(t, isEcnCeTooHigh(10, 0, 1200), "no delivery, no verdict")

	// Five CE marks against ten delivered packets is exactly half.
	assert.True(t, isEcnCeTooHigh(5, 12000, 1200))
	assert.False(t, isEcnCeTooHigh(4, 12000, 1200))
}
