package bbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaturatingCounter_Increment(t *testing.T) {
	var counter saturatingCounter[uint8]

	counter.Set(254)
	counter.Increment()
	assert.Equal(t, uint8(255), counter.Value())

	counter.Increment()
	assert.Equal(t, uint8(255), counter.Value(), "counter saturates instead of wrapping")
}

func TestSaturatingCounter_Add(t *testing.T) {
	var counter saturatingCounter[uint8]

	counter.Add(200)
	assert.Equal(t, uint8(200), counter.Value())

	counter.Add(100)
	assert.Equal(t, uint8(255), counter.Value())
}

func TestSaturatingCounter_Reset(t *testing.T) {
	var counter saturatingCounter[uint8]

	counter.Add(10)
	counter.Reset()
	assert.Equal(t, uint8(0), counter.Value())
}
