package bbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundCounter_FirstAckStartsRound(t *testing.T) {
	var counter RoundCounter

	counter.OnAck(PacketInfo{DeliveredBytes: 0}, 100)
	assert.True(t, counter.Start())
	assert.Equal(t, uint64(1), counter.Count())
}

func TestRoundCounter_RoundEndsOnPacketSentAfterRoundStart(t *testing.T) {
	var counter RoundCounter

	// First ack closes round zero and pins the next round end at 100
	// delivered bytes.
	counter.OnAck(PacketInfo{DeliveredBytes: 0}, 100)
	assert.True(t, counter.Start())

	// A packet sent before 100 bytes were delivered belongs to the
	// current round.
	counter.OnAck(PacketInfo{DeliveredBytes: 99}, 250)
	assert.False(t, counter.Start())
	assert.Equal(t, uint64(1), counter.Count())

	// A packet sent at or after the watermark closes the round.
	counter.OnAck(PacketInfo{DeliveredBytes: 100}, 300)
	assert.True(t, counter.Start())
	assert.Equal(t, uint64(2), counter.Count())
}

func TestRoundCounter_SetRoundEnd(t *testing.T) {
	var counter RoundCounter

	counter.SetRoundEnd(500)
	counter.OnAck(PacketInfo{DeliveredBytes: 499}, 600)
	assert.False(t, counter.Start())

	counter.OnAck(PacketInfo{DeliveredBytes: 500}, 700)
	assert.True(t, counter.Start())
	assert.Equal(t, uint64(1), counter.Count())
}
