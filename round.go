// Packet-conservation round trip counting.

package bbr

import "github.com/sagernet/quic-go/congestion"

// RoundCounter tracks round trips keyed on delivered-bytes watermarks:
// a round ends when a packet sent after the previous round end is acked.
type RoundCounter struct {
	count                   uint64
	start                   bool
	nextRoundDeliveredBytes congestion.ByteCount
}

// OnAck advances the round on acks of packets that close the current
// round. deliveredBytes is the estimator's lifetime total after the ack.
func (c *RoundCounter) OnAck(packetInfo PacketInfo, deliveredBytes congestion.ByteCount) {
	if packetInfo.DeliveredBytes >= c.nextRoundDeliveredBytes {
		c.SetRoundEnd(deliveredBytes)
		c.count++
		c.start = true
	} else {
		c.start = false
	}
}

// SetRoundEnd pins the end of the current round to the given delivered
// bytes total.
func (c *RoundCounter) SetRoundEnd(deliveredBytes congestion.ByteCount) {
	c.nextRoundDeliveredBytes = deliveredBytes
}

// Start reports whether the latest ack started a new round.
func (c *RoundCounter) Start() bool {
	return c.start
}

// Count returns the number of completed rounds.
func (c *RoundCounter) Count() uint64 {
	return c.count
}
