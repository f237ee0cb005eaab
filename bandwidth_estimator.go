// Delivery rate estimation per draft-cheng-iccrg-delivery-rate-estimation.

package bbr

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

// PacketInfo captures the delivery state at the time a packet was sent.
// It travels with the packet and comes back with its ack or loss.
type PacketInfo struct {
	DeliveredBytes congestion.ByteCount
	DeliveredTime  monotime.Time
	LostBytes      congestion.ByteCount
	EcnCeCount     uint64
	FirstSentTime  monotime.Time
	BytesInFlight  congestion.ByteCount
	IsAppLimited   bool
}

// RateSample is the rate measurement over the current sampling interval.
type RateSample struct {
	// Interval is the send or ack elapsed time, whichever is longer.
	Interval            time.Duration
	DeliveredBytes      congestion.ByteCount
	LostBytes           congestion.ByteCount
	EcnCeCount          uint64
	IsAppLimited        bool
	PriorDeliveredBytes congestion.ByteCount
	BytesInFlight       congestion.ByteCount
	PriorLostBytes      congestion.ByteCount
	PriorEcnCeCount     uint64
}

func (rs *RateSample) onAck(packetInfo PacketInfo) {
	rs.PriorDeliveredBytes = packetInfo.DeliveredBytes
	rs.PriorLostBytes = packetInfo.LostBytes
	rs.PriorEcnCeCount = packetInfo.EcnCeCount
	rs.IsAppLimited = packetInfo.IsAppLimited
	rs.BytesInFlight = packetInfo.BytesInFlight
}

// DeliveryRate returns the delivery rate over the sample interval.
func (rs *RateSample) DeliveryRate() Bandwidth {
	if rs.Interval <= 0 {
		return 0
	}
	return BandwidthFromBytesAndTimeDelta(rs.DeliveredBytes, rs.Interval)
}

// BandwidthEstimator maintains delivery totals and the current rate sample.
type BandwidthEstimator struct {
	deliveredBytes      congestion.ByteCount
	deliveredTime       monotime.Time
	lostBytes           congestion.ByteCount
	ecnCeCount          uint64
	firstSentTime       monotime.Time
	appLimitedDelivered congestion.ByteCount
	rateSample          RateSample
}

func NewBandwidthEstimator() *BandwidthEstimator {
	return &BandwidthEstimator{}
}

// RateSample returns the current rate sample.
func (e *BandwidthEstimator) RateSample() *RateSample {
	return &e.rateSample
}

// DeliveredBytes returns the lifetime total of delivered bytes.
func (e *BandwidthEstimator) DeliveredBytes() congestion.ByteCount {
	return e.deliveredBytes
}

// LostBytes returns the lifetime total of lost bytes.
func (e *BandwidthEstimator) LostBytes() congestion.ByteCount {
	return e.lostBytes
}

// EcnCeCount returns the lifetime total of CE marked packets.
func (e *BandwidthEstimator) EcnCeCount() uint64 {
	return e.ecnCeCount
}

// IsAppLimited reports whether the current sampling window is
// application limited.
func (e *BandwidthEstimator) IsAppLimited() bool {
	return e.appLimitedDelivered > 0
}

// OnPacketSent snapshots the delivery state for an outgoing packet.
func (e *BandwidthEstimator) OnPacketSent(bytesInFlight congestion.ByteCount, now monotime.Time) PacketInfo {
	if bytesInFlight == 0 {
		// The connection was idle, restart the sampling epoch.
		e.firstSentTime = now
		e.deliveredTime = now
	}
	return PacketInfo{
		DeliveredBytes: e.deliveredBytes,
		DeliveredTime:  e.deliveredTime,
		LostBytes:      e.lostBytes,
		EcnCeCount:     e.ecnCeCount,
		FirstSentTime:  e.firstSentTime,
		BytesInFlight:  bytesInFlight,
		IsAppLimited:   e.IsAppLimited(),
	}
}

// OnAck processes newly acknowledged bytes. newestPacketInfo is the
// delivery snapshot of the most recently sent packet in the ack, and
// newestSentTime its send time.
func (e *BandwidthEstimator) OnAck(ackedBytes congestion.ByteCount, newestSentTime monotime.Time, newestPacketInfo PacketInfo, now monotime.Time) {
	e.deliveredBytes += ackedBytes
	e.deliveredTime = now

	if e.appLimitedDelivered > 0 && e.deliveredBytes > e.appLimitedDelivered {
		// All data sent while app limited has been delivered.
		e.appLimitedDelivered = 0
	}

	if e.rateSample.PriorDeliveredBytes == 0 || newestPacketInfo.DeliveredBytes > e.rateSample.PriorDeliveredBytes {
		// The newest packet supersedes the current sample.
		e.rateSample.onAck(newestPacketInfo)
		e.firstSentTime = newestSentTime

		sendElapsed := newestSentTime.Sub(newestPacketInfo.FirstSentTime)
		ackElapsed := now.Sub(newestPacketInfo.DeliveredTime)
		e.rateSample.Interval = maxDuration(sendElapsed, ackElapsed)
	}

	e.rateSample.DeliveredBytes = e.deliveredBytes - e.rateSample.PriorDeliveredBytes
	e.rateSample.EcnCeCount = e.ecnCeCount - e.rateSample.PriorEcnCeCount
}

// OnLoss records newly lost bytes.
func (e *BandwidthEstimator) OnLoss(lostBytes congestion.ByteCount) {
	e.lostBytes += lostBytes
	e.rateSample.LostBytes = e.lostBytes - e.rateSample.PriorLostBytes
}

// OnExplicitCongestion records newly CE marked packets.
func (e *BandwidthEstimator) OnExplicitCongestion(ceCount uint64) {
	e.ecnCeCount += ceCount
	e.rateSample.EcnCeCount = e.ecnCeCount - e.rateSample.PriorEcnCeCount
}

// OnAppLimited marks the connection application limited until
// everything currently outstanding has been delivered.
func (e *BandwidthEstimator) OnAppLimited(bytesInFlight congestion.ByteCount) {
	e.appLimitedDelivered = e.deliveredBytes + bytesInFlight
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
