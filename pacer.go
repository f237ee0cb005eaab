// Token bucket pacer carrying the BBRv2 pacing rate and send quantum.

package bbr

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	maxBurstSizePackets = 10
	// minPacingDelay is the minimum delay between sending packets.
	minPacingDelay = time.Millisecond
	// timerGranularity is the assumed timer granularity.
	timerGranularity = time.Millisecond

	// maxSendQuantumPackets caps the send quantum.
	maxSendQuantumPackets = 10
)

// sendQuantumThreshold is the pacing rate below which the send quantum
// stays at a single datagram.
var sendQuantumThreshold = BandwidthFromBytesPerSecond(150_000) // 1.2 Mbps

// pacer implements a token bucket pacing algorithm, fed by the BBRv2
// pacing rate: bandwidth estimate times gain, kept just under 100% to
// leave the bottleneck draining slightly faster than we send.
type pacer struct {
	budgetAtLastSent congestion.ByteCount
	maxDatagramSize  congestion.ByteCount
	lastSentTime     monotime.Time
	pacingRate       Bandwidth
	sendQuantum      congestion.ByteCount
	initialized      bool
}

func newPacer(maxDatagramSize, initialCwnd congestion.ByteCount) *pacer {
	p := &pacer{
		maxDatagramSize: maxDatagramSize,
		sendQuantum:     maxDatagramSize,
	}
	// Before the first RTT sample, assume the initial window is
	// delivered within a millisecond.
	nominalBw := BandwidthFromBytesAndTimeDelta(initialCwnd, time.Millisecond)
	p.pacingRate = nominalBw.MulRatio(startupPacingGain).MulRatio(pacingMargin)
	p.budgetAtLastSent = p.maxBurstSize()
	return p
}

// initializePacingRate replaces the nominal pacing rate with one based
// on the first real RTT sample.
func (p *pacer) initializePacingRate(cwnd congestion.ByteCount, smoothedRtt time.Duration, gain Ratio) {
	if p.initialized || smoothedRtt <= 0 {
		return
	}
	nominalBw := BandwidthFromBytesAndTimeDelta(cwnd, smoothedRtt)
	p.pacingRate = nominalBw.MulRatio(gain).MulRatio(pacingMargin)
	p.initialized = true
}

// setPacingRate updates the pacing rate from the bandwidth model. Until
// the pipe is filled the rate only moves up, so a low early sample
// cannot stall Startup.
func (p *pacer) setPacingRate(bw Bandwidth, gain Ratio, filledPipe bool) {
	rate := bw.MulRatio(gain).MulRatio(pacingMargin)
	if filledPipe || rate > p.pacingRate {
		p.pacingRate = rate
		p.initialized = true
	}
}

// setSendQuantum sizes bursts for the current pacing rate: a single
// datagram at low rates, up to a millisecond of data otherwise.
func (p *pacer) setSendQuantum() {
	floor := p.maxDatagramSize
	if p.pacingRate >= sendQuantumThreshold {
		floor = 2 * p.maxDatagramSize
	}
	quantum := p.pacingRate.ToBytesPerPeriod(time.Millisecond)
	quantum = maxBytes(quantum, floor)
	quantum = minBytes(quantum, maxSendQuantumPackets*p.maxDatagramSize)
	p.sendQuantum = quantum
}

// PacingRate returns the current pacing rate.
func (p *pacer) PacingRate() Bandwidth {
	return p.pacingRate
}

// SendQuantum returns the current send quantum.
func (p *pacer) SendQuantum() congestion.ByteCount {
	return p.sendQuantum
}

// SentPacket spends pacing budget for a sent packet.
func (p *pacer) SentPacket(sendTime monotime.Time, size congestion.ByteCount) {
	budget := p.Budget(sendTime)
	if size >= budget {
		p.budgetAtLastSent = 0
	} else {
		p.budgetAtLastSent = budget - size
	}
	p.lastSentTime = sendTime
}

// Budget returns the current pacing budget in bytes.
func (p *pacer) Budget(now monotime.Time) congestion.ByteCount {
	if p.lastSentTime.IsZero() {
		return p.maxBurstSize()
	}
	delta := now.Sub(p.lastSentTime)
	if delta <= 0 {
		return p.budgetAtLastSent
	}

	if p.pacingRate.IsZero() {
		return p.maxBurstSize()
	}

	// Refill at 1.25x the pacing rate to avoid under-utilization from
	// RTT variation, matching quic-go's pacer.
	added := p.pacingRate.Mul(1.25).ToBytesPerPeriod(delta)
	budget := p.budgetAtLastSent + added
	if added > 0 && budget < p.budgetAtLastSent {
		return p.maxBurstSize()
	}
	return minBytes(p.maxBurstSize(), budget)
}

// maxBurstSize returns the maximum burst size in bytes.
func (p *pacer) maxBurstSize() congestion.ByteCount {
	packetBurst := congestion.ByteCount(maxBurstSizePackets) * p.maxDatagramSize
	if p.pacingRate.IsZero() {
		return packetBurst
	}
	bwBurst := p.pacingRate.Mul(1.25).ToBytesPerPeriod(minPacingDelay + timerGranularity)
	return maxBytes(bwBurst, packetBurst)
}

// TimeUntilSend returns when the next packet can be sent.
// It returns zero if a packet can be sent immediately.
func (p *pacer) TimeUntilSend() monotime.Time {
	if p.budgetAtLastSent >= p.maxDatagramSize {
		return 0
	}
	if p.pacingRate.IsZero() {
		return 0
	}

	needed := p.maxDatagramSize - p.budgetAtLastSent
	bytesPerSecond := p.pacingRate.Mul(1.25).ToBytesPerSecond()
	if bytesPerSecond == 0 {
		return 0
	}

	wait := time.Duration(uint64(needed) * uint64(time.Second) / bytesPerSecond)
	if wait < minPacingDelay {
		wait = minPacingDelay
	}
	return p.lastSentTime.Add(wait)
}

// SetMaxDatagramSize updates the maximum datagram size.
func (p *pacer) SetMaxDatagramSize(size congestion.ByteCount) {
	p.maxDatagramSize = size
}
