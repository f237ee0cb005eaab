// Bandwidth type and conversions.

package bbr

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/congestion"
)

// Bandwidth represents a data rate in bits per second.
type Bandwidth uint64

const (
	BitsPerSecond  Bandwidth = 1
	BytesPerSecond Bandwidth = 8 * BitsPerSecond
	KBitsPerSecond Bandwidth = 1000 * BitsPerSecond
	MBitsPerSecond Bandwidth = 1000 * KBitsPerSecond

	infBandwidth Bandwidth = math.MaxUint64
)

// BandwidthFromBytesAndTimeDelta creates a Bandwidth from a byte count
// transferred over the given interval. A non-positive interval yields
// infinite bandwidth.
func BandwidthFromBytesAndTimeDelta(bytes congestion.ByteCount, delta time.Duration) Bandwidth {
	if delta <= 0 {
		return infBandwidth
	}
	if bytes == 0 {
		return 0
	}
	// Split off whole bytes per nanosecond first so rates up to the
	// uint64 range survive the scaling.
	nanos := uint64(delta)
	b := uint64(bytes)
	whole := b / nanos
	rem := b % nanos
	bps := whole*uint64(time.Second) + rem*uint64(time.Second)/nanos
	if bps > math.MaxUint64/uint64(BytesPerSecond) {
		return infBandwidth
	}
	return Bandwidth(bps) * BytesPerSecond
}

// BandwidthFromBytesPerSecond creates a Bandwidth from bytes per second.
func BandwidthFromBytesPerSecond(bytesPerSecond uint64) Bandwidth {
	return Bandwidth(bytesPerSecond) * BytesPerSecond
}

// ToBytesPerSecond converts bandwidth to bytes per second.
func (b Bandwidth) ToBytesPerSecond() uint64 {
	return uint64(b) / uint64(BytesPerSecond)
}

// ToBytesPerPeriod returns the number of bytes that can be transmitted
// in the given period.
func (b Bandwidth) ToBytesPerPeriod(period time.Duration) congestion.ByteCount {
	bytesPerSecond := uint64(b) / uint64(BytesPerSecond)
	whole := bytesPerSecond / uint64(time.Second)
	rem := bytesPerSecond % uint64(time.Second)
	return congestion.ByteCount(whole*uint64(period) + rem*uint64(period)/uint64(time.Second))
}

// MulRatio scales bandwidth by an exact ratio.
func (b Bandwidth) MulRatio(r Ratio) Bandwidth {
	if b == infBandwidth {
		return infBandwidth
	}
	return Bandwidth(r.ScaleU64(uint64(b)))
}

// Mul multiplies bandwidth by a float64 factor.
func (b Bandwidth) Mul(factor float64) Bandwidth {
	return Bandwidth(float64(b) * factor)
}

// IsZero returns true if bandwidth is zero.
func (b Bandwidth) IsZero() bool {
	return b == 0
}

// IsInfinite returns true if bandwidth is the infinite sentinel.
func (b Bandwidth) IsInfinite() bool {
	return b == infBandwidth
}

func minBandwidth(a, b Bandwidth) Bandwidth {
	if a < b {
		return a
	}
	return b
}

func maxBandwidth(a, b Bandwidth) Bandwidth {
	if a > b {
		return a
	}
	return b
}

func minBytes(a, b congestion.ByteCount) congestion.ByteCount {
	if a < b {
		return a
	}
	return b
}

func maxBytes(a, b congestion.ByteCount) congestion.ByteCount {
	if a > b {
		return a
	}
	return b
}
