// Data volume (inflight) bound model.

package bbr

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	// extraAckedFilterLen is the extra acked filter window, in rounds.
	extraAckedFilterLen uint64 = 10

	infByteCount congestion.ByteCount = math.MaxInt64
)

// DataVolumeModel holds the volume estimates: min RTT, the ack
// aggregation allowance, and the inflight lower and upper bounds.
type DataVolumeModel struct {
	minRttFilter *MinRttFilter

	extraAckedFilter        *WindowedFilter[congestion.ByteCount, uint64]
	extraAckedIntervalStart monotime.Time
	extraAckedDelivered     congestion.ByteCount

	inflightLo congestion.ByteCount
	inflightHi congestion.ByteCount
}

func NewDataVolumeModel(now monotime.Time) *DataVolumeModel {
	return &DataVolumeModel{
		minRttFilter:            NewMinRttFilter(),
		extraAckedFilter:        NewWindowedMaxFilter[congestion.ByteCount](extraAckedFilterLen),
		extraAckedIntervalStart: now,
		inflightLo:              infByteCount,
		inflightHi:              infByteCount,
	}
}

func (m *DataVolumeModel) MinRtt() (time.Duration, bool) {
	return m.minRttFilter.MinRtt()
}

func (m *DataVolumeModel) UpdateMinRtt(rtt time.Duration, now monotime.Time) {
	m.minRttFilter.Update(rtt, now)
}

func (m *DataVolumeModel) ProbeRttExpired() bool {
	return m.minRttFilter.ProbeRttExpired()
}

func (m *DataVolumeModel) ScheduleNextProbeRtt(now monotime.Time) {
	m.minRttFilter.ScheduleNextProbeRtt(now)
}

// ExtraAcked returns the windowed maximum degree of ack aggregation.
func (m *DataVolumeModel) ExtraAcked() congestion.ByteCount {
	value, ok := m.extraAckedFilter.Value()
	if !ok {
		return 0
	}
	return value
}

// SetExtraAckedIntervalStart restarts the aggregation epoch, used when
// the connection resumes from idle.
func (m *DataVolumeModel) SetExtraAckedIntervalStart(now monotime.Time) {
	m.extraAckedIntervalStart = now
}

// UpdateAckAggregation measures how far delivery has run ahead of the
// estimated bandwidth and feeds the excess into the extra acked filter.
func (m *DataVolumeModel) UpdateAckAggregation(
	bw Bandwidth,
	ackedBytes congestion.ByteCount,
	cwnd congestion.ByteCount,
	roundCount uint64,
	now monotime.Time,
) {
	interval := now.Sub(m.extraAckedIntervalStart)
	expectedDelivered := bw.ToBytesPerPeriod(interval)

	if m.extraAckedDelivered <= expectedDelivered {
		// Delivery caught up with the expected rate, restart the epoch.
		m.extraAckedDelivered = 0
		m.extraAckedIntervalStart = now
		expectedDelivered = 0
	}

	m.extraAckedDelivered += ackedBytes
	extra := m.extraAckedDelivered - expectedDelivered
	extra = minBytes(extra, cwnd)
	m.extraAckedFilter.Update(extra, roundCount)
}

func (m *DataVolumeModel) InflightLo() congestion.ByteCount {
	return m.inflightLo
}

func (m *DataVolumeModel) InflightHi() congestion.ByteCount {
	return m.inflightHi
}

// UpdateUpperBound sets inflight_hi.
func (m *DataVolumeModel) UpdateUpperBound(inflightHi congestion.ByteCount) {
	m.inflightHi = inflightHi
}

// UpdateLowerBound reacts to loss or ECN evidence by lowering
// inflight_lo: loss decays it towards BETA of its value (but never
// below the latest delivered volume), ECN cuts it by alpha/3, and the
// stronger of the two signals wins.
func (m *DataVolumeModel) UpdateLowerBound(
	cwnd congestion.ByteCount,
	inflightLatest congestion.ByteCount,
	lossInRound bool,
	ecnInRound bool,
	ecnAlpha Ratio,
) {
	if !lossInRound && !ecnInRound {
		return
	}
	if m.inflightLo == infByteCount {
		m.inflightLo = cwnd
	}

	ecnInflightLo := infByteCount
	if ecnInRound {
		ecnInflightLo = ecnAlpha.Mul(ecnFactor).OneMinus().ScaleBytes(m.inflightLo)
	}

	lossInflightLo := infByteCount
	if lossInRound {
		lossInflightLo = maxBytes(inflightLatest, beta.ScaleBytes(m.inflightLo))
	}

	m.inflightLo = minBytes(lossInflightLo, ecnInflightLo)
}

// ResetLowerBound removes the short-term lower bound.
func (m *DataVolumeModel) ResetLowerBound() {
	m.inflightLo = infByteCount
}
