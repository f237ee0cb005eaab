// Bandwidth (data rate) bound model.

package bbr

// maxBwFilterLen is the max bandwidth filter window, in ProbeBW cycles.
const maxBwFilterLen uint8 = 2

// DataRateModel holds the bandwidth estimates: the windowed maximum
// delivery rate and the short-term lower and upper bounds.
type DataRateModel struct {
	maxBwFilter *WindowedFilter[Bandwidth, uint8]
	// cycleCount stamps max bandwidth samples; it wraps freely.
	cycleCount uint8
	bwLo       Bandwidth
	bwHi       Bandwidth
	bw         Bandwidth
}

func NewDataRateModel() *DataRateModel {
	return &DataRateModel{
		maxBwFilter: NewWindowedMaxFilter[Bandwidth](maxBwFilterLen),
		bwLo:        infBandwidth,
		bwHi:        infBandwidth,
	}
}

// MaxBw returns the windowed maximum delivery rate.
func (m *DataRateModel) MaxBw() Bandwidth {
	value, ok := m.maxBwFilter.Value()
	if !ok {
		return 0
	}
	return value
}

// Bw returns the bandwidth bounded by the current model constraints.
func (m *DataRateModel) Bw() Bandwidth {
	return m.bw
}

func (m *DataRateModel) BwLo() Bandwidth {
	return m.bwLo
}

func (m *DataRateModel) BwHi() Bandwidth {
	return m.bwHi
}

// UpdateMaxBw records a delivery rate sample. App-limited samples only
// count when they exceed the current maximum, since they underestimate
// the path.
func (m *DataRateModel) UpdateMaxBw(rate Bandwidth, isAppLimited bool) {
	if rate > m.MaxBw() || !isAppLimited {
		m.maxBwFilter.Update(rate, m.cycleCount)
	}
}

// UpdateLowerBound decays bw_lo towards the given latest bandwidth.
func (m *DataRateModel) UpdateLowerBound(bwLatest Bandwidth) {
	if m.bwLo == infBandwidth {
		m.bwLo = m.MaxBw()
	}
	m.bwLo = maxBandwidth(bwLatest, m.bwLo.MulRatio(beta))
}

// UpdateUpperBound sets bw_hi.
func (m *DataRateModel) UpdateUpperBound(bwHi Bandwidth) {
	m.bwHi = bwHi
}

// ResetLowerBound removes the short-term lower bound.
func (m *DataRateModel) ResetLowerBound() {
	m.bwLo = infBandwidth
}

// BoundBwForModel recomputes the bounded bandwidth estimate.
func (m *DataRateModel) BoundBwForModel() {
	m.bw = minBandwidth(m.MaxBw(), minBandwidth(m.bwLo, m.bwHi))
}

// AdvanceMaxBwFilter opens the next max bandwidth sampling cycle.
func (m *DataRateModel) AdvanceMaxBwFilter() {
	m.cycleCount++
}

// ResetMaxBwFilter discards the bandwidth history, for use when the
// path has changed and old samples no longer describe it.
func (m *DataRateModel) ResetMaxBwFilter() {
	m.maxBwFilter.Reset()
}
