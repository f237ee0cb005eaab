// Coupled min RTT estimation.

package bbr

import (
	"time"

	"github.com/sagernet/quic-go/monotime"
)

const (
	// probeRttInterval is the window after which min_probe_rtt expires
	// and a ProbeRTT round is due.
	probeRttInterval = 5 * time.Second
	// minRttWindow is the validity window of the min RTT estimate.
	minRttWindow = 10 * time.Second
)

// MinRttFilter couples a short-window probe filter with the long-window
// min RTT estimate. The probe filter drives ProbeRTT scheduling; its
// value is adopted as the min RTT estimate whenever it supersedes the
// current estimate or the estimate's own window has expired.
type MinRttFilter struct {
	minProbeRtt     *WindowedFilter[time.Duration, monotime.Time]
	minRtt          *WindowedFilter[time.Duration, monotime.Time]
	probeRttExpired bool
}

func NewMinRttFilter() *MinRttFilter {
	return &MinRttFilter{
		// Strictly lower samples supersede: an equal sample must not
		// refresh the probe window, or a steady RTT would postpone
		// ProbeRTT forever.
		minProbeRtt: NewWindowedFilter[time.Duration, monotime.Time](monotime.Time(probeRttInterval), func(newValue, current time.Duration) bool {
			return newValue < current
		}),
		minRtt: NewWindowedMinFilter[time.Duration](monotime.Time(minRttWindow)),
	}
}

// Update records an RTT sample taken at now.
func (f *MinRttFilter) Update(rtt time.Duration, now monotime.Time) {
	// Capture expiry before the sample refreshes the probe window.
	f.probeRttExpired = f.minProbeRtt.WindowExpired(now)
	f.minProbeRtt.Update(rtt, now)

	probeRtt, ok := f.minProbeRtt.Value()
	if !ok {
		return
	}
	current, valid := f.minRtt.Value()
	if !valid || probeRtt <= current || f.minRtt.WindowExpired(now) {
		// Adopt the probe value together with its timestamp so the
		// estimate ages from when the sample was actually taken.
		probeUpdated, _ := f.minProbeRtt.LastUpdated()
		f.minRtt.set(probeRtt, probeUpdated)
	}
}

// MinRtt returns the current min RTT estimate, if any.
func (f *MinRttFilter) MinRtt() (time.Duration, bool) {
	return f.minRtt.Value()
}

// ProbeRttExpired reports whether the probe window had expired when the
// latest sample arrived.
func (f *MinRttFilter) ProbeRttExpired() bool {
	return f.probeRttExpired
}

// ScheduleNextProbeRtt restarts the probe window at now, keeping the
// current probe value.
func (f *MinRttFilter) ScheduleNextProbeRtt(now monotime.Time) {
	f.minProbeRtt.touch(now)
	f.probeRttExpired = false
}
