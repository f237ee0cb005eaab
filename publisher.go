// Event publication.

package bbr

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/sing/common/logger"
)

// Publisher receives estimator events. Implementations must be cheap:
// every callback runs on the packet processing path.
type Publisher interface {
	OnModeChanged(mode Mode)
	OnCyclePhaseChanged(phase CyclePhase)
	OnMinRttUpdated(minRtt time.Duration)
	OnDeliveryRateSampled(rate Bandwidth)
	OnPacingRateUpdated(rate Bandwidth, sendQuantum congestion.ByteCount)
	OnCongestionWindowUpdated(cwnd congestion.ByteCount)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) OnModeChanged(Mode)                                  {}
func (NopPublisher) OnCyclePhaseChanged(CyclePhase)                      {}
func (NopPublisher) OnMinRttUpdated(time.Duration)                       {}
func (NopPublisher) OnDeliveryRateSampled(Bandwidth)                     {}
func (NopPublisher) OnPacingRateUpdated(Bandwidth, congestion.ByteCount) {}
func (NopPublisher) OnCongestionWindowUpdated(congestion.ByteCount)      {}

// LogPublisher writes estimator events to a logger. Delivery rate
// samples are skipped: one line per ack batch is too noisy.
type LogPublisher struct {
	Logger logger.Logger
}

func (p LogPublisher) OnModeChanged(mode Mode) {
	p.Logger.Debug("bbr: mode changed to ", mode.String())
}

func (p LogPublisher) OnCyclePhaseChanged(phase CyclePhase) {
	p.Logger.Debug("bbr: cycle phase changed to ", phase.String())
}

func (p LogPublisher) OnMinRttUpdated(minRtt time.Duration) {
	p.Logger.Debug("bbr: min rtt updated to ", minRtt.String())
}

func (p LogPublisher) OnDeliveryRateSampled(Bandwidth) {}

func (p LogPublisher) OnPacingRateUpdated(rate Bandwidth, sendQuantum congestion.ByteCount) {
	p.Logger.Debug("bbr: pacing rate updated to ", uint64(rate), " bps, send quantum ", int64(sendQuantum))
}

func (p LogPublisher) OnCongestionWindowUpdated(congestion.ByteCount) {}
