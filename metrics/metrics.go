// Package metrics exports BBR estimator state as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sagernet/quic-go/congestion"
	bbr "github.com/sagernet/sing-bbr"
)

// Publisher implements bbr.Publisher on top of a Prometheus registry.
// One Publisher serves one connection; use ConstLabels in Options to
// tell connections apart.
type Publisher struct {
	mode         *prometheus.GaugeVec
	cyclePhase   *prometheus.GaugeVec
	modeSwitches *prometheus.CounterVec
	minRtt       prometheus.Gauge
	deliveryRate prometheus.Histogram
	pacingRate   prometheus.Gauge
	sendQuantum  prometheus.Gauge
	cwnd         prometheus.Gauge

	lastMode       bbr.Mode
	lastModeSet    bool
	lastCyclePhase bbr.CyclePhase
}

var _ bbr.Publisher = (*Publisher)(nil)

// Options configures a Publisher.
type Options struct {
	// ConstLabels is attached to every metric, typically a connection
	// or peer identifier.
	ConstLabels prometheus.Labels
}

// NewPublisher creates a Publisher and registers its metrics.
func NewPublisher(registry *prometheus.Registry, options Options) *Publisher {
	p := &Publisher{
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Name:        "mode",
			Help:        "Current BBR mode, one per mode label",
			ConstLabels: options.ConstLabels,
		}, []string{"mode"}),

		cyclePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Subsystem:   "probe_bw",
			Name:        "cycle_phase",
			Help:        "Current ProbeBW cycle phase, one per phase label",
			ConstLabels: options.ConstLabels,
		}, []string{"phase"}),

		modeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "bbr",
			Name:        "mode_switches_total",
			Help:        "Total BBR mode switches",
			ConstLabels: options.ConstLabels,
		}, []string{"from", "to"}),

		minRtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Name:        "min_rtt_seconds",
			Help:        "Current min RTT estimate",
			ConstLabels: options.ConstLabels,
		}),

		deliveryRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "bbr",
			Name:        "delivery_rate_bits_per_second",
			Help:        "Observed delivery rate samples",
			Buckets:     prometheus.ExponentialBuckets(1e5, 4, 12),
			ConstLabels: options.ConstLabels,
		}),

		pacingRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Name:        "pacing_rate_bits_per_second",
			Help:        "Current pacing rate",
			ConstLabels: options.ConstLabels,
		}),

		sendQuantum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Name:        "send_quantum_bytes",
			Help:        "Current send quantum",
			ConstLabels: options.ConstLabels,
		}),

		cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "bbr",
			Name:        "congestion_window_bytes",
			Help:        "Current congestion window",
			ConstLabels: options.ConstLabels,
		}),
	}

	registry.MustRegister(
		p.mode,
		p.cyclePhase,
		p.modeSwitches,
		p.minRtt,
		p.deliveryRate,
		p.pacingRate,
		p.sendQuantum,
		p.cwnd,
	)

	return p
}

func (p *Publisher) OnModeChanged(mode bbr.Mode) {
	if p.lastModeSet {
		p.mode.WithLabelValues(p.lastMode.String()).Set(0)
		p.modeSwitches.WithLabelValues(p.lastMode.String(), mode.String()).Inc()
	}
	p.mode.WithLabelValues(mode.String()).Set(1)
	p.lastMode = mode
	p.lastModeSet = true
}

func (p *Publisher) OnCyclePhaseChanged(phase bbr.CyclePhase) {
	p.cyclePhase.WithLabelValues(p.lastCyclePhase.String()).Set(0)
	p.cyclePhase.WithLabelValues(phase.String()).Set(1)
	p.lastCyclePhase = phase
}

func (p *Publisher) OnMinRttUpdated(minRtt time.Duration) {
	p.minRtt.Set(minRtt.Seconds())
}

func (p *Publisher) OnDeliveryRateSampled(rate bbr.Bandwidth) {
	p.deliveryRate.Observe(float64(rate))
}

func (p *Publisher) OnPacingRateUpdated(rate bbr.Bandwidth, sendQuantum congestion.ByteCount) {
	p.pacingRate.Set(float64(rate))
	p.sendQuantum.Set(float64(sendQuantum))
}

func (p *Publisher) OnCongestionWindowUpdated(cwnd congestion.ByteCount) {
	p.cwnd.Set(float64(cwnd))
}
