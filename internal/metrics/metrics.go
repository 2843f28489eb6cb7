// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds all Prometheus metrics for the trading core.
type Registry struct {
	reg *prometheus.Registry

	ScansRun     *prometheus.CounterVec // profile
	MatchesFound prometheus.Counter

	OrdersPlaced   prometheus.Counter
	OrdersRejected *prometheus.CounterVec // reason_class: validation|risk|broker

	OpenPositions prometheus.Gauge
	Liquidations  *prometheus.CounterVec // reason: stop_loss|take_profit|manual

	MonitorTicks      prometheus.Counter
	MonitorTickErrors prometheus.Counter

	RateDenials *prometheus.CounterVec // provider
}

// NewRegistry creates and registers all trading-core metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ScansRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_scans_run_total",
			Help: "Scheduled and manual scans executed, by profile",
		}, []string{"profile"}),
		MatchesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_scan_matches_total",
			Help: "Screening matches found across all scans",
		}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_orders_placed_total",
			Help: "Orders accepted by the broker",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_rejected_total",
			Help: "Orders rejected before or at submission, by reason class",
		}, []string{"reason_class"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_open_positions",
			Help: "Currently open positions",
		}),
		Liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_liquidations_total",
			Help: "Automatic and manual position closes, by reason",
		}, []string{"reason"}),
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_monitor_ticks_total",
			Help: "Position monitor ticks completed",
		}),
		MonitorTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_monitor_tick_errors_total",
			Help: "Per-position failures inside monitor ticks",
		}),
		RateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_rate_denials_total",
			Help: "Calls refused by the provider budget, by provider",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		r.ScansRun, r.MatchesFound,
		r.OrdersPlaced, r.OrdersRejected,
		r.OpenPositions, r.Liquidations,
		r.MonitorTicks, r.MonitorTickErrors,
		r.RateDenials,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Snapshot gathers current metric values into a name -> value map, counters
// and gauges only. Used by the status endpoint and tests.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				total += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += m.GetGauge().GetValue()
			}
		}
		out[mf.GetName()] = total
	}
	return out, nil
}
