// Package metrics exposes engine activity counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	SuggestionsCreated *prometheus.CounterVec // by strategy
	Transitions        *prometheus.CounterVec // by target status
	ExitSignals        *prometheus.CounterVec // by action
	EntryGateSkips     prometheus.Counter
	OpenPositions      prometheus.Gauge
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		SuggestionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionpilot_suggestions_created_total",
			Help: "Trade suggestions created, by strategy tag.",
		}, []string{"strategy"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionpilot_lifecycle_transitions_total",
			Help: "Lifecycle transitions, by target status.",
		}, []string{"status"}),
		ExitSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionpilot_exit_signals_total",
			Help: "Exit monitor signals, by action.",
		}, []string{"action"}),
		EntryGateSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionpilot_entry_gate_skips_total",
			Help: "Days the pre-market movement gate skipped entries.",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optionpilot_open_positions",
			Help: "Currently open positions.",
		}),
	}
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Str("addr", addr).Msg("📊 Metrics endpoint listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Msg("Metrics endpoint stopped")
		}
	}()
}
