// Package metrics exposes Prometheus counters for the trading loop. A
// private registry keeps the scrape surface limited to what the trader
// itself reports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the trader's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	EntriesOpened   *prometheus.CounterVec // by strategy id
	EntriesSkipped  *prometheus.CounterVec // by reason
	ExitsClosed     *prometheus.CounterVec // by reason
	Settlements     prometheus.Counter
	StaleQuoteTicks prometheus.Counter
	BrokerFailures  *prometheus.CounterVec // by operation
}

// New creates and registers the metric set.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EntriesOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condor_entries_opened_total",
		Help: "Positions opened, by strategy id.",
	}, []string{"strategy_id"})

	m.EntriesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condor_entries_skipped_total",
		Help: "Entry attempts that did not open a position, by reason.",
	}, []string{"reason"})

	m.ExitsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condor_exits_closed_total",
		Help: "Positions closed before expiry, by exit reason.",
	}, []string{"reason"})

	m.Settlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condor_settlements_total",
		Help: "Positions expired by the end-of-day settlement sweep.",
	})

	m.StaleQuoteTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condor_stale_quote_ticks_total",
		Help: "Monitor ticks where a position had incomplete leg quotes.",
	})

	m.BrokerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condor_broker_failures_total",
		Help: "Failed market data calls, by operation.",
	}, []string{"operation"})

	m.registry.MustRegister(
		m.EntriesOpened, m.EntriesSkipped, m.ExitsClosed,
		m.Settlements, m.StaleQuoteTicks, m.BrokerFailures,
	)
	return m
}

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
