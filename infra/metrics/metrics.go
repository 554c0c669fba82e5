// Package metrics exposes engine counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depthbook/domain/orderbook"
)

type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	events         *prometheus.CounterVec
	trades         prometheus.Counter
	tradedQty      prometheus.Counter
	marketPrice    prometheus.Gauge
	bestPrice      *prometheus.GaugeVec
	bestQty        *prometheus.GaugeVec
	liveOrders     prometheus.Gauge
	pendingStops   prometheus.Gauge
	walAppend      prometheus.Histogram
	outbox         *prometheus.CounterVec
	reclaimed      prometheus.Counter
}

func New(namespace, symbol string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"symbol": symbol}

	m := &Metrics{
		registry: registry,

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Book commands by type and result",
			ConstLabels: labels,
		}, []string{"command", "result"}),

		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "command_duration_seconds",
			Help:        "Book command latency including WAL append",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"command"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_total",
			Help:        "Book events by type",
			ConstLabels: labels,
		}, []string{"type"}),

		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "trades_total",
			Help:        "Executed trades",
			ConstLabels: labels,
		}),

		tradedQty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "traded_quantity_total",
			Help:        "Executed quantity in lots",
			ConstLabels: labels,
		}),

		marketPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "market_price_ticks",
			Help:        "Last trade or seeded market price",
			ConstLabels: labels,
		}),

		bestPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "best_price_ticks",
			Help:        "Best price by side, 0 when the side is empty",
			ConstLabels: labels,
		}, []string{"side"}),

		bestQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "best_quantity",
			Help:        "Aggregate quantity at the best price by side",
			ConstLabels: labels,
		}, []string{"side"}),

		liveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "live_orders",
			Help:        "Resting orders plus pending stops",
			ConstLabels: labels,
		}),

		pendingStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_stops",
			Help:        "Stop orders waiting for their trigger",
			ConstLabels: labels,
		}),

		walAppend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "wal_append_duration_seconds",
			Help:        "Entry WAL append latency",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),

		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outbox_messages_total",
			Help:        "Outbox deliveries by result",
			ConstLabels: labels,
		}, []string{"result"}),

		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reclaimed_orders_total",
			Help:        "Order records returned to the pool",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		m.commands, m.commandLatency, m.events, m.trades, m.tradedQty,
		m.marketPrice, m.bestPrice, m.bestQty, m.liveOrders, m.pendingStops,
		m.walAppend, m.outbox, m.reclaimed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnEvent implements orderbook.Listener.
func (m *Metrics) OnEvent(e orderbook.Event) {
	m.events.WithLabelValues(e.Type.String()).Inc()
	switch e.Type {
	case orderbook.EventTrade:
		m.trades.Inc()
		m.tradedQty.Add(float64(e.Quantity))
	case orderbook.EventMarketPrice:
		m.marketPrice.Set(float64(e.Price))
	case orderbook.EventDepthChanged:
		if e.Depth == nil {
			return
		}
		m.setBest("bid", e.Depth.Bids)
		m.setBest("ask", e.Depth.Asks)
	}
}

func (m *Metrics) setBest(side string, levels []orderbook.DepthLevel) {
	var top orderbook.DepthLevel
	if len(levels) > 0 {
		top = levels[0]
	}
	m.bestPrice.WithLabelValues(side).Set(float64(top.Price))
	m.bestQty.WithLabelValues(side).Set(float64(top.Quantity))
}

// ObserveCommand records one command outcome.
func (m *Metrics) ObserveCommand(command string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
	m.commandLatency.WithLabelValues(command).Observe(took.Seconds())
}

// ObserveBook records gauges read after a command.
func (m *Metrics) ObserveBook(live, stops int, market int64, marketSet bool) {
	m.liveOrders.Set(float64(live))
	m.pendingStops.Set(float64(stops))
	if marketSet {
		m.marketPrice.Set(float64(market))
	}
}

func (m *Metrics) ObserveWALAppend(took time.Duration) {
	m.walAppend.Observe(took.Seconds())
}

func (m *Metrics) OutboxPublished(n int) { m.outbox.WithLabelValues("published").Add(float64(n)) }
func (m *Metrics) OutboxFailed(n int)    { m.outbox.WithLabelValues("failed").Add(float64(n)) }
func (m *Metrics) Reclaimed(n int)       { m.reclaimed.Add(float64(n)) }
