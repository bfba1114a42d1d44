package settle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peertrade"

// Metrics collects settlement progress. A nil *Metrics records nothing.
type Metrics struct {
	sent        *prometheus.GaugeVec
	received    *prometheus.GaugeVec
	round       *prometheus.GaugeVec
	sends       *prometheus.CounterVec
	dustSkipped *prometheus.CounterVec
	unlocks     *prometheus.CounterVec
	completed   prometheus.Counter
}

// NewMetrics registers the settlement metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "sent_total_coins",
			Help:      "Cumulative amount sent to the counterparty for the current trade",
		}, []string{"symbol"}),
		received: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "received_total_coins",
			Help:      "Cumulative amount received from the counterparty for the current trade",
		}, []string{"symbol"}),
		round: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "round",
			Help:      "Round implied by the cumulative totals",
		}, []string{"side"}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "sends_total",
			Help:      "Payments sent to the counterparty",
		}, []string{"symbol"}),
		dustSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "dust_skipped_total",
			Help:      "Payments the wallet refused as too small to send",
		}, []string{"symbol"}),
		unlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "wallet_unlock_prompts_total",
			Help:      "Sends interrupted by a locked wallet",
		}, []string{"symbol"}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settle",
			Name:      "trades_completed_total",
			Help:      "Trades whose settlement loop finished",
		}),
	}
}

func (m *Metrics) observe(sendSymbol, receiveSymbol string, o Observation) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(sendSymbol).Set(o.SentToDate.InexactFloat64())
	m.received.WithLabelValues(receiveSymbol).Set(o.ReceivedToDate.InexactFloat64())
	m.round.WithLabelValues("send").Set(float64(o.SentRound))
	m.round.WithLabelValues("receive").Set(float64(o.ReceivedRound))
}

func (m *Metrics) paid(symbol string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(symbol).Inc()
}

func (m *Metrics) dust(symbol string) {
	if m == nil {
		return
	}
	m.dustSkipped.WithLabelValues(symbol).Inc()
}

func (m *Metrics) locked(symbol string) {
	if m == nil {
		return
	}
	m.unlocks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) complete() {
	if m == nil {
		return
	}
	m.completed.Inc()
}
