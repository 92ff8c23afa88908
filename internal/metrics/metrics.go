// Package metrics exposes Prometheus counters for escrow activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kazi"

// Escrow collects escrow, deposit, ledger and payout counters. A nil *Escrow
// is valid and records nothing.
type Escrow struct {
	transitions *prometheus.CounterVec
	ledgerCalls *prometheus.CounterVec
	deposits    *prometheus.CounterVec
	payouts     *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	registry    *prometheus.Registry
}

func New() *Escrow {
	registry := prometheus.NewRegistry()
	m := &Escrow{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Escrow state transitions applied.",
		}, []string{"from", "to"}),
		ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_calls_total",
			Help:      "Calls made to the escrow ledger by operation and outcome.",
		}, []string{"op", "outcome"}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Deposit notifications by outcome.",
		}, []string{"outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout records reaching a status.",
		}, []string{"status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Deposit webhook requests by provider and HTTP status.",
		}, []string{"provider", "status"}),
		registry: registry,
	}
	registry.MustRegister(m.transitions, m.ledgerCalls, m.deposits, m.payouts, m.webhooks)
	return m
}

func (m *Escrow) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Escrow) LedgerCall(op, outcome string) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Escrow) Deposit(outcome string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(outcome).Inc()
}

func (m *Escrow) Payout(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

func (m *Escrow) Webhook(provider string, status int) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, http.StatusText(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Escrow) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
