// Package metrics holds the Prometheus collectors shared by the RPC transport,
// the remote signer client and the transfer orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the subsystem's counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RPCAttempts      *prometheus.CounterVec
	SignerRequests   *prometheus.CounterVec
	TransferOutcomes *prometheus.CounterVec
	PinningInits     *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RPCAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_keyring",
			Subsystem: "rpc",
			Name:      "attempts_total",
			Help:      "JSON-RPC attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		SignerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_keyring",
			Subsystem: "signer",
			Name:      "requests_total",
			Help:      "Remote signer requests by result code.",
		}, []string{"code"}),
		TransferOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_keyring",
			Subsystem: "transfer",
			Name:      "outcomes_total",
			Help:      "Terminal transfer states by signer mode.",
		}, []string{"state", "mode"}),
		PinningInits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_keyring",
			Subsystem: "pinning",
			Name:      "initializations_total",
			Help:      "Pinning initializations by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.RPCAttempts, m.SignerRequests, m.TransferOutcomes, m.PinningInits)
	return m
}

// Registry exposes the registry for scraping or gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RPCAttempt counts one JSON-RPC attempt.
func (m *Metrics) RPCAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.RPCAttempts.WithLabelValues(method, outcome).Inc()
}

// SignerRequest counts one remote signer call; code is "OK" on success.
func (m *Metrics) SignerRequest(code string) {
	if m == nil {
		return
	}
	m.SignerRequests.WithLabelValues(code).Inc()
}

// TransferOutcome counts a terminal transfer state.
func (m *Metrics) TransferOutcome(state, mode string) {
	if m == nil {
		return
	}
	m.TransferOutcomes.WithLabelValues(state, mode).Inc()
}

// PinningInit counts a pinning initialization attempt.
func (m *Metrics) PinningInit(result string) {
	if m == nil {
		return
	}
	m.PinningInits.WithLabelValues(result).Inc()
}
