// Package metrics exposes the engine's prometheus counters. The registerer
// is injectable so embedding applications keep control of their registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine counters.
type Metrics struct {
	HandshakesTotal    prometheus.Counter
	HandshakeFallbacks prometheus.Counter
	MessagesSent       prometheus.Counter
	MessagesReceived   prometheus.Counter
	SignatureFailures  prometheus.Counter
	DecryptFailures    prometheus.Counter
	Desyncs            prometheus.Counter
	Replays            prometheus.Counter
	AuthzDenied        prometheus.Counter
	Rotations          prometheus.Counter
	Revocations        prometheus.Counter
	Replenishments     prometheus.Counter
}

// New registers and returns the engine counters. reg may be nil, in which
// case the default registerer is used.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HandshakesTotal:    counter("handshakes_total", "Completed key agreements."),
		HandshakeFallbacks: counter("handshake_fallbacks_total", "Key agreements that ran without a one-time key."),
		MessagesSent:       counter("messages_sent_total", "Envelopes encrypted and handed to transport."),
		MessagesReceived:   counter("messages_received_total", "Envelopes decrypted to plaintext."),
		SignatureFailures:  counter("signature_failures_total", "Envelopes rejected for invalid hybrid signatures."),
		DecryptFailures:    counter("decrypt_failures_total", "Messages rejected by the ratchet AEAD."),
		Desyncs:            counter("desyncs_total", "Sessions terminally desynchronized."),
		Replays:            counter("replays_total", "Messages rejected as replays."),
		AuthzDenied:        counter("authorization_denied_total", "Messages rejected by policy."),
		Rotations:          counter("rotations_total", "Committed medium-key rotations."),
		Revocations:        counter("revocations_total", "Emergency key revocations."),
		Replenishments:     counter("replenishments_total", "One-time key batches published."),
	}
	reg.MustRegister(
		m.HandshakesTotal, m.HandshakeFallbacks,
		m.MessagesSent, m.MessagesReceived,
		m.SignatureFailures, m.DecryptFailures,
		m.Desyncs, m.Replays, m.AuthzDenied,
		m.Rotations, m.Revocations, m.Replenishments,
	)
	return m
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentseal",
		Name:      name,
		Help:      help,
	})
}
