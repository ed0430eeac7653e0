// Package metrics exposes the bridge's Prometheus counters and gauges. It is
// purely observational — nothing in signer, relaypool, or bridge requires
// metrics to be wired up for correctness, matching SPEC_FULL.md §5's
// "ambient, never required" framing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the bridge reports. The server orchestrator
// owns the single instance for a process and optionally exposes it over an
// HTTP /metrics endpoint; the client orchestrator may use one too, unserved.
type Registry struct {
	EventsPublished    prometheus.Counter
	EventsReceived     prometheus.Counter
	SessionsActive     prometheus.Gauge
	SessionsExpired    prometheus.Counter
	RelayReconnects    prometheus.Counter
	RelayAbandonments  prometheus.Counter
	GiftWrapsSent      prometheus.Counter
	GiftWrapsReceived  prometheus.Counter
	DecryptFailures    prometheus.Counter
	RequestsDispatched prometheus.Counter
	ResponsesEmitted   prometheus.Counter
}

// New registers every metric against reg (typically
// prometheus.NewRegistry(), kept separate from the global default registry
// so tests and multiple in-process instances don't collide).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "events_published_total",
			Help: "Total Nostr events published to the relay pool.",
		}),
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "events_received_total",
			Help: "Total Nostr events received from the relay pool.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpnostr", Name: "sessions_active",
			Help: "Current number of client sessions tracked by the server transport.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "sessions_expired_total",
			Help: "Total client sessions evicted by the inactivity sweeper.",
		}),
		RelayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "relay_reconnects_total",
			Help: "Total successful relay reconnects made by the pool.",
		}),
		RelayAbandonments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "relay_abandoned_total",
			Help: "Total relays abandoned after exhausting reconnect attempts.",
		}),
		GiftWrapsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "gift_wraps_sent_total",
			Help: "Total NIP-59 gift-wrapped events sent.",
		}),
		GiftWrapsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "gift_wraps_received_total",
			Help: "Total NIP-59 gift-wrapped events received and unwrapped.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "decrypt_failures_total",
			Help: "Total failed decrypt attempts, gift wrap or otherwise.",
		}),
		RequestsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "requests_dispatched_total",
			Help: "Total requests forwarded from a client session to the local MCP server.",
		}),
		ResponsesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpnostr", Name: "responses_emitted_total",
			Help: "Total responses routed back to a client session.",
		}),
	}
	reg.MustRegister(
		r.EventsPublished, r.EventsReceived, r.SessionsActive, r.SessionsExpired,
		r.RelayReconnects, r.RelayAbandonments, r.GiftWrapsSent, r.GiftWrapsReceived,
		r.DecryptFailures, r.RequestsDispatched, r.ResponsesEmitted,
	)
	return r
}

// SessionStarted implements bridge.Metrics.
func (r *Registry) SessionStarted() { r.SessionsActive.Inc() }

// SessionExpired implements bridge.Metrics.
func (r *Registry) SessionExpired() {
	r.SessionsActive.Dec()
	r.SessionsExpired.Inc()
}

// RequestDispatched implements bridge.Metrics.
func (r *Registry) RequestDispatched() { r.RequestsDispatched.Inc() }

// ResponseEmitted implements bridge.Metrics.
func (r *Registry) ResponseEmitted() { r.ResponsesEmitted.Inc() }

// DecryptFailure implements bridge.Metrics.
func (r *Registry) DecryptFailure() { r.DecryptFailures.Inc() }

// EventPublished implements bridge.Metrics.
func (r *Registry) EventPublished() { r.EventsPublished.Inc() }

// EventReceived implements bridge.Metrics.
func (r *Registry) EventReceived() { r.EventsReceived.Inc() }

// GiftWrapSent implements bridge.Metrics.
func (r *Registry) GiftWrapSent() { r.GiftWrapsSent.Inc() }

// GiftWrapReceived implements bridge.Metrics.
func (r *Registry) GiftWrapReceived() { r.GiftWrapsReceived.Inc() }

// RelayReconnected implements relaypool.Metrics.
func (r *Registry) RelayReconnected() { r.RelayReconnects.Inc() }

// RelayAbandoned implements relaypool.Metrics.
func (r *Registry) RelayAbandoned() { r.RelayAbandonments.Inc() }
