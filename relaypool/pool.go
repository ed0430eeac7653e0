// Package relaypool maintains one websocket connection per configured relay
// URL, reconnecting with backoff and resubscribing every active filter after
// a drop. It is the bridge's only component that touches the network
// directly; everything above it (bridge.BaseTransport and friends) only
// knows about events and filters.
package relaypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

const (
	initialReconnectInterval = 1 * time.Second
	maxReconnectInterval     = 30 * time.Second
	maxReconnectAttempts     = 5
	inspectionInterval       = 5 * time.Second
	dedupWindow              = 10 * time.Minute
	connectTimeout           = 5 * time.Second
)

// Subscription is a caller-held handle to a standing subscription across
// every relay in the pool. It survives individual relay reconnects: the pool
// reissues the same filters to a relay as soon as it comes back.
type Subscription struct {
	id      string
	filters nostr.Filters
	events  chan *nostr.Event
	pool    *Pool
}

// Events delivers deduplicated events matching the subscription's filters
// from every connected relay.
func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

// Close tears down the subscription on every relay and stops delivering
// events.
func (s *Subscription) Close() {
	s.pool.removeSubscription(s.id)
}

type relayState struct {
	url          string
	relay        *nostr.Relay
	mu           sync.Mutex
	interval     time.Duration
	attempts     int
	reconnecting bool
	subs         map[string]*nostr.Subscription
}

// Metrics is the subset of observability callbacks the pool reports
// reconnect/abandonment events through. nil (the default) disables
// reporting; SetMetrics wires in a real implementation (see the metrics
// package's Registry).
type Metrics interface {
	RelayReconnected()
	RelayAbandoned()
}

type noopPoolMetrics struct{}

func (noopPoolMetrics) RelayReconnected() {}
func (noopPoolMetrics) RelayAbandoned()   {}

// Pool owns one connection per relay URL plus the reconnect/backoff/resub
// bookkeeping spec.md §4.2 and §5 require. SimplePool's built-in
// reconnection does not expose these exact knobs, so the state machine here
// is hand-written against *nostr.Relay directly.
type Pool struct {
	logger  *slog.Logger
	metrics Metrics

	mu     sync.RWMutex
	relays map[string]*relayState

	subsMu sync.Mutex
	subs   map[string]*Subscription
	nextID int

	seenMu sync.Mutex
	seen   map[string]time.Time

	stop    chan struct{}
	stopped bool
}

// New creates an empty pool and starts the background inspection/reconnect
// loop. Relays are added, and connections established, by Connect.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		metrics: noopPoolMetrics{},
		relays:  make(map[string]*relayState),
		subs:    make(map[string]*Subscription),
		seen:    make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go p.inspectLoop()
	return p
}

// SetMetrics wires m in to receive reconnect/abandonment reports. Safe to
// call at any point after New; a nil m restores the no-op default.
func (p *Pool) SetMetrics(m Metrics) {
	if m == nil {
		m = noopPoolMetrics{}
	}
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

func (p *Pool) getMetrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// Connect dials every url not already known to the pool. A relay that fails
// to dial immediately is registered anyway (disconnected, zero attempts) so
// the inspection loop picks it up for retry rather than being silently
// dropped.
func (p *Pool) Connect(ctx context.Context, urls []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		url := url
		p.mu.Lock()
		if _, ok := p.relays[url]; ok {
			p.mu.Unlock()
			continue
		}
		rs := &relayState{url: url, interval: initialReconnectInterval, subs: make(map[string]*nostr.Subscription)}
		p.relays[url] = rs
		p.mu.Unlock()

		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(gctx, connectTimeout)
			defer cancel()
			relay, err := nostr.RelayConnect(dialCtx, url)
			if err != nil {
				p.logger.Warn("relay: initial connect failed", "url", url, "err", err)
				return nil
			}
			rs.mu.Lock()
			rs.relay = relay
			rs.mu.Unlock()
			p.logger.Debug("relay: connected", "url", url)
			return nil
		})
	}
	return g.Wait()
}

// Disconnect closes every relay connection and stops the inspection loop.
// The pool is not reusable after Disconnect.
func (p *Pool) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
	for _, rs := range p.relays {
		rs.mu.Lock()
		if rs.relay != nil {
			_ = rs.relay.Close()
		}
		rs.mu.Unlock()
	}
}

// Publish sends evt to every connected relay concurrently. It returns an
// error only if every relay rejected the publish; individual failures are
// logged and tolerated, matching spec.md §4.2's partial-failure semantics.
func (p *Pool) Publish(ctx context.Context, evt nostr.Event) error {
	p.mu.RLock()
	states := make([]*relayState, 0, len(p.relays))
	for _, rs := range p.relays {
		states = append(states, rs)
	}
	p.mu.RUnlock()

	if len(states) == 0 {
		return fmt.Errorf("relaypool: publish: no relays configured")
	}

	var mu sync.Mutex
	failures := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, rs := range states {
		rs := rs
		g.Go(func() error {
			rs.mu.Lock()
			relay := rs.relay
			rs.mu.Unlock()
			if relay == nil || !relay.IsConnected() {
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			if err := relay.Publish(gctx, evt); err != nil {
				p.logger.Warn("relay: publish failed", "url", rs.url, "event_id", evt.ID, "err", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(states) {
		return fmt.Errorf("relaypool: publish: rejected by all %d relays", len(states))
	}
	return nil
}

// Subscribe issues filters against every connected relay and returns a
// handle delivering the deduplicated, merged event stream. The same filters
// are reissued automatically whenever a relay reconnects.
func (p *Pool) Subscribe(ctx context.Context, filters nostr.Filters) *Subscription {
	p.subsMu.Lock()
	p.nextID++
	id := fmt.Sprintf("sub-%d", p.nextID)
	sub := &Subscription{id: id, filters: filters, events: make(chan *nostr.Event, 256), pool: p}
	p.subs[id] = sub
	p.subsMu.Unlock()

	p.mu.RLock()
	states := make([]*relayState, 0, len(p.relays))
	for _, rs := range p.relays {
		states = append(states, rs)
	}
	p.mu.RUnlock()

	for _, rs := range states {
		p.subscribeOnRelay(ctx, rs, sub)
	}
	return sub
}

func (p *Pool) subscribeOnRelay(ctx context.Context, rs *relayState, sub *Subscription) {
	rs.mu.Lock()
	relay := rs.relay
	rs.mu.Unlock()
	if relay == nil || !relay.IsConnected() {
		return
	}

	nostrSub, err := relay.Subscribe(ctx, sub.filters)
	if err != nil {
		p.logger.Warn("relay: subscribe failed", "url", rs.url, "err", err)
		return
	}

	rs.mu.Lock()
	rs.subs[sub.id] = nostrSub
	rs.mu.Unlock()

	go func() {
		for evt := range nostrSub.Events {
			if p.markSeen(evt.ID) {
				continue
			}
			select {
			case sub.events <- evt:
			default:
				p.logger.Warn("relaypool: subscriber slow, dropping event", "event_id", evt.ID)
			}
		}
	}()
}

func (p *Pool) removeSubscription(id string) {
	p.subsMu.Lock()
	delete(p.subs, id)
	p.subsMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rs := range p.relays {
		rs.mu.Lock()
		if s, ok := rs.subs[id]; ok {
			s.Unsub()
			delete(rs.subs, id)
		}
		rs.mu.Unlock()
	}
}

// UnsubscribeAll tears down every standing subscription on every relay.
func (p *Pool) UnsubscribeAll() {
	p.subsMu.Lock()
	ids := make([]string, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	p.subsMu.Unlock()
	for _, id := range ids {
		p.removeSubscription(id)
	}
}

func (p *Pool) markSeen(id string) (duplicate bool) {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, ok := p.seen[id]; ok {
		return true
	}
	p.seen[id] = time.Now()
	return false
}

func (p *Pool) sweepSeen() {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	cutoff := time.Now().Add(-dedupWindow)
	for id, t := range p.seen {
		if t.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}

// inspectLoop runs every inspectionInterval, reconnecting any relay whose
// connection is down and resubscribing its filters on success. Backoff
// doubles from 1s up to a 30s cap; a relay is abandoned (logged, left alone)
// after 5 consecutive failed attempts until the next process restart.
func (p *Pool) inspectLoop() {
	ticker := time.NewTicker(inspectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweepSeen()
			p.inspectOnce()
		}
	}
}

func (p *Pool) inspectOnce() {
	p.mu.RLock()
	states := make([]*relayState, 0, len(p.relays))
	for _, rs := range p.relays {
		states = append(states, rs)
	}
	p.mu.RUnlock()

	for _, rs := range states {
		rs.mu.Lock()
		connected := rs.relay != nil && rs.relay.IsConnected()
		reconnecting := rs.reconnecting
		attempts := rs.attempts
		rs.mu.Unlock()

		if connected || reconnecting {
			continue
		}
		if attempts >= maxReconnectAttempts {
			continue
		}
		go p.reconnect(rs)
	}
}

func (p *Pool) reconnect(rs *relayState) {
	rs.mu.Lock()
	rs.reconnecting = true
	wait := rs.interval
	rs.mu.Unlock()

	select {
	case <-time.After(wait):
	case <-p.stop:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	relay, err := nostr.RelayConnect(ctx, rs.url)

	rs.mu.Lock()
	rs.reconnecting = false
	if err != nil {
		rs.attempts++
		rs.interval *= 2
		if rs.interval > maxReconnectInterval {
			rs.interval = maxReconnectInterval
		}
		attempts := rs.attempts
		rs.mu.Unlock()
		if attempts >= maxReconnectAttempts {
			p.logger.Warn("relay: abandoning after repeated failures", "url", rs.url, "attempts", attempts)
			p.getMetrics().RelayAbandoned()
		} else {
			p.logger.Debug("relay: reconnect attempt failed", "url", rs.url, "attempts", attempts, "err", err)
		}
		return
	}
	rs.relay = relay
	rs.attempts = 0
	rs.interval = initialReconnectInterval
	rs.mu.Unlock()

	p.logger.Debug("relay: reconnected", "url", rs.url)
	p.getMetrics().RelayReconnected()
	p.resubscribeAll(rs)
}

func (p *Pool) resubscribeAll(rs *relayState) {
	p.subsMu.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.subsMu.Unlock()

	for _, sub := range subs {
		p.subscribeOnRelay(context.Background(), rs, sub)
	}
}
