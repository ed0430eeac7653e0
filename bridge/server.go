package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

// Forwarder delivers a JSON-RPC message to the local MCP server subprocess.
// The cmd/mcpnostr-server orchestrator supplies the concrete implementation
// (writing a line to the subprocess's stdin); ServerTransport itself never
// touches a process.
type Forwarder func(ctx context.Context, msg jsonrpc.Message) error

// ServerTransport is the network-facing side of the bridge (C6). It accepts
// requests from remote MCP clients over Nostr, forwards them to a local MCP
// server, and routes the local server's responses and notifications back to
// the right client — performing the "id overloading" trick described in
// spec.md §9 so that two different clients can reuse the same JSON-RPC id
// without colliding inside the local server's own bookkeeping: the outbound
// id handed to the local server is the Nostr event id, globally unique, and
// the original id is restored before the reply goes back out over Nostr.
// That substitution is strictly internal — the network never sees anything
// but each client's own original id.
type ServerTransport struct {
	*BaseTransport
	Forward        Forwarder
	AllowedPubkeys map[string]struct{} // nil/empty => public server, anyone may connect
	SessionTimeout time.Duration
	Logger         *slog.Logger
	Metrics        Metrics

	// Info and Pricing feed the common discovery tags (spec.md §3/§4.6.6)
	// attached to every announcement event and to an initialize response
	// sent to an encrypted session. Both are optional; with their zero
	// values no name/about/website/picture or cap tags are added (the
	// support_encryption tag depends only on the encryption mode).
	Info    ServerMetadata
	Pricing map[string]CapabilityPrice

	sessions *sessionStore

	// initMu/initialized back §4.6.1's "is_initialized local flag for the
	// server's own initialization used for announcement bootstrapping": it
	// is set once the synthetic initialize step of RunAnnouncements
	// completes, independent of any remote client session's own state.
	initMu      sync.Mutex
	initialized bool

	// pendingOwner maps a substituted (event) id back to the client pubkey
	// that owns it, so a local server reply — which only carries the
	// substituted id — can be routed to the right session without scanning
	// every session's pending map.
	pendingMu    sync.Mutex
	pendingOwner map[string]string

	// waitersMu/waiters back announce.go's bootstrap sequence: internal
	// synthetic requests (not tied to any client session) register a
	// channel here keyed by their substituted id and HandleLocalMessage
	// resolves it instead of treating the reply as a client response.
	waitersMu sync.Mutex
	waiters   map[string]chan jsonrpc.Message

	sub *relaypool.Subscription
}

// Metrics is the subset of the metrics package ServerTransport reports
// through, kept as an interface so bridge does not import metrics directly
// (metrics imports nothing from bridge, avoiding an import cycle either
// way, but the interface keeps ServerTransport testable without a real
// registry).
type Metrics interface {
	SessionStarted()
	SessionExpired()
	RequestDispatched()
	ResponseEmitted()
	DecryptFailure()
	EventPublished()
	EventReceived()
	GiftWrapSent()
	GiftWrapReceived()
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()    {}
func (noopMetrics) SessionExpired()    {}
func (noopMetrics) RequestDispatched() {}
func (noopMetrics) ResponseEmitted()   {}
func (noopMetrics) DecryptFailure()    {}
func (noopMetrics) EventPublished()    {}
func (noopMetrics) EventReceived()     {}
func (noopMetrics) GiftWrapSent()      {}
func (noopMetrics) GiftWrapReceived()  {}

// NewServerTransport builds a server transport. allowedPubkeys may be empty
// for a public server that accepts any client.
func NewServerTransport(s *signer.Signer, pool *relaypool.Pool, relayURLs []string, mode EncryptionMode, allowedPubkeys []string, forward Forwarder, logger *slog.Logger, metrics Metrics) (*ServerTransport, error) {
	base, err := NewBaseTransport(s, pool, relayURLs, mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	base.Metrics = metrics
	allowed := make(map[string]struct{}, len(allowedPubkeys))
	for _, pk := range allowedPubkeys {
		allowed[pk] = struct{}{}
	}
	return &ServerTransport{
		BaseTransport:  base,
		Forward:        forward,
		AllowedPubkeys: allowed,
		SessionTimeout: sessionDefaultTimeout,
		Logger:         logger,
		Metrics:        metrics,
		sessions:       newSessionStore(),
		pendingOwner:   make(map[string]string),
		waiters:        make(map[string]chan jsonrpc.Message),
	}, nil
}

// registerWaiter opens a wait slot for substitutedID and must be called
// before the corresponding request is forwarded to the local server: a
// reply that resolves via HandleLocalMessage faster than the caller gets
// around to waiting on it would otherwise be dropped. Pair with
// awaitLocalResponse on the same id to wait and clean up the slot.
func (srv *ServerTransport) registerWaiter(substitutedID string) chan jsonrpc.Message {
	ch := make(chan jsonrpc.Message, 1)
	srv.waitersMu.Lock()
	srv.waiters[substitutedID] = ch
	srv.waitersMu.Unlock()
	return ch
}

// discardWaiter removes a waiter slot opened by registerWaiter without
// waiting on it, for a caller that failed before it could forward the
// corresponding request.
func (srv *ServerTransport) discardWaiter(substitutedID string) {
	srv.waitersMu.Lock()
	delete(srv.waiters, substitutedID)
	srv.waitersMu.Unlock()
}

// awaitLocalResponse blocks on the channel previously opened by
// registerWaiter(substitutedID) until HandleLocalMessage resolves it or
// timeout elapses, then removes the waiter slot either way.
func (srv *ServerTransport) awaitLocalResponse(ctx context.Context, substitutedID string, timeout time.Duration) (jsonrpc.Message, bool) {
	srv.waitersMu.Lock()
	ch, ok := srv.waiters[substitutedID]
	srv.waitersMu.Unlock()
	if !ok {
		ch = srv.registerWaiter(substitutedID)
	}

	defer func() {
		srv.waitersMu.Lock()
		delete(srv.waiters, substitutedID)
		srv.waitersMu.Unlock()
	}()

	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(timeout):
		return jsonrpc.Message{}, false
	case <-ctx.Done():
		return jsonrpc.Message{}, false
	}
}

// Start connects, subscribes to events addressed to this server, and begins
// the dispatch loop and inactivity sweeper.
func (srv *ServerTransport) Start(ctx context.Context) error {
	if err := srv.Connect(ctx); err != nil {
		return err
	}
	srv.sub = srv.Pool.Subscribe(ctx, nostr.Filters{filterForPeer(srv.Signer.PublicKey(), nil)})
	go srv.dispatchLoop(ctx)
	go srv.sweepLoop(ctx)
	return nil
}

// Stop tears down the subscription and relay connections.
func (srv *ServerTransport) Stop() {
	if srv.sub != nil {
		srv.sub.Close()
	}
	srv.Disconnect()
}

func (srv *ServerTransport) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-srv.sub.Events():
			if !ok {
				return
			}
			srv.handleRemoteEvent(ctx, *evt)
		}
	}
}

// markInitialized records that the server's own synthetic initialize step
// (announce.go's RunAnnouncements) has completed.
func (srv *ServerTransport) markInitialized() {
	srv.initMu.Lock()
	srv.initialized = true
	srv.initMu.Unlock()
}

// IsInitialized reports whether the server's own initialize handshake has
// completed, per spec.md §4.6.1.
func (srv *ServerTransport) IsInitialized() bool {
	srv.initMu.Lock()
	defer srv.initMu.Unlock()
	return srv.initialized
}

func (srv *ServerTransport) isAuthorized(pubkey string) bool {
	if len(srv.AllowedPubkeys) == 0 {
		return true
	}
	_, ok := srv.AllowedPubkeys[pubkey]
	return ok
}

// handleRemoteEvent decodes an inbound client event, enforces authorization
// and encryption policy, and forwards the contained JSON-RPC message to the
// local MCP server with its id substituted for the Nostr event id.
func (srv *ServerTransport) handleRemoteEvent(ctx context.Context, evt nostr.Event) {
	msg, inner, err := decodeIncoming(ctx, srv.BaseTransport, evt)
	if err != nil {
		srv.Logger.Warn("server: dropping undecodable event", "event_id", evt.ID, "err", err)
		if isDecryptFailure(err) {
			srv.Metrics.DecryptFailure()
		}
		return
	}

	clientPubkey := inner.PubKey
	if !srv.isAuthorized(clientPubkey) {
		srv.Logger.Warn("server: rejecting unauthorized client", "err", fmt.Errorf("%w: %s", ErrUnauthorized, clientPubkey))
		return
	}

	session, created := srv.sessions.getOrCreate(clientPubkey)
	if created {
		srv.Metrics.SessionStarted()
	}
	session.touch()
	session.setEncrypted(evt.Kind == KindGiftWrap)

	switch {
	case msg.IsRequest():
		substituted := inner.ID
		progressToken, _ := msg.ProgressToken()
		session.addPending(substituted, msg.ID, inner.ID, progressToken)

		srv.pendingMu.Lock()
		srv.pendingOwner[substituted] = clientPubkey
		srv.pendingMu.Unlock()

		if price, priced := srv.priceFor(msg); priced {
			if err := srv.sendPaymentRequired(ctx, clientPubkey, inner.ID, session.isEncrypted(), price); err != nil {
				srv.Logger.Warn("server: sending payment_required notification failed", "err", err)
			}
		}

		toLocal := msg.WithID(substituted)
		if err := srv.Forward(ctx, toLocal); err != nil {
			srv.Logger.Warn("server: forwarding request to local server failed", "err", err)
			return
		}
		srv.Metrics.RequestDispatched()

	case msg.IsNotification():
		if err := srv.Forward(ctx, msg); err != nil {
			srv.Logger.Warn("server: forwarding notification to local server failed", "err", err)
		}
		if msg.Method == "notifications/initialized" {
			session.setInitialized()
		}

	default:
		srv.Logger.Debug("server: dropping unexpected response-shaped inbound event", "event_id", evt.ID)
	}
}

// HandleLocalMessage is called by the orchestrator for every JSON-RPC
// message the local MCP server subprocess emits: a response to a
// previously forwarded request, or an unsolicited notification (e.g.
// notifications/progress, notifications/resources/updated).
func (srv *ServerTransport) HandleLocalMessage(ctx context.Context, msg jsonrpc.Message) error {
	switch {
	case msg.IsResponse():
		return srv.routeResponse(ctx, msg)
	case msg.IsNotification():
		return srv.broadcastNotification(ctx, msg)
	default:
		return fmt.Errorf("%w: local message is neither response nor notification", ErrInvalidEvent)
	}
}

func (srv *ServerTransport) routeResponse(ctx context.Context, msg jsonrpc.Message) error {
	substituted := msg.IDString()

	srv.waitersMu.Lock()
	waiter, isInternal := srv.waiters[substituted]
	srv.waitersMu.Unlock()
	if isInternal {
		waiter <- msg
		return nil
	}

	srv.pendingMu.Lock()
	pubkey, ok := srv.pendingOwner[substituted]
	if ok {
		delete(srv.pendingOwner, substituted)
	}
	srv.pendingMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRequest, substituted)
	}

	session, ok := srv.sessions.get(pubkey)
	if !ok {
		return fmt.Errorf("%w: session for %s no longer exists", ErrNoPendingRequest, pubkey)
	}
	entry, ok := session.takePending(substituted)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRequest, substituted)
	}

	restored := msg.WithRawID(entry.originalID)
	session.touch()
	encrypted := session.isEncrypted()

	var extra nostr.Tags
	if encrypted && msg.IsInitializeResult() {
		extra = srv.discoveryTags()
	}
	if _, err := sendMCPMessage(ctx, srv.BaseTransport, restored, pubkey, entry.eventID, encrypted, extra...); err != nil {
		return fmt.Errorf("server: route response: %w", err)
	}
	srv.Metrics.ResponseEmitted()
	return nil
}

// broadcastNotification delivers a server-originated notification. A
// progress notification carrying a progressToken is routed solely to the
// one session whose pending map tracks that token, tagged with the `e` of
// the originating request (spec.md §4.6.3/§4.6.5); any other notification
// is broadcast to every initialized session — including
// notifications/resources/updated, with no attempt to associate it with a
// specific pending request (spec.md §9 Open Question 3).
func (srv *ServerTransport) broadcastNotification(ctx context.Context, msg jsonrpc.Message) error {
	progressToken, hasToken := msg.ProgressToken()
	if !hasToken && msg.Method == "notifications/progress" && len(msg.Params) > 0 {
		// A progress notification names its token at params.progressToken.
		var p struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		}
		if err := json.Unmarshal(msg.Params, &p); err == nil && len(p.ProgressToken) > 0 {
			progressToken, hasToken = string(p.ProgressToken), true
			var s string
			if json.Unmarshal(p.ProgressToken, &s) == nil {
				progressToken = s
			}
		}
	}
	hasToken = hasToken && msg.Method == "notifications/progress"

	if hasToken {
		for _, session := range srv.sessions.all() {
			substituted, ok := session.substitutedIDForProgressToken(progressToken)
			if !ok {
				continue
			}
			if _, err := sendMCPMessage(ctx, srv.BaseTransport, msg, session.pubkey, substituted, session.isEncrypted()); err != nil {
				return fmt.Errorf("%w: %v", ErrProgressWithoutRequest, err)
			}
			return nil
		}
		return fmt.Errorf("%w: token %s", ErrProgressWithoutRequest, progressToken)
	}

	for _, session := range srv.sessions.all() {
		if !session.isInitialized() {
			continue
		}
		if _, err := sendMCPMessage(ctx, srv.BaseTransport, msg, session.pubkey, "", session.isEncrypted()); err != nil {
			srv.Logger.Warn("server: broadcast to session failed", "pubkey", session.pubkey, "err", err)
		}
	}
	return nil
}

func (srv *ServerTransport) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(srv.SessionTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := srv.sessions.sweepExpired(srv.SessionTimeout)
			for range expired {
				srv.Metrics.SessionExpired()
			}
			if len(expired) > 0 {
				srv.Logger.Debug("server: evicted idle sessions", "count", len(expired))
			}
		}
	}
}

func isDecryptFailure(err error) bool {
	return errors.Is(err, ErrDecryptFailed)
}

// newAnnouncementRequestID returns a fresh id for the discovery
// announcement bootstrap's synthetic internal requests beyond the literal
// "announcement" id used for initialize (see announce.go).
func newAnnouncementRequestID() string {
	return uuid.NewString()
}
