package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

// ClientTransport is the caller-facing side of the bridge (C5): it sends
// JSON-RPC requests/notifications to a single known server pubkey and
// delivers responses and unsolicited notifications back to the local
// caller. pending_request_ids tracks outbound requests awaiting a reply,
// guarded the same way the teacher guards its in-memory session state — a
// mutex around a plain map, since Send adds entries on the caller's
// goroutine while the dispatch loop removes them.
type ClientTransport struct {
	*BaseTransport
	ServerPubkey string
	Logger       *slog.Logger

	Incoming chan jsonrpc.Message

	mu                sync.Mutex
	pendingRequestIDs map[string]struct{}
	initializeResult  *jsonrpc.Message

	sub *relaypool.Subscription
}

// InitializeResult returns the first initialize response this transport has
// observed from the server, if any. Thin wrappers use it to display server
// metadata without needing to track the handshake themselves.
func (c *ClientTransport) InitializeResult() (jsonrpc.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initializeResult == nil {
		return jsonrpc.Message{}, false
	}
	return *c.initializeResult, true
}

// NewClientTransport builds a client transport targeting a single server
// identity.
func NewClientTransport(s *signer.Signer, pool *relaypool.Pool, relayURLs []string, mode EncryptionMode, serverPubkey string, logger *slog.Logger) (*ClientTransport, error) {
	base, err := NewBaseTransport(s, pool, relayURLs, mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientTransport{
		BaseTransport:     base,
		ServerPubkey:      serverPubkey,
		Logger:            logger,
		Incoming:          make(chan jsonrpc.Message, 64),
		pendingRequestIDs: make(map[string]struct{}),
	}, nil
}

// Start connects and begins listening for events addressed to us; the
// subscription does not restrict the author to the server pubkey. Call Stop
// to tear it down.
func (c *ClientTransport) Start(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.sub = c.Pool.Subscribe(ctx, nostr.Filters{filterForPeer(c.Signer.PublicKey(), nil)})
	go c.dispatchLoop(ctx)
	return nil
}

// Stop tears down the subscription and relay connections.
func (c *ClientTransport) Stop() {
	if c.sub != nil {
		c.sub.Close()
	}
	c.Disconnect()
}

// Send transmits a JSON-RPC request or notification to the server. Only a
// `p` tag addressing the server is attached — never an `e` tag, since
// outbound client messages do not correlate with any prior event. On a
// request, the id of the signed kind 25910 event (the inner event when the
// message is gift-wrapped, not the wrap) is recorded in
// pendingRequestIDs: correlation of the eventual response happens via that
// event id (referenced by the response's `e` tag), not by comparing
// JSON-RPC id values (spec.md §4.5).
func (c *ClientTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	evt, err := sendMCPMessage(ctx, c.BaseTransport, msg, c.ServerPubkey, "", true)
	if err != nil {
		return fmt.Errorf("bridge: client send: %w", err)
	}
	if msg.IsRequest() {
		c.mu.Lock()
		c.pendingRequestIDs[evt.ID] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

func (c *ClientTransport) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sub.Events():
			if !ok {
				return
			}
			c.handleIncoming(ctx, *evt)
		}
	}
}

func (c *ClientTransport) handleIncoming(ctx context.Context, evt nostr.Event) {
	msg, inner, err := decodeIncoming(ctx, c.BaseTransport, evt)
	if err != nil {
		c.Logger.Warn("client: dropping undecodable event", "event_id", evt.ID, "err", err)
		return
	}

	// decodeIncoming has already verified that both the outer wrap (or the
	// plain carrier) and, for a gift wrap, the inner event itself carry a
	// `p` tag naming us — not just that the relay honored our subscription
	// filter, which is only a request, never a security boundary. As decided
	// for Open Question 1 (DESIGN.md), we do not verify the inner author
	// against an expected server identity, only that it is addressed to us.

	if msg.IsInitializeResult() {
		c.mu.Lock()
		if c.initializeResult == nil {
			captured := msg
			c.initializeResult = &captured
		}
		c.mu.Unlock()
	}

	// Correlation is by the inner event's `e` tag, not by the JSON-RPC id:
	// the server transport restores the client's original id into the
	// response content, so two different in-flight requests could in
	// principle carry the same JSON-RPC id (spec.md §4.5).
	if eTag := inner.Tags.GetFirst([]string{"e"}); eTag != nil {
		refID := (*eTag)[1]
		c.mu.Lock()
		_, pending := c.pendingRequestIDs[refID]
		if pending {
			delete(c.pendingRequestIDs, refID)
		}
		c.mu.Unlock()
		if !pending {
			c.Logger.Debug("client: dropping response with unknown correlation event", "event_id", refID)
			return
		}
		c.Incoming <- msg
		return
	}

	if msg.IsNotification() {
		c.Incoming <- msg
		return
	}

	c.Logger.Debug("client: dropping inbound event with no e tag and no notification shape", "event_id", evt.ID)
}
