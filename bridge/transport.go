package bridge

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

// EncryptionMode governs whether a transport will send and accept plain
// (kind 25910) events, gift-wrapped (kind 1059) events, or both. It is a
// plain string-backed type decoded straight out of TOML config, the same
// way the teacher's config.go types its enum-shaped fields.
type EncryptionMode string

const (
	// EncryptionDisabled never gift-wraps outgoing messages and rejects
	// incoming gift wraps.
	EncryptionDisabled EncryptionMode = "disabled"
	// EncryptionOptional (the default) gift-wraps an outgoing message when
	// the caller asks for it (see resolveEncryption) and accepts both plain
	// and wrapped incoming events.
	EncryptionOptional EncryptionMode = "optional"
	// EncryptionRequired gift-wraps every outgoing message and rejects any
	// incoming plain (kind 25910) event outright.
	EncryptionRequired EncryptionMode = "required"
)

// Valid reports whether m is one of the three known modes.
func (m EncryptionMode) Valid() bool {
	switch m {
	case EncryptionDisabled, EncryptionOptional, EncryptionRequired:
		return true
	default:
		return false
	}
}

// BaseTransport holds the pieces every client/server transport needs:
// identity, relay connectivity, and the encryption policy governing what it
// sends and will accept. Connect/Disconnect are idempotent.
type BaseTransport struct {
	Signer     *signer.Signer
	Pool       *relaypool.Pool
	RelayURLs  []string
	Encryption EncryptionMode
	Metrics    Metrics
	connected  bool
}

// NewBaseTransport constructs a transport with a default EncryptionOptional
// policy if mode is empty.
func NewBaseTransport(s *signer.Signer, pool *relaypool.Pool, relayURLs []string, mode EncryptionMode) (*BaseTransport, error) {
	if mode == "" {
		mode = EncryptionOptional
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown encryption mode %q", ErrEncryptionPolicyMismatch, mode)
	}
	return &BaseTransport{Signer: s, Pool: pool, RelayURLs: relayURLs, Encryption: mode, Metrics: noopMetrics{}}, nil
}

// Connect dials every configured relay. Calling it again while already
// connected is a no-op.
func (t *BaseTransport) Connect(ctx context.Context) error {
	if t.connected {
		return nil
	}
	if err := t.Pool.Connect(ctx, t.RelayURLs); err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}
	t.connected = true
	return nil
}

// Disconnect tears down every relay connection. Calling it again, or before
// Connect, is a no-op.
func (t *BaseTransport) Disconnect() {
	if !t.connected {
		return
	}
	t.Pool.UnsubscribeAll()
	t.Pool.Disconnect()
	t.connected = false
}

// filterForPeer builds the standard subscription filter for events destined
// to self from any author: kinds 25910 and 1059, tagged with our own
// pubkey, optionally bounded by since.
func filterForPeer(selfPubkey string, since *nostr.Timestamp) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{KindMessage, KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{selfPubkey}},
	}
	if since != nil {
		f.Since = since
	}
	return f
}

// resolveEncryption clamps a caller's preferred encryption choice (want)
// against the transport's configured EncryptionMode: DISABLED always forces
// plaintext, REQUIRED always forces encryption, OPTIONAL defers to want.
// This is spec.md §4.4/§8 invariant 5's enforcement point for outbound
// traffic; decodeIncoming enforces the symmetric inbound half.
func resolveEncryption(mode EncryptionMode, want bool) bool {
	switch mode {
	case EncryptionDisabled:
		return false
	case EncryptionRequired:
		return true
	default:
		return want
	}
}

// sendMCPMessage encodes msg and publishes it to every relay, gift-wrapping
// it first when encryption applies. The per-call wantEncrypt argument
// carries the caller's knowledge of whether this particular recipient/
// session should receive an encrypted message (spec.md §4.4: "encrypt if
// recipient is known to accept it or if the inbound request was
// encrypted"); the transport's EncryptionMode then clamps that choice:
// DISABLED always forces plaintext, REQUIRED always forces encryption,
// OPTIONAL defers to wantEncrypt.
func sendMCPMessage(ctx context.Context, t *BaseTransport, msg jsonrpc.Message, recipientPubkey, corr string, wantEncrypt bool, extra ...nostr.Tag) (nostr.Event, error) {
	encrypt := resolveEncryption(t.Encryption, wantEncrypt)

	if !encrypt {
		evt, err := EncodeMessage(ctx, t.Signer, msg, recipientPubkey, corr, extra...)
		if err != nil {
			return nostr.Event{}, err
		}
		if err := t.Pool.Publish(ctx, evt); err != nil {
			return nostr.Event{}, fmt.Errorf("%w: %v", ErrRelayPublish, err)
		}
		t.Metrics.EventPublished()
		return evt, nil
	}

	inner, err := EncodeMessage(ctx, t.Signer, msg, recipientPubkey, corr, extra...)
	if err != nil {
		return nostr.Event{}, err
	}
	wrap, err := GiftWrap(ctx, inner, recipientPubkey)
	if err != nil {
		return nostr.Event{}, err
	}
	if err := t.Pool.Publish(ctx, wrap); err != nil {
		return nostr.Event{}, fmt.Errorf("%w: %v", ErrRelayPublish, err)
	}
	t.Metrics.EventPublished()
	t.Metrics.GiftWrapSent()
	return inner, nil
}

// hasRecipientTag reports whether evt carries a `p` tag naming selfPubkey.
// The relay-side subscription filter (filterForPeer) already asks relays to
// restrict delivery this way, but a filter is only a request: a relay is
// free to hand back anything regardless of it, so the transport re-checks
// the tag itself before trusting the event (spec.md §4.5: "The event's `p`
// tag MUST name this client's public key; if not, drop.").
func hasRecipientTag(evt nostr.Event, selfPubkey string) bool {
	pTag := evt.Tags.GetFirst([]string{"p"})
	return pTag != nil && len(*pTag) > 1 && (*pTag)[1] == selfPubkey
}

// decodeIncoming turns a raw relay event into a JSON-RPC message, unwrapping
// a gift wrap first if necessary, and enforcing the transport's encryption
// policy (EncryptionRequired rejects plain events outright). It drops any
// event (outer wrap or, for a gift wrap, the unwrapped inner event) that is
// not addressed to this transport's own pubkey, regardless of what the
// subscription filter asked relays for.
func decodeIncoming(ctx context.Context, t *BaseTransport, evt nostr.Event) (jsonrpc.Message, nostr.Event, error) {
	self := t.Signer.PublicKey()
	switch evt.Kind {
	case KindGiftWrap:
		if t.Encryption == EncryptionDisabled {
			return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: gift-wrapped event rejected under disabled encryption", ErrEncryptionPolicyMismatch)
		}
		if !hasRecipientTag(evt, self) {
			return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: wrap %s not addressed to us", ErrInvalidEvent, evt.ID)
		}
		inner, err := GiftUnwrap(ctx, t.Signer, evt)
		if err != nil {
			return jsonrpc.Message{}, nostr.Event{}, err
		}
		if !hasRecipientTag(inner, self) {
			return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: unwrapped event %s not addressed to us", ErrInvalidEvent, inner.ID)
		}
		msg, err := DecodeMessage(inner)
		if err != nil {
			return jsonrpc.Message{}, nostr.Event{}, err
		}
		t.Metrics.EventReceived()
		t.Metrics.GiftWrapReceived()
		return msg, inner, nil
	case KindMessage:
		if t.Encryption == EncryptionRequired {
			return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: plain event rejected under required encryption", ErrEncryptionPolicyMismatch)
		}
		if !hasRecipientTag(evt, self) {
			return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: event %s not addressed to us", ErrInvalidEvent, evt.ID)
		}
		msg, err := DecodeMessage(evt)
		if err != nil {
			return jsonrpc.Message{}, nostr.Event{}, err
		}
		t.Metrics.EventReceived()
		return msg, evt, nil
	default:
		return jsonrpc.Message{}, nostr.Event{}, fmt.Errorf("%w: unexpected kind %d", ErrInvalidEvent, evt.Kind)
	}
}
