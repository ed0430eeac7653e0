package bridge

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

func TestResolveEncryption(t *testing.T) {
	cases := []struct {
		mode EncryptionMode
		want bool
		out  bool
	}{
		{EncryptionDisabled, true, false},
		{EncryptionDisabled, false, false},
		{EncryptionRequired, true, true},
		{EncryptionRequired, false, true},
		{EncryptionOptional, true, true},
		{EncryptionOptional, false, false},
	}
	for _, c := range cases {
		if got := resolveEncryption(c.mode, c.want); got != c.out {
			t.Errorf("resolveEncryption(%s, %v) = %v, want %v", c.mode, c.want, got, c.out)
		}
	}
}

func newTestBaseTransport(t *testing.T, mode EncryptionMode) (*BaseTransport, *signer.Signer) {
	t.Helper()
	s, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	pool := relaypool.New(slog.Default())
	t.Cleanup(pool.Disconnect)
	base, err := NewBaseTransport(s, pool, nil, mode)
	if err != nil {
		t.Fatalf("NewBaseTransport: %v", err)
	}
	return base, s
}

// TestDecodeIncomingRejectsGiftWrapUnderDisabled covers spec.md §8 invariant
// 5's inbound half: a transport configured EncryptionDisabled must reject a
// gift-wrapped event outright rather than unwrap it.
func TestDecodeIncomingRejectsGiftWrapUnderDisabled(t *testing.T) {
	base, _ := newTestBaseTransport(t, EncryptionDisabled)

	wrap := nostr.Event{Kind: KindGiftWrap, Content: "irrelevant, rejected before decrypt is attempted"}

	_, _, err := decodeIncoming(context.Background(), base, wrap)
	if err == nil {
		t.Fatal("expected decodeIncoming to reject a gift wrap under EncryptionDisabled")
	}
	if !errors.Is(err, ErrEncryptionPolicyMismatch) {
		t.Errorf("err = %v, want ErrEncryptionPolicyMismatch", err)
	}
}

// TestDecodeIncomingRejectsPlaintextUnderRequired covers spec.md §8
// invariant 5's inbound half: a transport configured EncryptionRequired must
// reject a plain (kind 25910) event rather than accept it.
func TestDecodeIncomingRejectsPlaintextUnderRequired(t *testing.T) {
	base, self := newTestBaseTransport(t, EncryptionRequired)
	sender, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	req, err := jsonrpc.NewRequest("1", "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	plain, err := EncodeMessage(context.Background(), sender, req, self.PublicKey(), "")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	_, _, err = decodeIncoming(context.Background(), base, plain)
	if err == nil {
		t.Fatal("expected decodeIncoming to reject a plain event under EncryptionRequired")
	}
	if !errors.Is(err, ErrEncryptionPolicyMismatch) {
		t.Errorf("err = %v, want ErrEncryptionPolicyMismatch", err)
	}
}

// TestDecodeIncomingAcceptsGiftWrapUnderRequired is the positive case
// alongside the rejection above: a gift-wrapped event must still decode
// normally when encryption is required.
func TestDecodeIncomingAcceptsGiftWrapUnderRequired(t *testing.T) {
	base, self := newTestBaseTransport(t, EncryptionRequired)
	sender, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	req, err := jsonrpc.NewRequest("1", "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	inner, err := EncodeMessage(context.Background(), sender, req, self.PublicKey(), "")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	wrap, err := GiftWrap(context.Background(), inner, self.PublicKey())
	if err != nil {
		t.Fatalf("GiftWrap: %v", err)
	}

	msg, decodedInner, err := decodeIncoming(context.Background(), base, wrap)
	if err != nil {
		t.Fatalf("decodeIncoming: %v", err)
	}
	if msg.Method != "tools/list" {
		t.Errorf("method = %q, want tools/list", msg.Method)
	}
	if decodedInner.PubKey != sender.PublicKey() {
		t.Errorf("inner pubkey = %q, want %q", decodedInner.PubKey, sender.PublicKey())
	}
}
