package bridge

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/signer"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	s, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	recipient, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	msg, err := jsonrpc.NewRequest("1", "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	ctx := context.Background()
	evt, err := EncodeMessage(ctx, s, msg, recipient.PublicKey(), "")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if evt.Kind != KindMessage {
		t.Errorf("kind = %d, want %d", evt.Kind, KindMessage)
	}

	got, err := DecodeMessage(evt)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Method != "tools/list" {
		t.Errorf("method = %q, want tools/list", got.Method)
	}
}

func TestGiftWrapUnwrapRoundTrip(t *testing.T) {
	sender, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	recipient, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	ctx := context.Background()
	msg, err := jsonrpc.NewNotification("notifications/progress", nil)
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	inner, err := EncodeMessage(ctx, sender, msg, recipient.PublicKey(), "")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	wrap, err := GiftWrap(ctx, inner, recipient.PublicKey())
	if err != nil {
		t.Fatalf("GiftWrap: %v", err)
	}
	if wrap.Kind != KindGiftWrap {
		t.Errorf("wrap kind = %d, want %d", wrap.Kind, KindGiftWrap)
	}
	if wrap.PubKey == sender.PublicKey() {
		t.Error("wrap must be signed by an ephemeral key, not the sender's long-term key")
	}
	if len(wrap.Tags) != 1 || wrap.Tags[0][0] != "p" || wrap.Tags[0][1] != recipient.PublicKey() {
		t.Errorf("wrap tags = %v, want single p tag to recipient", wrap.Tags)
	}

	unwrapped, err := GiftUnwrap(ctx, recipient, wrap)
	if err != nil {
		t.Fatalf("GiftUnwrap: %v", err)
	}
	if unwrapped.ID != inner.ID {
		t.Errorf("unwrapped id = %q, want %q", unwrapped.ID, inner.ID)
	}

	got, err := DecodeMessage(unwrapped)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Method != "notifications/progress" {
		t.Errorf("method = %q, want notifications/progress", got.Method)
	}
}

func TestGiftUnwrapRejectsWrongKind(t *testing.T) {
	recipient, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	_, err = GiftUnwrap(context.Background(), recipient, nostr.Event{Kind: KindMessage})
	if err == nil {
		t.Error("expected error unwrapping a non-1059 event")
	}
}
