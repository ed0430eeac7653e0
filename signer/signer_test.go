package signer

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestSignProducesVerifiableEvent(t *testing.T) {
	s, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	evt, err := s.Sign(context.Background(), EventTemplate{
		Kind:      25910,
		CreatedAt: nostr.Now(),
		Content:   `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if evt.PubKey != s.PublicKey() {
		t.Errorf("event pubkey = %q, want %q", evt.PubKey, s.PublicKey())
	}
	ok, err := evt.CheckSignature()
	if err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if !ok {
		t.Error("signature did not verify")
	}
}

func TestSignIsDeterministicForIdenticalInput(t *testing.T) {
	s, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	ts := nostr.Now()
	tmpl := EventTemplate{Kind: 25910, CreatedAt: ts, Content: "hello"}

	a, err := s.Sign(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := s.Sign(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("id not deterministic: %q vs %q", a.ID, b.ID)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	bob, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	ctx := context.Background()
	ciphertext, err := alice.Encrypt(ctx, bob.PublicKey(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	plaintext, err := bob.Decrypt(ctx, alice.PublicKey(), ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "the quick brown fox" {
		t.Errorf("plaintext = %q, want %q", plaintext, "the quick brown fox")
	}
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	alice, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	bob, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}

	ctx := context.Background()
	ciphertext, err := alice.Encrypt(ctx, bob.PublicKey(), "authenticated payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := ciphertext[:len(ciphertext)-2] + "xx"
	if _, err := bob.Decrypt(ctx, alice.PublicKey(), tampered); err == nil {
		t.Error("expected decrypt of tampered ciphertext to fail")
	}
}

func TestNewWithExplicitSecret(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	s, err := New(sk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if s.PublicKey() != want {
		t.Errorf("PublicKey() = %q, want %q", s.PublicKey(), want)
	}
}
