// Package signer owns the bridge's long-term Nostr keypair. It signs event
// templates and performs NIP-44 authenticated encryption with a peer's
// public key, the same Keyer-shaped operations the teacher repo uses via
// github.com/nbd-wtf/go-nostr's keyer package (see main.go's
// keyer.NewPlainKeySigner and nip51.go's selfEncrypt/selfDecrypt).
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
)

// ErrDecryptFailed is returned when decryption fails, e.g. wrong key
// material or a tampered ciphertext (NIP-44 is authenticated, so tampering
// is always detected).
var ErrDecryptFailed = errors.New("signer: decrypt failed")

// Signer produces event signatures and NIP-44 ciphertext under a single
// long-term (or ephemeral, for gift-wrap senders) keypair. It exclusively
// owns its secret key; callers only ever observe the public key.
type Signer struct {
	kr  nostr.Keyer
	pub string
}

// New builds a Signer from a hex-encoded secret key. An empty secret
// generates a fresh random keypair, mirroring the teacher's runKeygen use of
// nostr.GeneratePrivateKey.
func New(secretHex string) (*Signer, error) {
	sk := secretHex
	if sk == "" {
		sk = nostr.GeneratePrivateKey()
	}
	kr, err := keyer.NewPlainKeySigner(sk)
	if err != nil {
		return nil, fmt.Errorf("signer: new: %w", err)
	}
	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("signer: derive public key: %w", err)
	}
	return &Signer{kr: kr, pub: pub}, nil
}

// Ephemeral builds a Signer with a freshly generated random keypair, used
// for gift-wrap sender keys (§4.3 of SPEC_FULL.md).
func Ephemeral() (*Signer, error) {
	return New("")
}

// PublicKey returns the hex-encoded x-only public key.
func (s *Signer) PublicKey() string {
	return s.pub
}

// EventTemplate carries the fields a caller fills in before signing; Sign
// fills in the pubkey, id, and signature.
type EventTemplate struct {
	Kind      int
	CreatedAt nostr.Timestamp
	Tags      nostr.Tags
	Content   string
}

// Sign produces a fully signed event from a template. The id is a
// deterministic hash of the canonical serialization of the other fields, so
// identical inputs always yield the same id.
func (s *Signer) Sign(ctx context.Context, tmpl EventTemplate) (nostr.Event, error) {
	evt := nostr.Event{
		PubKey:    s.pub,
		CreatedAt: tmpl.CreatedAt,
		Kind:      tmpl.Kind,
		Tags:      tmpl.Tags,
		Content:   tmpl.Content,
	}
	if err := s.kr.SignEvent(ctx, &evt); err != nil {
		return nostr.Event{}, fmt.Errorf("signer: sign: %w", err)
	}
	return evt, nil
}

// Encrypt NIP-44-encrypts plaintext to peerPubkey using a shared secret
// derived from this signer's secret key and the peer's public key.
func (s *Signer) Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error) {
	ct, err := s.kr.Encrypt(ctx, plaintext, peerPubkey)
	if err != nil {
		return "", fmt.Errorf("signer: encrypt: %w", err)
	}
	return ct, nil
}

// Decrypt reverses Encrypt. Any failure — wrong key, corrupted or tampered
// ciphertext — is reported as ErrDecryptFailed.
func (s *Signer) Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error) {
	pt, err := s.kr.Decrypt(ctx, ciphertext, peerPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return pt, nil
}

// Keyer exposes the underlying nostr.Keyer for callers that need the raw
// interface rather than the Signer's narrower surface.
func (s *Signer) Keyer() nostr.Keyer {
	return s.kr
}
