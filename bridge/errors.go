// Package bridge implements the codec and transport layers that sit between
// a local MCP endpoint (client caller or server subprocess) and the Nostr
// relay pool: translating JSON-RPC messages to and from Nostr events,
// gift-wrapping them for confidentiality, and correlating requests with
// responses across both the client and server sides of the bridge.
package bridge

import "errors"

// Error taxonomy (spec.md §7), defined as sentinel values so callers can
// classify failures with errors.Is rather than string matching.
var (
	ErrInvalidEvent             = errors.New("bridge: invalid event")
	ErrDecryptFailed            = errors.New("bridge: decrypt failed")
	ErrUnauthorized             = errors.New("bridge: unauthorized sender")
	ErrEncryptionPolicyMismatch = errors.New("bridge: encryption policy mismatch")
	ErrNoPendingRequest         = errors.New("bridge: no pending request for correlation id")
	ErrRelayPublish             = errors.New("bridge: relay publish failed")
	ErrProgressWithoutRequest   = errors.New("bridge: progress notification without an active request")
)
