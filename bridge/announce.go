package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/signer"
)

// ServerMetadata is the human-facing server description published in
// discovery announcements and, when a session is encrypted, alongside its
// initialize response (spec.md §3: name/about/website/picture tags).
type ServerMetadata struct {
	Name    string
	About   string
	Website string
	Picture string
}

// CapabilityPrice is one entry of the capability-pricing table (spec.md
// §6), published as a `cap` tag: `["cap", name-or-uri, price, currency]`.
type CapabilityPrice struct {
	Price    string
	Currency string
}

// discoveryTags builds the common tag set every discovery announcement
// carries, plus any `cap` tags for priced capabilities. support_encryption
// is a bare presence tag, included whenever the transport's encryption
// mode is not DISABLED.
func (srv *ServerTransport) discoveryTags() nostr.Tags {
	var tags nostr.Tags
	if srv.Info.Name != "" {
		tags = append(tags, nostr.Tag{"name", srv.Info.Name})
	}
	if srv.Info.About != "" {
		tags = append(tags, nostr.Tag{"about", srv.Info.About})
	}
	if srv.Info.Website != "" {
		tags = append(tags, nostr.Tag{"website", srv.Info.Website})
	}
	if srv.Info.Picture != "" {
		tags = append(tags, nostr.Tag{"picture", srv.Info.Picture})
	}
	if srv.Encryption != EncryptionDisabled {
		tags = append(tags, nostr.Tag{"support_encryption"})
	}
	for name, price := range srv.Pricing {
		tags = append(tags, nostr.Tag{"cap", name, price.Price, price.Currency})
	}
	return tags
}

// announceWaitTimeout bounds how long the bootstrap sequence waits for each
// local-server reply before logging a warning and moving on; a slow or
// unresponsive local server should never prevent the process from starting.
const announceWaitTimeout = 10 * time.Second

// announceSteps pairs each MCP list method with the replaceable discovery
// kind its result is published under.
var announceSteps = []struct {
	method string
	kind   int
}{
	{"initialize", KindAnnounceInitialize},
	{"tools/list", KindAnnounceToolsList},
	{"resources/list", KindAnnounceResourcesList},
	{"resources/templates/list", KindAnnounceResourceTemplates},
	{"prompts/list", KindAnnouncePromptsList},
}

// RunAnnouncements drives the discovery announcement bootstrap (§4.6.6): it
// issues synthetic internal requests to the local MCP server — the literal
// id "announcement" for initialize, fresh UUIDs for the remaining list
// methods — and publishes each clear (unencrypted, kind 2 5910 never used
// here; these are public discovery kinds 11316-11320) result so that a
// public server advertises its capabilities without requiring any client to
// complete a handshake first. A step whose local server reply does not
// arrive within announceWaitTimeout is logged and skipped; IsPublicServer
// callers are expected to retry on their own schedule if desired.
func (srv *ServerTransport) RunAnnouncements(ctx context.Context) {
	logger := srv.Logger
	for _, step := range announceSteps {
		id := "announcement"
		if step.method != "initialize" {
			id = newAnnouncementRequestID()
		}

		req, err := jsonrpc.NewRequest(id, step.method, nil)
		if err != nil {
			logger.Warn("announce: build request failed", "method", step.method, "err", err)
			continue
		}

		// The waiter slot must exist before the request is forwarded: the
		// local server may reply on its own goroutine faster than this loop
		// reaches awaitLocalResponse, and an unregistered reply is dropped.
		srv.registerWaiter(id)
		if err := srv.Forward(ctx, req); err != nil {
			logger.Warn("announce: forward to local server failed", "method", step.method, "err", err)
			srv.discardWaiter(id)
			continue
		}

		resp, ok := srv.awaitLocalResponse(ctx, id, announceWaitTimeout)
		if !ok {
			logger.Warn("announce: timed out waiting for local server reply, proceeding", "method", step.method)
			continue
		}
		if resp.Error != nil {
			logger.Warn("announce: local server returned an error, skipping publish", "method", step.method, "err", resp.Error)
			continue
		}

		if err := srv.publishAnnouncement(ctx, step.kind, resp.Result); err != nil {
			logger.Warn("announce: publish failed", "method", step.method, "kind", step.kind, "err", err)
		}

		if step.method == "initialize" {
			srv.markInitialized()
			notif, err := jsonrpc.NewNotification("notifications/initialized", nil)
			if err != nil {
				logger.Warn("announce: build initialized notification failed", "err", err)
				continue
			}
			if err := srv.Forward(ctx, notif); err != nil {
				logger.Warn("announce: forwarding initialized notification failed", "err", err)
			}
		}
	}
}

// publishAnnouncement signs and publishes a replaceable discovery event
// carrying result as its content, in cleartext — discovery announcements
// are intentionally public and never gift-wrapped.
func (srv *ServerTransport) publishAnnouncement(ctx context.Context, kind int, result json.RawMessage) error {
	evt, err := srv.Signer.Sign(ctx, signer.EventTemplate{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      srv.discoveryTags(),
		Content:   string(result),
	})
	if err != nil {
		return fmt.Errorf("announce: sign: %w", err)
	}
	if err := srv.Pool.Publish(ctx, evt); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayPublish, err)
	}
	return nil
}
