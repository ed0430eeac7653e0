package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pinpox/mcpnostr/jsonrpc"
)

// capabilityID identifies the priced capability a request invokes, matching
// the key shape of a `cap` discovery tag (spec.md §3/§6): the bare method
// for a method-level price, or "<method>:<name-or-uri>" for a call that
// names a specific tool/resource/prompt, since a server may price
// "tools/call" capabilities individually rather than as a whole.
func capabilityID(msg jsonrpc.Message) string {
	switch msg.Method {
	case "tools/call":
		if name, ok := paramString(msg.Params, "name"); ok {
			return msg.Method + ":" + name
		}
	case "resources/read":
		if uri, ok := paramString(msg.Params, "uri"); ok {
			return msg.Method + ":" + uri
		}
	case "prompts/get":
		if name, ok := paramString(msg.Params, "name"); ok {
			return msg.Method + ":" + name
		}
	}
	return msg.Method
}

// paramString extracts a string-valued field from a request's params
// object, returning ok=false if params is absent, not an object, or the
// field is missing or not a string.
func paramString(params json.RawMessage, key string) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// priceFor reports the configured price for msg's capability, if any.
func (srv *ServerTransport) priceFor(msg jsonrpc.Message) (CapabilityPrice, bool) {
	if len(srv.Pricing) == 0 {
		return CapabilityPrice{}, false
	}
	price, ok := srv.Pricing[capabilityID(msg)]
	return price, ok
}

// paymentRequiredParams is the params shape of a notifications/payment_required
// notification (spec.md §6): amount, currency, and an opaque invoice string.
// Settlement itself is out of scope (spec.md §1 Non-goals); this only
// proxies the request for payment.
type paymentRequiredParams struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Invoice  string `json:"invoice"`
}

// paymentRequiredNotification builds the notifications/payment_required
// message advertising price, with a freshly minted opaque invoice string.
func paymentRequiredNotification(price CapabilityPrice) (jsonrpc.Message, error) {
	return jsonrpc.NewNotification("notifications/payment_required", paymentRequiredParams{
		Amount:   price.Price,
		Currency: price.Currency,
		Invoice:  uuid.NewString(),
	})
}

// sendPaymentRequired notifies clientPubkey that the request it just sent
// (identified by inboundEventID, tagged as the `e` value per spec.md §6)
// invokes a priced capability, before the local server's result is
// delivered. Failure is non-fatal to the request itself: the caller logs
// and still forwards the request to the local server.
func (srv *ServerTransport) sendPaymentRequired(ctx context.Context, clientPubkey, inboundEventID string, encrypted bool, price CapabilityPrice) error {
	notif, err := paymentRequiredNotification(price)
	if err != nil {
		return fmt.Errorf("server: build payment_required: %w", err)
	}
	if _, err := sendMCPMessage(ctx, srv.BaseTransport, notif, clientPubkey, inboundEventID, encrypted); err != nil {
		return fmt.Errorf("server: send payment_required: %w", err)
	}
	return nil
}
