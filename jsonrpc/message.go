// Package jsonrpc defines the minimal JSON-RPC 2.0 message shapes carried
// over the bridge. It does not implement MCP semantics — only enough of the
// envelope to classify a message as a request, notification, or response and
// to read/rewrite its id.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this bridge understands.
const Version = "2.0"

// ErrorObject is the JSON-RPC "error" member.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is a JSON-RPC 2.0 value in any of its three shapes. ID is kept as
// raw JSON so that overwriting it (the server transport's id-correlation
// trick) and restoring it later round-trips byte-for-byte regardless of
// whether the original id was a number or a string.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Parse decodes raw content into a Message. Callers treat a parse failure as
// an invalid event to be dropped, never as a fatal error.
func Parse(content []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(content, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode serializes the message back to JSON, preserving the original id
// bytes.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// HasID reports whether the message carries a non-null id member (an absent
// or null id distinguishes a notification from a request/response).
func (m Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// IsRequest reports whether m is a request: it has both a method and an id.
func (m Message) IsRequest() bool {
	return m.Method != "" && m.HasID()
}

// IsNotification reports whether m is a notification: it has a method and no
// id.
func (m Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// IsResponse reports whether m carries a result or an error, i.e. it is a
// reply to a previously issued request.
func (m Message) IsResponse() bool {
	return m.Method == "" && m.HasID() && (m.Result != nil || m.Error != nil)
}

// IDString returns the id rendered as a plain string for use as a map key,
// regardless of whether the underlying JSON value was a string or a number.
func (m Message) IDString() string {
	if !m.HasID() {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		return s
	}
	return string(m.ID)
}

// WithID returns a copy of m with its id replaced by the given string,
// JSON-encoded as a string value.
func (m Message) WithID(id string) Message {
	out := m
	out.ID, _ = json.Marshal(id)
	return out
}

// WithRawID returns a copy of m with its id replaced by raw JSON bytes
// (used to restore an original id exactly, number or string).
func (m Message) WithRawID(raw json.RawMessage) Message {
	out := m
	out.ID = raw
	return out
}

// NewRequest builds a request message with a string id.
func NewRequest(id, method string, params any) (Message, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("jsonrpc: marshal params: %w", err)
		}
		raw = b
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: idBytes, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params any) (Message, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("jsonrpc: marshal params: %w", err)
		}
		raw = b
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful response to id.
func NewResult(id json.RawMessage, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// ProgressToken extracts params._meta.progressToken from a request, if
// present. It returns "", false when absent or malformed.
func (m Message) ProgressToken() (string, bool) {
	if len(m.Params) == 0 {
		return "", false
	}
	var p struct {
		Meta struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(m.Params, &p); err != nil {
		return "", false
	}
	if len(p.Meta.ProgressToken) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p.Meta.ProgressToken, &s); err == nil {
		return s, true
	}
	// Numeric progress tokens are valid MCP too; stringify them verbatim.
	return string(p.Meta.ProgressToken), true
}

// IsInitializeResult reports whether a response's result looks like an
// initialize result (carries serverInfo and protocolVersion).
func (m Message) IsInitializeResult() bool {
	if len(m.Result) == 0 {
		return false
	}
	var r struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ServerInfo      json.RawMessage `json:"serverInfo"`
	}
	if err := json.Unmarshal(m.Result, &r); err != nil {
		return false
	}
	return r.ProtocolVersion != "" && len(r.ServerInfo) > 0
}
