package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

// fakeLocalServer answers every forwarded request on its own goroutine,
// letting RunAnnouncements' awaitLocalResponse resolve immediately instead
// of waiting out announceWaitTimeout.
func fakeLocalServer(t *testing.T, srv *ServerTransport) (forward Forwarder, notifications *[]string) {
	t.Helper()
	var mu sync.Mutex
	var notes []string
	notifications = &notes

	forward = func(ctx context.Context, msg jsonrpc.Message) error {
		if msg.IsNotification() {
			mu.Lock()
			notes = append(notes, msg.Method)
			mu.Unlock()
			return nil
		}
		var result json.RawMessage
		switch msg.Method {
		case "initialize":
			result = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"test"}}`)
		default:
			result = json.RawMessage(`{}`)
		}
		reply, err := jsonrpc.NewResult(msg.ID, json.RawMessage(result))
		if err != nil {
			return err
		}
		go func() { _ = srv.HandleLocalMessage(ctx, reply) }()
		return nil
	}
	return forward, notifications
}

func TestRunAnnouncementsMarksInitializedAndNotifiesLocalServer(t *testing.T) {
	s, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	pool := relaypool.New(slog.Default())
	t.Cleanup(pool.Disconnect)

	srv, err := NewServerTransport(s, pool, nil, EncryptionOptional, nil, nil, slog.Default(), nil)
	if err != nil {
		t.Fatalf("NewServerTransport: %v", err)
	}
	forward, notifications := fakeLocalServer(t, srv)
	srv.Forward = forward

	if srv.IsInitialized() {
		t.Fatal("server should not be initialized before RunAnnouncements")
	}

	srv.RunAnnouncements(context.Background())

	if !srv.IsInitialized() {
		t.Error("RunAnnouncements should mark the server initialized after the synthetic initialize step")
	}

	found := false
	for _, m := range *notifications {
		if m == "notifications/initialized" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a notifications/initialized forward to the local server, got %v", *notifications)
	}
}

func TestAwaitLocalResponseTimesOutGracefully(t *testing.T) {
	s, err := signer.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	pool := relaypool.New(slog.Default())
	t.Cleanup(pool.Disconnect)

	// The forward never replies, so nothing resolves the waiter: calling
	// awaitLocalResponse directly with a zero timeout takes its timeout path
	// without waiting out the real 10s announceWaitTimeout.
	forward := func(_ context.Context, _ jsonrpc.Message) error { return nil }
	srv, err := NewServerTransport(s, pool, nil, EncryptionOptional, nil, forward, slog.Default(), nil)
	if err != nil {
		t.Fatalf("NewServerTransport: %v", err)
	}

	_, ok := srv.awaitLocalResponse(context.Background(), "announcement", 0)
	if ok {
		t.Fatal("expected awaitLocalResponse to time out when nothing resolves the waiter")
	}
	if srv.IsInitialized() {
		t.Error("a timed-out wait should not mark the server initialized")
	}
}
