package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"

	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

// startTestRelay spins up a real khatru relay backed by an in-memory
// eventstore, the same embedded-relay shape the teacher's own
// integration_test.go uses (khatru29.Init + slicestore there; plain
// khatru.NewRelay + slicestore here, since this bridge has no NIP-29 group
// traffic to special-case). Exercising the codec and transports against an
// actual relay over a real websocket is what a purely unit-level test suite
// cannot catch: a relay that hands back events a subscription filter never
// asked for, or a signature it never checked.
func startTestRelay(t *testing.T) string {
	t.Helper()

	relay := khatru.NewRelay()
	relay.Info.Name = "mcpnostr-test-relay"

	db := &slicestore.SliceStore{}
	if err := db.Init(); err != nil {
		t.Fatalf("slicestore.Init: %v", err)
	}
	t.Cleanup(db.Close)

	relay.StoreEvent = append(relay.StoreEvent, db.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, db.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, db.DeleteEvent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &http.Server{Handler: relay}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	return fmt.Sprintf("ws://%s", ln.Addr())
}

// TestClientServerRoundTripOverRealRelay drives spec.md §8 scenario S1 end
// to end through a real relay: a client transport publishes a tools/list
// request, a server transport (backed by a stub local MCP server) receives
// it over the wire, substitutes and restores the id per §4.6.4, and
// publishes the response back; the client must observe its own original
// JSON-RPC id, the right result, and leave no pending bookkeeping behind.
func TestClientServerRoundTripOverRealRelay(t *testing.T) {
	relayURL := startTestRelay(t)
	logger := slog.Default()

	serverSigner, err := signer.New("")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	clientSigner, err := signer.New("")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}

	serverPool := relaypool.New(logger)
	t.Cleanup(serverPool.Disconnect)
	clientPool := relaypool.New(logger)
	t.Cleanup(clientPool.Disconnect)

	var srv *ServerTransport
	forward := func(ctx context.Context, msg jsonrpc.Message) error {
		if !msg.IsRequest() {
			return nil
		}
		go func() {
			result, err := jsonrpc.NewResult(msg.ID, map[string]any{
				"tools": []map[string]string{{"name": "add"}},
			})
			if err != nil {
				return
			}
			_ = srv.HandleLocalMessage(context.Background(), result)
		}()
		return nil
	}

	srv, err = NewServerTransport(serverSigner, serverPool, []string{relayURL}, EncryptionOptional, nil, forward, logger, nil)
	if err != nil {
		t.Fatalf("NewServerTransport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	cli, err := NewClientTransport(clientSigner, clientPool, []string{relayURL}, EncryptionOptional, serverSigner.PublicKey(), logger)
	if err != nil {
		t.Fatalf("NewClientTransport: %v", err)
	}
	if err := cli.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	t.Cleanup(cli.Stop)

	// Give both subscriptions a moment to register with the relay before
	// publishing, the same settle window real relay round-trips need.
	time.Sleep(200 * time.Millisecond)

	req, err := jsonrpc.NewRequest("7", "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := cli.Send(ctx, req); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case got := <-cli.Incoming:
		if got.IDString() != "7" {
			t.Errorf("delivered id = %q, want 7", got.IDString())
		}
		if got.Error != nil {
			t.Fatalf("unexpected error response: %v", got.Error)
		}
		if len(got.Result) == 0 {
			t.Error("expected a non-empty result")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the round-tripped response")
	}

	cli.mu.Lock()
	pendingCount := len(cli.pendingRequestIDs)
	cli.mu.Unlock()
	if pendingCount != 0 {
		t.Errorf("client pendingRequestIDs = %d entries, want 0 at quiescence", pendingCount)
	}

	session, ok := srv.sessions.get(clientSigner.PublicKey())
	if !ok {
		t.Fatal("expected the server to have created a session for the client")
	}
	session.mu.Lock()
	pendingAtQuiescence := len(session.pending)
	session.mu.Unlock()
	if pendingAtQuiescence != 0 {
		t.Errorf("server session pending count = %d, want 0 at quiescence", pendingAtQuiescence)
	}
}
