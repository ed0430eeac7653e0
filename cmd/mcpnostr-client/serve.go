package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pinpox/mcpnostr/bridge"
	"github.com/pinpox/mcpnostr/config"
	"github.com/pinpox/mcpnostr/jsonrpc"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

var (
	serveConfigPath   string
	serveDebug        bool
	serveServerPubkey string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge this process's stdio to a remote MCP server over Nostr",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().StringVar(&serveServerPubkey, "server-pubkey", "", "hex pubkey of the remote MCP server (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if serveDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	serverPubkey := serveServerPubkey
	if serverPubkey == "" {
		serverPubkey = cfg.ServerPubkey
	}
	if serverPubkey == "" {
		return fmt.Errorf("no server pubkey given: pass --server-pubkey or set server_pubkey in config")
	}

	sk, err := config.LoadSecretKey(cfg)
	if err != nil {
		return fmt.Errorf("secret key: %w", err)
	}
	s, err := signer.New(sk)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	logger.Info("client identity loaded", "pubkey", s.PublicKey())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := relaypool.New(logger)
	client, err := bridge.NewClientTransport(
		s, pool, cfg.Relays,
		bridge.EncryptionMode(cfg.EncryptionMode),
		serverPubkey,
		logger,
	)
	if err != nil {
		return fmt.Errorf("client transport: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start client transport: %w", err)
	}
	defer client.Stop()

	go writeIncomingToStdout(client, logger)

	readStdinToClient(ctx, client, logger)
	return nil
}

// readStdinToClient reads newline-delimited JSON-RPC from this process's
// stdin (the local caller's requests/notifications) and sends each to the
// remote server.
func readStdinToClient(ctx context.Context, client *bridge.ClientTransport, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.Parse(line)
		if err != nil {
			logger.Warn("client: could not parse stdin line as JSON-RPC", "err", err)
			continue
		}
		if err := client.Send(ctx, msg); err != nil {
			logger.Warn("client: send failed", "err", err)
		}
	}
}

// writeIncomingToStdout prints every response and notification the remote
// server sends back as a newline-delimited JSON-RPC line on stdout.
func writeIncomingToStdout(client *bridge.ClientTransport, logger *slog.Logger) {
	for msg := range client.Incoming {
		data, err := msg.Encode()
		if err != nil {
			logger.Warn("client: could not encode incoming message", "err", err)
			continue
		}
		fmt.Println(string(data))
	}
}
