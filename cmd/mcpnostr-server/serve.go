package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pinpox/mcpnostr/bridge"
	"github.com/pinpox/mcpnostr/config"
	"github.com/pinpox/mcpnostr/metrics"
	"github.com/pinpox/mcpnostr/relaypool"
	"github.com/pinpox/mcpnostr/signer"
)

var (
	serveConfigPath  string
	serveDebug       bool
	serveMCPCommand  string
	serveMetricsAddr string
	servePricingFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve -- <mcp-server-command> [args...]",
	Short: "Start the bridge and forward MCP traffic to a local server subprocess",
	Args:  cobra.MinimumNArgs(0),
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().StringVar(&serveMCPCommand, "mcp-command", "", "local MCP server command (alternative to trailing args)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	serveCmd.Flags().StringVar(&servePricingFile, "pricing-file", "", "path to a YAML capability-pricing table, overlaid on config's capability_pricing")
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

	sk, err := config.LoadSecretKey(cfg)
	if err != nil {
		return fmt.Errorf("secret key: %w", err)
	}

	if servePricingFile != "" {
		overlay, err := config.LoadCapabilityPricing(servePricingFile)
		if err != nil {
			return fmt.Errorf("pricing file: %w", err)
		}
		if cfg.CapabilityPricing == nil {
			cfg.CapabilityPricing = make(map[string]config.CapabilityPrice, len(overlay))
		}
		for name, price := range overlay {
			cfg.CapabilityPricing[name] = price
		}
	}
	s, err := signer.New(sk)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	logger.Info("server identity loaded", "pubkey", s.PublicKey())

	command := serveMCPCommand
	cmdArgs := args
	if command == "" {
		if len(args) == 0 {
			return fmt.Errorf("no local MCP server command given: pass --mcp-command or trailing args after --")
		}
		command = args[0]
		cmdArgs = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bridge.StartLocalMCPProcess(ctx, command, cmdArgs, logger)
	if err != nil {
		return fmt.Errorf("start local mcp server: %w", err)
	}
	defer proc.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if serveMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(serveMetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", serveMetricsAddr)
	}

	pool := relaypool.New(logger)
	pool.SetMetrics(m)
	srv, err := bridge.NewServerTransport(
		s, pool, cfg.Relays,
		bridge.EncryptionMode(cfg.EncryptionMode),
		cfg.AllowedPublicKeys,
		proc.Send,
		logger,
		m,
	)
	if err != nil {
		return fmt.Errorf("server transport: %w", err)
	}
	srv.Info = bridge.ServerMetadata{
		Name:    cfg.ServerInfo.Name,
		About:   cfg.ServerInfo.About,
		Website: cfg.ServerInfo.Website,
		Picture: cfg.ServerInfo.Picture,
	}
	for name, price := range cfg.CapabilityPricing {
		if srv.Pricing == nil {
			srv.Pricing = make(map[string]bridge.CapabilityPrice, len(cfg.CapabilityPricing))
		}
		srv.Pricing[name] = bridge.CapabilityPrice{Price: price.Price, Currency: price.Currency}
	}

	go proc.ServeLoop(ctx, srv.HandleLocalMessage)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server transport: %w", err)
	}
	defer srv.Stop()

	if cfg.IsPublicServer {
		go srv.RunAnnouncements(ctx)
	}

	logger.Info("bridge running", "relays", len(cfg.Relays), "public", cfg.IsPublicServer)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
