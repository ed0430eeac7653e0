// Command mcpnostr-server exposes a local MCP server subprocess to remote
// MCP clients over Nostr. It is a thin orchestrator (C7): all bridge logic
// lives in the signer, relaypool, bridge, and config packages.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpnostr-server",
	Short: "Expose a local MCP server over the Nostr network",
}

func main() {
	// A missing .env is normal outside development; only a malformed one is
	// worth a word on stderr.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
