// Command mcpnostr-client connects a local MCP caller (reading/writing
// newline-delimited JSON-RPC on its own stdio) to a remote MCP server over
// Nostr. It is a thin orchestrator (C7): all bridge logic lives in the
// signer, relaypool, bridge, and config packages.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpnostr-client",
	Short: "Talk to a remote MCP server over the Nostr network",
}

func main() {
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
