package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/pinpox/mcpnostr/config"
)

var keygenConfigPath string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Nostr keypair and write it to private_key_file",
	RunE:  runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenConfigPath, "config", "", "path to config file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(keygenConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	path := cfg.PrivateKeyFile
	if path == "" {
		return fmt.Errorf("private_key_file not set in config")
	}
	path = config.ExpandHome(path)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		return fmt.Errorf("encode nsec: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return fmt.Errorf("encode npub: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(nsec+"\n"), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	fmt.Printf("Generated new keypair:\n")
	fmt.Printf("  nsec: %s\n", nsec)
	fmt.Printf("  npub: %s\n", npub)
	fmt.Printf("  file: %s\n", path)
	return nil
}
