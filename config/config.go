// Package config loads the bridge's TOML configuration file, grounded on
// the teacher's config.go (same BurntSushi/toml library, same
// private_key_file + ~ expansion + environment-variable fallback pattern
// from nostr.go's loadKeys).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/pinpox/mcpnostr/bridge"
)

// Config is the on-disk shape shared by both orchestrators; each only reads
// the sections relevant to it (the client never reads AllowedPublicKeys,
// the server never reads ServerPubkey).
type Config struct {
	// Signer
	PrivateKeyFile string `toml:"private_key_file"`

	// Relay pool
	Relays []string `toml:"relays"`

	// Server transport
	ServerInfo        ServerInfo                 `toml:"server_info"`
	IsPublicServer    bool                       `toml:"is_public_server"`
	AllowedPublicKeys []string                   `toml:"allowed_public_keys"`
	EncryptionMode    string                     `toml:"encryption_mode"`
	CapabilityPricing map[string]CapabilityPrice `toml:"capability_pricing"`

	// Client transport
	ServerPubkey string `toml:"server_pubkey"`
}

// ServerInfo is published in the bridge's discovery announcements and
// initialize responses (spec.md §3 tag vocabulary: name/about/website/
// picture).
type ServerInfo struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	About   string `toml:"about"`
	Website string `toml:"website"`
	Picture string `toml:"picture"`
}

// CapabilityPrice is one entry of the capability-pricing table (spec.md
// §6): a capability's price and the currency symbol it is denominated in,
// published as a `cap` tag on discovery announcements.
type CapabilityPrice struct {
	Price    string `toml:"price" yaml:"price"`
	Currency string `toml:"currency" yaml:"currency"`
}

func defaultConfig() Config {
	return Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://nos.lol",
		},
		EncryptionMode: string(bridge.EncryptionOptional),
	}
}

// Path resolves the config file location: an explicit flag value, then the
// MCPNOSTR_CONFIG environment variable, then a default under the user's
// config directory.
func Path(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("MCPNOSTR_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "mcpnostr", "config.toml")
}

// Load reads and parses the config file at Path(flagPath). A missing file
// is not an error — it yields defaultConfig(). The defaults set no
// private_key_file, so `keygen` still needs a config file that sets one.
func Load(flagPath string) (Config, error) {
	cfg := defaultConfig()

	path := Path(flagPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(cfg.Relays) == 0 {
		cfg.Relays = defaultConfig().Relays
	}
	if cfg.EncryptionMode == "" {
		cfg.EncryptionMode = string(bridge.EncryptionOptional)
	}
	if !bridge.EncryptionMode(cfg.EncryptionMode).Valid() {
		return cfg, fmt.Errorf("config: invalid encryption_mode %q", cfg.EncryptionMode)
	}

	return cfg, nil
}

// LoadSecretKey reads the hex (or bech32 nsec) secret key from
// cfg.PrivateKeyFile, falling back to the MCPNOSTR_PRIVATE_KEY environment
// variable, and returns it normalized to hex.
func LoadSecretKey(cfg Config) (string, error) {
	var raw string
	if cfg.PrivateKeyFile != "" {
		path := ExpandHome(cfg.PrivateKeyFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: read private_key_file %q: %w", path, err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		raw = os.Getenv("MCPNOSTR_PRIVATE_KEY")
	}
	if raw == "" {
		return "", fmt.Errorf("config: no private key: set private_key_file or MCPNOSTR_PRIVATE_KEY")
	}

	if strings.HasPrefix(raw, "nsec") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("config: decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("config: expected nsec prefix, got %s", prefix)
		}
		sk, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("config: nsec decoded to unexpected type %T", val)
		}
		return sk, nil
	}
	return raw, nil
}

// ExpandHome replaces a leading "~/" in path with the user's home
// directory. Callers that touch private_key_file on disk outside of Load
// (e.g. the keygen commands) must run paths through this first, the same
// way LoadSecretKey does, so a config written with "~/..." resolves to the
// same file on every code path.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
