package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Relays) == 0 {
		t.Error("expected default relay list")
	}
	if cfg.EncryptionMode != "optional" {
		t.Errorf("EncryptionMode = %q, want optional", cfg.EncryptionMode)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
relays = ["wss://example.relay"]
is_public_server = true
allowed_public_keys = ["abc123"]
encryption_mode = "required"

[server_info]
name = "test-server"
version = "1.0.0"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0] != "wss://example.relay" {
		t.Errorf("Relays = %v", cfg.Relays)
	}
	if !cfg.IsPublicServer {
		t.Error("IsPublicServer should be true")
	}
	if cfg.EncryptionMode != "required" {
		t.Errorf("EncryptionMode = %q, want required", cfg.EncryptionMode)
	}
	if cfg.ServerInfo.Name != "test-server" {
		t.Errorf("ServerInfo.Name = %q", cfg.ServerInfo.Name)
	}
}

func TestLoadRejectsInvalidEncryptionMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`encryption_mode = "sometimes"`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an invalid encryption_mode")
	}
}

func TestLoadSecretKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	if err := os.WriteFile(keyPath, []byte("a1b2c3\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sk, err := LoadSecretKey(Config{PrivateKeyFile: keyPath})
	if err != nil {
		t.Fatalf("LoadSecretKey: %v", err)
	}
	if sk != "a1b2c3" {
		t.Errorf("sk = %q, want a1b2c3", sk)
	}
}

func TestLoadSecretKeyMissingFails(t *testing.T) {
	t.Setenv("MCPNOSTR_PRIVATE_KEY", "")
	if _, err := LoadSecretKey(Config{}); err == nil {
		t.Error("expected an error with no key source configured")
	}
}

func TestLoadSecretKeyFromEnv(t *testing.T) {
	t.Setenv("MCPNOSTR_PRIVATE_KEY", "deadbeef")
	sk, err := LoadSecretKey(Config{})
	if err != nil {
		t.Fatalf("LoadSecretKey: %v", err)
	}
	if sk != "deadbeef" {
		t.Errorf("sk = %q, want deadbeef", sk)
	}
}
