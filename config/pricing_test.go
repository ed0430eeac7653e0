package config

import (
	"path/filepath"
	"testing"
)

func TestCapabilityPricingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	want := map[string]CapabilityPrice{
		"tools/call:search":   {Price: "10", Currency: "sats"},
		"tools/call:generate": {Price: "50", Currency: "sats"},
	}

	if err := SaveCapabilityPricing(path, want); err != nil {
		t.Fatalf("SaveCapabilityPricing: %v", err)
	}
	got, err := LoadCapabilityPricing(path)
	if err != nil {
		t.Fatalf("LoadCapabilityPricing: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("pricing[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestLoadCapabilityPricingMissingFileIsNotError(t *testing.T) {
	got, err := LoadCapabilityPricing(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for a missing pricing file, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil pricing for a missing file, got %v", got)
	}
}

func TestLoadCapabilityPricingEmptyPath(t *testing.T) {
	got, err := LoadCapabilityPricing("")
	if err != nil {
		t.Fatalf("LoadCapabilityPricing: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil pricing for an empty path, got %v", got)
	}
}
