package types

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultFabricConfigValidates(t *testing.T) {
	cfg := DefaultFabricConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if len(cfg.Registry.Seeds) != 4 {
		t.Errorf("seed count = %d, want 4", len(cfg.Registry.Seeds))
	}
	if cfg.RateLimits.Strategize != 10 {
		t.Errorf("strategize limit = %d, want 10", cfg.RateLimits.Strategize)
	}
}

func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FabricConfig)
	}{
		{"min below 1", func(c *FabricConfig) { c.Registry.MinAgents = 0 }},
		{"max below min", func(c *FabricConfig) { c.Registry.MaxAgents = 1 }},
		{"inverted scaler thresholds", func(c *FabricConfig) { c.Scaler.ScaleUpThreshold = 5 }},
		{"zero approval timeout", func(c *FabricConfig) { c.Gate.ApprovalTimeoutHours = 0 }},
		{"unknown seed capability", func(c *FabricConfig) {
			c.Registry.Seeds[0].Capabilities = []Capability{"warp_drive"}
		}},
		{"threshold above 1", func(c *FabricConfig) { c.BudgetThresholds = []float64{1.5} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFabricConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFabricConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFabricConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Registry.MaxAgents != 200 {
		t.Errorf("max agents = %d, want default 200", cfg.Registry.MaxAgents)
	}
}

func TestLoadFabricConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabric.yaml")
	data := []byte("registry:\n  min_agents: 2\n  max_agents: 20\n  seeds:\n    - type: learning\n      capabilities: [data_query]\n      max_concurrent: 1\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFabricConfig(path)
	if err != nil {
		t.Fatalf("LoadFabricConfig: %v", err)
	}
	if cfg.Registry.MinAgents != 2 || cfg.Registry.MaxAgents != 20 {
		t.Errorf("bounds = %d/%d, want 2/20", cfg.Registry.MinAgents, cfg.Registry.MaxAgents)
	}
	// Unset sections keep their defaults.
	if cfg.CostGuard.BatchSize != 10 {
		t.Errorf("batch size = %d, want default 10", cfg.CostGuard.BatchSize)
	}
}

func TestApprovalTimeoutEnvOverride(t *testing.T) {
	t.Setenv("APPROVAL_TIMEOUT_HOURS", "48")

	cfg, err := LoadFabricConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gate.ApprovalTimeoutHours != 48 {
		t.Errorf("approval timeout = %d, want 48", cfg.Gate.ApprovalTimeoutHours)
	}
}
