package types

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedSpec describes one agent to spawn at registry construction
type SeedSpec struct {
	Type          string       `yaml:"type" json:"type"`
	Capabilities  []Capability `yaml:"capabilities" json:"capabilities"`
	MaxConcurrent int          `yaml:"max_concurrent" json:"max_concurrent"`
}

// RegistryConfig bounds the agent pool
type RegistryConfig struct {
	MinAgents int        `yaml:"min_agents" json:"min_agents"`
	MaxAgents int        `yaml:"max_agents" json:"max_agents"`
	Seeds     []SeedSpec `yaml:"seeds" json:"seeds"`
}

// ScalerConfig holds queue-pressure thresholds
type ScalerConfig struct {
	ScaleUpThreshold   int `yaml:"scale_up_threshold" json:"scale_up_threshold"`
	ScaleDownThreshold int `yaml:"scale_down_threshold" json:"scale_down_threshold"`
}

// GateConfig holds approval-queue settings
type GateConfig struct {
	ApprovalTimeoutHours int `yaml:"approval_timeout_hours" json:"approval_timeout_hours"`
}

// CostGuardConfig holds cache and batch settings
type CostGuardConfig struct {
	CacheTTLSeconds     int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	BatchSize           int `yaml:"batch_size" json:"batch_size"`
	BatchMaxWaitSeconds int `yaml:"batch_max_wait_seconds" json:"batch_max_wait_seconds"`
}

// RateLimitConfig holds per-minute budgets per endpoint class
type RateLimitConfig struct {
	Strategize int `yaml:"strategize" json:"strategize"`
	Coordinate int `yaml:"coordinate" json:"coordinate"`
	Dispatch   int `yaml:"dispatch" json:"dispatch"`
	Execute    int `yaml:"execute" json:"execute"`
	Default    int `yaml:"default" json:"default"`
}

// FabricConfig is the top-level configuration loaded from fabric.yaml
type FabricConfig struct {
	Registry   RegistryConfig  `yaml:"registry" json:"registry"`
	Scaler     ScalerConfig    `yaml:"scaler" json:"scaler"`
	Gate       GateConfig      `yaml:"gate" json:"gate"`
	CostGuard  CostGuardConfig `yaml:"costguard" json:"costguard"`
	RateLimits RateLimitConfig `yaml:"rate_limits" json:"rate_limits"`

	BudgetThresholds []float64 `yaml:"budget_thresholds" json:"budget_thresholds"`
	WebhookURL       string    `yaml:"webhook_url" json:"webhook_url"`
}

// DefaultFabricConfig returns the configuration used when no file is present
func DefaultFabricConfig() *FabricConfig {
	return &FabricConfig{
		Registry: RegistryConfig{
			MinAgents: 4,
			MaxAgents: 200,
			Seeds: []SeedSpec{
				{Type: "learning", Capabilities: []Capability{CapDataIngestion, CapDataQuery}, MaxConcurrent: 2},
				{Type: "tech_scout", Capabilities: []Capability{CapTechScouting}, MaxConcurrent: 2},
				{Type: "cost_optimizer", Capabilities: []Capability{CapFinance, CapAggregation}, MaxConcurrent: 2},
				{Type: "experimenter", Capabilities: []Capability{CapCodeAnalysis, CapValidation}, MaxConcurrent: 2},
			},
		},
		Scaler: ScalerConfig{
			ScaleUpThreshold:   50,
			ScaleDownThreshold: 10,
		},
		Gate: GateConfig{
			ApprovalTimeoutHours: 24,
		},
		CostGuard: CostGuardConfig{
			CacheTTLSeconds:     3600,
			BatchSize:           10,
			BatchMaxWaitSeconds: 30,
		},
		RateLimits: RateLimitConfig{
			Strategize: 10,
			Coordinate: 20,
			Dispatch:   50,
			Execute:    30,
			Default:    100,
		},
		BudgetThresholds: DefaultAlertThresholds(),
	}
}

// Validate checks configuration bounds
func (c *FabricConfig) Validate() error {
	if c.Registry.MinAgents < 1 {
		return fmt.Errorf("registry.min_agents must be at least 1")
	}
	if c.Registry.MaxAgents < c.Registry.MinAgents {
		return fmt.Errorf("registry.max_agents must be >= min_agents")
	}
	if c.Scaler.ScaleUpThreshold <= c.Scaler.ScaleDownThreshold {
		return fmt.Errorf("scaler.scale_up_threshold must exceed scale_down_threshold")
	}
	if c.Gate.ApprovalTimeoutHours < 1 {
		return fmt.Errorf("gate.approval_timeout_hours must be at least 1")
	}
	if c.CostGuard.CacheTTLSeconds < 1 {
		return fmt.Errorf("costguard.cache_ttl_seconds must be at least 1")
	}
	if c.CostGuard.BatchSize < 1 {
		return fmt.Errorf("costguard.batch_size must be at least 1")
	}
	for _, seed := range c.Registry.Seeds {
		if seed.MaxConcurrent < 1 {
			return fmt.Errorf("seed %q: max_concurrent must be at least 1", seed.Type)
		}
		for _, cap := range seed.Capabilities {
			if !ValidCapability(cap) {
				return fmt.Errorf("seed %q: unknown capability %q", seed.Type, cap)
			}
		}
	}
	for _, t := range c.BudgetThresholds {
		if t <= 0 || t > 1 {
			return fmt.Errorf("budget threshold %v out of (0, 1]", t)
		}
	}
	return nil
}

// ApprovalTimeout returns the gate timeout as a duration
func (c *FabricConfig) ApprovalTimeout() time.Duration {
	return time.Duration(c.Gate.ApprovalTimeoutHours) * time.Hour
}

// LoadFabricConfig reads a yaml config file, falling back to defaults when
// the file does not exist. Environment variables override selected fields.
func LoadFabricConfig(path string) (*FabricConfig, error) {
	config := DefaultFabricConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides layers environment variables over the file config
func applyEnvOverrides(config *FabricConfig) {
	if v := os.Getenv("APPROVAL_TIMEOUT_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			config.Gate.ApprovalTimeoutHours = hours
		}
	}
	if v := os.Getenv("FABRIC_WEBHOOK_URL"); v != "" {
		config.WebhookURL = v
	}
}
