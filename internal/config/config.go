package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"tnxgate/internal/domain"
)

const DefaultMetricDriftThresholdPct = 1.0

// Config models tnxgate.yml: validation profiles plus sharing, bot and webhook policy.
type Config struct {
	DefaultProfile string             `yaml:"default_profile" json:"defaultProfile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
	Sharing        struct {
		InviteTTLDays int `yaml:"invite_ttl_days" json:"inviteTtlDays"`
	} `yaml:"sharing" json:"sharing"`
	Bots struct {
		TrialDays   int      `yaml:"trial_days" json:"trialDays"`
		InviteCodes []string `yaml:"invite_codes" json:"-"`
	} `yaml:"bots" json:"bots"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Profile is a named bundle of gating flags.
type Profile struct {
	Description string             `yaml:"description" json:"description,omitempty"`
	Flags       domain.PolicyFlags `yaml:"flags" json:"flags"`
	AgentBudget AgentBudget        `yaml:"agent_budget" json:"agentBudget"`
	Replay      struct {
		MetricDriftThresholdPct float64 `yaml:"metric_drift_threshold_pct" json:"metricDriftThresholdPct"`
	} `yaml:"replay" json:"replay"`
}

type AgentBudget struct {
	MaxTokens      int     `yaml:"max_tokens" json:"maxTokens"`
	MaxCostUSD     float64 `yaml:"max_cost_usd" json:"maxCostUsd"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeoutSeconds"`
}

// Limits converts the budget into the artifact representation.
func (b AgentBudget) Limits() domain.BudgetLimits {
	return domain.BudgetLimits{MaxTokens: b.MaxTokens, MaxCostUSD: b.MaxCostUSD}
}

// ThresholdPct returns the replay drift threshold, defaulting to 1%.
func (p Profile) ThresholdPct() float64 {
	if p.Replay.MetricDriftThresholdPct > 0 {
		return p.Replay.MetricDriftThresholdPct
	}
	return DefaultMetricDriftThresholdPct
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeoutSeconds,omitempty"`
}

// Profile looks up a profile by name.
func (c *Config) Profile(name string) (Profile, bool) {
	if c == nil {
		return Profile{}, false
	}
	p, ok := c.Profiles[name]
	return p, ok
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InviteCodeValid reports whether code is one of the configured trial invite codes.
func (c *Config) InviteCodeValid(code string) bool {
	if code == "" {
		return false
	}
	for _, candidate := range c.Bots.InviteCodes {
		if candidate == code {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("config.profiles is required")
	}
	for name, p := range c.Profiles {
		if name == "" {
			return fmt.Errorf("config.profiles contains empty profile name")
		}
		if p.AgentBudget.MaxTokens <= 0 {
			return fmt.Errorf("profile %s: agent_budget.max_tokens must be positive", name)
		}
		if p.AgentBudget.MaxCostUSD <= 0 {
			return fmt.Errorf("profile %s: agent_budget.max_cost_usd must be positive", name)
		}
		if p.Replay.MetricDriftThresholdPct < 0 {
			return fmt.Errorf("profile %s: replay.metric_drift_threshold_pct must not be negative", name)
		}
	}
	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return fmt.Errorf("default_profile %s not defined", c.DefaultProfile)
		}
	}
	if c.Sharing.InviteTTLDays < 0 {
		return fmt.Errorf("config.sharing.invite_ttl_days must not be negative")
	}
	if c.Bots.TrialDays < 0 {
		return fmt.Errorf("config.bots.trial_days must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tnxgate.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in profile set.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `default_profile: STANDARD

profiles:
  STANDARD:
    description: "Deterministic hard-fail, agent review and trader sign-off"
    flags:
      block_merge_on_fail: true
      block_release_on_fail: true
      block_merge_on_agent_fail: true
      block_release_on_agent_fail: true
      require_trader_review: true
      hard_fail_on_missing_indicators: true
      fail_closed_on_evidence_unavailable: true
    agent_budget:
      max_tokens: 60000
      max_cost_usd: 2.5
      timeout_seconds: 120
    replay:
      metric_drift_threshold_pct: 1.0

  STRICT:
    description: "STANDARD with a tighter replay threshold"
    flags:
      block_merge_on_fail: true
      block_release_on_fail: true
      block_merge_on_agent_fail: true
      block_release_on_agent_fail: true
      require_trader_review: true
      hard_fail_on_missing_indicators: true
      fail_closed_on_evidence_unavailable: true
    agent_budget:
      max_tokens: 120000
      max_cost_usd: 5
      timeout_seconds: 180
    replay:
      metric_drift_threshold_pct: 0.5

  FAST:
    description: "Automated gating without trader sign-off"
    flags:
      block_merge_on_fail: true
      block_release_on_fail: true
      block_merge_on_agent_fail: false
      block_release_on_agent_fail: true
      require_trader_review: false
      hard_fail_on_missing_indicators: true
      fail_closed_on_evidence_unavailable: true
    agent_budget:
      max_tokens: 30000
      max_cost_usd: 1
      timeout_seconds: 60
    replay:
      metric_drift_threshold_pct: 1.0

  EXPLORATORY:
    description: "Advisory only: non-hard deterministic failures block release, not merge"
    flags:
      block_merge_on_fail: false
      block_release_on_fail: true
      block_merge_on_agent_fail: false
      block_release_on_agent_fail: false
      require_trader_review: false
      hard_fail_on_missing_indicators: false
      fail_closed_on_evidence_unavailable: false
    agent_budget:
      max_tokens: 30000
      max_cost_usd: 1
      timeout_seconds: 60
    replay:
      metric_drift_threshold_pct: 2.0

sharing:
  invite_ttl_days: 14

bots:
  trial_days: 14
  invite_codes: []
`
