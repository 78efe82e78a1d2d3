package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml.
type Config struct {
	Operation struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
	} `yaml:"operation"`
	Defaults struct {
		Strategy        string `yaml:"strategy"`
		RiskPolicy      string `yaml:"risk_policy"`
		RevealStep      int    `yaml:"reveal_step"`
		BufferRelief    int    `yaml:"buffer_relief"`
		LevelGapMinutes int    `yaml:"level_gap_minutes"`
		LeaseTTLMinutes int    `yaml:"lease_ttl_minutes"`
	} `yaml:"defaults"`
	Confirmations struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"confirmations"`
	Simulation struct {
		Runs          int     `yaml:"runs"`
		OverrunFactor float64 `yaml:"overrun_factor"`
	} `yaml:"simulation"`
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	RBAC struct {
		Roles                   map[string]RBACRole `yaml:"roles"`
		ConfirmationAuthorities map[string][]string `yaml:"confirmation_authorities"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'pl init' to create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Strategy and risk
// policy names are resolved by the engine against its registries; here only
// shape and ranges are checked.
func (c *Config) Validate() error {
	if c.Operation.ID == "" {
		return fmt.Errorf("config.operation.id is required")
	}
	if c.Defaults.Strategy == "" {
		return fmt.Errorf("config.defaults.strategy is required")
	}
	if c.Defaults.RiskPolicy == "" {
		return fmt.Errorf("config.defaults.risk_policy is required")
	}
	if c.Defaults.RevealStep < 0 || c.Defaults.RevealStep > 100 {
		return fmt.Errorf("config.defaults.reveal_step must be in [0,100]")
	}
	if c.Defaults.BufferRelief < 0 || c.Defaults.BufferRelief > 100 {
		return fmt.Errorf("config.defaults.buffer_relief must be in [0,100]")
	}
	if c.Defaults.LevelGapMinutes < 0 {
		return fmt.Errorf("config.defaults.level_gap_minutes must not be negative")
	}
	if c.Defaults.LeaseTTLMinutes <= 0 {
		return fmt.Errorf("config.defaults.lease_ttl_minutes must be positive")
	}
	if c.Simulation.Runs < 0 {
		return fmt.Errorf("config.simulation.runs must not be negative")
	}
	if c.Simulation.OverrunFactor < 0 {
		return fmt.Errorf("config.simulation.overrun_factor must not be negative")
	}
	for kind := range c.Confirmations.Catalog {
		if kind == "" {
			return fmt.Errorf("config.confirmations.catalog contains empty kind")
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for kind, roles := range c.RBAC.ConfirmationAuthorities {
		if kind == "" {
			return fmt.Errorf("config.rbac.confirmation_authorities has empty kind")
		}
		if len(c.Confirmations.Catalog) > 0 {
			if _, ok := c.Confirmations.Catalog[kind]; !ok {
				return fmt.Errorf("confirmation authority references unknown kind %s", kind)
			}
		}
		for _, roleID := range roles {
			if roleID == "" {
				return fmt.Errorf("confirmation kind %s has empty role id", kind)
			}
			if len(c.RBAC.Roles) > 0 {
				if _, ok := c.RBAC.Roles[roleID]; !ok {
					return fmt.Errorf("confirmation kind %s references unknown role %s", kind, roleID)
				}
			}
		}
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
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(operationID string) string {
	return fmt.Sprintf(defaultTemplate, operationID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an operation.
func Default(operationID string) *Config {
	var cfg Config
	cfg.Operation.ID = operationID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, operationID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `operation:
  id: %s
  description: ""

defaults:
  strategy: earliest
  risk_policy: passthrough
  reveal_step: 10
  buffer_relief: 10
  level_gap_minutes: 30
  lease_ttl_minutes: 30

confirmations:
  catalog:
    cargo.sealed:
      description: "Cargo loaded, sealed and manifested"
    route.cleared:
      description: "Route scouted and cleared"
    handoff.confirmed:
      description: "Receiving party confirmed the handoff"
    site.secured:
      description: "Site swept and secured"
    vehicle.checked:
      description: "Vehicle inspected and fueled"

simulation:
  runs: 1000
  overrun_factor: 0.5

server:
  addr: 127.0.0.1:8787
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: true

rbac:
  roles:
    owner:
      description: "Full control of the operation"
      permissions: [operation.write, activity.write, activity.execute, plan.write, simulation.run, confirm.write, decision.write, crew.write, log.read]
    planner:
      description: "Builds and revises plans"
      permissions: [activity.write, plan.write, simulation.run, decision.write, log.read]
    operator:
      description: "Executes activities in the field"
      permissions: [activity.execute, confirm.write, log.read]
    observer:
      description: "Read-only access to the log"
      permissions: [log.read]

  confirmation_authorities:
    cargo.sealed: [owner, operator]
    route.cleared: [owner, operator]
    handoff.confirmed: [owner, operator]
    site.secured: [owner, operator]
    vehicle.checked: [owner, operator]
`
