package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models pledgeline.yml.
type Config struct {
	Registry struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"registry"`
	Admin struct {
		Address string `yaml:"address"`
	} `yaml:"admin"`
	Categories struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"categories"`
	Scoring struct {
		CompletedReward int `yaml:"completed_reward"`
		FailedPenalty   int `yaml:"failed_penalty"`
		LevelWidth      int `yaml:"level_width"`
	} `yaml:"scoring"`
	Limits struct {
		MessageMaxLen int `yaml:"message_max_len"`
	} `yaml:"limits"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Registry.ID == "" {
		return fmt.Errorf("config.registry.id is required")
	}
	if c.Registry.Kind != "promise-registry" {
		return fmt.Errorf("config.registry.kind must be 'promise-registry'")
	}
	if c.Admin.Address == "" {
		return fmt.Errorf("config.admin.address is required")
	}
	if len(c.Categories.Catalog) == 0 {
		return fmt.Errorf("config.categories.catalog is required")
	}
	for name := range c.Categories.Catalog {
		if name == "" {
			return fmt.Errorf("config.categories.catalog contains empty category name")
		}
	}
	if c.Scoring.CompletedReward < 0 {
		return fmt.Errorf("config.scoring.completed_reward must not be negative")
	}
	if c.Scoring.FailedPenalty < 0 {
		return fmt.Errorf("config.scoring.failed_penalty must not be negative")
	}
	if c.Scoring.LevelWidth <= 0 {
		return fmt.Errorf("config.scoring.level_width must be positive")
	}
	if c.Limits.MessageMaxLen <= 0 {
		return fmt.Errorf("config.limits.message_max_len must be positive")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// IsAdmin reports whether address is the configured admin identity.
// Addresses compare case-insensitively.
func (c *Config) IsAdmin(address string) bool {
	return address != "" && strings.EqualFold(address, c.Admin.Address)
}

// HasCategory reports whether the category is in the catalog.
func (c *Config) HasCategory(name string) bool {
	_, ok := c.Categories.Catalog[name]
	return ok
}

// CategoryNames returns catalog keys for error messages.
func (c *Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories.Catalog))
	for name := range c.Categories.Catalog {
		names = append(names, name)
	}
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pledgeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(registryID, adminAddress string) string {
	return fmt.Sprintf(defaultTemplate, registryID, adminAddress)
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

// Default returns the default Config struct for a registry.
func Default(registryID, adminAddress string) *Config {
	var cfg Config
	cfg.Registry.ID = registryID
	cfg.Registry.Kind = "promise-registry"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, registryID, adminAddress))).Decode(&cfg)
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

const defaultTemplate = `registry:
  id: %s
  kind: promise-registry

admin:
  address: "%s"

categories:
  catalog:
    Learning:
      description: "Courses, reading, study goals"
    Health:
      description: "Fitness, diet, sleep commitments"
    Personal:
      description: "Habits and personal projects"
    Business:
      description: "Work and entrepreneurship goals"

scoring:
  completed_reward: 10
  failed_penalty: 5
  level_width: 50

limits:
  message_max_len: 200

webhooks: []
`
