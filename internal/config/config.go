package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models deliverline.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Access struct {
		// RolePermissions maps non-tenant roles to capability strings.
		RolePermissions map[string][]string `yaml:"role_permissions"`
		// PartnerActions is the closed action set available to partner actors.
		PartnerActions []string `yaml:"partner_actions"`
	} `yaml:"access"`
	Attachments struct {
		Dir string `yaml:"dir"`
	} `yaml:"attachments"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run dlv init or import one", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Access.RolePermissions == nil {
		return fmt.Errorf("config.access.role_permissions is required")
	}
	for role, perms := range c.Access.RolePermissions {
		if role == "" {
			return fmt.Errorf("config.access.role_permissions contains empty role")
		}
		for _, p := range perms {
			if p == "" {
				return fmt.Errorf("role %s has empty permission", role)
			}
		}
	}
	for _, a := range c.Access.PartnerActions {
		if a == "" {
			return fmt.Errorf("config.access.partner_actions contains empty action")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d missing url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "deliverline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	cfg.Org.ID = orgID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
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

const defaultTemplate = `org:
  id: %s
  name: Owning Organization

access:
  role_permissions:
    ba:
      - read
      - edit:requirements
      - view-dashboard
    po:
      - read
      - edit:requirements
      - view-dashboard
    pm:
      - read
      - view-dashboard
    dev:
      - read
      - push:code
      - resolve:task
    qa:
      - read
      - resolve:bug
      - reopen:bug
    devops:
      - read
      - push:code

  partner_actions:
    - read
    - deliver
    - upload
    - view-dashboard

attachments:
  dir: .deliverline/attachments
`
