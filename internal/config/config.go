package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the per-workspace config file.
const FileName = "bountyline.yml"

// Config models bountyline.yml. Secrets are applied separately via ApplySecrets
// and never serialized back to YAML.
type Config struct {
	Agent struct {
		Name         string   `yaml:"name" json:"name"`
		Version      string   `yaml:"version" json:"version"`
		Capabilities []string `yaml:"capabilities" json:"capabilities"`
	} `yaml:"agent" json:"agent"`
	Marketplace struct {
		BaseURL string        `yaml:"base_url" json:"base_url"`
		Timeout time.Duration `yaml:"timeout" json:"timeout"`
		Token   string        `yaml:"-" json:"-"`
	} `yaml:"marketplace" json:"marketplace"`
	Model struct {
		Provider string `yaml:"provider" json:"provider"`
		Name     string `yaml:"name" json:"name"`
		Token    string `yaml:"-" json:"-"`
	} `yaml:"model" json:"model"`
	Contact struct {
		DefaultHandle string `yaml:"default_handle" json:"default_handle"`
		BaseURL       string `yaml:"base_url" json:"base_url"`
	} `yaml:"contact" json:"contact"`
	CodeGen CodeGenConfig `yaml:"codegen" json:"codegen"`
	Publish PublishConfig `yaml:"publish" json:"publish"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	// Webhooks receive run events while the server is up.
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type CodeGenConfig struct {
	Binary         string        `yaml:"binary" json:"binary"`
	Args           []string      `yaml:"args" json:"args"`
	WorkspacesDir  string        `yaml:"workspaces_dir" json:"workspaces_dir"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes" json:"max_output_bytes"`
	DevKeywords    []string      `yaml:"dev_keywords" json:"dev_keywords"`
	BriefFile      string        `yaml:"brief_file" json:"brief_file"`
	SummaryFile    string        `yaml:"summary_file" json:"summary_file"`
	RepoURLFile    string        `yaml:"repo_url_file" json:"repo_url_file"`
}

type PublishConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Host           string        `yaml:"host" json:"host"`
	GitBinary      string        `yaml:"git_binary" json:"git_binary"`
	GHBinary       string        `yaml:"gh_binary" json:"gh_binary"`
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
	RepoPrefix     string        `yaml:"repo_prefix" json:"repo_prefix"`
	Private        bool          `yaml:"private" json:"private"`
	CommitMessage  string        `yaml:"commit_message" json:"commit_message"`
	DefaultBranch  string        `yaml:"default_branch" json:"default_branch"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	BasePath  string `yaml:"base_path" json:"base_path"`
	JWTSecret string `yaml:"-" json:"-"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Events  []string      `yaml:"events,omitempty" json:"events,omitempty"`
	Secret  string        `yaml:"secret,omitempty" json:"-"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Secrets carries values that come from the environment or flags.
// Empty fields leave the config untouched.
type Secrets struct {
	MarketplaceBaseURL string
	MarketplaceToken   string
	ModelToken         string
	ModelName          string
	ContactHandle      string
	JWTSecret          string
}

// ApplySecrets overlays environment-provided values.
func (c *Config) ApplySecrets(s Secrets) {
	if s.MarketplaceBaseURL != "" {
		c.Marketplace.BaseURL = s.MarketplaceBaseURL
	}
	c.Marketplace.Token = s.MarketplaceToken
	c.Model.Token = s.ModelToken
	if s.ModelName != "" {
		c.Model.Name = s.ModelName
	}
	if s.ContactHandle != "" {
		c.Contact.DefaultHandle = s.ContactHandle
	}
	c.Server.JWTSecret = s.JWTSecret
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Name) == "" {
		return fmt.Errorf("config.agent.name is required")
	}
	if err := validateBaseURL("config.marketplace.base_url", c.Marketplace.BaseURL); err != nil {
		return err
	}
	if c.Marketplace.Timeout <= 0 {
		return fmt.Errorf("config.marketplace.timeout must be positive")
	}
	if c.Model.Provider != "anthropic" {
		return fmt.Errorf("config.model.provider %q not supported", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if err := validateBaseURL("config.contact.base_url", c.Contact.BaseURL); err != nil {
		return err
	}
	cg := c.CodeGen
	if cg.Binary == "" {
		return fmt.Errorf("config.codegen.binary is required")
	}
	if cg.WorkspacesDir == "" {
		return fmt.Errorf("config.codegen.workspaces_dir is required")
	}
	if cg.Timeout <= 0 {
		return fmt.Errorf("config.codegen.timeout must be positive")
	}
	if cg.MaxOutputBytes <= 0 {
		return fmt.Errorf("config.codegen.max_output_bytes must be positive")
	}
	if len(cg.DevKeywords) == 0 {
		return fmt.Errorf("config.codegen.dev_keywords must not be empty")
	}
	for _, kw := range cg.DevKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("config.codegen.dev_keywords contains an empty keyword")
		}
	}
	if cg.BriefFile == "" || cg.SummaryFile == "" || cg.RepoURLFile == "" {
		return fmt.Errorf("config.codegen brief_file, summary_file and repo_url_file are required")
	}
	p := c.Publish
	if err := validateBaseURL("config.publish.host", p.Host); err != nil {
		return err
	}
	if p.GitBinary == "" || p.GHBinary == "" {
		return fmt.Errorf("config.publish git_binary and gh_binary are required")
	}
	if p.CommandTimeout <= 0 {
		return fmt.Errorf("config.publish.command_timeout must be positive")
	}
	if p.CommitMessage == "" || p.DefaultBranch == "" {
		return fmt.Errorf("config.publish commit_message and default_branch are required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if err := validateBaseURL(fmt.Sprintf("config.webhooks[%d].url", i), hook.URL); err != nil {
			return err
		}
		if hook.Timeout < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout must not be negative", i)
		}
	}
	return nil
}

func validateBaseURL(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("%s must be an http(s) URL", field)
	}
	return nil
}

// IsDevType reports whether a bounty type matches one of the dev keywords
// (case-insensitive substring).
func (c CodeGenConfig) IsDevType(bountyType string) bool {
	t := strings.ToLower(bountyType)
	for _, kw := range c.DevKeywords {
		if strings.Contains(t, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `agent:
  name: SentinelPrime
  version: earn-agent-mvp
  capabilities: [register, listings, submit, claim]

marketplace:
  base_url: https://superteam.fun
  timeout: 30s

model:
  provider: anthropic
  name: claude-sonnet-4-20250514

contact:
  default_handle: ""
  base_url: http://t.me/

codegen:
  binary: claude
  args: [--print, --dangerously-skip-permissions, -p]
  workspaces_dir: workspaces
  timeout: 10m
  max_output_bytes: 10485760
  dev_keywords: [dev, development, bounty, project]
  brief_file: BRIEF.md
  summary_file: SUBMISSION.md
  repo_url_file: REPO_URL

publish:
  enabled: true
  host: https://github.com
  git_binary: git
  gh_binary: gh
  command_timeout: 60s
  repo_prefix: bounty-
  private: false
  commit_message: Initial submission
  default_branch: main

server:
  addr: 127.0.0.1:8080
  base_path: /v0

logging:
  level: info
  file: ""

# webhooks:
#   - url: https://example.com/hooks/bountyline
#     events: [run.suspended, run.failed]
webhooks: []
`
