package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// TokenPlaceholder is replaced by the hub server token in Hub.ReferencesURL
	TokenPlaceholder = "{token}"

	DefaultReferencesURL = "https://utcc.unrealpugs.com/hub/" + TokenPlaceholder + "/supersecretreferencesurl"
	DefaultRulesetURL    = "http://utcc.unrealpugs.com/rulesets/download"
	DefaultProbeAddr     = "127.0.0.1:7777"
	DefaultMainPak       = "UnrealTournament-LinuxServer.pak"
)

// Config represents the complete hubsyncd configuration
type Config struct {
	SecretsFile string         `yaml:"secrets_file"`
	Hub         HubConfig      `yaml:"hub"`
	Paths       PathsConfig    `yaml:"paths"`
	Sync        SyncConfig     `yaml:"sync"`
	Rulesets    RulesetConfig  `yaml:"rulesets"`
	Transfer    TransferConfig `yaml:"transfer"`
}

// HubConfig identifies the hub against the remote authority
type HubConfig struct {
	ServerToken   string        `yaml:"server_token"`
	ReferencesURL string        `yaml:"references_url"`
	ProbeAddr     string        `yaml:"probe_addr"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	PakDir      string `yaml:"pak_dir"`
	GameIni     string `yaml:"game_ini"`
	RulesetFile string `yaml:"ruleset_file"`
	StateDir    string `yaml:"state_dir"`
}

// SyncConfig configures pak reconciliation behavior
type SyncConfig struct {
	Purge    bool   `yaml:"purge"`
	FailFast bool   `yaml:"fail_fast"`
	MainPak  string `yaml:"main_pak"`
}

// RulesetConfig configures the remote ruleset generator
type RulesetConfig struct {
	URL          string   `yaml:"url"`
	PrivateCode  string   `yaml:"private_code"`
	IDs          []string `yaml:"ids"`
	HideDefaults bool     `yaml:"hide_defaults"`
}

// TransferConfig configures HTTP downloads
type TransferConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML configuration, loads the secrets file, expands the
// environment, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets must land in the environment before string fields are expanded
	cfg.SecretsFile = os.ExpandEnv(cfg.SecretsFile)
	if cfg.SecretsFile != "" {
		if err := godotenv.Load(cfg.SecretsFile); err != nil {
			return nil, fmt.Errorf("failed to load secrets file: %w", err)
		}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Hub.ServerToken = os.ExpandEnv(c.Hub.ServerToken)
	c.Hub.ReferencesURL = os.ExpandEnv(c.Hub.ReferencesURL)
	c.Hub.ProbeAddr = os.ExpandEnv(c.Hub.ProbeAddr)
	c.Paths.PakDir = os.ExpandEnv(c.Paths.PakDir)
	c.Paths.GameIni = os.ExpandEnv(c.Paths.GameIni)
	c.Paths.RulesetFile = os.ExpandEnv(c.Paths.RulesetFile)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Sync.MainPak = os.ExpandEnv(c.Sync.MainPak)
	c.Rulesets.URL = os.ExpandEnv(c.Rulesets.URL)
	c.Rulesets.PrivateCode = os.ExpandEnv(c.Rulesets.PrivateCode)
	for i, id := range c.Rulesets.IDs {
		c.Rulesets.IDs[i] = os.ExpandEnv(id)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Hub.ReferencesURL == "" {
		c.Hub.ReferencesURL = DefaultReferencesURL
	}
	if c.Hub.ProbeAddr == "" {
		c.Hub.ProbeAddr = DefaultProbeAddr
	}
	if c.Hub.ProbeTimeout == 0 {
		c.Hub.ProbeTimeout = 2 * time.Second
	}
	if c.Sync.MainPak == "" {
		c.Sync.MainPak = DefaultMainPak
	}
	if c.Rulesets.URL == "" {
		c.Rulesets.URL = DefaultRulesetURL
	}
	if c.Transfer.Timeout == 0 {
		c.Transfer.Timeout = 10 * time.Minute
	}
	if c.Transfer.RetryDelay == 0 {
		c.Transfer.RetryDelay = time.Second
	}
}

// Validate checks the configuration for malformed values. Fields that only
// some subsystems need are checked by ValidateFor.
func (c *Config) Validate() error {
	if !strings.Contains(c.Hub.ReferencesURL, TokenPlaceholder) {
		return fmt.Errorf("hub.references_url must contain %s: %s", TokenPlaceholder, c.Hub.ReferencesURL)
	}
	if c.Hub.ProbeTimeout < 0 {
		return fmt.Errorf("hub.probe_timeout must not be negative")
	}

	// Validate paths
	for _, p := range []struct {
		key   string
		value string
	}{
		{"paths.pak_dir", c.Paths.PakDir},
		{"paths.game_ini", c.Paths.GameIni},
		{"paths.ruleset_file", c.Paths.RulesetFile},
		{"paths.state_dir", c.Paths.StateDir},
	} {
		if p.value != "" && !filepath.IsAbs(p.value) {
			return fmt.Errorf("%s must be an absolute path: %s", p.key, p.value)
		}
	}

	if strings.ContainsRune(c.Sync.MainPak, filepath.Separator) {
		return fmt.Errorf("sync.main_pak must be a file name, not a path: %s", c.Sync.MainPak)
	}

	for _, id := range c.Rulesets.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("rulesets.ids must not contain empty entries")
		}
	}

	if c.Transfer.Timeout < 0 {
		return fmt.Errorf("transfer.timeout must not be negative")
	}
	if c.Transfer.Retries < 0 {
		return fmt.Errorf("transfer.retries must not be negative: %d", c.Transfer.Retries)
	}
	if c.Transfer.RetryDelay < 0 {
		return fmt.Errorf("transfer.retry_delay must not be negative")
	}

	return nil
}

// ValidateFor checks that every field needed by the selected subsystems is
// set. Paks and ini share the references download.
func (c *Config) ValidateFor(paks, ini, rulesets bool) error {
	type field struct{ key, value string }
	var required []field

	if paks || ini {
		required = append(required,
			field{"hub.server_token", c.Hub.ServerToken},
			field{"paths.state_dir", c.Paths.StateDir})
	}
	if paks {
		required = append(required, field{"paths.pak_dir", c.Paths.PakDir})
	}
	if ini {
		required = append(required, field{"paths.game_ini", c.Paths.GameIni})
	}
	if rulesets {
		required = append(required,
			field{"paths.ruleset_file", c.Paths.RulesetFile},
			field{"rulesets.private_code", c.Rulesets.PrivateCode})
	}

	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if rulesets && len(c.Rulesets.IDs) == 0 {
		return fmt.Errorf("rulesets.ids must list at least one ruleset")
	}
	return nil
}

// ReferencesURL returns the manifest URL for the configured server token
func (c *Config) ReferencesURL() string {
	return strings.ReplaceAll(c.Hub.ReferencesURL, TokenPlaceholder, c.Hub.ServerToken)
}

// ReferencesFilePath returns where the raw manifest copy is kept
func (c *Config) ReferencesFilePath() string {
	return filepath.Join(c.Paths.StateDir, "references.txt")
}
