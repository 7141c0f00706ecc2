package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/hubsyncd/internal/testutil"
)

func validConfig() Config {
	return Config{
		Hub: HubConfig{
			ServerToken:   "token123",
			ReferencesURL: DefaultReferencesURL,
			ProbeAddr:     DefaultProbeAddr,
			ProbeTimeout:  time.Second,
		},
		Paths: PathsConfig{
			PakDir:      "/srv/ut4/Paks",
			GameIni:     "/srv/ut4/Game.ini",
			RulesetFile: "/srv/ut4/rulesets.json",
			StateDir:    "/var/lib/hubsyncd",
		},
		Sync: SyncConfig{
			Purge:   true,
			MainPak: DefaultMainPak,
		},
		Rulesets: RulesetConfig{
			URL:         DefaultRulesetURL,
			PrivateCode: "priv",
			IDs:         []string{"1", "2"},
		},
		Transfer: TransferConfig{
			Timeout:    time.Minute,
			Retries:    2,
			RetryDelay: time.Second,
		},
	}
}

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
hub:
  server_token: "abcdefg0123456789"
  probe_addr: "127.0.0.1:7777"

paths:
  pak_dir: "/srv/ut4/LinuxServer/UnrealTournament/Content/Paks"
  game_ini: "/srv/ut4/LinuxServer/UnrealTournament/Saved/Config/LinuxServer/Game.ini"
  ruleset_file: "/srv/ut4/LinuxServer/UnrealTournament/Saved/Config/Rulesets/rulesets.json"
  state_dir: "/var/lib/hubsyncd"

sync:
  purge: true

rulesets:
  private_code: "abcdefg0123456789"
  ids: ["1", "2", "3", "4", "5"]
  hide_defaults: true

transfer:
  timeout: 5m
  retries: 3
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Hub.ServerToken != "abcdefg0123456789" {
		t.Errorf("expected server token abcdefg0123456789, got %s", cfg.Hub.ServerToken)
	}
	if !cfg.Sync.Purge {
		t.Error("expected purge to be enabled")
	}
	if cfg.Sync.MainPak != DefaultMainPak {
		t.Errorf("expected default main pak, got %s", cfg.Sync.MainPak)
	}
	if cfg.Transfer.Timeout != 5*time.Minute {
		t.Errorf("expected timeout 5m, got %s", cfg.Transfer.Timeout)
	}
	if cfg.Transfer.Retries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Transfer.Retries)
	}
	if got := strings.Join(cfg.Rulesets.IDs, ","); got != "1,2,3,4,5" {
		t.Errorf("expected ruleset ids 1,2,3,4,5, got %s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("hub: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	path, err := testutil.ProjectFile("examples", "config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("HUBSYNCD_SERVER_TOKEN", "example-token")
	t.Setenv("HUBSYNCD_PRIVATE_CODE", "example-code")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Hub.ServerToken != "example-token" {
		t.Errorf("expected token from environment, got %q", cfg.Hub.ServerToken)
	}
	if cfg.Rulesets.PrivateCode != "example-code" {
		t.Errorf("expected private code from environment, got %q", cfg.Rulesets.PrivateCode)
	}
}

func TestParse_SecretsFile(t *testing.T) {
	const tokenVar = "HUBSYNCD_TEST_SECRET_TOKEN"
	const codeVar = "HUBSYNCD_TEST_SECRET_CODE"
	t.Cleanup(func() {
		_ = os.Unsetenv(tokenVar)
		_ = os.Unsetenv(codeVar)
	})

	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.env")
	if err := os.WriteFile(secrets, []byte(tokenVar+"=from-dotenv\n"+codeVar+"=code-from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}

	content := `
secrets_file: "` + secrets + `"
hub:
  server_token: "${` + tokenVar + `}"
paths:
  pak_dir: "/paks"
  game_ini: "/Game.ini"
  ruleset_file: "/rulesets.json"
  state_dir: "/state"
rulesets:
  private_code: "${` + codeVar + `}"
  ids: ["7"]
`

	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Hub.ServerToken != "from-dotenv" {
		t.Errorf("expected token from secrets file, got %q", cfg.Hub.ServerToken)
	}
	if cfg.Rulesets.PrivateCode != "code-from-dotenv" {
		t.Errorf("expected private code from secrets file, got %q", cfg.Rulesets.PrivateCode)
	}
}

func TestParse_MissingSecretsFile(t *testing.T) {
	content := `
secrets_file: "` + filepath.Join(t.TempDir(), "nope.env") + `"
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected error for missing secrets file")
	}
	if !strings.Contains(err.Error(), "secrets file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "subsystem fields left empty",
			mutate: func(c *Config) {
				c.Hub.ServerToken = ""
				c.Paths.PakDir = ""
				c.Rulesets = RulesetConfig{URL: DefaultRulesetURL}
			},
		},
		{
			name:    "references url without placeholder",
			mutate:  func(c *Config) { c.Hub.ReferencesURL = "https://example.com/refs" },
			wantErr: "hub.references_url must contain",
		},
		{
			name:    "relative game ini",
			mutate:  func(c *Config) { c.Paths.GameIni = "Saved/Game.ini" },
			wantErr: "paths.game_ini must be an absolute path",
		},
		{
			name:    "relative state dir",
			mutate:  func(c *Config) { c.Paths.StateDir = "state" },
			wantErr: "paths.state_dir must be an absolute path",
		},
		{
			name:    "main pak with directory",
			mutate:  func(c *Config) { c.Sync.MainPak = "sub/main.pak" },
			wantErr: "sync.main_pak must be a file name",
		},
		{
			name:    "blank ruleset id",
			mutate:  func(c *Config) { c.Rulesets.IDs = []string{"1", " "} },
			wantErr: "rulesets.ids must not contain empty entries",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Transfer.Retries = -1 },
			wantErr: "transfer.retries must not be negative",
		},
		{
			name:    "negative retry delay",
			mutate:  func(c *Config) { c.Transfer.RetryDelay = -time.Second },
			wantErr: "transfer.retry_delay must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFor(t *testing.T) {
	tests := []struct {
		name                string
		mutate              func(c *Config)
		paks, ini, rulesets bool
		wantErr             string
	}{
		{
			name:     "all subsystems",
			mutate:   func(c *Config) {},
			paks:     true,
			ini:      true,
			rulesets: true,
		},
		{
			name: "paks only without rulesets section",
			mutate: func(c *Config) {
				c.Rulesets = RulesetConfig{}
				c.Paths.RulesetFile = ""
			},
			paks: true,
		},
		{
			name: "rulesets only without hub token or pak dir",
			mutate: func(c *Config) {
				c.Hub.ServerToken = ""
				c.Paths.PakDir = ""
				c.Paths.GameIni = ""
			},
			rulesets: true,
		},
		{
			name:    "paks need server token",
			mutate:  func(c *Config) { c.Hub.ServerToken = "" },
			paks:    true,
			wantErr: "hub.server_token is required",
		},
		{
			name:    "paks need pak dir",
			mutate:  func(c *Config) { c.Paths.PakDir = "" },
			paks:    true,
			wantErr: "paths.pak_dir is required",
		},
		{
			name:    "ini needs game ini",
			mutate:  func(c *Config) { c.Paths.GameIni = "" },
			ini:     true,
			wantErr: "paths.game_ini is required",
		},
		{
			name:    "ini needs state dir",
			mutate:  func(c *Config) { c.Paths.StateDir = "" },
			ini:     true,
			wantErr: "paths.state_dir is required",
		},
		{
			name:     "rulesets need private code",
			mutate:   func(c *Config) { c.Rulesets.PrivateCode = "" },
			rulesets: true,
			wantErr:  "rulesets.private_code is required",
		},
		{
			name:     "rulesets need ids",
			mutate:   func(c *Config) { c.Rulesets.IDs = nil },
			rulesets: true,
			wantErr:  "rulesets.ids must list at least one ruleset",
		},
		{
			name:     "rulesets need destination",
			mutate:   func(c *Config) { c.Paths.RulesetFile = "" },
			rulesets: true,
			wantErr:  "paths.ruleset_file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateFor(tt.paks, tt.ini, tt.rulesets)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateFor() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateFor() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateFor() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_PaksOnlyConfig(t *testing.T) {
	cfg, err := Parse([]byte(`hub:
  server_token: "tok"
paths:
  pak_dir: "/srv/ut4/Paks"
  state_dir: "/var/lib/hubsyncd"
`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if err := cfg.ValidateFor(true, false, false); err != nil {
		t.Errorf("paks-only config rejected: %v", err)
	}
	if err := cfg.ValidateFor(false, false, true); err == nil {
		t.Error("expected rulesets to require their section")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Hub.ReferencesURL != DefaultReferencesURL {
		t.Errorf("expected default references url, got %s", cfg.Hub.ReferencesURL)
	}
	if cfg.Hub.ProbeAddr != DefaultProbeAddr {
		t.Errorf("expected default probe addr, got %s", cfg.Hub.ProbeAddr)
	}
	if cfg.Sync.MainPak != DefaultMainPak {
		t.Errorf("expected default main pak, got %s", cfg.Sync.MainPak)
	}
	if cfg.Rulesets.URL != DefaultRulesetURL {
		t.Errorf("expected default ruleset url, got %s", cfg.Rulesets.URL)
	}
	if cfg.Transfer.Timeout != 10*time.Minute {
		t.Errorf("expected default timeout 10m, got %s", cfg.Transfer.Timeout)
	}
	if cfg.Transfer.Retries != 0 {
		t.Errorf("retries should stay opt-in, got %d", cfg.Transfer.Retries)
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := validConfig()

	want := "https://utcc.unrealpugs.com/hub/token123/supersecretreferencesurl"
	if got := cfg.ReferencesURL(); got != want {
		t.Errorf("ReferencesURL() = %s, want %s", got, want)
	}
	if got := cfg.ReferencesFilePath(); got != "/var/lib/hubsyncd/references.txt" {
		t.Errorf("ReferencesFilePath() = %s", got)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HUBSYNCD_TEST_HOME", "/home/ut4")
	t.Setenv("HUBSYNCD_TEST_RULE", "42")

	cfg := Config{
		Paths: PathsConfig{
			PakDir:      "${HUBSYNCD_TEST_HOME}/Paks",
			GameIni:     "$HUBSYNCD_TEST_HOME/Game.ini",
			RulesetFile: "${HUBSYNCD_TEST_HOME}/rulesets.json",
			StateDir:    "${HUBSYNCD_TEST_HOME}/state",
		},
		Rulesets: RulesetConfig{IDs: []string{"1", "${HUBSYNCD_TEST_RULE}"}},
	}
	cfg.expandEnv()

	if cfg.Paths.PakDir != "/home/ut4/Paks" {
		t.Errorf("PakDir = %s", cfg.Paths.PakDir)
	}
	if cfg.Paths.GameIni != "/home/ut4/Game.ini" {
		t.Errorf("GameIni = %s", cfg.Paths.GameIni)
	}
	if cfg.Paths.StateDir != "/home/ut4/state" {
		t.Errorf("StateDir = %s", cfg.Paths.StateDir)
	}
	if cfg.Rulesets.IDs[1] != "42" {
		t.Errorf("IDs[1] = %s", cfg.Rulesets.IDs[1])
	}
}
