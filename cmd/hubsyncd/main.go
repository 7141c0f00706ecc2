package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/hubsyncd/internal/config"
	"github.com/schaermu/hubsyncd/internal/hubprobe"
	"github.com/schaermu/hubsyncd/internal/sync"
	"github.com/schaermu/hubsyncd/internal/transfer"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync flags
	syncPaks     bool
	syncIni      bool
	syncRulesets bool
	force        bool
	dryRun       bool
	progress     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hubsyncd",
	Short: "Synchronize an Unreal Tournament 4 hub with its remote references",
	Long: `hubsyncd keeps a UT4 hub server in step with the hub's remote references.

It downloads the reference list, downloads missing or changed paks and removes
unlisted ones, rewrites the RedirectReferences lines of Game.ini and refreshes
the rulesets file from the ruleset generator.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time update of paks, Game.ini and rulesets",
	Long: `Sync fetches the hub references and updates the selected parts of the server.
Without --paks, --ini or --rulesets all three are updated.

The update is skipped when the game server is running, unless --force is given.`,
	RunE: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hubsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/hubsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVarP(&syncPaks, "paks", "p", false, "update paks")
	syncCmd.Flags().BoolVarP(&syncIni, "ini", "i", false, "update Game.ini references")
	syncCmd.Flags().BoolVarP(&syncRulesets, "rulesets", "r", false, "update rulesets")
	syncCmd.Flags().BoolVarP(&force, "force", "f", false, "update even if the game server is running")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&progress, "progress", false, "show download progress on stderr")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := setupSignalHandler()
	defer stop()

	logger := setupLogger(cmd.OutOrStdout())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	report, err := newEngine(cfg, logger, cmd.ErrOrStderr()).Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	if report.Degraded() {
		for _, f := range report.Paks.Failed {
			logger.Warn("package not downloaded", "name", f.Name, "url", f.URL, "error", f.Err)
		}
	}

	return nil
}

// newEngine wires the production dependencies
func newEngine(cfg *config.Config, logger *slog.Logger, progressOut io.Writer) *sync.Engine {
	opts := transfer.Options{
		Timeout:    cfg.Transfer.Timeout,
		Retries:    cfg.Transfer.Retries,
		RetryDelay: cfg.Transfer.RetryDelay,
		UserAgent:  "hubsyncd/" + version,
	}
	if progress {
		opts.Progress = progressOut
	}

	return sync.NewEngine(
		cfg,
		afero.NewOsFs(),
		transfer.NewClient(opts, logger),
		hubprobe.NewTCPProber(cfg.Hub.ProbeAddr, cfg.Hub.ProbeTimeout),
		logger,
		sync.Options{
			Selection: sync.Selection{
				Paks:     syncPaks,
				Ini:      syncIni,
				Rulesets: syncRulesets,
			},
			Force:  force,
			DryRun: dryRun,
		},
	)
}

// setupLogger builds the process logger from --log-level and --log-format.
// Unknown levels fall back to info.
func setupLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveConfigPath returns --config or the per-user default location
func resolveConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, "hubsyncd", "config.yaml"), nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	logger.Info("loading configuration", "path", path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		slog.Group("paths",
			"pak_dir", cfg.Paths.PakDir,
			"game_ini", cfg.Paths.GameIni,
			"ruleset_file", cfg.Paths.RulesetFile,
			"state_dir", cfg.Paths.StateDir),
		slog.Group("sync",
			"purge", cfg.Sync.Purge,
			"fail_fast", cfg.Sync.FailFast),
		"probe_addr", cfg.Hub.ProbeAddr)

	return cfg, nil
}

// setupSignalHandler returns a context canceled on SIGINT or SIGTERM
func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
