package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/schaermu/hubsyncd/internal/config"
	"github.com/schaermu/hubsyncd/internal/fsutil"
	"github.com/schaermu/hubsyncd/internal/gameini"
	"github.com/schaermu/hubsyncd/internal/hubprobe"
	"github.com/schaermu/hubsyncd/internal/manifest"
	"github.com/schaermu/hubsyncd/internal/pak"
	"github.com/schaermu/hubsyncd/internal/ruleset"
	"github.com/schaermu/hubsyncd/internal/transfer"
)

// Subsystem names used in logs and reports
const (
	SubsystemPaks     = "paks"
	SubsystemIni      = "ini"
	SubsystemRulesets = "rulesets"
)

// Selection picks the subsystems to run. An empty selection runs all three.
type Selection struct {
	Paks     bool
	Ini      bool
	Rulesets bool
}

// All reports whether nothing was selected explicitly
func (s Selection) All() bool {
	return !s.Paks && !s.Ini && !s.Rulesets
}

func (s Selection) normalize() Selection {
	if s.All() {
		return Selection{Paks: true, Ini: true, Rulesets: true}
	}
	return s
}

// Options controls a run
type Options struct {
	Selection Selection
	Force     bool // update even if the hub is running
	DryRun    bool
}

// Report summarizes a run
type Report struct {
	RunID          string
	HubRunning     bool
	Paks           *Result
	IniRewritten   bool
	RulesetUpdated bool
	Skipped        []string // subsystems skipped because of a PathError
}

// Degraded reports whether the run finished with failed downloads
func (r *Report) Degraded() bool {
	return r.Paks.Degraded()
}

// Engine orchestrates the sync process
type Engine struct {
	cfg     *config.Config
	fs      afero.Fs
	fetcher transfer.Fetcher
	prober  hubprobe.Prober
	logger  *slog.Logger
	opts    Options
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fs afero.Fs, fetcher transfer.Fetcher, prober hubprobe.Prober, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:     cfg,
		fs:      fs,
		fetcher: fetcher,
		prober:  prober,
		logger:  logger,
		opts:    opts,
	}
}

// Run executes the complete sync process. Subsystems fail independently;
// the returned error joins every subsystem failure.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", report.RunID)
	sel := e.opts.Selection.normalize()

	logger.Info("starting sync",
		"paks", sel.Paks,
		"ini", sel.Ini,
		"rulesets", sel.Rulesets,
		"force", e.opts.Force,
		"dry_run", e.opts.DryRun)

	if err := e.cfg.ValidateFor(sel.Paks, sel.Ini, sel.Rulesets); err != nil {
		return report, fmt.Errorf("invalid configuration: %w", err)
	}

	if !e.opts.Force {
		running, err := e.prober.Running(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to probe hub: %w", err)
		}
		if running {
			report.HubRunning = true
			logger.Warn("hub server appears to be running, use --force to update anyway",
				"addr", e.cfg.Hub.ProbeAddr)
			return report, nil
		}
	}

	// Package and ini updates share one manifest download
	var refs manifest.Manifest
	var refsErr error
	if sel.Paks || sel.Ini {
		refs, refsErr = e.fetchManifest(ctx, logger)
		if refsErr != nil {
			logger.Error("failed to load references", "error", refsErr)
		}
	}

	var errs []error
	run := func(name string, fn func() error) {
		err := fn()
		if err == nil {
			return
		}
		var perr *PathError
		if errors.As(err, &perr) {
			logger.Warn("skipping subsystem", "subsystem", name, "path", perr.Path, "reason", perr.Reason)
			report.Skipped = append(report.Skipped, name)
			return
		}
		logger.Error("subsystem failed", "subsystem", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if sel.Paks {
		run(SubsystemPaks, func() error {
			return e.syncPaks(ctx, logger, refs, refsErr, report)
		})
	}
	if sel.Ini {
		run(SubsystemIni, func() error {
			return e.rewriteIni(logger, refs, refsErr, report)
		})
	}
	if sel.Rulesets {
		run(SubsystemRulesets, func() error {
			return e.updateRulesets(ctx, logger, report)
		})
	}

	switch {
	case len(errs) > 0:
		logger.Error("sync finished with errors", "failed", len(errs))
	case report.Degraded():
		logger.Warn("sync completed with failed downloads", "failed", len(report.Paks.Failed))
	default:
		logger.Info("sync completed successfully")
	}

	return report, errors.Join(errs...)
}

// fetchManifest downloads, stores and parses the reference list
func (e *Engine) fetchManifest(ctx context.Context, logger *slog.Logger) (manifest.Manifest, error) {
	logger.Info("downloading references")

	var body bytes.Buffer
	if err := e.fetcher.Fetch(ctx, e.cfg.ReferencesURL(), &body); err != nil {
		return nil, fmt.Errorf("failed to download references: %w", err)
	}

	if !e.opts.DryRun {
		if err := e.saveReferences(body.Bytes()); err != nil {
			// The copy is informational only
			logger.Warn("failed to save references copy", "path", e.cfg.ReferencesFilePath(), "error", err)
		} else {
			logger.Info("references saved", "path", e.cfg.ReferencesFilePath())
		}
	}

	lines, err := manifest.ReadLines(&body)
	if err != nil {
		return nil, err
	}

	refs, err := manifest.Parse(lines)
	if err != nil {
		return nil, err
	}

	logger.Info("references extracted", "count", len(refs), "packages", refs.Names())
	for _, entry := range refs {
		logger.Debug("reference",
			"name", entry.Name,
			"url", entry.SourceURL(),
			"checksum", entry.Checksum)
	}
	return refs, nil
}

func (e *Engine) saveReferences(data []byte) error {
	if err := e.fs.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return err
	}
	return fsutil.CopyAtomic(e.fs, e.cfg.ReferencesFilePath(), 0600, bytes.NewReader(data))
}

// syncPaks reconciles the content directory against the manifest
func (e *Engine) syncPaks(ctx context.Context, logger *slog.Logger, refs manifest.Manifest, refsErr error, report *Report) error {
	dir := e.cfg.Paths.PakDir
	if err := e.requireDir(SubsystemPaks, dir); err != nil {
		return err
	}
	if refsErr != nil {
		return refsErr
	}

	logger.Info("checking paks", "dir", dir)
	local, err := pak.Scan(e.fs, dir, e.cfg.Sync.MainPak)
	if err != nil {
		return &IOError{Op: "scan", Path: dir, Err: err}
	}
	for _, name := range local.Names() {
		logger.Debug("local package", "name", name, "checksum", local[name].Checksum)
	}

	reconciler := NewReconciler(e.fs, e.fetcher, dir, e.cfg.Sync.MainPak, ReconcileOptions{
		Purge:    e.cfg.Sync.Purge,
		FailFast: e.cfg.Sync.FailFast,
		DryRun:   e.opts.DryRun,
	}, logger)

	result, err := reconciler.Reconcile(ctx, refs, local)
	report.Paks = result
	if err != nil {
		return err
	}

	logger.Info("paks reconciled",
		"satisfied", len(result.Satisfied),
		"downloaded", len(result.Downloaded),
		"deleted", len(result.Deleted),
		"retained", len(result.Retained),
		"failed", len(result.Failed))
	return nil
}

// rewriteIni replaces the redirect references in Game.ini
func (e *Engine) rewriteIni(logger *slog.Logger, refs manifest.Manifest, refsErr error, report *Report) error {
	path := e.cfg.Paths.GameIni
	info, err := e.fs.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return &PathError{Subsystem: SubsystemIni, Path: path, Reason: "is not an existing game ini file"}
	}
	if refsErr != nil {
		return refsErr
	}

	if e.opts.DryRun {
		logger.Info("[dry-run] would rewrite game ini", "path", path, "references", len(refs))
		return nil
	}

	logger.Info("rewriting game ini references", "path", path, "references", len(refs))
	if err := gameini.Rewrite(e.fs, path, refs.References()); err != nil {
		return &IOError{Op: "rewrite", Path: path, Err: err}
	}
	report.IniRewritten = true
	return nil
}

// updateRulesets downloads a fresh ruleset file
func (e *Engine) updateRulesets(ctx context.Context, logger *slog.Logger, report *Report) error {
	path := e.cfg.Paths.RulesetFile
	if err := e.requireDir(SubsystemRulesets, filepath.Dir(path)); err != nil {
		return err
	}
	if exists, _ := afero.Exists(e.fs, path); !exists {
		logger.Info("saving ruleset under new file", "path", path)
	}

	rc := e.cfg.Rulesets
	fetcher := ruleset.NewFetcher(e.fs, e.fetcher, ruleset.BuildURL(rc.URL, rc.PrivateCode, rc.IDs, rc.HideDefaults), path)

	if e.opts.DryRun {
		logger.Info("[dry-run] would download ruleset", "path", path, "rulesets", rc.IDs, "hide_defaults", rc.HideDefaults)
		return nil
	}

	logger.Info("downloading ruleset", "rulesets", rc.IDs, "hide_defaults", rc.HideDefaults)
	if err := fetcher.Fetch(ctx); err != nil {
		return err
	}
	logger.Info("ruleset downloaded", "path", path)
	report.RulesetUpdated = true
	return nil
}

func (e *Engine) requireDir(subsystem, dir string) error {
	isDir, err := afero.IsDir(e.fs, dir)
	if err != nil || !isDir {
		return &PathError{Subsystem: subsystem, Path: dir, Reason: "is not an existing directory"}
	}
	return nil
}
