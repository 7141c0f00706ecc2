package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/hubsyncd/internal/fsutil"
	"github.com/schaermu/hubsyncd/internal/manifest"
	"github.com/schaermu/hubsyncd/internal/pak"
	"github.com/schaermu/hubsyncd/internal/transfer"
)

// ReconcileOptions controls side effects of a reconciliation
type ReconcileOptions struct {
	Purge    bool // delete local packages missing from the manifest
	FailFast bool // abort on the first failed download
	DryRun   bool // log the plan only
}

// Reconciler converges a content directory to a manifest
type Reconciler struct {
	fs      afero.Fs
	fetcher transfer.Fetcher
	dir     string
	mainPak string
	opts    ReconcileOptions
	logger  *slog.Logger
}

// NewReconciler creates a reconciler for the packages in dir
func NewReconciler(fs afero.Fs, fetcher transfer.Fetcher, dir, mainPak string, opts ReconcileOptions, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		fs:      fs,
		fetcher: fetcher,
		dir:     dir,
		mainPak: mainPak,
		opts:    opts,
		logger:  logger,
	}
}

// Reconcile plans and applies the changes needed for local to match m
func (r *Reconciler) Reconcile(ctx context.Context, m manifest.Manifest, local pak.LocalState) (*Result, error) {
	plan := r.Plan(m, local)

	r.logger.Info("reconcile plan",
		"keep", len(plan.Keep),
		"fetch", len(plan.Fetch),
		"redundant", len(plan.Redundant),
		"skipped", len(plan.Skipped),
		"purge", r.opts.Purge)

	if r.opts.DryRun {
		r.logPlanDetails(plan)
		return newResult(), nil
	}

	return r.Apply(ctx, plan)
}

// Plan computes the operations without touching the filesystem. local is
// not modified.
func (r *Reconciler) Plan(m manifest.Manifest, local pak.LocalState) *Plan {
	plan := &Plan{
		Keep:      make([]manifest.Entry, 0),
		Fetch:     make([]FetchOp, 0),
		Redundant: make([]pak.LocalPackage, 0),
	}

	// Entries still in working at the end were never mentioned
	working := local.Clone()
	delete(working, r.mainPak)
	seen := make(map[string]bool, len(m))

	for _, e := range m {
		if reason := r.skipReason(e, seen); reason != "" {
			plan.Skipped = append(plan.Skipped, SkippedEntry{Entry: e, Reason: reason})
			continue
		}
		seen[e.Name] = true

		lp, exists := working[e.Name]
		if exists {
			delete(working, e.Name)
		}

		switch {
		case exists && pak.ChecksumsMatch(lp.Checksum, e.Checksum):
			plan.Keep = append(plan.Keep, e)
		case exists:
			stale := lp
			plan.Fetch = append(plan.Fetch, FetchOp{Entry: e, Stale: &stale})
		default:
			plan.Fetch = append(plan.Fetch, FetchOp{Entry: e})
		}
	}

	for _, name := range working.Names() {
		plan.Redundant = append(plan.Redundant, working[name])
	}

	return plan
}

// skipReason returns why an entry must not be acted upon, or ""
func (r *Reconciler) skipReason(e manifest.Entry, seen map[string]bool) string {
	switch {
	case e.Name == r.mainPak:
		return "main package is never managed"
	case filepath.Base(e.Name) != e.Name || strings.HasPrefix(e.Name, "."):
		return "name does not denote a file in the content directory"
	case seen[e.Name]:
		return "duplicate entry"
	}
	return ""
}

// Apply executes the plan in manifest order, then handles redundant packages.
// Failed downloads are recorded and skipped unless FailFast is set; local
// file errors abort with an *IOError.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) (*Result, error) {
	result := newResult()

	for _, skipped := range plan.Skipped {
		r.logger.Warn("skipping manifest entry", "name", skipped.Entry.Name, "line", skipped.Entry.Line, "reason", skipped.Reason)
	}

	for _, e := range plan.Keep {
		r.logger.Debug("package up to date", "name", e.Name)
		result.transition(e.Name, StatePresent)
		result.Satisfied = append(result.Satisfied, e.Name)
	}

	for _, op := range plan.Fetch {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.applyFetch(ctx, op, result); err != nil {
			return result, err
		}
	}

	for _, lp := range plan.Redundant {
		result.transition(lp.Name, StateRedundant)
		if !r.opts.Purge {
			r.logger.Info("keeping redundant package", "name", lp.Name)
			result.transition(lp.Name, StateRetained)
			result.Retained = append(result.Retained, lp.Name)
			continue
		}

		r.logger.Info("deleting redundant package", "name", lp.Name, "path", lp.Path)
		if err := r.remove(lp.Path); err != nil {
			return result, err
		}
		result.transition(lp.Name, StateDeleted)
		result.Deleted = append(result.Deleted, lp.Name)
	}

	sort.Strings(result.Retained)
	return result, nil
}

// applyFetch walks one package through Stale → Deleted → Downloading →
// Present, or Missing → Downloading → Present.
func (r *Reconciler) applyFetch(ctx context.Context, op FetchOp, result *Result) error {
	name := op.Entry.Name

	if op.Stale != nil {
		result.transition(name, StateStale)
		r.logger.Info("checksum mismatch, deleting old package",
			"name", name,
			"local", op.Stale.Checksum,
			"manifest", op.Entry.Checksum)
		if err := r.remove(op.Stale.Path); err != nil {
			return err
		}
		result.transition(name, StateDeleted)
		result.Deleted = append(result.Deleted, name)
	} else {
		result.transition(name, StateMissing)
	}

	result.transition(name, StateDownloading)
	r.logger.Info("downloading package", "name", name, "url", op.Entry.SourceURL())

	err := r.download(ctx, op.Entry)
	if err == nil {
		result.transition(name, StatePresent)
		result.Downloaded = append(result.Downloaded, name)
		return nil
	}

	var terr *transfer.Error
	if !errors.As(err, &terr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &IOError{Op: "write", Path: filepath.Join(r.dir, name), Err: err}
	}

	result.transition(name, StateFailed)
	result.Failed = append(result.Failed, Failure{Name: name, URL: op.Entry.SourceURL(), Err: err})
	if r.opts.FailFast {
		return err
	}
	r.logger.Warn("download failed, continuing", "name", name, "error", err)
	return nil
}

// download streams the package into a scratch file and moves it over the
// destination, so a failed download never leaves a truncated package.
func (r *Reconciler) download(ctx context.Context, e manifest.Entry) error {
	dest := filepath.Join(r.dir, e.Name)
	h := pak.NewDigest()

	err := fsutil.WriteAtomic(r.fs, dest, 0644, func(w io.Writer) error {
		return r.fetcher.Fetch(ctx, e.SourceURL(), io.MultiWriter(w, h))
	})
	if err != nil {
		return err
	}

	if got := pak.EncodeDigest(h); !pak.ChecksumsMatch(got, e.Checksum) {
		r.logger.Warn("downloaded package does not match manifest checksum",
			"name", e.Name,
			"manifest", e.Checksum,
			"downloaded", got)
	}
	return nil
}

func (r *Reconciler) remove(path string) error {
	if err := r.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return &IOError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// logPlanDetails logs detailed plan information for dry-run
func (r *Reconciler) logPlanDetails(plan *Plan) {
	for _, op := range plan.Fetch {
		if op.Stale != nil {
			r.logger.Info("[dry-run] would replace", "name", op.Entry.Name, "url", op.Entry.SourceURL())
			continue
		}
		r.logger.Info("[dry-run] would download", "name", op.Entry.Name, "url", op.Entry.SourceURL())
	}
	for _, lp := range plan.Redundant {
		if r.opts.Purge {
			r.logger.Info("[dry-run] would delete", "name", lp.Name)
		} else {
			r.logger.Info("[dry-run] would keep", "name", lp.Name)
		}
	}
	for _, s := range plan.Skipped {
		r.logger.Info("[dry-run] would skip", "name", s.Entry.Name, "reason", s.Reason)
	}
}
