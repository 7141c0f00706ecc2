package sync

import (
	"github.com/schaermu/hubsyncd/internal/manifest"
	"github.com/schaermu/hubsyncd/internal/pak"
)

// PackageState is a step in the life of a package during one reconciliation
type PackageState int

const (
	StateMissing     PackageState = iota // listed in the manifest, absent locally
	StateStale                           // present locally with a different checksum
	StateDeleted                         // local file removed
	StateDownloading                     // download in progress
	StatePresent                         // local file matches the manifest
	StateFailed                          // download failed
	StateRedundant                       // present locally, absent from the manifest
	StateRetained                        // redundant but kept because purge is off
)

func (s PackageState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateStale:
		return "stale"
	case StateDeleted:
		return "deleted"
	case StateDownloading:
		return "downloading"
	case StatePresent:
		return "present"
	case StateFailed:
		return "failed"
	case StateRedundant:
		return "redundant"
	case StateRetained:
		return "retained"
	default:
		return "unknown"
	}
}

// Plan represents the reconciliation operations to perform
type Plan struct {
	Keep      []manifest.Entry   // already satisfied
	Fetch     []FetchOp          // to download, in manifest order
	Redundant []pak.LocalPackage // local packages the manifest does not list
	Skipped   []SkippedEntry     // entries never acted upon
}

// FetchOp represents one download
type FetchOp struct {
	Entry manifest.Entry
	Stale *pak.LocalPackage // local copy to delete first, nil if missing
}

// SkippedEntry is a manifest entry the reconciler refuses to act on
type SkippedEntry struct {
	Entry  manifest.Entry
	Reason string
}

// Failure records a download that did not complete
type Failure struct {
	Name string
	URL  string
	Err  error
}

// Result is the outcome of applying a Plan
type Result struct {
	Satisfied  []string
	Downloaded []string
	Deleted    []string
	Retained   []string
	Failed     []Failure

	// Transitions lists the states every touched package went through
	Transitions map[string][]PackageState
}

func newResult() *Result {
	return &Result{Transitions: make(map[string][]PackageState)}
}

func (r *Result) transition(name string, s PackageState) {
	r.Transitions[name] = append(r.Transitions[name], s)
}

// Degraded reports whether some downloads failed
func (r *Result) Degraded() bool {
	return r != nil && len(r.Failed) > 0
}
