package engine

import (
	"time"

	"github.com/marksync/marksync/internal/attachment"
	"github.com/marksync/marksync/internal/converter"
)

// Outcome is the per-page result of one sync pass.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
)

// Options configures a sync run.
type Options struct {
	// Workers bounds concurrent page tasks (and with them in-flight remote
	// requests).
	Workers int

	// Force bypasses the conflict check: pull overwrites local edits, push
	// submits against the current remote version.
	Force bool

	// SkipAttachments skips the attachment pass entirely.
	SkipAttachments bool

	// DryRun resolves and classifies without writing files, records, or
	// remote content.
	DryRun bool

	// Prune drops sync records for pages no longer inside the resolved
	// scope after a clean pull. Local files are never touched.
	Prune bool
}

// ConflictDetail carries both sides of a detected conflict so the caller
// can decide resolution; the engine never picks a winner.
type ConflictDetail struct {
	PageID        string
	Title         string
	LocalVersion  int64
	RemoteVersion int64
	LocalHash     string
	RemoteHash    string
}

// PageResult is one page's entry in a run report.
type PageResult struct {
	PageID      string
	Title       string
	LocalPath   string
	Outcome     Outcome
	Warnings    []converter.Warning
	Conflict    *ConflictDetail
	Attachments []*attachment.Result
	Err         error

	// Transient marks a failure the remote reported as retry-eligible;
	// a later run may succeed without any local change.
	Transient bool
}

// Report aggregates one run.
type Report struct {
	RunID    string
	Op       string
	Target   string
	Started  time.Time
	Finished time.Time
	Pages    []*PageResult
}

// Success reports whether the run completed with no conflict and no
// failure; callers map it to the process exit status.
func (r *Report) Success() bool {
	for _, p := range r.Pages {
		if p == nil {
			continue
		}
		if p.Outcome == OutcomeConflict || p.Outcome == OutcomeFailed {
			return false
		}
		for _, a := range p.Attachments {
			if a.State == attachment.Conflict || a.Err != nil {
				return false
			}
		}
	}
	return true
}

// Counts returns the number of pages per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, p := range r.Pages {
		if p != nil {
			counts[p.Outcome]++
		}
	}
	return counts
}
