package attachment

import "fmt"

// State classifies one attachment by comparing its local content hash, its
// remote content hash, and the hash recorded at the last successful sync.
// An empty hash means the side is absent.
type State string

const (
	// Unchanged means local and remote content agree.
	Unchanged State = "unchanged"

	// LocalOnly means the file is referenced locally with no remote
	// counterpart and no sync record; push uploads it as new.
	LocalOnly State = "local-only-new"

	// NeedsUpload means the local file changed since the last sync.
	NeedsUpload State = "needs-upload"

	// NeedsDownload means the remote content changed since the last sync
	// while the local file did not.
	NeedsDownload State = "needs-download"

	// Conflict means both sides diverged from the last-synced content and
	// disagree with each other. Never auto-resolved.
	Conflict State = "conflict"

	// Orphaned means the attachment exists remotely but is no longer
	// referenced by the page body. Flagged, never deleted.
	Orphaned State = "orphaned"
)

// Direction selects which transfers Reconcile may perform.
type Direction int

const (
	// Download allows pulling remote content into the local directory.
	Download Direction = iota
	// Upload allows pushing local content to the remote store.
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Result is the outcome for one attachment within a page's sync pass.
type Result struct {
	Filename    string
	State       State
	Transferred bool
	Err         error
}

// TransferError is a failed upload or download of a single attachment. It
// fails that attachment only; the owning page's body may still sync.
type TransferError struct {
	Filename string
	Op       string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("attachment %s: %s failed: %v", e.Filename, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
