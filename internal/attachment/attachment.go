// Package attachment reconciles the files referenced by a page's Markdown
// body against the remote store's attachments, using content hashes on
// three sides (local, remote, last-synced record) to decide direction.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/utils"
)

// linkTargetRe matches Markdown link and image targets: ](target) with an
// optional trailing attribute block.
var linkTargetRe = regexp.MustCompile(`\]\(([^)\s]+)\)`)

// References returns the attachment filenames referenced by a Markdown body
// through image or file-link targets under dirName, deduplicated in order
// of first appearance.
func References(markdown, dirName string) []string {
	if dirName == "" {
		return nil
	}
	prefix := dirName + "/"
	seen := map[string]bool{}
	var refs []string
	for _, m := range linkTargetRe.FindAllStringSubmatch(markdown, -1) {
		target := m[1]
		if len(target) <= len(prefix) || target[:len(prefix)] != prefix {
			continue
		}
		filename := target[len(prefix):]
		if filename == "" || filepath.Base(filename) != filename || seen[filename] {
			continue
		}
		seen[filename] = true
		refs = append(refs, filename)
	}
	return refs
}

// Classify applies the three-hash decision table. Empty means absent.
func Classify(local, remoteHash, recorded string) State {
	switch {
	case local != "" && remoteHash == "" && recorded == "":
		return LocalOnly
	case local != "" && local == remoteHash:
		// covers all-three-equal and both sides independently converging
		return Unchanged
	case local == "":
		return NeedsDownload
	case remoteHash == "":
		// remote side vanished; local content is authoritative again
		return NeedsUpload
	case local != recorded && remoteHash != recorded:
		return Conflict
	case local != recorded:
		return NeedsUpload
	case remoteHash != recorded:
		return NeedsDownload
	default:
		return Unchanged
	}
}

// Manager performs the attachment pass for one page at a time.
type Manager struct {
	remote remote.Store
	state  *state.Store
}

func NewManager(r remote.Store, s *state.Store) *Manager {
	return &Manager{remote: r, state: s}
}

// Reconcile classifies every referenced attachment and performs the
// transfers the direction allows. A failed transfer fails only that
// attachment. Remote attachments no longer referenced are reported as
// orphaned and left alone.
func (m *Manager) Reconcile(ctx context.Context, pageID, localDir string, refs []string, direction Direction) ([]*Result, error) {
	remoteAtts, err := m.remote.ListAttachments(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for page %s: %w", pageID, err)
	}
	remoteByName := make(map[string]*remote.Attachment, len(remoteAtts))
	for _, a := range remoteAtts {
		remoteByName[a.Filename] = a
	}

	var results []*Result
	for _, filename := range refs {
		results = append(results, m.reconcileOne(ctx, pageID, localDir, filename, remoteByName[filename], direction))
	}

	// remote-only leftovers
	referenced := map[string]bool{}
	for _, f := range refs {
		referenced[f] = true
	}
	var orphans []string
	for name := range remoteByName {
		if !referenced[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		results = append(results, &Result{Filename: name, State: Orphaned})
	}
	return results, nil
}

func (m *Manager) reconcileOne(ctx context.Context, pageID, localDir, filename string, remoteAtt *remote.Attachment, direction Direction) *Result {
	localPath := filepath.Join(localDir, filename)

	localHash := ""
	if utils.FileExists(localPath) {
		h, err := utils.FileHash(localPath)
		if err != nil {
			return &Result{Filename: filename, Err: &TransferError{Filename: filename, Op: "hash", Err: err}}
		}
		localHash = h
	}

	remoteHash := ""
	if remoteAtt != nil {
		remoteHash = remoteAtt.Hash
	}

	recorded := ""
	rec, err := m.state.GetAttachment(pageID, filename)
	if err != nil {
		return &Result{Filename: filename, Err: err}
	}
	if rec != nil {
		recorded = rec.Hash
	}

	st := Classify(localHash, remoteHash, recorded)
	res := &Result{Filename: filename, State: st}

	switch {
	case st == Conflict:
		// record untouched so a forced follow-up sees accurate prior state
	case st == Unchanged && localHash != "" && recorded != localHash:
		// both sides converged on the same content; refresh the record so
		// later runs compare against the agreed state
		var version int64
		if remoteAtt != nil {
			version = remoteAtt.Version
		}
		res.Err = m.state.PutAttachment(&state.AttachmentRecord{
			PageID:   pageID,
			Filename: filename,
			Version:  version,
			Hash:     localHash,
			SyncedAt: time.Now().UTC(),
		})
	case direction == Download && st == NeedsDownload:
		res.Err = m.download(ctx, pageID, filename, localPath)
		res.Transferred = res.Err == nil
	case direction == Upload && (st == NeedsUpload || st == LocalOnly):
		res.Err = m.upload(ctx, pageID, filename, localPath, localHash)
		res.Transferred = res.Err == nil
	}
	return res
}

func (m *Manager) download(ctx context.Context, pageID, filename, localPath string) error {
	data, meta, err := m.remote.GetAttachment(ctx, pageID, filename)
	if err != nil {
		return &TransferError{Filename: filename, Op: "download", Err: err}
	}
	if err := utils.EnsureParent(localPath); err != nil {
		return &TransferError{Filename: filename, Op: "download", Err: err}
	}
	if err := utils.WriteFileAtomic(localPath, data, 0o644); err != nil {
		return &TransferError{Filename: filename, Op: "download", Err: err}
	}
	slog.Debug("attachment downloaded", "page", pageID, "file", filename, "size", humanize.Bytes(uint64(len(data))))

	return m.state.PutAttachment(&state.AttachmentRecord{
		PageID:   pageID,
		Filename: filename,
		Version:  meta.Version,
		Hash:     utils.ContentHash(data),
		SyncedAt: time.Now().UTC(),
	})
}

func (m *Manager) upload(ctx context.Context, pageID, filename, localPath, localHash string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &TransferError{Filename: filename, Op: "upload", Err: err}
	}
	meta, err := m.remote.UploadAttachment(ctx, pageID, filename, data)
	if err != nil {
		return &TransferError{Filename: filename, Op: "upload", Err: err}
	}
	slog.Debug("attachment uploaded", "page", pageID, "file", filename, "size", humanize.Bytes(uint64(len(data))))

	return m.state.PutAttachment(&state.AttachmentRecord{
		PageID:   pageID,
		Filename: filename,
		Version:  meta.Version,
		Hash:     localHash,
		SyncedAt: time.Now().UTC(),
	})
}
