// Package engine orchestrates sync runs: it expands the target scope,
// drives the per-page pull and push state machines over a bounded worker
// pool, and aggregates outcomes into a run report. Conflicts are always
// reported, never resolved.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marksync/marksync/internal/attachment"
	"github.com/marksync/marksync/internal/converter"
	"github.com/marksync/marksync/internal/document"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/scope"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/utils"
)

const defaultWorkers = 4

// Engine wires the remote store, the record store, the resolver and the
// attachment manager into runnable pull/push/watch operations.
type Engine struct {
	remote      remote.Store
	state       *state.Store
	resolver    *scope.Resolver
	attachments *attachment.Manager
	ignore      *scope.IgnoreList
	rootDir     string
	opts        Options
}

func New(store remote.Store, st *state.Store, resolver *scope.Resolver, ignore *scope.IgnoreList, rootDir string, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Engine{
		remote:      store,
		state:       st,
		resolver:    resolver,
		attachments: attachment.NewManager(store, st),
		ignore:      ignore,
		rootDir:     rootDir,
		opts:        opts,
	}
}

// Pull syncs remote content into the local directory.
func (e *Engine) Pull(ctx context.Context, target scope.Target) (*Report, error) {
	report, err := e.run(ctx, "pull", target, e.pullPage)
	if err != nil || !e.opts.Prune {
		return report, err
	}
	return report, e.pruneRecords(report)
}

// pruneRecords drops sync records for pages the resolved scope no longer
// contains. Explicit scope removal only; pages that merely failed this run
// keep their records.
func (e *Engine) pruneRecords(report *Report) error {
	inScope := map[string]bool{}
	for _, p := range report.Pages {
		if p.PageID != "" {
			inScope[p.PageID] = true
		}
	}

	ids, err := e.state.PageIDs()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateStore, err)
	}
	for _, id := range ids {
		if inScope[id] {
			continue
		}
		atts, err := e.state.Attachments(id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStateStore, err)
		}
		if e.opts.DryRun {
			slog.Info("would prune sync record", "page", id, "attachments", len(atts))
			continue
		}
		if err := e.state.DeletePage(id); err != nil {
			return fmt.Errorf("%w: %v", ErrStateStore, err)
		}
		slog.Info("pruned sync record", "page", id, "attachments", len(atts))
	}
	return nil
}

// Push syncs local edits to the remote store. Local Markdown files inside
// the scope's directory tree that belong to no remote page yet are created
// remotely.
func (e *Engine) Push(ctx context.Context, target scope.Target) (*Report, error) {
	report, err := e.run(ctx, "push", target, e.pushPage)
	if err != nil {
		return report, err
	}
	if err := e.pushNewLocal(ctx, target, report); err != nil {
		report.Finished = time.Now().UTC()
		return report, err
	}
	report.Finished = time.Now().UTC()
	return report, nil
}

// Watch repeats Pull on a fixed interval, re-resolving the scope each
// cycle so newly created remote pages are picked up. Returns only on
// cancellation.
func (e *Engine) Watch(ctx context.Context, target scope.Target, interval time.Duration) error {
	slog.Info("watch start", "target", target.String(), "interval", interval)

	cycle := func() {
		report, err := e.Pull(ctx, target)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watch cycle failed", "target", target.String(), "error", err)
			return
		}
		counts := report.Counts()
		slog.Info("watch cycle done", "run", report.RunID,
			"created", counts[OutcomeCreated], "updated", counts[OutcomeUpdated],
			"unchanged", counts[OutcomeUnchanged], "conflict", counts[OutcomeConflict],
			"failed", counts[OutcomeFailed])
	}

	cycle()

	// a timer, not a ticker, so a pass outlasting the interval does not
	// queue up extra cycles
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("watch stopped", "target", target.String())
			return ctx.Err()
		case <-timer.C:
			cycle()
			timer.Reset(interval)
		}
	}
}

// cacheResetter is implemented by stores that memoize page fetches.
type cacheResetter interface {
	ResetCache()
}

func (e *Engine) run(ctx context.Context, op string, target scope.Target, syncPage func(context.Context, *scope.Entry) (*PageResult, error)) (*Report, error) {
	// memoized pages are only valid within one run; a watch loop reuses
	// the store across cycles and must see remote edits
	if r, ok := e.remote.(cacheResetter); ok {
		r.ResetCache()
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Op:      op,
		Target:  target.String(),
		Started: time.Now().UTC(),
	}

	entries, err := e.resolver.Resolve(ctx, target)
	if err != nil {
		report.Finished = time.Now().UTC()
		return report, err
	}
	slog.Info("sync run", "op", op, "run", report.RunID, "target", target.String(), "pages", len(entries), "workers", e.opts.Workers, "dryrun", e.opts.DryRun)

	// one slot per entry: workers never share a slot, so no locking
	results := make([]*PageResult, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			if gctx.Err() != nil {
				// cancelled before start; finished pages keep their results
				return gctx.Err()
			}
			res, err := syncPage(gctx, entry)
			results[i] = res
			return err
		})
	}
	runErr := g.Wait()

	for _, res := range results {
		if res != nil {
			report.Pages = append(report.Pages, res)
		}
	}
	report.Finished = time.Now().UTC()
	return report, runErr
}

// pullPage runs the pull state machine for one page: fetch, convert,
// reconcile attachments, compare, write or report conflict, record.
func (e *Engine) pullPage(ctx context.Context, entry *scope.Entry) (*PageResult, error) {
	res := &PageResult{PageID: entry.Page.ID, Title: entry.Page.Title, LocalPath: entry.LocalPath}
	absPath := filepath.Join(e.rootDir, filepath.FromSlash(entry.LocalPath))

	page, err := e.remote.GetPage(ctx, entry.Page.ID)
	if err != nil {
		return fail(res, fmt.Errorf("fetching page %s: %w", entry.Page.ID, err)), nil
	}
	res.Title = page.Title

	conv := converter.ToLocal(page.Body, converter.Options{AttachmentsDir: document.AttachmentsDirName(absPath)})
	res.Warnings = conv.Warnings
	newBody := conv.Content
	newHash := utils.ContentHash([]byte(newBody))

	rec, err := e.state.GetPage(page.ID)
	if err != nil {
		return fail(res, err), nil
	}

	var local *document.Document
	if utils.FileExists(absPath) {
		local, err = document.Read(absPath)
		if err != nil {
			return fail(res, err), nil
		}
	}

	if !e.opts.SkipAttachments && !e.opts.DryRun {
		attResults, err := e.attachments.Reconcile(ctx, page.ID, document.AttachmentsDir(absPath), conv.Refs, attachment.Download)
		if err != nil {
			return fail(res, err), nil
		}
		res.Attachments = attResults
	}

	switch {
	case local == nil:
		res.Outcome = OutcomeCreated

	case local.Body == newBody:
		res.Outcome = OutcomeUnchanged
		if !e.opts.DryRun && (rec == nil || rec.Version != page.Version || rec.Hash != newHash) {
			if err := e.putPageRecord(page.ID, entry.LocalPath, page.Version, newHash); err != nil {
				return fail(res, err), err
			}
		}
		return res, nil

	default:
		// no record means never synced: first sync overwrites rather than diffs
		localEdited := rec != nil && local.BodyHash() != rec.Hash
		remoteChanged := rec == nil || page.Version != rec.Version || newHash != rec.Hash
		if localEdited && !remoteChanged {
			// local-only edit; pull has nothing newer, push will carry it
			res.Outcome = OutcomeUnchanged
			return res, nil
		}
		if localEdited && !e.opts.Force {
			res.Outcome = OutcomeConflict
			res.Conflict = &ConflictDetail{
				PageID:        page.ID,
				Title:         page.Title,
				LocalVersion:  local.Meta.Version,
				RemoteVersion: page.Version,
				LocalHash:     local.BodyHash(),
				RemoteHash:    newHash,
			}
			slog.Warn("pull conflict", "page", page.ID, "path", entry.LocalPath,
				"local_version", local.Meta.Version, "remote_version", page.Version)
			return res, nil
		}
		res.Outcome = OutcomeUpdated
	}

	if e.opts.DryRun {
		return res, nil
	}

	doc := &document.Document{
		Path: absPath,
		Meta: document.Meta{
			PageID:     page.ID,
			Title:      page.Title,
			SpaceKey:   page.SpaceKey,
			ParentID:   page.ParentID,
			Version:    page.Version,
			SyncedHash: newHash,
		},
		Body: newBody,
	}
	if err := doc.Write(); err != nil {
		return fail(res, fmt.Errorf("writing %s: %w", absPath, err)), nil
	}
	if err := e.putPageRecord(page.ID, entry.LocalPath, page.Version, newHash); err != nil {
		return fail(res, err), err
	}
	slog.Debug("pulled page", "page", page.ID, "path", entry.LocalPath, "outcome", res.Outcome)
	return res, nil
}

// pushPage runs the push state machine for one already-tracked page:
// compare, version-check, convert, reconcile attachments, submit with the
// prior version, record.
func (e *Engine) pushPage(ctx context.Context, entry *scope.Entry) (*PageResult, error) {
	res := &PageResult{PageID: entry.Page.ID, Title: entry.Page.Title, LocalPath: entry.LocalPath}
	absPath := filepath.Join(e.rootDir, filepath.FromSlash(entry.LocalPath))

	if !utils.FileExists(absPath) {
		// never pulled; nothing local to push
		res.Outcome = OutcomeUnchanged
		return res, nil
	}
	local, err := document.Read(absPath)
	if err != nil {
		return fail(res, err), nil
	}
	localHash := local.BodyHash()

	rec, err := e.state.GetPage(entry.Page.ID)
	if err != nil {
		return fail(res, err), nil
	}
	if rec != nil && localHash == rec.Hash {
		res.Outcome = OutcomeUnchanged
		return res, nil
	}

	page, err := e.remote.GetPage(ctx, entry.Page.ID)
	if err != nil {
		return fail(res, fmt.Errorf("fetching page %s: %w", entry.Page.ID, err)), nil
	}
	res.Title = page.Title

	if rec != nil && page.Version != rec.Version && !e.opts.Force {
		res.Outcome = OutcomeConflict
		res.Conflict = &ConflictDetail{
			PageID:        page.ID,
			Title:         page.Title,
			LocalVersion:  rec.Version,
			RemoteVersion: page.Version,
			LocalHash:     localHash,
			RemoteHash:    utils.ContentHash([]byte(page.Body)),
		}
		slog.Warn("push conflict, remote advanced", "page", page.ID,
			"last_synced_version", rec.Version, "remote_version", page.Version)
		return res, nil
	}

	conv := converter.ToRemote(local.Body, converter.Options{AttachmentsDir: document.AttachmentsDirName(absPath)})
	res.Warnings = conv.Warnings

	if !e.opts.SkipAttachments && !e.opts.DryRun {
		attResults, err := e.attachments.Reconcile(ctx, page.ID, document.AttachmentsDir(absPath), conv.Refs, attachment.Upload)
		if err != nil {
			return fail(res, err), nil
		}
		res.Attachments = attResults
	}

	if e.opts.DryRun {
		res.Outcome = OutcomeUpdated
		return res, nil
	}

	title := local.Meta.Title
	if title == "" {
		title = page.Title
	}
	newVersion, err := e.remote.UpdatePage(ctx, page.ID, title, conv.Content, page.Version)
	if err != nil {
		if errors.Is(err, remote.ErrVersionConflict) {
			// raced a remote edit between the version check and the submit
			res.Outcome = OutcomeConflict
			res.Conflict = &ConflictDetail{
				PageID:        page.ID,
				Title:         title,
				LocalVersion:  page.Version,
				RemoteVersion: page.Version + 1,
				LocalHash:     localHash,
			}
			return res, nil
		}
		return fail(res, fmt.Errorf("updating page %s: %w", page.ID, err)), nil
	}

	local.Meta.PageID = page.ID
	local.Meta.Title = title
	local.Meta.SpaceKey = page.SpaceKey
	local.Meta.ParentID = page.ParentID
	local.Meta.Version = newVersion
	local.Meta.SyncedHash = localHash
	if err := local.Write(); err != nil {
		return fail(res, fmt.Errorf("writing %s: %w", absPath, err)), nil
	}
	if err := e.putPageRecord(page.ID, entry.LocalPath, newVersion, localHash); err != nil {
		return fail(res, err), err
	}
	res.Outcome = OutcomeUpdated
	slog.Debug("pushed page", "page", page.ID, "path", entry.LocalPath, "version", newVersion)
	return res, nil
}

// pushNewLocal creates remote pages for Markdown files in the scope's
// directory tree that no resolved page claimed and that carry no page id.
// Files are processed parents-first so a new page can parent another.
func (e *Engine) pushNewLocal(ctx context.Context, target scope.Target, report *Report) error {
	entries, err := e.resolver.Resolve(ctx, target)
	if err != nil {
		return err
	}

	spaceKey := target.SpaceKey
	defaultParent := ""
	switch target.Kind {
	case scope.KindSinglePage, scope.KindSubtree:
		defaultParent = target.ID
	}
	// page id by the directory its children would live in
	parentByDir := map[string]string{}
	planned := map[string]bool{}
	for _, en := range entries {
		planned[en.LocalPath] = true
		parentByDir[strings.TrimSuffix(en.LocalPath, ".md")] = en.Page.ID
		if spaceKey == "" {
			spaceKey = en.Page.SpaceKey
		}
	}
	if spaceKey == "" {
		// nothing resolved and no space named; no basis to create pages
		return nil
	}

	candidates, err := e.findUntracked(planned)
	if err != nil {
		return err
	}

	for _, relPath := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		parentID := defaultParent
		if dir := filepath.ToSlash(filepath.Dir(relPath)); dir != "." {
			if id, ok := parentByDir[dir]; ok {
				parentID = id
			}
		}
		res, runErr := e.createFromLocal(ctx, relPath, spaceKey, parentID)
		report.Pages = append(report.Pages, res)
		if res.Outcome == OutcomeCreated && res.PageID != "" {
			parentByDir[strings.TrimSuffix(relPath, ".md")] = res.PageID
		}
		if runErr != nil {
			return runErr
		}
	}
	return nil
}

// findUntracked walks the sync root for Markdown files outside the planned
// set that have no page id yet, shallowest first.
func (e *Engine) findUntracked(planned map[string]bool) ([]string, error) {
	var candidates []string
	err := filepath.WalkDir(e.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasSuffix(d.Name(), ".attachments") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ".md" {
			return nil
		}
		rel, err := filepath.Rel(e.rootDir, path)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)
		if planned[rel] {
			return nil
		}
		if e.ignore != nil && e.ignore.ShouldIgnore(rel) {
			return nil
		}
		doc, err := document.Read(path)
		if err != nil {
			return err
		}
		if doc.Meta.PageID != "" {
			// tracked by a page outside this scope; leave it alone
			slog.Debug("skipping out-of-scope tracked file", "path", rel, "page", doc.Meta.PageID)
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	return candidates, nil
}

// createFromLocal pushes one untracked Markdown file as a new remote page.
func (e *Engine) createFromLocal(ctx context.Context, relPath, spaceKey, parentID string) (*PageResult, error) {
	res := &PageResult{LocalPath: relPath}
	absPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))

	local, err := document.Read(absPath)
	if err != nil {
		return fail(res, err), nil
	}
	localHash := local.BodyHash()
	title := pageTitle(local, relPath)
	res.Title = title

	conv := converter.ToRemote(local.Body, converter.Options{AttachmentsDir: document.AttachmentsDirName(absPath)})
	res.Warnings = conv.Warnings

	if e.opts.DryRun {
		res.Outcome = OutcomeCreated
		return res, nil
	}

	page, err := e.remote.CreatePage(ctx, spaceKey, parentID, title, conv.Content)
	if err != nil {
		return fail(res, fmt.Errorf("creating page %q: %w", title, err)), nil
	}
	res.PageID = page.ID

	if !e.opts.SkipAttachments {
		attResults, err := e.attachments.Reconcile(ctx, page.ID, document.AttachmentsDir(absPath), conv.Refs, attachment.Upload)
		if err != nil {
			return fail(res, err), nil
		}
		res.Attachments = attResults
	}

	local.Meta = document.Meta{
		PageID:     page.ID,
		Title:      title,
		SpaceKey:   page.SpaceKey,
		ParentID:   page.ParentID,
		Version:    page.Version,
		SyncedHash: localHash,
	}
	if err := local.Write(); err != nil {
		return fail(res, fmt.Errorf("writing %s: %w", absPath, err)), nil
	}
	if err := e.putPageRecord(page.ID, relPath, page.Version, localHash); err != nil {
		return fail(res, err), err
	}
	res.Outcome = OutcomeCreated
	slog.Info("created remote page", "page", page.ID, "title", title, "path", relPath)
	return res, nil
}

func (e *Engine) putPageRecord(pageID, localPath string, version int64, hash string) error {
	rec := &state.PageRecord{
		PageID:    pageID,
		LocalPath: localPath,
		Version:   version,
		Hash:      hash,
		SyncedAt:  time.Now().UTC(),
	}
	if err := e.state.PutPage(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStateStore, err)
	}
	return nil
}

func fail(res *PageResult, err error) *PageResult {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Transient = remote.IsTransient(err)
	slog.Error("page sync failed", "page", res.PageID, "path", res.LocalPath, "transient", res.Transient, "error", err)
	return res
}

// pageTitle picks the remote title for a new local page: frontmatter title,
// else the first heading, else the filename stem.
func pageTitle(doc *document.Document, relPath string) string {
	if doc.Meta.Title != "" {
		return doc.Meta.Title
	}
	for _, line := range strings.Split(doc.Body, "\n") {
		if after, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(after)
		}
	}
	stem := strings.TrimSuffix(filepath.Base(relPath), ".md")
	return strings.ReplaceAll(stem, "-", " ")
}
