// Package scope expands a sync target (single page, subtree, space) into a
// deterministic ordered list of pages with planned local paths, applying
// ignore rules to the paths pages would occupy.
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/marksync/marksync/internal/document"
	"github.com/marksync/marksync/internal/remote"
)

// Resolver expands targets against a remote store.
type Resolver struct {
	store  remote.Store
	ignore *IgnoreList
}

func NewResolver(store remote.Store, ignore *IgnoreList) *Resolver {
	return &Resolver{store: store, ignore: ignore}
}

// Resolve returns the pages of a target in breadth-first order, children
// sorted by (title, id) so the same tree always resolves identically.
// Entries whose planned path matches an ignore rule are dropped.
func (r *Resolver) Resolve(ctx context.Context, target Target) ([]*Entry, error) {
	var entries []*Entry
	var err error

	switch target.Kind {
	case KindSinglePage:
		entries, err = r.resolveSingle(ctx, target.ID)
	case KindSubtree:
		entries, err = r.resolveSubtree(ctx, target.ID)
	case KindSpace:
		entries, err = r.resolveSpace(ctx, target.SpaceKey)
	default:
		return nil, fmt.Errorf("%s: %w", target, ErrUnknownTarget)
	}
	if err != nil {
		return nil, err
	}

	if r.ignore == nil {
		return entries, nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if r.ignore.ShouldIgnore(e.LocalPath) {
			slog.Debug("scope ignored", "page", e.Page.ID, "path", e.LocalPath)
			continue
		}
		kept = append(kept, e)
	}
	return kept, nil
}

func (r *Resolver) resolveSingle(ctx context.Context, id string) ([]*Entry, error) {
	page, err := r.store.GetPage(ctx, id)
	if err != nil {
		if errors.Is(err, remote.ErrPageNotFound) {
			return nil, fmt.Errorf("page %s: %w", id, ErrUnknownTarget)
		}
		return nil, err
	}
	return []*Entry{{Page: page, LocalPath: document.Slug(page.Title) + ".md"}}, nil
}

func (r *Resolver) resolveSubtree(ctx context.Context, rootID string) ([]*Entry, error) {
	root, err := r.store.GetPage(ctx, rootID)
	if err != nil {
		if errors.Is(err, remote.ErrPageNotFound) {
			return nil, fmt.Errorf("subtree root %s: %w", rootID, ErrUnknownTarget)
		}
		return nil, err
	}

	list := func(ctx context.Context, id string) ([]*remote.Page, error) {
		return r.store.ListChildren(ctx, id)
	}
	return r.walk(ctx, []*remote.Page{root}, list)
}

func (r *Resolver) resolveSpace(ctx context.Context, key string) ([]*Entry, error) {
	pages, err := r.store.ListSpacePages(ctx, key)
	if err != nil {
		if errors.Is(err, remote.ErrPageNotFound) {
			return nil, fmt.Errorf("space %s: %w", key, ErrUnknownTarget)
		}
		return nil, err
	}

	inSpace := make(map[string]*remote.Page, len(pages))
	for _, p := range pages {
		inSpace[p.ID] = p
	}
	childrenOf := make(map[string][]*remote.Page)
	var roots []*remote.Page
	for _, p := range pages {
		if p.ParentID == "" || inSpace[p.ParentID] == nil {
			roots = append(roots, p)
			continue
		}
		childrenOf[p.ParentID] = append(childrenOf[p.ParentID], p)
	}

	list := func(_ context.Context, id string) ([]*remote.Page, error) {
		return childrenOf[id], nil
	}
	return r.walk(ctx, roots, list)
}

// walk runs the breadth-first expansion shared by subtree and space
// targets. A visited set guards against malformed parent cycles.
func (r *Resolver) walk(ctx context.Context, roots []*remote.Page, list func(context.Context, string) ([]*remote.Page, error)) ([]*Entry, error) {
	sortPages(roots)

	visited := mapset.NewThreadUnsafeSet[string]()
	var entries []*Entry

	type queued struct {
		page *remote.Page
		dir  string // parent-derived directory prefix, "" at the top
	}
	var queue []queued
	for _, root := range roots {
		queue = append(queue, queued{page: root})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if !visited.Add(cur.page.ID) {
			slog.Warn("cycle in page tree, skipping revisit", "page", cur.page.ID)
			continue
		}

		slug := document.Slug(cur.page.Title)
		entries = append(entries, &Entry{Page: cur.page, LocalPath: cur.dir + slug + ".md"})

		children, err := list(ctx, cur.page.ID)
		if err != nil {
			return nil, fmt.Errorf("listing children of %s: %w", cur.page.ID, err)
		}
		sortPages(children)
		childDir := cur.dir + slug + "/"
		for _, child := range children {
			queue = append(queue, queued{page: child, dir: childDir})
		}
	}
	return entries, nil
}

func sortPages(pages []*remote.Page) {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Title != pages[j].Title {
			return pages[i].Title < pages[j].Title
		}
		return pages[i].ID < pages[j].ID
	})
}
