// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/utils"
)

// FakeStore is a thread-safe in-memory remote.Store. Pages and attachments
// behave like the real store: updates bump versions, stale prior versions are
// rejected with remote.ErrVersionConflict.
type FakeStore struct {
	mu          sync.Mutex
	pages       map[string]*remote.Page
	attachments map[string]map[string]*fakeAttachment // pageID -> filename
	nextID      int

	// GetPageCalls counts GetPage invocations, for cache/idempotence asserts.
	GetPageCalls int

	// FailGetPage makes GetPage for the given id return the given error.
	FailGetPage map[string]error
}

type fakeAttachment struct {
	meta *remote.Attachment
	data []byte
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		pages:       make(map[string]*remote.Page),
		attachments: make(map[string]map[string]*fakeAttachment),
		FailGetPage: make(map[string]error),
	}
}

// AddPage seeds a page and returns it. A zero version defaults to 1.
func (f *FakeStore) AddPage(p *remote.Page) *remote.Page {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.ID == "" {
		f.nextID++
		p.ID = fmt.Sprintf("%d", 1000+f.nextID)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	cp := *p
	f.pages[p.ID] = &cp
	return p
}

// SetBody replaces a page body and bumps its version, simulating a remote
// edit made outside the sync engine.
func (f *FakeStore) SetBody(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.pages[id]
	p.Body = body
	p.Version++
}

// AddAttachment seeds attachment content for a page.
func (f *FakeStore) AddAttachment(pageID, filename string, data []byte) *remote.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putAttachmentLocked(pageID, filename, data)
}

func (f *FakeStore) putAttachmentLocked(pageID, filename string, data []byte) *remote.Attachment {
	if f.attachments[pageID] == nil {
		f.attachments[pageID] = make(map[string]*fakeAttachment)
	}

	var version int64 = 1
	if prev, ok := f.attachments[pageID][filename]; ok {
		version = prev.meta.Version + 1
	}

	meta := &remote.Attachment{
		PageID:    pageID,
		Filename:  filename,
		Hash:      utils.ContentHash(data),
		Version:   version,
		MediaType: "application/octet-stream",
		Size:      int64(len(data)),
	}
	f.attachments[pageID][filename] = &fakeAttachment{meta: meta, data: append([]byte(nil), data...)}
	return meta
}

func (f *FakeStore) GetPage(_ context.Context, id string) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GetPageCalls++
	if err, ok := f.FailGetPage[id]; ok {
		return nil, err
	}

	p, ok := f.pages[id]
	if !ok {
		return nil, fmt.Errorf("get page %s: %w", id, remote.ErrPageNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *FakeStore) ListChildren(_ context.Context, id string) ([]*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pages[id]; !ok {
		return nil, fmt.Errorf("list children %s: %w", id, remote.ErrPageNotFound)
	}

	var children []*remote.Page
	for _, p := range f.pages {
		if p.ParentID == id {
			cp := *p
			cp.Body = "" // listings do not expand bodies
			children = append(children, &cp)
		}
	}
	// intentionally unstable order; resolver must sort for determinism
	sort.Slice(children, func(i, j int) bool { return children[i].ID > children[j].ID })
	return children, nil
}

func (f *FakeStore) ListSpacePages(_ context.Context, spaceKey string) ([]*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pages []*remote.Page
	for _, p := range f.pages {
		if p.SpaceKey == spaceKey {
			cp := *p
			cp.Body = ""
			pages = append(pages, &cp)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("list space %s: %w", spaceKey, remote.ErrPageNotFound)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID > pages[j].ID })
	return pages, nil
}

func (f *FakeStore) CreatePage(_ context.Context, spaceKey, parentID, title, body string) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	p := &remote.Page{
		ID:       fmt.Sprintf("%d", 1000+f.nextID),
		Title:    title,
		SpaceKey: spaceKey,
		ParentID: parentID,
		Version:  1,
		Body:     body,
	}
	f.pages[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *FakeStore) UpdatePage(_ context.Context, id, title, body string, priorVersion int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pages[id]
	if !ok {
		return 0, fmt.Errorf("update page %s: %w", id, remote.ErrPageNotFound)
	}
	if p.Version != priorVersion {
		return 0, fmt.Errorf("update page %s: have %d, got prior %d: %w", id, p.Version, priorVersion, remote.ErrVersionConflict)
	}

	p.Title = title
	p.Body = body
	p.Version++
	return p.Version, nil
}

func (f *FakeStore) ListAttachments(_ context.Context, pageID string) ([]*remote.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*remote.Attachment
	for _, a := range f.attachments[pageID] {
		cp := *a.meta
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (f *FakeStore) GetAttachment(_ context.Context, pageID, filename string) ([]byte, *remote.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.attachments[pageID][filename]
	if !ok {
		return nil, nil, fmt.Errorf("get attachment %s/%s: %w", pageID, filename, remote.ErrAttachmentAbsent)
	}
	cp := *a.meta
	return append([]byte(nil), a.data...), &cp, nil
}

func (f *FakeStore) UploadAttachment(_ context.Context, pageID, filename string, data []byte) (*remote.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pages[pageID]; !ok {
		return nil, fmt.Errorf("upload attachment %s/%s: %w", pageID, filename, remote.ErrPageNotFound)
	}
	meta := f.putAttachmentLocked(pageID, filename, data)
	cp := *meta
	return &cp, nil
}

var _ remote.Store = (*FakeStore)(nil)
