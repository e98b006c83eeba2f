// Package remote defines the remote document store consumed by the sync
// engine, plus its HTTP implementation.
package remote

import (
	"context"
)

// Store is the abstract remote document store. The engine only ever talks
// to this interface; retry policy for transient failures lives inside the
// HTTP client, not in callers.
type Store interface {
	// GetPage fetches a page with its storage-format body and current version.
	GetPage(ctx context.Context, id string) (*Page, error)

	// ListChildren returns the direct child pages of a page. Bodies may be
	// omitted; callers needing content must GetPage.
	ListChildren(ctx context.Context, id string) ([]*Page, error)

	// ListSpacePages returns every page in a space, bodies omitted.
	ListSpacePages(ctx context.Context, spaceKey string) ([]*Page, error)

	// CreatePage creates a page under parentID (empty for a space root) and
	// returns it with its assigned id and version.
	CreatePage(ctx context.Context, spaceKey, parentID, title, body string) (*Page, error)

	// UpdatePage submits a new body against priorVersion. Returns the new
	// version number, or ErrVersionConflict if the remote version advanced.
	UpdatePage(ctx context.Context, id, title, body string, priorVersion int64) (int64, error)

	// ListAttachments returns metadata for every attachment on a page.
	ListAttachments(ctx context.Context, pageID string) ([]*Attachment, error)

	// GetAttachment downloads one attachment's bytes and metadata.
	GetAttachment(ctx context.Context, pageID, filename string) ([]byte, *Attachment, error)

	// UploadAttachment creates or updates an attachment and returns its new
	// metadata.
	UploadAttachment(ctx context.Context, pageID, filename string, data []byte) (*Attachment, error)
}

// Page is a single remote document unit.
type Page struct {
	ID       string
	Title    string
	SpaceKey string
	ParentID string // empty for a space root
	Version  int64
	Body     string // storage format; empty when listed without expansion
}

// Attachment is remote file metadata, identified by filename scoped to its page.
type Attachment struct {
	PageID    string
	Filename  string
	Hash      string // md5 hex of content
	Version   int64
	MediaType string
	Size      int64

	// relative download path from the listing; only set by the HTTP client
	downloadPath string
}
