package state

import "time"

// PageRecord is the durable sync record for one page: the remote version and
// content hash observed at the last successful transfer.
type PageRecord struct {
	PageID    string
	LocalPath string
	Version   int64
	Hash      string
	SyncedAt  time.Time
}

// AttachmentRecord is the durable sync record for one attachment, keyed by
// (page id, filename).
type AttachmentRecord struct {
	PageID   string
	Filename string
	Version  int64
	Hash     string
	SyncedAt time.Time
}

// db scan targets; timestamps are stored as RFC3339 TEXT.

type dbPageRecord struct {
	PageID    string `db:"page_id"`
	LocalPath string `db:"local_path"`
	Version   int64  `db:"version"`
	Hash      string `db:"hash"`
	SyncedAt  string `db:"synced_at"`
}

type dbAttachmentRecord struct {
	PageID   string `db:"page_id"`
	Filename string `db:"filename"`
	Version  int64  `db:"version"`
	Hash     string `db:"hash"`
	SyncedAt string `db:"synced_at"`
}
