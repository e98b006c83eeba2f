// Package state persists per-page and per-attachment sync records in a
// SQLite database. A record is written only after a confirmed transfer, so
// after a crash the store holds either the old record or the new one, never
// a partial write.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"

	"github.com/marksync/marksync/internal/db"
	"github.com/marksync/marksync/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS page_records (
    page_id TEXT PRIMARY KEY,
    local_path TEXT NOT NULL,
    version INTEGER NOT NULL,
    hash TEXT NOT NULL,
    synced_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS attachment_records (
    page_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    version INTEGER NOT NULL,
    hash TEXT NOT NULL,
    synced_at TEXT NOT NULL, -- RFC3339
    PRIMARY KEY (page_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_page_records_local_path ON page_records(local_path);
CREATE INDEX IF NOT EXISTS idx_attachment_records_page ON attachment_records(page_id);
`

// MemoryPath opens the store on an in-memory database, used by tests.
const MemoryPath = ":memory:"

var ErrLocked = errors.New("state store is locked by another process")

// Store is the durable sync record store.
type Store struct {
	db     *sqlx.DB
	dbPath string
	lock   *flock.Flock
}

// NewStore prepares a store backed by the SQLite database at dbPath. Call
// Open before use.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Open acquires the store's advisory file lock, opens the database and
// applies the schema. A second process opening the same store gets
// ErrLocked instead of interleaved writes.
func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("state store already open")
	}

	if s.dbPath != MemoryPath {
		if err := utils.EnsureDir(filepath.Dir(s.dbPath)); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
		lock := flock.New(s.dbPath + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("locking state store: %w", err)
		}
		if !locked {
			return fmt.Errorf("%s: %w", s.dbPath, ErrLocked)
		}
		s.lock = lock
	}

	sdb, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		s.unlock()
		return fmt.Errorf("opening state store: %w", err)
	}
	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		s.unlock()
		return fmt.Errorf("initializing state schema: %w", err)
	}

	s.db = sdb
	return nil
}

// Close releases the database and the file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("state store not open")
	}
	err := s.db.Close()
	s.db = nil
	s.unlock()
	if err != nil {
		return err
	}
	slog.Debug("state store closed", "path", s.dbPath)
	return nil
}

func (s *Store) unlock() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			slog.Error("failed to release state lock", "path", s.dbPath, "error", err)
		}
		s.lock = nil
	}
}

// GetPage returns the record for a page, or (nil, nil) when none exists.
func (s *Store) GetPage(pageID string) (*PageRecord, error) {
	var rec dbPageRecord
	err := s.db.Get(&rec, "SELECT page_id, local_path, version, hash, synced_at FROM page_records WHERE page_id = ?", pageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying page %s: %w", pageID, err)
	}
	return pageFromRow(&rec)
}

// PutPage inserts or replaces a page record. The single-statement write is
// the store's atomicity unit.
func (s *Store) PutPage(rec *PageRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot put nil page record")
	}
	row := dbPageRecord{
		PageID:    rec.PageID,
		LocalPath: rec.LocalPath,
		Version:   rec.Version,
		Hash:      rec.Hash,
		SyncedAt:  rec.SyncedAt.Format(time.RFC3339),
	}
	query := `INSERT OR REPLACE INTO page_records (page_id, local_path, version, hash, synced_at)
	          VALUES (:page_id, :local_path, :version, :hash, :synced_at)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("recording page %s: %w", rec.PageID, err)
	}
	slog.Debug("state put page", "page", rec.PageID, "version", rec.Version, "hash", rec.Hash)
	return nil
}

// DeletePage removes a page record and all its attachment records.
func (s *Store) DeletePage(pageID string) error {
	if _, err := s.db.Exec("DELETE FROM attachment_records WHERE page_id = ?", pageID); err != nil {
		return fmt.Errorf("deleting attachment records for page %s: %w", pageID, err)
	}
	if _, err := s.db.Exec("DELETE FROM page_records WHERE page_id = ?", pageID); err != nil {
		return fmt.Errorf("deleting page record %s: %w", pageID, err)
	}
	return nil
}

// GetAttachment returns the record for one attachment, or (nil, nil) when
// none exists.
func (s *Store) GetAttachment(pageID, filename string) (*AttachmentRecord, error) {
	var rec dbAttachmentRecord
	err := s.db.Get(&rec, "SELECT page_id, filename, version, hash, synced_at FROM attachment_records WHERE page_id = ? AND filename = ?", pageID, filename)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying attachment %s/%s: %w", pageID, filename, err)
	}
	return attachmentFromRow(&rec)
}

// PutAttachment inserts or replaces an attachment record.
func (s *Store) PutAttachment(rec *AttachmentRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot put nil attachment record")
	}
	row := dbAttachmentRecord{
		PageID:   rec.PageID,
		Filename: rec.Filename,
		Version:  rec.Version,
		Hash:     rec.Hash,
		SyncedAt: rec.SyncedAt.Format(time.RFC3339),
	}
	query := `INSERT OR REPLACE INTO attachment_records (page_id, filename, version, hash, synced_at)
	          VALUES (:page_id, :filename, :version, :hash, :synced_at)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("recording attachment %s/%s: %w", rec.PageID, rec.Filename, err)
	}
	return nil
}

// DeleteAttachment removes one attachment record.
func (s *Store) DeleteAttachment(pageID, filename string) error {
	if _, err := s.db.Exec("DELETE FROM attachment_records WHERE page_id = ? AND filename = ?", pageID, filename); err != nil {
		return fmt.Errorf("deleting attachment record %s/%s: %w", pageID, filename, err)
	}
	return nil
}

// Attachments returns every attachment record for a page.
func (s *Store) Attachments(pageID string) ([]*AttachmentRecord, error) {
	var rows []dbAttachmentRecord
	err := s.db.Select(&rows, "SELECT page_id, filename, version, hash, synced_at FROM attachment_records WHERE page_id = ? ORDER BY filename", pageID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for page %s: %w", pageID, err)
	}
	recs := make([]*AttachmentRecord, 0, len(rows))
	for i := range rows {
		rec, err := attachmentFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// PageIDs returns every page id known to the store.
func (s *Store) PageIDs() ([]string, error) {
	var ids []string
	if err := s.db.Select(&ids, "SELECT page_id FROM page_records ORDER BY page_id"); err != nil {
		return nil, fmt.Errorf("querying page ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of page records.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM page_records"); err != nil {
		return 0, fmt.Errorf("counting page records: %w", err)
	}
	return count, nil
}

func pageFromRow(row *dbPageRecord) (*PageRecord, error) {
	syncedAt, err := time.Parse(time.RFC3339, row.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing synced_at for page %s: %w", row.PageID, err)
	}
	return &PageRecord{
		PageID:    row.PageID,
		LocalPath: row.LocalPath,
		Version:   row.Version,
		Hash:      row.Hash,
		SyncedAt:  syncedAt,
	}, nil
}

func attachmentFromRow(row *dbAttachmentRecord) (*AttachmentRecord, error) {
	syncedAt, err := time.Parse(time.RFC3339, row.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing synced_at for attachment %s/%s: %w", row.PageID, row.Filename, err)
	}
	return &AttachmentRecord{
		PageID:   row.PageID,
		Filename: row.Filename,
		Version:  row.Version,
		Hash:     row.Hash,
		SyncedAt: syncedAt,
	}, nil
}
