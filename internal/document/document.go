// Package document handles the on-disk form of a synced page: a Markdown
// file with YAML frontmatter carrying the sync coordinates, plus the naming
// conventions that tie a page to its attachments directory.
package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/marksync/marksync/internal/utils"
)

// Meta is the frontmatter block at the top of every synced Markdown file.
// SyncedHash is the content hash of Body at the moment of the last
// successful sync; local edits are detected by comparing against it.
type Meta struct {
	PageID     string `yaml:"page_id"`
	Title      string `yaml:"title"`
	SpaceKey   string `yaml:"space"`
	ParentID   string `yaml:"parent_id,omitempty"`
	Version    int64  `yaml:"version"`
	SyncedHash string `yaml:"synced_hash"`
}

// Document is one local Markdown file. Body excludes the frontmatter block.
type Document struct {
	Path string
	Meta Meta
	Body string
}

// Parse splits raw file content into frontmatter and body. Files without a
// frontmatter block parse to a zero Meta, which callers treat as not yet
// synced.
func Parse(data []byte) (Meta, string, error) {
	var meta Meta
	body, err := frontmatter.Parse(bytes.NewReader(data), &meta)
	if err != nil {
		return Meta{}, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	return meta, strings.TrimSpace(string(body)), nil
}

// Encode renders the file content: frontmatter block, blank line, body.
func Encode(meta Meta, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBytes)
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// Read loads and parses the Markdown file at path.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &Document{Path: path, Meta: meta, Body: body}, nil
}

// Write persists the document atomically, creating parent directories.
func (d *Document) Write() error {
	data, err := Encode(d.Meta, d.Body)
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(d.Path); err != nil {
		return err
	}
	return utils.WriteFileAtomic(d.Path, data, 0o644)
}

// BodyHash returns the content hash of the Markdown body.
func (d *Document) BodyHash() string {
	return utils.ContentHash([]byte(d.Body))
}

// Dirty reports whether the body changed since the last successful sync.
func (d *Document) Dirty() bool {
	return d.Meta.SyncedHash == "" || d.BodyHash() != d.Meta.SyncedHash
}

// AttachmentsDirName returns the sidecar directory name for a page file,
// e.g. "welcome.md" -> "welcome.attachments". The stem convention is part
// of the persisted layout and must not change between releases.
func AttachmentsDirName(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return stem + ".attachments"
}

// AttachmentsDir returns the absolute sidecar directory path for a page file.
func AttachmentsDir(path string) string {
	return filepath.Join(filepath.Dir(path), AttachmentsDirName(path))
}

// Slug derives a filesystem-safe name from a page title: lowercase,
// alphanumeric runs joined by single hyphens.
func Slug(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}
