package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "token")
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = NewClient("https://wiki.example.com", "")
	assert.ErrorIs(t, err, ErrNoToken)

	c, err := NewClient("https://wiki.example.com/", "token")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestAPIErrorTransient(t *testing.T) {
	assert.True(t, newAPIError(429, CodeRateLimited, "slow down").Transient())
	assert.True(t, newAPIError(503, CodeUnavailable, "maintenance").Transient())
	assert.False(t, newAPIError(403, CodeAccessDenied, "no").Transient())
	assert.False(t, newAPIError(400, CodeInvalidRequest, "bad").Transient())
}

func TestIsTransientUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("list pages: %w", newAPIError(502, CodeUnavailable, "bad gateway"))
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(ErrPageNotFound))
}

func TestGetPageMemoizedUntilReset(t *testing.T) {
	var version atomic.Int64
	version.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := version.Load()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"1","title":"Home","space":{"key":"DOCS"},"version":{"number":%d},"body":{"storage":{"value":"<p>v%d</p>","representation":"storage"}}}`, v, v)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "token")
	require.NoError(t, err)

	first, err := c.GetPage(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	// remote edit lands
	version.Store(2)

	cached, err := c.GetPage(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version, "memoized within a run")

	c.ResetCache()

	fresh, err := c.GetPage(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version, "a new run must see the remote edit")
	assert.Equal(t, "<p>v2</p>", fresh.Body)
}

func TestPageFromDTO(t *testing.T) {
	dto := &pageDTO{
		ID:      "42",
		Title:   "Release Notes",
		Space:   &spaceDTO{Key: "DOCS"},
		Version: &versionDTO{Number: 7},
		Ancestors: []pageDTO{
			{ID: "1"},
			{ID: "17"},
		},
		Body: &bodyDTO{Storage: storageDTO{Value: "<p>hi</p>"}},
	}

	page := pageFromDTO(dto)
	assert.Equal(t, "42", page.ID)
	assert.Equal(t, "Release Notes", page.Title)
	assert.Equal(t, "DOCS", page.SpaceKey)
	assert.Equal(t, int64(7), page.Version)
	// parent is the nearest ancestor, not the root
	assert.Equal(t, "17", page.ParentID)
	assert.Equal(t, "<p>hi</p>", page.Body)

	bare := pageFromDTO(&pageDTO{ID: "9", Title: "Root"})
	assert.Empty(t, bare.ParentID)
	assert.Zero(t, bare.Version)
}

func TestAttachmentFromDTO(t *testing.T) {
	dto := &attachmentDTO{
		Title:   "diagram.png",
		Version: versionDTO{Number: 3},
		Extensions: extensionsDTO{
			MediaType: "image/png",
			FileSize:  2048,
			Comment:   hashCommentPrefix + "abc123",
		},
		Links: linksDTO{Download: "/download/attachments/42/diagram.png"},
	}

	a := attachmentFromDTO("42", dto)
	assert.Equal(t, "42", a.PageID)
	assert.Equal(t, "diagram.png", a.Filename)
	assert.Equal(t, int64(3), a.Version)
	assert.Equal(t, "abc123", a.Hash)
	assert.Equal(t, int64(2048), a.Size)

	// foreign comment text is not mistaken for a content hash
	noHash := attachmentFromDTO("42", &attachmentDTO{
		Title:      "note.txt",
		Extensions: extensionsDTO{Comment: "uploaded by hand"},
	})
	assert.Empty(t, noHash.Hash)
}
