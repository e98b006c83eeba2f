package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
	"github.com/marksync/marksync/internal/utils"
	"github.com/marksync/marksync/internal/version"
)

const (
	apiContent = "/rest/api/content"

	listPageSize  = 50
	pageCacheSize = 256

	// attachment content hashes ride along in the comment field, since the
	// store itself only exposes size and media type
	hashCommentPrefix = "md5:"
)

// Client talks to the remote document store over its REST API.
// A small LRU memoizes page fetches within a run: the scope resolver lists
// pages and the engine re-fetches them moments later.
type Client struct {
	client *req.Client
	pages  *lru.Cache[string, *Page]
}

var _ Store = (*Client)(nil)

// NewClient creates a document store client for baseURL, authenticating
// every request with the given API token.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if token == "" {
		return nil, ErrNoToken
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetCommonBearerAuthToken(token).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode == 429 || resp.StatusCode >= 500
		}).
		SetUserAgent(version.AppName + "/" + version.Version)

	pages, err := lru.New[string, *Page](pageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}

	return &Client{
		client: client,
		pages:  pages,
	}, nil
}

// ResetCache drops all memoized pages. Callers reusing one Client across
// sync runs reset between runs so remote edits are observed.
func (c *Client) ResetCache() {
	c.pages.Purge()
}

// GetPage fetches a page with body, version, space and ancestry expanded.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	if p, ok := c.pages.Get(id); ok {
		return p, nil
	}

	var dto pageDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("expand", "body.storage,version,space,ancestors").
		SetSuccessResult(&dto).
		Get(apiContent + "/" + id)

	if err := handleAPIError(resp, err, "get page"); err != nil {
		return nil, err
	}

	page := pageFromDTO(&dto)
	c.pages.Add(id, page)
	return page, nil
}

// ListChildren returns the direct child pages of id, paging through the
// result set. Bodies are not expanded.
func (c *Client) ListChildren(ctx context.Context, id string) ([]*Page, error) {
	return c.listPages(ctx, apiContent+"/"+id+"/child/page", nil)
}

// ListSpacePages returns every page in the space, bodies omitted.
func (c *Client) ListSpacePages(ctx context.Context, spaceKey string) ([]*Page, error) {
	return c.listPages(ctx, apiContent, map[string]string{
		"spaceKey": spaceKey,
		"type":     "page",
	})
}

func (c *Client) listPages(ctx context.Context, path string, params map[string]string) ([]*Page, error) {
	var pages []*Page
	start := 0

	for {
		var dto pageListDTO
		r := c.client.R().
			SetContext(ctx).
			SetQueryParam("expand", "version,space,ancestors").
			SetQueryParam("start", fmt.Sprintf("%d", start)).
			SetQueryParam("limit", fmt.Sprintf("%d", listPageSize)).
			SetSuccessResult(&dto)
		for k, v := range params {
			r.SetQueryParam(k, v)
		}

		resp, err := r.Get(path)
		if err := handleAPIError(resp, err, "list pages"); err != nil {
			return nil, err
		}

		for i := range dto.Results {
			pages = append(pages, pageFromDTO(&dto.Results[i]))
		}

		if len(dto.Results) < listPageSize {
			return pages, nil
		}
		start += listPageSize
	}
}

// CreatePage creates a page under parentID, or at the space root when
// parentID is empty.
func (c *Client) CreatePage(ctx context.Context, spaceKey, parentID, title, body string) (*Page, error) {
	payload := createPageDTO{
		Type:  "page",
		Title: title,
		Space: spaceDTO{Key: spaceKey},
		Body: bodyDTO{
			Storage: storageDTO{Value: body, Representation: "storage"},
		},
	}
	if parentID != "" {
		payload.Ancestors = []idOnlyDTO{{ID: parentID}}
	}

	var dto pageDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&payload).
		SetSuccessResult(&dto).
		Post(apiContent)

	if err := handleAPIError(resp, err, "create page"); err != nil {
		return nil, err
	}

	page := pageFromDTO(&dto)
	page.Body = body
	c.pages.Add(page.ID, page)
	return page, nil
}

// UpdatePage submits body against priorVersion using optimistic concurrency.
// The store rejects a stale prior version with 409, surfaced as
// ErrVersionConflict; the update is not retried.
func (c *Client) UpdatePage(ctx context.Context, id, title, body string, priorVersion int64) (int64, error) {
	payload := updatePageDTO{
		ID:      id,
		Type:    "page",
		Title:   title,
		Version: versionDTO{Number: priorVersion + 1},
		Body: bodyDTO{
			Storage: storageDTO{Value: body, Representation: "storage"},
		},
	}

	var dto pageDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(&payload).
		SetSuccessResult(&dto).
		Put(apiContent + "/" + id)

	if err := handleAPIError(resp, err, "update page"); err != nil {
		return 0, err
	}

	c.pages.Remove(id)
	if dto.Version == nil {
		return priorVersion + 1, nil
	}
	return dto.Version.Number, nil
}

// ListAttachments returns metadata for every attachment on pageID.
func (c *Client) ListAttachments(ctx context.Context, pageID string) ([]*Attachment, error) {
	var attachments []*Attachment
	start := 0

	for {
		var dto attachmentListDTO
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("expand", "version,extensions").
			SetQueryParam("start", fmt.Sprintf("%d", start)).
			SetQueryParam("limit", fmt.Sprintf("%d", listPageSize)).
			SetSuccessResult(&dto).
			Get(apiContent + "/" + pageID + "/child/attachment")

		if err := handleAPIError(resp, err, "list attachments"); err != nil {
			return nil, err
		}

		for i := range dto.Results {
			attachments = append(attachments, attachmentFromDTO(pageID, &dto.Results[i]))
		}

		if len(dto.Results) < listPageSize {
			return attachments, nil
		}
		start += listPageSize
	}
}

// GetAttachment downloads one attachment's bytes plus its metadata.
func (c *Client) GetAttachment(ctx context.Context, pageID, filename string) ([]byte, *Attachment, error) {
	attachments, err := c.ListAttachments(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}

	var meta *Attachment
	var download string
	for _, a := range attachments {
		if a.Filename == filename {
			meta = a
			download = a.downloadPath
			break
		}
	}
	if meta == nil {
		return nil, nil, fmt.Errorf("get attachment %q: %w", filename, ErrAttachmentAbsent)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		Get(download)
	if err := handleAPIError(resp, err, "download attachment"); err != nil {
		return nil, nil, err
	}

	data := resp.Bytes()
	return data, meta, nil
}

// UploadAttachment creates or updates an attachment. The content hash is
// recorded in the attachment comment so later syncs can diff without
// downloading.
func (c *Client) UploadAttachment(ctx context.Context, pageID, filename string, data []byte) (*Attachment, error) {
	hash := utils.ContentHash(data)

	var dto attachmentListDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Atlassian-Token", "nocheck").
		SetFileBytes("file", filename, data).
		SetFormData(map[string]string{
			"comment":   hashCommentPrefix + hash,
			"minorEdit": "true",
		}).
		SetSuccessResult(&dto).
		Put(apiContent + "/" + pageID + "/child/attachment")

	if err := handleAPIError(resp, err, "upload attachment"); err != nil {
		return nil, err
	}

	if len(dto.Results) == 0 {
		return nil, fmt.Errorf("upload attachment %q: empty response", filename)
	}
	return attachmentFromDTO(pageID, &dto.Results[0]), nil
}

func pageFromDTO(dto *pageDTO) *Page {
	page := &Page{
		ID:    dto.ID,
		Title: dto.Title,
	}
	if dto.Space != nil {
		page.SpaceKey = dto.Space.Key
	}
	if dto.Version != nil {
		page.Version = dto.Version.Number
	}
	if len(dto.Ancestors) > 0 {
		page.ParentID = dto.Ancestors[len(dto.Ancestors)-1].ID
	}
	if dto.Body != nil {
		page.Body = dto.Body.Storage.Value
	}
	return page
}

func attachmentFromDTO(pageID string, dto *attachmentDTO) *Attachment {
	a := &Attachment{
		PageID:       pageID,
		Filename:     dto.Title,
		Version:      dto.Version.Number,
		MediaType:    dto.Extensions.MediaType,
		Size:         dto.Extensions.FileSize,
		downloadPath: dto.Links.Download,
	}
	if strings.HasPrefix(dto.Extensions.Comment, hashCommentPrefix) {
		a.Hash = strings.TrimPrefix(dto.Extensions.Comment, hashCommentPrefix)
	}
	return a
}
