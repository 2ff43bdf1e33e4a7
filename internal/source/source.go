// Package source implements the upstream memo source client:
// a paginated REST API returning memo JSON, iterated page by page with a
// client-side creator filter.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/memo"
)

// DefaultPageSize is the page size requested from the upstream memo list
// endpoint when the caller doesn't specify one.
const DefaultPageSize = 100

// DefaultTimeout bounds a single page fetch, matching the 30s image-fetch
// timeout internal/memo.builder.go uses for the same upstream server.
const DefaultTimeout = 30 * time.Second

// Client fetches memos from the upstream memo source, page by page,
// using the same base-URL + session-cookie auth as the attachment fetch
// path in internal/memo.
type Client struct {
	client        *http.Client
	baseURL       string
	sessionCookie string
	pageSize      int
	timeout       time.Duration
	retry         memoerrors.RetryConfig
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	SessionCookie string
	PageSize      int
	Timeout       time.Duration
	// Retry governs per-page retry of transient fetch failures; zero
	// value means DefaultRetryConfig.
	Retry *memoerrors.RetryConfig
}

// NewClient creates a memo source Client.
func NewClient(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := memoerrors.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &Client{
		client:        &http.Client{},
		baseURL:       cfg.BaseURL,
		sessionCookie: cfg.SessionCookie,
		pageSize:      pageSize,
		timeout:       timeout,
		retry:         retry,
	}
}

type listMemosResponse struct {
	Memos         []wireMemo `json:"memos"`
	NextPageToken string     `json:"nextPageToken"`
}

// wireMemo mirrors the upstream memo JSON shape.
type wireMemo struct {
	Name        string           `json:"name"`
	State       string           `json:"state"`
	Creator     string           `json:"creator"`
	CreateTime  string           `json:"createTime"`
	UpdateTime  string           `json:"updateTime"`
	DisplayTime string           `json:"displayTime"`
	Content     string           `json:"content"`
	Visibility  string           `json:"visibility"`
	Tags        []string         `json:"tags"`
	Pinned      bool             `json:"pinned"`
	Property    *wireProperty    `json:"property"`
	Attachments []wireAttachment `json:"attachments"`
}

type wireProperty struct {
	HasLink            bool `json:"hasLink"`
	HasTaskList        bool `json:"hasTaskList"`
	HasCode            bool `json:"hasCode"`
	HasIncompleteTasks bool `json:"hasIncompleteTasks"`
}

type wireAttachment struct {
	Name         string `json:"name"`
	Filename     string `json:"filename"`
	Type         string `json:"type"`
	ExternalLink string `json:"externalLink"`
	Content      string `json:"content"`
}

func (m wireMemo) toDomain() *memo.Memo {
	attachments := make([]memo.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		attachments[i] = memo.Attachment{
			Name:         a.Name,
			Filename:     a.Filename,
			Type:         a.Type,
			ExternalLink: a.ExternalLink,
			Content:      a.Content,
		}
	}
	var prop *memo.Property
	if m.Property != nil {
		prop = &memo.Property{
			HasLink:            m.Property.HasLink,
			HasTaskList:        m.Property.HasTaskList,
			HasCode:            m.Property.HasCode,
			HasIncompleteTasks: m.Property.HasIncompleteTasks,
		}
	}
	return &memo.Memo{
		Name:        m.Name,
		State:       m.State,
		Creator:     m.Creator,
		CreateTime:  m.CreateTime,
		UpdateTime:  m.UpdateTime,
		DisplayTime: m.DisplayTime,
		Content:     m.Content,
		Visibility:  m.Visibility,
		Tags:        m.Tags,
		Pinned:      m.Pinned,
		Attachments: attachments,
		Property:    prop,
	}
}

// ListAll iterates every page of the upstream memo list until nextPageToken
// is empty, applying the creator filter client-side since the upstream API
// has no creator-scoped list endpoint. An empty creator fetches every memo.
func (c *Client) ListAll(ctx context.Context, creator string) ([]*memo.Memo, error) {
	var out []*memo.Memo
	pageToken := ""
	for {
		// A page fetch that fails transiently retries with backoff before
		// the whole listing gives up.
		page, err := memoerrors.RetryWithResult(ctx, c.retry, func() (listPageResult, error) {
			memos, token, err := c.listPage(ctx, pageToken)
			return listPageResult{memos: memos, next: token}, err
		})
		if err != nil {
			return out, err
		}
		for _, m := range page.memos {
			if creator == "" || m.Creator == creator {
				out = append(out, m)
			}
		}
		if page.next == "" {
			return out, nil
		}
		pageToken = page.next
	}
}

type listPageResult struct {
	memos []*memo.Memo
	next  string
}

func (c *Client) listPage(ctx context.Context, pageToken string) ([]*memo.Memo, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	endpoint := fmt.Sprintf("%s/api/v1/memos?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	if c.sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "user_session", Value: c.sessionCookie})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("source: list memos request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("source: list memos returned status %d", resp.StatusCode)
	}

	var parsed listMemosResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("source: decode list memos response: %w", err)
	}

	memos := make([]*memo.Memo, len(parsed.Memos))
	for i, m := range parsed.Memos {
		memos[i] = m.toDomain()
	}
	return memos, parsed.NextPageToken, nil
}
