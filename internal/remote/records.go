package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbaille/pagesync/internal/domain"
)

// Records reads and updates page records through the pagesync HTTP API
type Records struct {
	apiRoot string
	http    *http.Client
}

// NewRecords creates a Records client for apiRoot (e.g. http://host:8080/api)
func NewRecords(apiRoot string, httpClient *http.Client) (*Records, error) {
	u, err := url.Parse(apiRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Records{apiRoot: strings.TrimRight(apiRoot, "/"), http: httpClient}, nil
}

// SelectPage reads the requested columns of one page
func (c *Records) SelectPage(ctx context.Context, slug string, columns []string) (domain.PageMeta, error) {
	var meta domain.PageMeta
	endpoint := c.apiRoot + "/pages/" + url.PathEscape(slug) + selectQuery(columns)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return domain.PageMeta{}, err
	}
	return meta, nil
}

// SelectChapterPages lists a chapter's pages in reading order
func (c *Records) SelectChapterPages(ctx context.Context, chapterSlug string, columns []string) ([]domain.PageMeta, error) {
	var resp struct {
		Pages []domain.PageMeta `json:"pages"`
	}
	endpoint := c.apiRoot + "/chapters/" + url.PathEscape(chapterSlug) + "/pages" + selectQuery(columns)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pages, nil
}

// UpdatePage writes a new stamp and, when set, the access tier
func (c *Records) UpdatePage(ctx context.Context, slug string, update domain.PageUpdate) error {
	return c.do(ctx, http.MethodPatch, c.apiRoot+"/pages/"+url.PathEscape(slug), update, nil)
}

// CreateChapter adds a chapter
func (c *Records) CreateChapter(ctx context.Context, title, slug string, indexNum int) (*domain.Chapter, error) {
	var ch domain.Chapter
	body := map[string]interface{}{"title": title, "slug": slug, "index_num": indexNum}
	if err := c.do(ctx, http.MethodPost, c.apiRoot+"/chapters", body, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreatePage adds a page record under chapterSlug
func (c *Records) CreatePage(ctx context.Context, chapterSlug string, page domain.PageMeta) (*domain.PageMeta, error) {
	var created domain.PageMeta
	body := map[string]interface{}{
		"chapter_slug": chapterSlug,
		"title":        page.Title,
		"slug":         page.Slug,
		"index_num":    page.IndexNum,
		"is_free":      page.IsFree,
	}
	if err := c.do(ctx, http.MethodPost, c.apiRoot+"/pages", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Records) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return domain.ErrCancelled
		}
		return fmt.Errorf("http request: %w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w: %w", domain.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		switch {
		case apiErr.Code == domain.UndefinedColumnCode:
			return fmt.Errorf("%s: %w", apiErr.Error, domain.ErrUndefinedColumn)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, endpoint, domain.ErrRecordNotFound)
		default:
			return fmt.Errorf("api error (status %d): %s: %w", resp.StatusCode, apiErr.Error, domain.ErrTransport)
		}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func selectQuery(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	return "?select=" + url.QueryEscape(strings.Join(columns, ","))
}
