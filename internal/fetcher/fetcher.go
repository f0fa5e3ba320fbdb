package fetcher

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

// MaxContentSize caps a fetched markdown body (5MB). Larger bodies are
// rejected, never truncated.
const MaxContentSize = 5 * 1024 * 1024

const userAgent = "pagesync/1.0"

// Client talks to the markdown blob store.
//
// Reads go to {contentRoot}/pages/{slug}.md, writes to
// {apiRoot}/content/pages[/{slug}].
type Client struct {
	contentRoot string
	apiRoot     string
	http        *http.Client
}

// New creates a Client. A nil httpClient gets a 30 second timeout.
func New(contentRoot, apiRoot string, httpClient *http.Client) (*Client, error) {
	for _, raw := range []string{contentRoot, apiRoot} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		contentRoot: strings.TrimRight(contentRoot, "/"),
		apiRoot:     strings.TrimRight(apiRoot, "/"),
		http:        httpClient,
	}, nil
}

// Fetch retrieves the raw markdown for slug.
//
// It returns domain.ErrNotFound on 404, domain.ErrCancelled when ctx ends
// before the body is fully read, and domain.ErrTransport otherwise.
func (c *Client) Fetch(ctx context.Context, slug string) (string, error) {
	endpoint := c.contentRoot + "/pages/" + url.PathEscape(slug) + ".md"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(ctx, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("fetch %s: %w", slug, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d: %w", slug, resp.StatusCode, domain.ErrTransport)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxContentSize+1))
	if err != nil {
		return "", classify(ctx, "read body", err)
	}
	if ctx.Err() != nil {
		return "", domain.ErrCancelled
	}
	if len(body) > MaxContentSize {
		return "", fmt.Errorf("fetch %s: content too large: %w", slug, domain.ErrTransport)
	}

	return string(body), nil
}

// Save replaces the markdown for slug
func (c *Client) Save(ctx context.Context, slug, content string) error {
	body := map[string]string{"content": content}
	return c.send(ctx, http.MethodPut, c.apiRoot+"/content/pages/"+url.PathEscape(slug), body)
}

// Create adds a new markdown file. An empty content lets the server
// write its default body.
func (c *Client) Create(ctx context.Context, slug, title, content string) error {
	body := map[string]string{"slug": slug, "title": title}
	if content != "" {
		body["content"] = content
	}
	return c.send(ctx, http.MethodPost, c.apiRoot+"/content/pages", body)
}

// Delete removes the markdown for slug
func (c *Client) Delete(ctx context.Context, slug string) error {
	return c.send(ctx, http.MethodDelete, c.apiRoot+"/content/pages/"+url.PathEscape(slug), nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any) error {
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
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(ctx, strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, endpoint, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: HTTP %d: %s: %w", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)), domain.ErrTransport)
	}
	return nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return domain.ErrCancelled
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
}
