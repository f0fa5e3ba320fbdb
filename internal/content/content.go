// Package content stores page markdown as one file per slug.
package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/pbaille/pagesync/internal/domain"
)

// ErrExists is returned by Create when the slug already has a file.
var ErrExists = errors.New("markdown file already exists")

var unsafeSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SanitizeSlug lower-cases slug, collapses anything outside [a-z0-9-] to
// a dash and trims leading and trailing dashes.
func SanitizeSlug(slug string) string {
	s := unsafeSlugChars.ReplaceAllString(strings.ToLower(slug), "-")
	return strings.Trim(s, "-")
}

// DefaultBody is the markdown written for a new page without content.
func DefaultBody(title, slug string) string {
	if title == "" {
		title = slug
	}
	return "# " + title + "\n\nStart writing here..."
}

// Dir is a directory of {slug}.md files
type Dir struct {
	root string
}

// Open returns a Dir rooted at root, creating it if needed
func Open(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("content directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Read returns the markdown for slug, or domain.ErrNotFound.
func (d *Dir) Read(slug string) (string, error) {
	path, err := d.path(slug)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read markdown: %w", err)
	}
	return string(data), nil
}

// Write atomically replaces the markdown for slug. Readers never observe
// a partially written file.
func (d *Dir) Write(slug, body string) error {
	path, err := d.path(slug)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, strings.NewReader(body)); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}

// Create writes a new file for slug, failing with ErrExists if one is there.
func (d *Dir) Create(slug, title, body string) error {
	path, err := d.path(slug)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create %s: %w", slug, ErrExists)
	}
	if body == "" {
		body = DefaultBody(title, slug)
	}
	return d.Write(slug, body)
}

// Delete removes the markdown for slug. Deleting a missing file succeeds.
func (d *Dir) Delete(slug string) error {
	path, err := d.path(slug)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete markdown: %w", err)
	}
	return nil
}

func (d *Dir) path(slug string) (string, error) {
	clean := SanitizeSlug(slug)
	if clean == "" {
		return "", fmt.Errorf("invalid slug %q", slug)
	}
	return filepath.Join(d.root, clean+".md"), nil
}
