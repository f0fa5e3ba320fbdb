package domain

import "time"

// StampLayout is the layout of version stamps minted by this module.
const StampLayout = "2006-01-02T15:04:05.000Z07:00"

// VersionStamp identifies one revision of a page's content blob.
// The zero value means "no stamp".
type VersionStamp string

// NewStamp mints a version stamp for t
func NewStamp(t time.Time) VersionStamp {
	return VersionStamp(t.UTC().Format(StampLayout))
}

// CacheEntry is the last-known content for a slug together with the
// stamp it was fetched with
type CacheEntry struct {
	Slug         string       `json:"slug"`
	Content      string       `json:"content"`
	VersionStamp VersionStamp `json:"updated_at,omitempty"`
}

// PageMeta is the record-store row for one page
type PageMeta struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Slug      string       `json:"slug"`
	ChapterID string       `json:"chapter_id,omitempty"`
	IndexNum  int          `json:"index_num"`
	UpdatedAt VersionStamp `json:"updated_at,omitempty"`
	IsFree    bool         `json:"is_free"`
}

// PageUpdate carries the record fields written after a content save.
// A nil IsFree leaves the access tier untouched.
type PageUpdate struct {
	UpdatedAt VersionStamp `json:"updated_at"`
	IsFree    *bool        `json:"is_free,omitempty"`
}

// Chapter groups ordered pages
type Chapter struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	IndexNum  int       `json:"index_num"`
	CreatedAt time.Time `json:"created_at"`
}

// Page record columns. ColumnIsFree is optional and may not be provisioned.
const (
	ColumnID        = "id"
	ColumnTitle     = "title"
	ColumnSlug      = "slug"
	ColumnChapterID = "chapter_id"
	ColumnIndexNum  = "index_num"
	ColumnUpdatedAt = "updated_at"
	ColumnIsFree    = "is_free"
)

// PageColumns is the full column set requested for page metadata.
var PageColumns = []string{ColumnID, ColumnTitle, ColumnSlug, ColumnUpdatedAt, ColumnIsFree}

// ChapterPageColumns is the full column set requested for a chapter's page list.
var ChapterPageColumns = []string{ColumnID, ColumnTitle, ColumnSlug, ColumnIndexNum, ColumnChapterID, ColumnUpdatedAt, ColumnIsFree}

// WithoutColumn returns columns minus name.
func WithoutColumn(columns []string, name string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}
