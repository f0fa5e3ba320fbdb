package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pbaille/pagesync/internal/domain"
)

//go:embed schema.sql
var schema string

// selectable maps requestable page columns to their SQL expression.
var selectable = map[string]string{
	domain.ColumnID:        "p.id",
	domain.ColumnTitle:     "p.title",
	domain.ColumnSlug:      "p.slug",
	domain.ColumnChapterID: "COALESCE(p.chapter_id, '')",
	domain.ColumnIndexNum:  "p.index_num",
	domain.ColumnUpdatedAt: "COALESCE(p.updated_at, '')",
	domain.ColumnIsFree:    "p.is_free",
}

// Store handles record database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateChapter inserts a chapter and returns it
func (s *Store) CreateChapter(ctx context.Context, title, slug string, indexNum int) (*domain.Chapter, error) {
	ch := &domain.Chapter{
		ID:        uuid.New().String(),
		Title:     title,
		Slug:      slug,
		IndexNum:  indexNum,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chapters (id, title, slug, index_num, created_at) VALUES (?, ?, ?, ?, ?)",
		ch.ID, ch.Title, ch.Slug, ch.IndexNum, ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chapter: %w", err)
	}
	return ch, nil
}

// ListChapters returns chapters in reading order
func (s *Store) ListChapters(ctx context.Context) ([]domain.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, slug, index_num, created_at FROM chapters ORDER BY index_num, title",
	)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []domain.Chapter
	for rows.Next() {
		var ch domain.Chapter
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Slug, &ch.IndexNum, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, ch)
	}

	return chapters, rows.Err()
}

// CreatePage inserts a page record under the chapter with chapterSlug
func (s *Store) CreatePage(ctx context.Context, chapterSlug string, page domain.PageMeta) (*domain.PageMeta, error) {
	var chapterID string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM chapters WHERE slug = ?", chapterSlug).Scan(&chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find chapter %s: %w", chapterSlug, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find chapter: %w", err)
	}

	page.ID = uuid.New().String()
	page.ChapterID = chapterID
	if page.UpdatedAt == "" {
		page.UpdatedAt = domain.NewStamp(s.now())
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO pages (id, chapter_id, title, slug, index_num, updated_at, is_free) VALUES (?, ?, ?, ?, ?, ?, ?)",
		page.ID, page.ChapterID, page.Title, page.Slug, page.IndexNum, string(page.UpdatedAt), page.IsFree,
	)
	if err != nil && errors.Is(undefinedColumn(err), domain.ErrUndefinedColumn) {
		// Schema predates the access tier.
		page.IsFree = false
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO pages (id, chapter_id, title, slug, index_num, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			page.ID, page.ChapterID, page.Title, page.Slug, page.IndexNum, string(page.UpdatedAt),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("insert page: %w", err)
	}
	return &page, nil
}

// DeletePage removes the page record for slug
func (s *Store) DeletePage(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pages WHERE slug = ?", slug)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete page %s: %w", slug, domain.ErrRecordNotFound)
	}
	return nil
}

// SelectPage reads the requested columns of the page with slug. Columns
// missing from the schema yield domain.ErrUndefinedColumn.
func (s *Store) SelectPage(ctx context.Context, slug string, columns []string) (domain.PageMeta, error) {
	exprs, err := columnExprs(columns)
	if err != nil {
		return domain.PageMeta{}, err
	}

	query := "SELECT " + strings.Join(exprs, ", ") + " FROM pages p WHERE p.slug = ?"
	row := s.db.QueryRowContext(ctx, query, slug)

	var meta domain.PageMeta
	if err := row.Scan(scanTargets(&meta, columns)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PageMeta{}, fmt.Errorf("select page %s: %w", slug, domain.ErrRecordNotFound)
		}
		return domain.PageMeta{}, fmt.Errorf("select page: %w", undefinedColumn(err))
	}
	return meta, nil
}

// SelectChapterPages lists the pages of a chapter ordered by index_num.
func (s *Store) SelectChapterPages(ctx context.Context, chapterSlug string, columns []string) ([]domain.PageMeta, error) {
	exprs, err := columnExprs(columns)
	if err != nil {
		return nil, err
	}

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM chapters WHERE slug = ?", chapterSlug).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select chapter %s: %w", chapterSlug, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select chapter: %w", err)
	}

	query := "SELECT " + strings.Join(exprs, ", ") + ` FROM pages p
		JOIN chapters c ON c.id = p.chapter_id
		WHERE c.slug = ?
		ORDER BY p.index_num ASC`
	rows, err := s.db.QueryContext(ctx, query, chapterSlug)
	if err != nil {
		return nil, fmt.Errorf("select chapter pages: %w", undefinedColumn(err))
	}
	defer rows.Close()

	var pages []domain.PageMeta
	for rows.Next() {
		var meta domain.PageMeta
		if err := rows.Scan(scanTargets(&meta, columns)...); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, meta)
	}

	return pages, rows.Err()
}

// UpdatePage writes a new version stamp, and the access tier when set.
func (s *Store) UpdatePage(ctx context.Context, slug string, update domain.PageUpdate) error {
	var (
		res sql.Result
		err error
	)
	if update.IsFree != nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE pages SET updated_at = ?, is_free = ? WHERE slug = ?",
			string(update.UpdatedAt), *update.IsFree, slug,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE pages SET updated_at = ? WHERE slug = ?",
			string(update.UpdatedAt), slug,
		)
	}
	if err != nil {
		return fmt.Errorf("update page: %w", undefinedColumn(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update page %s: %w", slug, domain.ErrRecordNotFound)
	}
	return nil
}

func columnExprs(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns requested")
	}
	exprs := make([]string, len(columns))
	for i, c := range columns {
		expr, ok := selectable[c]
		if !ok {
			return nil, fmt.Errorf("select column %q: %w", c, domain.ErrUndefinedColumn)
		}
		exprs[i] = expr
	}
	return exprs, nil
}

func scanTargets(meta *domain.PageMeta, columns []string) []any {
	targets := make([]any, len(columns))
	for i, c := range columns {
		switch c {
		case domain.ColumnID:
			targets[i] = &meta.ID
		case domain.ColumnTitle:
			targets[i] = &meta.Title
		case domain.ColumnSlug:
			targets[i] = &meta.Slug
		case domain.ColumnChapterID:
			targets[i] = &meta.ChapterID
		case domain.ColumnIndexNum:
			targets[i] = &meta.IndexNum
		case domain.ColumnUpdatedAt:
			targets[i] = &meta.UpdatedAt
		case domain.ColumnIsFree:
			targets[i] = &meta.IsFree
		}
	}
	return targets
}

// undefinedColumn maps SQLite's "no such column" failure onto
// domain.ErrUndefinedColumn.
func undefinedColumn(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrError &&
		strings.Contains(sqliteErr.Error(), "no such column") {
		return fmt.Errorf("%w: %w", domain.ErrUndefinedColumn, err)
	}
	return err
}
