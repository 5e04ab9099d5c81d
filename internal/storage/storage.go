package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"blogcrawler/internal/config"
)

// ArticleRecord is the indexed summary of one collected article.
type ArticleRecord struct {
	BlogID     string
	RunID      string
	URL        string
	Title      string
	Published  time.Time
	Tags       []string
	HTML       string
	Text       string
	ImageCount int
}

// ArticleIndex receives every article appended to a crawl result.
type ArticleIndex interface {
	SaveArticle(ctx context.Context, rec ArticleRecord) error
	Close() error
}

// SQLIndex keeps the article corpus in postgres or sqlite.
type SQLIndex struct {
	db          *sql.DB
	autoMigrate bool
}

// OpenIndex returns nil without error when no driver is configured.
func OpenIndex(ctx context.Context, cfg config.IndexConfig) (*SQLIndex, error) {
	if cfg.Driver == "" {
		return nil, nil
	}
	if cfg.DSN == "" {
		return nil, errors.New("index config missing dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open index connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping index connection: %w", err)
	}
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	idx := &SQLIndex{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := idx.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return idx, nil
}

// SaveArticle upserts rec keyed by URL.
func (s *SQLIndex) SaveArticle(ctx context.Context, rec ArticleRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.upsertArticle(ctx, rec); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsertArticle(ctx, rec); retryErr != nil {
				return fmt.Errorf("insert article: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *SQLIndex) upsertArticle(ctx context.Context, rec ArticleRecord) error {
	query := `
        INSERT INTO articles (url, blog_id, run_id, title, published_at, tags, html, text, image_count)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (url) DO UPDATE SET
            blog_id = EXCLUDED.blog_id,
            run_id = EXCLUDED.run_id,
            title = EXCLUDED.title,
            published_at = EXCLUDED.published_at,
            tags = EXCLUDED.tags,
            html = EXCLUDED.html,
            text = EXCLUDED.text,
            image_count = EXCLUDED.image_count
    `
	published := sql.NullTime{Time: rec.Published, Valid: !rec.Published.IsZero()}
	_, err := s.db.ExecContext(ctx, query,
		rec.URL,
		rec.BlogID,
		rec.RunID,
		rec.Title,
		published,
		strings.Join(rec.Tags, ","),
		rec.HTML,
		rec.Text,
		rec.ImageCount,
	)
	return err
}

// LookupArticle reads back the indexed summary for url. HTML is not loaded.
func (s *SQLIndex) LookupArticle(ctx context.Context, url string) (ArticleRecord, bool, error) {
	if s == nil || s.db == nil {
		return ArticleRecord{}, false, nil
	}
	var (
		rec  ArticleRecord
		tags string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT url, blog_id, run_id, title, tags, text, image_count FROM articles WHERE url = $1`, url)
	if err := row.Scan(&rec.URL, &rec.BlogID, &rec.RunID, &rec.Title, &tags, &rec.Text, &rec.ImageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ArticleRecord{}, false, nil
		}
		return ArticleRecord{}, false, fmt.Errorf("lookup article: %w", err)
	}
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	return rec, true, nil
}

// Close closes the underlying DB connection.
func (s *SQLIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLIndex) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
		    url TEXT PRIMARY KEY,
		    blog_id TEXT NOT NULL,
		    run_id TEXT NOT NULL,
		    title TEXT,
		    published_at TIMESTAMP,
		    tags TEXT,
		    html TEXT,
		    text TEXT NOT NULL DEFAULT '',
		    image_count INT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_blog ON articles (blog_id, published_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such table") ||
		(strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist"))
}
