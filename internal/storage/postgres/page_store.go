// Package postgres provides a Postgres-backed page store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/hash/sha256"
)

const defaultTable = "pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for page rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PageStore upserts pages keyed by URL. When a BlobStore is attached the
// markup is archived there and only its URI is kept in the row.
type PageStore struct {
	pool   execCloser
	table  string
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
}

// Option customizes a PageStore.
type Option func(*PageStore)

// WithBlobStore archives markup in blobs at crawler.MarkupPath, keyed by the
// URL digest. A nil hasher means SHA-256.
func WithBlobStore(blobs crawler.BlobStore, hasher crawler.Hasher, prefix string) Option {
	if hasher == nil {
		hasher = sha256.New()
	}
	return func(s *PageStore) {
		s.blobs = blobs
		s.hasher = hasher
		s.prefix = prefix
	}
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string, opts ...Option) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &PageStore{pool: pool, table: table}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the page table if it does not exist.
func (s *PageStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	title TEXT NOT NULL,
	content_plain TEXT NOT NULL,
	content_markup TEXT,
	markup_uri TEXT,
	anchors JSONB NOT NULL,
	metas JSONB NOT NULL,
	rank DOUBLE PRECISION NOT NULL,
	language TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create page table: %w", err)
	}
	return nil
}

// Add upserts page. It reports false when no row was written.
func (s *PageStore) Add(ctx context.Context, page crawler.Page) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("page store is not configured")
	}
	anchorsJSON, err := json.Marshal(nonNilAnchors(page.Anchors))
	if err != nil {
		return false, fmt.Errorf("marshal anchors: %w", err)
	}
	metasJSON, err := json.Marshal(nonNilMetas(page.Metas))
	if err != nil {
		return false, fmt.Errorf("marshal metas: %w", err)
	}

	var markup, markupURI *string
	if s.blobs != nil {
		uri, err := s.archive(ctx, page)
		if err != nil {
			return false, err
		}
		markupURI = &uri
	} else {
		markup = &page.ContentWithMarkup
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	domain,
	title,
	content_plain,
	content_markup,
	markup_uri,
	anchors,
	metas,
	rank,
	language,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content_plain = EXCLUDED.content_plain,
	content_markup = EXCLUDED.content_markup,
	markup_uri = EXCLUDED.markup_uri,
	anchors = EXCLUDED.anchors,
	metas = EXCLUDED.metas,
	language = EXCLUDED.language,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		page.Link.URL,
		page.Link.Domain,
		page.Title,
		page.ContentPlain,
		markup,
		markupURI,
		anchorsJSON,
		metasJSON,
		page.Rank,
		page.Language,
		page.FetchedAt,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("upsert page: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PageStore) archive(ctx context.Context, page crawler.Page) (string, error) {
	digest, err := s.hasher.Hash([]byte(page.Link.URL))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	path := crawler.MarkupPath(s.prefix, page.Link.Domain, digest)
	uri, err := s.blobs.PutObject(ctx, path, crawler.MarkupContentType, []byte(page.ContentWithMarkup))
	if err != nil {
		return "", fmt.Errorf("archive markup: %w", err)
	}
	return uri, nil
}

func nonNilAnchors(a []crawler.Anchor) []crawler.Anchor {
	if a == nil {
		return []crawler.Anchor{}
	}
	return a
}

func nonNilMetas(m []crawler.Meta) []crawler.Meta {
	if m == nil {
		return []crawler.Meta{}
	}
	return m
}
