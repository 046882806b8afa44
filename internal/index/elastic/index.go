// Package elastic indexes pages in Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

const defaultIndex = "pages"

// Config describes the cluster connection.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Transport http.RoundTripper
}

// Index writes one document per page, keyed by hash(url), so re-indexing a
// URL overwrites the previous document.
type Index struct {
	client *elasticsearch.Client
	name   string
	hasher crawler.Hasher
}

type document struct {
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Rank      float64   `json:"rank"`
	Outbound  []string  `json:"outbound"`
	FetchedAt time.Time `json:"fetched_at"`
}

// New builds an Index client. No request is made until Save.
func New(cfg Config, hasher crawler.Hasher) (*Index, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("index.addresses is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	name := cfg.Index
	if name == "" {
		name = defaultIndex
	}
	return &Index{client: client, name: name, hasher: hasher}, nil
}

// Save indexes page.
func (i *Index) Save(ctx context.Context, page crawler.Page) error {
	id, err := i.hasher.Hash([]byte(page.Link.URL))
	if err != nil {
		return fmt.Errorf("hash url: %w", err)
	}
	body, err := json.Marshal(document{
		URL:       page.Link.URL,
		Domain:    page.Link.Domain,
		Title:     page.Title,
		Content:   page.ContentPlain,
		Language:  page.Language,
		Rank:      page.Rank,
		Outbound:  page.OutboundLinks(),
		FetchedAt: page.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	res, err := i.client.Index(
		i.name,
		bytes.NewReader(body),
		i.client.Index.WithDocumentID(id),
		i.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index document: status %d: %s", res.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
