package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/storage/memory"
)

func testPage() crawler.Page {
	return crawler.Page{
		Link:              crawler.Link{URL: "https://example.com/a", Domain: "example.com"},
		Title:             "Example",
		ContentWithMarkup: "<html><body>hello</body></html>",
		ContentPlain:      "hello",
		Anchors:           []crawler.Anchor{{Href: "https://b.com/", Text: "b"}},
		Rank:              crawler.DefaultRank,
		Language:          "en",
		FetchedAt:         time.Unix(1700000000, 0).UTC(),
	}
}

func strPtr(s string) *string { return &s }

func TestAddUpsertsRowWithInlineMarkup(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)
	page := testPage()

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			page.Link.URL,
			page.Link.Domain,
			page.Title,
			page.ContentPlain,
			strPtr(page.ContentWithMarkup),
			(*string)(nil),
			[]byte(`[{"href":"https://b.com/","text":"b"}]`),
			[]byte(`[]`),
			page.Rank,
			page.Language,
			page.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := store.Add(context.Background(), page)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddArchivesMarkupToBlobStore(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	blobs := memory.NewBlobStore()
	hasher := sha256.New()
	store, err := NewWithPool(mock, "pages", WithBlobStore(blobs, hasher, "markup"))
	require.NoError(t, err)
	page := testPage()

	key, err := hasher.Hash([]byte(page.Link.URL))
	require.NoError(t, err)
	path := "markup/example.com/" + key[:2] + "/" + key + ".html"

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			(*string)(nil),
			strPtr("memory://"+path),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := store.Add(context.Background(), page)
	require.NoError(t, err)
	require.True(t, ok)

	stored, found := blobs.Object(path)
	require.True(t, found)
	require.Equal(t, page.ContentWithMarkup, string(stored))
	require.Equal(t, crawler.MarkupContentType, blobs.ContentType(path))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddReportsNoRowsAsNotStored(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := store.Add(context.Background(), testPage())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(boom)

	ok, err := store.Add(context.Background(), testPage())
	require.False(t, ok)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "upsert page")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_pages").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "pages; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "pages")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	require.EqualError(t, err, "store.dsn is required")
}
