package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

func TestPageStoreAddReplacesByURL(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	link := crawler.Link{URL: "https://a.com/", Domain: "a.com"}

	ok, err := store.Add(context.Background(), crawler.Page{Link: link, Title: "first"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Add(context.Background(), crawler.Page{Link: link, Title: "second"})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, store.Len())
	page, found := store.Get("https://a.com/")
	require.True(t, found)
	require.Equal(t, "second", page.Title)
}
