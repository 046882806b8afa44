package collyfetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// parseDocument extracts title, visible text, metas and absolute outbound
// anchors from an HTML body. Relative hrefs resolve against pageURL or the
// document's <base href>.
func parseDocument(body []byte, pageURL string) (*crawler.Document, error) {
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := dom.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = ref
		}
	}

	doc := &crawler.Document{
		Title:  collapseSpace(dom.Find("title").First().Text()),
		Markup: string(body),
	}

	dom.Find("meta").Each(func(_ int, s *goquery.Selection) {
		m := crawler.Meta{
			Name:      s.AttrOr("name", ""),
			Property:  s.AttrOr("property", ""),
			Content:   s.AttrOr("content", ""),
			Charset:   s.AttrOr("charset", ""),
			HTTPEquiv: s.AttrOr("http-equiv", ""),
		}
		if m != (crawler.Meta{}) {
			doc.Metas = append(doc.Metas, m)
		}
	})

	dom.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := resolveHref(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		doc.Anchors = append(doc.Anchors, crawler.Anchor{
			Href: href,
			Text: collapseSpace(s.Text()),
		})
	})

	dom.Find("script, style, noscript, template").Remove()
	root := dom.Find("body")
	if root.Length() == 0 {
		root = dom.Selection
	}
	doc.Text = collapseSpace(root.Text())
	return doc, nil
}

func resolveHref(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	normalized, err := crawler.NormalizeURL(ref.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
