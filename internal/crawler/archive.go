package crawler

import "path"

// MarkupContentType is stored with every archived markup object.
const MarkupContentType = "text/html; charset=utf-8"

// MarkupPath returns the object path for a page's archived markup:
// prefix/domain/xx/digest.html, where xx is the first two characters of the
// URL digest. A re-crawl of the same URL maps to the same object.
func MarkupPath(prefix, domain, digest string) string {
	shard := digest
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(prefix, domain, shard, digest+".html")
}
