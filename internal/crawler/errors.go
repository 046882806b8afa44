package crawler

import "errors"

// Error kinds handled by the crawl worker. None of them escape a worker.
var (
	// ErrMalformedLink marks a URL that cannot be parsed into a Link.
	ErrMalformedLink = errors.New("malformed link")
	// ErrLanguageDetect is returned by fetchers when language detection fails.
	ErrLanguageDetect = errors.New("language detection failed")
	// ErrUnsupportedLanguage marks a page filtered out by the language policy.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrEmptyContent marks a fetch that yielded no usable text.
	ErrEmptyContent = errors.New("empty content")
	// ErrStoreUnavailable marks a persistence fault; the link is retried later.
	ErrStoreUnavailable = errors.New("store unavailable")
)
