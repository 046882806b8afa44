package crawler

import "time"

// DefaultRank is assigned to every freshly fetched page.
const DefaultRank = 1.0

// Decision is the dedup verdict for a single link.
type Decision string

// Dedup decisions returned by the dedup coordinator.
const (
	DecisionProceed       Decision = "proceed"
	DecisionAlreadyKnown  Decision = "already_known"
	DecisionSkipThrottled Decision = "skip_throttled"
)

// Outcome classifies how a worker finished with a link.
type Outcome string

// Worker outcomes, used for logging and metrics labels.
const (
	OutcomeStored                Outcome = "stored"
	OutcomeThrottled             Outcome = "throttled"
	OutcomeAlreadyKnown          Outcome = "already_known"
	OutcomeMalformedLink         Outcome = "malformed_link"
	OutcomeEmptyContent          Outcome = "empty_content"
	OutcomeLanguageDetectFailure Outcome = "language_detect_failure"
	OutcomeUnsupportedLanguage   Outcome = "unsupported_language"
	OutcomeStoreUnavailable      Outcome = "store_unavailable"
	OutcomeUnexpectedFailure     Outcome = "unexpected_failure"
)

// Link is a URL together with its registrable domain.
type Link struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// Anchor is an outbound hyperlink found on a page.
type Anchor struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Meta is a single <meta> element.
type Meta struct {
	Name      string `json:"name,omitempty"`
	Property  string `json:"property,omitempty"`
	Content   string `json:"content,omitempty"`
	Charset   string `json:"charset,omitempty"`
	HTTPEquiv string `json:"http_equiv,omitempty"`
}

// Document is what a PageFetcher returns for a fetched URL.
type Document struct {
	Title    string
	Text     string
	Markup   string
	Anchors  []Anchor
	Metas    []Meta
	Language string
	// RobotsFallback names why robots.txt was assumed allow-all; empty when
	// it was read normally or not consulted.
	RobotsFallback string
}

// Page is the persisted form of a successfully fetched document.
// It is built once by NewPage and not modified afterwards.
type Page struct {
	Link              Link      `json:"link"`
	Title             string    `json:"title"`
	ContentWithMarkup string    `json:"content_with_markup"`
	ContentPlain      string    `json:"content_plain"`
	Anchors           []Anchor  `json:"anchors"`
	Metas             []Meta    `json:"metas"`
	Rank              float64   `json:"rank"`
	Language          string    `json:"language"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// NewPage builds a Page from a fetched document. Anchors are uniqued by href,
// keeping the first occurrence; metas keep document order.
func NewPage(link Link, doc Document, fetchedAt time.Time) Page {
	seen := make(map[string]struct{}, len(doc.Anchors))
	anchors := make([]Anchor, 0, len(doc.Anchors))
	for _, a := range doc.Anchors {
		if a.Href == "" {
			continue
		}
		if _, ok := seen[a.Href]; ok {
			continue
		}
		seen[a.Href] = struct{}{}
		anchors = append(anchors, a)
	}
	metas := make([]Meta, len(doc.Metas))
	copy(metas, doc.Metas)
	return Page{
		Link:              link,
		Title:             doc.Title,
		ContentWithMarkup: doc.Markup,
		ContentPlain:      doc.Text,
		Anchors:           anchors,
		Metas:             metas,
		Rank:              DefaultRank,
		Language:          doc.Language,
		FetchedAt:         fetchedAt,
	}
}

// OutboundLinks returns the distinct anchor hrefs of the page.
func (p Page) OutboundLinks() []string {
	out := make([]string, 0, len(p.Anchors))
	for _, a := range p.Anchors {
		out = append(out, a.Href)
	}
	return out
}
