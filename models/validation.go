package models

import "regexp"

// ErrorKind classifies why a page was judged to be an error page.
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindProtection     ErrorKind = "protection_block"
	ErrorKindURLMarker      ErrorKind = "url_error_marker"
	ErrorKindGenericPattern ErrorKind = "generic_error_pattern"
	ErrorKindThinContent    ErrorKind = "thin_error_content"
)

// ValidationVerdict is the pure result of scoring one HTML document against
// a URL and the active DomainRule. Identical inputs always yield identical
// verdicts.
type ValidationVerdict struct {
	IsValid          bool      `json:"is_valid"`
	IsErrorPage      bool      `json:"is_error_page"`
	ErrorKind        ErrorKind `json:"error_kind,omitempty"`
	Confidence       float64   `json:"confidence"`
	LinkCount        int       `json:"link_count"`
	ArticleLinkRatio float64   `json:"article_link_ratio"`
	ErrorLinkRatio   float64   `json:"error_link_ratio"`

	// Issues lists every violated validity condition, even when others
	// pass, so callers can log exactly why a page was rejected.
	Issues []string `json:"issues,omitempty"`
}

// DomainRule overrides validation thresholds for one hostname. Keys are
// hostname substrings; the most specific (longest) configured key that the
// hostname contains wins.
type DomainRule struct {
	MinContentLength  int              `json:"min_content_length"`
	MinLinkCount      int              `json:"min_link_count"`
	RequiredMarkers   []string         `json:"required_markers,omitempty"`
	ForbiddenPatterns []*regexp.Regexp `json:"-"`
}
