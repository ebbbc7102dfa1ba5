package validate

import (
	"regexp"

	"github.com/use-agent/harvest/models"
)

// vendorRule maps a protection vendor's error-page signature to a kind.
// These are the most specific signals we have, so they win outright.
type vendorRule struct {
	kind     models.ProtectionKind
	patterns []string // matched against lowercased HTML
}

// vendorErrorRules is scanned in order; first match classifies the page.
var vendorErrorRules = []vendorRule{
	{
		kind: models.ProtectionCloudflare,
		patterns: []string{
			"attention required! | cloudflare",
			"cf-error-details",
			"cloudflare ray id",
			"error 1020",
			"error 1015",
		},
	},
	{
		kind: models.ProtectionDataDome,
		patterns: []string{
			"blocked by datadome",
			"datadome-captcha",
			"geo.captcha-delivery.com",
		},
	},
	{
		kind: models.ProtectionIncapsula,
		patterns: []string{
			"request unsuccessful. incapsula incident id",
			"incapsula_resource",
			"_incapsula_",
		},
	},
}

// urlErrorMarkers flag error pages by the final URL itself, e.g. sites that
// redirect blocked clients to a dedicated error path.
var urlErrorMarkers = []string{
	"/404",
	"/error",
	"/errors/",
	"/access-denied",
	"/blocked",
	"/unavailable",
	"/cdn-cgi/challenge",
}

// genericErrorPatterns accumulate: each distinct match raises confidence by
// 0.2 from a 0.3 base, floored at 0.6 and capped at 0.9.
var genericErrorPatterns = []string{
	"page not found",
	"404 not found",
	"access denied",
	"access to this page has been denied",
	"forbidden",
	"too many requests",
	"captcha",
	"security check",
	"verify you are human",
	"are you a robot",
	"service unavailable",
	"temporarily unavailable",
	"request blocked",
}

// articleLinkPatterns recognise URL paths shaped like article permalinks.
var articleLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/\d{4}/\d{1,2}/`),                              // date-based permalink
	regexp.MustCompile(`/(article|story|post|blog|news)s?/[^/]`),       // sectioned permalink
	regexp.MustCompile(`/[a-z0-9]+(?:-[a-z0-9]+){3,}(?:\.html?|/|$)`),  // long hyphenated slug
	regexp.MustCompile(`/[a-z0-9-]+-\d{5,}(?:\.html?|$)`),              // slug with numeric id
}

// errorLinkPatterns recognise links that point at error or challenge pages,
// including protection vendors' well-known error paths.
var errorLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/404(?:\.html?|/|$)`),
	regexp.MustCompile(`error`),
	regexp.MustCompile(`access-denied`),
	regexp.MustCompile(`blocked`),
	regexp.MustCompile(`captcha`),
	regexp.MustCompile(`/cdn-cgi/`), // cloudflare
}
