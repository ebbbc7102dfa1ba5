package models

import "time"

// Tier identifies one retrieval strategy in the escalation ladder.
type Tier string

const (
	TierDirectHTTP   Tier = "direct_http"
	TierEnhancedHTTP Tier = "enhanced_http"
	TierBrowser      Tier = "browser"
)

// FetchRequest describes a single content-retrieval job. It is created once
// per call and never mutated.
type FetchRequest struct {
	// URL is the target page. Required.
	URL string

	// IsArticleHint tells the orchestrator the caller expects a single
	// article rather than a link-heavy source page. It relaxes the
	// link-count success criterion in favour of content length.
	IsArticleHint bool

	// TimeoutBudget bounds the entire fetch across all tiers. Zero means
	// use the configured default.
	TimeoutBudget time.Duration
}

// FetchResult is the outcome of one fetch. Produced once per request and
// never mutated after return. HTML may be non-empty even when Success is
// false: the orchestrator always returns the best partial content it saw.
type FetchResult struct {
	HTML           string   `json:"html"`
	Success        bool     `json:"success"`
	TierUsed       Tier     `json:"tier_used"`
	StatusCode     int      `json:"status_code"`
	ResponseTimeMs int64    `json:"response_time_ms"`
	FinalURL       string   `json:"final_url"`
	RedirectChain  []string `json:"redirect_chain,omitempty"`

	// Diagnostic carries the last tier's failure message when Success is
	// false. Empty on success.
	Diagnostic string `json:"diagnostic,omitempty"`
}
