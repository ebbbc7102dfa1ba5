package models

// FetchAPIRequest is the payload for POST /api/v1/fetch.
type FetchAPIRequest struct {
	// URL is the target page to fetch. Required.
	URL string `json:"url" binding:"required,url"`

	// IsArticle hints that the target is a single article page rather than
	// a link-heavy source page. Default: false.
	IsArticle bool `json:"is_article,omitempty"`

	// Timeout is the maximum duration in seconds for the entire fetch
	// across all tiers. Default: 90. Max: 300.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=300"`
}

// Defaults applies default values to unset fields.
func (r *FetchAPIRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = 90
	}
}
