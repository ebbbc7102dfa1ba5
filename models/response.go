package models

// FetchAPIResponse is the body for POST /api/v1/fetch.
//
// Success:false with a non-nil Result means every tier was exhausted but the
// orchestrator still returned its best partial content; that is an HTTP 200,
// not a server error. Error is only set for caller mistakes or server faults.
type FetchAPIResponse struct {
	Success bool         `json:"success"`
	Result  *FetchResult `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// PoolStats is a snapshot of browser pool state for the health endpoint.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
	Restarts    int `json:"restarts"`
}

// HealthResponse is the body for GET /api/v1/health.
type HealthResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Pool          PoolStats `json:"pool"`
}
