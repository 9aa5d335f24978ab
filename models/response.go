package models

// FetchResponse is the response for every fetch endpoint.
type FetchResponse struct {
	// Success indicates whether the fetch completed without errors.
	// A non-2xx target status is still a success.
	Success bool `json:"success"`

	// Status is the target's HTTP status. Rendered fetches report 200
	// unless status observation is enabled on the server.
	Status uint16 `json:"status,omitempty"`

	// Body is the decoded response body or rendered HTML.
	Body string `json:"body,omitempty"`

	// ContentLength is the declared length (direct mode only, when declared).
	ContentLength *uint64 `json:"content_length,omitempty"`

	// Headers holds lower-cased response headers (direct mode only).
	Headers map[string]string `json:"headers,omitempty"`

	// Screenshot is a PNG of the rendered page (rendered mode only).
	// encoding/json emits it as base64.
	Screenshot []byte `json:"screenshot,omitempty"`

	// Title is the document title when the body is HTML.
	Title string `json:"title,omitempty"`

	// FinalURL is the URL after redirects.
	FinalURL string `json:"final_url,omitempty"`

	// EngineUsed is the engine that produced the result
	// ("http", "render", "render-stealth").
	EngineUsed string `json:"engine_used,omitempty"`

	// Timing provides the end-to-end duration.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// InferenceResponse is the response for POST /api/v1/inference.
type InferenceResponse struct {
	Success bool         `json:"success"`
	Scores  []float32    `json:"scores,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent handling a request.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string       `json:"status"` // "healthy"
	Uptime  string       `json:"uptime"`
	Stats   ServiceStats `json:"stats"`
	Version string       `json:"version"`
}

// ServiceStats reports live service counters.
type ServiceStats struct {
	ActiveRenders     int  `json:"active_renders"`
	CachedResults     int  `json:"cached_results"`
	RememberedDomains int  `json:"remembered_domains"`
	LoadedModels      int  `json:"loaded_models"`
	Escalation        bool `json:"escalation"`
}
