package models

// DirectFetchRequest is the payload for POST /api/v1/fetch/direct.
type DirectFetchRequest struct {
	// URL is the target to GET. Required.
	URL string `json:"url" binding:"required,url"`

	// Headers are applied verbatim to the outgoing request.
	Headers map[string]string `json:"headers,omitempty"`
}

// RenderedFetchRequest is the payload for POST /api/v1/fetch/rendered.
type RenderedFetchRequest struct {
	// URL is the page to load in the renderer. Required.
	URL string `json:"url" binding:"required,url"`

	// Headless selects the renderer display mode.
	// Default: the server's configured mode.
	Headless *bool `json:"headless,omitempty"`
}

// AutoFetchRequest is the payload for POST /api/v1/fetch.
type AutoFetchRequest struct {
	// URL is the target. Required.
	URL string `json:"url" binding:"required,url"`
}

// InferenceRequest is the payload for POST /api/v1/inference.
type InferenceRequest struct {
	// ModelPath names the model file. Default: the server's configured model.
	ModelPath string `json:"model_path,omitempty"`

	// Features is the input vector. Required.
	Features []float32 `json:"features" binding:"required"`
}
