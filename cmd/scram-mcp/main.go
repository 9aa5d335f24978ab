package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the Scram API error detail.
type apiError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Cleanup []string `json:"cleanup"`
}

// fetchResponse mirrors the Scram fetch response model.
type fetchResponse struct {
	Success       bool              `json:"success"`
	Status        int               `json:"status"`
	Body          string            `json:"body"`
	ContentLength *uint64           `json:"content_length"`
	Headers       map[string]string `json:"headers"`
	Screenshot    []byte            `json:"screenshot"`
	Title         string            `json:"title"`
	FinalURL      string            `json:"final_url"`
	EngineUsed    string            `json:"engine_used"`
	Timing        struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"timing"`
	Error *apiError `json:"error"`
}

// inferenceResponse mirrors the Scram inference response model.
type inferenceResponse struct {
	Success bool      `json:"success"`
	Scores  []float32 `json:"scores"`
	Error   *apiError `json:"error"`
}

// client talks to a running Scram server.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func main() {
	apiURL := os.Getenv("SCRAM_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// An empty key works against servers with auth disabled.
	c := &client{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  os.Getenv("SCRAM_API_KEY"),
		http:    &http.Client{Timeout: 180 * time.Second},
	}

	s := server.NewMCPServer(
		"scram",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	fetchTool := mcp.NewTool("fetch_url",
		mcp.WithDescription("Fetch a URL with a plain HTTP request, escalating to a real browser when the site answers with a block or challenge page."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
	)
	s.AddTool(fetchTool, c.handleFetch("/api/v1/fetch"))

	directTool := mcp.NewTool("fetch_direct",
		mcp.WithDescription("Fetch a URL with a single HTTP GET using a browser-like TLS fingerprint. No JavaScript is executed."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
		mcp.WithObject("headers",
			mcp.Description("Request headers to send, as a name to value map"),
		),
	)
	s.AddTool(directTool, c.handleFetch("/api/v1/fetch/direct"))

	renderedTool := mcp.NewTool("fetch_rendered",
		mcp.WithDescription("Load a URL in a real browser session and return the rendered HTML. Slower than fetch_direct but runs JavaScript."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The page to render"),
		),
		mcp.WithBoolean("headless",
			mcp.Description("Run the browser without a display (default: server setting)"),
		),
	)
	s.AddTool(renderedTool, c.handleFetch("/api/v1/fetch/rendered"))

	inferenceTool := mcp.NewTool("run_inference",
		mcp.WithDescription("Score a feature vector with a model known to the server."),
		mcp.WithArray("features",
			mcp.Required(),
			mcp.Description("Input feature vector"),
			mcp.Items(map[string]any{"type": "number"}),
		),
		mcp.WithString("model_path",
			mcp.Description("Model file on the server (default: server setting)"),
		),
	)
	s.AddTool(inferenceTool, c.handleInference)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// post sends payload to path and returns the response body.
// Error statuses still carry a JSON body, so they are not treated as failures here.
func (c *client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *client) handleFetch(path string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := map[string]any{"url": url}
		args := request.GetArguments()
		if headers, ok := args["headers"].(map[string]any); ok && len(headers) > 0 {
			h := make(map[string]string, len(headers))
			for k, v := range headers {
				s, ok := v.(string)
				if !ok {
					return mcp.NewToolResultError(fmt.Sprintf("header %q must be a string", k)), nil
				}
				h[k] = s
			}
			payload["headers"] = h
		}
		if headless, ok := args["headless"].(bool); ok {
			payload["headless"] = headless
		}

		respBody, err := c.post(ctx, path, payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp fetchResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText("fetch failed", resp.Error)), nil
		}
		return mcp.NewToolResultText(formatFetch(&resp)), nil
	}
}

func (c *client) handleInference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := request.GetArguments()["features"].([]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("features is required and must be an array of numbers"), nil
	}
	features := make([]float32, 0, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("features[%d] is not a number", i)), nil
		}
		features = append(features, float32(f))
	}

	payload := map[string]any{"features": features}
	if modelPath := request.GetString("model_path", ""); modelPath != "" {
		payload["model_path"] = modelPath
	}

	respBody, err := c.post(ctx, "/api/v1/inference", payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp inferenceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !resp.Success {
		return mcp.NewToolResultError(errorText("inference failed", resp.Error)), nil
	}

	parts := make([]string, len(resp.Scores))
	for i, s := range resp.Scores {
		parts[i] = fmt.Sprintf("%g", s)
	}
	return mcp.NewToolResultText("Scores: [" + strings.Join(parts, ", ") + "]"), nil
}

func errorText(fallback string, e *apiError) string {
	if e == nil {
		return fallback
	}
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Cleanup) > 0 {
		msg += " (cleanup: " + strings.Join(e.Cleanup, "; ") + ")"
	}
	return msg
}

// formatFetch renders a fetch result as a short header block followed by the body.
func formatFetch(r *fetchResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %d\n", r.Status)
	if r.FinalURL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", r.FinalURL)
	}
	if r.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", r.Title)
	}
	if r.EngineUsed != "" {
		fmt.Fprintf(&sb, "Engine: %s\n", r.EngineUsed)
	}
	if ct := r.Headers["content-type"]; ct != "" {
		fmt.Fprintf(&sb, "Content-Type: %s\n", ct)
	}
	if len(r.Screenshot) > 0 {
		fmt.Fprintf(&sb, "Screenshot: %d bytes\n", len(r.Screenshot))
	}
	fmt.Fprintf(&sb, "Time: %dms\n\n", r.Timing.TotalMs)
	sb.WriteString(r.Body)
	return sb.String()
}
