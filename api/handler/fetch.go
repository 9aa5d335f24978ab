package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/scram/engine"
	"github.com/use-agent/scram/models"
)

// Fetcher is the fetch surface of service.Service.
type Fetcher interface {
	FetchDirect(ctx context.Context, url string, headers map[string]string) (*engine.FetchResult, error)
	FetchRendered(ctx context.Context, url string, headless bool) (*engine.FetchResult, error)
	Fetch(ctx context.Context, url string) (*engine.FetchResult, error)
}

// FetchDirect returns a handler for POST /api/v1/fetch/direct.
func FetchDirect(f Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.DirectFetchRequest
		if !bindJSON(c, &req) {
			return
		}

		res, err := f.FetchDirect(c.Request.Context(), req.URL, req.Headers)
		respondFetch(c, res, err, start)
	}
}

// FetchRendered returns a handler for POST /api/v1/fetch/rendered.
// defaultHeadless applies when the request omits "headless".
func FetchRendered(f Fetcher, defaultHeadless bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.RenderedFetchRequest
		if !bindJSON(c, &req) {
			return
		}
		headless := defaultHeadless
		if req.Headless != nil {
			headless = *req.Headless
		}

		res, err := f.FetchRendered(c.Request.Context(), req.URL, headless)
		respondFetch(c, res, err, start)
	}
}

// FetchAuto returns a handler for POST /api/v1/fetch.
func FetchAuto(f Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.AutoFetchRequest
		if !bindJSON(c, &req) {
			return
		}

		res, err := f.Fetch(c.Request.Context(), req.URL)
		respondFetch(c, res, err, start)
	}
}

// bindJSON decodes the request body into req, answering 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.FetchResponse{
			Success: false,
			Error: &models.ErrorDetail{
				Code:    models.ErrCodeInvalidInput,
				Message: err.Error(),
			},
		})
		return false
	}
	return true
}

func respondFetch(c *gin.Context, res *engine.FetchResult, err error, start time.Time) {
	timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
	if err != nil {
		c.JSON(statusFor(err), models.FetchResponse{
			Success: false,
			Error:   detailFor(err),
			Timing:  timing,
		})
		return
	}

	c.JSON(http.StatusOK, models.FetchResponse{
		Success:       true,
		Status:        res.Status,
		Body:          res.Body,
		ContentLength: res.ContentLength,
		Headers:       res.Headers,
		Screenshot:    res.Screenshot,
		Title:         res.Title,
		FinalURL:      res.FinalURL,
		EngineUsed:    res.EngineName,
		Timing:        timing,
	})
}
