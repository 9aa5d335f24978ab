package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/scram/models"
)

// Scorer is the inference surface of service.Service.
type Scorer interface {
	RunInference(ctx context.Context, modelPath string, features []float32) ([]float32, error)
}

// Inference returns a handler for POST /api/v1/inference.
func Inference(s Scorer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.InferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.InferenceResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		scores, err := s.RunInference(c.Request.Context(), req.ModelPath, req.Features)
		if err != nil {
			c.JSON(statusFor(err), models.InferenceResponse{
				Success: false,
				Error:   detailFor(err),
			})
			return
		}
		c.JSON(http.StatusOK, models.InferenceResponse{Success: true, Scores: scores})
	}
}
