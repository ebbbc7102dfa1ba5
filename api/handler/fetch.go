package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/fetch"
	"github.com/use-agent/harvest/models"
)

// Fetch returns a handler for POST /api/v1/fetch.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Fetcher.Fetch runs the tier ladder under the request's budget.
//  3. Respond 200 with the FetchResult — including success:false results,
//     because an adversarial site refusing us is an outcome, not a server
//     fault. Only malformed input produces a non-200.
func Fetch(f *fetch.Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FetchAPIRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchAPIResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		result := f.Fetch(c.Request.Context(), models.FetchRequest{
			URL:           req.URL,
			IsArticleHint: req.IsArticle,
			TimeoutBudget: time.Duration(req.Timeout) * time.Second,
		})

		c.JSON(http.StatusOK, models.FetchAPIResponse{
			Success: result.Success,
			Result:  &result,
		})
	}
}
