package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	httperr "github.com/peanutgallery/catalog/internal/core/errors"
)

// RegisterRoutes registers the gateway API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/movies/populate", s.HandlePopulate)
	r.GET("/v1/movies/weeks/:week_bucket", s.HandleQueryMovies)
	r.GET("/v1/admin/dead-letters", s.HandleListDeadLetters)
}

// HandlePopulate handles POST /v1/movies/populate
func (s *Service) HandlePopulate(c *gin.Context) {
	// Enforce maximum body size to prevent OOM attacks
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var req PopulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, httperr.ErrorResponse{
				ErrorType: httperr.HttpPayloadTooLarge,
				Message:   "Request body too large",
				Details:   gin.H{"max_bytes": tooLarge.Limit},
			})
			return
		}
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	result, err := s.PopulateMovies(c.Request.Context(), req.StartDate, req.EndDate)
	if err != nil {
		s.writeError(c, err, "Failed to request population")
		return
	}

	// Nothing reached the bus: the caller must retry the whole range.
	if len(result.InitiatedIDs) == 0 && len(result.FailedRanges) > 0 {
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpPublishError,
			Message:   "No population request could be published",
			Details:   result.FailedRanges,
		})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// HandleQueryMovies handles GET /v1/movies/weeks/:week_bucket
// Query parameters: dimension, page_size, cursor
func (s *Service) HandleQueryMovies(c *gin.Context) {
	var uri struct {
		WeekBucket string `uri:"week_bucket" binding:"required"`
	}
	var query struct {
		Dimension string `form:"dimension"`
		PageSize  int    `form:"page_size"`
		Cursor    string `form:"cursor"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	if query.Dimension == "" {
		query.Dimension = "score"
	}

	result, err := s.QueryMovies(c.Request.Context(), uri.WeekBucket, query.Dimension, query.PageSize, query.Cursor)
	if err != nil {
		s.writeError(c, err, "Failed to query movies")
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleListDeadLetters handles GET /v1/admin/dead-letters
// Query parameters: limit
func (s *Service) HandleListDeadLetters(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	letters, err := s.ListDeadLetters(c.Request.Context(), query.Limit)
	if err != nil {
		if errors.Is(err, ErrDeadLettersUnavailable) {
			c.JSON(http.StatusNotImplemented, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotSupportedError,
				Message:   err.Error(),
			})
			return
		}
		s.writeError(c, err, "Failed to list dead letters")
		return
	}

	c.JSON(http.StatusOK, DeadLettersResponse{DeadLetters: letters})
}

func (s *Service) writeError(c *gin.Context, err error, message string) {
	if errors.Is(err, catalog.ErrValidation) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   message,
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
		Details:   err.Error(),
	})
}
