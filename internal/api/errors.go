package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/apperror"
	"classroom/internal/httpmiddleware"
	"classroom/internal/metrics"
)

// fail writes the status code and body matching err's kind.
func (s *Server) fail(c *gin.Context, err error) {
	var verr *apperror.ValidationError
	var rerr *apperror.RemoteOperationError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, apperror.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperror.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apperror.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, apperror.ErrInvalidCredentials), errors.Is(err, apperror.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, apperror.ErrEmailExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &rerr):
		metrics.RemoteErrors.WithLabelValues(rerr.Op).Inc()
		s.log.Error("remote operation failed",
			zap.String("op", rerr.Op),
			zap.String("request_id", httpmiddleware.GetRequestID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream failure", "op": rerr.Op})
	default:
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", httpmiddleware.GetRequestID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
	_ = c.Error(err)
}

// badRequest reports an undecodable body.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
}
