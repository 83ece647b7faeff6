package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
)

// RequestIDHeader carries the request ID echoed on every response.
const RequestIDHeader = "X-Request-Id"

// RequestLogger logs one line per request with method, path, status and
// latency. An incoming X-Request-Id is kept, otherwise one is generated.
func RequestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := map[string]any{
			"requestId": requestID,
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		}
		if c.FullPath() == "" {
			fields["path"] = c.Request.URL.Path
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			l.Error("request completed", fields)
		case status >= http.StatusBadRequest:
			l.Warn("request completed", fields)
		default:
			l.Info("request completed", fields)
		}
	}
}

// Recovery turns a panic in a handler into a 500 response.
func Recovery(l logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		l.Error("handler panicked", map[string]any{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
