package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ekisa-team/audiogen/internal/metrics"
)

const (
	// RequestIDHeader is the header carrying the request ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key for the request ID.
	RequestIDKey = "request_id"

	unmatchedRoute = "unmatched"
)

// RequestID tags each request with the caller's X-Request-ID or a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// Logging logs one line per request, at error level for 5xx and warn for 4xx.
func Logging(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}
		if requestID := c.GetString(RequestIDKey); requestID != "" {
			attrs = append(attrs, "request_id", requestID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		msg := "HTTP Request"
		switch {
		case status >= 500:
			log.Error(msg, attrs...)
		case status >= 400:
			log.Warn(msg, attrs...)
		default:
			log.Info(msg, attrs...)
		}
	}
}

// Recovery turns a handler panic into a 500 with the standard error body.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", c.GetString(RequestIDKey),
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Detail: fmt.Sprintf("An unexpected error occurred: %v", err),
				})
			}
		}()

		c.Next()
	}
}

// Metrics records request counts, latency and in-flight requests. Requests served by
// the artifact file server are labelled with staticPrefix.
func Metrics(m *metrics.Metrics, staticPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		done := m.TrackInFlight()
		start := time.Now()

		c.Next()

		done()
		m.RecordHTTPRequest(c.Request.Method, routeLabel(c, staticPrefix), c.Writer.Status(), time.Since(start))
	}
}

// routeLabel never returns the raw request path.
func routeLabel(c *gin.Context, staticPrefix string) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	if staticPrefix != "" && strings.HasPrefix(c.Request.URL.Path, staticPrefix+"/") {
		return staticPrefix + "/*filename"
	}
	return unmatchedRoute
}
