package middleware

import (
	"strconv"
	"time"

	"deltayield/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// APIMetrics receives one observation per request
type APIMetrics interface {
	RecordAPIRequest(endpoint, method, status string, duration time.Duration)
}

// RequestID assigns a request id, honouring an incoming X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID 获取请求ID
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(requestIDKey); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return c.GetHeader(RequestIDHeader)
}

// RequestLogger logs every request through logger.RequestLogger
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	rl := logger.NewRequestLogger(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"request_id": GetRequestID(c),
			"client_ip":  c.ClientIP(),
			"bytes":      c.Writer.Size(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields["query"] = query
		}
		rl.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), fields)
	}
}

// Metrics records request counts and latency by route template
func Metrics(m APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordAPIRequest(endpoint, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
