package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// requestIDHeader carries the ID in both directions: inbound values
// are honored so a client can correlate a failed join with the
// server's log line, and the final value is echoed on every response.
const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an ID that also lands in
// the response envelope's metadata.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
