package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response. Details is only
// populated outside release mode.
type ErrorBody struct {
	Code     ErrCode           `json:"code"`
	Category Category          `json:"category"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Details  string            `json:"details,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// Fail sends an error response derived from an AppError. The HTTP status
// follows the taxonomy mapping; developer details are stripped in release
// mode.
func Fail(c *gin.Context, err *AppError) {
	c.JSON(HTTPStatus(err.Code), Response{
		Data:     nil,
		Error:    buildErrorBody(err, nil),
		Metadata: buildMetadata(c),
	})
}

// FailCode sends an error response for a bare error code.
func FailCode(c *gin.Context, code ErrCode) {
	Fail(c, NewAppError(code, nil))
}

// FailWithFields sends a validation error with field-level details.
func FailWithFields(c *gin.Context, code ErrCode, fields map[string]string) {
	err := NewAppError(code, nil)
	c.JSON(HTTPStatus(code), Response{
		Data:     nil,
		Error:    buildErrorBody(err, fields),
		Metadata: buildMetadata(c),
	})
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, code ErrCode) {
	err := NewAppError(code, nil)
	c.AbortWithStatusJSON(HTTPStatus(code), Response{
		Data:     nil,
		Error:    buildErrorBody(err, nil),
		Metadata: buildMetadata(c),
	})
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func buildErrorBody(err *AppError, fields map[string]string) *ErrorBody {
	body := &ErrorBody{
		Code:     err.Code,
		Category: err.Category(),
		Message:  err.Message(),
		Fields:   fields,
	}
	if gin.Mode() != gin.ReleaseMode {
		body.Details = err.Details
	}
	return body
}

func buildMetadata(c *gin.Context) Metadata {
	reqID, _ := c.Get(ContextKeyRequestID)
	id, ok := reqID.(string)
	if !ok || id == "" {
		id = uuid.New().String() // Fallback if middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
