package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorHandler turns engine errors into JSON error responses.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// errorEnvelope is the response body for every non-2xx API reply.
type errorEnvelope struct {
	Error *StandardError `json:"error"`
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Respond writes err to c and aborts the handler chain.
func (h *ErrorHandler) Respond(c *gin.Context, err error) {
	stdErr := h.normalizeError(err)
	status := HTTPStatus(stdErr.Code)

	h.logError(c, stdErr, status)
	c.AbortWithStatusJSON(status, errorEnvelope{Error: stdErr})
}

func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	if err == nil {
		return &StandardError{
			Code:      ErrCodeInternal,
			Message:   "Unexpected error",
			Timestamp: time.Now().UTC(),
		}
	}
	return NewInternalError(err)
}

func (h *ErrorHandler) logError(c *gin.Context, stdErr *StandardError, status int) {
	fields := map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"status":    status,
		"method":    c.Request.Method,
		"path":      c.FullPath(),
	}
	if status >= http.StatusInternalServerError {
		if stdErr.Cause != nil {
			fields["cause"] = stdErr.Cause.Error()
		}
		h.logger.Error("request failed", fields)
		return
	}
	h.logger.Warn("request rejected", fields)
}
