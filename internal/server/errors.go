package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondServiceError maps worklog errors onto HTTP statuses. fallback names the
// error reported for unexpected failures.
func (h *httpHandler) respondServiceError(c *gin.Context, err error, fallback string) {
	h.respondServiceErrorWith(c, err, fallback, nil)
}

// respondServiceErrorWith adds extra fields, such as partial progress, to the error body.
func (h *httpHandler) respondServiceErrorWith(c *gin.Context, err error, fallback string, extra gin.H) {
	status := http.StatusInternalServerError
	body := gin.H{"error": fallback}
	for key, value := range extra {
		body[key] = value
	}

	switch {
	case errors.Is(err, worklog.ErrValidation):
		status = http.StatusBadRequest
		body["error"] = "invalid_request"
		body["message"] = err.Error()
	case errors.Is(err, worklog.ErrUserNotFound):
		status = http.StatusNotFound
		body["error"] = "user_not_found"
	case errors.Is(err, worklog.ErrDayNotFound):
		status = http.StatusNotFound
		body["error"] = "day_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		body["error"] = "store_timeout"
	}

	var serviceErr *worklog.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("error_kind", fallback), zap.Error(err))
	}
	c.JSON(status, body)
}
