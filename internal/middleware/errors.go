package middleware

import (
	"encoding/json"
	"runtime/debug"

	"deltayield/internal/errors"
	"deltayield/internal/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler recovers panics into INTERNAL_ERROR responses
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		// 记录panic堆栈
		log.Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		err := errors.NewAppError(errors.ErrCodeInternal, "Internal server error", nil)
		RespondError(c, log, err)
	})
}

// HandleError turns the last error attached with c.Error into an AppError response
func HandleError(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			RespondError(c, log, c.Errors.Last().Err)
		}
	}
}

// RespondError writes err as an ErrorResponse and aborts the chain
func RespondError(c *gin.Context, log logger.Logger, err error) {
	if err == nil {
		return
	}

	appErr := errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
	if appErr.RequestID == "" {
		appErr = appErr.WithRequestID(GetRequestID(c))
	}

	logError(c, log, appErr)

	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
}

// logError 记录错误日志
func logError(c *gin.Context, log logger.Logger, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}

	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}
	if len(err.Context) > 0 {
		contextJSON, _ := json.Marshal(err.Context)
		fields = append(fields, "context", string(contextJSON))
	}
	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	// 根据严重程度选择日志级别
	switch {
	case err.IsValidation():
		log.Info("Request rejected", fields...)
	case err.Severity == errors.SeverityCritical || err.Severity == errors.SeverityHigh:
		log.Error("Request failed", fields...)
	case err.Severity == errors.SeverityMedium:
		log.Warn("Request failed", fields...)
	default:
		log.Info("Request failed", fields...)
	}
}
