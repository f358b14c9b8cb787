package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeStrategyInvalid, http.StatusBadRequest},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeMarketDataUnavailable, http.StatusServiceUnavailable},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestAppErrorIsValidation(t *testing.T) {
	if !Validation("end_date", "must be after start_date").IsValidation() {
		t.Error("Validation helper should produce a validation error")
	}
	if !NewAppError(ErrCodeStrategyInvalid, "bad strategy", nil).IsValidation() {
		t.Error("STRATEGY_INVALID should be a validation error")
	}
	if NewAppError(ErrCodeInternal, "boom", nil).IsValidation() {
		t.Error("INTERNAL_ERROR should not be a validation error")
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeInvalidInput, "Invalid input", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Timeout error should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Invalid input error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	wrappedErr := WrapError(originalErr, ErrCodeMarketDataUnavailable, "Market data error")

	if wrappedErr.Code != ErrCodeMarketDataUnavailable {
		t.Errorf("Expected code %s, got %s", ErrCodeMarketDataUnavailable, wrappedErr.Code)
	}

	if wrappedErr.Cause != originalErr {
		t.Error("Wrapped error should preserve original error")
	}

	if WrapError(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("Wrapping nil should return nil")
	}

	again := WrapError(fmt.Errorf("outer: %w", wrappedErr), ErrCodeInternal, "ignored")
	if again != wrappedErr {
		t.Error("Wrapping an AppError chain should return the existing AppError")
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	err := NewAppError(ErrCodeCancelled, "backtest cancelled", context.Canceled)
	if !HasCode(err, ErrCodeCancelled) {
		t.Error("HasCode should match")
	}
	if !stdIs(err, context.Canceled) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestErrorResponse(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Resource not found", nil)
	response := NewErrorResponse(err, "/api/v1/test")

	if response.Error != err {
		t.Error("Response should contain the error")
	}

	if response.Success {
		t.Error("Response success should be false")
	}

	if time.Since(response.Timestamp) > time.Second {
		t.Error("Response timestamp should be recent")
	}
}

func TestGetSeverityByCode(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeStrategyExecution, SeverityHigh},
		{ErrCodeCacheOperation, SeverityMedium},
		{ErrCodePredictorUnavailable, SeverityMedium},
		{ErrCodeInvalidInput, SeverityLow},
	}

	for _, test := range tests {
		severity := getSeverityByCode(test.code)
		if severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, severity)
		}
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	if GetAppError(appErr) != appErr {
		t.Error("Should return the same AppError")
	}

	if GetAppError(standardErr) != nil {
		t.Error("Should return nil for standard error")
	}

	if IsAppError(standardErr) {
		t.Error("Should not recognize standard error as AppError")
	}
}
