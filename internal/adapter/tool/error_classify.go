package tool

import (
	"context"
	"errors"
	"strings"

	"omni-agent/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrRateLimit,
	domain.ErrLLMUnavailable,
	domain.ErrLLMTimeout,
	domain.ErrStoreUnavailable,
	context.DeadlineExceeded,
}

// retryablePatterns are substrings, matched case-insensitively, that mark
// transient failures in errors without sentinel wrapping.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// classifyToolError reports whether err is transient and a later call may succeed.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
