package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrDisabled     = fmt.Errorf("disabled")
)

// Sentinel errors for the domain layer.
var (
	ErrEmptyMessage      = fmt.Errorf("message cannot be empty")
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrStoreUnavailable  = fmt.Errorf("session store unavailable")
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrLLMUnavailable    = fmt.Errorf("llm backend unavailable")
	ErrLLMTimeout        = fmt.Errorf("llm call timed out")
	ErrEmptyResponse     = fmt.Errorf("empty response from llm")
	ErrCircuitOpen       = fmt.Errorf("llm circuit breaker open")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrContextOverflow   = fmt.Errorf("context window exceeded")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrToolFailure       = fmt.Errorf("tool execution failed")
	ErrUnknownAgent      = fmt.Errorf("unknown agent")
	ErrStepBudget        = fmt.Errorf("graph step budget exhausted")
	ErrGraphCompile      = fmt.Errorf("graph compilation failed")
	ErrInvalidConfig     = fmt.Errorf("invalid configuration")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrMCPNotInitialized = fmt.Errorf("mcp service not initialized")
	ErrMCPClosed         = fmt.Errorf("mcp connection closed")
	ErrImageGeneration   = fmt.Errorf("image generation failed")
	ErrRetrieval         = fmt.Errorf("document retrieval failed")
	ErrEmbeddingFailed   = fmt.Errorf("embedding generation failed")
	ErrSpeech            = fmt.Errorf("speech service failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.CreateSession")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrLLMTimeout) ||
		errors.Is(err, ErrLLMUnavailable)
}

// ErrorCode is a machine-parseable error category for logs and API payloads.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeLLMUnavailable   ErrorCode = "LLM_UNAVAILABLE"
	CodeLLMTimeout       ErrorCode = "LLM_TIMEOUT"
	CodeEmptyResponse    ErrorCode = "EMPTY_RESPONSE"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure      ErrorCode = "TOOL_FAILURE"
	CodeUnknownAgent     ErrorCode = "UNKNOWN_AGENT"
	CodeStepBudget       ErrorCode = "STEP_BUDGET"
	CodeGraphCompile     ErrorCode = "GRAPH_COMPILE"
	CodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeMCPNotInit       ErrorCode = "MCP_NOT_INITIALIZED"
	CodeMCPClosed        ErrorCode = "MCP_CLOSED"
	CodeImageGeneration  ErrorCode = "IMAGE_GENERATION"
	CodeRetrieval        ErrorCode = "RETRIEVAL"
	CodeEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"
	CodeSpeech           ErrorCode = "SPEECH"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrDuplicate:         CodeDuplicate,
	ErrTimeout:           CodeTimeout,
	ErrInvalidInput:      CodeInvalidInput,
	ErrDisabled:          CodeDisabled,
	ErrEmptyMessage:      CodeEmptyMessage,
	ErrSessionNotFound:   CodeSessionNotFound,
	ErrStoreUnavailable:  CodeStoreUnavailable,
	ErrProviderNotFound:  CodeProviderNotFound,
	ErrLLMUnavailable:    CodeLLMUnavailable,
	ErrLLMTimeout:        CodeLLMTimeout,
	ErrEmptyResponse:     CodeEmptyResponse,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrContextOverflow:   CodeContextOverflow,
	ErrToolNotFound:      CodeToolNotFound,
	ErrToolFailure:       CodeToolFailure,
	ErrUnknownAgent:      CodeUnknownAgent,
	ErrStepBudget:        CodeStepBudget,
	ErrGraphCompile:      CodeGraphCompile,
	ErrInvalidConfig:     CodeInvalidConfig,
	ErrConfigLoad:        CodeConfigLoad,
	ErrMCPNotInitialized: CodeMCPNotInit,
	ErrMCPClosed:         CodeMCPClosed,
	ErrImageGeneration:   CodeImageGeneration,
	ErrRetrieval:         CodeRetrieval,
	ErrEmbeddingFailed:   CodeEmbeddingFailed,
	ErrSpeech:            CodeSpeech,
}

// codePriority lists sentinels checked by ErrorCodeOf when walking a chain.
// Specific sentinels come before categories so wrapped chains resolve deterministically.
var codePriority = []error{
	ErrCircuitOpen, ErrLLMTimeout, ErrLLMUnavailable, ErrEmptyResponse, ErrRateLimit,
	ErrAuthInvalid, ErrContextOverflow, ErrProviderNotFound,
	ErrEmptyMessage, ErrSessionNotFound, ErrStoreUnavailable,
	ErrToolNotFound, ErrToolFailure, ErrUnknownAgent, ErrStepBudget, ErrGraphCompile,
	ErrInvalidConfig, ErrConfigLoad, ErrMCPNotInitialized, ErrMCPClosed,
	ErrImageGeneration, ErrRetrieval, ErrEmbeddingFailed, ErrSpeech,
	ErrNotFound, ErrDuplicate, ErrTimeout, ErrInvalidInput, ErrDisabled,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

const maxSanitizedLen = 200

// SanitizeError renders err as a single-line, human-readable message suitable
// for chat payloads. Stack traces and multi-line upstream bodies are cut.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrLLMTimeout):
		return "the request timed out"
	case errors.Is(err, ErrCircuitOpen):
		return "the language model backend is temporarily unavailable"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	}
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if len(msg) > maxSanitizedLen {
		cut := 0
		for i := range msg {
			if i > maxSanitizedLen {
				break
			}
			cut = i
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
