package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Tool.Execute", ErrToolNotFound, "tool 'foo'")
	want := "Tool.Execute: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Graph.Run", ErrStepBudget, "")
	want := "Graph.Run: graph step budget exhausted"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Store.GetSession", ErrSessionNotFound, "abc")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("errors.Is should match ErrSessionNotFound")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("LLM.Chat", ErrProviderNotFound, "groq")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.Chat" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.Chat")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(ErrToolNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeEmptyMessage, ErrorCodeOf(ErrEmptyMessage))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("MCP.Invoke", ErrMCPClosed, "weather")
	assert.Equal(t, CodeMCPClosed, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("gemini: %w", ErrCircuitOpen)
	assert.Equal(t, CodeCircuitOpen, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_DeadlineExceeded(t *testing.T) {
	assert.Equal(t, CodeTimeout, ErrorCodeOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
}

func TestErrorCodeOf_UnknownAndNil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	assert.Equal(t, CodeRetrieval, NewDomainError("RAG.Retrieve", ErrRetrieval, "").Code())
	assert.Equal(t, CodeUnknown, NewDomainError("Op", fmt.Errorf("custom"), "detail").Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
	assert.Len(t, codePriority, len(errorCodeMap))
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	err := WrapOp("Session.Load", ErrSessionNotFound)
	assert.Equal(t, "Session.Load: session not found", err.Error())
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))

	outer := WrapOp("outer", WrapOp("inner", ErrToolFailure))
	assert.Equal(t, "outer: inner: tool execution failed", outer.Error())
	assert.True(t, errors.Is(outer, ErrToolFailure))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrLLMTimeout)))
	assert.True(t, IsRetryableError(ErrLLMUnavailable))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(ErrCircuitOpen))
	assert.False(t, IsRetryableError(nil))
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "the request timed out"},
		{"llm timeout", ErrLLMTimeout, "the request timed out"},
		{"circuit", fmt.Errorf("ollama: %w", ErrCircuitOpen), "the language model backend is temporarily unavailable"},
		{"cancel", context.Canceled, "the request was cancelled"},
		{"multiline", errors.New("boom\ngoroutine 1 [running]:"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeError(tt.err))
		})
	}

	long := SanitizeError(errors.New(strings.Repeat("x", 500)))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), maxSanitizedLen+3)
}
