package uxerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"omni-agent/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		err   error
		title string
	}{
		{fmt.Errorf("turn: %w", domain.ErrCircuitOpen), "Model Unavailable"},
		{domain.NewDomainError("llm", domain.ErrLLMTimeout, "slow"), "Request Timed Out"},
		{domain.ErrSessionNotFound, "Session Not Found"},
		{domain.ErrStepBudget, "Step Limit Reached"},
		{errors.New("dial tcp 127.0.0.1:11434: connection refused"), "Connection Failed"},
		{errors.New("HTTP 429 Too Many Requests"), "Rate Limited"},
		{errors.New("something odd"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			fe := Humanize(tt.err)
			assert.Equal(t, tt.title, fe.Title)
			assert.Contains(t, fe.Render(), tt.title)
		})
	}
	assert.Equal(t, "Unknown Error", Humanize(nil).Title)
}
