package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/logger"
)

func testOptions() Options {
	return Options{LLM: LLMConfig{MaxRetries: 1}, Logger: logger.Discard()}
}

func TestSpecialist_PlainAnswer(t *testing.T) {
	llm := newScripted(reply{content: "Paris is the capital of France."})
	a := NewSpecialist(domain.AgentAssistant, llm, nil, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "Capital of France?"})

	assert.NoError(t, res.Err)
	assert.Equal(t, "Paris is the capital of France.", res.Output)
	assert.Empty(t, res.Artifacts)
	require.Equal(t, 1, llm.calls())

	req := llm.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Capital of France?", req.Messages[1].Content)
}

func TestSpecialist_MessageOrder(t *testing.T) {
	llm := newScripted(reply{content: "ok"})
	a := NewSpecialist(domain.AgentMath, llm, nil, testOptions())
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "second"},
	}

	a.Invoke(context.Background(), domain.Turn{Input: "third", History: history})

	msgs := llm.request(0).Messages
	require.Len(t, msgs, 4)
	assert.True(t, strings.Contains(msgs[0].Content, "Math Agent"))
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "third", msgs[3].Content)
}

func TestSpecialist_EmptyResponse(t *testing.T) {
	llm := newScripted(reply{content: "   "})
	a := NewSpecialist(domain.AgentAssistant, llm, nil, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "hi"})

	assert.NoError(t, res.Err)
	assert.Equal(t, EmptyResponseText, res.Output)
}

func TestSpecialist_LLMFailure(t *testing.T) {
	llm := newScripted(reply{err: fmt.Errorf("dial: %w", domain.ErrLLMUnavailable)})
	a := NewSpecialist(domain.AgentAssistant, llm, nil, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "hi"})

	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, domain.ErrLLMUnavailable))
	assert.True(t, strings.HasPrefix(res.Output, "I encountered an error: "))
}

func TestSpecialist_RetriesTransientErrors(t *testing.T) {
	llm := newScripted(
		reply{err: domain.ErrRateLimit},
		reply{content: "recovered"},
	)
	opts := testOptions()
	opts.LLM.MaxRetries = 3
	a := NewSpecialist(domain.AgentAssistant, llm, nil, opts)

	res := a.Invoke(context.Background(), domain.Turn{Input: "hi"})

	assert.NoError(t, res.Err)
	assert.Equal(t, "recovered", res.Output)
	assert.Equal(t, 2, llm.calls())
}

func TestSpecialist_ToolSynthesis(t *testing.T) {
	llm := newScripted(
		reply{content: "Let me check. [Tool Used] get_time()"},
		reply{content: "It is 2024-03-09 14:05:00."},
	)
	tool := constTool("get_time", "2024-03-09 14:05:00")
	a := NewSpecialist(domain.AgentAssistant, llm, []domain.Tool{tool}, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "What time is it?"})

	assert.NoError(t, res.Err)
	assert.Equal(t, "It is 2024-03-09 14:05:00.", res.Output)
	assert.Equal(t, "2024-03-09 14:05:00", res.Artifacts["get_time"])
	require.Equal(t, 2, llm.calls())

	second := llm.request(1).Messages
	require.GreaterOrEqual(t, len(second), 2)
	assert.Equal(t, domain.RoleAssistant, second[len(second)-2].Role)
	assert.Equal(t, "Let me check. [Tool Used] get_time()", second[len(second)-2].Content)
	last := second[len(second)-1].Content
	assert.Contains(t, last, "Result from get_time:\n2024-03-09 14:05:00")
	assert.Contains(t, last, "do NOT call tools again")
}

func TestSpecialist_SynthesisFailureKeepsFirstPass(t *testing.T) {
	llm := newScripted(
		reply{content: "The time is [Tool Used] get_time()"},
		reply{err: domain.ErrLLMUnavailable},
	)
	tool := constTool("get_time", "12:00")
	a := NewSpecialist(domain.AgentAssistant, llm, []domain.Tool{tool}, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "time?"})

	assert.NoError(t, res.Err)
	assert.Equal(t, "The time is 12:00", res.Output)
	assert.NotContains(t, res.Output, "[Tool Used]")
}

func TestSpecialist_SynthesisStripsStrayMarkers(t *testing.T) {
	llm := newScripted(
		reply{content: "[Tool Used] get_time()"},
		reply{content: "It is noon. [Tool Used] get_time()"},
	)
	a := NewSpecialist(domain.AgentAssistant, llm, []domain.Tool{constTool("get_time", "12:00")}, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "time?"})

	assert.Equal(t, "It is noon.", res.Output)
	assert.Equal(t, 2, llm.calls())
}

func TestSpecialist_AllToolsFailed(t *testing.T) {
	llm := newScripted(reply{content: "Searching [Tool Used] web_search(go generics)"})
	a := NewSpecialist(domain.AgentResearch, llm, []domain.Tool{errTool("web_search")}, testOptions())

	res := a.Invoke(context.Background(), domain.Turn{Input: "go generics"})

	assert.NoError(t, res.Err)
	assert.Equal(t, ToolsFailedText, res.Output)
	assert.Empty(t, res.Artifacts)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "web_search", res.Failures[0].Tool)
	assert.Equal(t, 1, llm.calls())
}

func TestSpecialist_ToolSectionInPrompt(t *testing.T) {
	llm := newScripted(reply{content: "ok"})
	a := NewSpecialist(domain.AgentAssistant, llm, []domain.Tool{constTool("get_time", "x")}, testOptions())

	d := a.Describe()
	assert.Equal(t, []string{"get_time"}, d.Tools)
	assert.Contains(t, d.SystemPrompt, "You have access to the following tools:\n- get_time: does get_time")
	assert.Contains(t, d.SystemPrompt, `Use tools by indicating "[Tool Used] tool_name(args)" in your response.`)
}

func TestSpecialist_Delegation(t *testing.T) {
	llm := newScripted(reply{content: "This is arithmetic.\nDELEGATE: math"})
	opts := testOptions()
	opts.Delegation = true
	a := NewSpecialist(domain.AgentAssistant, llm, nil, opts)

	res := a.Invoke(context.Background(), domain.Turn{Input: "what is 2+2"})

	require.NotNil(t, res.Delegation)
	assert.Equal(t, domain.AgentMath, res.Delegation.Target)
	assert.Equal(t, "This is arithmetic.", res.Delegation.Reason)
	assert.Contains(t, a.Describe().SystemPrompt, "DELEGATE: <agent>")
}

func TestSpecialist_DelegationIgnoredWhenDisabledOrSelf(t *testing.T) {
	llm := newScripted(reply{content: "DELEGATE: math"}, reply{content: "DELEGATE: math"})

	off := NewSpecialist(domain.AgentAssistant, llm, nil, testOptions())
	res := off.Invoke(context.Background(), domain.Turn{Input: "x"})
	assert.Nil(t, res.Delegation)
	assert.Equal(t, "DELEGATE: math", res.Output)

	opts := testOptions()
	opts.Delegation = true
	self := NewSpecialist(domain.AgentMath, llm, nil, opts)
	res = self.Invoke(context.Background(), domain.Turn{Input: "x"})
	assert.Nil(t, res.Delegation)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "abcde"+truncatedSuffix, Preview("abcdefghij", 5))
	long := strings.Repeat("é", 10) // 2 bytes each
	got := Preview(long, 5)
	assert.True(t, strings.HasSuffix(got, truncatedSuffix))
	assert.Equal(t, "éé"+truncatedSuffix, got)
}
