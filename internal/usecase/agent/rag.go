package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

const DefaultRetrieveK = 6

// RAGAgent answers from passages retrieved for the user's question.
type RAGAgent struct {
	system    string
	llm       *Caller
	retriever domain.Retriever
	k         int
	history   *HistoryWindow
	logger    *slog.Logger
}

// NewRAGAgent creates the retrieval agent. k <= 0 uses DefaultRetrieveK.
func NewRAGAgent(llm domain.LLMProvider, retriever domain.Retriever, k int, opts Options) *RAGAgent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = NewHistoryWindow(0, 0, nil)
	}
	if k <= 0 {
		k = DefaultRetrieveK
	}
	return &RAGAgent{
		system:    Prompt(domain.AgentRAG),
		llm:       NewCaller(llm, opts.LLM, opts.Logger),
		retriever: retriever,
		k:         k,
		history:   opts.History,
		logger:    opts.Logger.With("agent", string(domain.AgentRAG)),
	}
}

func (a *RAGAgent) Type() domain.AgentType { return domain.AgentRAG }

func (a *RAGAgent) Describe() domain.AgentDescriptor {
	return domain.AgentDescriptor{Type: domain.AgentRAG, Name: DisplayName(domain.AgentRAG), SystemPrompt: a.system}
}

func (a *RAGAgent) Invoke(ctx context.Context, turn domain.Turn) (res domain.AgentResult) {
	ctx, span := tracer.StartSpan(ctx, "agent.invoke",
		trace.WithAttributes(tracer.StringAttr("agent", string(domain.AgentRAG))),
	)
	defer func() {
		if r := recover(); r != nil {
			res = domain.AgentResult{Err: fmt.Errorf("rag agent panicked: %v", r)}
			res.Output = ErrorText(res.Err)
		}
		tracer.End(span, res.Err)
	}()

	passages, err := a.retriever.Retrieve(ctx, turn.Input, a.k)
	if err != nil {
		a.logger.Warn("retrieval failed, answering without documents", "error", err)
		passages = nil
	}
	span.SetAttributes(tracer.IntAttr("rag.passages", len(passages)))

	user := RAGQuestion(turn.Input, passages)
	msgs := []domain.Message{domain.SystemMessage(a.system)}
	msgs = append(msgs, a.history.Fit(a.system, user, turn.History)...)
	msgs = append(msgs, domain.UserMessage(user))

	out, err := a.llm.Chat(ctx, msgs)
	switch {
	case err == nil:
		return domain.AgentResult{Output: out}
	case domain.ErrorCodeOf(err) == domain.CodeEmptyResponse:
		return domain.AgentResult{Output: EmptyResponseText}
	default:
		a.logger.Error("agent LLM call failed", "error", err)
		return domain.AgentResult{Output: ErrorText(err), Err: err}
	}
}

// RAGQuestion builds the user message carrying numbered reference passages.
func RAGQuestion(query string, passages []domain.Passage) string {
	if len(passages) == 0 {
		return "No reference documents were found for this question.\n\n" +
			"Answer clearly and fully, and say so if you are not sure:\n" + query
	}
	var b strings.Builder
	b.WriteString("Here are reference documents:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(p.Content))
	}
	b.WriteString("\nBased on the information above, answer clearly and fully:\n")
	b.WriteString(query)
	return b.String()
}
