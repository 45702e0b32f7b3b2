// Package chat runs one conversation turn end to end: session resolution,
// history, the agent graph, image reference handling and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
	"omni-agent/internal/usecase/agent"
	"omni-agent/internal/usecase/graph"
	"omni-agent/internal/usecase/memory"
	"omni-agent/internal/usecase/toolcall"
)

// ImageMarkdownAlt is the alt text of generated image references.
const ImageMarkdownAlt = "Generated Image"

var (
	imageRefRe  = regexp.MustCompile(`!\[` + ImageMarkdownAlt + `\]\((/generated_images/[^)\s]+)\)`)
	imagePathRe = regexp.MustCompile(`/generated_images/[\w.-]+\.(?:png|jpe?g|webp|gif)`)
)

// BuildFunc compiles the agent graph. It is called on first use and after
// every Invalidate.
type BuildFunc func(ctx context.Context) (*graph.Graph, error)

// Input is one user turn.
type Input struct {
	Message   string
	SessionID string
	// Attachment is the URL of a file uploaded with the message.
	Attachment string
}

// Output is the result of a turn. Err is set when the turn completed with a
// degraded answer after an internal failure.
type Output struct {
	Response  string
	Image     string
	SessionID string
	Agent     domain.AgentType
	Artifacts domain.Artifacts
	Err       error
}

// Service is safe for concurrent use. Turns on one session are serialized.
type Service struct {
	memory *memory.Memory
	build  BuildFunc
	logger *slog.Logger
	bus    domain.EventBus

	mu    sync.Mutex
	graph *graph.Graph
	dirty bool
}

// NewService creates a turn service.
func NewService(mem *memory.Memory, build BuildFunc, logger *slog.Logger, bus domain.EventBus) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{memory: mem, build: build, logger: logger, bus: bus, dirty: true}
}

// Warm compiles the graph now. Startup calls it so wiring errors are fatal.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.currentGraph(ctx)
	return err
}

// Invalidate marks the graph for a rebuild before the next turn.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Memory exposes the session adapter.
func (s *Service) Memory() *memory.Memory { return s.memory }

func (s *Service) currentGraph(ctx context.Context) (*graph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty && s.graph != nil {
		return s.graph, nil
	}
	g, err := s.build(ctx)
	if err != nil {
		if s.graph != nil {
			s.logger.Error("graph rebuild failed, keeping previous graph", "error", err)
			s.dirty = false
			return s.graph, nil
		}
		return nil, err
	}
	s.graph, s.dirty = g, false
	return g, nil
}

// Process runs one turn. It returns an error only when the turn could not
// start: blank input, an unknown session or a graph that fails to compile.
func (s *Service) Process(ctx context.Context, in Input) (Output, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return Output{}, domain.ErrEmptyMessage
	}

	ctx, span := tracer.StartSpan(ctx, "chat.process")
	defer span.End()

	sess, err := s.memory.Resolve(ctx, in.SessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return Output{}, err
	}
	ctx = domain.ContextWithSessionID(ctx, sess.ID)
	span.SetAttributes(tracer.StringAttr("session_id", sess.ID))

	unlock, err := s.memory.Lock(ctx, sess.ID)
	if err != nil {
		return Output{}, err
	}
	defer unlock()

	g, err := s.currentGraph(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return Output{}, err
	}

	history := s.memory.History(ctx, sess)
	userMsg := domain.ChatMessage{Role: domain.RoleUser, Content: message, Type: domain.MessageText}
	if in.Attachment != "" {
		userMsg.Type = domain.MessageFile
		userMsg.Metadata = map[string]any{"attachment": in.Attachment}
	}
	s.memory.Append(ctx, sess, userMsg)
	s.publish(ctx, domain.EventMessageReceived, sess.ID, map[string]string{"length": fmt.Sprint(len(message))})

	st := domain.NewConversationState(message, history, sess.ID)
	if err := g.Invoke(ctx, st); err != nil {
		s.logger.Warn("turn ended early", "error", err, "path", st.Path)
	}

	out := s.finish(st)
	out.SessionID = sess.ID
	span.SetAttributes(tracer.StringAttr("agent", string(out.Agent)))
	if out.Err != nil {
		tracer.RecordError(span, out.Err)
	}

	s.persistReply(ctx, sess, out)
	return out, nil
}

func (s *Service) finish(st *domain.ConversationState) Output {
	text := st.Output
	if strings.TrimSpace(text) == "" {
		text = agent.EmptyResponseText
	}
	if art, ok := st.Artifacts[agent.ImageToolName]; ok && !strings.Contains(text, "!["+ImageMarkdownAlt+"]") {
		if path := imagePathRe.FindString(art); path != "" {
			text += "\n\n![" + ImageMarkdownAlt + "](" + path + ")"
		}
	}
	response, image := SplitImage(text)
	return Output{
		Response:  response,
		Image:     image,
		Agent:     st.CurrentAgent,
		Artifacts: st.Artifacts,
		Err:       st.Err,
	}
}

func (s *Service) persistReply(ctx context.Context, sess memory.Session, out Output) {
	msg := domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   out.Response,
		Type:      domain.MessageText,
		AgentType: string(out.Agent),
	}
	switch {
	case out.Err != nil:
		msg.Type = domain.MessageError
		msg.Metadata = map[string]any{"error_code": string(domain.ErrorCodeOf(out.Err))}
	case out.Image != "":
		msg.Type = domain.MessageImage
		msg.Metadata = map[string]any{"image": out.Image}
	}
	s.memory.Append(ctx, sess, msg)
}

func (s *Service) publish(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(typ, sessionID, payload))
	}
}

// SplitImage removes the first generated image reference from text and
// returns the remaining prose and the image path.
func SplitImage(text string) (string, string) {
	loc := imageRefRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), ""
	}
	image := text[loc[2]:loc[3]]
	rest := text[:loc[0]] + text[loc[1]:]
	return toolcall.Cleanup(rest), image
}

// IsBackendFailure reports whether a degraded turn was caused by the LLM
// backend being unreachable.
func IsBackendFailure(err error) bool {
	return errors.Is(err, domain.ErrLLMUnavailable) || errors.Is(err, domain.ErrCircuitOpen)
}
