package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/router"
)

// Classifier selects the agent for a turn.
type Classifier interface {
	Classify(ctx context.Context, turn domain.Turn) domain.AgentType
}

// Agent sets of the two graph flavours. The first entry is the default slot.
var (
	ChatAgents = []domain.AgentType{
		domain.AgentAssistant, domain.AgentImage, domain.AgentMath, domain.AgentResearch, domain.AgentPlanning,
	}
	VoiceAgents = []domain.AgentType{
		domain.AgentVoiceAssistant, domain.AgentMath, domain.AgentResearch, domain.AgentPlanning,
	}
)

// AgentGraphConfig wires a router and agents into a one-hop graph.
type AgentGraphConfig struct {
	Router Classifier
	// Agents are the terminal nodes; Agents[0] is the default route.
	Agents     []domain.Agent
	Delegation bool
	StepBudget int
	Logger     *slog.Logger
	Bus        domain.EventBus
}

// NewAgentGraph builds and compiles router -> agent -> End.
func NewAgentGraph(cfg AgentGraphConfig) (*Graph, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = DefaultStepBudget
	}
	if cfg.Router == nil || len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("%w: router and at least one agent are required", domain.ErrGraphCompile)
	}

	byType := make(map[domain.AgentType]domain.Agent, len(cfg.Agents))
	targets := make([]string, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		byType[a.Type()] = a
		targets = append(targets, string(a.Type()))
	}
	def := cfg.Agents[0].Type()

	b := NewBuilder()
	b.AddNode(string(domain.AgentRouter), routerNode(cfg.Router))
	for _, a := range cfg.Agents {
		n := &agentNode{agent: a, agents: byType, cfg: cfg}
		b.AddNode(string(a.Type()), n.run)
		b.AddEdge(string(a.Type()), End)
	}
	b.SetEntry(string(domain.AgentRouter))
	b.AddConditionalEdges(string(domain.AgentRouter), func(st *domain.ConversationState) string {
		return string(RouteToAgent(st, def, byType))
	}, targets)

	return b.Compile(Options{StepBudget: cfg.StepBudget, Logger: cfg.Logger})
}

// RouteToAgent is the transition out of the router node.
func RouteToAgent[V any](st *domain.ConversationState, def domain.AgentType, available map[domain.AgentType]V) domain.AgentType {
	current := domain.AgentType(strings.ToLower(string(st.CurrentAgent)))
	if current == "" {
		current = def
	}
	if current == def {
		if _, ok := available[domain.AgentImage]; ok && router.ImageRequested(st.Input) {
			return domain.AgentImage
		}
	}
	if _, ok := available[current]; ok && current != domain.AgentRouter {
		return current
	}
	return def
}

func routerNode(c Classifier) NodeFunc {
	return func(ctx context.Context, st *domain.ConversationState) error {
		st.CurrentAgent = c.Classify(ctx, turnOf(st))
		return nil
	}
}

type agentNode struct {
	agent  domain.Agent
	agents map[domain.AgentType]domain.Agent
	cfg    AgentGraphConfig
}

func (n *agentNode) run(ctx context.Context, st *domain.ConversationState) error {
	st.CurrentAgent = n.agent.Type()
	res := n.agent.Invoke(ctx, turnOf(st))
	if res.Delegation == nil {
		apply(st, res)
		return nil
	}

	target, ok := n.agents[res.Delegation.Target]
	switch {
	case !n.cfg.Delegation || st.Delegated || !ok || target.Type() == n.agent.Type():
		n.cfg.Logger.Info("delegation ignored", "from", n.agent.Type(), "to", res.Delegation.Target)
		res.Output = res.Delegation.Reason
		res.Delegation = nil
		apply(st, res)
		return nil
	case st.Steps >= n.cfg.StepBudget:
		return fmt.Errorf("%w: no steps left to delegate to %s", domain.ErrStepBudget, target.Type())
	}

	n.cfg.Logger.Info("delegating", "from", n.agent.Type(), "to", target.Type(), "session_id", st.SessionID)
	if n.cfg.Bus != nil {
		n.cfg.Bus.Publish(ctx, domain.NewEvent(domain.EventAgentDelegated, st.SessionID, domain.Delegation{
			Target: target.Type(), Reason: res.Delegation.Reason,
		}))
	}
	st.Delegated = true
	st.Steps++
	st.Path = append(st.Path, string(target.Type()))
	st.CurrentAgent = target.Type()
	st.Artifacts = st.Artifacts.Merge(res.Artifacts)

	second := target.Invoke(ctx, turnOf(st))
	if second.Delegation != nil {
		n.cfg.Logger.Info("second delegation ignored", "from", target.Type(), "to", second.Delegation.Target)
		second.Output = second.Delegation.Reason
	}
	apply(st, second)
	return nil
}

func apply(st *domain.ConversationState, res domain.AgentResult) {
	st.Output = res.Output
	if strings.TrimSpace(st.Output) == "" {
		st.Output = "I apologize, but I couldn't generate a response."
	}
	st.Artifacts = st.Artifacts.Merge(res.Artifacts)
	if res.Err != nil {
		st.Err = res.Err
	}
}

func turnOf(st *domain.ConversationState) domain.Turn {
	return domain.Turn{Input: st.Input, History: st.ChatHistory, SessionID: st.SessionID}
}
