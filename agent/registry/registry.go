// Package registry provides the static agent catalog and the router
// binding agent ids to executable step handlers.
//
// The catalog is built once at process start and passed by reference to
// every consumer; there is no ambient global registry.
package registry

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/conductor/types"
)

// Registry is an immutable, case-insensitive-by-id catalog of agent
// definitions. All lookups are pure reads with no side effects.
type Registry struct {
	byID  map[string]*types.AgentDefinition
	order []string
}

// NewRegistry builds a catalog from the given definitions. Later
// duplicates of the same id (case-insensitive) win.
func NewRegistry(defs []types.AgentDefinition) *Registry {
	r := &Registry{byID: make(map[string]*types.AgentDefinition, len(defs))}
	for i := range defs {
		def := defs[i]
		key := strings.ToLower(def.AgentID)
		if _, seen := r.byID[key]; !seen {
			r.order = append(r.order, key)
		}
		r.byID[key] = &def
	}
	return r
}

// GetAgent returns the definition for an id, matched case-insensitively.
func (r *Registry) GetAgent(agentID string) (*types.AgentDefinition, bool) {
	def, ok := r.byID[strings.ToLower(agentID)]
	return def, ok
}

// GetAllAgents returns every definition in registration order.
func (r *Registry) GetAllAgents() []*types.AgentDefinition {
	out := make([]*types.AgentDefinition, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byID[key])
	}
	return out
}

// GetAgentsByCapability returns the agents declaring the capability,
// matched case-insensitively, sorted by agent id for stable output.
func (r *Registry) GetAgentsByCapability(capability string) []*types.AgentDefinition {
	var out []*types.AgentDefinition
	for _, def := range r.byID {
		if def.HasCapability(capability) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Handler executes one workflow step on behalf of an agent. The engine
// treats it as an opaque, possibly slow, possibly failing dependency.
type Handler interface {
	Execute(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, req *types.AgentRequest) (*types.AgentResponse, error) {
	return f(ctx, req)
}

// Router binds agent ids to registered handlers and resolves the
// handler for a step's agent.
type Router struct {
	registry *Registry
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRouter creates a router over the given catalog.
func NewRouter(registry *Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		handlers: make(map[string]Handler),
		logger:   logger.With(zap.String("component", "agent_router")),
	}
}

// Registry returns the underlying catalog.
func (r *Router) Registry() *Registry { return r.registry }

// RegisterHandler binds a handler to an agent id. Idempotent by id;
// the last registration wins.
func (r *Router) RegisterHandler(agentID string, handler Handler) {
	key := strings.ToLower(agentID)
	if _, replaced := r.handlers[key]; replaced {
		r.logger.Info("handler replaced", zap.String("agent_id", agentID))
	} else {
		r.logger.Info("handler registered", zap.String("agent_id", agentID))
	}
	r.handlers[key] = handler
}

// Resolve returns the handler registered for the agent id.
func (r *Router) Resolve(agentID string) (Handler, error) {
	h, ok := r.handlers[strings.ToLower(agentID)]
	if !ok {
		return nil, types.NewErrorf(types.ErrHandlerNotFound, "no handler registered for agent %q", agentID)
	}
	return h, nil
}

// ResolveForStep resolves the agent and handler for a step definition.
// A step may name an agent directly or just a capability; in the latter
// case the first registered agent declaring the capability is chosen.
func (r *Router) ResolveForStep(step *types.StepDefinition) (*types.AgentDefinition, Handler, error) {
	agentID := step.AgentID
	if agentID == "" {
		candidates := r.registry.GetAgentsByCapability(step.Capability)
		if len(candidates) == 0 {
			return nil, nil, types.NewErrorf(types.ErrHandlerNotFound, "no agent registered for capability %q", step.Capability)
		}
		agentID = candidates[0].AgentID
	}

	def, ok := r.registry.GetAgent(agentID)
	if !ok {
		return nil, nil, types.NewErrorf(types.ErrHandlerNotFound, "agent %q not in registry", agentID)
	}
	h, err := r.Resolve(def.AgentID)
	if err != nil {
		return nil, nil, err
	}
	return def, h, nil
}
