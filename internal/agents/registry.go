// Package agents implements the task runners behind workflow nodes:
// model-backed travel agents and local service steps.
package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/workflow"
)

// AgentFunc executes one workflow node
type AgentFunc func(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error)

// TextGenerator is the slice of the provider layer agents call into
type TextGenerator interface {
	SelectAndCall(ctx context.Context, req *models.ModelRequest) (*models.ModelResponse, error)
}

// Registry maps node names to their runners. It implements the
// workflow engine's TaskRunner.
type Registry struct {
	handlers map[string]AgentFunc
	mu       sync.RWMutex
}

// NewRegistry creates an empty agent registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]AgentFunc),
	}
}

// Register binds a node name to a runner. Later registrations replace
// earlier ones so callers can override defaults.
func (r *Registry) Register(name string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Names lists the registered runner names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Run dispatches a node to its registered runner
func (r *Registry) Run(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	r.mu.RLock()
	fn := r.handlers[node.Name]
	if fn == nil {
		// Composite sub-tasks carry intent names; map them onto the
		// same agents the dispatch table uses
		fn = r.handlers[intentAlias(node.Name)]
	}
	r.mu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no runner registered for %q", node.Name)
	}
	return fn(ctx, node, userCtx)
}

// intentAlias maps intent names onto their primary agent names
func intentAlias(name string) string {
	switch name {
	case "book_flight":
		return "flight_search"
	case "book_hotel":
		return "hotel_search"
	case "plan_trip":
		return "itinerary_planner"
	case "get_recommendations":
		return "recommendations"
	default:
		return "travel_assistant"
	}
}
