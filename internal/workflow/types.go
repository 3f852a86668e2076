package workflow

import (
	"fmt"
	"time"
)

// NodeKind is the closed set of node behaviors the engine can dispatch.
// The engine builds an explicit handler table over these; an unknown
// kind is a validation error, not a silent fallthrough.
type NodeKind string

const (
	NodeAgent      NodeKind = "agent"
	NodeService    NodeKind = "service"
	NodeDecision   NodeKind = "decision"
	NodeParallel   NodeKind = "parallel"
	NodeSequential NodeKind = "sequential"
)

// Valid reports whether the kind is one of the known variants
func (k NodeKind) Valid() bool {
	switch k {
	case NodeAgent, NodeService, NodeDecision, NodeParallel, NodeSequential:
		return true
	}
	return false
}

// RetryPolicy bounds per-node retry behavior
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// Node is a unit task in a workflow graph
type Node struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
	DependsOn   []string `json:"depends_on"`
	Priority    int      `json:"priority"` // lower runs earlier at equal depth

	// Tasks are the sub-units a parallel or sequential node fans out to
	Tasks []string `json:"tasks,omitempty"`

	// Scheduling hints set at synthesis time. These are estimates and
	// are never reconciled with measured execution metrics.
	EstimatedDuration float64 `json:"estimated_duration"` // engine time units (ms)
	EstimatedCost     float64 `json:"estimated_cost"`

	Retry     *RetryPolicy `json:"retry,omitempty"`
	Fallbacks []string     `json:"fallbacks,omitempty"` // ordered fallback node ids
}

// Edge is a data/ordering dependency between two nodes
type Edge struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Weight  float64  `json:"weight"` // tie-break hint
	Outputs []string `json:"outputs"`
}

// Complexity classifies a workflow by node and edge counts
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Metadata is derived from a synthesized graph
type Metadata struct {
	Complexity        Complexity `json:"complexity"`
	EstimatedDuration float64    `json:"estimated_duration"`
	EstimatedCost     float64    `json:"estimated_cost"`
	RequiredAgents    []string   `json:"required_agents"`
	RequiredServices  []string   `json:"required_services"`
	OptimizationScore float64    `json:"optimization_score"`
	Cacheable         bool       `json:"cacheable"`
	Version           string     `json:"version"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Workflow is a directed acyclic graph of task nodes synthesized for
// one user intent
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Nodes       map[string]*Node `json:"nodes"`
	Edges       []Edge           `json:"edges"`
	EntryNodes  []string         `json:"entry_nodes"`
	ExitNodes   []string         `json:"exit_nodes"`
	Metadata    Metadata         `json:"metadata"`
}

// Clone deep-copies the workflow under a fresh id so cached graphs
// never share node or edge state across executions
func (w *Workflow) Clone() *Workflow {
	clone := &Workflow{
		ID:          fmt.Sprintf("wf-%d", time.Now().UnixNano()),
		Name:        w.Name,
		Description: w.Description,
		Nodes:       make(map[string]*Node, len(w.Nodes)),
		Edges:       make([]Edge, len(w.Edges)),
		EntryNodes:  append([]string(nil), w.EntryNodes...),
		ExitNodes:   append([]string(nil), w.ExitNodes...),
		Metadata:    w.Metadata,
	}

	for id, node := range w.Nodes {
		copied := *node
		copied.Inputs = append([]string(nil), node.Inputs...)
		copied.Outputs = append([]string(nil), node.Outputs...)
		copied.DependsOn = append([]string(nil), node.DependsOn...)
		copied.Tasks = append([]string(nil), node.Tasks...)
		copied.Fallbacks = append([]string(nil), node.Fallbacks...)
		if node.Retry != nil {
			retry := *node.Retry
			copied.Retry = &retry
		}
		clone.Nodes[id] = &copied
	}

	for i, edge := range w.Edges {
		copied := edge
		copied.Outputs = append([]string(nil), edge.Outputs...)
		clone.Edges[i] = copied
	}

	clone.Metadata.RequiredAgents = append([]string(nil), w.Metadata.RequiredAgents...)
	clone.Metadata.RequiredServices = append([]string(nil), w.Metadata.RequiredServices...)

	return clone
}

// Validate checks referential integrity and acyclicity
func (w *Workflow) Validate() error {
	entries := make(map[string]bool, len(w.EntryNodes))
	for _, id := range w.EntryNodes {
		entries[id] = true
	}

	for id, node := range w.Nodes {
		if !node.Kind.Valid() {
			return &ValidationError{Msg: fmt.Sprintf("node %s has unknown kind %q", id, node.Kind)}
		}
		for _, dep := range node.DependsOn {
			if _, ok := w.Nodes[dep]; !ok && !entries[dep] {
				return &ValidationError{Msg: fmt.Sprintf("node %s depends on unknown node %s", id, dep)}
			}
		}
		for _, fb := range node.Fallbacks {
			if _, ok := w.Nodes[fb]; !ok {
				return &ValidationError{Msg: fmt.Sprintf("node %s declares unknown fallback %s", id, fb)}
			}
		}
	}

	return w.checkAcyclic()
}

// checkAcyclic walks dependency edges depth-first looking for a cycle
func (w *Workflow) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return &ValidationError{Msg: fmt.Sprintf("dependency cycle through node %s", id)}
		case done:
			return nil
		}
		state[id] = visiting
		if node, ok := w.Nodes[id]; ok {
			for _, dep := range node.DependsOn {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for id := range w.Nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// ExecutionStatus is the lifecycle of one workflow run
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionError records one node failure on the execution record
type ExecutionError struct {
	NodeID      string    `json:"node_id"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionMetrics holds measured execution figures. Estimated figures
// stay on the workflow metadata; the two are intentionally kept apart.
type ExecutionMetrics struct {
	TotalDuration time.Duration            `json:"total_duration"`
	NodeDurations map[string]time.Duration `json:"node_durations"`
	TotalCost     float64                  `json:"total_cost"`
	NodeCosts     map[string]float64       `json:"node_costs"`
	CacheHits     int                      `json:"cache_hits"`
}

// Execution is the mutable record of one workflow run. It is written
// only by the executing engine and is immutable once terminal.
type Execution struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	Status         ExecutionStatus        `json:"status"`
	CurrentNode    string                 `json:"current_node,omitempty"`
	CompletedNodes []string               `json:"completed_nodes"`
	FailedNodes    []string               `json:"failed_nodes"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
	NodeResults    map[string]interface{} `json:"node_results"`
	Errors         []ExecutionError       `json:"errors"`
	Metrics        ExecutionMetrics       `json:"metrics"`
}

// NewExecution creates a pending execution record for a workflow
func NewExecution(workflowID string) *Execution {
	return &Execution{
		ID:          fmt.Sprintf("exec-%d", time.Now().UnixNano()),
		WorkflowID:  workflowID,
		Status:      StatusPending,
		NodeResults: make(map[string]interface{}),
		Metrics: ExecutionMetrics{
			NodeDurations: make(map[string]time.Duration),
			NodeCosts:     make(map[string]float64),
		},
	}
}
