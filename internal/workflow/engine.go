package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

// TaskRunner executes agent and service nodes against external
// collaborators. Implementations must honor ctx cancellation; the
// engine additionally guards every call with the node timeout.
type TaskRunner interface {
	Run(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error)
}

// EngineConfig holds execution settings
type EngineConfig struct {
	MaxConcurrentNodes int
	EnableFallback     bool
	NodeTimeout        time.Duration
}

// DefaultEngineConfig returns default execution settings
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrentNodes: 8,
		EnableFallback:     true,
		NodeTimeout:        30 * time.Second,
	}
}

// handlerFunc executes one node of a specific kind
type handlerFunc func(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error)

// Engine runs workflow graphs level by level with bounded parallelism
type Engine struct {
	runner    TaskRunner
	config    *EngineConfig
	handlers  map[NodeKind]handlerFunc
	semaphore chan struct{}

	active map[string]*execHandle
	mu     sync.Mutex
}

// execHandle tracks a running execution for cooperative cancellation
type execHandle struct {
	cancelled atomic.Bool
}

// NewEngine creates an execution engine over the given task runner
func NewEngine(runner TaskRunner, config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultEngineConfig()
	}

	engine := &Engine{
		runner:    runner,
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrentNodes),
		active:    make(map[string]*execHandle),
	}

	// Explicit handler table over the closed NodeKind set. Adding a
	// kind without a handler fails validation, not a string switch.
	engine.handlers = map[NodeKind]handlerFunc{
		NodeAgent:      engine.runExternal,
		NodeService:    engine.runExternal,
		NodeDecision:   engine.runDecision,
		NodeParallel:   engine.runParallel,
		NodeSequential: engine.runSequential,
	}

	return engine
}

// Execute runs a workflow and returns its execution record. Node-level
// failures land on the record; only a malformed graph fails outright.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, userCtx *models.UserContext) (*Execution, error) {
	exec := NewExecution(wf.ID)

	if err := wf.Validate(); err != nil {
		now := time.Now()
		exec.Status = StatusFailed
		exec.StartedAt = now
		exec.EndedAt = &now
		exec.Errors = append(exec.Errors, ExecutionError{
			Message:   err.Error(),
			Timestamp: now,
		})
		return exec, err
	}

	handle := &execHandle{}
	e.mu.Lock()
	e.active[exec.ID] = handle
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, exec.ID)
		e.mu.Unlock()
	}()

	exec.Status = StatusRunning
	exec.StartedAt = time.Now()

	entries := make(map[string]bool, len(wf.EntryNodes))
	for _, id := range wf.EntryNodes {
		entries[id] = true
	}

	attempted := make(map[string]bool, len(wf.Nodes))
	completed := make(map[string]bool, len(wf.Nodes))

	for {
		if handle.cancelled.Load() || ctx.Err() != nil {
			e.finish(exec, StatusCancelled)
			return exec, nil
		}

		level := e.runnableLevel(wf, attempted, completed, entries)
		if len(level) == 0 {
			break
		}

		outcomes := make([]nodeOutcome, len(level))
		var wg sync.WaitGroup
		for i, node := range level {
			attempted[node.ID] = true
			wg.Add(1)
			go func(idx int, n *Node) {
				defer wg.Done()
				e.semaphore <- struct{}{}
				defer func() { <-e.semaphore }()
				outcomes[idx] = e.runNode(ctx, wf, n, userCtx)
			}(i, node)
		}
		// Barrier: the whole level settles before the next one is computed
		wg.Wait()

		for _, outcome := range outcomes {
			e.record(exec, outcome, attempted, completed)
		}
	}

	// The run only counts as completed when every exit node finished;
	// anything short of that is a failed execution with partial results
	status := StatusCompleted
	for _, id := range wf.ExitNodes {
		if !completed[id] {
			status = StatusFailed
			break
		}
	}
	e.finish(exec, status)
	return exec, nil
}

// Cancel requests cooperative cancellation of a running execution.
// In-flight node calls are allowed to finish.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	handle, ok := e.active[executionID]
	e.mu.Unlock()

	if !ok {
		return false
	}
	handle.cancelled.Store(true)
	return true
}

// ActiveCount returns the number of currently running executions
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// runnableLevel computes the nodes whose dependencies are all either
// completed or declared entry points, ordered by priority then id
func (e *Engine) runnableLevel(wf *Workflow, attempted, completed, entries map[string]bool) []*Node {
	var level []*Node
	for id, node := range wf.Nodes {
		if attempted[id] {
			continue
		}
		ready := true
		for _, dep := range node.DependsOn {
			if !completed[dep] && !entries[dep] {
				ready = false
				break
			}
		}
		if ready {
			level = append(level, node)
		}
	}

	sort.Slice(level, func(i, j int) bool {
		if level[i].Priority != level[j].Priority {
			return level[i].Priority < level[j].Priority
		}
		return level[i].ID < level[j].ID
	})
	return level
}

// nodeOutcome carries one node's result across the level barrier
type nodeOutcome struct {
	nodeID   string
	cost     float64
	result   interface{}
	duration time.Duration
	err      error

	fallbackID       string
	fallbackResult   interface{}
	fallbackDuration time.Duration
	fallbackCost     float64
}

// runNode executes one node, applying its retry policy and, on
// failure, its ordered fallback chain
func (e *Engine) runNode(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) nodeOutcome {
	outcome := nodeOutcome{nodeID: node.ID, cost: node.EstimatedCost}

	start := time.Now()
	outcome.result, outcome.err = e.attempt(ctx, wf, node, userCtx)
	outcome.duration = time.Since(start)

	if outcome.err == nil || !e.config.EnableFallback {
		return outcome
	}

	for _, fallbackID := range node.Fallbacks {
		fallback, ok := wf.Nodes[fallbackID]
		if !ok {
			continue
		}
		fbStart := time.Now()
		result, err := e.attempt(ctx, wf, fallback, userCtx)
		if err != nil {
			continue
		}
		outcome.fallbackID = fallbackID
		outcome.fallbackResult = result
		outcome.fallbackDuration = time.Since(fbStart)
		outcome.fallbackCost = fallback.EstimatedCost
		break
	}

	return outcome
}

// attempt dispatches a node to its kind handler under the retry policy.
// Only transient failures are retried.
func (e *Engine) attempt(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error) {
	handler, ok := e.handlers[node.Kind]
	if !ok {
		return nil, &NodeError{NodeID: node.ID, Err: fmt.Errorf("no handler for kind %q", node.Kind)}
	}

	attempts := 1
	var backoff time.Duration
	if node.Retry != nil && node.Retry.MaxAttempts > 1 {
		attempts = node.Retry.MaxAttempts
		backoff = node.Retry.Backoff
	}

	var result interface{}
	var err error
	for i := 0; i < attempts; i++ {
		result, err = handler(ctx, wf, node, userCtx)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			break
		}
		if backoff > 0 && i < attempts-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, &NodeError{NodeID: node.ID, Recoverable: IsTransient(err), Err: err}
}

// record merges one outcome into the execution under the level barrier
func (e *Engine) record(exec *Execution, outcome nodeOutcome, attempted, completed map[string]bool) {
	exec.CurrentNode = outcome.nodeID
	exec.Metrics.NodeDurations[outcome.nodeID] = outcome.duration

	if outcome.err == nil {
		exec.CompletedNodes = append(exec.CompletedNodes, outcome.nodeID)
		exec.NodeResults[outcome.nodeID] = outcome.result
		exec.Metrics.NodeCosts[outcome.nodeID] = outcome.cost
		if resultCached(outcome.result) {
			exec.Metrics.CacheHits++
		}
		completed[outcome.nodeID] = true
		return
	}

	exec.FailedNodes = append(exec.FailedNodes, outcome.nodeID)
	recoverable := false
	if nodeErr, ok := outcome.err.(*NodeError); ok {
		recoverable = nodeErr.Recoverable
	}
	exec.Errors = append(exec.Errors, ExecutionError{
		NodeID:      outcome.nodeID,
		Message:     outcome.err.Error(),
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	})

	if outcome.fallbackID != "" {
		exec.CompletedNodes = append(exec.CompletedNodes, outcome.fallbackID)
		exec.NodeResults[outcome.fallbackID] = outcome.fallbackResult
		exec.Metrics.NodeDurations[outcome.fallbackID] = outcome.fallbackDuration
		exec.Metrics.NodeCosts[outcome.fallbackID] = outcome.fallbackCost
		if resultCached(outcome.fallbackResult) {
			exec.Metrics.CacheHits++
		}
		completed[outcome.fallbackID] = true
		attempted[outcome.fallbackID] = true
	}
}

// resultCached reports whether a node result was served from a cache.
// Runners mark cached answers with a "cached" flag in the result map.
func resultCached(result interface{}) bool {
	fields, ok := result.(map[string]interface{})
	if !ok {
		return false
	}
	cached, _ := fields["cached"].(bool)
	return cached
}

// finish stamps the terminal status and total metrics
func (e *Engine) finish(exec *Execution, status ExecutionStatus) {
	now := time.Now()
	exec.Status = status
	exec.EndedAt = &now
	exec.Metrics.TotalDuration = now.Sub(exec.StartedAt)
	for _, cost := range exec.Metrics.NodeCosts {
		exec.Metrics.TotalCost += cost
	}
}

// runExternal dispatches agent and service nodes to the task runner,
// bounding the call with the node timeout so a hung collaborator can
// never stall the level barrier
func (e *Engine) runExternal(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.NodeTimeout)
	defer cancel()

	type callResult struct {
		value interface{}
		err   error
	}
	done := make(chan callResult, 1)
	go func() {
		value, err := e.runner.Run(callCtx, node, userCtx)
		done <- callResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("node %s timed out: %w", node.ID, callCtx.Err())
	}
}

// runDecision evaluates a decision node from the user context alone
func (e *Engine) runDecision(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error) {
	branch := "standard"
	if userCtx != nil && userCtx.EmotionalState != "" && userCtx.EmotionalState != "neutral" {
		branch = "adaptive"
	}
	return map[string]interface{}{"branch": branch}, nil
}

// runParallel fans a node's tasks out concurrently and aggregates the
// results; it fails only when every task fails
func (e *Engine) runParallel(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error) {
	if len(node.Tasks) == 0 {
		return map[string]interface{}{}, nil
	}

	results := make([]interface{}, len(node.Tasks))
	errs := make([]error, len(node.Tasks))

	var wg sync.WaitGroup
	for i := range node.Tasks {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sub := subNode(node, node.Tasks[idx], idx)
			results[idx], errs[idx] = e.runExternal(ctx, wf, sub, userCtx)
		}(i)
	}
	wg.Wait()

	aggregated := make(map[string]interface{}, len(node.Tasks))
	failures := 0
	var firstErr error
	for i, task := range node.Tasks {
		if errs[i] != nil {
			failures++
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		aggregated[task] = results[i]
	}

	if failures == len(node.Tasks) {
		return nil, fmt.Errorf("all %d parallel tasks failed: %w", failures, firstErr)
	}
	return aggregated, nil
}

// runSequential runs a node's tasks in order, stopping at the first failure
func (e *Engine) runSequential(ctx context.Context, wf *Workflow, node *Node, userCtx *models.UserContext) (interface{}, error) {
	results := make(map[string]interface{}, len(node.Tasks))
	for i, task := range node.Tasks {
		result, err := e.runExternal(ctx, wf, subNode(node, task, i), userCtx)
		if err != nil {
			return nil, fmt.Errorf("task %s failed: %w", task, err)
		}
		results[task] = result
	}
	return results, nil
}

// subNode derives a unit agent node for one task of a composite node
func subNode(parent *Node, task string, index int) *Node {
	return &Node{
		ID:                fmt.Sprintf("%s:%d", parent.ID, index),
		Kind:              NodeAgent,
		Name:              task,
		Description:       fmt.Sprintf("Sub-task %s of %s", task, parent.ID),
		Inputs:            parent.Inputs,
		Outputs:           parent.Outputs,
		EstimatedDuration: parent.EstimatedDuration / float64(len(parent.Tasks)),
		EstimatedCost:     parent.EstimatedCost / float64(len(parent.Tasks)),
	}
}
