package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

// stubRunner scripts per-node results and records call order
type stubRunner struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	blockOn map[string]chan struct{}
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		fail:    make(map[string]error),
		blockOn: make(map[string]chan struct{}),
	}
}

func (r *stubRunner) Run(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
	r.mu.Lock()
	r.calls = append(r.calls, node.ID)
	block := r.blockOn[node.ID]
	err := r.fail[node.ID]
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"node": node.ID}, nil
}

func (r *stubRunner) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func chainWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-chain",
		Name: "chain",
		Nodes: map[string]*Node{
			"a": {ID: "a", Kind: NodeService, Name: "a", Priority: 0},
			"b": {ID: "b", Kind: NodeService, Name: "b", Priority: 1, DependsOn: []string{"a"}},
			"c": {ID: "c", Kind: NodeService, Name: "c", Priority: 2, DependsOn: []string{"b"}},
		},
		ExitNodes: []string{"c"},
	}
}

func TestExecuteChainOrdering(t *testing.T) {
	runner := newStubRunner()
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), chainWorkflow(), nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if exec.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", exec.Status)
	}
	if len(exec.CompletedNodes) != 3 {
		t.Fatalf("expected 3 completed nodes, got %v", exec.CompletedNodes)
	}
	for i, want := range []string{"a", "b", "c"} {
		if exec.CompletedNodes[i] != want {
			t.Errorf("completion order %v, expected [a b c]", exec.CompletedNodes)
			break
		}
	}

	order := runner.callOrder()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("call order %v, expected [a b c]", order)
	}

	if exec.EndedAt == nil {
		t.Error("expected end time to be stamped")
	}
	if _, ok := exec.NodeResults["b"]; !ok {
		t.Error("expected node result recorded for b")
	}
}

func TestExecuteFallbackChain(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-fallback",
		Name: "fallback",
		Nodes: map[string]*Node{
			"a":  {ID: "a", Kind: NodeService, Name: "a", Priority: 0},
			"p":  {ID: "p", Kind: NodeAgent, Name: "p", Priority: 1, DependsOn: []string{"a"}, Fallbacks: []string{"f1", "f2"}},
			"f1": {ID: "f1", Kind: NodeAgent, Name: "f1", Priority: 1, DependsOn: []string{"p"}},
			"f2": {ID: "f2", Kind: NodeAgent, Name: "f2", Priority: 1, DependsOn: []string{"p"}},
		},
	}

	runner := newStubRunner()
	runner.fail["p"] = errors.New("primary agent exploded")
	runner.fail["f1"] = errors.New("first fallback exploded")
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !contains(exec.FailedNodes, "p") {
		t.Errorf("expected p in failedNodes, got %v", exec.FailedNodes)
	}
	if !contains(exec.CompletedNodes, "f2") {
		t.Errorf("expected f2 in completedNodes, got %v", exec.CompletedNodes)
	}
	if contains(exec.CompletedNodes, "f1") {
		t.Errorf("failed fallback f1 must not be completed, got %v", exec.CompletedNodes)
	}
	if len(exec.Errors) == 0 {
		t.Error("expected the primary failure on the error list")
	}
}

func TestExecuteFailedNodeBlocksDependents(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-blocked",
		Name: "blocked",
		Nodes: map[string]*Node{
			"a": {ID: "a", Kind: NodeService, Name: "a", Priority: 0},
			"b": {ID: "b", Kind: NodeService, Name: "b", Priority: 1, DependsOn: []string{"a"}},
			"c": {ID: "c", Kind: NodeService, Name: "c", Priority: 2, DependsOn: []string{"b"}},
		},
	}

	runner := newStubRunner()
	runner.fail["b"] = errors.New("b exploded")
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !contains(exec.CompletedNodes, "a") {
		t.Errorf("a should have completed, got %v", exec.CompletedNodes)
	}
	if !contains(exec.FailedNodes, "b") {
		t.Errorf("b should have failed, got %v", exec.FailedNodes)
	}
	if contains(runner.callOrder(), "c") {
		t.Error("c must never run when its dependency failed")
	}
	// Partial results survive for diagnostics
	if _, ok := exec.NodeResults["a"]; !ok {
		t.Error("completed node results must be preserved on partial failure")
	}
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-retry",
		Name: "retry",
		Nodes: map[string]*Node{
			"flaky": {
				ID: "flaky", Kind: NodeAgent, Name: "flaky",
				Retry: &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
			},
		},
	}

	attempts := 0
	runner := &funcRunner{fn: func(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return "ok", nil
	}}
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if !contains(exec.CompletedNodes, "flaky") {
		t.Errorf("expected flaky to complete after retries, got %v", exec.CompletedNodes)
	}
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-permanent",
		Name: "permanent",
		Nodes: map[string]*Node{
			"broken": {
				ID: "broken", Kind: NodeAgent, Name: "broken",
				Retry: &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
			},
		},
	}

	attempts := 0
	runner := &funcRunner{fn: func(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
		attempts++
		return nil, errors.New("invalid credentials")
	}}
	engine := NewEngine(runner, nil)

	exec, _ := engine.Execute(context.Background(), wf, nil)
	if attempts != 1 {
		t.Errorf("permanent errors must not be retried, got %d attempts", attempts)
	}
	if len(exec.Errors) != 1 || exec.Errors[0].Recoverable {
		t.Errorf("expected one unrecoverable error, got %+v", exec.Errors)
	}
}

func TestExecuteParallelNode(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-parallel",
		Name: "parallel",
		Nodes: map[string]*Node{
			"fan": {
				ID: "fan", Kind: NodeParallel, Name: "fan",
				Tasks: []string{"book_flight", "book_hotel"},
			},
		},
	}

	runner := newStubRunner()
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	result, ok := exec.NodeResults["fan"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected aggregated map result, got %T", exec.NodeResults["fan"])
	}
	if len(result) != 2 {
		t.Errorf("expected results for both tasks, got %v", result)
	}
	if len(runner.callOrder()) != 2 {
		t.Errorf("expected 2 sub-task calls, got %v", runner.callOrder())
	}
}

func TestExecuteSequentialNode(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-sequential",
		Name: "sequential",
		Nodes: map[string]*Node{
			"steps": {
				ID: "steps", Kind: NodeSequential, Name: "steps",
				Tasks: []string{"intent_analysis", "book_flight", "book_hotel"},
			},
		},
	}

	runner := newStubRunner()
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	result, ok := exec.NodeResults["steps"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected aggregated map result, got %T", exec.NodeResults["steps"])
	}
	if len(result) != 3 {
		t.Errorf("expected results for all three tasks, got %v", result)
	}

	order := runner.callOrder()
	want := []string{"steps:0", "steps:1", "steps:2"}
	if len(order) != len(want) {
		t.Fatalf("expected %d sub-task calls, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("sub-task order %v, expected %v", order, want)
			break
		}
	}
}

func TestExecuteSequentialStopsAtFirstFailure(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-sequential-fail",
		Name: "sequential-fail",
		Nodes: map[string]*Node{
			"steps": {
				ID: "steps", Kind: NodeSequential, Name: "steps",
				Tasks: []string{"intent_analysis", "book_flight", "book_hotel"},
			},
		},
	}

	runner := newStubRunner()
	runner.fail["steps:1"] = errors.New("flight agent exploded")
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !contains(exec.FailedNodes, "steps") {
		t.Errorf("expected the sequential node to fail, got %v", exec.FailedNodes)
	}
	if contains(runner.callOrder(), "steps:2") {
		t.Errorf("tasks after the failure must not run, got %v", runner.callOrder())
	}
	if len(runner.callOrder()) != 2 {
		t.Errorf("expected 2 sub-task calls before the stop, got %v", runner.callOrder())
	}
}

func TestExecuteCountsNodeCacheHits(t *testing.T) {
	runner := &funcRunner{fn: func(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
		if node.ID == "b" {
			return map[string]interface{}{"node": node.ID}, nil
		}
		return map[string]interface{}{"node": node.ID, "cached": true}, nil
	}}
	engine := NewEngine(runner, nil)

	exec, err := engine.Execute(context.Background(), chainWorkflow(), nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if exec.Metrics.CacheHits != 2 {
		t.Errorf("expected 2 cache hits counted, got %d", exec.Metrics.CacheHits)
	}
}

func TestExecuteCancellation(t *testing.T) {
	wf := chainWorkflow()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	runner := &funcRunner{fn: func(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "done", nil
	}}
	engine := NewEngine(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Execution, 1)
	go func() {
		exec, _ := engine.Execute(ctx, wf, nil)
		done <- exec
	}()

	<-started
	cancel()
	close(release)

	exec := <-done
	if exec.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", exec.Status)
	}
	if contains(exec.CompletedNodes, "c") {
		t.Error("no new node work should be admitted after cancellation")
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	engine := NewEngine(newStubRunner(), nil)
	if engine.Cancel("exec-unknown") {
		t.Error("cancelling an unknown execution must return false")
	}
}

func TestExecuteInvalidWorkflowFails(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-cycle",
		Name: "cycle",
		Nodes: map[string]*Node{
			"a": {ID: "a", Kind: NodeService, Name: "a", DependsOn: []string{"b"}},
			"b": {ID: "b", Kind: NodeService, Name: "b", DependsOn: []string{"a"}},
		},
	}

	engine := NewEngine(newStubRunner(), nil)
	exec, err := engine.Execute(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected validation error for a cyclic graph")
	}
	if exec.Status != StatusFailed {
		t.Errorf("expected failed, got %s", exec.Status)
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

// funcRunner adapts a closure to TaskRunner
type funcRunner struct {
	fn func(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error)
}

func (r *funcRunner) Run(ctx context.Context, node *Node, userCtx *models.UserContext) (interface{}, error) {
	return r.fn(ctx, node, userCtx)
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func TestIsTransient(t *testing.T) {
	transient := []error{
		errors.New("request timeout"),
		errors.New("rate limit exceeded"),
		errors.New("service temporarily unavailable"),
		errors.New("network is unreachable"),
		fmt.Errorf("wrapped: %w", errors.New("connection refused")),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("expected %v to be transient", err)
		}
	}

	if IsTransient(errors.New("invalid api key")) {
		t.Error("permanent errors must not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is never transient")
	}
}
