// Package scheduler is the orchestration core's entry point: request
// fingerprinting and caching, admission control, workflow hand-off,
// enrichment, and cost accounting.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voyageflow/voyageflow/internal/agents"
	"github.com/voyageflow/voyageflow/internal/cache"
	"github.com/voyageflow/voyageflow/internal/intent"
	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/store"
	"github.com/voyageflow/voyageflow/internal/workflow"
)

// CapacityError signals that both the execution slots and the wait
// queue are full. Callers should retry after a short delay.
type CapacityError struct {
	Queued int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d requests already queued, retry later", e.Queued)
}

// maxConversation bounds the transcript kept on each user profile
const maxConversation = 20

// Config holds scheduler settings
type Config struct {
	MaxConcurrent       int
	MaxQueued           int
	ResultTTL           time.Duration
	MaintenanceInterval time.Duration
	CacheByteCeiling    int64
	EvictFraction       float64

	// cost model
	PerToolCallCost float64
	AgentSurcharge  float64
}

// DefaultConfig returns default scheduler settings
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:       50,
		MaxQueued:           200,
		ResultTTL:           time.Hour,
		MaintenanceInterval: 30 * time.Second,
		CacheByteCeiling:    64 << 20,
		EvictFraction:       0.2,
		PerToolCallCost:     0.001,
		AgentSurcharge:      0.002,
	}
}

// Scheduler is the façade external callers use. It owns the result
// cache and the admission state; collaborators handle classification,
// synthesis, execution, and persistence.
type Scheduler struct {
	config     *Config
	classifier intent.Classifier
	builder    *workflow.Builder
	engine     *workflow.Engine
	profiles   store.ProfileStore
	results    cache.ResultCache
	enrichers  []agents.Enricher
	audit      *store.SQLiteAuditLog
	logger     *log.Logger

	// admission state; admit and release are atomic under admitMu
	admitMu sync.Mutex
	active  int
	waiters []chan struct{}

	// caches swept by the maintenance tick
	owned map[string]cache.Maintainable

	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64

	statsMu     sync.Mutex
	totalCost   float64
	totalExecMs int64
	completed   int64
	users       map[string]bool

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a scheduler. results may be nil, in which case an
// in-process result cache is used. audit may be nil to disable the
// audit trail.
func New(
	config *Config,
	classifier intent.Classifier,
	builder *workflow.Builder,
	engine *workflow.Engine,
	profiles store.ProfileStore,
	results cache.ResultCache,
	audit *store.SQLiteAuditLog,
	logger *log.Logger,
) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if results == nil {
		results = cache.NewMemoryResultCache(config.ResultTTL)
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Scheduler{
		config:     config,
		classifier: classifier,
		builder:    builder,
		engine:     engine,
		profiles:   profiles,
		results:    results,
		audit:      audit,
		logger:     logger,
		owned:      make(map[string]cache.Maintainable),
		users:      make(map[string]bool),
		stopCh:     make(chan struct{}),
	}

	if mem, ok := results.(*cache.MemoryResultCache); ok {
		s.owned["results"] = mem.Store()
	}
	s.owned["workflows"] = builder.Cache()

	return s
}

// AddEnricher appends a side agent applied to successful results
func (s *Scheduler) AddEnricher(enricher agents.Enricher) {
	s.enrichers = append(s.enrichers, enricher)
}

// OwnCache registers an extra cache for the maintenance tick
func (s *Scheduler) OwnCache(name string, c cache.Maintainable) {
	s.owned[name] = c
}

// HandleRequest is the sole entry point: fingerprint, cache check,
// admission, context merge, workflow execution, enrichment, caching
func (s *Scheduler) HandleRequest(ctx context.Context, userID, message string, patch *models.ContextPatch) (*models.RequestResult, error) {
	if userID == "" || message == "" {
		return failed("user id and message are required"), fmt.Errorf("user id and message are required")
	}

	s.totalRequests.Add(1)
	start := time.Now()

	fingerprint := Fingerprint(userID, message, patch)

	if cached, ok := s.results.Get(ctx, fingerprint); ok {
		s.cacheHits.Add(1)
		copied := *cached
		copied.Cached = true
		return &copied, nil
	}
	s.cacheMisses.Add(1)

	if err := s.admit(ctx); err != nil {
		return failed(err.Error()), err
	}
	defer s.release()

	profile, err := s.profiles.ApplyPatch(ctx, userID, patch)
	if err != nil {
		return failed(err.Error()), fmt.Errorf("failed to update user context: %w", err)
	}
	s.trackUser(userID)

	analysis, err := s.classifier.Classify(ctx, message, profile)
	if err != nil {
		return failed(err.Error()), fmt.Errorf("intent classification failed: %w", err)
	}
	profile.CurrentIntent = analysis
	appendConversation(profile, "user", message)
	if err := s.profiles.Save(ctx, profile); err != nil {
		s.logger.Printf("scheduler: failed to save profile %s: %v", userID, err)
	}

	wf, err := s.builder.Synthesize(analysis, profile)
	if err != nil {
		s.auditEntry(ctx, userID, analysis.PrimaryIntent, fingerprint, "", false, 0, time.Since(start), err)
		return failed(err.Error()), err
	}

	exec, execErr := s.engine.Execute(ctx, wf, profile)

	result := s.buildResult(wf, exec, execErr)
	result.Cost = s.computeCost(wf, exec)
	result.ExecutionMs = time.Since(start).Milliseconds()

	s.enrich(ctx, result, profile)

	if response, ok := result.Output["response"].(string); ok && response != "" {
		appendConversation(profile, "assistant", response)
		if err := s.profiles.Save(ctx, profile); err != nil {
			s.logger.Printf("scheduler: failed to save profile %s: %v", userID, err)
		}
	}

	if result.Success {
		if err := s.results.Set(ctx, fingerprint, result, s.config.ResultTTL); err != nil {
			s.logger.Printf("scheduler: failed to cache result: %v", err)
		}
	}

	s.recordStats(result)
	s.auditEntry(ctx, userID, analysis.PrimaryIntent, fingerprint, result.ExecutionID, result.Success, result.Cost, time.Since(start), execErr)

	return result, execErr
}

// CancelExecution requests cooperative cancellation of a running execution
func (s *Scheduler) CancelExecution(executionID string) bool {
	return s.engine.Cancel(executionID)
}

// CacheStats is the cache block of the health report
type CacheStats struct {
	Sizes   map[string]int `json:"sizes"`
	HitRate float64        `json:"hit_rate"`
}

// LoadStats is the admission block of the health report
type LoadStats struct {
	Current        int     `json:"current"`
	Max            int     `json:"max"`
	Queued         int     `json:"queued"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// HealthMetrics is the scheduler's operational snapshot
type HealthMetrics struct {
	ActiveExecutions int        `json:"active_executions"`
	TotalUsers       int        `json:"total_users"`
	AvgExecutionMs   int64      `json:"avg_execution_ms"`
	TotalCost        float64    `json:"total_cost"`
	Cache            CacheStats `json:"cache"`
	LoadBalancing    LoadStats  `json:"load_balancing"`
}

// GetHealthMetrics reports current scheduler health
func (s *Scheduler) GetHealthMetrics(ctx context.Context) *HealthMetrics {
	s.admitMu.Lock()
	current := s.active
	queued := len(s.waiters)
	s.admitMu.Unlock()

	s.statsMu.Lock()
	totalCost := s.totalCost
	totalUsers := len(s.users)
	var avgMs int64
	if s.completed > 0 {
		avgMs = s.totalExecMs / s.completed
	}
	s.statsMu.Unlock()

	sizes := make(map[string]int, len(s.owned)+1)
	for name, c := range s.owned {
		sizes[name] = c.Len()
	}
	if _, ok := sizes["results"]; !ok {
		sizes["results"] = s.results.Len(ctx)
	}

	return &HealthMetrics{
		ActiveExecutions: s.engine.ActiveCount(),
		TotalUsers:       totalUsers,
		AvgExecutionMs:   avgMs,
		TotalCost:        totalCost,
		Cache: CacheStats{
			Sizes:   sizes,
			HitRate: s.results.HitRate(),
		},
		LoadBalancing: LoadStats{
			Current:        current,
			Max:            s.config.MaxConcurrent,
			Queued:         queued,
			UtilizationPct: 100 * float64(current) / float64(s.config.MaxConcurrent),
		},
	}
}

// Start launches the background maintenance loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.maintain()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the maintenance loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// maintain sweeps expired entries across owned caches and, under byte
// pressure, evicts the least-recently-used fraction of each
func (s *Scheduler) maintain() {
	var totalBytes int64
	for name, c := range s.owned {
		if swept := c.Sweep(); swept > 0 {
			s.logger.Printf("scheduler: swept %d expired entries from %s cache", swept, name)
		}
		totalBytes += c.SizeBytes()
	}

	if s.config.CacheByteCeiling > 0 && totalBytes > s.config.CacheByteCeiling {
		for name, c := range s.owned {
			if evicted := c.EvictFraction(s.config.EvictFraction); evicted > 0 {
				s.logger.Printf("scheduler: evicted %d entries from %s cache under size pressure", evicted, name)
			}
		}
	}
}

// admit takes an execution slot, queueing FIFO at the ceiling
func (s *Scheduler) admit(ctx context.Context) error {
	s.admitMu.Lock()
	if s.active < s.config.MaxConcurrent {
		s.active++
		s.admitMu.Unlock()
		return nil
	}

	if len(s.waiters) >= s.config.MaxQueued {
		queued := len(s.waiters)
		s.admitMu.Unlock()
		return &CapacityError{Queued: queued}
	}

	slot := make(chan struct{})
	s.waiters = append(s.waiters, slot)
	s.admitMu.Unlock()

	select {
	case <-slot:
		return nil
	case <-ctx.Done():
		s.abandon(slot)
		return ctx.Err()
	}
}

// release frees a slot, handing it to the oldest waiter when one exists
func (s *Scheduler) release() {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.active--
}

// abandon removes a cancelled waiter; if its slot was granted in the
// race, the slot is passed on instead
func (s *Scheduler) abandon(slot chan struct{}) {
	s.admitMu.Lock()
	for i, waiter := range s.waiters {
		if waiter == slot {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.admitMu.Unlock()
			return
		}
	}
	s.admitMu.Unlock()

	// Slot already granted; release it on behalf of the abandoned request
	s.release()
}

// appendConversation adds one turn to the profile's transcript, keeping
// only the most recent maxConversation turns
func appendConversation(profile *models.UserContext, role, content string) {
	profile.Conversation = append(profile.Conversation, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if excess := len(profile.Conversation) - maxConversation; excess > 0 {
		profile.Conversation = profile.Conversation[excess:]
	}
}

// buildResult turns an execution record into the caller-facing result.
// Partial node results survive on failures for diagnostics.
func (s *Scheduler) buildResult(wf *workflow.Workflow, exec *workflow.Execution, execErr error) *models.RequestResult {
	result := &models.RequestResult{
		Output: make(map[string]interface{}),
	}

	if exec == nil {
		result.Success = false
		if execErr != nil {
			result.Error = execErr.Error()
		}
		return result
	}

	result.ExecutionID = exec.ID
	result.Success = exec.Status == workflow.StatusCompleted

	for nodeID, nodeResult := range exec.NodeResults {
		if fields, ok := nodeResult.(map[string]interface{}); ok {
			for key, value := range fields {
				result.Output[key] = value
			}
			continue
		}
		result.Output[nodeID] = nodeResult
	}

	for _, nodeID := range exec.CompletedNodes {
		if node, ok := wf.Nodes[nodeID]; ok && node.Kind == workflow.NodeAgent {
			result.AgentsUsed = append(result.AgentsUsed, node.Name)
		}
	}
	sort.Strings(result.AgentsUsed)

	if !result.Success {
		if execErr != nil {
			result.Error = execErr.Error()
		} else if len(exec.Errors) > 0 {
			result.Error = exec.Errors[len(exec.Errors)-1].Message
		} else {
			result.Error = fmt.Sprintf("execution ended with status %s", exec.Status)
		}
	}

	return result
}

// computeCost prices an execution: actual token spend where agents
// reported it, a per-tool-call cost for every executed node, and a
// flat surcharge per agent node
func (s *Scheduler) computeCost(wf *workflow.Workflow, exec *workflow.Execution) float64 {
	if exec == nil {
		return 0
	}

	var cost float64
	for _, nodeResult := range exec.NodeResults {
		if fields, ok := nodeResult.(map[string]interface{}); ok {
			if tokenCost, ok := fields["cost"].(float64); ok {
				cost += tokenCost
			}
		}
	}

	cost += s.config.PerToolCallCost * float64(len(exec.CompletedNodes)+len(exec.FailedNodes))

	for _, nodeID := range exec.CompletedNodes {
		if node, ok := wf.Nodes[nodeID]; ok && node.Kind == workflow.NodeAgent {
			cost += s.config.AgentSurcharge
		}
	}

	return cost
}

// enrich applies side agents additively; failures never surface
func (s *Scheduler) enrich(ctx context.Context, result *models.RequestResult, profile *models.UserContext) {
	for _, enricher := range s.enrichers {
		if err := enricher.Enrich(ctx, result, profile); err != nil {
			s.logger.Printf("scheduler: enricher %s failed: %v", enricher.Name(), err)
		}
	}
}

func (s *Scheduler) trackUser(userID string) {
	s.statsMu.Lock()
	s.users[userID] = true
	s.statsMu.Unlock()
}

func (s *Scheduler) recordStats(result *models.RequestResult) {
	s.statsMu.Lock()
	s.totalCost += result.Cost
	s.totalExecMs += result.ExecutionMs
	s.completed++
	s.statsMu.Unlock()
}

func (s *Scheduler) auditEntry(ctx context.Context, userID, intentName, fingerprint, executionID string, success bool, cost float64, duration time.Duration, err error) {
	if s.audit == nil {
		return
	}

	entry := &store.AuditEntry{
		Timestamp:   time.Now(),
		UserID:      userID,
		Intent:      intentName,
		Fingerprint: fingerprint,
		ExecutionID: executionID,
		Success:     success,
		Cost:        cost,
		Duration:    duration,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if logErr := s.audit.Log(ctx, entry); logErr != nil {
		s.logger.Printf("scheduler: audit log failed: %v", logErr)
	}
}

// Fingerprint derives the deterministic cache key for a request
func Fingerprint(userID, message string, patch *models.ContextPatch) string {
	prefix := message
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}

	hash := sha256.New()
	if patch != nil {
		// Struct field order is fixed, so the encoding is deterministic
		payload, _ := json.Marshal(patch)
		hash.Write(payload)
	}

	return fmt.Sprintf("%s:%s:%x", userID, prefix, hash.Sum(nil)[:8])
}

func failed(msg string) *models.RequestResult {
	return &models.RequestResult{
		Success: false,
		Error:   msg,
	}
}
