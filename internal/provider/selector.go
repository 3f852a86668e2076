package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voyageflow/voyageflow/internal/cache"
	"github.com/voyageflow/voyageflow/internal/models"
)

// Scoring weights. Cost dominates because the provider pool is built
// from low/zero-cost endpoints and price spread is the main signal.
const (
	weightCost         = 0.30
	weightQuality      = 0.25
	weightCapabilities = 0.20
	weightAvailability = 0.15
	weightHeadroom     = 0.10

	availabilityBonus = 1.0

	// qualityCacheThreshold gates which responses are worth caching
	qualityCacheThreshold = 0.7

	// fallback attempts after the primary provider fails
	maxFallbackProviders = 2
)

// SelectorConfig holds provider selection settings
type SelectorConfig struct {
	BaselineCostPer1K float64
	CacheTTL          time.Duration
	CacheSize         int
	DefaultTimeout    time.Duration
	DrainInterval     time.Duration
	QueueSize         int
}

// DefaultSelectorConfig returns default selection settings
func DefaultSelectorConfig() *SelectorConfig {
	return &SelectorConfig{
		BaselineCostPer1K: 0.1,
		CacheTTL:          10 * time.Minute,
		CacheSize:         1000,
		DefaultTimeout:    30 * time.Second,
		DrainInterval:     time.Second,
		QueueSize:         1000,
	}
}

// QueueResult delivers a queued request's outcome
type QueueResult struct {
	Response *models.ModelResponse
	Err      error
}

// queuedRequest is one entry in the background queue
type queuedRequest struct {
	req    *models.ModelRequest
	result chan QueueResult
}

// Selector scores providers per request, invokes the winner with
// caching and fallback, and drains a background queue on a tick
type Selector struct {
	registry *Registry
	caller   ModelCaller
	config   *SelectorConfig

	respCache *cache.Store[*models.ModelResponse]

	queue   []*queuedRequest
	queueMu sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewSelector creates a provider selector over the given registry
func NewSelector(registry *Registry, caller ModelCaller, config *SelectorConfig) *Selector {
	if config == nil {
		config = DefaultSelectorConfig()
	}

	return &Selector{
		registry:  registry,
		caller:    caller,
		config:    config,
		respCache: cache.NewStore[*models.ModelResponse](config.CacheTTL, config.CacheSize),
		stopCh:    make(chan struct{}),
	}
}

// SelectAndCall picks the best-scoring available provider and invokes
// it, consulting the response cache first and falling back to other
// providers when allowed
func (s *Selector) SelectAndCall(ctx context.Context, req *models.ModelRequest) (*models.ModelResponse, error) {
	if req.Timeout == 0 {
		req.Timeout = s.config.DefaultTimeout
	}

	key := s.cacheKey(req)
	if cached, ok := s.respCache.Get(key); ok {
		copied := *cached
		copied.Cached = true
		return &copied, nil
	}

	candidates := s.registry.Available()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("selection failed: %w", ErrNoProvider)
	}

	ranked := s.rank(candidates, req)

	response, err := s.callProvider(ctx, ranked[0], req)
	if err == nil {
		s.maybeCache(key, response)
		return response, nil
	}

	if !req.AllowFallback {
		return nil, err
	}

	attempts := maxFallbackProviders
	for _, record := range ranked[1:] {
		if attempts == 0 {
			break
		}
		attempts--

		response, err = s.callProvider(ctx, record, req)
		if err == nil {
			s.maybeCache(key, response)
			return response, nil
		}
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, err)
}

// Queue submits a request for background processing and returns the
// channel its result will arrive on
func (s *Selector) Queue(req *models.ModelRequest) (<-chan QueueResult, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if len(s.queue) >= s.config.QueueSize {
		return nil, fmt.Errorf("provider queue full")
	}

	entry := &queuedRequest{
		req:    req,
		result: make(chan QueueResult, 1),
	}
	s.queue = append(s.queue, entry)
	return entry.result, nil
}

// QueueLength returns the number of pending queued requests
func (s *Selector) QueueLength() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// Start launches the background queue drain loop
func (s *Selector) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.drainOnce(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the drain loop and waits for it to exit
func (s *Selector) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// ResponseCache exposes the response cache for maintenance sweeps
func (s *Selector) ResponseCache() *cache.Store[*models.ModelResponse] {
	return s.respCache
}

// drainOnce processes one tick's worth of queued requests: urgent
// classes first (up to 5), then routine classes (up to 3)
func (s *Selector) drainOnce(ctx context.Context) {
	urgent := s.takeQueued(5, models.PriorityCritical, models.PriorityHigh)
	routine := s.takeQueued(3, models.PriorityMedium, models.PriorityLow)

	for _, entry := range append(urgent, routine...) {
		response, err := s.SelectAndCall(ctx, entry.req)
		entry.result <- QueueResult{Response: response, Err: err}
	}
}

// takeQueued removes up to n queued requests matching the given
// priorities, preserving FIFO order
func (s *Selector) takeQueued(n int, priorities ...models.Priority) []*queuedRequest {
	match := make(map[models.Priority]bool, len(priorities))
	for _, p := range priorities {
		match[p] = true
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	var taken []*queuedRequest
	var remaining []*queuedRequest
	for _, entry := range s.queue {
		if len(taken) < n && match[entry.req.Priority] {
			taken = append(taken, entry)
			continue
		}
		remaining = append(remaining, entry)
	}
	s.queue = remaining
	return taken
}

// rank orders candidates by descending score, id as the tie-break
func (s *Selector) rank(candidates []*models.ProviderRecord, req *models.ModelRequest) []*models.ProviderRecord {
	type scored struct {
		record *models.ProviderRecord
		score  float64
	}
	ranked := make([]scored, len(candidates))
	for i, record := range candidates {
		ranked[i] = scored{record: record, score: s.Score(record, req)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].record.ID < ranked[j].record.ID
	})

	ordered := make([]*models.ProviderRecord, len(ranked))
	for i, entry := range ranked {
		ordered[i] = entry.record
	}
	return ordered
}

// Score computes the weighted selection score for one provider
func (s *Selector) Score(record *models.ProviderRecord, req *models.ModelRequest) float64 {
	costScore := 1.0 - record.CostPer1K/s.config.BaselineCostPer1K
	if costScore < 0 {
		costScore = 0
	}
	if costScore > 1 {
		costScore = 1
	}

	capScore := 1.0
	if len(req.RequiredCapabilities) > 0 {
		strengths := make(map[string]bool, len(record.Strengths))
		for _, strength := range record.Strengths {
			strengths[strings.ToLower(strength)] = true
		}
		matched := 0
		for _, capability := range req.RequiredCapabilities {
			if strengths[strings.ToLower(capability)] {
				matched++
			}
		}
		capScore = float64(matched) / float64(len(req.RequiredCapabilities))
	}

	return weightCost*costScore +
		weightQuality*record.Stats.QualityScore +
		weightCapabilities*capScore +
		weightAvailability*availabilityBonus +
		weightHeadroom*s.registry.Headroom(record.ID)
}

// callProvider invokes one provider under the request timeout and
// records the observed response in the rolling history
func (s *Selector) callProvider(ctx context.Context, record *models.ProviderRecord, req *models.ModelRequest) (*models.ModelResponse, error) {
	if !s.registry.AllowRequest(record.ID) {
		return nil, fmt.Errorf("provider %s: %w", record.ID, ErrRateLimited)
	}

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	text, err := s.caller.Invoke(callCtx, record, req)
	duration := time.Since(start)

	if err != nil {
		s.registry.RecordResponse(record.ID, duration, 0)
		return nil, fmt.Errorf("provider %s call failed: %w", record.ID, err)
	}

	tokens := estimateTokens(text)
	quality := assessQuality(req, text)
	s.registry.RecordResponse(record.ID, duration, quality)

	return &models.ModelResponse{
		ProviderID:   record.ID,
		Text:         text,
		Tokens:       tokens,
		Cost:         record.CostPer1K * float64(tokens) / 1000.0,
		ResponseTime: duration,
		QualityScore: quality,
	}, nil
}

// maybeCache stores a response when its quality clears the threshold
func (s *Selector) maybeCache(key string, response *models.ModelResponse) {
	if response.QualityScore > qualityCacheThreshold {
		s.respCache.SetTTL(key, response, s.config.CacheTTL)
	}
}

// cacheKey derives the response cache key from the request shape
func (s *Selector) cacheKey(req *models.ModelRequest) string {
	prompt := req.Prompt
	if len(prompt) > 100 {
		prompt = prompt[:100]
	}

	caps := append([]string(nil), req.RequiredCapabilities...)
	sort.Strings(caps)

	return fmt.Sprintf("%s|%d|%.2f|%s", prompt, req.MaxTokens, req.Temperature, strings.Join(caps, ","))
}

// estimateTokens approximates token count from output length
func estimateTokens(text string) int {
	tokens := len(text) / 4
	if tokens == 0 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}

// assessQuality scores a response from output-length closeness to the
// requested budget and naive keyword overlap with the prompt
func assessQuality(req *models.ModelRequest, text string) float64 {
	if text == "" {
		return 0
	}

	lengthScore := 0.5
	if req.MaxTokens > 0 {
		expected := float64(req.MaxTokens * 4) // ~4 chars per token
		deviation := float64(len(text)) - expected
		if deviation < 0 {
			deviation = -deviation
		}
		lengthScore = 1.0 - deviation/expected
		if lengthScore < 0 {
			lengthScore = 0
		}
	}

	overlapScore := 0.5
	promptWords := significantWords(req.Prompt)
	if len(promptWords) > 0 {
		lowered := strings.ToLower(text)
		matched := 0
		for word := range promptWords {
			if strings.Contains(lowered, word) {
				matched++
			}
		}
		overlapScore = float64(matched) / float64(len(promptWords))
	}

	return 0.5*lengthScore + 0.5*overlapScore
}

// significantWords extracts the prompt words worth matching against
func significantWords(prompt string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,!?:;\"'")
		if len(word) > 3 {
			words[word] = true
		}
	}
	return words
}
