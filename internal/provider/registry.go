package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
	"golang.org/x/time/rate"
)

const (
	// rolling history bounds
	maxHistoryPerProvider = 1000
	statsWindow           = 100
)

// responseSample is one observed provider response
type responseSample struct {
	at       time.Time
	duration time.Duration
	quality  float64
}

// Registry owns the provider records, their rate limiters, and their
// rolling response history. The maps are never handed out; callers go
// through explicit operations.
type Registry struct {
	providers map[string]*models.ProviderRecord
	limiters  map[string]*rate.Limiter
	history   map[string][]responseSample
	mu        sync.RWMutex
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*models.ProviderRecord),
		limiters:  make(map[string]*rate.Limiter),
		history:   make(map[string][]responseSample),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(record *models.ProviderRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("cannot register provider without an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[record.ID]; exists {
		return fmt.Errorf("provider %s already registered", record.ID)
	}

	copied := *record
	if copied.Availability == "" {
		copied.Availability = models.AvailabilityAvailable
	}
	if copied.Stats.QualityScore == 0 {
		// Neutral prior until real responses arrive
		copied.Stats.QualityScore = 0.5
	}

	r.providers[record.ID] = &copied

	rpm := copied.RateLimit.RequestsPerMinute
	if rpm > 0 {
		burst := copied.RateLimit.Burst
		if burst <= 0 {
			burst = maxInt(1, rpm/6)
		}
		r.limiters[record.ID] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}

	return nil
}

// Get returns a copy of a provider record
func (r *Registry) Get(id string) (*models.ProviderRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.providers[id]
	if !ok {
		return nil, false
	}
	copied := *record
	return &copied, true
}

// Available returns copies of all providers currently marked available
func (r *Registry) Available() []*models.ProviderRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available []*models.ProviderRecord
	for _, record := range r.providers {
		if record.Availability == models.AvailabilityAvailable {
			copied := *record
			available = append(available, &copied)
		}
	}
	return available
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// SetAvailability updates a provider's serving state
func (r *Registry) SetAvailability(id string, availability models.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("provider %s not registered", id)
	}
	record.Availability = availability
	return nil
}

// AllowRequest consumes one token from the provider's rate budget.
// Providers without a configured limit always pass.
func (r *Registry) AllowRequest(id string) bool {
	r.mu.RLock()
	limiter := r.limiters[id]
	r.mu.RUnlock()

	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// Headroom returns the fraction of the provider's burst budget still
// unspent, in [0, 1]. Unlimited providers report full headroom.
func (r *Registry) Headroom(id string) float64 {
	r.mu.RLock()
	limiter := r.limiters[id]
	r.mu.RUnlock()

	if limiter == nil {
		return 1.0
	}

	headroom := limiter.Tokens() / float64(limiter.Burst())
	if headroom < 0 {
		return 0
	}
	if headroom > 1 {
		return 1
	}
	return headroom
}

// RecordResponse appends one observed response to the provider's
// bounded history and recomputes its rolling stats from the most
// recent window
func (r *Registry) RecordResponse(id string, duration time.Duration, quality float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.providers[id]
	if !ok {
		return
	}

	samples := append(r.history[id], responseSample{
		at:       time.Now(),
		duration: duration,
		quality:  quality,
	})
	if len(samples) > maxHistoryPerProvider {
		samples = samples[len(samples)-maxHistoryPerProvider:]
	}
	r.history[id] = samples

	window := samples
	if len(window) > statsWindow {
		window = window[len(window)-statsWindow:]
	}

	var totalDuration time.Duration
	var totalQuality float64
	successes := 0
	for _, sample := range window {
		totalDuration += sample.duration
		totalQuality += sample.quality
		if sample.quality > 0.5 {
			successes++
		}
	}

	record.Stats = models.PerformanceStats{
		AvgResponseTime: totalDuration / time.Duration(len(window)),
		SuccessRate:     float64(successes) / float64(len(window)),
		QualityScore:    totalQuality / float64(len(window)),
		LastUpdated:     time.Now(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
