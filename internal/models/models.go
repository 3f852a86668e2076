package models

import "time"

// Message is one turn of a user's conversation with the assistant.
// The scheduler keeps a bounded transcript of these on the UserContext.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TravelRecord is a single entry in a user's travel history
type TravelRecord struct {
	Destination string    `json:"destination"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Purpose     string    `json:"purpose"` // "leisure", "business", ...
	Rating      float64   `json:"rating"`  // 0-5, 0 means unrated
}

// UserContext holds everything the orchestrator knows about a user.
// It is owned and mutated by the scheduler; durable persistence is the
// ProfileStore collaborator's job.
type UserContext struct {
	UserID         string            `json:"user_id"`
	SessionID      string            `json:"session_id"`
	Preferences    map[string]string `json:"preferences"`
	EmotionalState string            `json:"emotional_state,omitempty"` // "neutral" when unset
	TravelHistory  []TravelRecord    `json:"travel_history"`
	Conversation   []Message         `json:"conversation,omitempty"`
	CurrentIntent  *IntentAnalysis   `json:"current_intent,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ContextPatch carries per-request updates merged into the stored UserContext
type ContextPatch struct {
	SessionID      string            `json:"session_id,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
	EmotionalState string            `json:"emotional_state,omitempty"`
	NewTrips       []TravelRecord    `json:"new_trips,omitempty"`
}

// IntentAnalysis is produced by an external intent classifier.
// The orchestration core only reads it.
type IntentAnalysis struct {
	PrimaryIntent    string   `json:"primary_intent"`
	SecondaryIntents []string `json:"secondary_intents"`
	Confidence       float64  `json:"confidence"`
	ContextFactors   []string `json:"context_factors"`
	TemporalContext  string   `json:"temporal_context,omitempty"`
}

// Priority classifies model request urgency
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ModelRequest is a single generation request routed through the provider selector
type ModelRequest struct {
	Prompt               string        `json:"prompt"`
	Context              *UserContext  `json:"context,omitempty"`
	MaxTokens            int           `json:"max_tokens"`
	Temperature          float64       `json:"temperature"`
	Priority             Priority      `json:"priority"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	AllowFallback        bool          `json:"allow_fallback"`
	Timeout              time.Duration `json:"timeout"`
}

// ModelResponse is the provider selector's answer to a ModelRequest
type ModelResponse struct {
	ProviderID   string        `json:"provider_id"`
	Text         string        `json:"text"`
	Tokens       int           `json:"tokens"`
	Cost         float64       `json:"cost"`
	ResponseTime time.Duration `json:"response_time"`
	QualityScore float64       `json:"quality_score"`
	Cached       bool          `json:"cached"`
}

// ProviderCategory groups providers by how they are hosted and billed
type ProviderCategory string

const (
	ProviderOpenSource ProviderCategory = "open-source"
	ProviderFreeTier   ProviderCategory = "free-tier"
	ProviderLocal      ProviderCategory = "local"
	ProviderCustom     ProviderCategory = "custom"
)

// Availability is a provider's current serving state
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityDegraded    Availability = "degraded"
	AvailabilityUnavailable Availability = "unavailable"
)

// RateLimitRule declares a provider's request budget
type RateLimitRule struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// PerformanceStats is a provider's rolling view of recent behavior
type PerformanceStats struct {
	AvgResponseTime time.Duration `json:"avg_response_time"`
	SuccessRate     float64       `json:"success_rate"`
	QualityScore    float64       `json:"quality_score"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// ProviderRecord describes one model endpoint in the registry
type ProviderRecord struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Category      ProviderCategory `json:"category"`
	Endpoint      string           `json:"endpoint"`
	Model         string           `json:"model"`
	CostPer1K     float64          `json:"cost_per_1k"`
	MaxTokens     int              `json:"max_tokens"`
	ContextWindow int              `json:"context_window"`
	Strengths     []string         `json:"strengths"`
	Weaknesses    []string         `json:"weaknesses"`
	RateLimit     RateLimitRule    `json:"rate_limit"`
	Availability  Availability     `json:"availability"`
	Stats         PerformanceStats `json:"stats"`
}

// RequestResult is what HandleRequest hands back to callers
type RequestResult struct {
	Success     bool                   `json:"success"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	AgentsUsed  []string               `json:"agents_used"`
	ExecutionMs int64                  `json:"execution_time_ms"`
	Cost        float64                `json:"cost"`
	Cached      bool                   `json:"cached"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	BackupPlans []string               `json:"backup_plans,omitempty"`
}
