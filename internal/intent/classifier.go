package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

// Classifier turns a raw user message into an intent analysis
type Classifier interface {
	Classify(ctx context.Context, message string, userCtx *models.UserContext) (*models.IntentAnalysis, error)
}

// Known travel intents. Unmatched messages fall back to general_inquiry.
const (
	IntentBookFlight     = "book_flight"
	IntentBookHotel      = "book_hotel"
	IntentPlanTrip       = "plan_trip"
	IntentRecommend      = "get_recommendations"
	IntentGeneralInquiry = "general_inquiry"
)

// intentKeywords maps each intent to the phrases that signal it.
// Multi-word phrases are matched as substrings of the lowered message.
var intentKeywords = map[string][]string{
	IntentBookFlight: {"flight", "fly", "plane", "airline", "airport", "departure", "one-way", "round trip"},
	IntentBookHotel:  {"hotel", "accommodation", "room", "stay", "hostel", "resort", "check-in", "lodging"},
	IntentPlanTrip:   {"plan", "trip", "itinerary", "vacation", "holiday", "travel to", "visit", "getaway"},
	IntentRecommend:  {"recommend", "suggestion", "suggest", "best place", "where should", "what should", "ideas"},
}

// temporalKeywords signal when the user wants to travel
var temporalKeywords = map[string][]string{
	"immediate": {"today", "tonight", "tomorrow", "asap", "right now", "this week"},
	"near_term": {"next week", "next month", "this month", "soon", "upcoming"},
	"future":    {"next year", "someday", "eventually", "planning ahead", "in a few months"},
}

// contextKeywords surface factors that shape workflow synthesis
var contextKeywords = map[string][]string{
	"budget":        {"cheap", "budget", "affordable", "expensive", "luxury", "cost"},
	"family":        {"family", "kids", "children", "child-friendly"},
	"business":      {"business", "work trip", "conference", "meeting"},
	"environmental": {"eco", "sustainable", "carbon", "green travel", "environment"},
	"romantic":      {"honeymoon", "anniversary", "romantic", "couple"},
	"adventure":     {"adventure", "hiking", "trekking", "diving", "safari"},
}

// RuleClassifier scores intents by keyword hits. It is deterministic
// and needs no model call, so it doubles as the fallback when a
// model-backed classifier cannot parse its response.
type RuleClassifier struct{}

// NewRuleClassifier creates a keyword-based classifier
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify scores every known intent against the message and returns
// the best match with any runners-up as secondary intents
func (c *RuleClassifier) Classify(ctx context.Context, message string, userCtx *models.UserContext) (*models.IntentAnalysis, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("cannot classify an empty message")
	}

	lowered := strings.ToLower(message)

	scores := make(map[string]int)
	for intent, keywords := range intentKeywords {
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				scores[intent]++
			}
		}
	}

	primary := IntentGeneralInquiry
	best := 0
	for _, intent := range orderedIntents() {
		if scores[intent] > best {
			primary = intent
			best = scores[intent]
		}
	}

	var secondary []string
	for _, intent := range orderedIntents() {
		if intent != primary && scores[intent] > 0 {
			secondary = append(secondary, intent)
		}
	}

	// Sticky intent: a vague follow-up inherits the session's current
	// intent instead of degrading to a general inquiry
	if primary == IntentGeneralInquiry && userCtx != nil && userCtx.CurrentIntent != nil && userCtx.CurrentIntent.PrimaryIntent != "" {
		primary = userCtx.CurrentIntent.PrimaryIntent
	}

	return &models.IntentAnalysis{
		PrimaryIntent:    primary,
		SecondaryIntents: secondary,
		Confidence:       confidenceFor(best, len(lowered)),
		ContextFactors:   matchFactors(lowered, contextKeywords),
		TemporalContext:  firstMatch(lowered, temporalKeywords),
	}, nil
}

// ModelClassifier asks a language model to classify and falls back to
// the rule classifier when the model response cannot be used
type ModelClassifier struct {
	generator TextGenerator
	fallback  *RuleClassifier
	timeout   time.Duration
}

// TextGenerator is the slice of the provider layer the classifier needs
type TextGenerator interface {
	SelectAndCall(ctx context.Context, req *models.ModelRequest) (*models.ModelResponse, error)
}

// NewModelClassifier creates a model-backed classifier with rule fallback
func NewModelClassifier(generator TextGenerator) *ModelClassifier {
	return &ModelClassifier{
		generator: generator,
		fallback:  NewRuleClassifier(),
		timeout:   10 * time.Second,
	}
}

// classificationResponse is the JSON shape the model is asked for
type classificationResponse struct {
	PrimaryIntent    string   `json:"primary_intent"`
	SecondaryIntents []string `json:"secondary_intents,omitempty"`
	Confidence       float64  `json:"confidence"`
	TemporalContext  string   `json:"temporal_context,omitempty"`
}

// Classify routes through the model and normalizes its answer
func (c *ModelClassifier) Classify(ctx context.Context, message string, userCtx *models.UserContext) (*models.IntentAnalysis, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("cannot classify an empty message")
	}

	response, err := c.generator.SelectAndCall(ctx, &models.ModelRequest{
		Prompt:        c.buildPrompt(message),
		MaxTokens:     150,
		Temperature:   0.1,
		Priority:      models.PriorityHigh,
		AllowFallback: true,
		Timeout:       c.timeout,
	})
	if err != nil {
		return c.fallback.Classify(ctx, message, userCtx)
	}

	var parsed classificationResponse
	if err := parseJSONResponse(response.Text, &parsed); err != nil {
		return c.fallback.Classify(ctx, message, userCtx)
	}

	analysis := &models.IntentAnalysis{
		PrimaryIntent:    normalizeIntent(parsed.PrimaryIntent),
		SecondaryIntents: normalizeIntents(parsed.SecondaryIntents),
		Confidence:       clamp01(parsed.Confidence),
		ContextFactors:   matchFactors(strings.ToLower(message), contextKeywords),
		TemporalContext:  parsed.TemporalContext,
	}
	return analysis, nil
}

// buildPrompt creates the classification prompt
func (c *ModelClassifier) buildPrompt(message string) string {
	return fmt.Sprintf(`You are an intent classifier for a travel planning assistant.

Known intents:
- book_flight: searching or booking flights
- book_hotel: searching or booking accommodation
- plan_trip: building a full itinerary for a trip
- get_recommendations: asking for destination or activity suggestions
- general_inquiry: anything else

User Message: %s

Respond with ONLY a JSON object:
{
  "primary_intent": "book_flight|book_hotel|plan_trip|get_recommendations|general_inquiry",
  "secondary_intents": [],
  "confidence": 0.0-1.0,
  "temporal_context": "immediate|near_term|future|"
}

JSON Response:`, message)
}

// parseJSONResponse extracts a JSON object from model output that may
// be wrapped in markdown fences or surrounding prose
func parseJSONResponse(response string, out interface{}) error {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in response")
	}

	return json.Unmarshal([]byte(response[start:end+1]), out)
}

// normalizeIntent maps free-form model output onto a known intent
func normalizeIntent(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, "\"'`")

	switch cleaned {
	case IntentBookFlight, IntentBookHotel, IntentPlanTrip, IntentRecommend, IntentGeneralInquiry:
		return cleaned
	case "flight", "flights", "book flights":
		return IntentBookFlight
	case "hotel", "hotels", "accommodation":
		return IntentBookHotel
	case "trip", "itinerary", "plan":
		return IntentPlanTrip
	case "recommend", "recommendations", "suggestions":
		return IntentRecommend
	default:
		return IntentGeneralInquiry
	}
}

func normalizeIntents(raw []string) []string {
	var normalized []string
	seen := make(map[string]bool)
	for _, intent := range raw {
		n := normalizeIntent(intent)
		if n == IntentGeneralInquiry || seen[n] {
			continue
		}
		seen[n] = true
		normalized = append(normalized, n)
	}
	return normalized
}

// orderedIntents fixes the scan order so ties resolve deterministically
func orderedIntents() []string {
	return []string{IntentBookFlight, IntentBookHotel, IntentPlanTrip, IntentRecommend}
}

// confidenceFor derives a confidence from keyword hits. More hits in a
// shorter message means a stronger signal.
func confidenceFor(hits, messageLen int) float64 {
	if hits == 0 {
		return 0.3
	}
	confidence := 0.5 + 0.15*float64(hits)
	if messageLen < 40 {
		confidence += 0.1
	}
	return clamp01(confidence)
}

func matchFactors(lowered string, table map[string][]string) []string {
	var factors []string
	for _, factor := range []string{"budget", "family", "business", "environmental", "romantic", "adventure"} {
		for _, keyword := range table[factor] {
			if strings.Contains(lowered, keyword) {
				factors = append(factors, factor)
				break
			}
		}
	}
	return factors
}

func firstMatch(lowered string, table map[string][]string) string {
	for _, bucket := range []string{"immediate", "near_term", "future"} {
		for _, keyword := range table[bucket] {
			if strings.Contains(lowered, keyword) {
				return bucket
			}
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
