package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/workflow"
)

// TravelAgents holds the model-backed agents and registers them under
// the names the workflow builder emits
type TravelAgents struct {
	generator TextGenerator
}

// NewTravelAgents creates the model-backed agent set
func NewTravelAgents(generator TextGenerator) *TravelAgents {
	return &TravelAgents{generator: generator}
}

// RegisterAll binds every travel agent into the registry
func (t *TravelAgents) RegisterAll(registry *Registry) {
	registry.Register("flight_search", t.FlightSearch)
	registry.Register("hotel_search", t.HotelSearch)
	registry.Register("itinerary_planner", t.ItineraryPlanner)
	registry.Register("recommendations", t.Recommendations)
	registry.Register("travel_assistant", t.TravelAssistant)
	registry.Register("emotional_adaptation", t.EmotionalAdaptation)
}

// FlightSearch finds and ranks flight options
func (t *TravelAgents) FlightSearch(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	prompt := fmt.Sprintf(`You are a flight search specialist for a travel assistant.
%s
List the 3 best flight options for this trip with airline, rough price, and duration. Be concise.`, contextBlock(userCtx))

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:            400,
		Temperature:          0.3,
		Priority:             models.PriorityHigh,
		RequiredCapabilities: []string{"reasoning"},
	}, "flight_options")
}

// HotelSearch finds and ranks accommodation options
func (t *TravelAgents) HotelSearch(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	prompt := fmt.Sprintf(`You are a hotel search specialist for a travel assistant.
%s
List the 3 best accommodation options with area, rough nightly price, and one standout feature. Be concise.`, contextBlock(userCtx))

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:            400,
		Temperature:          0.3,
		Priority:             models.PriorityHigh,
		RequiredCapabilities: []string{"reasoning"},
	}, "hotel_options")
}

// ItineraryPlanner builds a multi-day itinerary
func (t *TravelAgents) ItineraryPlanner(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	prompt := fmt.Sprintf(`You are an itinerary planner for a travel assistant.
%s
Draft a day-by-day itinerary matching the user's preferences. Keep each day to 2-3 activities.`, contextBlock(userCtx))

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:            600,
		Temperature:          0.5,
		Priority:             models.PriorityHigh,
		RequiredCapabilities: []string{"reasoning", "creative"},
	}, "itinerary")
}

// Recommendations suggests destinations and activities
func (t *TravelAgents) Recommendations(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	prompt := fmt.Sprintf(`You are a destination expert for a travel assistant.
%s
Suggest 3 destinations or activities the user would enjoy, each with a one-line reason.`, contextBlock(userCtx))

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:            300,
		Temperature:          0.7,
		Priority:             models.PriorityMedium,
		RequiredCapabilities: []string{"creative"},
	}, "recommendations")
}

// TravelAssistant handles intents with no dedicated agent
func (t *TravelAgents) TravelAssistant(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	prompt := fmt.Sprintf(`You are a helpful travel assistant.
%s
Answer the user's travel question directly and concisely.`, contextBlock(userCtx))

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:            300,
		Temperature:          0.5,
		Priority:             models.PriorityMedium,
	}, "answer")
}

// EmotionalAdaptation derives tone guidance from the user's state
func (t *TravelAgents) EmotionalAdaptation(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	state := "neutral"
	if userCtx != nil && userCtx.EmotionalState != "" {
		state = userCtx.EmotionalState
	}

	prompt := fmt.Sprintf(`A travel assistant is replying to a user who seems %s.
In 2 short sentences, describe the tone and emphasis the reply should use.`, state)

	return t.generate(ctx, node, prompt, &models.ModelRequest{
		MaxTokens:   100,
		Temperature: 0.4,
		Priority:    models.PriorityLow,
	}, "tone_guidance")
}

// generate routes one prompt through the provider selector and wraps
// the answer under the node's output name
func (t *TravelAgents) generate(ctx context.Context, node *workflow.Node, prompt string, req *models.ModelRequest, outputName string) (interface{}, error) {
	req.Prompt = prompt
	req.AllowFallback = true

	response, err := t.generator.SelectAndCall(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", node.Name, err)
	}

	return map[string]interface{}{
		outputName: response.Text,
		"provider": response.ProviderID,
		"cost":     response.Cost,
		"cached":   response.Cached,
	}, nil
}

// contextBlock renders the user context fields a prompt needs
func contextBlock(userCtx *models.UserContext) string {
	if userCtx == nil {
		return "User context: unknown."
	}

	var lines []string

	if userCtx.CurrentIntent != nil {
		lines = append(lines, fmt.Sprintf("Intent: %s", userCtx.CurrentIntent.PrimaryIntent))
		if len(userCtx.CurrentIntent.ContextFactors) > 0 {
			lines = append(lines, fmt.Sprintf("Factors: %s", strings.Join(userCtx.CurrentIntent.ContextFactors, ", ")))
		}
		if userCtx.CurrentIntent.TemporalContext != "" {
			lines = append(lines, fmt.Sprintf("Timing: %s", userCtx.CurrentIntent.TemporalContext))
		}
	}

	if len(userCtx.Preferences) > 0 {
		prefs := make([]string, 0, len(userCtx.Preferences))
		for k, v := range userCtx.Preferences {
			prefs = append(prefs, k+"="+v)
		}
		sort.Strings(prefs)
		lines = append(lines, fmt.Sprintf("Preferences: %s", strings.Join(prefs, ", ")))
	}

	if n := len(userCtx.TravelHistory); n > 0 {
		recent := userCtx.TravelHistory
		if n > 3 {
			recent = recent[n-3:]
		}
		var places []string
		for _, trip := range recent {
			places = append(places, trip.Destination)
		}
		lines = append(lines, fmt.Sprintf("Recent trips: %s", strings.Join(places, ", ")))
	}

	if len(lines) == 0 {
		return "User context: first interaction, no stored preferences."
	}
	return strings.Join(lines, "\n")
}
