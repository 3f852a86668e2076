package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/store"
	"github.com/voyageflow/voyageflow/internal/workflow"
)

// Emission factors in kg CO2 per trip leg, deliberately coarse
const (
	shortHaulFlightKg = 250.0
	longHaulFlightKg  = 1100.0
	hotelNightKg      = 20.0
)

// Services holds the local (non-model) workflow steps
type Services struct {
	graph store.TravelGraph
}

// NewServices creates the service step set. graph may be nil; the
// history step then works from the stored profile alone.
func NewServices(graph store.TravelGraph) *Services {
	return &Services{graph: graph}
}

// RegisterAll binds every service step into the registry
func (s *Services) RegisterAll(registry *Registry) {
	registry.Register("intent_analysis", s.IntentAnalysis)
	registry.Register("history_analysis", s.HistoryAnalysis)
	registry.Register("carbon_footprint", s.CarbonFootprint)
	registry.Register("response_composer", s.ResponseComposer)
}

// IntentAnalysis unpacks the analyzed intent for downstream nodes
func (s *Services) IntentAnalysis(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	if userCtx == nil {
		return nil, fmt.Errorf("user context is required")
	}

	result := map[string]interface{}{
		"preferences": userCtx.Preferences,
		"history":     userCtx.TravelHistory,
	}
	if userCtx.CurrentIntent != nil {
		result["intent"] = userCtx.CurrentIntent.PrimaryIntent
		result["confidence"] = userCtx.CurrentIntent.Confidence
	}
	return result, nil
}

// HistoryAnalysis derives a travel profile from past trips, enriched
// with related destinations when the knowledge graph is reachable
func (s *Services) HistoryAnalysis(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	if userCtx == nil || len(userCtx.TravelHistory) == 0 {
		return map[string]interface{}{"travel_profile": "no travel history"}, nil
	}

	purposeCounts := make(map[string]int)
	var rated int
	var ratingSum float64
	var destinations []string
	for _, trip := range userCtx.TravelHistory {
		if trip.Purpose != "" {
			purposeCounts[trip.Purpose]++
		}
		if trip.Rating > 0 {
			rated++
			ratingSum += trip.Rating
		}
		destinations = append(destinations, trip.Destination)
	}

	dominant := ""
	best := 0
	for purpose, count := range purposeCounts {
		if count > best || (count == best && purpose < dominant) {
			dominant = purpose
			best = count
		}
	}

	profile := map[string]interface{}{
		"trips":        len(userCtx.TravelHistory),
		"destinations": destinations,
	}
	if dominant != "" {
		profile["dominant_purpose"] = dominant
	}
	if rated > 0 {
		profile["avg_rating"] = ratingSum / float64(rated)
	}

	if s.graph != nil {
		last := userCtx.TravelHistory[len(userCtx.TravelHistory)-1]
		related, err := s.graph.RelatedDestinations(ctx, last.Destination, 3)
		if err == nil && len(related) > 0 {
			var names []string
			for _, dest := range related {
				names = append(names, dest.Name)
			}
			profile["related_destinations"] = names
		}
	}

	return map[string]interface{}{"travel_profile": profile}, nil
}

// CarbonFootprint estimates trip emissions from the intent shape.
// Coarse on purpose; the point is surfacing the order of magnitude.
func (s *Services) CarbonFootprint(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	flightKg := shortHaulFlightKg
	nights := 3

	if userCtx != nil && userCtx.CurrentIntent != nil {
		if userCtx.CurrentIntent.TemporalContext == "future" {
			// Far-out planning skews toward longer trips
			flightKg = longHaulFlightKg
			nights = 7
		}
		for _, factor := range userCtx.CurrentIntent.ContextFactors {
			if factor == "adventure" {
				flightKg = longHaulFlightKg
			}
		}
	}

	total := flightKg + float64(nights)*hotelNightKg

	return map[string]interface{}{
		"carbon_estimate": map[string]interface{}{
			"flight_kg_co2": flightKg,
			"hotel_kg_co2":  float64(nights) * hotelNightKg,
			"total_kg_co2":  total,
			"note":          "rough estimate for one traveler",
		},
	}, nil
}

// ResponseComposer marks the workflow's exit step. The scheduler
// assembles the final output from the execution's node results; this
// step only contributes the closing frame.
func (s *Services) ResponseComposer(ctx context.Context, node *workflow.Node, userCtx *models.UserContext) (interface{}, error) {
	frame := "Here is what I put together for your trip."
	if userCtx != nil && userCtx.CurrentIntent != nil {
		switch userCtx.CurrentIntent.PrimaryIntent {
		case "book_flight":
			frame = "Here are the flight options I found."
		case "book_hotel":
			frame = "Here are the places to stay I found."
		case "plan_trip":
			frame = "Here is the itinerary I drafted."
		case "get_recommendations":
			frame = "Here are some ideas you might like."
		}
	}
	return map[string]interface{}{"response": frame}, nil
}

// Describe renders a node result for logs and the REPL
func Describe(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		var parts []string
		for key := range v {
			parts = append(parts, key)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
