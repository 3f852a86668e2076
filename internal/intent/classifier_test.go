package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/voyageflow/voyageflow/internal/models"
)

func TestRuleClassifierPrimaryIntents(t *testing.T) {
	classifier := NewRuleClassifier()

	tests := []struct {
		message  string
		expected string
	}{
		{"I need a flight from Berlin to Rome", IntentBookFlight},
		{"find me a hotel near the old town", IntentBookHotel},
		{"help me plan a two week vacation in Japan", IntentPlanTrip},
		{"can you recommend somewhere warm in winter", IntentRecommend},
		{"what documents do I need at the border", IntentGeneralInquiry},
	}

	for _, tt := range tests {
		analysis, err := classifier.Classify(context.Background(), tt.message, nil)
		if err != nil {
			t.Fatalf("classify %q failed: %v", tt.message, err)
		}
		if analysis.PrimaryIntent != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.message, tt.expected, analysis.PrimaryIntent)
		}
	}
}

func TestRuleClassifierSecondaryIntents(t *testing.T) {
	classifier := NewRuleClassifier()

	analysis, err := classifier.Classify(context.Background(),
		"plan a vacation to Bali and book a flight and a hotel room", nil)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if len(analysis.SecondaryIntents) == 0 {
		t.Error("expected secondary intents for a multi-intent message")
	}
	for _, secondary := range analysis.SecondaryIntents {
		if secondary == analysis.PrimaryIntent {
			t.Errorf("secondary intents must exclude the primary, got %v", analysis.SecondaryIntents)
		}
	}
}

func TestRuleClassifierContextFactors(t *testing.T) {
	classifier := NewRuleClassifier()

	analysis, err := classifier.Classify(context.Background(),
		"plan a cheap eco friendly trip with the kids next month", nil)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	want := map[string]bool{"budget": true, "environmental": true, "family": true}
	for _, factor := range analysis.ContextFactors {
		delete(want, factor)
	}
	if len(want) > 0 {
		t.Errorf("missing context factors %v in %v", want, analysis.ContextFactors)
	}
	if analysis.TemporalContext != "near_term" {
		t.Errorf("expected near_term, got %q", analysis.TemporalContext)
	}
}

func TestRuleClassifierStickyIntent(t *testing.T) {
	classifier := NewRuleClassifier()

	userCtx := &models.UserContext{
		UserID:        "u1",
		CurrentIntent: &models.IntentAnalysis{PrimaryIntent: IntentBookHotel},
	}
	analysis, err := classifier.Classify(context.Background(), "what about something closer to the beach?", userCtx)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if analysis.PrimaryIntent != IntentBookHotel {
		t.Errorf("vague follow-up should inherit the session intent, got %s", analysis.PrimaryIntent)
	}
}

func TestRuleClassifierEmptyMessage(t *testing.T) {
	classifier := NewRuleClassifier()
	if _, err := classifier.Classify(context.Background(), "   ", nil); err == nil {
		t.Error("expected error for an empty message")
	}
}

// scriptedGenerator returns a canned model response
type scriptedGenerator struct {
	text string
	err  error
}

func (g *scriptedGenerator) SelectAndCall(ctx context.Context, req *models.ModelRequest) (*models.ModelResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &models.ModelResponse{Text: g.text}, nil
}

func TestModelClassifierParsesResponse(t *testing.T) {
	generator := &scriptedGenerator{
		text: "```json\n{\"primary_intent\": \"book_flight\", \"secondary_intents\": [\"hotels\"], \"confidence\": 0.85}\n```",
	}
	classifier := NewModelClassifier(generator)

	analysis, err := classifier.Classify(context.Background(), "flights to tokyo", nil)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if analysis.PrimaryIntent != IntentBookFlight {
		t.Errorf("expected book_flight, got %s", analysis.PrimaryIntent)
	}
	if len(analysis.SecondaryIntents) != 1 || analysis.SecondaryIntents[0] != IntentBookHotel {
		t.Errorf("expected normalized secondary intents, got %v", analysis.SecondaryIntents)
	}
	if analysis.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %.2f", analysis.Confidence)
	}
}

func TestModelClassifierFallsBackToRules(t *testing.T) {
	tests := []struct {
		name      string
		generator *scriptedGenerator
	}{
		{"provider error", &scriptedGenerator{err: errors.New("all providers failed")}},
		{"garbage output", &scriptedGenerator{text: "sure! happy to help with travel plans"}},
	}

	for _, tt := range tests {
		classifier := NewModelClassifier(tt.generator)
		analysis, err := classifier.Classify(context.Background(), "book me a flight to oslo", nil)
		if err != nil {
			t.Fatalf("%s: fallback classify failed: %v", tt.name, err)
		}
		if analysis.PrimaryIntent != IntentBookFlight {
			t.Errorf("%s: expected rule fallback to find book_flight, got %s", tt.name, analysis.PrimaryIntent)
		}
	}
}

func TestNormalizeIntent(t *testing.T) {
	tests := map[string]string{
		"book_flight":     IntentBookFlight,
		" Flights ":       IntentBookFlight,
		"HOTELS":          IntentBookHotel,
		"itinerary":       IntentPlanTrip,
		"suggestions":     IntentRecommend,
		"something weird": IntentGeneralInquiry,
	}
	for raw, expected := range tests {
		if got := normalizeIntent(raw); got != expected {
			t.Errorf("normalizeIntent(%q) = %s, expected %s", raw, got, expected)
		}
	}
}
