package provider

import (
	"testing"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

func testRecord(id string, costPer1K float64) *models.ProviderRecord {
	return &models.ProviderRecord{
		ID:        id,
		Name:      id,
		Category:  models.ProviderLocal,
		Endpoint:  "http://localhost:11434",
		Model:     "test-model",
		CostPer1K: costPer1K,
		Strengths: []string{"reasoning"},
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(testRecord("p1", 0.01)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(testRecord("p1", 0.01)); err == nil {
		t.Error("duplicate registration must fail")
	}
	if err := registry.Register(&models.ProviderRecord{}); err == nil {
		t.Error("registration without an id must fail")
	}

	record, ok := registry.Get("p1")
	if !ok {
		t.Fatal("expected registered provider")
	}
	if record.Availability != models.AvailabilityAvailable {
		t.Errorf("expected default availability, got %s", record.Availability)
	}
	if record.Stats.QualityScore != 0.5 {
		t.Errorf("expected neutral quality prior, got %.2f", record.Stats.QualityScore)
	}
}

func TestRegistryAvailableFiltersByState(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testRecord("up", 0.01))
	registry.Register(testRecord("down", 0.01))
	registry.SetAvailability("down", models.AvailabilityUnavailable)

	available := registry.Available()
	if len(available) != 1 || available[0].ID != "up" {
		t.Errorf("expected only the available provider, got %v", available)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testRecord("p1", 0.01))

	record, _ := registry.Get("p1")
	record.CostPer1K = 99

	again, _ := registry.Get("p1")
	if again.CostPer1K == 99 {
		t.Error("mutating a returned record must not affect the registry")
	}
}

func TestRecordResponseRollingStats(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testRecord("p1", 0.01))

	registry.RecordResponse("p1", 100*time.Millisecond, 0.9)
	registry.RecordResponse("p1", 300*time.Millisecond, 0.3)

	record, _ := registry.Get("p1")
	if record.Stats.AvgResponseTime != 200*time.Millisecond {
		t.Errorf("expected avg 200ms, got %s", record.Stats.AvgResponseTime)
	}
	if record.Stats.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %.2f", record.Stats.SuccessRate)
	}
	if record.Stats.QualityScore != 0.6 {
		t.Errorf("expected quality 0.6, got %.2f", record.Stats.QualityScore)
	}
	if record.Stats.LastUpdated.IsZero() {
		t.Error("expected stats timestamp")
	}
}

func TestRecordResponseWindowsRecentSamples(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testRecord("p1", 0.01))

	// 100 bad samples followed by 100 good ones; the stats window only
	// sees the most recent 100
	for i := 0; i < 100; i++ {
		registry.RecordResponse("p1", time.Millisecond, 0.1)
	}
	for i := 0; i < 100; i++ {
		registry.RecordResponse("p1", time.Millisecond, 0.9)
	}

	record, _ := registry.Get("p1")
	if record.Stats.SuccessRate != 1.0 {
		t.Errorf("old samples must age out of the window, success rate %.2f", record.Stats.SuccessRate)
	}
}

func TestRateLimiting(t *testing.T) {
	registry := NewRegistry()

	limited := testRecord("limited", 0.01)
	limited.RateLimit = models.RateLimitRule{RequestsPerMinute: 60, Burst: 2}
	registry.Register(limited)
	registry.Register(testRecord("unlimited", 0.01))

	if !registry.AllowRequest("unlimited") {
		t.Error("provider without a limit must always pass")
	}
	if registry.Headroom("unlimited") != 1.0 {
		t.Error("unlimited provider must report full headroom")
	}

	// Burst of 2, then the bucket is dry
	if !registry.AllowRequest("limited") || !registry.AllowRequest("limited") {
		t.Fatal("expected the burst budget to admit 2 requests")
	}
	if registry.AllowRequest("limited") {
		t.Error("expected the third request to be rejected")
	}
	if registry.Headroom("limited") > 0.5 {
		t.Errorf("drained bucket should report low headroom, got %.2f", registry.Headroom("limited"))
	}
}
