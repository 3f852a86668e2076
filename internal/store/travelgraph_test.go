package store

import (
	"context"
	"testing"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

func seedGraph(t *testing.T) *MemoryTravelGraph {
	t.Helper()

	graph := NewMemoryTravelGraph()
	destinations := []*Destination{
		{Name: "Lisbon", Country: "Portugal", Tags: []string{"coast", "food", "city"}},
		{Name: "Porto", Country: "Portugal", Tags: []string{"coast", "food"}},
		{Name: "Madrid", Country: "Spain", Tags: []string{"city", "food"}},
		{Name: "Zermatt", Country: "Switzerland", Tags: []string{"mountains", "ski"}},
	}
	for _, dest := range destinations {
		if err := graph.StoreDestination(context.Background(), dest); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	return graph
}

func TestMemoryGraphRelatedDestinations(t *testing.T) {
	graph := seedGraph(t)

	related, err := graph.RelatedDestinations(context.Background(), "Lisbon", 5)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	names := make(map[string]bool)
	for _, dest := range related {
		names[dest.Name] = true
	}
	if !names["Porto"] || !names["Madrid"] {
		t.Errorf("expected tag-sharing destinations, got %v", names)
	}
	if names["Zermatt"] {
		t.Error("destinations with no shared tags must not be related")
	}
	if names["Lisbon"] {
		t.Error("a destination is never related to itself")
	}

	// Porto shares two tags with Lisbon, Madrid one; Porto ranks first
	if len(related) > 0 && related[0].Name != "Porto" {
		t.Errorf("expected Porto first by shared tags, got %s", related[0].Name)
	}
}

func TestMemoryGraphRelatedLimit(t *testing.T) {
	graph := seedGraph(t)

	related, err := graph.RelatedDestinations(context.Background(), "Lisbon", 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(related) != 1 {
		t.Errorf("expected the limit respected, got %d", len(related))
	}

	if _, err := graph.RelatedDestinations(context.Background(), "Atlantis", 3); err == nil {
		t.Error("expected error for unknown destination")
	}
}

func TestMemoryGraphVisits(t *testing.T) {
	graph := seedGraph(t)
	ctx := context.Background()

	visits := []*models.TravelRecord{
		{Destination: "Lisbon", StartDate: time.Now(), Purpose: "leisure", Rating: 4.5},
		{Destination: "Lisbon", StartDate: time.Now(), Purpose: "business"},
		{Destination: "Oslo", StartDate: time.Now(), Purpose: "leisure"},
	}
	for _, visit := range visits {
		if err := graph.RecordVisit(ctx, "u1", visit); err != nil {
			t.Fatalf("record visit failed: %v", err)
		}
	}

	visited, err := graph.VisitedDestinations(ctx, "u1")
	if err != nil {
		t.Fatalf("visited query failed: %v", err)
	}
	if len(visited) != 2 {
		t.Errorf("expected 2 distinct destinations, got %v", visited)
	}

	// Recording a visit to an unseen destination creates it
	if _, err := graph.RelatedDestinations(ctx, "Oslo", 3); err != nil {
		t.Errorf("visited destination should exist in the graph: %v", err)
	}

	if err := graph.RecordVisit(ctx, "", &models.TravelRecord{Destination: "x"}); err == nil {
		t.Error("expected error for missing user id")
	}
}

func TestVaultRoundTrip(t *testing.T) {
	vault := NewMemoryVault()
	ctx := context.Background()

	if err := vault.Store("p1", &Credential{APIKey: "secret"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	key, err := vault.APIKey(ctx, "p1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if key != "secret" {
		t.Errorf("expected stored key, got %q", key)
	}

	if _, err := vault.APIKey(ctx, "unknown"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if err := vault.Store("", &Credential{APIKey: "x"}); err == nil {
		t.Error("expected error for missing provider id")
	}
}

func TestVaultExpiry(t *testing.T) {
	vault := NewMemoryVault()

	vault.Store("p1", &Credential{
		APIKey:    "secret",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	if _, err := vault.APIKey(context.Background(), "p1"); err == nil {
		t.Error("expired credentials must be rejected")
	}
}
