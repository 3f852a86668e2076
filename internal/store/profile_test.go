package store

import (
	"context"
	"testing"

	"github.com/voyageflow/voyageflow/internal/models"
)

func TestMemoryProfileStoreUnknownUser(t *testing.T) {
	profiles := NewMemoryProfileStore()

	profile, err := profiles.Get(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if profile.UserID != "new-user" {
		t.Errorf("expected fresh profile for the user, got %q", profile.UserID)
	}
	if profile.EmotionalState != "neutral" {
		t.Errorf("fresh profiles start neutral, got %q", profile.EmotionalState)
	}

	if _, err := profiles.Get(context.Background(), ""); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestMemoryProfileStoreSaveAndPatch(t *testing.T) {
	profiles := NewMemoryProfileStore()
	ctx := context.Background()

	profile := &models.UserContext{
		UserID:      "u1",
		Preferences: map[string]string{"pace": "slow"},
	}
	if err := profiles.Save(ctx, profile); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := profiles.ApplyPatch(ctx, "u1", &models.ContextPatch{
		EmotionalState: "excited",
		Preferences:    map[string]string{"budget": "low"},
		NewTrips:       []models.TravelRecord{{Destination: "Porto"}},
	})
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	if updated.EmotionalState != "excited" {
		t.Errorf("patch state not applied, got %q", updated.EmotionalState)
	}
	if updated.Preferences["pace"] != "slow" || updated.Preferences["budget"] != "low" {
		t.Errorf("patch must merge preferences, got %v", updated.Preferences)
	}
	if len(updated.TravelHistory) != 1 || updated.TravelHistory[0].Destination != "Porto" {
		t.Errorf("patch trips not appended, got %v", updated.TravelHistory)
	}

	// Patch is persisted
	loaded, _ := profiles.Get(ctx, "u1")
	if loaded.EmotionalState != "excited" {
		t.Error("patched profile was not saved")
	}
}

func TestMemoryProfileStoreNilPatch(t *testing.T) {
	profiles := NewMemoryProfileStore()

	profile, err := profiles.ApplyPatch(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("nil patch failed: %v", err)
	}
	if profile.UserID != "u1" {
		t.Errorf("expected a profile back, got %+v", profile)
	}
}

func TestTravelHistoryBounded(t *testing.T) {
	profiles := NewMemoryProfileStore()
	ctx := context.Background()

	trips := make([]models.TravelRecord, maxTravelHistory+10)
	for i := range trips {
		trips[i] = models.TravelRecord{Destination: "somewhere"}
	}

	updated, err := profiles.ApplyPatch(ctx, "u1", &models.ContextPatch{NewTrips: trips})
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if len(updated.TravelHistory) != maxTravelHistory {
		t.Errorf("history must be capped at %d, got %d", maxTravelHistory, len(updated.TravelHistory))
	}
}

func TestBadgerProfileStoreRoundTrip(t *testing.T) {
	profiles, err := NewBadgerProfileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer profiles.Close()

	ctx := context.Background()
	if err := profiles.Save(ctx, &models.UserContext{
		UserID:      "u1",
		Preferences: map[string]string{"pace": "slow"},
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := profiles.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Preferences["pace"] != "slow" {
		t.Errorf("round trip lost preferences: %v", loaded.Preferences)
	}

	fresh, err := profiles.Get(ctx, "never-seen")
	if err != nil {
		t.Fatalf("get for unknown user failed: %v", err)
	}
	if fresh.UserID != "never-seen" {
		t.Error("unknown users get a fresh profile")
	}
}
