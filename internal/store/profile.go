package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/voyageflow/voyageflow/internal/models"
)

const maxTravelHistory = 50

// ProfileStore persists user contexts across sessions
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.UserContext, error)
	Save(ctx context.Context, profile *models.UserContext) error
	ApplyPatch(ctx context.Context, userID string, patch *models.ContextPatch) (*models.UserContext, error)
	Close() error
}

// BadgerProfileStore implements ProfileStore on BadgerDB
type BadgerProfileStore struct {
	db *badger.DB
}

// NewBadgerProfileStore opens the profile database at the given path
func NewBadgerProfileStore(path string) (*BadgerProfileStore, error) {
	path = expandPath(path)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerProfileStore{db: db}, nil
}

// Get loads a user profile, creating a fresh one for unknown users
func (s *BadgerProfileStore) Get(ctx context.Context, userID string) (*models.UserContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var profile models.UserContext
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})

	if err == badger.ErrKeyNotFound {
		return newProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}

	return &profile, nil
}

// Save persists a user profile
func (s *BadgerProfileStore) Save(ctx context.Context, profile *models.UserContext) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("cannot save profile without a user id")
	}

	profile.UpdatedAt = time.Now()
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(profile.UserID), data)
	})
}

// ApplyPatch merges a context patch into the stored profile and saves
// the result. Patch fields overwrite; absent fields leave the profile
// untouched.
func (s *BadgerProfileStore) ApplyPatch(ctx context.Context, userID string, patch *models.ContextPatch) (*models.UserContext, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	mergePatch(profile, patch)

	if err := s.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Close releases the underlying database
func (s *BadgerProfileStore) Close() error {
	return s.db.Close()
}

// MemoryProfileStore is an in-process ProfileStore for tests and
// single-shot runs without a data directory
type MemoryProfileStore struct {
	profiles map[string]*models.UserContext
	mu       sync.RWMutex
}

// NewMemoryProfileStore creates an empty in-memory profile store
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*models.UserContext),
	}
}

func (s *MemoryProfileStore) Get(ctx context.Context, userID string) (*models.UserContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return newProfile(userID), nil
	}

	copied := *profile
	return &copied, nil
}

func (s *MemoryProfileStore) Save(ctx context.Context, profile *models.UserContext) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("cannot save profile without a user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *profile
	copied.UpdatedAt = time.Now()
	s.profiles[profile.UserID] = &copied
	return nil
}

func (s *MemoryProfileStore) ApplyPatch(ctx context.Context, userID string, patch *models.ContextPatch) (*models.UserContext, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	mergePatch(profile, patch)

	if err := s.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *MemoryProfileStore) Close() error {
	return nil
}

// mergePatch overlays patch fields onto the profile
func mergePatch(profile *models.UserContext, patch *models.ContextPatch) {
	if patch == nil {
		return
	}

	if patch.SessionID != "" {
		profile.SessionID = patch.SessionID
	}
	if patch.EmotionalState != "" {
		profile.EmotionalState = patch.EmotionalState
	}
	for key, value := range patch.Preferences {
		if profile.Preferences == nil {
			profile.Preferences = make(map[string]string)
		}
		profile.Preferences[key] = value
	}
	profile.TravelHistory = append(profile.TravelHistory, patch.NewTrips...)
	if len(profile.TravelHistory) > maxTravelHistory {
		profile.TravelHistory = profile.TravelHistory[len(profile.TravelHistory)-maxTravelHistory:]
	}
}

func newProfile(userID string) *models.UserContext {
	return &models.UserContext{
		UserID:         userID,
		Preferences:    make(map[string]string),
		EmotionalState: "neutral",
		UpdatedAt:      time.Now(),
	}
}

func profileKey(userID string) []byte {
	return []byte(fmt.Sprintf("profile:user:%s", userID))
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
