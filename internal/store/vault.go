package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Credential is one stored provider secret
type Credential struct {
	APIKey    string    `json:"api_key"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero means no expiry
}

// MemoryVault holds provider credentials in process. It satisfies the
// provider layer's CredentialSource.
type MemoryVault struct {
	credentials map[string]*Credential
	mu          sync.RWMutex
}

// NewMemoryVault creates an empty credential vault
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		credentials: make(map[string]*Credential),
	}
}

// Store saves a credential for a provider
func (v *MemoryVault) Store(providerID string, cred *Credential) error {
	if providerID == "" || cred == nil || cred.APIKey == "" {
		return fmt.Errorf("provider id and api key are required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	copied := *cred
	v.credentials[providerID] = &copied
	return nil
}

// APIKey returns the provider's key, rejecting expired credentials
func (v *MemoryVault) APIKey(ctx context.Context, providerID string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cred, ok := v.credentials[providerID]
	if !ok {
		return "", fmt.Errorf("no credential for provider %s", providerID)
	}
	if !cred.ExpiresAt.IsZero() && time.Now().After(cred.ExpiresAt) {
		return "", fmt.Errorf("credential for provider %s expired", providerID)
	}
	return cred.APIKey, nil
}

// Delete removes a provider's credential
func (v *MemoryVault) Delete(providerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.credentials, providerID)
}
