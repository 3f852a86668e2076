package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voyageflow/voyageflow/internal/models"
)

// ModelCaller invokes one provider endpoint with a prepared request
type ModelCaller interface {
	Invoke(ctx context.Context, record *models.ProviderRecord, req *models.ModelRequest) (string, error)
}

// CredentialSource resolves API keys for providers that need them
type CredentialSource interface {
	APIKey(ctx context.Context, providerID string) (string, error)
}

// HTTPModelCaller talks to Ollama-compatible generate endpoints
type HTTPModelCaller struct {
	httpClient *http.Client
	creds      CredentialSource
}

// NewHTTPModelCaller creates a caller with the given overall timeout.
// creds may be nil for providers without authentication.
func NewHTTPModelCaller(timeout time.Duration, creds CredentialSource) *HTTPModelCaller {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPModelCaller{
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
	}
}

// generateRequest is the provider wire format
type generateRequest struct {
	Model       string                 `json:"model"`
	Prompt      string                 `json:"prompt"`
	Stream      bool                   `json:"stream"`
	Temperature float64                `json:"temperature,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// generateResponse is the provider wire format for a completed generation
type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

// Invoke performs a synchronous generation against the provider
func (c *HTTPModelCaller) Invoke(ctx context.Context, record *models.ProviderRecord, req *models.ModelRequest) (string, error) {
	payload := generateRequest{
		Model:       record.Model,
		Prompt:      req.Prompt,
		Stream:      false,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]interface{}{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", record.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.creds != nil {
		key, err := c.creds.APIKey(ctx, record.ID)
		if err == nil && key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to reach provider %s: %w", record.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("provider %s: %w", record.ID, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("provider %s returned status %d: %s", record.ID, resp.StatusCode, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return genResp.Response, nil
}
