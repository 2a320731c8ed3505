// Package registration validates subscriber registration codes against the
// account service.
//
// The HTTP validator caches results per code: subscribers frequently resend
// the same code, and a cached answer keeps those retries off the network.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// CodeValidationPayload is the account service's verdict on one code.
type CodeValidationPayload struct {
	Valid       bool           `json:"valid"`
	IsDemo      bool           `json:"is_demo,omitempty"`
	AccountInfo map[string]any `json:"account_info,omitempty"`
}

// Validator checks a registration code and reports whether it identifies a
// real or demo account.
type Validator interface {
	ValidateCode(ctx context.Context, code string) (CodeValidationPayload, error)
}

// Opts holds configuration options for the HTTP validator.
type Opts struct {
	URL    string
	APIKey string
	Stage  string
	Client *http.Client
}

// Option defines a configuration option for the HTTP validator.
type Option func(*Opts)

// WithURL sets the account service validation endpoint.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithAPIKey sets the bearer token for the account service.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithStage sets the deployment stage reported to the account service.
func WithStage(stage string) Option {
	return func(o *Opts) { o.Stage = stage }
}

// WithHTTPClient overrides the HTTP client (for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// HTTPValidator validates codes by POSTing to the account service and caches
// each code's verdict in memory.
type HTTPValidator struct {
	url    string
	apiKey string
	stage  string
	client *http.Client

	mu    sync.RWMutex
	cache map[string]CodeValidationPayload
}

// NewHTTPValidator creates a validator from options, with environment
// fallbacks for the endpoint, key, and stage.
func NewHTTPValidator(opts ...Option) (*HTTPValidator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		cfg.URL = os.Getenv("REGISTRATION_VALIDATION_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("REGISTRATION_VALIDATION_KEY")
	}
	if cfg.Stage == "" {
		cfg.Stage = os.Getenv("STAGE")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("registration validation URL not set")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPValidator{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		stage:  cfg.Stage,
		client: cfg.Client,
		cache:  make(map[string]CodeValidationPayload),
	}, nil
}

// ValidateCode checks a code against the account service. Results are cached
// per code; repeated submissions never hit the network twice.
func (v *HTTPValidator) ValidateCode(ctx context.Context, code string) (CodeValidationPayload, error) {
	v.mu.RLock()
	payload, ok := v.cache[code]
	v.mu.RUnlock()
	if ok {
		slog.Debug("HTTPValidator cache hit", "valid", payload.Valid)
		return payload, nil
	}

	body, err := json.Marshal(map[string]string{"code": code, "stage": v.stage})
	if err != nil {
		return CodeValidationPayload{}, fmt.Errorf("failed to encode validation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return CodeValidationPayload{}, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		slog.Error("HTTPValidator request failed", "error", err)
		return CodeValidationPayload{}, fmt.Errorf("code validation request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("HTTPValidator unexpected status", "status", resp.StatusCode)
		return CodeValidationPayload{}, fmt.Errorf("code validation returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return CodeValidationPayload{}, fmt.Errorf("failed to decode validation response: %w", err)
	}

	v.mu.Lock()
	v.cache[code] = payload
	v.mu.Unlock()
	slog.Debug("HTTPValidator validated code", "valid", payload.Valid, "is_demo", payload.IsDemo)
	return payload, nil
}
