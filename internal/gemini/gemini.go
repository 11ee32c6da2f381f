// Package gemini implements llm.Generator on top of the Gemini API, either
// through the official Go SDK or through the REST streaming endpoint.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gaspardpetit/chatrelay/internal/llm"
)

const (
	BackendSDK  = "sdk"
	BackendREST = "rest"

	DefaultModel   = "gemini-3-flash-preview"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Config selects and configures a backend. It is built once at startup.
type Config struct {
	Backend    string
	Model      string
	BaseURL    string
	APIKey     string
	Generation llm.GenerationConfig
	Safety     []llm.SafetySetting
	// HTTPClient is used by the REST backend; http.DefaultClient when nil.
	HTTPClient *http.Client
}

// New builds the generator named by cfg.Backend. Without an API key every
// call fails with llm.ErrNoAPIKey instead of failing startup.
func New(ctx context.Context, cfg Config) (llm.Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return llm.FailingGenerator{Err: llm.ErrNoAPIKey}, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSDK:
		return NewSDKGenerator(ctx, cfg)
	case BackendREST:
		return NewRESTGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("gemini: unknown backend %q", cfg.Backend)
	}
}

// APIError is an error reported by the Gemini API, either as a non-200
// response or inside the event stream.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("gemini: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("gemini: HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("gemini: HTTP %d", e.StatusCode)
	}
}

// blockedFinishReasons are the finish reasons that mean the candidate's
// content was withheld.
var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"RECITATION":         true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}
