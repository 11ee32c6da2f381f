package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gaspardpetit/chatrelay/internal/gemini"
	"github.com/gaspardpetit/chatrelay/internal/llm"
)

// GeminiConfig configures the upstream model and the fixed parameters sent
// with every generation call.
type GeminiConfig struct {
	Backend    string               `yaml:"backend"`
	Model      string               `yaml:"model"`
	BaseURL    string               `yaml:"base_url"`
	APIKey     string               `yaml:"api_key"`
	APIKeyFile string               `yaml:"api_key_file"`
	Generation llm.GenerationConfig `yaml:",inline"`
	// Safety maps a harm category to its block threshold. Both sides accept
	// the API names or short aliases ("hate_speech": "only_high").
	Safety map[string]string `yaml:"safety"`
}

// SetDefaults fills unset fields with built-in defaults.
func (g *GeminiConfig) SetDefaults() {
	if g.Backend == "" {
		g.Backend = gemini.BackendSDK
	}
	if g.Model == "" {
		g.Model = gemini.DefaultModel
	}
	if g.BaseURL == "" {
		g.BaseURL = gemini.DefaultBaseURL
	}
	if g.Generation == (llm.GenerationConfig{}) {
		g.Generation = llm.DefaultGenerationConfig()
	}
}

// ApplyEnv overlays GEMINI_* variables. The API key is read from api_key,
// GEMINI_API_KEY or GOOGLE_API_KEY, in that order.
func (g *GeminiConfig) ApplyEnv() {
	if v := GetEnv("GEMINI_BACKEND", ""); v != "" {
		g.Backend = v
	}
	if v := GetEnv("GEMINI_MODEL", ""); v != "" {
		g.Model = v
	}
	if v := GetEnv("GEMINI_BASE_URL", ""); v != "" {
		g.BaseURL = v
	}
	if v := firstEnv("api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY"); v != "" {
		g.APIKey = v
	}
	if v := GetEnv("GEMINI_API_KEY_FILE", ""); v != "" {
		g.APIKeyFile = v
	}
	if v := GetEnv("GEMINI_TEMPERATURE", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			g.Generation.Temperature = f
		}
	}
	if v := GetEnv("GEMINI_TOP_P", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			g.Generation.TopP = f
		}
	}
	if v := GetEnv("GEMINI_TOP_K", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			g.Generation.TopK = n
		}
	}
	if v := GetEnv("GEMINI_MAX_OUTPUT_TOKENS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			g.Generation.MaxOutputTokens = n
		}
	}
}

// BindFlagsFromCurrent binds the gemini flags using the current values as defaults.
func (g *GeminiConfig) BindFlagsFromCurrent() {
	flag.StringVar(&g.Backend, "gemini-backend", g.Backend, "upstream client: sdk or rest")
	flag.StringVar(&g.Model, "gemini-model", g.Model, "model name")
	flag.StringVar(&g.BaseURL, "gemini-base-url", g.BaseURL, "Gemini API base URL")
	flag.StringVar(&g.APIKey, "gemini-api-key", g.APIKey, "Gemini API key")
	flag.StringVar(&g.APIKeyFile, "gemini-api-key-file", g.APIKeyFile, "file containing the Gemini API key")
	flag.Float64Var(&g.Generation.Temperature, "temperature", g.Generation.Temperature, "sampling temperature")
	flag.Float64Var(&g.Generation.TopP, "top-p", g.Generation.TopP, "nucleus sampling probability")
	flag.IntVar(&g.Generation.TopK, "top-k", g.Generation.TopK, "top-k sampling")
	flag.IntVar(&g.Generation.MaxOutputTokens, "max-output-tokens", g.Generation.MaxOutputTokens, "maximum tokens generated per call")
}

// SafetySettings returns the configured settings in a stable order, or the
// defaults when none are configured.
func (g GeminiConfig) SafetySettings() ([]llm.SafetySetting, error) {
	if len(g.Safety) == 0 {
		return llm.DefaultSafetySettings(), nil
	}
	out := make([]llm.SafetySetting, 0, len(g.Safety))
	for k, v := range g.Safety {
		cat, err := llm.ParseHarmCategory(k)
		if err != nil {
			return nil, err
		}
		th, err := llm.ParseBlockThreshold(v)
		if err != nil {
			return nil, err
		}
		out = append(out, llm.SafetySetting{Category: cat, Threshold: th})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// ResolveAPIKey returns the inline key, or the trimmed contents of
// APIKeyFile when no inline key is set.
func (g GeminiConfig) ResolveAPIKey() (string, error) {
	if k := strings.TrimSpace(g.APIKey); k != "" {
		return k, nil
	}
	if g.APIKeyFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(g.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("read api key file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Client builds the immutable gemini.Config handed to the generator.
func (g GeminiConfig) Client() (gemini.Config, error) {
	key, err := g.ResolveAPIKey()
	if err != nil {
		return gemini.Config{}, err
	}
	safety, err := g.SafetySettings()
	if err != nil {
		return gemini.Config{}, err
	}
	return gemini.Config{
		Backend:    g.Backend,
		Model:      g.Model,
		BaseURL:    g.BaseURL,
		APIKey:     key,
		Generation: g.Generation,
		Safety:     safety,
	}, nil
}
