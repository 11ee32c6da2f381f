package llm

import (
	"fmt"
	"strings"
)

// GenerationConfig holds the sampling options sent with every call.
type GenerationConfig struct {
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// DefaultGenerationConfig returns the relay's stock sampling options.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopP:            0.95,
		TopK:            64,
		MaxOutputTokens: 8192,
	}
}

// HarmCategory names a class of content the remote service can filter.
type HarmCategory string

const (
	HarmHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmSexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// BlockThreshold is the severity at which content of a category is withheld.
type BlockThreshold string

const (
	BlockNone           BlockThreshold = "BLOCK_NONE"
	BlockLowAndAbove    BlockThreshold = "BLOCK_LOW_AND_ABOVE"
	BlockMediumAndAbove BlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockOnlyHigh       BlockThreshold = "BLOCK_ONLY_HIGH"
)

// SafetySetting binds a harm category to a block threshold.
type SafetySetting struct {
	Category  HarmCategory
	Threshold BlockThreshold
}

// DefaultSafetySettings blocks only high-severity harassment and hate speech.
func DefaultSafetySettings() []SafetySetting {
	return []SafetySetting{
		{Category: HarmHarassment, Threshold: BlockOnlyHigh},
		{Category: HarmHateSpeech, Threshold: BlockOnlyHigh},
	}
}

var harmAliases = map[string]HarmCategory{
	"harassment":        HarmHarassment,
	"hate_speech":       HarmHateSpeech,
	"hate":              HarmHateSpeech,
	"sexually_explicit": HarmSexuallyExplicit,
	"sexual":            HarmSexuallyExplicit,
	"dangerous_content": HarmDangerousContent,
	"dangerous":         HarmDangerousContent,
}

// ParseHarmCategory accepts the API name (HARM_CATEGORY_HATE_SPEECH) or a
// short alias (hate_speech, hate).
func ParseHarmCategory(s string) (HarmCategory, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.TrimPrefix(key, "harm_category_")
	if c, ok := harmAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown harm category %q", s)
}

var thresholdAliases = map[string]BlockThreshold{
	"none":             BlockNone,
	"low_and_above":    BlockLowAndAbove,
	"low":              BlockLowAndAbove,
	"medium_and_above": BlockMediumAndAbove,
	"medium":           BlockMediumAndAbove,
	"only_high":        BlockOnlyHigh,
	"high":             BlockOnlyHigh,
}

// ParseBlockThreshold accepts the API name (BLOCK_ONLY_HIGH) or a short
// alias (only_high, high).
func ParseBlockThreshold(s string) (BlockThreshold, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.TrimPrefix(key, "block_")
	if t, ok := thresholdAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown block threshold %q", s)
}
