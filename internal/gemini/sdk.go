package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gaspardpetit/chatrelay/internal/llm"
)

// SDKGenerator streams through the official Gemini Go SDK. The client is
// shared by every call and released by Close.
type SDKGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewSDKGenerator(ctx context.Context, cfg Config) (*SDKGenerator, error) {
	ep, err := sdkEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	if err := configureModel(model, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &SDKGenerator{client: client, model: model}, nil
}

// sdkEndpoint turns a non-default base URL into the host:port form the SDK's
// REST transport expects. That transport always speaks HTTPS, so plain http
// base URLs are rejected; use the rest backend for those. The default
// endpoint yields "".
func sdkEndpoint(base string) (string, error) {
	base = strings.TrimRight(base, "/")
	if base == "" || base == DefaultBaseURL {
		return "", nil
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base, nil
	}
	if u.Scheme == "http" {
		return "", fmt.Errorf("gemini: sdk backend requires https, got %q", base)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	return u.Host + ":443", nil
}

func configureModel(model *genai.GenerativeModel, cfg Config) error {
	model.SetTemperature(float32(cfg.Generation.Temperature))
	model.SetTopP(float32(cfg.Generation.TopP))
	model.SetTopK(int32(cfg.Generation.TopK))
	model.SetMaxOutputTokens(int32(cfg.Generation.MaxOutputTokens))
	model.SafetySettings = nil
	for _, s := range cfg.Safety {
		cat, ok := sdkCategories[s.Category]
		if !ok {
			return fmt.Errorf("gemini: unsupported harm category %q", s.Category)
		}
		th, ok := sdkThresholds[s.Threshold]
		if !ok {
			return fmt.Errorf("gemini: unsupported block threshold %q", s.Threshold)
		}
		model.SafetySettings = append(model.SafetySettings, &genai.SafetySetting{Category: cat, Threshold: th})
	}
	return nil
}

func (g *SDKGenerator) Open(ctx context.Context, prompt string) (llm.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	it := g.model.GenerateContentStream(streamCtx, genai.Text(prompt))
	return &sdkStream{it: it, cancel: cancel}, nil
}

func (g *SDKGenerator) Close() error {
	return g.client.Close()
}

type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

// sdkStream adapts the SDK iterator. The iterator keeps returning the last
// error once one occurred, so a repeated BlockedError means the stream ended.
type sdkStream struct {
	it          responseIterator
	cancel      context.CancelFunc
	lastBlocked *genai.BlockedError
	once        sync.Once
}

func (s *sdkStream) Next(ctx context.Context) (llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	resp, err := s.it.Next()
	if errors.Is(err, iterator.Done) {
		return llm.Chunk{}, io.EOF
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		if blocked == s.lastBlocked {
			return llm.Chunk{}, io.EOF
		}
		s.lastBlocked = blocked
		return llm.BlockedChunk(blockReason(blocked)), nil
	}
	if err != nil {
		return llm.Chunk{}, err
	}
	return sdkChunk(resp), nil
}

func (s *sdkStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func sdkChunk(resp *genai.GenerateContentResponse) llm.Chunk {
	if resp == nil {
		return llm.TextChunk("")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return llm.BlockedChunk("prompt: " + enumName(resp.PromptFeedback.BlockReason.String(), "BlockReason"))
	}
	if len(resp.Candidates) == 0 {
		return llm.TextChunk("")
	}
	cand := resp.Candidates[0]
	text := responseText(cand)
	if text == "" && blockedFinishReasons[finishReasonName(cand.FinishReason)] {
		return llm.BlockedChunk("candidate: " + finishReasonName(cand.FinishReason))
	}
	return llm.TextChunk(text)
}

func responseText(cand *genai.Candidate) string {
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func blockReason(err *genai.BlockedError) string {
	switch {
	case err.PromptFeedback != nil:
		return "prompt: " + enumName(err.PromptFeedback.BlockReason.String(), "BlockReason")
	case err.Candidate != nil:
		return "candidate: " + finishReasonName(err.Candidate.FinishReason)
	default:
		return "blocked"
	}
}

// finishReasonName maps the SDK enum onto the API's wire names.
func finishReasonName(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonSafety:
		return "SAFETY"
	case genai.FinishReasonRecitation:
		return "RECITATION"
	case genai.FinishReasonStop:
		return "STOP"
	case genai.FinishReasonMaxTokens:
		return "MAX_TOKENS"
	case genai.FinishReasonOther:
		return "OTHER"
	default:
		return enumName(r.String(), "FinishReason")
	}
}

// enumName turns an SDK enum string such as "BlockReasonSafety" into the
// upper-case wire form "SAFETY".
func enumName(s, prefix string) string {
	s = strings.TrimPrefix(s, prefix)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

var sdkCategories = map[llm.HarmCategory]genai.HarmCategory{
	llm.HarmHarassment:       genai.HarmCategoryHarassment,
	llm.HarmHateSpeech:       genai.HarmCategoryHateSpeech,
	llm.HarmSexuallyExplicit: genai.HarmCategorySexuallyExplicit,
	llm.HarmDangerousContent: genai.HarmCategoryDangerousContent,
}

var sdkThresholds = map[llm.BlockThreshold]genai.HarmBlockThreshold{
	llm.BlockNone:           genai.HarmBlockNone,
	llm.BlockLowAndAbove:    genai.HarmBlockLowAndAbove,
	llm.BlockMediumAndAbove: genai.HarmBlockMediumAndAbove,
	llm.BlockOnlyHigh:       genai.HarmBlockOnlyHigh,
}
