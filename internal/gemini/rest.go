package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gaspardpetit/chatrelay/internal/llm"
)

// RESTGenerator streams from models/{model}:streamGenerateContent?alt=sse.
type RESTGenerator struct {
	client   *http.Client
	endpoint string
	apiKey   string
	body     restRequest
}

// NewRESTGenerator prepares the request template shared by every call.
func NewRESTGenerator(cfg Config) *RESTGenerator {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	g := &RESTGenerator{
		client:   client,
		endpoint: fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", base, url.PathEscape(model)),
		apiKey:   cfg.APIKey,
	}
	g.body.GenerationConfig = restGenerationConfig{
		Temperature:     cfg.Generation.Temperature,
		TopP:            cfg.Generation.TopP,
		TopK:            cfg.Generation.TopK,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
	}
	for _, s := range cfg.Safety {
		g.body.SafetySettings = append(g.body.SafetySettings, restSafetySetting{
			Category:  string(s.Category),
			Threshold: string(s.Threshold),
		})
	}
	return g
}

// Open sends the prompt and returns once response headers have arrived.
func (g *RESTGenerator) Open(ctx context.Context, prompt string) (llm.Stream, error) {
	body := g.body
	body.Contents = []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		return nil, readAPIError(resp)
	}
	return &restStream{body: resp.Body, scanner: newSSEScanner(resp.Body), cancel: cancel}, nil
}

type restStream struct {
	body    io.ReadCloser
	scanner *sseScanner
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *restStream) Next(ctx context.Context) (llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if !s.scanner.Next() {
		if err := s.scanner.Err(); err != nil {
			return llm.Chunk{}, fmt.Errorf("gemini: read stream: %w", err)
		}
		return llm.Chunk{}, io.EOF
	}
	var resp restResponse
	if err := json.Unmarshal([]byte(s.scanner.Event().Data), &resp); err != nil {
		return llm.Chunk{}, fmt.Errorf("gemini: decode chunk: %w", err)
	}
	if resp.Error != nil {
		return llm.Chunk{}, resp.Error.apiError()
	}
	return resp.chunk(), nil
}

func (s *restStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

type restRequest struct {
	Contents         []restContent        `json:"contents"`
	GenerationConfig restGenerationConfig `json:"generationConfig"`
	SafetySettings   []restSafetySetting  `json:"safetySettings,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text"`
}

type restGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type restSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type restResponse struct {
	Candidates []struct {
		Content      *restContent `json:"content"`
		FinishReason string       `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *restError `json:"error"`
}

type restError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *restError) apiError() *APIError {
	return &APIError{StatusCode: e.Code, Status: e.Status, Message: e.Message}
}

// chunk extracts the first candidate's text. A candidate with no text and a
// blocking finish reason, or a blocked prompt, becomes a blocked chunk.
func (r restResponse) chunk() llm.Chunk {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return llm.BlockedChunk("prompt: " + r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return llm.TextChunk("")
	}
	cand := r.Candidates[0]
	var b strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 && blockedFinishReasons[cand.FinishReason] {
		return llm.BlockedChunk("candidate: " + cand.FinishReason)
	}
	return llm.TextChunk(b.String())
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var wire struct {
		Error *restError `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != nil && wire.Error.Message != "" {
		e := wire.Error.apiError()
		e.StatusCode = resp.StatusCode
		return e
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
