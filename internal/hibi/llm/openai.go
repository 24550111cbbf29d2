package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama3-8b-8192"

	maxErrorBody = 512
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint.  Defaults to DefaultBaseURL.
	BaseURL string
	// Model is used when CompletionRequest.Model is empty.  Defaults to
	// DefaultModel.
	Model string
	// Timeout bounds each HTTP request.  Zero means no client-side timeout.
	Timeout time.Duration
	// HTTPClient replaces the default client when set.
	HTTPClient *http.Client
}

// openAIProvider implements Provider using the chat completions API.
type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by an OpenAI-compatible API.  The
// returned provider is safe for concurrent use.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &openAIProvider{cfg: cfg, client: client}
}

// --- wire types (subset of the OpenAI API) ---

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends one chat completion request.  It never retries.
func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := oaiRequest{Model: model, Messages: make([]oaiMessage, 0, len(req.Messages))}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaiMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &CompletionError{Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, &CompletionError{Message: "create http request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &CompletionError{Message: fmt.Sprintf("http request: %v", err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CompletionError{StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}

	var oaiResp oaiResponse
	decodeErr := json.Unmarshal(respBody, &oaiResp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cerr := &CompletionError{StatusCode: resp.StatusCode}
		if decodeErr == nil && oaiResp.Error != nil {
			cerr.Type = oaiResp.Error.Type
			cerr.Message = oaiResp.Error.Message
		} else {
			cerr.Message = truncate(strings.TrimSpace(string(respBody)), maxErrorBody)
		}
		if cerr.Message == "" {
			cerr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, cerr
	}

	if decodeErr != nil {
		return nil, &CompletionError{StatusCode: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	if oaiResp.Error != nil {
		return nil, &CompletionError{
			StatusCode: resp.StatusCode,
			Type:       oaiResp.Error.Type,
			Message:    oaiResp.Error.Message,
		}
	}

	out := &CompletionResponse{
		Model: oaiResp.Model,
		Usage: TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	// Zero choices is a successful call with no content.
	if len(oaiResp.Choices) > 0 {
		out.Text = oaiResp.Choices[0].Message.Content
		out.FinishReason = oaiResp.Choices[0].FinishReason
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
