package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/config"
)

// httpProvider is the shared transport plumbing for every vendor REST
// client: build a JSON body, POST it, decode a JSON response, surface
// any non-200 status as a *StatusError ClassifyError can act on.
type httpProvider struct {
	client    *http.Client
	cfg       *config.LLMProviderConfig
	name      string
	apiKey    string
	endpoint  string
	buildBody func(req Request) (any, error)
	parseBody func(body []byte) (*Response, error)
}

func newHTTPClient(cfg *config.LLMProviderConfig) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = p.cfg.MaxOutputTokens
	}

	payload, err := p.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("%s: build request body: %w", p.name, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build http request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setAuthHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: p.name, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	out, err := p.parseBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", p.name, err)
	}
	out.Provider = p.name
	return out, nil
}

func (p *httpProvider) setAuthHeaders(req *http.Request) {
	switch p.cfg.Type {
	case config.LLMProviderTypeAnthropic:
		req.Header.Set("x-api-key", p.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case config.LLMProviderTypeOpenAI:
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	case config.LLMProviderTypeGoogle:
		// Google's generative-language API takes the key as a query
		// parameter; appended to the endpoint at construction time.
	}
}

// --- Anthropic (Messages API) ---

type anthropicRequestBody struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponseBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func newAnthropicProvider(name string, cfg *config.LLMProviderConfig, apiKey string) Provider {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	return &httpProvider{
		client:   newHTTPClient(cfg),
		cfg:      cfg,
		name:     name,
		apiKey:   apiKey,
		endpoint: endpoint,
		buildBody: func(req Request) (any, error) {
			body := anthropicRequestBody{Model: cfg.Model, MaxTokens: req.MaxTokens}
			for _, m := range req.Messages {
				if m.Role == RoleSystem {
					body.System = m.Content
					continue
				}
				body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
			}
			return body, nil
		},
		parseBody: func(data []byte) (*Response, error) {
			var body anthropicResponseBody
			if err := json.Unmarshal(data, &body); err != nil {
				return nil, err
			}
			var text string
			for _, block := range body.Content {
				if block.Type == "text" {
					text += block.Text
				}
			}
			return &Response{
				Text:  text,
				Usage: Usage{InputTokens: body.Usage.InputTokens, OutputTokens: body.Usage.OutputTokens},
			}, nil
		},
	}
}

// --- OpenAI (Chat Completions API) ---

type openAIRequestBody struct {
	Model          string              `json:"model"`
	Messages       []openAIMessage     `json:"messages"`
	MaxTokens      int                 `json:"max_completion_tokens"`
	ResponseFormat *openAIResponseFmt  `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFmt struct {
	Type string `json:"type"`
}

type openAIResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func newOpenAIProvider(name string, cfg *config.LLMProviderConfig, apiKey string) Provider {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &httpProvider{
		client:   newHTTPClient(cfg),
		cfg:      cfg,
		name:     name,
		apiKey:   apiKey,
		endpoint: endpoint,
		buildBody: func(req Request) (any, error) {
			body := openAIRequestBody{Model: cfg.Model, MaxTokens: req.MaxTokens}
			for _, m := range req.Messages {
				body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: m.Content})
			}
			if req.JSONMode {
				body.ResponseFormat = &openAIResponseFmt{Type: "json_object"}
			}
			return body, nil
		},
		parseBody: func(data []byte) (*Response, error) {
			var body openAIResponseBody
			if err := json.Unmarshal(data, &body); err != nil {
				return nil, err
			}
			var text string
			if len(body.Choices) > 0 {
				text = body.Choices[0].Message.Content
			}
			return &Response{
				Text:  text,
				Usage: Usage{InputTokens: body.Usage.PromptTokens, OutputTokens: body.Usage.CompletionTokens},
			}, nil
		},
	}
}

// --- Google (Generative Language API) ---

type googleRequestBody struct {
	Contents         []googleContent          `json:"contents"`
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	GenerationConfig googleGenerationConfig    `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	MaxOutputTokens int    `json:"maxOutputTokens"`
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type googleResponseBody struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func newGoogleProvider(name string, cfg *config.LLMProviderConfig, apiKey string) Provider {
	base := cfg.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", base, cfg.Model, apiKey)
	return &httpProvider{
		client:   newHTTPClient(cfg),
		cfg:      cfg,
		name:     name,
		apiKey:   apiKey,
		endpoint: endpoint,
		buildBody: func(req Request) (any, error) {
			body := googleRequestBody{
				GenerationConfig: googleGenerationConfig{MaxOutputTokens: req.MaxTokens},
			}
			if req.JSONMode {
				body.GenerationConfig.ResponseMimeType = "application/json"
			}
			for _, m := range req.Messages {
				if m.Role == RoleSystem {
					body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
					continue
				}
				role := "user"
				if m.Role == RoleAssistant {
					role = "model"
				}
				body.Contents = append(body.Contents, googleContent{Role: role, Parts: []googlePart{{Text: m.Content}}})
			}
			return body, nil
		},
		parseBody: func(data []byte) (*Response, error) {
			var body googleResponseBody
			if err := json.Unmarshal(data, &body); err != nil {
				return nil, err
			}
			var text string
			if len(body.Candidates) > 0 && len(body.Candidates[0].Content.Parts) > 0 {
				text = body.Candidates[0].Content.Parts[0].Text
			}
			return &Response{
				Text: text,
				Usage: Usage{
					InputTokens:  body.UsageMetadata.PromptTokenCount,
					OutputTokens: body.UsageMetadata.CandidatesTokenCount,
				},
			}, nil
		},
	}
}

// NewProvider builds the Provider for cfg, using apiKey for authentication.
func NewProvider(name string, cfg *config.LLMProviderConfig, apiKey string) (Provider, error) {
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		return newAnthropicProvider(name, cfg, apiKey), nil
	case config.LLMProviderTypeOpenAI:
		return newOpenAIProvider(name, cfg, apiKey), nil
	case config.LLMProviderTypeGoogle:
		return newGoogleProvider(name, cfg, apiKey), nil
	default:
		return nil, fmt.Errorf("llmgateway: unsupported provider type %q", cfg.Type)
	}
}
