package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	APIKey       string
}

// ChatResponse is a provider-agnostic chat completion response.
type ChatResponse struct {
	Content      string
	Model        string
	Usage        map[string]any
	FinishReason string
}

// ChatClient abstracts the chat-completion backend so nodes.openai.chat can
// be pointed at any OpenAI-compatible endpoint (or swapped for a fake in
// tests) without changing the node handler.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// openAIClient talks to an OpenAI-compatible /chat/completions endpoint.
// REFLUX does not vendor a provider SDK for this: no pack dependency wraps
// a generic chat-completions endpoint, so the request/response shape is
// hand-built directly against the documented API, transported over
// net/http like nodes.http.request.
type openAIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewOpenAIClient constructs a ChatClient against baseURL (e.g.
// "https://api.openai.com/v1"), defaulting apiKey when a call omits one.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &openAIClient{baseURL: baseURL, apiKey: apiKey, http: httpClient}
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature,omitempty"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatCompletionMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

func (c *openAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var messages []chatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatCompletionMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatCompletionMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encoding request: %w", err)
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ChatResponse{}, err
	}
	defer resp.Body.Close()

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ChatResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return ChatResponse{}, fmt.Errorf("chat completion request failed with status %d", resp.StatusCode)
	}
	if len(decoded.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("chat completion returned no choices")
	}

	return ChatResponse{
		Content:      decoded.Choices[0].Message.Content,
		Model:        decoded.Model,
		Usage:        decoded.Usage,
		FinishReason: decoded.Choices[0].FinishReason,
	}, nil
}

// RegisterOpenAI binds the openai.chat handler against client.
func RegisterOpenAI(b *bus.Bus, client ChatClient) {
	b.Register("nodes.openai.chat", bus.DefaultVersion, openAIChatHandler(client), openAIChatSchema())
}

func openAIChatHandler(client ChatClient) bus.Handler {
	return func(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
		prompt, _ := params["prompt"].(string)
		if prompt == "" {
			return nil, apperr.NewValidationError("nodes.openai.chat: prompt is required")
		}
		model, _ := params["model"].(string)
		if model == "" {
			return nil, apperr.NewValidationError("nodes.openai.chat: model is required")
		}
		systemPrompt, _ := params["systemPrompt"].(string)
		temperature, _ := params["temperature"].(float64)
		maxTokens, _ := params["maxTokens"].(float64)
		apiKey, _ := params["apiKey"].(string)

		resp, err := client.Chat(ctx, ChatRequest{
			Model:        model,
			Prompt:       prompt,
			SystemPrompt: systemPrompt,
			Temperature:  temperature,
			MaxTokens:    int(maxTokens),
			APIKey:       apiKey,
		})
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.openai.chat: %s", err)
		}

		return map[string]any{
			"content":      resp.Content,
			"model":        resp.Model,
			"usage":        resp.Usage,
			"finishReason": resp.FinishReason,
		}, nil
	}
}

func openAIChatSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.openai.chat",
		Version:     bus.DefaultVersion,
		Description: "Runs a chat completion against an OpenAI-compatible endpoint.",
		Params: []bus.ParamSpec{
			{Name: "model", Type: bus.ParamString, Required: true},
			{Name: "prompt", Type: bus.ParamString, Required: true},
			{Name: "systemPrompt", Type: bus.ParamString},
			{Name: "temperature", Type: bus.ParamNumber, Default: 1.0},
			{Name: "maxTokens", Type: bus.ParamNumber},
			{Name: "apiKey", Type: bus.ParamString},
		},
		Output: []bus.ParamSpec{
			{Name: "content", Type: bus.ParamString},
			{Name: "model", Type: bus.ParamString},
			{Name: "usage", Type: bus.ParamObject},
			{Name: "finishReason", Type: bus.ParamString},
		},
	}
}
