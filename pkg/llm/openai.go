package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the chat completions API. The credential is supplied per request.
type OpenAIClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates a client; an empty baseURL uses the public API.
func NewOpenAIClient(model, baseURL string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIClient{model: model, baseURL: baseURL, httpClient: httpClient}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.Credential == "" {
		return "", fmt.Errorf("%w: no API key supplied", ErrInvalidCredential)
	}

	cfg := openai.DefaultConfig(req.Credential)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	cfg.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(cfg)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrTransport)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyContextError(ctx, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
