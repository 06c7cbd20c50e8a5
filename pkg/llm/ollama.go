package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient calls a local or remote Ollama server's chat endpoint.
type OllamaClient struct {
	model      string
	base       *url.URL
	httpClient *http.Client
}

// NewOllamaClient creates a client; an empty baseURL uses the local default.
func NewOllamaClient(model, baseURL string, httpClient *http.Client) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaClient{model: model, base: base, httpClient: httpClient}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	client := api.NewClient(c.base, c.clientFor(req.Credential))

	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"num_predict": req.MaxOutputTokens,
			"temperature": req.Temperature,
		},
	}

	var out strings.Builder
	err := client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classifyOllamaError(ctx, err)
	}

	return strings.TrimSpace(out.String()), nil
}

// clientFor attaches the credential, when there is one, for servers behind an auth proxy.
func (c *OllamaClient) clientFor(credential string) *http.Client {
	if credential == "" {
		return c.httpClient
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   c.httpClient.Timeout,
		Transport: &bearerTransport{token: credential, base: base},
	}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}

func classifyOllamaError(ctx context.Context, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, err)
	}
	var statusErrPtr *api.StatusError
	if errors.As(err, &statusErrPtr) {
		return classifyStatus(statusErrPtr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyContextError(ctx, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
