package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/llm-doc-summarizer/models"
)

func TestOllamaClient_Complete(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"hello"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewOllamaClient("m", srv.URL, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), Request{Prompt: "p", Credential: "proxy-token"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "Bearer proxy-token", gotAuth)
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewOllamaClient("m", url, nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestNewClient_Provider(t *testing.T) {
	cfg := models.DefaultConfig()

	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	cfg.Provider = "ollama"
	c, err = NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, c)

	cfg.Provider = "bogus"
	_, err = NewClient(cfg)
	assert.Error(t, err)
}
