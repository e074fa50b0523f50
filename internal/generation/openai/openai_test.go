package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/generation"
)

const keyEnv = "DOCRAG_TEST_CHAT_KEY"

func TestClient_Generate(t *testing.T) {
	t.Setenv(keyEnv, "sk-chat")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-chat", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Paris.\n"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: keyEnv, Model: "m"})
	out, err := c.Generate(context.Background(), generation.Prompt{System: "be brief", User: "capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", out)
}

func TestClient_Errors(t *testing.T) {
	t.Setenv(keyEnv, "")
	_, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKeyEnv: keyEnv}).Generate(context.Background(), generation.Prompt{User: "q"})
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	t.Setenv(keyEnv, "sk")
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{}`, domain.ErrAuthentication},
		{http.StatusTooManyRequests, `{}`, domain.ErrRateLimited},
		{http.StatusServiceUnavailable, `{}`, domain.ErrNetwork},
		{http.StatusOK, `{"choices":[]}`, domain.ErrMalformedResponse},
		{http.StatusOK, `nope`, domain.ErrMalformedResponse},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: keyEnv}).Generate(context.Background(), generation.Prompt{User: "q"})
		assert.ErrorIs(t, err, tc.want, "status %d body %s", tc.status, tc.body)
		srv.Close()
	}
}
