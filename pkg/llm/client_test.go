package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(reply))
}

func TestClient_CompleteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])

		chatReply(t, w, `{"ok": true}`)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL, Model: "test-model", APIKey: "sk-test"}, testLogger())
	content, err := client.CompleteJSON(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, 0.1, 100)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(content))
}

func TestClient_RetriesOnTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		chatReply(t, w, `{"done": 1}`)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL, Model: "m", APIKey: "k"}, testLogger())
	content, err := client.CompleteJSON(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, 0, 10)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done": 1}`, string(content))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL, Model: "m", APIKey: "bad"}, testLogger())
	_, err := client.CompleteJSON(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, 0, 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CompleteJSONOnce_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL, Model: "m", APIKey: "k"}, testLogger())
	_, err := client.CompleteJSONOnce(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, 0, 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
