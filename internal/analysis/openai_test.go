package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbias/crashwatch/internal/events"
)

var testRequest = Request{
	ObjectName: "web-7f",
	Reason:     "CrashLoopBackOff",
	Message:    "back-off restarting failed container",
	LogExcerpt: "panic: nil pointer\n",
}

// chatServer answers chat completion requests with content, recording the
// last request body it saw.
func chatServer(t *testing.T, content string, calls *int32, last *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "path %s", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if last != nil {
			body := map[string]interface{}{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			*last = body
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, status int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream says no"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderPrompt(t *testing.T) {
	prompt, err := RenderPrompt(testRequest)
	require.NoError(t, err)

	assert.Contains(t, prompt, "Pod: web-7f")
	assert.Contains(t, prompt, "Reason: CrashLoopBackOff")
	assert.Contains(t, prompt, "Message: back-off restarting failed container")
	assert.Contains(t, prompt, "panic: nil pointer")
	assert.Contains(t, prompt, "root cause")
}

func TestRequestFrom(t *testing.T) {
	fc := events.FailureContext{
		ObjectKind: "Pod",
		ObjectName: "web-7f",
		Namespace:  "prod",
		Reason:     "CrashLoopBackOff",
		Message:    "back-off restarting failed container",
	}.WithLogs("panic: nil pointer\n")

	assert.Equal(t, testRequest, RequestFrom(fc))
}

func TestOpenAIAnalyzer_Success(t *testing.T) {
	var calls int32
	var body map[string]interface{}
	srv := chatServer(t, "## Root Cause\nnil map write", &calls, &body)

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{{URL: srv.URL, Model: "gpt-4o-mini", APIKey: "sk-test"}},
		MaxTokens: 256,
		Timeout:   5 * time.Second,
	})

	text, err := a.Analyze(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "## Root Cause\nnil map write", text)
	assert.Equal(t, int32(1), calls)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])
	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]interface{})
	assert.Contains(t, user["content"], "panic: nil pointer")
}

func TestOpenAIAnalyzer_MissingCredential(t *testing.T) {
	var calls int32
	srv := chatServer(t, "unused", &calls, nil)

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{{URL: srv.URL, Model: "gpt-4o-mini"}},
		Timeout:   time.Second,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, KindMissingCredential, KindOf(err))
	assert.Zero(t, atomic.LoadInt32(&calls), "no network call without a credential")
}

func TestOpenAIAnalyzer_FallsBackOnUnavailable(t *testing.T) {
	var primaryCalls, fallbackCalls int32
	primary := statusServer(t, http.StatusServiceUnavailable, &primaryCalls)
	fallback := chatServer(t, "fallback analysis", &fallbackCalls, nil)

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{
			{URL: primary.URL, Model: "primary", APIKey: "sk-test"},
			{URL: fallback.URL, Model: "fallback", APIKey: "sk-test"},
		},
		Timeout: 5 * time.Second,
	})

	text, err := a.Analyze(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "fallback analysis", text)
	assert.Equal(t, int32(1), primaryCalls)
	assert.Equal(t, int32(1), fallbackCalls)
}

func TestOpenAIAnalyzer_FallsBackOnConnectionError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	fallback := chatServer(t, "fallback analysis", nil, nil)

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{
			{URL: deadURL, Model: "primary", APIKey: "sk-test"},
			{URL: fallback.URL, Model: "fallback", APIKey: "sk-test"},
		},
		Timeout: 5 * time.Second,
	})

	text, err := a.Analyze(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "fallback analysis", text)
}

func TestOpenAIAnalyzer_ClientErrorDoesNotFallBack(t *testing.T) {
	var fallbackCalls int32
	primary := statusServer(t, http.StatusUnauthorized, nil)
	fallback := chatServer(t, "unused", &fallbackCalls, nil)

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{
			{URL: primary.URL, Model: "primary", APIKey: "sk-test"},
			{URL: fallback.URL, Model: "fallback", APIKey: "sk-test"},
		},
		Timeout: 5 * time.Second,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "401")
	assert.Zero(t, atomic.LoadInt32(&fallbackCalls))
}

func TestOpenAIAnalyzer_AllEndpointsUnavailable(t *testing.T) {
	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{
			{URL: statusServer(t, http.StatusBadGateway, nil).URL, Model: "a", APIKey: "sk-test"},
			{URL: statusServer(t, http.StatusTooManyRequests, nil).URL, Model: "b", APIKey: "sk-test"},
		},
		Timeout: 5 * time.Second,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestOpenAIAnalyzer_EmptyResponse(t *testing.T) {
	srv := chatServer(t, "   ", nil, nil)
	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{{URL: srv.URL, Model: "m", APIKey: "sk-test"}},
		Timeout:   5 * time.Second,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, KindEmptyResponse, KindOf(err))
}

func TestOpenAIAnalyzer_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints: []Endpoint{{URL: srv.URL, Model: "m", APIKey: "sk-test"}},
		Timeout:   50 * time.Millisecond,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpenAIAnalyzer_RateLimited(t *testing.T) {
	srv := chatServer(t, "ok", nil, nil)
	a := NewOpenAIAnalyzer(OpenAIConfig{
		Endpoints:         []Endpoint{{URL: srv.URL, Model: "m", APIKey: "sk-test"}},
		Timeout:           100 * time.Millisecond,
		RequestsPerMinute: 1,
	})

	_, err := a.Analyze(context.Background(), testRequest)
	require.NoError(t, err)

	// The next token is a minute away, well past the call timeout.
	_, err = a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestKindOf_Untyped(t *testing.T) {
	assert.Equal(t, KindUpstream, KindOf(errors.New("boom")))
}
