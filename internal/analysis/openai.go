package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Endpoint is one OpenAI-compatible chat completions provider.
type Endpoint struct {
	URL    string
	Model  string
	APIKey string
}

// OpenAIConfig configures an OpenAIAnalyzer.
type OpenAIConfig struct {
	// Endpoints are tried in order; later ones are fallbacks.
	Endpoints []Endpoint

	MaxTokens int

	// Timeout bounds one Analyze call, rate limit wait and fallbacks included.
	Timeout time.Duration

	// RequestsPerMinute throttles calls across all endpoints. Zero disables throttling.
	RequestsPerMinute int

	// HTTPClient overrides the default HTTP client (tests).
	HTTPClient *http.Client
}

type endpointClient struct {
	Endpoint
	client *openai.Client
}

// OpenAIAnalyzer calls chat completions with fallback support.
type OpenAIAnalyzer struct {
	endpoints []endpointClient
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewOpenAIAnalyzer creates an analyzer. Endpoints without an API key are skipped.
func NewOpenAIAnalyzer(cfg OpenAIConfig) *OpenAIAnalyzer {
	a := &OpenAIAnalyzer{
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}

	for _, ep := range cfg.Endpoints {
		if ep.APIKey == "" {
			slog.Warn("AI endpoint has no API key, skipping", "url", ep.URL, "model", ep.Model)
			continue
		}
		clientCfg := openai.DefaultConfig(ep.APIKey)
		if ep.URL != "" {
			clientCfg.BaseURL = strings.TrimSuffix(ep.URL, "/")
		}
		if cfg.HTTPClient != nil {
			clientCfg.HTTPClient = cfg.HTTPClient
		}
		a.endpoints = append(a.endpoints, endpointClient{
			Endpoint: ep,
			client:   openai.NewClientWithConfig(clientCfg),
		})
	}

	if cfg.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return a
}

// Analyze sends the failure context to the model and returns its analysis.
// Endpoints are tried in order; only availability failures (connection
// errors, 429 and 5xx responses) move on to the next endpoint.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (string, error) {
	if len(a.endpoints) == 0 {
		return "", ErrMissingCredential
	}

	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", &Error{Kind: KindUpstream, Reason: err.Error(), Err: err}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", &Error{Kind: KindRateLimited, Reason: "request budget exhausted: " + err.Error(), Err: err}
		}
	}

	var lastErr *Error
	for i, ep := range a.endpoints {
		text, err := a.tryEndpoint(ctx, ep, prompt)
		if err == nil {
			if i > 0 {
				slog.Info("AI fallback endpoint succeeded", "endpoint", i+1, "model", ep.Model, "failed_before", i)
			}
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isUnavailable(err) {
			return "", err
		}
		slog.Warn("AI endpoint unavailable, trying next",
			"endpoint", i+1,
			"model", ep.Model,
			"error", err.Err)
	}

	return "", lastErr
}

func (a *OpenAIAnalyzer) tryEndpoint(ctx context.Context, ep endpointClient, prompt string) (string, *Error) {
	resp, err := ep.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: ep.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindEmptyResponse, Reason: fmt.Sprintf("model %s returned no content", ep.Model)}
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps a client error onto an analysis Kind.
func classifyError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Reason: "analysis timed out", Err: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Reason: "upstream rate limit", Err: err}
	case status >= 500:
		return &Error{Kind: KindUpstream, Reason: fmt.Sprintf("upstream returned HTTP %d", status), Err: err}
	case status > 0:
		return &Error{Kind: KindUpstream, Reason: fmt.Sprintf("upstream rejected request with HTTP %d", status), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindUpstream, Reason: "connection failed: " + err.Error(), Err: err}
	}
	return &Error{Kind: KindUpstream, Reason: err.Error(), Err: err}
}

// isUnavailable reports whether the next endpoint should be tried.
func isUnavailable(err *Error) bool {
	if err.Kind == KindRateLimited {
		return true
	}
	if err.Kind != KindUpstream {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err.Err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err.Err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0
	}
	var netErr net.Error
	return errors.As(err.Err, &netErr)
}
