package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/skald-ai/skald/internal/config"
	"github.com/skald-ai/skald/internal/httpkit"
)

// Provider path prefixes appended to the configured base URL. The
// aggregator exposes the same chat-completions protocol under both; the
// openrouter path is tried first, the openai path is the one-shot
// fallback.
const (
	primaryPrefix  = "/openrouter/v1"
	fallbackPrefix = "/openai/v1"
)

// demoContent is returned when no API key is configured. Demo mode is a
// deliberate fallback, not an error: the daemon stays usable for UI work
// without a credential, and no network call is ever attempted.
const demoContent = "I'm running in demo mode because no API key is configured. " +
	"Add gateway.api_key to skald.yaml (or set it via the settings endpoint) " +
	"to get real model responses. Until then I can only echo this notice."

// Client is the concrete Gateway backed by an OpenAI-compatible
// aggregator endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	flatten    bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client. An empty apiKey enables demo mode.
func NewClient(baseURL, apiKey string, flatten bool, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		flatten: flatten,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// chatRequest is the outbound chat-completions body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

// wireMessage is one outbound message in chat-completions form.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Complete implements Gateway. It shapes the request, tries the primary
// endpoint, falls back exactly once to the alternate path on failure, and
// normalizes whatever comes back.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	apiKey, baseURL := c.credentials(opts)
	if apiKey == "" {
		c.logger.Debug("no API key configured, serving demo response")
		return &Response{Content: demoContent}, nil
	}

	req := chatRequest{
		Model:       opts.Model,
		Messages:    shapeMessages(messages, c.flatten),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Tools:       opts.Tools,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "outbound completion request", "payload", string(payload))

	body, status, primaryErr := c.post(ctx, baseURL+primaryPrefix+"/chat/completions", apiKey, payload)
	if primaryErr != nil {
		c.logger.Warn("primary endpoint failed, trying fallback",
			"status", status,
			"error", primaryErr,
		)
		fbBody, _, fbErr := c.post(ctx, baseURL+fallbackPrefix+"/chat/completions", apiKey, payload)
		if fbErr != nil {
			// Surface the primary failure; the fallback result is only
			// interesting when it succeeds.
			return nil, gatewayError(status, primaryErr)
		}
		body = fbBody
	}

	c.logger.Log(ctx, config.LevelTrace, "upstream completion response", "payload", string(body))
	resp := Normalize(body)
	return &resp, nil
}

// credentials resolves the effective key and base URL for one call:
// per-call option values win, startup values fill the gaps.
func (c *Client) credentials(opts Options) (apiKey, baseURL string) {
	apiKey = c.apiKey
	if opts.APIKey != "" {
		apiKey = opts.APIKey
	}
	baseURL = c.baseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	return apiKey, baseURL
}

// post performs one HTTP call and returns the response body. A non-2xx
// status or transport error is returned as err, with the best-effort
// parsed upstream message.
func (c *Client) post(ctx context.Context, url, apiKey string, payload []byte) (body []byte, status int, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("API error %d: %s", resp.StatusCode, upstreamMessage(body))
	}

	return body, resp.StatusCode, nil
}

// upstreamMessage extracts {error:{message}} from an error body,
// falling back to the raw body when the shape doesn't match.
func upstreamMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}

// gatewayError wraps the primary failure as a *GatewayError, attaching a
// credential/model hint for the status classes where that is the likely
// cause.
func gatewayError(status int, err error) *GatewayError {
	ge := &GatewayError{Status: status, Message: err.Error()}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		ge.Hint = "check that your API key is valid and has not expired"
	case http.StatusNotFound:
		ge.Hint = "check that the configured model identifier exists on this endpoint"
	}
	return ge
}

// shapeMessages converts stored history into the outbound wire form.
//
// In faithful mode (flatten=false) tool-call bookkeeping survives the
// round trip: assistant turns keep their tool_calls list and tool turns
// keep their tool_call_id, which chat-completions backends require for
// correct pairing.
//
// Flatten mode reproduces the legacy lossy behavior for backends without
// a tool role: tool messages are folded into the user role and
// assistant turns that carry only tool calls (null content) are dropped
// entirely. Ordering is preserved in both modes.
func shapeMessages(messages []Message, flatten bool) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if flatten {
			switch {
			case len(m.ToolCalls) > 0 && m.Content == "":
				continue // inexpressible without a tool role
			case m.Role == "tool":
				out = append(out, wireMessage{Role: "user", Content: m.Content})
				continue
			}
			out = append(out, wireMessage{Role: m.Role, Content: m.Content})
			continue
		}

		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}
