// Package anthropic implements llm.ProviderAdapter against the Anthropic
// Messages API directly over net/http, since no HTTP client library appears
// anywhere in the pack for this concern.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/providerspec"
)

type Adapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewFromEnv() (*Adapter, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return New(key, os.Getenv("ANTHROPIC_BASE_URL")), nil
}

func New(apiKey, baseURL string) *Adapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &Adapter{
		Provider: "anthropic",
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		// Rely on request context deadlines, not a client-level timeout.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "anthropic"
}

const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 4096

func (a *Adapter) buildBody(req llm.Request, stream bool) (map[string]any, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     stream,
	}
	system := strings.TrimSpace(req.System)
	if req.ResponseFormat != nil && strings.EqualFold(req.ResponseFormat.Kind, "json") {
		system = strings.TrimSpace(system + "\n\nOutput only valid JSON. Do not include any extra text.")
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = toAnthropicTools(req.Tools)
	}
	return body, nil
}

func (a *Adapter) newHTTPRequest(ctx context.Context, body map[string]any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	body, err := a.buildBody(req, false)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, classifyTransportErr(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, err
	}
	if resp.StatusCode >= 400 {
		return llm.Response{}, httpError(resp, raw)
	}

	var wire anthropicMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return llm.Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	return wire.toResponse(), nil
}

func httpError(resp *http.Response, raw []byte) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Message
	if strings.TrimSpace(msg) == "" {
		msg = strings.TrimSpace(string(raw))
	}
	retryAfter := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return llm.ErrorFromHTTPStatus("anthropic", resp.StatusCode, msg, string(raw), retryAfter)
}

func classifyTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return llm.NewRequestTimeoutError("anthropic", err.Error())
	}
	return llm.ErrorFromHTTPStatus("anthropic", 0, err.Error(), nil, nil)
}

// sseStream adapts the Anthropic SSE event stream into an llm.Stream.
type sseStream struct {
	events chan llm.StreamEvent
	cancel context.CancelFunc
	closed chan struct{}
}

func (s *sseStream) Events() <-chan llm.StreamEvent { return s.events }

func (s *sseStream) Close() error {
	s.cancel()
	<-s.closed
	return nil
}

func (a *Adapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	body, err := a.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := a.newHTTPRequest(streamCtx, body)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportErr(streamCtx, err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		return nil, httpError(resp, raw)
	}

	s := &sseStream{events: make(chan llm.StreamEvent, 16), cancel: cancel, closed: make(chan struct{})}
	go pumpSSE(resp.Body, s)
	return s, nil
}

func pumpSSE(body io.ReadCloser, s *sseStream) {
	defer close(s.closed)
	defer close(s.events)
	defer func() { _ = body.Close() }()

	acc := newAccumulator()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			delta, done, err := acc.apply(eventName, data)
			if err != nil {
				s.events <- llm.StreamEvent{Type: llm.StreamError, Err: err}
				return
			}
			if delta != nil {
				s.events <- llm.StreamEvent{Type: llm.StreamDelta, Delta: *delta}
			}
			if done {
				resp := acc.response()
				s.events <- llm.StreamEvent{Type: llm.StreamDone, Response: &resp}
				return
			}
		case line == "":
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil {
		s.events <- llm.StreamEvent{Type: llm.StreamError, Err: err}
		return
	}
	s.events <- llm.StreamEvent{Type: llm.StreamError, Err: fmt.Errorf("anthropic: stream ended before message_stop")}
}

func toAnthropicTools(tools []llm.ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}
	return out
}

func toAnthropicMessages(msgs []llm.Message) ([]map[string]any, error) {
	messages := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		var blocks []map[string]any
		for _, p := range m.Content {
			switch p.Type {
			case llm.BlockText:
				if strings.TrimSpace(p.Text) != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
				}
			case llm.BlockToolUse:
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    p.ToolUseID,
					"name":  p.ToolName,
					"input": p.ToolInput,
				})
			case llm.BlockToolResult:
				blocks = append(blocks, map[string]any{
					"type":        "tool_result",
					"tool_use_id": p.ToolResultForID,
					"content":     p.ToolResultText,
					"is_error":    p.ToolResultError,
				})
			default:
				return nil, &llm.ConfigurationError{Message: fmt.Sprintf("unsupported content block type: %s", p.Type)}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, map[string]any{"role": role, "content": blocks})
	}
	return messages, nil
}
