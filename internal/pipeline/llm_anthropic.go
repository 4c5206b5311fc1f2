package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
)

// DefaultAnthropicURL is the public Messages API host.
const DefaultAnthropicURL = "https://api.anthropic.com"

// AnthropicEngine streams chat completions from the Anthropic Messages API.
type AnthropicEngine struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicEngine creates an Anthropic streaming engine.
func NewAnthropicEngine(apiKey, url, model string, maxTokens, poolSize int, timeout time.Duration) *AnthropicEngine {
	if url == "" {
		url = DefaultAnthropicURL
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &AnthropicEngine{
		apiKey:    apiKey,
		url:       strings.TrimSuffix(url, "/"),
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, timeout),
	}
}

// Complete implements ChatEngine.
func (e *AnthropicEngine) Complete(ctx context.Context, system string, messages []ChatMessage) (string, error) {
	start := time.Now()

	body, err := json.Marshal(anthropicRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Stream:    true,
		System:    system,
		Messages:  toAnthropicMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if isPermanentStatus(resp.StatusCode) {
			return "", fmt.Errorf("anthropic status %d: %w: %s", resp.StatusCode, ErrPermanent, errBody)
		}
		return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, errBody)
	}

	text, first, err := consumeAnthropicStream(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic stream: %w", err)
	}
	if !first.IsZero() {
		metrics.StageDuration.WithLabelValues("llm_ttft").Observe(first.Sub(start).Seconds())
	}
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return text, nil
}

// toAnthropicMessages maps turns to Messages API roles. The API wants the
// first message from the user, so leading assistant turns are dropped.
func toAnthropicMessages(messages []ChatMessage) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		if len(out) == 0 && role == "assistant" {
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return out
}

func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}

// consumeAnthropicStream collects text deltas from the server-sent event
// stream, returning the text and the arrival time of the first delta.
func consumeAnthropicStream(body io.Reader) (string, time.Time, error) {
	var buf strings.Builder
	var first time.Time
	var eventType string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch eventType {
		case "message_stop":
			return buf.String(), first, nil
		case "error":
			return "", first, fmt.Errorf("stream error event: %s", data)
		case "content_block_delta":
			var delta anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &delta) != nil || delta.Delta.Type != "text_delta" {
				continue
			}
			if first.IsZero() {
				first = time.Now()
			}
			buf.WriteString(delta.Delta.Text)
		}
	}
	return buf.String(), first, scanner.Err()
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
