package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/telecaller/internal/metrics"
	"github.com/hubenschmidt/telecaller/internal/prompts"
)

// AgentEngine completes chats through an openai-agents-go model provider,
// streaming text deltas as they arrive.
type AgentEngine struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
	onDelta   func(string)
}

// NewAgentEngine wraps provider. onDelta, when set, receives each text delta.
func NewAgentEngine(provider agents.ModelProvider, model string, maxTokens int, onDelta func(string)) *AgentEngine {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &AgentEngine{provider: provider, model: model, maxTokens: maxTokens, onDelta: onDelta}
}

// Complete implements ChatEngine. The agents runner takes one input string,
// so prior turns are folded into it.
func (e *AgentEngine) Complete(ctx context.Context, system string, messages []ChatMessage) (string, error) {
	agent := agents.New("assistant").
		WithInstructions(system).
		WithModel(e.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(e.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   e.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	events, errCh, err := runner.RunStreamedChan(ctx, agent, agentInput(messages))
	if err != nil {
		return "", fmt.Errorf("agent stream start: %w", err)
	}

	var buf strings.Builder
	var first time.Time
	for ev := range events {
		delta, ok := textDelta(ev)
		if !ok {
			continue
		}
		if first.IsZero() {
			first = time.Now()
			metrics.StageDuration.WithLabelValues("llm_ttft").Observe(first.Sub(start).Seconds())
		}
		if e.onDelta != nil {
			e.onDelta(delta)
		}
		buf.WriteString(delta)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("agent stream: %w", streamErr)
	}
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return buf.String(), nil
}

func textDelta(ev agents.StreamEvent) (string, bool) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok || raw.Data.Type != "response.output_text.delta" {
		return "", false
	}
	return raw.Data.Delta, true
}

// agentInput returns the last user message alone, or a transcript followed by
// it when there is earlier context.
func agentInput(messages []ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if len(messages) == 1 {
		return last.Content
	}
	lines := make([][2]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		lines = append(lines, [2]string{m.Role, m.Content})
	}
	return "Conversation so far:\n" + prompts.FormatHistory(lines) + "\nCaller: " + last.Content
}
