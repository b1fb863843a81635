package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
)

// composeInput is the user turn sent alongside the real instructions, which
// travel as the agent's system prompt.
const composeInput = "Write your answer now, following the instructions exactly."

// AgentTextGenerator runs single-turn completions through the
// openai-agents-go runner. One instance serves one model.
type AgentTextGenerator struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
	stage     string
}

// NewOpenAIProvider builds a Responses-API provider. An empty baseURL uses
// the public endpoint.
func NewOpenAIProvider(apiKey, baseURL string) agents.ModelProvider {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(true),
	}
	if baseURL != "" {
		params.BaseURL = param.NewOpt(baseURL)
	}
	return agents.NewOpenAIProvider(params)
}

// NewAgentTextGenerator creates a generator; stage labels its latency metric.
func NewAgentTextGenerator(provider agents.ModelProvider, model string, maxTokens int, stage string) *AgentTextGenerator {
	if stage == "" {
		stage = "llm"
	}
	return &AgentTextGenerator{provider: provider, model: model, maxTokens: maxTokens, stage: stage}
}

// Complete streams a completion for systemPrompt and returns the full text.
func (a *AgentTextGenerator) Complete(ctx context.Context, systemPrompt string) (string, error) {
	settings := modelsettings.ModelSettings{}
	if a.maxTokens > 0 {
		settings.MaxTokens = param.NewOpt(int64(a.maxTokens))
	}
	agent := agents.New("lesson-writer").
		WithInstructions(systemPrompt).
		WithModel(a.model).
		WithModelSettings(settings)

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	events, errCh, err := runner.RunStreamedChan(ctx, agent, composeInput)
	if err != nil {
		return "", fmt.Errorf("llm stream start: %w", err)
	}

	var text strings.Builder
	var firstToken time.Time
	for ev := range events {
		collectDelta(ev, &text, &firstToken)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("llm stream: %w", streamErr)
	}

	metrics.StageDuration.WithLabelValues(a.stage).Observe(time.Since(start).Seconds())
	if !firstToken.IsZero() {
		metrics.StageDuration.WithLabelValues(a.stage + "_ttft").Observe(firstToken.Sub(start).Seconds())
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", errors.New("llm returned no text")
	}
	return out, nil
}

func collectDelta(ev agents.StreamEvent, text *strings.Builder, firstToken *time.Time) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	if firstToken.IsZero() {
		*firstToken = time.Now()
	}
	text.WriteString(raw.Data.Delta)
}
