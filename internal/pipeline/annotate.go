package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/prompts"
)

// VocabEntry is one annotated word of a sentence.
type VocabEntry struct {
	Word    string `json:"word"`
	POS     string `json:"pos"`
	Meaning string `json:"meaning"`
}

// Annotator returns contextual vocabulary for one sentence.
type Annotator interface {
	Annotate(ctx context.Context, sentence string) ([]VocabEntry, error)
}

// OpenAIAnnotator asks a chat model for a JSON object with one entry per
// distinct word.
type OpenAIAnnotator struct {
	client openai.Client
	model  string
}

// NewOpenAIAnnotator creates an annotator. An empty baseURL uses the public
// endpoint.
func NewOpenAIAnnotator(apiKey, baseURL, model string) *OpenAIAnnotator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAnnotator{client: openai.NewClient(opts...), model: model}
}

func (a *OpenAIAnnotator) Annotate(ctx context.Context, sentence string) ([]VocabEntry, error) {
	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompts.Vocab(sentence)),
		},
		Model: openai.ChatModel(a.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		metrics.SentenceAnnotations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("vocab completion: %w", err)
	}
	metrics.StageDuration.WithLabelValues("vocab").Observe(time.Since(start).Seconds())

	if len(resp.Choices) == 0 {
		metrics.SentenceAnnotations.WithLabelValues("error").Inc()
		return nil, errors.New("vocab completion returned no choices")
	}
	entries, err := parseVocab(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.SentenceAnnotations.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SentenceAnnotations.WithLabelValues("ok").Inc()
	return entries, nil
}

func parseVocab(content string) ([]VocabEntry, error) {
	var out struct {
		Entries []VocabEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode vocab json: %w", err)
	}
	entries := out.Entries[:0]
	for _, e := range out.Entries {
		if e.Word != "" {
			entries = append(entries, e)
		}
	}
	if entries == nil {
		entries = []VocabEntry{}
	}
	return entries, nil
}
