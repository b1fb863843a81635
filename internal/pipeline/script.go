package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/prompts"
)

// TextGenerator produces text from a system prompt.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt string) (string, error)
}

// ScriptConfig bounds script generation.
type ScriptConfig struct {
	MinWords    int
	TargetWords int
	MaxAttempts int
}

func DefaultScriptConfig() ScriptConfig {
	return ScriptConfig{MinWords: 400, TargetWords: 600, MaxAttempts: 3}
}

// Script is a generated lesson: a title and a body with one sentence per line.
type Script struct {
	Title string
	Body  string
}

// Lines returns the non-empty body lines.
func (s Script) Lines() []string {
	var out []string
	for _, l := range strings.Split(s.Body, "\n") {
		out = appendTrimmed(out, l)
	}
	return out
}

// ScriptGenerator asks a TextGenerator for a lesson sized to the learner.
type ScriptGenerator struct {
	llm TextGenerator
	cfg ScriptConfig
	log *slog.Logger
}

func NewScriptGenerator(llm TextGenerator, cfg ScriptConfig, log *slog.Logger) *ScriptGenerator {
	def := DefaultScriptConfig()
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.TargetWords <= 0 {
		cfg.TargetWords = def.TargetWords
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &ScriptGenerator{llm: llm, cfg: cfg, log: log}
}

// Generate calls the provider up to MaxAttempts times, retrying on provider
// errors and on bodies shorter than MinWords.
func (g *ScriptGenerator) Generate(ctx context.Context, theme, mood string, profile level.Profile) (Script, error) {
	start := time.Now()
	prompt := prompts.Script(prompts.ScriptInput{
		Theme:          theme,
		Mood:           mood,
		Band:           string(profile.Band()),
		ChallengeScore: profile.ChallengeScore(),
		TargetWords:    g.cfg.TargetWords,
	})

	var last error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Script{}, &GenerationFailedError{Attempts: attempt - 1, Last: err}
		}

		raw, err := g.llm.Complete(ctx, prompt)
		if err != nil {
			last = err
			metrics.Errors.WithLabelValues("script", "provider").Inc()
			g.log.Warn("script attempt failed", "attempt", attempt, "error", err)
			continue
		}

		title, body := splitTitle(raw)
		words := len(strings.Fields(body))
		if words < g.cfg.MinWords {
			last = fmt.Errorf("script too short: %d words, need %d", words, g.cfg.MinWords)
			metrics.Errors.WithLabelValues("script", "too_short").Inc()
			g.log.Warn("script attempt too short", "attempt", attempt, "words", words, "min_words", g.cfg.MinWords)
			continue
		}

		if title == "" {
			title = fallbackTitle(theme, mood)
		}
		metrics.ScriptAttempts.Observe(float64(attempt))
		metrics.StageDuration.WithLabelValues("script").Observe(time.Since(start).Seconds())
		g.log.Info("script generated", "attempt", attempt, "words", words, "band", profile.Band())
		return Script{Title: title, Body: reflow(body)}, nil
	}

	metrics.ScriptAttempts.Observe(float64(g.cfg.MaxAttempts))
	return Script{}, &GenerationFailedError{Attempts: g.cfg.MaxAttempts, Last: last}
}

// splitTitle pulls a leading "TITLE:" line off the provider output. Markdown
// emphasis around the header is tolerated.
func splitTitle(raw string) (string, string) {
	text := strings.TrimSpace(raw)
	first, rest, _ := strings.Cut(text, "\n")
	header := strings.Trim(strings.TrimSpace(first), "*#_ ")
	if len(header) < len("TITLE:") || !strings.EqualFold(header[:len("TITLE:")], "TITLE:") {
		return "", text
	}
	title := strings.Trim(strings.TrimSpace(header[len("TITLE:"):]), "*\"'_ ")
	return title, strings.TrimSpace(rest)
}

func fallbackTitle(theme, mood string) string {
	theme = strings.TrimSpace(theme)
	if r, size := utf8.DecodeRuneInString(theme); r != utf8.RuneError {
		theme = string(unicode.ToUpper(r)) + theme[size:]
	}
	if mood = strings.TrimSpace(mood); mood == "" {
		return theme
	}
	return fmt.Sprintf("%s (%s)", theme, mood)
}
