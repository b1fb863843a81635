package level

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/prompts"
)

// Completer is a single-shot text generation call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMEvaluator asks a language model to judge the learner. The heuristic
// result is passed in as a reference point. When the model call or its
// output fails, the assessment is marked unsuccessful and the previous
// profile is kept.
type LLMEvaluator struct {
	llm       Completer
	heuristic HeuristicEvaluator
	log       *slog.Logger
}

func NewLLMEvaluator(llm Completer, log *slog.Logger) *LLMEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &LLMEvaluator{llm: llm, log: log}
}

type judgement struct {
	Lexical   *float64 `json:"lexical"`
	Syntactic *float64 `json:"syntactic"`
	Speed     *float64 `json:"speed"`
	Rationale string   `json:"rationale"`
}

func (e *LLMEvaluator) EvaluateTest(ctx context.Context, current Profile, req TestRequest) (Assessment, error) {
	ref, err := e.heuristic.EvaluateTest(ctx, current, req)
	if err != nil {
		return Assessment{}, err
	}
	answers, _ := json.Marshal(req.Tests)
	prompt := prompts.LevelJudge(prompts.LevelJudgeInput{
		Context:   "initial_level_assessment",
		Current:   profileLine(current),
		Reference: profileLine(ref.Profile),
		Evidence:  fmt.Sprintf("claimed level %s; answers %s", strings.ToUpper(req.Level), answers),
	})
	return e.judge(ctx, current, prompt), nil
}

func (e *LLMEvaluator) EvaluateSessionFeedback(ctx context.Context, current Profile, fb SessionFeedback) (Assessment, error) {
	ref, err := e.heuristic.EvaluateSessionFeedback(ctx, current, fb)
	if err != nil {
		return Assessment{}, err
	}
	evidence, _ := json.Marshal(fb)
	prompt := prompts.LevelJudge(prompts.LevelJudgeInput{
		Context:   "session_feedback",
		Current:   profileLine(current),
		Reference: profileLine(ref.Profile),
		Evidence:  string(evidence),
	})
	a := e.judge(ctx, current, prompt)
	if a.Success {
		a.Delta = &Delta{
			Lexical:   round2(a.Profile.Lexical - current.Lexical),
			Syntactic: round2(a.Profile.Syntactic - current.Syntactic),
			Speed:     round2(a.Profile.Speed - current.Speed),
		}
	}
	return a, nil
}

// SetManualLevel needs no judgement.
func (e *LLMEvaluator) SetManualLevel(ctx context.Context, current Profile, band Band) (Assessment, error) {
	return e.heuristic.SetManualLevel(ctx, current, band)
}

func (e *LLMEvaluator) judge(ctx context.Context, current Profile, prompt string) Assessment {
	raw, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		e.log.Warn("level judge call failed", "error", err)
		return keep(current, "level judge unavailable")
	}
	j, err := parseJudgement(raw)
	if err != nil {
		e.log.Warn("level judge output rejected", "error", err)
		return keep(current, "level judge returned an unusable answer")
	}
	a := newAssessment(Profile{Lexical: *j.Lexical, Syntactic: *j.Syntactic, Speed: *j.Speed}.Clamped())
	a.Rationale = j.Rationale
	return a
}

func keep(current Profile, why string) Assessment {
	a := newAssessment(current)
	a.Success = false
	a.Rationale = why
	return a
}

func parseJudgement(raw string) (judgement, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var j judgement
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &j); err != nil {
		return judgement{}, fmt.Errorf("decode judgement: %w", err)
	}
	if j.Lexical == nil || j.Syntactic == nil || j.Speed == nil {
		return judgement{}, fmt.Errorf("judgement missing a skill score")
	}
	return j, nil
}

func profileLine(p Profile) string {
	return fmt.Sprintf("lexical=%.2f syntactic=%.2f speed=%.2f", p.Lexical, p.Syntactic, p.Speed)
}
