package level

import (
	"context"
	"math"
)

// feedbackWeights maps the six feedback factors (rows: pause, rewind,
// vocab lookup, vocab save, understanding, speed) onto the three skills
// (columns: lexical, syntactic, speed).
var feedbackWeights = [6][3]float64{
	{-0.4, -1.2, 0},
	{-0.4, -0.8, -1.2},
	{2.4, 0, 0},
	{3.2, 0, 0},
	{0.32, 1.6, 0.64},
	{0, 0, 1.6},
}

const (
	maxDelta      = 8.0
	maxCountInput = 5
)

// HeuristicEvaluator applies fixed weights and interpolation rules with no
// external calls.
type HeuristicEvaluator struct{}

func NewHeuristicEvaluator() *HeuristicEvaluator { return &HeuristicEvaluator{} }

// EvaluateTest starts from the claimed band's threshold. Average
// understanding of 80 keeps it there; 100 moves halfway to the next band;
// 0 drops to the previous band's threshold.
func (HeuristicEvaluator) EvaluateTest(_ context.Context, _ Profile, req TestRequest) (Assessment, error) {
	claimed, err := ParseBand(req.Level)
	if err != nil {
		return Assessment{}, err
	}
	if len(req.Tests) == 0 {
		return Assessment{}, ErrNoTests
	}
	score := placementScore(claimed, averageUnderstanding(req.Tests))
	return newAssessment(Profile{Lexical: score, Syntactic: score, Speed: score}), nil
}

func averageUnderstanding(tests []TestAnswer) float64 {
	var total float64
	for _, t := range tests {
		total += t.Understanding
	}
	return total / float64(len(tests))
}

func placementScore(claimed Band, avgUnderstanding float64) float64 {
	diff := max(-80, min(20, avgUnderstanding-80))
	idx := claimed.index()
	base := Thresholds[claimed]

	var target float64
	if diff >= 0 {
		next := MaxScore
		if idx < len(Bands)-1 {
			next = Thresholds[Bands[idx+1]]
		}
		target = base + (next-base)*0.5*(diff/20)
	} else {
		prev := MinScore
		if idx > 0 {
			prev = Thresholds[Bands[idx-1]]
		}
		target = base + (prev-base)*(-diff/80)
	}
	return clampScore(target)
}

// EvaluateSessionFeedback adds a clipped weighted delta to each skill.
func (HeuristicEvaluator) EvaluateSessionFeedback(_ context.Context, current Profile, fb SessionFeedback) (Assessment, error) {
	d := feedbackDelta(fb)
	next := Profile{
		Lexical:   clampScore(current.Lexical + d.Lexical),
		Syntactic: clampScore(current.Syntactic + d.Syntactic),
		Speed:     clampScore(current.Speed + d.Speed),
	}
	a := newAssessment(next)
	a.Delta = &d
	return a, nil
}

// feedbackVector normalizes raw feedback: counts are capped at
// maxCountInput, the two 0..100 difficulty ratings map to -2..2 around 50.
func feedbackVector(fb SessionFeedback) [6]float64 {
	count := func(n int) float64 { return float64(max(0, min(maxCountInput, n))) }
	rating := func(n int) float64 { return (float64(max(0, min(100, n))) - 50) / 25 }
	return [6]float64{
		count(fb.PauseCount),
		count(fb.RewindCount),
		count(fb.VocabLookupCount),
		count(fb.VocabSaveCount),
		rating(fb.UnderstandingDifficulty),
		rating(fb.SpeedDifficulty),
	}
}

func feedbackDelta(fb SessionFeedback) Delta {
	vec := feedbackVector(fb)
	var res [3]float64
	for i := range vec {
		for j := range res {
			res[j] += vec[i] * feedbackWeights[i][j]
		}
	}
	for j := range res {
		res[j] = max(-maxDelta, min(maxDelta, round2(res[j])))
	}
	return Delta{Lexical: res[0], Syntactic: res[1], Speed: res[2]}
}

// SetManualLevel pins all skills to the band threshold.
func (HeuristicEvaluator) SetManualLevel(_ context.Context, _ Profile, band Band) (Assessment, error) {
	score := Thresholds[band]
	return newAssessment(Profile{Lexical: score, Syntactic: score, Speed: score}), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
