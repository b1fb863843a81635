package voice

import (
	"math/rand/v2"
	"sync"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
)

const (
	accentWeight = 0.7
	styleWeight  = 0.3

	defaultAccentScore = 30.0
	defaultStyleScore  = 20.0
)

var accentScores = map[string]float64{
	"none":              0,
	"american_standard": 5,
	"british":           40,
	"american_southern": 60,
	"american_urban":    60,
	"british_northern":  80,
}

var styleScores = map[string]float64{
	"professional":   0,
	"narration":      5,
	"storyteller":    10,
	"conversational": 20,
	"mellow":         15,
	"chill":          15,
	"elegant":        25,
	"resonant":       25,
	"emotive":        40,
	"playful":        45,
	"husky":          50,
	"versatile":      30,
	"gravelly":       70,
	"quirky":         85,
}

// Interval is a closed challenge range.
type Interval struct {
	Min, Max float64
}

func (iv Interval) Contains(v float64) bool { return v >= iv.Min && v <= iv.Max }

// challengeIntervals is the voice difficulty each learner band should hear.
var challengeIntervals = map[level.Band]Interval{
	level.A1: {0, 30},
	level.A2: {0, 30},
	level.B1: {30, 70},
	level.B2: {30, 70},
	level.C1: {70, 100},
	level.C2: {70, 100},
}

// fallbackBand is tried when the learner's own band has no voices.
const fallbackBand = level.B1

// IntervalFor returns the challenge interval of band.
func IntervalFor(b level.Band) Interval {
	if iv, ok := challengeIntervals[b]; ok {
		return iv
	}
	return challengeIntervals[level.A1]
}

// Score is how hard a voice is to follow.
func Score(v Voice) float64 {
	accent, ok := accentScores[v.Tags.Accent]
	if !ok {
		accent = defaultAccentScore
	}
	style, ok := styleScores[v.Tags.Style]
	if !ok {
		style = defaultStyleScore
	}
	return accentWeight*accent + styleWeight*style
}

// Tier reports which rung of the fallback ladder produced a selection.
type Tier string

const (
	TierLearner  Tier = "learner_band"
	TierFallback Tier = "default_band"
	TierCatalog  Tier = "catalog"
)

// Selector picks a voice uniformly at random among those that match.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector uses rng for draws; nil seeds from the runtime.
func NewSelector(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{rng: rng}
}

// Select picks a voice for a learner with the given composite challenge
// score. It only fails on an empty catalog.
func (s *Selector) Select(voices []Voice, challengeScore float64) (Voice, Tier, error) {
	if len(voices) == 0 {
		return Voice{}, "", ErrEmptyCatalog
	}
	band := level.BandForComposite(challengeScore)
	if pool := inInterval(voices, IntervalFor(band)); len(pool) > 0 {
		return s.pick(pool), TierLearner, nil
	}
	if pool := inInterval(voices, IntervalFor(fallbackBand)); len(pool) > 0 {
		return s.pick(pool), TierFallback, nil
	}
	return s.pick(voices), TierCatalog, nil
}

func (s *Selector) pick(pool []Voice) Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rng.IntN(len(pool))]
}

func inInterval(voices []Voice, iv Interval) []Voice {
	var out []Voice
	for _, v := range voices {
		if iv.Contains(Score(v)) {
			out = append(out, v)
		}
	}
	return out
}
