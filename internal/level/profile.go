package level

import (
	"fmt"
	"math"
	"strings"
)

// Skill scores live on a 0..300 scale.
const (
	MinScore = 0.0
	MaxScore = 300.0
)

// Band is a CEFR proficiency band.
type Band string

const (
	A1 Band = "A1"
	A2 Band = "A2"
	B1 Band = "B1"
	B2 Band = "B2"
	C1 Band = "C1"
	C2 Band = "C2"
)

// Bands lists every band from lowest to highest.
var Bands = []Band{A1, A2, B1, B2, C1, C2}

// ParseBand accepts "b1", "B1", " b1 ".
func ParseBand(s string) (Band, error) {
	b := Band(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Bands {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("invalid CEFR level %q: must be one of A1, A2, B1, B2, C1, C2", s)
}

func (b Band) index() int {
	for i, known := range Bands {
		if b == known {
			return i
		}
	}
	return -1
}

// Thresholds is the raw skill score at which each band begins.
var Thresholds = map[Band]float64{
	A1: 20,
	A2: 60,
	B1: 110,
	B2: 160,
	C1: 210,
	C2: 260,
}

// BandForSkill maps a raw 0..300 skill score to the highest band whose
// threshold it reaches. Anything below the A1 threshold is still A1.
func BandForSkill(score float64) Band {
	out := A1
	for _, b := range Bands {
		if score >= Thresholds[b] {
			out = b
		}
	}
	return out
}

// compositeBands maps the 0..100 composite challenge score to a band.
// Upper bounds are exclusive except for the last row.
var compositeBands = []struct {
	band   Band
	lo, hi float64
}{
	{A1, 0, 10},
	{A2, 10, 25},
	{B1, 25, 45},
	{B2, 45, 65},
	{C1, 65, 85},
	{C2, 85, 100},
}

// BandForComposite maps a composite challenge score to a band.
// Scores outside the table fall back to A1.
func BandForComposite(score float64) Band {
	last := len(compositeBands) - 1
	for i, row := range compositeBands {
		if score >= row.lo && (score < row.hi || (i == last && score <= row.hi)) {
			return row.band
		}
	}
	return A1
}

// Profile holds a learner's three skill levels.
type Profile struct {
	Lexical   float64 `json:"lexical_level"`
	Syntactic float64 `json:"syntactic_level"`
	Speed     float64 `json:"speed_level"`
}

// Clamped returns a copy with every skill inside [MinScore, MaxScore].
func (p Profile) Clamped() Profile {
	return Profile{
		Lexical:   clampScore(p.Lexical),
		Syntactic: clampScore(p.Syntactic),
		Speed:     clampScore(p.Speed),
	}
}

// ChallengeScore is the weighted composite used for script difficulty and
// voice selection. The weighted sum lives on the 0..300 skill scale and the
// ×3/9 factor brings it to 0..100.
func (p Profile) ChallengeScore() float64 {
	c := p.Clamped()
	weighted := c.Lexical*0.3 + c.Syntactic*0.2 + c.Speed*0.5
	return weighted * 3 / 9
}

// Band is the CEFR band of the composite challenge score.
func (p Profile) Band() Band {
	return BandForComposite(p.ChallengeScore())
}

// Overall is the unweighted mean of the three skills.
func (p Profile) Overall() float64 {
	return (p.Lexical + p.Syntactic + p.Speed) / 3
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return max(MinScore, min(MaxScore, v))
}
