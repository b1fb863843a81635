package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// SentenceTiming is one narrated line and the moment it starts.
type SentenceTiming struct {
	ID        int     `json:"id"`
	StartTime float64 `json:"start_time"`
	Text      string  `json:"text"`
}

// ParseAlignment folds per-character timings into one record per line.
// A newline closes the current line; blank lines are skipped and trailing
// text without a final newline is kept. The slices must be the same length.
func ParseAlignment(chars []string, starts []float64) []SentenceTiming {
	if len(chars) != len(starts) {
		panic(fmt.Sprintf("alignment: %d characters but %d start times", len(chars), len(starts)))
	}

	var (
		out     []SentenceTiming
		buf     strings.Builder
		startAt float64
		open    bool
	)
	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			out = append(out, SentenceTiming{ID: len(out), StartTime: round3(startAt), Text: text})
		}
		buf.Reset()
		open = false
	}

	for i, ch := range chars {
		if ch == "\n" {
			flush()
			continue
		}
		if !open {
			startAt = starts[i]
			open = true
		}
		buf.WriteString(ch)
	}
	flush()
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
