package voice

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
)

var (
	easy   = Voice{Name: "Easy", VoiceID: "v-easy", Tags: Tags{Gender: "female", Accent: "american_standard", Style: "narration"}}
	medium = Voice{Name: "Medium", VoiceID: "v-medium", Tags: Tags{Gender: "male", Accent: "british", Style: "conversational"}}
	hard   = Voice{Name: "Hard", VoiceID: "v-hard", Tags: Tags{Gender: "male", Accent: "british_northern", Style: "quirky"}}
)

func TestScore(t *testing.T) {
	cases := []struct {
		v    Voice
		want float64
	}{
		{easy, 5},
		{medium, 34},
		{hard, 81.5},
		{Voice{Tags: Tags{Accent: "martian", Style: "unknown"}}, 0.7*30 + 0.3*20},
	}
	for _, c := range cases {
		if got := Score(c.v); got < c.want-1e-9 || got > c.want+1e-9 {
			t.Fatalf("Score(%s) = %v, want %v", c.v.Name, got, c.want)
		}
	}
}

func TestSelectBandContainment(t *testing.T) {
	sel := NewSelector(rand.New(rand.NewPCG(1, 2)))
	// No voice falls inside the C-band interval, forcing the fallback rung.
	voices := []Voice{easy, medium}

	for score := 0.0; score <= 100; score += 0.5 {
		v, tier, err := sel.Select(voices, score)
		if err != nil {
			t.Fatalf("select(%v): %v", score, err)
		}
		band := level.BandForComposite(score)
		if tier == TierLearner && !IntervalFor(band).Contains(Score(v)) {
			t.Fatalf("score %v band %s picked %s (%.1f) outside %v", score, band, v.Name, Score(v), IntervalFor(band))
		}
		if band == level.C1 || band == level.C2 {
			if tier != TierFallback || v.VoiceID != medium.VoiceID {
				t.Fatalf("score %v: expected default-band fallback to Medium, got %s via %s", score, v.Name, tier)
			}
		}
	}
}

func TestSelectFallsBackToCatalog(t *testing.T) {
	sel := NewSelector(rand.New(rand.NewPCG(3, 4)))
	v, tier, err := sel.Select([]Voice{hard}, 5)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if tier != TierCatalog || v.VoiceID != hard.VoiceID {
		t.Fatalf("expected catalog tier with Hard, got %s via %s", v.Name, tier)
	}
}

func TestSelectEmptyCatalog(t *testing.T) {
	_, _, err := NewSelector(nil).Select(nil, 50)
	if !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
}

func TestSelectIsRoughlyUniform(t *testing.T) {
	sel := NewSelector(rand.New(rand.NewPCG(5, 6)))
	twin := easy
	twin.VoiceID = "v-easy-2"
	counts := map[string]int{}
	for range 2000 {
		v, _, _ := sel.Select([]Voice{easy, twin, hard}, 1)
		counts[v.VoiceID]++
	}
	if counts[hard.VoiceID] != 0 {
		t.Fatalf("hard voice drawn for an A1 learner: %v", counts)
	}
	if counts[easy.VoiceID] < 800 || counts[twin.VoiceID] < 800 {
		t.Fatalf("draw looks biased: %v", counts)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "voices.json")
	doc := `{"voices":[{"name":"Rachel","voice_id":"21m00Tcm4TlvDq8ikWAM","tags":{"gender":"female","accent":"american_standard","style":"narration"}}]}`
	if err := os.WriteFile(good, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadCatalog(good)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cat.Len() != 1 || cat.Voices()[0].Tags.Style != "narration" {
		t.Fatalf("unexpected catalog %+v", cat.Voices())
	}

	if _, err = LoadCatalog(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, []byte("voices: []\n"), 0o644)
	if _, err = LoadCatalog(empty); !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"voices": [`), 0o644)
	if _, err = LoadCatalog(bad); err == nil {
		t.Fatal("expected decode error")
	}
}
