package level

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestChallengeScore(t *testing.T) {
	p := Profile{Lexical: 50, Syntactic: 45, Speed: 55}
	want := (50*0.3 + 45*0.2 + 55*0.5) * 3 / 9
	if got := p.ChallengeScore(); !almost(got, want) {
		t.Fatalf("ChallengeScore = %v, want %v", got, want)
	}
	if p.Band() != A2 {
		t.Fatalf("expected A2, got %s", p.Band())
	}
}

func TestChallengeScoreClampsSkills(t *testing.T) {
	hi := Profile{Lexical: 900, Syntactic: 900, Speed: 900}
	if got := hi.ChallengeScore(); !almost(got, 100) {
		t.Fatalf("expected 100 at the ceiling, got %v", got)
	}
	lo := Profile{Lexical: -5, Syntactic: math.NaN(), Speed: -1}
	if got := lo.ChallengeScore(); got != 0 {
		t.Fatalf("expected 0 at the floor, got %v", got)
	}
}

func TestBandForComposite(t *testing.T) {
	cases := []struct {
		score float64
		want  Band
	}{
		{0, A1}, {9.99, A1}, {10, A2}, {24.9, A2}, {25, B1}, {45, B2},
		{65, C1}, {85, C2}, {100, C2}, {-1, A1}, {101, A1},
	}
	for _, c := range cases {
		if got := BandForComposite(c.score); got != c.want {
			t.Fatalf("BandForComposite(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestParseBand(t *testing.T) {
	if b, err := ParseBand(" c1 "); err != nil || b != C1 {
		t.Fatalf("ParseBand(c1) = %q, %v", b, err)
	}
	if _, err := ParseBand("D4"); err == nil {
		t.Fatal("expected error for unknown band")
	}
}

func TestPlacementInterpolation(t *testing.T) {
	cases := []struct {
		band Band
		avg  float64
		want float64
	}{
		{B1, 80, 110},
		{B1, 100, 135},
		{B1, 0, 60},
		{B1, 40, 85},
		{A1, 0, 0},
		{C2, 100, 280},
	}
	for _, c := range cases {
		if got := placementScore(c.band, c.avg); !almost(got, c.want) {
			t.Fatalf("placementScore(%s, %v) = %v, want %v", c.band, c.avg, got, c.want)
		}
	}
}

func TestHeuristicEvaluateTest(t *testing.T) {
	var h HeuristicEvaluator
	a, err := h.EvaluateTest(context.Background(), Profile{}, TestRequest{
		Level: "b1",
		Tests: []TestAnswer{{Understanding: 100}, {Understanding: 100}},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !almost(a.Profile.Lexical, 135) || !almost(a.Profile.Speed, 135) {
		t.Fatalf("unexpected profile %+v", a.Profile)
	}
	if a.Overall.Band != B1 {
		t.Fatalf("expected B1 overall, got %s", a.Overall.Band)
	}

	if _, err = h.EvaluateTest(context.Background(), Profile{}, TestRequest{Level: "b1"}); !errors.Is(err, ErrNoTests) {
		t.Fatalf("expected ErrNoTests, got %v", err)
	}
}

func TestFeedbackDelta(t *testing.T) {
	d := feedbackDelta(SessionFeedback{UnderstandingDifficulty: 100, SpeedDifficulty: 50})
	if !almost(d.Lexical, 0.64) || !almost(d.Syntactic, 3.2) || !almost(d.Speed, 1.28) {
		t.Fatalf("unexpected delta %+v", d)
	}

	// Counts are capped, so a huge rewind count still clips to the limit.
	d = feedbackDelta(SessionFeedback{PauseCount: 50, RewindCount: 50, UnderstandingDifficulty: 50, SpeedDifficulty: 50})
	if !almost(d.Lexical, -4) || !almost(d.Syntactic, -8) || !almost(d.Speed, -6) {
		t.Fatalf("unexpected delta %+v", d)
	}
}

func TestFeedbackKeepsRange(t *testing.T) {
	var h HeuristicEvaluator
	a, err := h.EvaluateSessionFeedback(context.Background(), Profile{Lexical: 299, Syntactic: 1, Speed: 150},
		SessionFeedback{VocabSaveCount: 5, RewindCount: 5, UnderstandingDifficulty: 50, SpeedDifficulty: 50})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.Profile.Lexical != MaxScore || a.Profile.Syntactic != MinScore {
		t.Fatalf("expected clamped profile, got %+v", a.Profile)
	}
	if a.Delta == nil {
		t.Fatal("expected delta")
	}
}

func TestManualLevel(t *testing.T) {
	var h HeuristicEvaluator
	a, _ := h.SetManualLevel(context.Background(), Profile{}, C1)
	if a.Profile.Lexical != 210 || a.Profile.Syntactic != 210 || a.Profile.Speed != 210 {
		t.Fatalf("unexpected profile %+v", a.Profile)
	}
	if a.Lexical.Band != C1 {
		t.Fatalf("expected C1, got %s", a.Lexical.Band)
	}
}

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(context.Context, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestLLMEvaluatorParsesJudgement(t *testing.T) {
	llm := &stubCompleter{reply: "```json\n{\"lexical\":120,\"syntactic\":100,\"speed\":400,\"rationale\":\"ok\"}\n```"}
	e := NewLLMEvaluator(llm, quietLogger())
	a, err := e.EvaluateTest(context.Background(), Profile{}, TestRequest{Level: "B1", Tests: []TestAnswer{{Understanding: 70}}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !a.Success || a.Profile.Lexical != 120 || a.Profile.Speed != MaxScore {
		t.Fatalf("unexpected assessment %+v", a)
	}
	if llm.calls != 1 {
		t.Fatalf("expected one call, got %d", llm.calls)
	}
}

func TestLLMEvaluatorKeepsProfileOnFailure(t *testing.T) {
	cur := Profile{Lexical: 80, Syntactic: 70, Speed: 60}
	e := NewLLMEvaluator(&stubCompleter{reply: "not json"}, quietLogger())
	a, err := e.EvaluateSessionFeedback(context.Background(), cur, SessionFeedback{PauseCount: 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.Success || a.Profile != cur || a.Delta != nil {
		t.Fatalf("expected previous profile kept, got %+v", a)
	}
}

type memStore struct {
	profiles map[int64]Profile
	saves    int
}

func (m *memStore) Profile(_ context.Context, id int64) (Profile, error) {
	return m.profiles[id], nil
}

func (m *memStore) SaveProfile(_ context.Context, id int64, p Profile) error {
	m.saves++
	m.profiles[id] = p
	return nil
}

func TestServicePersistsOnlySuccess(t *testing.T) {
	store := &memStore{profiles: map[int64]Profile{7: {Lexical: 80, Syntactic: 80, Speed: 80}}}

	svc := NewService(NewHeuristicEvaluator(), store, quietLogger())
	if _, err := svc.SetManualLevel(context.Background(), 7, "a2"); err != nil {
		t.Fatalf("manual: %v", err)
	}
	if store.profiles[7].Lexical != 60 || store.saves != 1 {
		t.Fatalf("expected saved A2 profile, got %+v (saves=%d)", store.profiles[7], store.saves)
	}

	failing := NewService(NewLLMEvaluator(&stubCompleter{err: errors.New("down")}, quietLogger()), store, quietLogger())
	if _, err := failing.EvaluateSessionFeedback(context.Background(), 7, SessionFeedback{}); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("failed judgement must not save, saves=%d", store.saves)
	}

	if _, err := svc.SetManualLevel(context.Background(), 7, "Z9"); err == nil {
		t.Fatal("expected invalid band error")
	}
}
