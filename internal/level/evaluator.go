package level

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoTests is returned when a level test carries no answers.
var ErrNoTests = errors.New("level test has no answers")

// TestAnswer is one listening item from the placement test.
type TestAnswer struct {
	ScriptID      string  `json:"script_id,omitempty"`
	Understanding float64 `json:"understanding"`
}

// TestRequest is a placement test submission. Level is the band the learner
// believes they are at; answers adjust from there.
type TestRequest struct {
	Level string       `json:"level"`
	Tests []TestAnswer `json:"tests"`
}

// SessionFeedback is the interaction summary sent after a listening session.
type SessionFeedback struct {
	GeneratedContentID      *int64 `json:"generated_content_id,omitempty"`
	PauseCount              int    `json:"pause_cnt"`
	RewindCount             int    `json:"rewind_cnt"`
	VocabLookupCount        int    `json:"vocab_lookup_cnt"`
	VocabSaveCount          int    `json:"vocab_save_cnt"`
	UnderstandingDifficulty int    `json:"understanding_difficulty"`
	SpeedDifficulty         int    `json:"speed_difficulty"`
}

// SkillLevel is a band plus the raw score it came from.
type SkillLevel struct {
	Band  Band    `json:"cefr_level"`
	Score float64 `json:"score"`
}

// Delta is a per-skill change applied by session feedback.
type Delta struct {
	Lexical   float64 `json:"lexical_level_delta"`
	Syntactic float64 `json:"syntactic_level_delta"`
	Speed     float64 `json:"speed_level_delta"`
}

// Assessment is what every evaluator returns. Profile is the new state to
// persist; when Success is false the caller keeps the previous profile.
type Assessment struct {
	Success   bool       `json:"success"`
	Profile   Profile    `json:"-"`
	Lexical   SkillLevel `json:"lexical"`
	Syntactic SkillLevel `json:"syntactic"`
	Auditory  SkillLevel `json:"auditory"`
	Overall   SkillLevel `json:"overall"`
	Delta     *Delta     `json:"delta,omitempty"`
	Rationale string     `json:"rationale,omitempty"`
}

func newAssessment(p Profile) Assessment {
	overall := p.Overall()
	return Assessment{
		Success:   true,
		Profile:   p,
		Lexical:   SkillLevel{Band: BandForSkill(p.Lexical), Score: p.Lexical},
		Syntactic: SkillLevel{Band: BandForSkill(p.Syntactic), Score: p.Syntactic},
		Auditory:  SkillLevel{Band: BandForSkill(p.Speed), Score: p.Speed},
		Overall:   SkillLevel{Band: BandForSkill(overall), Score: overall},
	}
}

// Evaluator turns learner evidence into an updated profile. Implementations
// are pure with respect to storage; Service persists the outcome.
type Evaluator interface {
	EvaluateTest(ctx context.Context, current Profile, req TestRequest) (Assessment, error)
	EvaluateSessionFeedback(ctx context.Context, current Profile, fb SessionFeedback) (Assessment, error)
	SetManualLevel(ctx context.Context, current Profile, band Band) (Assessment, error)
}

// Store reads and writes learner profiles.
type Store interface {
	Profile(ctx context.Context, learnerID int64) (Profile, error)
	SaveProfile(ctx context.Context, learnerID int64, p Profile) error
}

// Service binds an Evaluator to a Store.
type Service struct {
	eval  Evaluator
	store Store
	log   *slog.Logger
}

// NewService picks the evaluator once; every call goes through it.
func NewService(eval Evaluator, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{eval: eval, store: store, log: log.With("component", "level")}
}

// EvaluateTest scores a placement test for learnerID.
func (s *Service) EvaluateTest(ctx context.Context, learnerID int64, req TestRequest) (Assessment, error) {
	return s.apply(ctx, learnerID, "level_test", func(cur Profile) (Assessment, error) {
		return s.eval.EvaluateTest(ctx, cur, req)
	})
}

// EvaluateSessionFeedback nudges learnerID's levels from one session.
func (s *Service) EvaluateSessionFeedback(ctx context.Context, learnerID int64, fb SessionFeedback) (Assessment, error) {
	return s.apply(ctx, learnerID, "session_feedback", func(cur Profile) (Assessment, error) {
		return s.eval.EvaluateSessionFeedback(ctx, cur, fb)
	})
}

// SetManualLevel sets all three skills to the threshold of band.
func (s *Service) SetManualLevel(ctx context.Context, learnerID int64, band string) (Assessment, error) {
	b, err := ParseBand(band)
	if err != nil {
		return Assessment{}, err
	}
	return s.apply(ctx, learnerID, "manual_level", func(cur Profile) (Assessment, error) {
		return s.eval.SetManualLevel(ctx, cur, b)
	})
}

// Profile returns learnerID's stored profile.
func (s *Service) Profile(ctx context.Context, learnerID int64) (Profile, error) {
	return s.store.Profile(ctx, learnerID)
}

func (s *Service) apply(ctx context.Context, learnerID int64, op string, fn func(Profile) (Assessment, error)) (Assessment, error) {
	start := time.Now()
	cur, err := s.store.Profile(ctx, learnerID)
	if err != nil {
		return Assessment{}, fmt.Errorf("load profile: %w", err)
	}
	res, err := fn(cur)
	if err != nil {
		return Assessment{}, err
	}
	if !res.Success {
		s.log.Warn("level evaluation kept previous profile", "op", op, "learner_id", learnerID, "rationale", res.Rationale)
		return res, nil
	}
	if err = s.store.SaveProfile(ctx, learnerID, res.Profile.Clamped()); err != nil {
		return Assessment{}, fmt.Errorf("save profile: %w", err)
	}
	s.log.Info("level updated",
		"op", op,
		"learner_id", learnerID,
		"lexical", res.Profile.Lexical,
		"syntactic", res.Profile.Syntactic,
		"speed", res.Profile.Speed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
