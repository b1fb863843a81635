package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
)

// Speech is the synthesis stage result.
type Speech struct {
	Audio     []byte
	Sentences []SentenceTiming
	LatencyMs float64
}

// Synthesizer runs provider calls on a bounded pool of workers so callers
// only ever wait on a channel. It does not retry.
type Synthesizer struct {
	router *Router[AlignedSynthesizer]
	engine string
	pool   *semaphore.Weighted
	log    *slog.Logger
}

// NewSynthesizer registers backends by engine name. workers bounds the
// number of concurrent provider calls.
func NewSynthesizer(backends map[string]AlignedSynthesizer, engine string, workers int, log *slog.Logger) *Synthesizer {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{
		router: NewRouter(backends, engine),
		engine: engine,
		pool:   semaphore.NewWeighted(int64(workers)),
		log:    log,
	}
}

// Engines lists the registered backends.
func (s *Synthesizer) Engines() []string { return s.router.Engines() }

type synthOutcome struct {
	speech *AlignedSpeech
	err    error
}

// Synthesize renders script (one sentence per line) with voiceID. Every
// failure is a *SynthesisFailedError.
func (s *Synthesizer) Synthesize(ctx context.Context, script, voiceID string) (*Speech, error) {
	backend, err := s.router.Route(s.engine)
	if err != nil {
		return nil, s.fail("route", err)
	}

	queued := time.Now()
	if err = s.pool.Acquire(ctx, 1); err != nil {
		return nil, s.fail("queue", err)
	}
	metrics.SynthQueueWait.Observe(time.Since(queued).Seconds())

	start := time.Now()
	done := make(chan synthOutcome, 1)
	go func() {
		defer s.pool.Release(1)
		speech, callErr := backend.SynthesizeWithAlignment(ctx, script, voiceID)
		done <- synthOutcome{speech: speech, err: callErr}
	}()

	var out synthOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, s.fail("timeout", ctx.Err())
	}
	if out.err != nil {
		return nil, s.fail("provider", out.err)
	}
	if len(out.speech.Characters) != len(out.speech.CharacterStartTimes) {
		return nil, s.fail("alignment", fmt.Errorf("alignment has %d characters and %d start times",
			len(out.speech.Characters), len(out.speech.CharacterStartTimes)))
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())
	sentences := ParseAlignment(out.speech.Characters, out.speech.CharacterStartTimes)
	s.log.Info("speech synthesized", "engine", s.engine, "voice_id", voiceID, "bytes", len(out.speech.Audio), "sentences", len(sentences), "latency_ms", latency.Milliseconds())

	return &Speech{
		Audio:     out.speech.Audio,
		Sentences: sentences,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

func (s *Synthesizer) fail(kind string, err error) error {
	metrics.Errors.WithLabelValues("tts", kind).Inc()
	return &SynthesisFailedError{Engine: s.engine, Err: err}
}
