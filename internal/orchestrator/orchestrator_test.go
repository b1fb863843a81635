package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/pipeline"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/voice"
)

type stubScripts struct {
	script pipeline.Script
	err    error
	block  bool
}

func (s *stubScripts) Generate(ctx context.Context, _, _ string, _ level.Profile) (pipeline.Script, error) {
	if s.block {
		<-ctx.Done()
		return pipeline.Script{}, ctx.Err()
	}
	return s.script, s.err
}

type stubStore struct {
	mu           sync.Mutex
	insertErr    error
	finalizeOut  content.Outcome
	finalizeErr  error
	inserted     int
	finalized    []int64
	finalPayload any
}

func (s *stubStore) InsertPlaceholder(context.Context, int64, string, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted++
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	return 41, nil
}

func (s *stubStore) Finalize(_ context.Context, id int64, _ string, payload any) (content.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, id)
	s.finalPayload = payload
	return s.finalizeOut, s.finalizeErr
}

type stubEnricher struct {
	busy  bool
	calls [][]string
}

func (e *stubEnricher) Enrich(sentences []string, _ int64) bool {
	e.calls = append(e.calls, sentences)
	return !e.busy
}

type stubSynth struct {
	err error
}

func (s *stubSynth) Synthesize(ctx context.Context, script, _ string) (*pipeline.Speech, error) {
	if s.err != nil {
		return nil, s.err
	}
	local := pipeline.NewLocalSynthesizer()
	aligned, err := local.SynthesizeWithAlignment(ctx, script, "")
	if err != nil {
		return nil, err
	}
	return &pipeline.Speech{
		Audio:     aligned.Audio,
		Sentences: pipeline.ParseAlignment(aligned.Characters, aligned.CharacterStartTimes),
	}, nil
}

type stubBlobs struct {
	err  error
	keys []string
}

func (b *stubBlobs) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.keys = append(b.keys, key)
	return "https://cdn.test/" + key, nil
}

type fixture struct {
	scripts  *stubScripts
	store    *stubStore
	enricher *stubEnricher
	synth    *stubSynth
	blobs    *stubBlobs
	steps    []string
}

func newFixture() *fixture {
	return &fixture{
		scripts:  &stubScripts{script: pipeline.Script{Title: "A Walk", Body: "One.\nTwo!\nThree?"}},
		store:    &stubStore{},
		enricher: &stubEnricher{},
		synth:    &stubSynth{},
		blobs:    &stubBlobs{},
	}
}

func (f *fixture) orchestrator(d Deadlines) *Orchestrator {
	catalog := voice.NewCatalog([]voice.Voice{
		{Name: "Rachel", VoiceID: "v-rachel", Tags: voice.Tags{Accent: "american_standard", Style: "narration"}},
	})
	return New(Config{
		Scripts:   f.scripts,
		Voices:    catalog,
		Selector:  voice.NewSelector(rand.New(rand.NewPCG(1, 2))),
		Store:     f.store,
		Enricher:  f.enricher,
		Synth:     f.synth,
		Blobs:     f.blobs,
		Deadlines: d,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) progress(step, _ string) { f.steps = append(f.steps, step) }

var learner = level.Profile{Lexical: 50, Syntactic: 45, Speed: 55}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()
	resp, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "calm", Theme: "walk"}, 9, learner, f.progress)
	if err != nil {
		t.Fatal(err)
	}

	wantSteps := []string{"script_generation", "audio_generation", "saving"}
	if !reflect.DeepEqual(f.steps, wantSteps) {
		t.Errorf("steps = %v, want %v", f.steps, wantSteps)
	}
	if resp.GeneratedContentID == nil || *resp.GeneratedContentID != 41 {
		t.Errorf("content id = %v", resp.GeneratedContentID)
	}
	if resp.Title != "A Walk" || len(resp.Sentences) != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.HasPrefix(resp.AudioURL, "https://cdn.test/audio/") || !strings.HasSuffix(resp.AudioURL, ".wav") {
		t.Errorf("audio url = %q", resp.AudioURL)
	}
	if !reflect.DeepEqual(f.store.finalized, []int64{41}) {
		t.Errorf("finalized = %v", f.store.finalized)
	}
	if f.store.finalPayload != resp {
		t.Error("finalize payload is not the returned response")
	}
	if len(f.enricher.calls) != 1 || !reflect.DeepEqual(f.enricher.calls[0], []string{"One.", "Two!", "Three?"}) {
		t.Errorf("enrich calls = %v", f.enricher.calls)
	}
}

func TestRunPlaceholderFailureIsSoft(t *testing.T) {
	f := newFixture()
	f.store.insertErr = errors.New("db unreachable")

	resp, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, f.progress)
	if err != nil {
		t.Fatal(err)
	}
	if resp.GeneratedContentID != nil {
		t.Errorf("content id = %v, want nil", *resp.GeneratedContentID)
	}
	if len(f.enricher.calls) != 0 {
		t.Error("enrichment spawned without a content id")
	}
	if len(f.store.finalized) != 0 {
		t.Error("finalize attempted without a content id")
	}
}

func TestRunFinalizeSoftOutcomes(t *testing.T) {
	for name, setup := range map[string]func(*stubStore){
		"not found": func(s *stubStore) { s.finalizeOut = content.OutcomeNotFound },
		"error":     func(s *stubStore) { s.finalizeErr = errors.New("timeout") },
	} {
		f := newFixture()
		setup(f.store)
		resp, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, nil)
		if err != nil || resp == nil {
			t.Errorf("%s: resp = %v err = %v", name, resp, err)
		}
	}
}

func TestRunEnrichBusyIsSoft(t *testing.T) {
	f := newFixture()
	f.enricher.busy = true
	if _, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, nil); err != nil {
		t.Fatal(err)
	}
}

func TestRunScriptFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.scripts.err = &pipeline.GenerationFailedError{Attempts: 3}

	_, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, f.progress)
	if !IsFatal(err) || StepCode(err) != "script_generation" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, pipeline.ErrGenerationFailed) {
		t.Errorf("err does not wrap ErrGenerationFailed: %v", err)
	}
	if f.store.inserted != 0 {
		t.Error("placeholder inserted after script failure")
	}
	if !reflect.DeepEqual(f.steps, []string{"script_generation"}) {
		t.Errorf("steps = %v", f.steps)
	}
}

func TestRunSynthesisFailureSkipsFinalize(t *testing.T) {
	f := newFixture()
	f.synth.err = &pipeline.SynthesisFailedError{Engine: "elevenlabs", Err: errors.New("quota")}

	_, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, nil)
	if !IsFatal(err) || StepCode(err) != "audio_generation" {
		t.Fatalf("err = %v", err)
	}
	if len(f.store.finalized) != 0 {
		t.Error("finalize attempted after synthesis failure")
	}
	if f.store.inserted != 1 {
		t.Errorf("placeholder inserts = %d, want 1", f.store.inserted)
	}
}

func TestRunUploadFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.blobs.err = errors.New("bucket gone")

	_, err := f.orchestrator(Deadlines{}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, nil)
	if !IsFatal(err) || StepCode(err) != "saving" {
		t.Fatalf("err = %v", err)
	}
	if len(f.store.finalized) != 0 {
		t.Error("finalize attempted after upload failure")
	}
}

func TestRunScriptDeadline(t *testing.T) {
	f := newFixture()
	f.scripts.block = true

	_, err := f.orchestrator(Deadlines{Script: 20 * time.Millisecond}).Run(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner, nil)
	if !IsFatal(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestPreviewPersistsNothing(t *testing.T) {
	f := newFixture()
	p, err := f.orchestrator(Deadlines{}).Preview(context.Background(), Request{Mood: "m", Theme: "t"}, 1, learner)
	if err != nil {
		t.Fatal(err)
	}
	if p.SelectedVoiceID != "v-rachel" || p.SelectedVoiceName != "Rachel" || p.Title != "A Walk" {
		t.Errorf("preview = %+v", p)
	}
	if f.store.inserted != 0 || len(f.blobs.keys) != 0 || len(f.enricher.calls) != 0 {
		t.Error("preview touched persistence")
	}
}

func TestRequestValidate(t *testing.T) {
	r := Request{Mood: "  calm ", Theme: " park"}
	if err := r.Validate(); err != nil || r.Mood != "calm" || r.Theme != "park" {
		t.Errorf("validate = %v, %+v", err, r)
	}
	for _, bad := range []Request{{}, {Mood: "x"}, {Theme: "y"}, {Mood: " ", Theme: "y"}} {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Validate(%+v) = %v", bad, err)
		}
	}
}

func TestStageErrorHelpers(t *testing.T) {
	base := errors.New("x")
	if IsFatal(soft(StagePlaceholder, base)) {
		t.Error("soft reported fatal")
	}
	if !IsFatal(fatal(StageUpload, base)) || !errors.Is(fatal(StageUpload, base), base) {
		t.Error("fatal helpers broken")
	}
	if StepCode(base) != "" {
		t.Error("plain error has a step code")
	}
}
