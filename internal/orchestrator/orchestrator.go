// Package orchestrator sequences one lesson generation: script, voice,
// placeholder row, detached enrichment, synthesis, upload and finalize.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/audio"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/blob"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/pipeline"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/trace"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/voice"
)

// ErrInvalidRequest marks a generation request with a missing field.
var ErrInvalidRequest = errors.New("invalid generation request")

var errEnrichBusy = errors.New("enrichment already running for content id")

// Request is the learner's lesson request.
type Request struct {
	Mood  string `json:"mood"`
	Theme string `json:"theme"`
}

// Validate trims both fields and requires them.
func (r *Request) Validate() error {
	r.Mood = strings.TrimSpace(r.Mood)
	r.Theme = strings.TrimSpace(r.Theme)
	if r.Mood == "" || r.Theme == "" {
		return fmt.Errorf("%w: mood and theme are required", ErrInvalidRequest)
	}
	return nil
}

// FinalResponse is the payload returned to the caller and persisted as
// response_json.
type FinalResponse struct {
	GeneratedContentID *int64                    `json:"generated_content_id"`
	Title              string                    `json:"title"`
	AudioURL           string                    `json:"audio_url"`
	Sentences          []pipeline.SentenceTiming `json:"sentences"`
}

// ScriptPreview is a script and voice choice with nothing persisted.
type ScriptPreview struct {
	Title             string `json:"title"`
	SelectedVoiceID   string `json:"selected_voice_id"`
	SelectedVoiceName string `json:"selected_voice_name"`
	Script            string `json:"script"`
}

// Progress receives one status update per stage start.
type Progress func(stepCode, message string)

type ScriptWriter interface {
	Generate(ctx context.Context, theme, mood string, profile level.Profile) (pipeline.Script, error)
}

type VoiceSelector interface {
	Select(voices []voice.Voice, challengeScore float64) (voice.Voice, voice.Tier, error)
}

type ContentStore interface {
	InsertPlaceholder(ctx context.Context, ownerID int64, title, script string) (int64, error)
	Finalize(ctx context.Context, id int64, audioURL string, payload any) (content.Outcome, error)
}

type Enricher interface {
	Enrich(sentences []string, contentID int64) bool
}

type Synthesizer interface {
	Synthesize(ctx context.Context, script, voiceID string) (*pipeline.Speech, error)
}

// Config lists every collaborator. Enricher and Tracer may be nil.
type Config struct {
	Scripts   ScriptWriter
	Voices    *voice.Catalog
	Selector  VoiceSelector
	Store     ContentStore
	Enricher  Enricher
	Synth     Synthesizer
	Blobs     blob.Store
	Tracer    *trace.Tracer
	Deadlines Deadlines
}

type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Orchestrator {
	cfg.Deadlines = cfg.Deadlines.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// run carries the per-generation state.
type run struct {
	o        *Orchestrator
	id       string
	log      *slog.Logger
	progress Progress
	degraded int
}

func (o *Orchestrator) newRun(ownerID int64, req Request, progress Progress) *run {
	if progress == nil {
		progress = func(string, string) {}
	}
	id := o.cfg.Tracer.StartRun(ownerID, req.Theme, req.Mood)
	return &run{
		o:        o,
		id:       id,
		log:      o.log.With("run_id", id, "owner_id", ownerID),
		progress: progress,
	}
}

// policy is the single continue/abort decision for a stage failure. It
// returns the error to abort with, or nil to carry on.
func (r *run) policy(se *StageError) error {
	if se == nil {
		return nil
	}
	metrics.Errors.WithLabelValues(string(se.Stage), se.Kind.String()).Inc()
	if se.Kind == Fatal {
		r.log.Error("stage failed", "stage", se.Stage, "error", se.Err)
		return se
	}
	r.degraded++
	r.log.Warn("stage degraded", "stage", se.Stage, "error", se.Err)
	return nil
}

func (r *run) span(stage Stage, start time.Time, detail string, se *StageError) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	status, errMsg := trace.StatusOK, ""
	if se != nil {
		status, errMsg = trace.StatusSoft, se.Err.Error()
		if se.Kind == Fatal {
			status = trace.StatusError
		}
	}
	r.o.cfg.Tracer.RecordSpan(r.id, string(stage), start, status, detail, errMsg)
}

// Run executes one generation. The returned error is always a fatal
// *StageError. Callers that must survive client disconnects pass a
// context detached from the connection.
func (o *Orchestrator) Run(ctx context.Context, req Request, ownerID int64, profile level.Profile, progress Progress) (*FinalResponse, error) {
	start := time.Now()
	r := o.newRun(ownerID, req, progress)

	resp, err := r.execute(ctx, req, ownerID, profile.Clamped())

	elapsed := time.Since(start)
	metrics.E2EDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("failed").Inc()
		o.cfg.Tracer.EndRun(r.id, nil, trace.StatusError, StepCode(err), err.Error(), elapsed)
		return nil, err
	}
	status := trace.StatusOK
	outcome := "ok"
	if r.degraded > 0 {
		status, outcome = trace.StatusSoft, "degraded"
	}
	metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
	o.cfg.Tracer.EndRun(r.id, resp.GeneratedContentID, status, "", "", elapsed)
	r.log.Info("lesson generated", "content_id", resp.GeneratedContentID, "sentences", len(resp.Sentences),
		"degraded_steps", r.degraded, "e2e_ms", elapsed.Milliseconds())
	return resp, nil
}

func (r *run) execute(ctx context.Context, req Request, ownerID int64, profile level.Profile) (*FinalResponse, error) {
	r.progress(string(StageScript), "Writing your lesson script")
	script, err := r.script(ctx, req, profile)
	if err != nil {
		return nil, err
	}

	v, err := r.voice(profile)
	if err != nil {
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	contentID, se := r.placeholder(persistCtx, ownerID, script)
	_ = r.policy(se)

	if contentID != nil {
		_ = r.policy(r.enrich(script, *contentID))
	}

	r.progress(string(StageSynthesis), "Recording the narration")
	speech, err := r.synthesize(ctx, script, v)
	if err != nil {
		return nil, err
	}

	r.progress(string(StageUpload), "Saving your lesson")
	audioURL, err := r.upload(ctx, speech.Audio)
	if err != nil {
		return nil, err
	}

	resp := &FinalResponse{
		GeneratedContentID: contentID,
		Title:              script.Title,
		AudioURL:           audioURL,
		Sentences:          speech.Sentences,
	}
	if resp.Sentences == nil {
		resp.Sentences = []pipeline.SentenceTiming{}
	}

	if contentID != nil {
		_ = r.policy(r.finalize(persistCtx, *contentID, resp))
	}
	return resp, nil
}

func (r *run) script(ctx context.Context, req Request, profile level.Profile) (pipeline.Script, error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, r.o.cfg.Deadlines.Script)
	defer cancel()

	script, err := r.o.cfg.Scripts.Generate(sctx, req.Theme, req.Mood, profile)
	var se *StageError
	if err != nil {
		se = fatal(StageScript, err)
	}
	r.span(StageScript, start, fmt.Sprintf("band=%s score=%.1f", profile.Band(), profile.ChallengeScore()), se)
	return script, r.policy(se)
}

func (r *run) voice(profile level.Profile) (voice.Voice, error) {
	start := time.Now()
	var voices []voice.Voice
	if r.o.cfg.Voices != nil {
		voices = r.o.cfg.Voices.Voices()
	}
	v, tier, err := r.o.cfg.Selector.Select(voices, profile.ChallengeScore())
	var se *StageError
	if err != nil {
		se = fatal(StageVoice, err)
	} else {
		metrics.VoiceSelections.WithLabelValues(string(tier)).Inc()
	}
	r.span(StageVoice, start, fmt.Sprintf("voice=%s tier=%s", v.VoiceID, tier), se)
	return v, r.policy(se)
}

func (r *run) placeholder(ctx context.Context, ownerID int64, script pipeline.Script) (*int64, *StageError) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, r.o.cfg.Deadlines.Store)
	defer cancel()

	id, err := r.o.cfg.Store.InsertPlaceholder(sctx, ownerID, script.Title, script.Body)
	if err != nil {
		se := soft(StagePlaceholder, err)
		r.span(StagePlaceholder, start, "", se)
		return nil, se
	}
	r.span(StagePlaceholder, start, fmt.Sprintf("content_id=%d", id), nil)
	return &id, nil
}

func (r *run) enrich(script pipeline.Script, contentID int64) *StageError {
	if r.o.cfg.Enricher == nil {
		return nil
	}
	start := time.Now()
	var se *StageError
	if !r.o.cfg.Enricher.Enrich(script.Lines(), contentID) {
		se = soft(StageEnrich, errEnrichBusy)
	}
	r.span(StageEnrich, start, fmt.Sprintf("content_id=%d", contentID), se)
	return se
}

func (r *run) synthesize(ctx context.Context, script pipeline.Script, v voice.Voice) (*pipeline.Speech, error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, r.o.cfg.Deadlines.Synthesis)
	defer cancel()

	speech, err := r.o.cfg.Synth.Synthesize(sctx, script.Body, v.VoiceID)
	var se *StageError
	if err != nil {
		se = fatal(StageSynthesis, err)
	}
	detail := ""
	if speech != nil {
		detail = fmt.Sprintf("bytes=%d sentences=%d", len(speech.Audio), len(speech.Sentences))
	}
	r.span(StageSynthesis, start, detail, se)
	return speech, r.policy(se)
}

func (r *run) upload(ctx context.Context, data []byte) (string, error) {
	start := time.Now()
	uctx, cancel := context.WithTimeout(ctx, r.o.cfg.Deadlines.Upload)
	defer cancel()

	format := audio.Sniff(data)
	key := blob.NewAudioKey(format.Ext)
	url, err := r.o.cfg.Blobs.Put(uctx, key, data, format.ContentType)
	var se *StageError
	if err != nil {
		se = fatal(StageUpload, err)
	}
	r.span(StageUpload, start, key, se)
	return url, r.policy(se)
}

func (r *run) finalize(ctx context.Context, contentID int64, resp *FinalResponse) *StageError {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, r.o.cfg.Deadlines.Store)
	defer cancel()

	out, err := r.o.cfg.Store.Finalize(sctx, contentID, resp.AudioURL, resp)
	var se *StageError
	switch {
	case err != nil:
		se = soft(StageFinalize, err)
	case out == content.OutcomeNotFound:
		se = soft(StageFinalize, fmt.Errorf("content %d: %w", contentID, content.ErrNotFound))
	}
	r.span(StageFinalize, start, fmt.Sprintf("content_id=%d", contentID), se)
	return se
}

// Preview runs the script and voice stages only.
func (o *Orchestrator) Preview(ctx context.Context, req Request, ownerID int64, profile level.Profile) (*ScriptPreview, error) {
	r := o.newRun(ownerID, req, nil)
	start := time.Now()
	profile = profile.Clamped()

	preview, err := r.preview(ctx, req, profile)
	if err != nil {
		o.cfg.Tracer.EndRun(r.id, nil, trace.StatusError, StepCode(err), err.Error(), time.Since(start))
		return nil, err
	}
	o.cfg.Tracer.EndRun(r.id, nil, trace.StatusOK, "", "", time.Since(start))
	return preview, nil
}

func (r *run) preview(ctx context.Context, req Request, profile level.Profile) (*ScriptPreview, error) {
	script, err := r.script(ctx, req, profile)
	if err != nil {
		return nil, err
	}
	v, err := r.voice(profile)
	if err != nil {
		return nil, err
	}
	return &ScriptPreview{
		Title:             script.Title,
		SelectedVoiceID:   v.VoiceID,
		SelectedVoiceName: v.Name,
		Script:            script.Body,
	}, nil
}
