package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
)

// VocabSentence is the annotation of one script line.
type VocabSentence struct {
	Index int          `json:"index"`
	Text  string       `json:"text"`
	Words []VocabEntry `json:"words"`
	Error string       `json:"error,omitempty"`
}

// VocabPayload is what the enricher persists as script_vocabs.
type VocabPayload struct {
	Sentences []VocabSentence `json:"sentences"`
}

// VocabWriter persists an enrichment result.
type VocabWriter interface {
	UpdateVocab(ctx context.Context, id int64, payload any) (content.Outcome, error)
}

// EnricherConfig bounds one enrichment task.
// Timeout covers the annotation fan-out only. StoreTimeout bounds the final
// write, which runs even when the annotation deadline has passed.
type EnricherConfig struct {
	Concurrency  int
	Timeout      time.Duration
	StoreTimeout time.Duration
}

// Enricher annotates a lesson's sentences off the critical path. Tasks are
// detached from the request that started them.
type Enricher struct {
	annotator Annotator
	store     VocabWriter
	registry  Registry
	cfg       EnricherConfig
	log       *slog.Logger
	wg        sync.WaitGroup
}

func NewEnricher(annotator Annotator, store VocabWriter, registry Registry, cfg EnricherConfig, log *slog.Logger) *Enricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{annotator: annotator, store: store, registry: registry, cfg: cfg, log: log}
}

// Enrich schedules annotation of sentences for contentID and returns
// immediately. It returns false when a task for contentID is already
// running.
func (e *Enricher) Enrich(sentences []string, contentID int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	release, ok := e.registry.Acquire(ctx, contentID)
	if !ok {
		cancel()
		metrics.EnrichmentsDropped.Inc()
		e.log.Info("enrichment already running", "content_id", contentID)
		return false
	}

	lines := append([]string(nil), sentences...)
	e.wg.Add(1)
	metrics.EnrichmentsActive.Inc()
	go func() {
		defer e.wg.Done()
		defer metrics.EnrichmentsActive.Dec()
		defer release()
		defer cancel()
		e.run(ctx, lines, contentID)
	}()
	return true
}

// Wait blocks until every scheduled task has finished.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

func (e *Enricher) run(ctx context.Context, sentences []string, contentID int64) {
	start := time.Now()
	payload := VocabPayload{Sentences: make([]VocabSentence, len(sentences))}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for i, s := range sentences {
		g.Go(func() error {
			payload.Sentences[i] = e.annotateOne(ctx, i, s)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, s := range payload.Sentences {
		if s.Error != "" {
			failed++
		}
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	out, err := e.store.UpdateVocab(storeCtx, contentID, payload)
	switch {
	case err != nil:
		metrics.Errors.WithLabelValues("enrich", "store").Inc()
		e.log.Warn("vocab update failed", "content_id", contentID, "error", err)
		return
	case out == content.OutcomeNotFound:
		metrics.Errors.WithLabelValues("enrich", "not_found").Inc()
		e.log.Warn("vocab update found no row", "content_id", contentID)
		return
	}
	metrics.StageDuration.WithLabelValues("enrich").Observe(time.Since(start).Seconds())
	e.log.Info("vocab enrichment saved", "content_id", contentID, "sentences", len(sentences), "failed", failed,
		"latency_ms", time.Since(start).Milliseconds())
}

func (e *Enricher) annotateOne(ctx context.Context, index int, sentence string) VocabSentence {
	out := VocabSentence{Index: index, Text: sentence, Words: []VocabEntry{}}
	words, err := e.annotator.Annotate(ctx, sentence)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if words != nil {
		out.Words = words
	}
	return out
}
