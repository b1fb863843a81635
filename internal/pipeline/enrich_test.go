package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
)

type recordingVocabStore struct {
	mu       sync.Mutex
	payloads map[int64][]VocabPayload
	missing  bool
	ctxErrs  []error
}

func (r *recordingVocabStore) UpdateVocab(ctx context.Context, id int64, payload any) (content.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if err := ctx.Err(); err != nil {
		return content.OutcomeNotFound, err
	}
	if r.missing {
		return content.OutcomeNotFound, nil
	}
	if r.payloads == nil {
		r.payloads = make(map[int64][]VocabPayload)
	}
	r.payloads[id] = append(r.payloads[id], payload.(VocabPayload))
	return content.OutcomeUpdated, nil
}

type gatedAnnotator struct {
	gate  chan struct{}
	calls atomic.Int32
	fail  string
}

func (g *gatedAnnotator) Annotate(ctx context.Context, sentence string) ([]VocabEntry, error) {
	g.calls.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.fail != "" && strings.Contains(sentence, g.fail) {
		return nil, errors.New("annotator refused")
	}
	word := strings.Fields(sentence)[0]
	return []VocabEntry{{Word: word, POS: "noun", Meaning: "meaning of " + word}}, nil
}

// stallingAnnotator blocks on sentences containing stall until ctx ends.
type stallingAnnotator struct {
	stall string
}

func (s stallingAnnotator) Annotate(ctx context.Context, sentence string) ([]VocabEntry, error) {
	if strings.Contains(sentence, s.stall) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	word := strings.Fields(sentence)[0]
	return []VocabEntry{{Word: word, POS: "noun", Meaning: "meaning of " + word}}, nil
}

func TestEnrichDedup(t *testing.T) {
	ann := &gatedAnnotator{gate: make(chan struct{})}
	store := &recordingVocabStore{}
	reg := NewMemoryRegistry()
	e := NewEnricher(ann, store, reg, EnricherConfig{Concurrency: 2}, discardLogger())

	sentences := []string{"Alpha one.", "Beta two.", "Gamma three."}
	if !e.Enrich(sentences, 11) {
		t.Fatal("first Enrich returned false")
	}
	if e.Enrich(sentences, 11) {
		t.Error("second Enrich for the same id should be dropped")
	}
	close(ann.gate)
	e.Wait()

	if got := ann.calls.Load(); got != int32(len(sentences)) {
		t.Errorf("annotator calls = %d, want %d", got, len(sentences))
	}
	if n := len(store.payloads[11]); n != 1 {
		t.Fatalf("vocab writes = %d, want 1", n)
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %d ids", reg.Len())
	}

	p := store.payloads[11][0]
	for i, s := range p.Sentences {
		if s.Index != i || s.Text != sentences[i] {
			t.Errorf("sentence %d = %+v", i, s)
		}
		if len(s.Words) != 1 || s.Error != "" {
			t.Errorf("sentence %d words = %+v err = %q", i, s.Words, s.Error)
		}
	}

	if !e.Enrich(sentences, 11) {
		t.Error("Enrich after completion should be accepted")
	}
	e.Wait()
}

func TestEnrichPartialFailure(t *testing.T) {
	ann := &gatedAnnotator{fail: "Beta"}
	store := &recordingVocabStore{}
	e := NewEnricher(ann, store, nil, EnricherConfig{}, discardLogger())

	e.Enrich([]string{"Alpha one.", "Beta two.", "Gamma three."}, 5)
	e.Wait()

	p := store.payloads[5][0]
	if p.Sentences[1].Error == "" || len(p.Sentences[1].Words) != 0 || p.Sentences[1].Words == nil {
		t.Errorf("failed sentence = %+v", p.Sentences[1])
	}
	if p.Sentences[0].Error != "" || p.Sentences[2].Error != "" {
		t.Errorf("siblings affected: %+v", p.Sentences)
	}
}

func TestEnrichSavesAfterAnnotationTimeout(t *testing.T) {
	store := &recordingVocabStore{}
	e := NewEnricher(stallingAnnotator{stall: "Slow"}, store, nil, EnricherConfig{Timeout: 100 * time.Millisecond}, discardLogger())

	e.Enrich([]string{"Fast one.", "Slow two."}, 8)
	e.Wait()

	if len(store.ctxErrs) != 1 || store.ctxErrs[0] != nil {
		t.Fatalf("store context errors = %v, want one live context", store.ctxErrs)
	}
	if len(store.payloads[8]) != 1 {
		t.Fatalf("vocab writes = %d, want 1", len(store.payloads[8]))
	}
	p := store.payloads[8][0]
	if len(p.Sentences[0].Words) != 1 || p.Sentences[0].Error != "" {
		t.Errorf("fast sentence = %+v", p.Sentences[0])
	}
	if p.Sentences[1].Error == "" || len(p.Sentences[1].Words) != 0 {
		t.Errorf("slow sentence = %+v", p.Sentences[1])
	}
}

func TestEnrichMissingRow(t *testing.T) {
	store := &recordingVocabStore{missing: true}
	reg := NewMemoryRegistry()
	e := NewEnricher(&gatedAnnotator{}, store, reg, EnricherConfig{}, discardLogger())

	e.Enrich([]string{"Only one."}, 99)
	e.Wait()
	if reg.Len() != 0 {
		t.Error("registry slot not released after a missing row")
	}
}

func TestMemoryRegistryReleaseOnce(t *testing.T) {
	r := NewMemoryRegistry()
	release, ok := r.Acquire(context.Background(), 1)
	if !ok {
		t.Fatal("acquire failed")
	}
	if _, ok = r.Acquire(context.Background(), 1); ok {
		t.Fatal("second acquire succeeded")
	}
	release()
	again, ok := r.Acquire(context.Background(), 1)
	if !ok {
		t.Fatal("acquire after release failed")
	}
	release()
	if _, ok = r.Acquire(context.Background(), 1); ok {
		t.Error("stale release freed a newer holder")
	}
	again()
}

func TestParseVocab(t *testing.T) {
	entries, err := parseVocab(`{"entries":[{"word":"ran","pos":"verb","meaning":"past of run"},{"word":"","pos":"x","meaning":"y"}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Word != "ran" {
		t.Errorf("entries = %+v", entries)
	}
	if _, err = parseVocab("not json"); err == nil {
		t.Error("expected decode error")
	}
}
