package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxDetailLen = 500

type msgKind int

const (
	kindRunStart msgKind = iota
	kindRunEnd
	kindSpan
)

type traceMsg struct {
	kind msgKind
	run  Run
	span Span
}

// Tracer writes trace data asynchronously via a buffered channel so the
// pipeline never waits on the trace database. All methods are no-ops on a
// nil receiver.
type Tracer struct {
	store *Store
	log   *slog.Logger
	ch    chan traceMsg
	done  chan struct{}
}

// NewTracer starts the writer goroutine. Call Close to flush.
func NewTracer(store *Store, log *slog.Logger) *Tracer {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracer{
		store: store,
		log:   log,
		ch:    make(chan traceMsg, 256),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch m.kind {
	case kindRunStart:
		err = t.store.CreateRun(ctx, m.run)
	case kindRunEnd:
		err = t.store.FinishRun(ctx, m.run)
	case kindSpan:
		err = t.store.CreateSpan(ctx, m.span)
	}
	if err != nil {
		t.log.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

// StartRun opens a run for ownerID and returns its id.
func (t *Tracer) StartRun(ownerID int64, theme, mood string) string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.ch <- traceMsg{kind: kindRunStart, run: Run{
		ID:        id,
		OwnerID:   ownerID,
		Theme:     truncate(theme, maxDetailLen),
		Mood:      truncate(mood, maxDetailLen),
		StartedAt: time.Now(),
	}}
	return id
}

// EndRun records the run outcome. stepCode is empty on success.
func (t *Tracer) EndRun(runID string, contentID *int64, status, stepCode, errMsg string, duration time.Duration) {
	if t == nil || runID == "" {
		return
	}
	t.ch <- traceMsg{kind: kindRunEnd, run: Run{
		ID:         runID,
		ContentID:  contentID,
		Status:     status,
		StepCode:   stepCode,
		Error:      truncate(errMsg, maxDetailLen),
		DurationMs: float64(duration.Milliseconds()),
	}}
}

// RecordSpan records a completed stage.
func (t *Tracer) RecordSpan(runID, stage string, startedAt time.Time, status, detail, errMsg string) {
	if t == nil || runID == "" {
		return
	}
	t.ch <- traceMsg{kind: kindSpan, span: Span{
		ID:         uuid.NewString(),
		RunID:      runID,
		Stage:      stage,
		StartedAt:  startedAt,
		DurationMs: float64(time.Since(startedAt).Milliseconds()),
		Status:     status,
		Detail:     truncate(detail, maxDetailLen),
		Error:      truncate(errMsg, maxDetailLen),
	}}
}

// Close drains pending writes and stops the writer goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
