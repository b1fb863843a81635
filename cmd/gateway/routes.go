package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/orchestrator"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/trace"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 50

	defaultTraceRunLimit = 20
	maxTraceRunLimit     = 50
)

type lessonRunner interface {
	Run(ctx context.Context, req orchestrator.Request, ownerID int64, profile level.Profile, progress orchestrator.Progress) (*orchestrator.FinalResponse, error)
	Preview(ctx context.Context, req orchestrator.Request, ownerID int64, profile level.Profile) (*orchestrator.ScriptPreview, error)
}

type lessonStore interface {
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]content.Summary, int, error)
	Get(ctx context.Context, ownerID, id int64) (*content.GeneratedContent, error)
}

type levelService interface {
	Profile(ctx context.Context, learnerID int64) (level.Profile, error)
	EvaluateTest(ctx context.Context, learnerID int64, req level.TestRequest) (level.Assessment, error)
	EvaluateSessionFeedback(ctx context.Context, learnerID int64, fb level.SessionFeedback) (level.Assessment, error)
	SetManualLevel(ctx context.Context, learnerID int64, band string) (level.Assessment, error)
}

type traceReader interface {
	ListRuns(ctx context.Context, ownerID int64, limit, offset int) ([]trace.Run, int, error)
	GetRun(ctx context.Context, ownerID int64, id string) (*trace.Run, []trace.Span, error)
}

type tokenVerifier interface {
	Verify(token string) (int64, error)
}

type deps struct {
	lessons   lessonRunner
	store     lessonStore
	levels    levelService
	verifier  tokenVerifier
	traces    traceReader
	wsHandler http.Handler
	media     http.Handler
}

// apiError is the JSON body of every non-2xx response.
type apiError struct {
	StatusCode int    `json:"status_code"`
	CustomCode string `json:"custom_code"`
	Detail     string `json:"detail"`
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/audio", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if d.media != nil {
		mux.Handle("GET /media/", http.StripPrefix("/media", d.media))
	}

	mux.HandleFunc("POST /audio/generate", d.authed(d.handleGenerate))
	mux.HandleFunc("POST /audio/preview", d.authed(d.handlePreview))
	mux.HandleFunc("GET /audio/history", d.authed(d.handleHistory))
	mux.HandleFunc("GET /audio/content/{id}", d.authed(d.handleContent))
	mux.HandleFunc("GET /audio/content/{id}/vocab", d.authed(d.handleVocab))

	mux.HandleFunc("POST /level/test", d.authed(d.handleLevelTest))
	mux.HandleFunc("POST /level/feedback", d.authed(d.handleLevelFeedback))
	mux.HandleFunc("POST /level/manual", d.authed(d.handleLevelManual))

	mux.HandleFunc("GET /api/traces/runs", d.authed(d.handleTraceRuns))
	mux.HandleFunc("GET /api/traces/runs/{id}", d.authed(d.handleTraceRun))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, learnerID int64)

// authed resolves the Bearer token before calling next.
func (d deps) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "Authorization header must be a Bearer token.")
			return
		}
		learnerID, err := d.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			slog.Warn("http auth failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token.")
			return
		}
		next(w, r, learnerID)
	}
}

// handleGenerate runs the full pipeline detached from the request so a
// dropped client never interrupts persistence.
func (d deps) handleGenerate(w http.ResponseWriter, r *http.Request, learnerID int64) {
	req, ok := decodeLessonRequest(w, r)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	profile, err := d.levels.Profile(ctx, learnerID)
	if err != nil {
		slog.Error("load profile", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	resp, err := d.lessons.Run(ctx, req, learnerID, profile, nil)
	if err != nil {
		slog.Error("lesson generation failed", "learner_id", learnerID, "step_code", orchestrator.StepCode(err), "error", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d deps) handlePreview(w http.ResponseWriter, r *http.Request, learnerID int64) {
	req, ok := decodeLessonRequest(w, r)
	if !ok {
		return
	}
	profile, err := d.levels.Profile(r.Context(), learnerID)
	if err != nil {
		slog.Error("load profile", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	preview, err := d.lessons.Preview(r.Context(), req, learnerID, profile)
	if err != nil {
		slog.Error("lesson preview failed", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (d deps) handleHistory(w http.ResponseWriter, r *http.Request, learnerID int64) {
	limit := min(max(queryInt(r, "limit", defaultHistoryLimit), 1), maxHistoryLimit)
	offset := max(queryInt(r, "offset", 0), 0)

	items, total, err := d.store.ListByOwner(r.Context(), learnerID, limit, offset)
	if err != nil {
		slog.Error("list history", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	if items == nil {
		items = []content.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (d deps) handleContent(w http.ResponseWriter, r *http.Request, learnerID int64) {
	row, ok := d.loadContent(w, r, learnerID)
	if !ok {
		return
	}
	if isNullJSON(row.ResponseJSON) {
		writeError(w, http.StatusNotFound, "GENERATED_CONTENT_NOT_FOUND", "Lesson audio is not ready.")
		return
	}
	writeRawJSON(w, row.ResponseJSON)
}

func (d deps) handleVocab(w http.ResponseWriter, r *http.Request, learnerID int64) {
	row, ok := d.loadContent(w, r, learnerID)
	if !ok {
		return
	}
	if isNullJSON(row.ScriptVocabs) {
		writeError(w, http.StatusNotFound, "VOCAB_NOT_READY", "Vocabulary is not ready.")
		return
	}
	writeRawJSON(w, row.ScriptVocabs)
}

func (d deps) loadContent(w http.ResponseWriter, r *http.Request, learnerID int64) (*content.GeneratedContent, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer.")
		return nil, false
	}
	row, err := d.store.Get(r.Context(), learnerID, id)
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, http.StatusNotFound, "GENERATED_CONTENT_NOT_FOUND", "Generated content not found.")
		return nil, false
	}
	if err != nil {
		slog.Error("load content", "content_id", id, "error", err)
		writeInternal(w)
		return nil, false
	}
	return row, true
}

func (d deps) handleLevelTest(w http.ResponseWriter, r *http.Request, learnerID int64) {
	var req level.TestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := level.ParseBand(req.Level); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	a, err := d.levels.EvaluateTest(r.Context(), learnerID, req)
	d.writeAssessment(w, learnerID, a, err)
}

func (d deps) handleLevelFeedback(w http.ResponseWriter, r *http.Request, learnerID int64) {
	var fb level.SessionFeedback
	if !decodeBody(w, r, &fb) {
		return
	}
	a, err := d.levels.EvaluateSessionFeedback(r.Context(), learnerID, fb)
	d.writeAssessment(w, learnerID, a, err)
}

func (d deps) handleLevelManual(w http.ResponseWriter, r *http.Request, learnerID int64) {
	var req struct {
		Level string `json:"level"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := level.ParseBand(req.Level); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	a, err := d.levels.SetManualLevel(r.Context(), learnerID, req.Level)
	d.writeAssessment(w, learnerID, a, err)
}

func (d deps) writeAssessment(w http.ResponseWriter, learnerID int64, a level.Assessment, err error) {
	if errors.Is(err, level.ErrNoTests) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	if err != nil {
		slog.Error("level evaluation failed", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Trace runs are served only to the learner who started them.
func (d deps) handleTraceRuns(w http.ResponseWriter, r *http.Request, learnerID int64) {
	if d.traces == nil {
		writeError(w, http.StatusNotFound, "TRACING_DISABLED", "Tracing is disabled.")
		return
	}
	limit := min(max(queryInt(r, "limit", defaultTraceRunLimit), 1), maxTraceRunLimit)
	offset := max(queryInt(r, "offset", 0), 0)
	runs, total, err := d.traces.ListRuns(r.Context(), learnerID, limit, offset)
	if err != nil {
		slog.Error("list trace runs", "learner_id", learnerID, "error", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total, "limit": limit, "offset": offset})
}

func (d deps) handleTraceRun(w http.ResponseWriter, r *http.Request, learnerID int64) {
	if d.traces == nil {
		writeError(w, http.StatusNotFound, "TRACING_DISABLED", "Tracing is disabled.")
		return
	}
	run, spans, err := d.traces.GetRun(r.Context(), learnerID, r.PathValue("id"))
	if errors.Is(err, trace.ErrNotFound) {
		writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "Run not found.")
		return
	}
	if err != nil {
		slog.Error("get trace run", "run_id", r.PathValue("id"), "error", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
}

func decodeLessonRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	var req orchestrator.Request
	if !decodeBody(w, r, &req) {
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return req, false
	}
	return req, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body is not valid JSON.")
		return false
	}
	return true
}

func isNullJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeRawJSON(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, apiError{StatusCode: status, CustomCode: code, Detail: detail})
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error.")
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
