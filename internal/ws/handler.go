package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/metrics"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/orchestrator"
)

const (
	stepAuth    = "auth"
	stepRequest = "request"
	stepProfile = "profile"

	internalErrorMessage = "Internal server error."
	writeTimeout         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenVerifier maps an access token to a learner id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// ProfileSource loads a learner's current skill levels.
type ProfileSource interface {
	Profile(ctx context.Context, learnerID int64) (level.Profile, error)
}

// Generator runs one lesson generation.
type Generator interface {
	Run(ctx context.Context, req orchestrator.Request, ownerID int64, profile level.Profile, progress orchestrator.Progress) (*orchestrator.FinalResponse, error)
}

// HandlerConfig holds the shared collaborators for all sessions.
type HandlerConfig struct {
	Verifier         TokenVerifier
	Profiles         ProfileSource
	Generator        Generator
	MaxConcurrent    int
	HandshakeTimeout time.Duration
	ProfileTimeout   time.Duration
	Log              *slog.Logger
}

// Handler serves lesson progress sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
	log *slog.Logger
	wg  sync.WaitGroup
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent), log: log}
}

// ServeHTTP upgrades the connection and runs one session.
// Returns 503 when at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	h.wg.Add(1)
	defer h.wg.Done()

	log := h.log.With("session_id", uuid.NewString())
	s := &session{
		h:      h,
		conn:   conn,
		sender: newEventSender(conn, log),
		log:    log,
	}
	s.run()
}

// Wait blocks until every open session has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

type session struct {
	h      *Handler
	conn   *websocket.Conn
	sender *eventSender
	log    *slog.Logger
	state  State
}

func (s *session) transition(to State) {
	s.log.Debug("session state", "from", s.state, "to", to)
	s.state = to
}

func (s *session) run() {
	s.transition(StateAwaitingAuth)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.h.cfg.HandshakeTimeout))

	learnerID, ok := s.authenticate()
	if !ok {
		s.transition(StateFailed)
		return
	}
	s.log = s.log.With("learner_id", learnerID)
	s.sender.setLogger(s.log)
	s.transition(StateAuthenticated)
	s.transition(StateAwaitingRequest)

	req, ok := s.readRequest()
	if !ok {
		s.transition(StateFailed)
		return
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	s.transition(StateGenerating)
	if s.generate(learnerID, req) {
		s.transition(StateCompleted)
		return
	}
	s.transition(StateFailed)
}

func (s *session) authenticate() (int64, bool) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.log.Info("connection closed before auth", "error", err)
		return 0, false
	}
	var auth AuthPayload
	if err = decodeEnvelope(data, TypeAuth, &auth); err != nil {
		s.log.Warn("bad auth message", "error", err)
		s.reject(websocket.ClosePolicyViolation, stepAuth, "Authentication required.")
		return 0, false
	}
	id, err := s.h.cfg.Verifier.Verify(auth.Token)
	if err != nil {
		metrics.Errors.WithLabelValues(stepAuth, "invalid_token").Inc()
		s.log.Warn("auth failed", "error", err)
		s.reject(websocket.ClosePolicyViolation, stepAuth, "Authentication failed.")
		return 0, false
	}
	s.sender.send(TypeAuthSuccess, MessagePayload{Message: "Authenticated."})
	return id, true
}

func (s *session) readRequest() (orchestrator.Request, bool) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.log.Info("connection closed before request", "error", err)
		return orchestrator.Request{}, false
	}
	var req orchestrator.Request
	if err = decodeEnvelope(data, TypeGenerateAudio, &req); err == nil {
		err = req.Validate()
	}
	if err != nil {
		metrics.Errors.WithLabelValues(stepRequest, "malformed").Inc()
		s.log.Warn("bad generation request", "error", err)
		s.reject(websocket.CloseInvalidFramePayloadData, stepRequest, err.Error())
		return orchestrator.Request{}, false
	}
	return req, true
}

// generate runs the pipeline on a context that outlives the connection so
// persistence completes even when the client leaves.
func (s *session) generate(learnerID int64, req orchestrator.Request) bool {
	go s.drainReads()

	ctx := context.Background()
	pctx, cancel := context.WithTimeout(ctx, s.h.cfg.ProfileTimeout)
	profile, err := s.h.cfg.Profiles.Profile(pctx, learnerID)
	cancel()
	if err != nil {
		s.log.Error("profile load failed", "error", err)
		s.reject(websocket.CloseInternalServerErr, stepProfile, internalErrorMessage)
		return false
	}

	progress := func(stepCode, message string) {
		s.sender.send(TypeStatusUpdate, StatusPayload{StepCode: stepCode, Message: message})
	}
	resp, err := s.h.cfg.Generator.Run(ctx, req, learnerID, profile, progress)
	if err != nil {
		step := orchestrator.StepCode(err)
		if step == "" {
			step = "internal"
		}
		s.reject(websocket.CloseInternalServerErr, step, internalErrorMessage)
		return false
	}

	s.sender.send(TypeGenerationComplete, resp)
	s.sender.close(websocket.CloseNormalClosure, "")
	return true
}

// drainReads consumes frames so control messages are handled, until the
// connection errors.
func (s *session) drainReads() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) reject(code int, stepCode, message string) {
	s.sender.send(TypeError, ErrorPayload{StepCode: stepCode, Message: message})
	s.sender.close(code, message)
}

// eventSender serializes writes and swallows every error after the first,
// so a vanished client never fails the run.
type eventSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
	gone bool
}

func newEventSender(conn *websocket.Conn, log *slog.Logger) *eventSender {
	return &eventSender{conn: conn, log: log}
}

func (e *eventSender) setLogger(log *slog.Logger) {
	e.mu.Lock()
	e.log = log
	e.mu.Unlock()
}

func (e *eventSender) send(typ string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := encodeEnvelope(typ, payload)
	if err != nil {
		e.log.Error("encode event", "type", typ, "error", err)
		return
	}
	if e.gone {
		return
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err = e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		e.gone = true
		e.log.Info("client gone, dropping events", "type", typ, "error", err)
	}
}

func (e *eventSender) close(code int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return
	}
	msg := websocket.FormatCloseMessage(code, truncateReason(text, maxCloseReason))
	if err := e.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		e.log.Debug("close frame not sent", "error", err)
	}
	e.gone = true
}

// maxCloseReason keeps a close frame's payload under the 125 byte control
// frame limit once the two byte code is added.
const maxCloseReason = 120

// truncateReason cuts s to at most n bytes without splitting a rune.
func truncateReason(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
