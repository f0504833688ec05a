// Package dialogue runs the assessment and wellness-check conversations.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/sparkpath/internal/catalog"
	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/ashureev/sparkpath/internal/llm"
	"github.com/ashureev/sparkpath/internal/transcript"
)

var (
	// ErrPersistence wraps a failed store operation.
	ErrPersistence = errors.New("dialogue: persistence failure")
	// ErrNoActiveSession is returned for an event that needs a session the connection does not have.
	ErrNoActiveSession = errors.New("dialogue: no active session")
	// ErrValidation is returned for an inbound event with missing or invalid fields.
	ErrValidation = errors.New("dialogue: validation failure")
)

// userError carries a message that is safe to show the client.
type userError struct {
	kind error
	msg  string
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.kind }

func invalid(format string, args ...any) error {
	return &userError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func noSession(msg string) error {
	return &userError{kind: ErrNoActiveSession, msg: msg}
}

// Generic client-facing messages for upstream and persistence failures.
var failureMessages = map[string]string{
	EventStartAssessment:  "Failed to start assessment",
	EventUserMessage:      "Failed to process message",
	EventStartWellness:    "Failed to start wellness check",
	EventWellnessResponse: "Failed to process wellness response",
}

// Records is the durable state the dialogues write.
type Records interface {
	ChatStore
	PutAssessment(ctx context.Context, a *domain.Assessment) error
	CompleteWellnessCheck(ctx context.Context, userID, courseID string, outcome domain.WellnessOutcome) error
}

// Conn identifies the connection an event arrived on.
type Conn struct {
	ID string
	// UserID is the authenticated identity, empty when auth is disabled.
	UserID string
	Out    Emitter
}

// Deps are the collaborators of an Engine.
type Deps struct {
	LLM      llm.Completer
	Records  Records
	Catalog  *catalog.Catalog
	Sessions *Registry
	Mirror   transcript.Logger
	Logger   *slog.Logger
}

// Engine applies inbound events to per-connection sessions. Events for one
// connection are applied one at a time; different connections run concurrently.
type Engine struct {
	llm        llm.Completer
	records    Records
	catalog    *catalog.Catalog
	sessions   *Registry
	transcript *TranscriptLogger
	logger     *slog.Logger
	lanes      lanes
	now        func() time.Time

	assessmentSystem string
}

// NewEngine creates an Engine.
func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Sessions == nil {
		d.Sessions = NewRegistry()
	}
	return &Engine{
		llm:              d.LLM,
		records:          d.Records,
		catalog:          d.Catalog,
		sessions:         d.Sessions,
		transcript:       NewTranscriptLogger(d.Records, d.Mirror),
		logger:           d.Logger,
		lanes:            lanes{m: make(map[string]*lane)},
		now:              time.Now,
		assessmentSystem: assessmentSystemPrompt(d.Catalog.Names()),
	}
}

// Dispatch applies one inbound event. Failures are reported to the client as
// error events; Dispatch itself never fails.
func (e *Engine) Dispatch(ctx context.Context, c Conn, env Envelope) {
	release := e.lanes.acquire(c.ID)
	defer release()

	var (
		events []Event
		err    error
	)
	switch env.Event {
	case EventStartAssessment:
		events, err = e.startAssessment(ctx, c, env.Data)
	case EventUserMessage:
		events, err = e.continueAssessment(ctx, c, env.Data)
	case EventStartWellness:
		events, err = e.startWellness(ctx, c, env.Data)
	case EventWellnessResponse:
		events, err = e.continueWellness(ctx, c, env.Data)
	default:
		err = invalid("unsupported event: %s", env.Event)
	}
	if err != nil {
		e.fail(ctx, c, env.Event, err)
		return
	}
	for _, ev := range events {
		e.emit(ctx, c, ev)
	}
}

// Disconnect discards any session owned by the connection.
func (e *Engine) Disconnect(connID string) {
	release := e.lanes.acquire(connID)
	defer release()

	if s, ok := e.sessions.Delete(connID); ok {
		e.transcript.Forget(s.ChatID())
		e.logger.Info("session discarded on disconnect",
			"conn_id", connID, "session_id", s.ID, "user_id", s.UserID, "kind", s.Kind)
	}
}

// ActiveSessions returns the number of live sessions.
func (e *Engine) ActiveSessions() int {
	return e.sessions.Len()
}

func (e *Engine) startAssessment(ctx context.Context, c Conn, data json.RawMessage) ([]Event, error) {
	var in StartAssessment
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	userID, err := resolveUser(c, in.UserID)
	if err != nil {
		return nil, err
	}

	s := newSession(domain.SessionAssessment, userID, "")
	events, err := e.assessmentGreeting(ctx, s)
	if err != nil {
		return nil, err
	}
	e.replaceSession(c.ID, s)
	e.logger.Info("assessment started", "conn_id", c.ID, "session_id", s.ID, "user_id", userID)
	return events, nil
}

func (e *Engine) continueAssessment(ctx context.Context, c Conn, data json.RawMessage) ([]Event, error) {
	message, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}
	s, ok := e.sessions.Get(c.ID)
	if !ok || s.Kind != domain.SessionAssessment || s.Phase == PhaseGreeting {
		return nil, noSession("No active session")
	}

	events, terminal, err := e.assessmentTurn(ctx, s, message)
	if err != nil {
		return nil, err
	}
	e.commit(c.ID, s, terminal)
	return events, nil
}

func (e *Engine) startWellness(ctx context.Context, c Conn, data json.RawMessage) ([]Event, error) {
	var in StartWellness
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	userID, err := resolveUser(c, in.UserID)
	if err != nil {
		return nil, err
	}
	courseID := strings.TrimSpace(in.CourseID)
	if courseID == "" {
		return nil, invalid("courseId is required")
	}

	s := newSession(domain.SessionWellness, userID, courseID)
	events, err := e.wellnessGreeting(ctx, s)
	if err != nil {
		return nil, err
	}
	e.replaceSession(c.ID, s)
	e.logger.Info("wellness check started",
		"conn_id", c.ID, "session_id", s.ID, "user_id", userID, "course_id", courseID)
	return events, nil
}

func (e *Engine) continueWellness(ctx context.Context, c Conn, data json.RawMessage) ([]Event, error) {
	message, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}
	s, ok := e.sessions.Get(c.ID)
	if !ok || s.Kind != domain.SessionWellness || s.Phase == PhaseGreeting {
		return nil, noSession("No active wellness check session")
	}

	events, terminal, err := e.wellnessTurn(ctx, s, message)
	if err != nil {
		return nil, err
	}
	e.commit(c.ID, s, terminal)
	return events, nil
}

// replaceSession installs a greeted session, discarding any session the
// connection already had. Nothing is registered until the greeting succeeded.
func (e *Engine) replaceSession(connID string, s *Session) {
	if prev, ok := e.sessions.Get(connID); ok {
		e.transcript.Forget(prev.ChatID())
		e.logger.Info("replacing active session", "conn_id", connID, "session_id", prev.ID, "kind", prev.Kind)
	}
	e.sessions.Put(connID, s)
}

func (e *Engine) commit(connID string, s *Session, terminal bool) {
	if terminal {
		e.sessions.Delete(connID)
		e.transcript.Forget(s.ChatID())
		return
	}
	e.sessions.Put(connID, s)
}

func (e *Engine) fail(ctx context.Context, c Conn, event string, err error) {
	msg := failureMessages[event]
	var ue *userError
	switch {
	case errors.As(err, &ue):
		msg = ue.msg
		e.logger.Warn("event rejected", "conn_id", c.ID, "event", event, "error", err)
	default:
		if msg == "" {
			msg = "Request failed"
		}
		e.logger.Error("event failed", "conn_id", c.ID, "event", event, "error", err)
	}
	e.emit(ctx, c, Event{Name: EventError, Data: ErrorMessage{Message: msg}})
}

func (e *Engine) emit(ctx context.Context, c Conn, ev Event) {
	if c.Out == nil {
		return
	}
	if err := c.Out.Emit(ctx, ev); err != nil {
		e.logger.Warn("failed to emit event", "conn_id", c.ID, "event", ev.Name, "error", err)
	}
}

func decodeData(data json.RawMessage, out any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return invalid("invalid payload")
	}
	return nil
}

func decodeMessage(data json.RawMessage) (string, error) {
	var in UserMessage
	if err := decodeData(data, &in); err != nil {
		return "", err
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return "", invalid("message is required")
	}
	return message, nil
}

// resolveUser falls back to the authenticated identity when the payload has
// no userId, and rejects a payload naming a different user.
func resolveUser(c Conn, payloadUserID string) (string, error) {
	payloadUserID = strings.TrimSpace(payloadUserID)
	switch {
	case payloadUserID == "" && c.UserID == "":
		return "", invalid("userId is required")
	case payloadUserID == "":
		return c.UserID, nil
	case c.UserID != "" && payloadUserID != c.UserID:
		return "", invalid("userId does not match credential")
	default:
		return payloadUserID, nil
	}
}

// lanes serializes work per connection.
type lanes struct {
	mu sync.Mutex
	m  map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func (l *lanes) acquire(id string) func() {
	l.mu.Lock()
	ln, ok := l.m[id]
	if !ok {
		ln = &lane{}
		l.m[id] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
	return func() {
		ln.mu.Unlock()
		l.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
