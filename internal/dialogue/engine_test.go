package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/ashureev/sparkpath/internal/llm"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLLM answers by call site, identified by the token budget. Story
// ranking shares the follow-up budget and is told apart by its prompt.
type fakeLLM struct {
	mu       sync.Mutex
	analysis string
	subs     string
	ranking  string
	fail     map[int]int // maxTokens -> remaining failures
	calls    map[int]int
	hook     func(maxTokens int)
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		analysis: "CATEGORY: MUSIC\nCONFIDENCE: 85\nREASONING: loves producing",
		subs:     "Producer, Nonsense, Songwriter",
		fail:     map[int]int{},
		calls:    map[int]int{},
	}
}

func (f *fakeLLM) Complete(_ context.Context, prompt, _ string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls[maxTokens]++
	n := f.calls[maxTokens]
	failing := f.fail[maxTokens] > 0
	if failing {
		f.fail[maxTokens]--
	}
	hook := f.hook
	analysis, subs, ranking := f.analysis, f.subs, f.ranking
	f.mu.Unlock()

	if hook != nil {
		hook(maxTokens)
	}
	if failing {
		return "", fmt.Errorf("%w: boom", llm.ErrUpstreamUnavailable)
	}
	if strings.HasPrefix(prompt, "Rank these success stories") {
		return ranking, nil
	}
	switch maxTokens {
	case greetingTokens:
		return "Hi! What excites you about entertainment?", nil
	case followUpTokens:
		return fmt.Sprintf("Follow-up %d?", n), nil
	case analysisTokens:
		return analysis, nil
	case subcategoryTokens:
		return subs, nil
	}
	return "", errors.New("unexpected call")
}

func (f *fakeLLM) count(maxTokens int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[maxTokens]
}

type wellnessUpdate struct {
	userID, courseID string
	outcome          domain.WellnessOutcome
}

type fakeRecords struct {
	mu            sync.Mutex
	turns         []domain.ChatTurn
	assessments   []*domain.Assessment
	wellness      []wellnessUpdate
	failAssess    int
	failChatAfter int // fail AppendChatTurn once this many turns exist; 0 disables
}

func (r *fakeRecords) AppendChatTurn(_ context.Context, turn domain.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failChatAfter > 0 && len(r.turns) >= r.failChatAfter {
		r.failChatAfter = 0
		return errors.New("disk full")
	}
	r.turns = append(r.turns, turn)
	return nil
}

func (r *fakeRecords) PutAssessment(_ context.Context, a *domain.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAssess > 0 {
		r.failAssess--
		return errors.New("throttled")
	}
	r.assessments = append(r.assessments, a)
	return nil
}

func (r *fakeRecords) CompleteWellnessCheck(_ context.Context, userID, courseID string, outcome domain.WellnessOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wellness = append(r.wellness, wellnessUpdate{userID, courseID, outcome})
	return nil
}

func (r *fakeRecords) chatTurns() []domain.ChatTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatTurn(nil), r.turns...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) last() Event {
	all := r.all()
	if len(all) == 0 {
		return Event{}
	}
	return all[len(all)-1]
}

type harness struct {
	engine  *Engine
	llm     *fakeLLM
	records *fakeRecords
	out     *recorder
	conn    Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{llm: newFakeLLM(), records: &fakeRecords{}, out: &recorder{}}
	h.engine = NewEngine(Deps{LLM: h.llm, Records: h.records})
	h.conn = Conn{ID: "conn-1", Out: h.out}
	return h
}

func (h *harness) send(event string, data any) {
	raw, _ := json.Marshal(data)
	h.engine.Dispatch(context.Background(), h.conn, Envelope{Event: event, Data: raw})
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s, ok := h.engine.sessions.Get(h.conn.ID)
	if !ok {
		t.Fatal("expected an active session")
	}
	return s
}

func requireError(t *testing.T, ev Event, msg string) {
	t.Helper()
	if ev.Name != EventError {
		t.Fatalf("expected error event, got %s", ev.Name)
	}
	if got := ev.Data.(ErrorMessage).Message; got != msg {
		t.Fatalf("expected error %q, got %q", msg, got)
	}
}

func TestAssessmentCompletesAfterFiveAnswers(t *testing.T) {
	h := newHarness(t)

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	greeting := h.out.last()
	if greeting.Name != EventAssistantMessage || greeting.Data.(AssistantMessage).QuestionNumber != 1 {
		t.Fatalf("expected greeting as question 1, got %+v", greeting)
	}

	for i := 1; i <= 4; i++ {
		h.send(EventUserMessage, UserMessage{Message: fmt.Sprintf("I love making beats %d", i)})
		ev := h.out.last()
		if ev.Name != EventAssistantMessage {
			t.Fatalf("answer %d: expected assistant-message, got %s", i, ev.Name)
		}
		if n := ev.Data.(AssistantMessage).QuestionNumber; n != i+1 {
			t.Fatalf("answer %d: expected question %d, got %d", i, i+1, n)
		}
	}
	if h.llm.count(analysisTokens) != 0 {
		t.Fatal("analysis ran before the fifth answer")
	}

	h.send(EventUserMessage, UserMessage{Message: "I produce tracks for friends"})

	if got := h.llm.count(analysisTokens); got != 1 {
		t.Fatalf("expected exactly one analysis, got %d", got)
	}
	if got := h.llm.count(followUpTokens); got != 4 {
		t.Fatalf("expected no sixth question, got %d follow-ups", got)
	}

	done := h.out.last()
	if done.Name != EventAssessmentComplete {
		t.Fatalf("expected assessment-complete, got %s", done.Name)
	}
	payload := done.Data.(AssessmentComplete)
	if payload.Category != "MUSIC" || payload.Reasoning != "loves producing" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if fmt.Sprint(payload.Subcategories) != "[Producer Songwriter]" {
		t.Fatalf("unexpected subcategories %v", payload.Subcategories)
	}

	if len(h.records.assessments) != 1 {
		t.Fatalf("expected one stored assessment, got %d", len(h.records.assessments))
	}
	a := h.records.assessments[0]
	if a.AssessmentID != payload.AssessmentID || a.UserID != "u1" || len(a.Questions) != 10 {
		t.Fatalf("unexpected assessment %+v", a)
	}
	if h.engine.ActiveSessions() != 0 {
		t.Fatal("expected session to be removed")
	}

	turns := h.records.chatTurns()
	// greeting, 5 answers, 4 questions, recommendation
	if len(turns) != 11 {
		t.Fatalf("expected 11 chat turns, got %d", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Timestamp <= turns[i-1].Timestamp {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
		if turns[i].ChatID != turns[0].ChatID {
			t.Fatalf("turn %d logged under a different chat", i)
		}
	}
	if turns[len(turns)-1].Metadata["recommendation"] != true {
		t.Fatal("expected final turn to be the recommendation")
	}
}

func TestAssessmentLowConfidenceKeepsQuestioning(t *testing.T) {
	tests := []struct {
		name     string
		analysis string
	}{
		{"at threshold", "CATEGORY: MUSIC\nCONFIDENCE: 60\nREASONING: unsure"},
		{"unknown category", "CATEGORY: COOKING\nCONFIDENCE: 95"},
		{"unparseable", "I need more information."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.llm.analysis = tt.analysis

			h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
			for i := 0; i < 6; i++ {
				h.send(EventUserMessage, UserMessage{Message: "maybe"})
			}

			last := h.out.last()
			if last.Name != EventAssistantMessage || last.Data.(AssistantMessage).QuestionNumber != 7 {
				t.Fatalf("expected question 7, got %+v", last)
			}
			if got := h.llm.count(analysisTokens); got != 2 {
				t.Fatalf("expected an analysis after answers 5 and 6, got %d", got)
			}
			if len(h.records.assessments) != 0 {
				t.Fatal("did not expect an assessment")
			}
			if s := h.session(t); s.TurnCount != 6 || s.Phase != PhaseQuestioning {
				t.Fatalf("unexpected session state %+v", s)
			}
		})
	}
}

func TestAssessmentUpstreamFailurePreservesSession(t *testing.T) {
	h := newHarness(t)
	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})

	h.llm.mu.Lock()
	h.llm.fail[followUpTokens] = 1
	h.llm.mu.Unlock()

	h.send(EventUserMessage, UserMessage{Message: "first"})
	requireError(t, h.out.last(), "Failed to process message")

	s := h.session(t)
	if s.TurnCount != 0 || len(s.Transcript) != 1 {
		t.Fatalf("session advanced despite failure: %+v", s)
	}

	h.send(EventUserMessage, UserMessage{Message: "first"})
	ev := h.out.last()
	if ev.Name != EventAssistantMessage || ev.Data.(AssistantMessage).QuestionNumber != 2 {
		t.Fatalf("expected retry to ask question 2, got %+v", ev)
	}
}

func TestAssessmentPersistenceFailurePreservesSession(t *testing.T) {
	h := newHarness(t)
	h.records.failAssess = 1

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	for i := 0; i < 5; i++ {
		h.send(EventUserMessage, UserMessage{Message: "beats"})
	}
	requireError(t, h.out.last(), "Failed to process message")
	if s := h.session(t); s.TurnCount != 4 {
		t.Fatalf("expected session at 4 answers, got %d", s.TurnCount)
	}

	h.send(EventUserMessage, UserMessage{Message: "beats"})
	if h.out.last().Name != EventAssessmentComplete {
		t.Fatalf("expected completion on retry, got %s", h.out.last().Name)
	}
	if len(h.records.assessments) != 1 {
		t.Fatalf("expected exactly one assessment, got %d", len(h.records.assessments))
	}
}

func TestChatLogFailureIsPersistenceError(t *testing.T) {
	h := newHarness(t)
	h.records.failChatAfter = 1

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	h.send(EventUserMessage, UserMessage{Message: "hello"})

	requireError(t, h.out.last(), "Failed to process message")
	if s := h.session(t); s.TurnCount != 0 {
		t.Fatalf("expected session unchanged, got %d answers", s.TurnCount)
	}
}

func TestWellnessCheckCompletes(t *testing.T) {
	h := newHarness(t)
	h.llm.analysis = "OUTCOME: UNHAPPY_WITH_COURSE\nREASONING: pacing\nRECOMMENDATION: meet a mentor"

	h.send(EventStartWellness, StartWellness{UserID: "u1", CourseID: "c1"})
	if h.out.last().Name != EventAssistantMessage {
		t.Fatalf("expected greeting, got %s", h.out.last().Name)
	}

	h.send(EventWellnessResponse, UserMessage{Message: "It's ok"})
	if h.out.last().Name != EventAssistantMessage {
		t.Fatalf("expected follow-up, got %s", h.out.last().Name)
	}
	if len(h.records.wellness) != 0 {
		t.Fatal("classified too early")
	}

	h.send(EventWellnessResponse, UserMessage{Message: "The course is too slow"})
	done := h.out.last()
	if done.Name != EventWellnessComplete {
		t.Fatalf("expected wellness-complete, got %s", done.Name)
	}
	payload := done.Data.(WellnessComplete)
	if payload.Outcome != string(domain.UnhappyWithCourse) || payload.Recommendation != "meet a mentor" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(h.records.wellness) != 1 {
		t.Fatalf("expected exactly one progress update, got %d", len(h.records.wellness))
	}
	if got := h.records.wellness[0]; got != (wellnessUpdate{"u1", "c1", domain.UnhappyWithCourse}) {
		t.Fatalf("unexpected update %+v", got)
	}
	if h.engine.ActiveSessions() != 0 {
		t.Fatal("expected session to be removed")
	}
}

func TestWellnessDefaultsToHappy(t *testing.T) {
	h := newHarness(t)
	h.llm.analysis = "They seem fine."

	h.send(EventStartWellness, StartWellness{UserID: "u1", CourseID: "c1"})
	h.send(EventWellnessResponse, UserMessage{Message: "good"})
	h.send(EventWellnessResponse, UserMessage{Message: "great"})

	if got := h.out.last().Data.(WellnessComplete).Outcome; got != string(domain.HappyWithPath) {
		t.Fatalf("expected HAPPY_WITH_PATH, got %s", got)
	}
}

func TestEventsRequireMatchingSession(t *testing.T) {
	h := newHarness(t)

	h.send(EventUserMessage, UserMessage{Message: "hello"})
	requireError(t, h.out.last(), "No active session")

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	h.send(EventWellnessResponse, UserMessage{Message: "hello"})
	requireError(t, h.out.last(), "No active wellness check session")

	h.send(EventStartWellness, StartWellness{UserID: "u1", CourseID: "c1"})
	h.send(EventUserMessage, UserMessage{Message: "hello"})
	requireError(t, h.out.last(), "No active session")
}

func TestEventValidation(t *testing.T) {
	h := newHarness(t)

	h.send(EventStartAssessment, map[string]any{})
	requireError(t, h.out.last(), "userId is required")

	h.send(EventStartWellness, StartWellness{UserID: "u1"})
	requireError(t, h.out.last(), "courseId is required")

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	h.send(EventUserMessage, UserMessage{Message: "   "})
	requireError(t, h.out.last(), "message is required")

	h.send("start-mentoring", nil)
	requireError(t, h.out.last(), "unsupported event: start-mentoring")

	h.engine.Dispatch(context.Background(), h.conn, Envelope{Event: EventUserMessage, Data: json.RawMessage(`"oops"`)})
	requireError(t, h.out.last(), "invalid payload")
}

func TestUserIDFallsBackToIdentity(t *testing.T) {
	h := newHarness(t)
	h.conn.UserID = "auth-user"

	h.send(EventStartAssessment, nil)
	if s := h.session(t); s.UserID != "auth-user" {
		t.Fatalf("expected identity fallback, got %q", s.UserID)
	}

	h.send(EventStartAssessment, StartAssessment{UserID: "someone-else"})
	requireError(t, h.out.last(), "userId does not match credential")
}

func TestDisconnectStartsFresh(t *testing.T) {
	h := newHarness(t)
	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	h.send(EventUserMessage, UserMessage{Message: "one"})
	first := h.session(t)

	h.engine.Disconnect(h.conn.ID)
	if h.engine.ActiveSessions() != 0 {
		t.Fatal("expected session removed on disconnect")
	}

	h.conn = Conn{ID: "conn-2", Out: h.out}
	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	fresh := h.session(t)
	if fresh.ID == first.ID || fresh.TurnCount != 0 || len(fresh.Transcript) != 1 {
		t.Fatalf("expected a fresh session, got %+v", fresh)
	}
}

func TestEventsForOneConnectionAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})

	var inflight, maxInflight atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h.llm.hook = func(maxTokens int) {
		if maxTokens != followUpTokens {
			return
		}
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		inflight.Add(-1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.send(EventUserMessage, UserMessage{Message: "a"})
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.send(EventUserMessage, UserMessage{Message: "b"})
	}()

	select {
	case <-entered:
		t.Fatal("second event entered the model while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	wg.Wait()

	if maxInflight.Load() != 1 {
		t.Fatalf("expected serialized transitions, saw %d concurrent", maxInflight.Load())
	}
	s := h.session(t)
	if s.TurnCount != 2 {
		t.Fatalf("expected both answers applied, got %d", s.TurnCount)
	}
	users := userMessages(s.Transcript)
	if users[0] != "a" || users[1] != "b" {
		t.Fatalf("answers applied out of order: %v", users)
	}
}

func TestConnectionsRunConcurrently(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := Conn{ID: fmt.Sprintf("conn-%d", i), Out: h.out}
			raw, _ := json.Marshal(StartAssessment{UserID: fmt.Sprintf("u%d", i)})
			h.engine.Dispatch(context.Background(), c, Envelope{Event: EventStartAssessment, Data: raw})
		}(i)
	}
	wg.Wait()

	if h.engine.ActiveSessions() != 10 {
		t.Fatalf("expected 10 sessions, got %d", h.engine.ActiveSessions())
	}
	if len(h.engine.lanes.m) != 0 {
		t.Fatalf("expected lanes released, got %d", len(h.engine.lanes.m))
	}
}

func TestFailedGreetingKeepsPriorSession(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  any
		msg   string
	}{
		{"assessment", EventStartAssessment, StartAssessment{UserID: "u1"}, "Failed to start assessment"},
		{"wellness", EventStartWellness, StartWellness{UserID: "u1", CourseID: "c1"}, "Failed to start wellness check"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
			h.send(EventUserMessage, UserMessage{Message: "I love music"})
			h.send(EventUserMessage, UserMessage{Message: "and coaching"})
			before := h.session(t)

			h.llm.mu.Lock()
			h.llm.fail[greetingTokens] = 1
			h.llm.mu.Unlock()

			h.send(tt.event, tt.data)
			requireError(t, h.out.last(), tt.msg)

			after := h.session(t)
			if after.ID != before.ID || after.TurnCount != 2 || after.Phase != PhaseQuestioning {
				t.Fatalf("prior session was replaced: before %+v, after %+v", before, after)
			}

			h.send(EventUserMessage, UserMessage{Message: "third answer"})
			ev := h.out.last()
			if ev.Name != EventAssistantMessage || ev.Data.(AssistantMessage).QuestionNumber != 4 {
				t.Fatalf("expected question 4 from the prior session, got %+v", ev)
			}
		})
	}
}

func TestFailedGreetingRegistersNothing(t *testing.T) {
	h := newHarness(t)
	h.llm.mu.Lock()
	h.llm.fail[greetingTokens] = 1
	h.llm.mu.Unlock()

	h.send(EventStartAssessment, StartAssessment{UserID: "u1"})
	requireError(t, h.out.last(), "Failed to start assessment")
	if h.engine.ActiveSessions() != 0 {
		t.Fatalf("expected no session after failed greeting, got %d", h.engine.ActiveSessions())
	}

	h.send(EventUserMessage, UserMessage{Message: "orphan answer"})
	requireError(t, h.out.last(), "No active session")
}

func TestGreetingPhaseSessionRejectsAnswers(t *testing.T) {
	h := newHarness(t)
	h.engine.sessions.Put(h.conn.ID, newSession(domain.SessionAssessment, "u1", ""))
	h.send(EventUserMessage, UserMessage{Message: "too early"})
	requireError(t, h.out.last(), "No active session")

	h.engine.sessions.Put(h.conn.ID, newSession(domain.SessionWellness, "u1", "c1"))
	h.send(EventWellnessResponse, UserMessage{Message: "too early"})
	requireError(t, h.out.last(), "No active wellness check session")
}
