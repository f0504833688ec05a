package dialogue

import (
	"context"
	"encoding/json"
)

// Inbound event names.
const (
	EventStartAssessment  = "start-assessment"
	EventUserMessage      = "user-message"
	EventStartWellness    = "start-wellness-check"
	EventWellnessResponse = "wellness-response"
)

// Outbound event names.
const (
	EventAssistantMessage   = "assistant-message"
	EventAssessmentComplete = "assessment-complete"
	EventWellnessComplete   = "wellness-complete"
	EventError              = "error"
)

// Envelope is an inbound frame: {"event": name, "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame with the same shape as Envelope.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// StartAssessment is the payload of start-assessment.
type StartAssessment struct {
	UserID string `json:"userId"`
}

// StartWellness is the payload of start-wellness-check.
type StartWellness struct {
	UserID   string `json:"userId"`
	CourseID string `json:"courseId"`
}

// UserMessage is the payload of user-message and wellness-response.
type UserMessage struct {
	Message string `json:"message"`
}

// AssistantMessage is one assistant dialogue turn.
type AssistantMessage struct {
	Message        string `json:"message"`
	QuestionNumber int    `json:"questionNumber,omitempty"`
}

// AssessmentComplete ends an assessment session.
type AssessmentComplete struct {
	Category      string   `json:"category"`
	Subcategories []string `json:"subcategories"`
	Reasoning     string   `json:"reasoning"`
	AssessmentID  string   `json:"assessmentId"`
}

// WellnessComplete ends a wellness session.
type WellnessComplete struct {
	Outcome        string `json:"outcome"`
	Reasoning      string `json:"reasoning"`
	Recommendation string `json:"recommendation"`
}

// ErrorMessage reports a non-fatal failure; the session is left as it was.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Emitter delivers outbound events to one connection.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
