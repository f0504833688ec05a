package dialogue

import (
	"slices"
	"time"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/google/uuid"
)

// Phase is the resting state of a live session between events.
// Concluding and terminal states are never stored.
type Phase string

const (
	PhaseGreeting    Phase = "greeting"
	PhaseQuestioning Phase = "questioning"
	PhaseChecking    Phase = "checking"
)

// Session is the ephemeral dialogue state owned by one connection.
type Session struct {
	ID         string
	Kind       domain.SessionKind
	UserID     string
	CourseID   string
	Phase      Phase
	Transcript []domain.Turn
	// TurnCount is the number of user turns in Transcript.
	TurnCount int
	StartedAt time.Time
}

func newSession(kind domain.SessionKind, userID, courseID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		CourseID:  courseID,
		Phase:     PhaseGreeting,
		StartedAt: time.Now(),
	}
}

// ChatID is the transcript partition this session logs into.
func (s *Session) ChatID() string {
	return domain.ChatID(s.UserID, s.ID)
}

func (s *Session) clone() *Session {
	c := *s
	c.Transcript = slices.Clone(s.Transcript)
	return &c
}

func (s *Session) appendTurn(role domain.Role, message string) {
	s.Transcript = append(s.Transcript, domain.Turn{Role: role, Message: message})
	if role == domain.RoleUser {
		s.TurnCount++
	}
}
