package domain

// SessionKind identifies which dialogue a session drives.
type SessionKind string

const (
	// SessionAssessment is the career-categorization dialogue.
	SessionAssessment SessionKind = "assessment"
	// SessionWellness is the course-satisfaction check-in.
	SessionWellness SessionKind = "wellness"
)

// Role attributes a turn to one side of the dialogue.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message exchanged in a dialogue.
type Turn struct {
	Role    Role   `json:"role"`
	Message string `json:"message"`
}

// UserTurns returns the number of turns attributed to the user.
func UserTurns(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}
