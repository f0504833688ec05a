package domain

// ChatTurn is one durable, append-only transcript entry.
// Entries sharing a ChatID are ordered by Timestamp ascending.
type ChatTurn struct {
	ChatID      string         `json:"chatId"`
	Timestamp   int64          `json:"timestamp"`
	UserID      string         `json:"userId"`
	SessionID   string         `json:"sessionId"`
	SessionType SessionKind    `json:"sessionType"`
	Role        Role           `json:"role"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ChatID builds the transcript partition key for a user's session.
func ChatID(userID, sessionID string) string {
	return userID + "#" + sessionID
}
