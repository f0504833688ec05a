package dialogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/ashureev/sparkpath/internal/transcript"
)

// ChatStore persists transcript entries.
type ChatStore interface {
	AppendChatTurn(ctx context.Context, turn domain.ChatTurn) error
}

// TranscriptLogger appends every dialogue turn to the durable chat log and
// mirrors it into the conversation audit log.
type TranscriptLogger struct {
	store  ChatStore
	mirror transcript.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]int64
}

// NewTranscriptLogger creates a logger. A nil mirror disables mirroring.
func NewTranscriptLogger(store ChatStore, mirror transcript.Logger) *TranscriptLogger {
	if mirror == nil {
		mirror = transcript.Noop{}
	}
	return &TranscriptLogger{
		store:  store,
		mirror: mirror,
		now:    time.Now,
		last:   make(map[string]int64),
	}
}

// Append writes one turn for the session. Timestamps are Unix milliseconds
// and strictly increase within a session.
func (l *TranscriptLogger) Append(ctx context.Context, s *Session, role domain.Role, message string, metadata map[string]any) error {
	turn := domain.ChatTurn{
		ChatID:      s.ChatID(),
		Timestamp:   l.nextTimestamp(s.ChatID()),
		UserID:      s.UserID,
		SessionID:   s.ID,
		SessionType: s.Kind,
		Role:        role,
		Message:     message,
		Metadata:    metadata,
	}
	if err := l.store.AppendChatTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: append chat turn: %w", ErrPersistence, err)
	}

	direction, eventType := "outbound", "assistant_message"
	if role == domain.RoleUser {
		direction, eventType = "inbound", "user_message"
	}
	l.mirror.Log(transcript.Event{
		Timestamp:   time.UnixMilli(turn.Timestamp).UTC().Format(time.RFC3339Nano),
		UserID:      s.UserID,
		SessionID:   s.ID,
		SessionType: string(s.Kind),
		Channel:     "ws",
		Direction:   direction,
		EventType:   eventType,
		ContentRaw:  message,
		Meta:        metadata,
	})
	return nil
}

// Forget drops the timestamp watermark of a finished session.
func (l *TranscriptLogger) Forget(chatID string) {
	l.mu.Lock()
	delete(l.last, chatID)
	l.mu.Unlock()
}

func (l *TranscriptLogger) nextTimestamp(chatID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().UnixMilli()
	if prev, ok := l.last[chatID]; ok && ts <= prev {
		ts = prev + 1
	}
	l.last[chatID] = ts
	return ts
}
