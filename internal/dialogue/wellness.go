package dialogue

import (
	"context"
	"fmt"

	"github.com/ashureev/sparkpath/internal/domain"
)

// wellnessMinAnswers is the number of user answers before classification.
const wellnessMinAnswers = 2

func (e *Engine) wellnessGreeting(ctx context.Context, s *Session) ([]Event, error) {
	greeting, err := e.llm.Complete(ctx, wellnessGreetingPrompt, wellnessSystemPrompt, greetingTokens)
	if err != nil {
		return nil, fmt.Errorf("wellness greeting: %w", err)
	}
	if err := e.transcript.Append(ctx, s, domain.RoleAssistant, greeting, map[string]any{"courseId": s.CourseID}); err != nil {
		return nil, err
	}
	s.appendTurn(domain.RoleAssistant, greeting)
	s.Phase = PhaseChecking
	return []Event{{Name: EventAssistantMessage, Data: AssistantMessage{Message: greeting}}}, nil
}

func (e *Engine) wellnessTurn(ctx context.Context, s *Session, message string) ([]Event, bool, error) {
	s.appendTurn(domain.RoleUser, message)
	if err := e.transcript.Append(ctx, s, domain.RoleUser, message, map[string]any{"courseId": s.CourseID}); err != nil {
		return nil, false, err
	}

	if s.TurnCount >= wellnessMinAnswers {
		events, err := e.concludeWellness(ctx, s)
		return events, err == nil, err
	}

	reply, err := e.llm.Complete(ctx, wellnessFollowUpPrompt(s.Transcript), wellnessSystemPrompt, followUpTokens)
	if err != nil {
		return nil, false, fmt.Errorf("wellness follow-up: %w", err)
	}
	if err := e.transcript.Append(ctx, s, domain.RoleAssistant, reply, map[string]any{"courseId": s.CourseID}); err != nil {
		return nil, false, err
	}
	s.appendTurn(domain.RoleAssistant, reply)
	s.Phase = PhaseChecking
	return []Event{{Name: EventAssistantMessage, Data: AssistantMessage{Message: reply}}}, false, nil
}

func (e *Engine) concludeWellness(ctx context.Context, s *Session) ([]Event, error) {
	raw, err := e.llm.Complete(ctx, wellnessAnalysisPrompt(s.Transcript), "", analysisTokens)
	if err != nil {
		return nil, fmt.Errorf("wellness analysis: %w", err)
	}
	analysis := ParseWellnessOutcome(raw)

	if err := e.records.CompleteWellnessCheck(ctx, s.UserID, s.CourseID, analysis.Outcome); err != nil {
		return nil, fmt.Errorf("%w: update progress: %w", ErrPersistence, err)
	}

	e.logger.Info("wellness check complete",
		"session_id", s.ID,
		"user_id", s.UserID,
		"course_id", s.CourseID,
		"outcome", analysis.Outcome,
	)
	return []Event{{Name: EventWellnessComplete, Data: WellnessComplete{
		Outcome:        string(analysis.Outcome),
		Reasoning:      analysis.Reasoning,
		Recommendation: analysis.Recommendation,
	}}}, nil
}
