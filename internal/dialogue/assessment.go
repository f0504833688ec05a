package dialogue

import (
	"context"
	"fmt"
	"slices"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/google/uuid"
)

const (
	// assessmentMinAnswers is the number of user answers before the first analysis.
	assessmentMinAnswers = 5
	// assessmentSoftLimit is where a low-confidence conversation is flagged in logs.
	// It does not end the conversation.
	assessmentSoftLimit = 7
	// confidenceThreshold must be exceeded for an analysis to conclude.
	confidenceThreshold = 60
)

func (e *Engine) assessmentGreeting(ctx context.Context, s *Session) ([]Event, error) {
	greeting, err := e.llm.Complete(ctx, assessmentGreetingPrompt, e.assessmentSystem, greetingTokens)
	if err != nil {
		return nil, fmt.Errorf("assessment greeting: %w", err)
	}
	if err := e.transcript.Append(ctx, s, domain.RoleAssistant, greeting, map[string]any{"questionNumber": 1}); err != nil {
		return nil, err
	}
	s.appendTurn(domain.RoleAssistant, greeting)
	s.Phase = PhaseQuestioning
	return []Event{{Name: EventAssistantMessage, Data: AssistantMessage{Message: greeting, QuestionNumber: 1}}}, nil
}

// assessmentTurn applies one user answer to s. The returned bool reports
// whether the session reached its terminal state.
func (e *Engine) assessmentTurn(ctx context.Context, s *Session, message string) ([]Event, bool, error) {
	s.appendTurn(domain.RoleUser, message)
	if err := e.transcript.Append(ctx, s, domain.RoleUser, message, map[string]any{"questionNumber": s.TurnCount}); err != nil {
		return nil, false, err
	}

	if s.TurnCount >= assessmentMinAnswers {
		events, done, err := e.concludeAssessment(ctx, s)
		if err != nil || done {
			return events, done, err
		}
		if s.TurnCount >= assessmentSoftLimit {
			e.logger.Warn("assessment still inconclusive",
				"session_id", s.ID, "user_id", s.UserID, "answers", s.TurnCount)
		}
	}

	events, err := e.askNextQuestion(ctx, s)
	return events, false, err
}

// concludeAssessment analyzes the transcript. When the analysis is not
// confident enough it returns no events and the conversation continues.
func (e *Engine) concludeAssessment(ctx context.Context, s *Session) ([]Event, bool, error) {
	raw, err := e.llm.Complete(ctx, categoryAnalysisPrompt(s.Transcript, e.catalog.Names()), "", analysisTokens)
	if err != nil {
		return nil, false, fmt.Errorf("category analysis: %w", err)
	}
	analysis := ParseCategoryAnalysis(raw)

	var (
		category string
		known    bool
	)
	if analysis.HasCategory {
		category, known = e.catalog.Resolve(analysis.Category)
	}
	if !known || analysis.Confidence <= confidenceThreshold {
		e.logger.Info("assessment analysis inconclusive",
			"session_id", s.ID,
			"category", analysis.Category,
			"known_category", known,
			"confidence", analysis.Confidence,
		)
		return nil, false, nil
	}

	allowed := e.catalog.Subcategories(category)
	rawSubs, err := e.llm.Complete(ctx, subcategoryPrompt(category, s.Transcript, allowed), "", subcategoryTokens)
	if err != nil {
		return nil, false, fmt.Errorf("subcategory selection: %w", err)
	}
	subcategories := ParseSubcategoryList(rawSubs, allowed)
	if len(subcategories) == 0 {
		e.logger.Warn("no valid subcategories suggested", "session_id", s.ID, "category", category)
	}

	a := &domain.Assessment{
		AssessmentID:             uuid.NewString(),
		UserID:                   s.UserID,
		SessionID:                s.ID,
		Questions:                slices.Clone(s.Transcript),
		RecommendedCategory:      category,
		RecommendedSubcategories: subcategories,
		SelectedSubcategories:    []string{},
		CompletedAt:              e.now().UTC(),
	}
	if err := e.records.PutAssessment(ctx, a); err != nil {
		return nil, false, fmt.Errorf("%w: save assessment: %w", ErrPersistence, err)
	}

	// The assessment is durable from here on; a failed log write must not
	// cause the client to retry into a second assessment.
	summary := recommendationMessage(category, analysis.Reasoning, subcategories)
	if err := e.transcript.Append(ctx, s, domain.RoleAssistant, summary, map[string]any{
		"questionNumber": s.TurnCount + 1,
		"recommendation": true,
	}); err != nil {
		e.logger.Warn("failed to log recommendation", "session_id", s.ID, "error", err)
	}

	e.logger.Info("assessment complete",
		"session_id", s.ID,
		"user_id", s.UserID,
		"assessment_id", a.AssessmentID,
		"category", category,
		"confidence", analysis.Confidence,
	)
	return []Event{{Name: EventAssessmentComplete, Data: AssessmentComplete{
		Category:      category,
		Subcategories: subcategories,
		Reasoning:     analysis.Reasoning,
		AssessmentID:  a.AssessmentID,
	}}}, true, nil
}

func (e *Engine) askNextQuestion(ctx context.Context, s *Session) ([]Event, error) {
	next := s.TurnCount + 1
	question, err := e.llm.Complete(ctx, nextQuestionPrompt(s.Transcript, next), e.assessmentSystem, followUpTokens)
	if err != nil {
		return nil, fmt.Errorf("next question: %w", err)
	}
	if err := e.transcript.Append(ctx, s, domain.RoleAssistant, question, map[string]any{"questionNumber": next}); err != nil {
		return nil, err
	}
	s.appendTurn(domain.RoleAssistant, question)
	s.Phase = PhaseQuestioning
	return []Event{{Name: EventAssistantMessage, Data: AssistantMessage{Message: question, QuestionNumber: next}}}, nil
}
