package domain

import "time"

// Assessment is the durable result of a completed assessment session.
// Only SelectedSubcategories changes after creation.
type Assessment struct {
	AssessmentID             string    `json:"assessmentId"`
	UserID                   string    `json:"userId"`
	SessionID                string    `json:"sessionId"`
	Questions                []Turn    `json:"questions"`
	RecommendedCategory      string    `json:"recommendedCategory"`
	RecommendedSubcategories []string  `json:"recommendedSubcategories"`
	SelectedSubcategories    []string  `json:"selectedSubcategories"`
	CompletedAt              time.Time `json:"completedAt"`
}
