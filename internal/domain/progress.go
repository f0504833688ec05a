package domain

import (
	"math"
	"slices"
	"time"
)

// WellnessOutcome classifies how a learner feels about their course and path.
type WellnessOutcome string

const (
	HappyWithPath       WellnessOutcome = "HAPPY_WITH_PATH"
	UnhappyWithCourse   WellnessOutcome = "UNHAPPY_WITH_COURSE"
	UnhappyWithCategory WellnessOutcome = "UNHAPPY_WITH_CATEGORY"
)

// WellnessOutcomes lists every outcome in escalation order.
var WellnessOutcomes = []WellnessOutcome{HappyWithPath, UnhappyWithCourse, UnhappyWithCategory}

// Progress status values.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// DefaultTotalLessons is used when a course record does not declare its size.
const DefaultTotalLessons = 20

// WellnessCheckThreshold is the completion percentage that prompts a check-in.
const WellnessCheckThreshold = 25

// Progress tracks one user's progress through one course.
type Progress struct {
	ProgressID             string          `json:"progressId"`
	UserID                 string          `json:"userId"`
	CourseID               string          `json:"courseId"`
	CompletedLessons       []string        `json:"completedLessons"`
	PercentComplete        int             `json:"percentComplete"`
	Status                 string          `json:"status"`
	WellnessCheckCompleted bool            `json:"wellnessCheckCompleted"`
	WellnessOutcome        WellnessOutcome `json:"wellnessOutcome,omitempty"`
	StartedAt              *time.Time      `json:"startedAt,omitempty"`
	LastAccessedAt         *time.Time      `json:"lastAccessedAt,omitempty"`
}

// ProgressID builds the composite key of a progress record.
func ProgressID(userID, courseID string) string {
	return userID + "#" + courseID
}

// NewProgress returns the initial, not yet started progress state.
func NewProgress(userID, courseID string) *Progress {
	return &Progress{
		ProgressID:       ProgressID(userID, courseID),
		UserID:           userID,
		CourseID:         courseID,
		CompletedLessons: []string{},
		Status:           StatusNotStarted,
	}
}

// CompleteLesson records a lesson and recomputes the completion percentage.
// Completed lessons only ever grow.
func (p *Progress) CompleteLesson(lessonID string, totalLessons int) {
	if totalLessons <= 0 {
		totalLessons = DefaultTotalLessons
	}
	if !slices.Contains(p.CompletedLessons, lessonID) {
		p.CompletedLessons = append(p.CompletedLessons, lessonID)
	}
	pct := int(math.Round(float64(len(p.CompletedLessons)) / float64(totalLessons) * 100))
	p.PercentComplete = min(pct, 100)
	p.Status = StatusInProgress
	if p.PercentComplete >= 100 {
		p.Status = StatusCompleted
	}
}

// NeedsWellnessCheck reports whether a check-in is due for this course.
func (p *Progress) NeedsWellnessCheck() bool {
	return p.PercentComplete >= WellnessCheckThreshold && !p.WellnessCheckCompleted
}
