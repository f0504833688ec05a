package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/sparkpath/internal/domain"
)

// Records exposes typed accessors for the application's documents on top of KV.
type Records struct {
	kv KV

	// progressMu serializes read-modify-write cycles on progress records.
	progressMu sync.Mutex
}

// NewRecords creates a typed records layer over kv.
func NewRecords(kv KV) *Records {
	return &Records{kv: kv}
}

// Ping verifies the underlying store is reachable.
func (r *Records) Ping(ctx context.Context) error {
	return r.kv.Ping(ctx)
}

// AppendChatTurn stores one transcript entry under its (chatId, timestamp) key.
func (r *Records) AppendChatTurn(ctx context.Context, turn domain.ChatTurn) error {
	return r.kv.Put(ctx, TableChatHistory, Item{
		Key:    Key{Partition: turn.ChatID, Sort: turn.Timestamp},
		UserID: turn.UserID,
		Body:   turn,
	})
}

// ChatHistory returns a session's transcript in timestamp order.
func (r *Records) ChatHistory(ctx context.Context, userID, sessionID string) ([]domain.ChatTurn, error) {
	raws, err := r.kv.Query(ctx, TableChatHistory, IndexPrimary, domain.ChatID(userID, sessionID))
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.ChatTurn](raws)
}

// PutAssessment stores a completed assessment.
func (r *Records) PutAssessment(ctx context.Context, a *domain.Assessment) error {
	return r.kv.Put(ctx, TableAssessments, Item{
		Key:    Key{Partition: a.AssessmentID},
		UserID: a.UserID,
		Body:   a,
	})
}

// GetAssessment returns ErrNotFound if no assessment has the given ID.
func (r *Records) GetAssessment(ctx context.Context, assessmentID string) (*domain.Assessment, error) {
	var a domain.Assessment
	ok, err := r.kv.Get(ctx, TableAssessments, Key{Partition: assessmentID}, &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// ListAssessments returns every assessment owned by a user.
func (r *Records) ListAssessments(ctx context.Context, userID string) ([]domain.Assessment, error) {
	raws, err := r.kv.Query(ctx, TableAssessments, IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Assessment](raws)
}

// SelectSubcategories records the user's confirmed subcategories on the
// assessment and copies category and selection onto the user profile.
func (r *Records) SelectSubcategories(ctx context.Context, a *domain.Assessment, selected []string) error {
	if err := r.kv.Update(ctx, TableAssessments, Key{Partition: a.AssessmentID}, a.UserID, map[string]any{
		"selectedSubcategories": selected,
	}); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	if err := r.kv.Update(ctx, TableUsers, Key{Partition: a.UserID}, a.UserID, map[string]any{
		"userId":        a.UserID,
		"category":      a.RecommendedCategory,
		"subcategories": selected,
		"isNewUser":     false,
		"updatedAt":     time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// GetUser returns ErrNotFound if the user has no profile yet.
func (r *Records) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	ok, err := r.kv.Get(ctx, TableUsers, Key{Partition: userID}, &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// PutUser creates or replaces a user profile.
func (r *Records) PutUser(ctx context.Context, u *domain.User) error {
	return r.kv.Put(ctx, TableUsers, Item{Key: Key{Partition: u.UserID}, UserID: u.UserID, Body: u})
}

// GetCourse returns ErrNotFound if no course has the given ID.
func (r *Records) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	var c domain.Course
	ok, err := r.kv.Get(ctx, TableCourses, Key{Partition: courseID}, &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// PutCourse creates or replaces a course.
func (r *Records) PutCourse(ctx context.Context, c *domain.Course) error {
	return r.kv.Put(ctx, TableCourses, Item{Key: Key{Partition: c.CourseID}, Body: c})
}

// GetProgress returns the stored progress, or a not-started record if none exists.
func (r *Records) GetProgress(ctx context.Context, userID, courseID string) (*domain.Progress, error) {
	var p domain.Progress
	ok, err := r.kv.Get(ctx, TableProgress, Key{Partition: domain.ProgressID(userID, courseID)}, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return domain.NewProgress(userID, courseID), nil
	}
	if p.CompletedLessons == nil {
		p.CompletedLessons = []string{}
	}
	return &p, nil
}

// ListProgress returns every progress record of a user.
func (r *Records) ListProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	raws, err := r.kv.Query(ctx, TableProgress, IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Progress](raws)
}

// StartProgress marks a course as started, keeping any existing progress.
func (r *Records) StartProgress(ctx context.Context, userID, courseID string) (*domain.Progress, error) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	p, err := r.GetProgress(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	if p.Status == domain.StatusNotStarted || p.Status == "" {
		p.Status = domain.StatusInProgress
	}
	p.LastAccessedAt = &now
	if err := r.putProgress(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompleteLesson adds a lesson to the user's progress and recomputes the
// completion percentage against the course size.
func (r *Records) CompleteLesson(ctx context.Context, userID, courseID, lessonID string) (*domain.Progress, error) {
	total := domain.DefaultTotalLessons
	course, err := r.GetCourse(ctx, courseID)
	switch {
	case err == nil && course.TotalLessons > 0:
		total = course.TotalLessons
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	p, err := r.GetProgress(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	p.LastAccessedAt = &now
	p.CompleteLesson(lessonID, total)
	if err := r.putProgress(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompleteWellnessCheck marks the course's wellness check as done with the
// given outcome. Repeating the call leaves the record unchanged apart from
// its access time.
func (r *Records) CompleteWellnessCheck(ctx context.Context, userID, courseID string, outcome domain.WellnessOutcome) error {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	id := domain.ProgressID(userID, courseID)
	return r.kv.Update(ctx, TableProgress, Key{Partition: id}, userID, map[string]any{
		"progressId":             id,
		"userId":                 userID,
		"courseId":               courseID,
		"wellnessCheckCompleted": true,
		"wellnessOutcome":        outcome,
		"lastAccessedAt":         time.Now().UTC(),
	})
}

func (r *Records) putProgress(ctx context.Context, p *domain.Progress) error {
	return r.kv.Put(ctx, TableProgress, Item{
		Key:    Key{Partition: p.ProgressID},
		UserID: p.UserID,
		Body:   p,
	})
}

// ListStories returns every success story.
func (r *Records) ListStories(ctx context.Context) ([]domain.Story, error) {
	raws, err := r.kv.Scan(ctx, TableStories)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Story](raws)
}

// PutStory creates or replaces a success story.
func (r *Records) PutStory(ctx context.Context, s *domain.Story) error {
	return r.kv.Put(ctx, TableStories, Item{Key: Key{Partition: s.StoryID}, Body: s})
}
