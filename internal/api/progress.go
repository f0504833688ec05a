package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/go-chi/chi/v5"
)

type courseRequest struct {
	CourseID string `json:"courseId"`
	LessonID string `json:"lessonId,omitempty"`
}

// GetProgress returns the caller's progress in one course. A course that was
// never started yields a not-started record.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	courseID := chi.URLParam(r, "courseId")

	progress, err := h.repo.GetProgress(r.Context(), userID, courseID)
	if err != nil {
		slog.Error("Failed to get progress", "error", err, "user_id", userID, "course_id", courseID)
		Error(w, http.StatusInternalServerError, "Failed to get progress")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"progress": progress})
}

// ListProgress returns every course the caller has progress in.
func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.repo.ListProgress(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list progress", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Failed to get user progress")
		return
	}
	if list == nil {
		list = []domain.Progress{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"progress": list})
}

// StartCourse marks a course as started.
func (h *Handler) StartCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req courseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CourseID == "" {
		Error(w, http.StatusBadRequest, "courseId is required")
		return
	}

	progress, err := h.repo.StartProgress(r.Context(), userID, req.CourseID)
	if err != nil {
		slog.Error("Failed to start course", "error", err, "user_id", userID, "course_id", req.CourseID)
		Error(w, http.StatusInternalServerError, "Failed to start course")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"progress": progress})
}

// CompleteLesson marks a lesson complete and reports whether the learner is
// due a wellness check.
func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req courseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CourseID == "" || req.LessonID == "" {
		Error(w, http.StatusBadRequest, "courseId and lessonId are required")
		return
	}

	progress, err := h.repo.CompleteLesson(r.Context(), userID, req.CourseID, req.LessonID)
	if err != nil {
		slog.Error("Failed to update progress", "error", err, "user_id", userID, "course_id", req.CourseID)
		Error(w, http.StatusInternalServerError, "Failed to update progress")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"progress":           progress,
		"needsWellnessCheck": progress.NeedsWellnessCheck(),
	})
}
