package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/go-chi/chi/v5"
)

type saveSubcategoriesRequest struct {
	AssessmentID          string   `json:"assessmentId"`
	SelectedSubcategories []string `json:"selectedSubcategories"`
}

// Categories returns the career taxonomy.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"categories": h.catalog.Categories(),
	})
}

// ChatHistory returns the caller's transcript for one session.
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	messages, err := h.repo.ChatHistory(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to get chat history", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "Failed to get chat history")
		return
	}
	if messages == nil {
		messages = []domain.ChatTurn{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// SaveSubcategories records the subcategories the user confirmed after an
// assessment and updates their profile.
func (h *Handler) SaveSubcategories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req saveSubcategoriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AssessmentID == "" {
		Error(w, http.StatusBadRequest, "assessmentId is required")
		return
	}
	if len(req.SelectedSubcategories) == 0 {
		Error(w, http.StatusBadRequest, "selectedSubcategories is required")
		return
	}

	ctx := r.Context()
	assessment, err := h.repo.GetAssessment(ctx, req.AssessmentID)
	if err != nil {
		if h.isNotFound(err) {
			Error(w, http.StatusNotFound, "assessment not found")
			return
		}
		slog.Error("Failed to get assessment", "error", err, "assessment_id", req.AssessmentID)
		Error(w, http.StatusInternalServerError, "Failed to save subcategories")
		return
	}
	if assessment.UserID != userID {
		Error(w, http.StatusNotFound, "assessment not found")
		return
	}

	for _, sub := range req.SelectedSubcategories {
		if !h.catalog.Contains(assessment.RecommendedCategory, sub) {
			Error(w, http.StatusBadRequest, "unknown subcategory: "+sub)
			return
		}
	}

	if err := h.repo.SelectSubcategories(ctx, assessment, req.SelectedSubcategories); err != nil {
		slog.Error("Failed to save subcategories", "error", err, "assessment_id", req.AssessmentID, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Failed to save subcategories")
		return
	}

	slog.Info("Subcategories saved", "user_id", userID, "assessment_id", req.AssessmentID, "count", len(req.SelectedSubcategories))
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
