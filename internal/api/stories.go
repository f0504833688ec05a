package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/sparkpath/internal/domain"
)

// MatchedStories returns the success stories most relevant to the caller.
func (h *Handler) MatchedStories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		if h.isNotFound(err) {
			Error(w, http.StatusNotFound, "User not found")
			return
		}
		slog.Error("Failed to get user", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Failed to get success stories")
		return
	}

	all, err := h.repo.ListStories(ctx)
	if err != nil {
		slog.Error("Failed to list stories", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to get success stories")
		return
	}
	if len(all) == 0 {
		JSON(w, http.StatusOK, map[string]interface{}{"stories": []domain.Story{}})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"stories": h.stories.Match(ctx, user, all, matchedStoriesLimit),
	})
}
