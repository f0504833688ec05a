// Package api provides HTTP handlers for the SparkPath API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/sparkpath/internal/catalog"
	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/ashureev/sparkpath/internal/identity"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// matchedStoriesLimit is the number of stories returned by /stories/matched.
const matchedStoriesLimit = 5

// Repository is the persistence surface the REST handlers need.
type Repository interface {
	ChatHistory(ctx context.Context, userID, sessionID string) ([]domain.ChatTurn, error)
	GetAssessment(ctx context.Context, assessmentID string) (*domain.Assessment, error)
	SelectSubcategories(ctx context.Context, a *domain.Assessment, selected []string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetProgress(ctx context.Context, userID, courseID string) (*domain.Progress, error)
	ListProgress(ctx context.Context, userID string) ([]domain.Progress, error)
	StartProgress(ctx context.Context, userID, courseID string) (*domain.Progress, error)
	CompleteLesson(ctx context.Context, userID, courseID, lessonID string) (*domain.Progress, error)
	ListStories(ctx context.Context) ([]domain.Story, error)
}

// StoryMatcher orders stories for a user profile.
type StoryMatcher interface {
	Match(ctx context.Context, profile *domain.User, stories []domain.Story, limit int) []domain.Story
}

// Handler serves the REST surface around the dialogue engine.
type Handler struct {
	repo    Repository
	catalog *catalog.Catalog
	stories StoryMatcher

	// isNotFound reports whether a repository error means a missing record.
	isNotFound func(error) bool
}

// NewHandler creates a new Handler. isNotFound classifies repository errors
// for missing records; a nil func treats every error as a server error.
func NewHandler(repo Repository, cat *catalog.Catalog, stories StoryMatcher, isNotFound func(error) bool) *Handler {
	if isNotFound == nil {
		isNotFound = func(error) bool { return false }
	}
	return &Handler{repo: repo, catalog: cat, stories: stories, isNotFound: isNotFound}
}

// RegisterRoutes registers the API routes relative to the /api mount point.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/categories", h.Categories)

	r.Route("/chat", func(r chi.Router) {
		r.Get("/history/{sessionId}", h.ChatHistory)
		r.Post("/save-subcategories", h.SaveSubcategories)
	})

	r.Route("/progress", func(r chi.Router) {
		r.Get("/", h.ListProgress)
		r.Post("/start", h.StartCourse)
		r.Put("/lesson", h.CompleteLesson)
		r.Get("/{courseId}", h.GetProgress)
	})

	r.Get("/stories/matched", h.MatchedStories)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// requireUser returns the caller's user ID or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// decodeBody decodes a bounded JSON body into v, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			Error(w, http.StatusBadRequest, "request body is required")
		} else {
			Error(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}
