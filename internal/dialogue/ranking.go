package dialogue

import (
	"context"
	"log/slog"

	"github.com/ashureev/sparkpath/internal/domain"
	"github.com/ashureev/sparkpath/internal/llm"
)

// StoryRanker orders success stories by relevance to a user profile.
type StoryRanker struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewStoryRanker creates a StoryRanker.
func NewStoryRanker(c llm.Completer, logger *slog.Logger) *StoryRanker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoryRanker{llm: c, logger: logger}
}

// Match returns up to limit stories in the user's category, most relevant
// first. A user without a category is matched against every story. When
// ranking fails the stories are returned in their stored order.
func (r *StoryRanker) Match(ctx context.Context, profile *domain.User, stories []domain.Story, limit int) []domain.Story {
	var candidates []domain.Story
	for _, s := range stories {
		if !profile.HasCategory() || s.Category == profile.Category {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return []domain.Story{}
	}

	ranked := candidates
	raw, err := r.llm.Complete(ctx, storyRankingPrompt(profile, candidates), "", rankingTokens)
	if err != nil {
		r.logger.Warn("story ranking failed, using stored order", "user_id", profile.UserID, "error", err)
	} else if ordered := Reorder(candidates, ParseRankingIndices(raw)); len(ordered) > 0 {
		ranked = ordered
	}

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Reorder picks items by 0-based index. Out-of-range and repeated indices are skipped.
func Reorder[T any](items []T, indices []int) []T {
	out := make([]T, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(items) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, items[i])
	}
	return out
}
