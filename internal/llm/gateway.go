// Package llm wraps a chat model behind a single text-completion call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrUpstreamUnavailable is returned when the model call fails, times out,
// or produces no usable text.
var ErrUpstreamUnavailable = errors.New("llm: upstream unavailable")

// DefaultTimeout bounds a single completion when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Completer produces text for a prompt and optional system instructions.
// Identical inputs may yield different outputs.
type Completer interface {
	Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error)
}

// Gateway implements Completer on top of an eino chat model.
type Gateway struct {
	model   model.BaseChatModel
	timeout time.Duration
	logger  *slog.Logger
}

// NewGateway creates a Gateway. A non-positive timeout selects DefaultTimeout.
func NewGateway(m model.BaseChatModel, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{model: m, timeout: timeout, logger: logger}
}

// Complete performs one model call. It never retries.
func (g *Gateway) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(prompt))

	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	start := time.Now()
	resp, err := g.model.Generate(ctx, messages, opts...)
	if err != nil {
		g.logger.Warn("llm completion failed", "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamUnavailable)
	}
	g.logger.Debug("llm completion", "elapsed", time.Since(start), "chars", len(resp.Content))
	return resp.Content, nil
}
