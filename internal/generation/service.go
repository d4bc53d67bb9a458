// Package generation talks to the code-generation model.
package generation

import (
	"context"
	"errors"

	"forgebench/engine/internal/llm"
)

var ErrUnknownTemplate = errors.New("model did not pick a known template")

// Service produces templates, artifacts and prompt enhancements.
type Service interface {
	Template(ctx context.Context, prompt string) (Template, error)
	Chat(ctx context.Context, messages []llm.Message) (string, error)
	// Enhance streams the improved prompt through onDelta and returns the
	// full text.
	Enhance(ctx context.Context, prompt string, onDelta func(string)) (string, error)
}
