package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"forgebench/engine/internal/errinfo"
)

func (e *Engine) PreviewGetState(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.preview.State(), nil
}

// PreviewStart retries the preview after a failure. It is refused unless
// the preview is idle or failed.
func (e *Engine) PreviewStart(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	accepted := e.preview.Start()
	e.logger.Info("engine.preview_start", "accepted", accepted)
	return map[string]any{"accepted": accepted, "state": e.preview.State()}, nil
}

// PromptEnhance rewrites a prompt, streaming the text through
// PromptEnhanceDelta notifications tagged with the returned stream_id.
func (e *Engine) PromptEnhance(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseEnhance, &req); errInfo != nil {
		return nil, errInfo
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseEnhance, "prompt is required")
	}
	gen, errInfo := e.generator()
	if errInfo != nil {
		errInfo.Phase = errinfo.PhaseEnhance
		return nil, errInfo
	}
	streamID := uuid.NewString()
	enhanced, err := gen.Enhance(ctx, prompt, func(delta string) {
		e.emit("PromptEnhanceDelta", map[string]any{"stream_id": streamID, "delta": delta})
	})
	if err != nil {
		return nil, e.mapGenerationError(errinfo.PhaseEnhance, "", err)
	}
	return map[string]any{"stream_id": streamID, "prompt": enhanced}, nil
}
