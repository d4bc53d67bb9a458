package engine

import (
	"context"
	"errors"
	"net"

	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/llm"
)

type modelNamer interface {
	Model() string
}

func (e *Engine) mapGenerationError(phase, subphase string, err error) *errinfo.ErrorInfo {
	info := mapGenerationError(phase, subphase, err)
	if named, ok := e.gen.(modelNamer); ok {
		info.ModelID = named.Model()
	}
	e.logger.Warn("engine.generation_failed", "phase", phase, "subphase", subphase, "error_code", info.ErrorCode, "error", err.Error())
	return info
}

func mapGenerationError(phase, subphase string, err error) *errinfo.ErrorInfo {
	var info *errinfo.ErrorInfo
	var netErr net.Error
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		info = errinfo.ProviderAuthFailed(phase)
	case errors.Is(err, llm.ErrEgressBlocked):
		info = errinfo.EgressBlocked(phase, err.Error())
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, llm.ErrRateLimited):
		info = errinfo.ProviderUnavailable(phase, err.Error())
	case errors.Is(err, context.Canceled):
		info = errinfo.UserCanceled(phase, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		info = errinfo.ProviderUnavailable(phase, err.Error())
	default:
		// Unknown templates, empty replies and anything unclassified.
		info = errinfo.GenerationFailed(phase, subphase, err.Error())
	}
	if info.Subphase == "" {
		info.Subphase = subphase
	}
	return info
}
