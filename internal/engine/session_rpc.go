package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgebench/engine/internal/appdirs"
	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/snapshot"
	"forgebench/engine/internal/workspace"
)

const sessionExt = ".fbsession"

// SessionExport writes every checkpoint and blob to an archive. The file is
// written to a temporary name and renamed into place.
func (e *Engine) SessionExport(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseSession, &req); errInfo != nil {
		return nil, errInfo
	}
	if e.store.Len() == 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "nothing to export")
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		path = filepath.Join(appdirs.SessionsDir(e.dataDir), fmt.Sprintf("session-%s%s", e.now().UTC().Format("20060102-150405"), sessionExt))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, exportFailed(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return nil, exportFailed(err)
	}
	defer os.Remove(tmp.Name())
	if err := e.store.Export(tmp); err != nil {
		tmp.Close()
		return nil, exportFailed(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, exportFailed(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, exportFailed(err)
	}
	e.logger.Info("engine.session_exported", "path", path, "checkpoints", e.store.Len(), "blobs", e.store.BlobCount(), "blob_bytes", e.store.BlobBytes())
	return map[string]any{
		"path":        path,
		"checkpoints": e.store.Len(),
		"blobs":       e.store.BlobCount(),
		"blob_bytes":  e.store.BlobBytes(),
	}, nil
}

// SessionImport loads an archive into a fresh engine and restores its
// latest checkpoint. Nothing is imported unless the whole archive verifies.
func (e *Engine) SessionImport(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseSession, &req); errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "path is required")
	}
	_, _, errInfo := e.beginGeneration(func(state workspace.State) *errinfo.ErrorInfo {
		if state.Phase != workspace.PhaseIdle {
			return errinfo.ValidationFailed(errinfo.PhaseSession, "workspace already has content")
		}
		return nil
	})
	if errInfo != nil {
		return nil, errInfo
	}
	defer e.endGeneration()

	file, err := os.Open(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errinfo.FileNotFound(errinfo.PhaseSession, req.Path)
		}
		return nil, errinfo.FileReadFailed(errinfo.PhaseSession, err.Error())
	}
	defer file.Close()

	if err := e.store.Import(file); err != nil {
		switch {
		case errors.Is(err, snapshot.ErrStoreNotEmpty):
			return nil, errinfo.ValidationFailed(errinfo.PhaseSession, err.Error())
		case isIntegrityError(err):
			e.logger.Error("engine.session_import_rejected", "path", req.Path, "error", err.Error())
			info := errinfo.IntegrityViolation(errinfo.PhaseSession, "", err.Error())
			info.Subphase = errinfo.SubphaseImport
			var missing *snapshot.MissingBlobError
			if errors.As(err, &missing) {
				info.CheckpointID = missing.CheckpointID
				info.Path = missing.Path
			}
			return nil, info
		default:
			return nil, errinfo.FileReadFailed(errinfo.PhaseSession, err.Error())
		}
	}

	latest, ok := e.store.Latest()
	if !ok {
		return map[string]any{"checkpoints": 0}, nil
	}
	restored, _, err := e.store.Restore(latest.ID)
	if err != nil {
		return nil, errinfo.IntegrityViolation(errinfo.PhaseSession, latest.ID, err.Error())
	}
	e.dispatch(workspace.RestoreCheckpoint{
		Files:    restored.Files,
		Steps:    restored.Steps,
		Messages: restored.Messages,
	}, "session_imported")
	e.logger.Info("engine.session_imported", "path", req.Path, "checkpoints", e.store.Len(), "blobs", e.store.BlobCount(), "blob_bytes", e.store.BlobBytes())
	e.emit("CheckpointRestored", map[string]any{
		"checkpoint_id": latest.ID,
		"version":       latest.Version,
	})
	return map[string]any{
		"checkpoints":   e.store.Len(),
		"blobs":         e.store.BlobCount(),
		"checkpoint_id": latest.ID,
	}, nil
}

func exportFailed(err error) *errinfo.ErrorInfo {
	info := errinfo.FileWriteFailed(errinfo.PhaseSession, err.Error())
	info.Subphase = errinfo.SubphaseExport
	return info
}
