package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"
	"unicode/utf8"

	"forgebench/engine/internal/diff"
	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/snapshot"
	"forgebench/engine/internal/workspace"
)

const maxLabelRunes = 45

func checkpointPayload(summary snapshot.Summary) map[string]any {
	return map[string]any{
		"checkpoint_id": summary.ID,
		"version":       summary.Version,
		"label":         summary.Label,
		"display_label": displayLabel(summary.Label),
		"created_at":    summary.CreatedAt.Format(time.RFC3339),
		"files":         summary.Files,
		"steps":         summary.Steps,
	}
}

// displayLabel shortens long prompts for checkpoint lists.
func displayLabel(label string) string {
	if utf8.RuneCountInString(label) <= maxLabelRunes {
		return label
	}
	runes := []rune(label)
	return string(runes[:maxLabelRunes]) + "…"
}

func (e *Engine) CheckpointsList(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	summaries := e.store.List()
	items := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, checkpointPayload(summary))
	}
	return map[string]any{"checkpoints": items}, nil
}

func (e *Engine) CheckpointGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseCheckpoint, &req); errInfo != nil {
		return nil, errInfo
	}
	cp, ok := e.store.Get(req.CheckpointID)
	if !ok {
		return nil, unknownCheckpoint(req.CheckpointID)
	}
	payload := checkpointPayload(cp.Summary())
	payload["paths"] = cp.Paths
	return map[string]any{"checkpoint": payload}, nil
}

// CheckpointRestore replaces the workspace with a checkpoint. An unknown id
// is reported as restored=false and changes nothing.
func (e *Engine) CheckpointRestore(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseCheckpoint, &req); errInfo != nil {
		return nil, errInfo
	}
	_, _, errInfo := e.beginGeneration(nil)
	if errInfo != nil {
		errInfo.Phase = errinfo.PhaseCheckpoint
		return nil, errInfo
	}
	defer e.endGeneration()

	restored, ok, err := e.store.Restore(req.CheckpointID)
	if err != nil {
		e.logger.Error("engine.restore_integrity_failed", "checkpoint_id", req.CheckpointID, "error", err.Error())
		info := errinfo.IntegrityViolation(errinfo.PhaseCheckpoint, req.CheckpointID, err.Error())
		info.Subphase = errinfo.SubphaseRestore
		return nil, info
	}
	if !ok {
		e.logger.Warn("engine.restore_unknown_checkpoint", "checkpoint_id", req.CheckpointID)
		return map[string]any{"restored": false}, nil
	}
	e.dispatch(workspace.RestoreCheckpoint{
		Files:    restored.Files,
		Steps:    restored.Steps,
		Messages: restored.Messages,
	}, "checkpoint_restored")
	e.logger.Info("engine.checkpoint_restored", "checkpoint_id", restored.Checkpoint.ID, "version", restored.Checkpoint.Version)
	e.emit("CheckpointRestored", map[string]any{
		"checkpoint_id": restored.Checkpoint.ID,
		"version":       restored.Checkpoint.Version,
	})
	return map[string]any{"restored": true, "checkpoint": checkpointPayload(restored.Checkpoint)}, nil
}

// CheckpointDiff compares a checkpoint with the current workspace. Without
// a path it lists the status of every file; with a path it returns line
// hunks for that file.
func (e *Engine) CheckpointDiff(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		CheckpointID string `json:"checkpoint_id"`
		Path         string `json:"path"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseCheckpoint, &req); errInfo != nil {
		return nil, errInfo
	}
	cp, ok := e.store.Get(req.CheckpointID)
	if !ok {
		return nil, unknownCheckpoint(req.CheckpointID)
	}
	e.mu.Lock()
	current := filetree.Flatten(e.state.Files)
	e.mu.Unlock()
	currentByPath := make(map[string]string, len(current))
	for _, entry := range current {
		currentByPath[entry.Path] = entry.Content
	}

	if req.Path == "" {
		paths := make(map[string]bool, len(cp.Tree)+len(current))
		for path := range cp.Tree {
			paths[path] = true
		}
		for path := range currentByPath {
			paths[path] = true
		}
		files := make([]map[string]any, 0, len(paths))
		for _, path := range sortedKeys(paths) {
			hash, inCheckpoint := cp.Tree[path]
			content, inCurrent := currentByPath[path]
			status := diff.StatusModified
			switch {
			case !inCheckpoint:
				status = diff.StatusAdded
			case !inCurrent:
				status = diff.StatusRemoved
			default:
				currentHash, err := snapshot.HashContent(content)
				if err != nil {
					return nil, errinfo.FileReadFailed(errinfo.PhaseCheckpoint, err.Error())
				}
				if currentHash == hash {
					status = diff.StatusUnchanged
				}
			}
			files = append(files, map[string]any{"path": path, "status": status})
		}
		return map[string]any{"checkpoint_id": cp.ID, "files": files}, nil
	}

	path := filetree.NormalizePath(req.Path)
	before, inCheckpoint, err := e.store.FileAt(cp.ID, path)
	if err != nil {
		info := errinfo.IntegrityViolation(errinfo.PhaseCheckpoint, cp.ID, err.Error())
		info.Subphase = errinfo.SubphaseDiff
		return nil, info
	}
	after, inCurrent := currentByPath[path]
	if !inCheckpoint && !inCurrent {
		return nil, errinfo.FileNotFound(errinfo.PhaseCheckpoint, path)
	}
	hunks, tooLarge := diff.TextDiffWithLimit(before, after, diff.MaxDiffLines)
	if hunks == nil {
		hunks = []diff.Hunk{}
	}
	return map[string]any{
		"checkpoint_id": cp.ID,
		"path":          path,
		"status":        diff.Status(before, after, inCheckpoint, inCurrent),
		"hunks":         hunks,
		"too_large":     tooLarge,
	}, nil
}

func unknownCheckpoint(id string) *errinfo.ErrorInfo {
	info := errinfo.ValidationFailed(errinfo.PhaseCheckpoint, "unknown checkpoint")
	info.CheckpointID = id
	return info
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
