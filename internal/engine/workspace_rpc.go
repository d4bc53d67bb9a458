package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/generation"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/modifications"
	"forgebench/engine/internal/workspace"
)

// WorkspaceInit picks a template for the prompt, applies it and runs the
// first generation. Both steps are checkpointed.
func (e *Engine) WorkspaceInit(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorkspace, &req); errInfo != nil {
		return nil, errInfo
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "prompt is required")
	}
	gen, errInfo := e.generator()
	if errInfo != nil {
		return nil, errInfo
	}
	_, _, errInfo = e.beginGeneration(func(state workspace.State) *errinfo.ErrorInfo {
		if state.Phase != workspace.PhaseIdle || e.store.Len() > 0 {
			return errinfo.ValidationFailed(errinfo.PhaseWorkspace, "workspace is already initialized")
		}
		return nil
	})
	if errInfo != nil {
		return nil, errInfo
	}
	defer e.endGeneration()

	e.logger.Info("engine.workspace_init", "prompt", prompt)
	tmpl, err := gen.Template(ctx, prompt)
	if err != nil {
		return nil, e.mapGenerationError(errinfo.PhaseGeneration, errinfo.SubphaseTemplate, err)
	}
	if len(tmpl.UIPrompts) == 0 {
		return nil, errinfo.GenerationFailed(errinfo.PhaseGeneration, errinfo.SubphaseTemplate, "template has no project files")
	}
	templateCP, err := e.dispatchWithCheckpoint(workspace.TemplateLoaded{XML: tmpl.UIPrompts[0]}, "template_loaded", templateLabel(tmpl.Name))
	if err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseCheckpoint, err.Error())
	}

	messages := make([]llm.Message, 0, len(tmpl.Prompts)+2)
	for _, content := range tmpl.Prompts {
		messages = append(messages, llm.UserMessage(content))
	}
	messages = append(messages, llm.UserMessage(prompt))

	cp, errInfo := e.generate(ctx, gen, messages, prompt)
	if errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{
		"template":               tmpl.Name,
		"template_checkpoint_id": templateCP.ID,
		"checkpoint_id":          cp.ID,
		"version":                cp.Version,
	}, nil
}

// WorkspaceSendPrompt runs a follow-up generation. Files edited since the
// last generation are prepended to the prompt so the model sees them.
func (e *Engine) WorkspaceSendPrompt(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorkspace, &req); errInfo != nil {
		return nil, errInfo
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "prompt is required")
	}
	gen, errInfo := e.generator()
	if errInfo != nil {
		return nil, errInfo
	}
	state, lastGenerated, errInfo := e.beginGeneration(func(state workspace.State) *errinfo.ErrorInfo {
		switch state.Phase {
		case workspace.PhaseIdle:
			return errinfo.ValidationFailed(errinfo.PhaseWorkspace, "workspace is not initialized")
		case workspace.PhaseBuilding:
			return errinfo.WorkspaceBusy(errinfo.PhaseWorkspace)
		}
		return nil
	})
	if errInfo != nil {
		return nil, errInfo
	}
	defer e.endGeneration()

	block := modifications.Block(lastGenerated, filetree.Flatten(state.Files))
	messages := append(llm.CloneMessages(state.Messages), llm.UserMessage(modifications.WithPrompt(block, prompt)))
	e.logger.Info("engine.prompt_sent", "prompt", prompt, "messages", len(messages), "modified_block_bytes", len(block))

	e.dispatch(workspace.StartBuilding{}, "start_building")
	cp, errInfo := e.generate(ctx, gen, messages, prompt)
	if errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{
		"checkpoint_id": cp.ID,
		"version":       cp.Version,
		"edits_sent":    block != "",
	}, nil
}

// generate runs one chat request and commits the reply. A failed request
// leaves the building phase without touching files or history.
func (e *Engine) generate(ctx context.Context, gen generation.Service, messages []llm.Message, label string) (checkpointRef, *errinfo.ErrorInfo) {
	reply, err := gen.Chat(ctx, messages)
	if err != nil {
		e.dispatch(workspace.GenerationFailed{}, "generation_failed")
		return checkpointRef{}, e.mapGenerationError(errinfo.PhaseGeneration, errinfo.SubphaseChat, err)
	}
	all := append(llm.CloneMessages(messages), llm.AssistantMessage(reply))
	cp, err := e.dispatchWithCheckpoint(workspace.CodeGenerated{XML: reply, Messages: all}, "code_generated", label)
	if err != nil {
		e.dispatch(workspace.GenerationFailed{}, "generation_failed")
		return checkpointRef{}, errinfo.FileWriteFailed(errinfo.PhaseCheckpoint, err.Error())
	}
	return checkpointRef{ID: cp.ID, Version: cp.Version}, nil
}

type checkpointRef struct {
	ID      string
	Version int
}

func templateLabel(name string) string {
	if name == "" {
		return "Project template"
	}
	return fmt.Sprintf("Project template (%s)", name)
}

func (e *Engine) WorkspaceGetState(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.mu.Lock()
	state := e.state
	selected := e.selected
	generating := e.generating
	e.mu.Unlock()
	files := state.Files
	if files == nil {
		files = []filetree.Node{}
	}
	resp := map[string]any{
		"phase":         state.Phase,
		"files":         files,
		"steps":         state.Steps,
		"message_count": len(state.Messages),
		"generating":    generating,
		"preview":       e.preview.State(),
	}
	if selected != "" {
		resp["selected_path"] = selected
	}
	return resp, nil
}

// WorkspaceSelectFile records the file shown in the editor. An empty path
// clears the selection.
func (e *Engine) WorkspaceSelectFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorkspace, &req); errInfo != nil {
		return nil, errInfo
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(req.Path) == "" {
		e.selected = ""
		return map[string]any{}, nil
	}
	node, ok := filetree.Find(e.state.Files, req.Path)
	if !ok || !node.IsFile() {
		return nil, errinfo.FileNotFound(errinfo.PhaseWorkspace, req.Path)
	}
	e.selected = node.Path
	return map[string]any{"path": node.Path, "name": node.Name, "content": node.Content}, nil
}

func (e *Engine) WorkspaceReadFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorkspace, &req); errInfo != nil {
		return nil, errInfo
	}
	e.mu.Lock()
	files := e.state.Files
	e.mu.Unlock()
	node, ok := filetree.Find(files, req.Path)
	if !ok || !node.IsFile() {
		return nil, errinfo.FileNotFound(errinfo.PhaseWorkspace, req.Path)
	}
	return map[string]any{"path": node.Path, "content": node.Content}, nil
}

// WorkspaceEditFile applies a manual edit. Edits are never checkpointed;
// they reach the model with the next prompt.
func (e *Engine) WorkspaceEditFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorkspace, &req); errInfo != nil {
		return nil, errInfo
	}
	e.mu.Lock()
	node, ok := filetree.Find(e.state.Files, req.Path)
	e.mu.Unlock()
	if !ok || !node.IsFile() {
		return nil, errinfo.FileNotFound(errinfo.PhaseWorkspace, req.Path)
	}
	if node.Content == req.Content {
		return map[string]any{"changed": false}, nil
	}
	e.dispatch(workspace.EditFile{Path: node.Path, Content: req.Content}, "file_edited")
	e.logger.Debug("engine.file_edited", "path", node.Path, "bytes", len(req.Content))
	return map[string]any{"changed": true}, nil
}
