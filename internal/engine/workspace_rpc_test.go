package engine

import (
	"context"
	"strings"
	"testing"

	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/workspace"
)

func TestSendPromptBeforeInit(t *testing.T) {
	te := newTestEngine(t)
	_, errInfo := te.WorkspaceSendPrompt(context.Background(), mustJSON(t, map[string]any{"prompt": "Hello"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %+v", errInfo)
	}
}

func TestSendPromptCarriesManualEdits(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.init(t, "Build a landing page")

	edited := "function App() {\n  return <p>edited by hand</p>;\n}\n"
	resp, errInfo := te.WorkspaceEditFile(ctx, mustJSON(t, map[string]any{"path": "src/App.jsx", "content": edited}))
	if errInfo != nil {
		t.Fatalf("edit: %+v", errInfo)
	}
	if resp.(map[string]any)["changed"] != true {
		t.Fatalf("expected edit to change the file")
	}
	if te.store.Len() != 2 {
		t.Fatalf("manual edits must not checkpoint, have %d checkpoints", te.store.Len())
	}

	resp, errInfo = te.WorkspaceSendPrompt(ctx, mustJSON(t, map[string]any{"prompt": "Add a footer"}))
	if errInfo != nil {
		t.Fatalf("send: %+v", errInfo)
	}
	out := resp.(map[string]any)
	if out["edits_sent"] != true || out["version"] != 3 {
		t.Fatalf("unexpected send response %v", out)
	}

	chats := te.gen.Chats()
	last := chats[len(chats)-1]
	user := last[len(last)-1]
	if user.Role != llm.RoleUser {
		t.Fatalf("expected trailing user message, got %s", user.Role)
	}
	if !strings.HasPrefix(user.Content, "<bolt_file_modifications>") {
		t.Fatalf("expected modification block, got %q", user.Content)
	}
	if !strings.Contains(user.Content, `<file path="/home/project/src/App.jsx">`) || !strings.Contains(user.Content, "edited by hand") {
		t.Fatalf("expected edited file in block, got %q", user.Content)
	}
	if strings.Contains(user.Content, "package.json") {
		t.Fatalf("unchanged files must not be sent")
	}
	if !strings.HasSuffix(user.Content, "Add a footer") {
		t.Fatalf("expected prompt after block, got %q", user.Content)
	}

	state := te.current()
	if state.Phase != workspace.PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if got := te.fileContent(t, "/src/App.jsx"); !strings.Contains(got, "Add a footer") {
		t.Fatalf("expected regenerated App.jsx, got %q", got)
	}

	// Nothing edited since the last generation: the prompt goes alone.
	if _, errInfo := te.WorkspaceSendPrompt(ctx, mustJSON(t, map[string]any{"prompt": "Make it blue"})); errInfo != nil {
		t.Fatalf("send: %+v", errInfo)
	}
	chats = te.gen.Chats()
	last = chats[len(chats)-1]
	if got := last[len(last)-1].Content; got != "Make it blue" {
		t.Fatalf("expected bare prompt, got %q", got)
	}
	if te.store.Len() != 4 {
		t.Fatalf("expected 4 checkpoints, got %d", te.store.Len())
	}
}

func TestSendPromptFailureReturnsToReady(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.init(t, "Build")
	before := te.current()

	te.gen.ChatErr = llm.ErrUnavailable
	_, errInfo := te.WorkspaceSendPrompt(ctx, mustJSON(t, map[string]any{"prompt": "Break"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeProviderUnavailable || !errInfo.Retryable {
		t.Fatalf("expected retryable provider error, got %+v", errInfo)
	}
	after := te.current()
	if after.Phase != workspace.PhaseReady {
		t.Fatalf("expected ready after failure, got %s", after.Phase)
	}
	if len(after.Messages) != len(before.Messages) || len(after.Steps) != len(before.Steps) {
		t.Fatalf("failed generation changed history")
	}
	if te.store.Len() != 2 {
		t.Fatalf("failed generation created a checkpoint")
	}

	te.gen.ChatErr = nil
	if _, errInfo := te.WorkspaceSendPrompt(ctx, mustJSON(t, map[string]any{"prompt": "Retry"})); errInfo != nil {
		t.Fatalf("retry: %+v", errInfo)
	}
}

func TestSendPromptWhileGenerating(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "Build")
	te.mu.Lock()
	te.generating = true
	te.mu.Unlock()
	_, errInfo := te.WorkspaceSendPrompt(context.Background(), mustJSON(t, map[string]any{"prompt": "Again"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeWorkspaceBusy {
		t.Fatalf("expected busy, got %+v", errInfo)
	}
	te.endGeneration()
}

func TestSelectReadAndEditFile(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.init(t, "Build")

	resp, errInfo := te.WorkspaceSelectFile(ctx, mustJSON(t, map[string]any{"path": "/src/main.jsx"}))
	if errInfo != nil {
		t.Fatalf("select: %+v", errInfo)
	}
	if resp.(map[string]any)["name"] != "main.jsx" {
		t.Fatalf("unexpected selection %v", resp)
	}
	state, _ := te.WorkspaceGetState(ctx, nil)
	if state.(map[string]any)["selected_path"] != "/src/main.jsx" {
		t.Fatalf("expected selected path in state")
	}

	if _, errInfo := te.WorkspaceSelectFile(ctx, mustJSON(t, map[string]any{"path": "/src"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeFileNotFound {
		t.Fatalf("expected folders to be rejected, got %+v", errInfo)
	}
	if _, errInfo := te.WorkspaceReadFile(ctx, mustJSON(t, map[string]any{"path": "/missing.js"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeFileNotFound {
		t.Fatalf("expected file not found, got %+v", errInfo)
	}
	if _, errInfo := te.WorkspaceEditFile(ctx, mustJSON(t, map[string]any{"path": "/missing.js", "content": "x"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeFileNotFound {
		t.Fatalf("expected edit of missing file to fail, got %+v", errInfo)
	}

	read, errInfo := te.WorkspaceReadFile(ctx, mustJSON(t, map[string]any{"path": "package.json"}))
	if errInfo != nil {
		t.Fatalf("read: %+v", errInfo)
	}
	content := read.(map[string]any)["content"].(string)
	resp, errInfo = te.WorkspaceEditFile(ctx, mustJSON(t, map[string]any{"path": "package.json", "content": content}))
	if errInfo != nil {
		t.Fatalf("edit: %+v", errInfo)
	}
	if resp.(map[string]any)["changed"] != false {
		t.Fatalf("expected identical edit to be a no-op")
	}

	if _, errInfo := te.WorkspaceSelectFile(ctx, mustJSON(t, map[string]any{"path": ""})); errInfo != nil {
		t.Fatalf("clear selection: %+v", errInfo)
	}
	state, _ = te.WorkspaceGetState(ctx, nil)
	if _, ok := state.(map[string]any)["selected_path"]; ok {
		t.Fatalf("expected selection cleared")
	}
}

func TestMapGenerationError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{llm.ErrUnauthorized, errinfo.CodeProviderAuthFailed},
		{llm.ErrRateLimited, errinfo.CodeProviderUnavailable},
		{llm.ErrEgressBlocked, errinfo.CodeEgressBlocked},
		{context.Canceled, errinfo.CodeUserCanceled},
		{context.DeadlineExceeded, errinfo.CodeProviderUnavailable},
		{llm.ErrEmptyReply, errinfo.CodeGenerationFailed},
	}
	for _, tc := range cases {
		info := mapGenerationError(errinfo.PhaseGeneration, errinfo.SubphaseChat, tc.err)
		if info.ErrorCode != tc.code {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.code, info.ErrorCode)
		}
		if info.Subphase != errinfo.SubphaseChat {
			t.Fatalf("%v: expected chat subphase, got %q", tc.err, info.Subphase)
		}
	}
}
