package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"forgebench/engine/internal/config"
	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/generation"
	"forgebench/engine/internal/preview"
	"forgebench/engine/internal/sandbox"
	"forgebench/engine/internal/snapshot"
	"forgebench/engine/internal/workspace"
)

type notification struct {
	Method string
	Params any
}

type recorder struct {
	mu    sync.Mutex
	items []notification
}

func (r *recorder) notify(method string, params any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, notification{Method: method, Params: params})
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Method == method {
			n++
		}
	}
	return n
}

func (r *recorder) params(method string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, item := range r.items {
		if item.Method == method {
			out = append(out, item.Params)
		}
	}
	return out
}

type testEngine struct {
	*Engine
	gen   *generation.Fake
	sb    *sandbox.Fake
	notes *recorder
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	t.Setenv("FORGEBENCH_DATA_DIR", t.TempDir())
	cfg := config.Default()
	cfg.Preview.MountWaitRetries = 1
	cfg.Preview.MountWaitInterval = time.Millisecond
	cfg.Preview.KillGrace = 100 * time.Millisecond

	next := 0
	store := snapshot.NewStore(
		snapshot.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		snapshot.WithIDGenerator(func() string {
			next++
			return fmt.Sprintf("cp-%d", next)
		}),
	)
	gen := generation.NewFake()
	sb := sandbox.NewFake()
	notes := &recorder{}
	eng, err := New(
		WithConfig(cfg),
		WithGeneration(gen),
		WithSandbox(sb),
		WithStore(store),
		WithNotifier(notes.notify),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return &testEngine{Engine: eng, gen: gen, sb: sb, notes: notes}
}

func mustJSON(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func (te *testEngine) current() workspace.State {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.state
}

func (te *testEngine) fileContent(t *testing.T, path string) string {
	t.Helper()
	node, ok := filetree.Find(te.current().Files, path)
	if !ok {
		t.Fatalf("file %s not found", path)
	}
	return node.Content
}

func (te *testEngine) init(t *testing.T, prompt string) map[string]any {
	t.Helper()
	resp, errInfo := te.WorkspaceInit(context.Background(), mustJSON(t, map[string]any{"prompt": prompt}))
	if errInfo != nil {
		t.Fatalf("init: %+v", errInfo)
	}
	return resp.(map[string]any)
}

func waitForPreview(t *testing.T, te *testEngine, want preview.Status) preview.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state := te.preview.State()
		if state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for preview %s, last %+v", want, te.preview.State())
	return preview.State{}
}

func TestEngineGetInfo(t *testing.T) {
	te := newTestEngine(t)
	resp, errInfo := te.EngineGetInfo(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("info: %+v", errInfo)
	}
	info := resp.(map[string]any)
	if info["api_version"] != APIVersion || info["engine_version"] != EngineVersion {
		t.Fatalf("unexpected info %v", info)
	}
	if info["generation"] != true {
		t.Fatalf("expected generation available")
	}
}

func TestWorkspaceInitCheckpointsTemplateAndGeneration(t *testing.T) {
	te := newTestEngine(t)
	resp := te.init(t, "Build a todo app")

	if resp["template"] != generation.TemplateReact {
		t.Fatalf("expected react template, got %v", resp["template"])
	}
	if resp["template_checkpoint_id"] != "cp-1" || resp["checkpoint_id"] != "cp-2" || resp["version"] != 2 {
		t.Fatalf("unexpected checkpoint ids %v", resp)
	}
	state := te.current()
	if state.Phase != workspace.PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if got := te.fileContent(t, "/src/App.jsx"); !strings.Contains(got, "Build a todo app") {
		t.Fatalf("expected generated App.jsx, got %q", got)
	}
	if _, ok := filetree.Find(state.Files, "/package.json"); !ok {
		t.Fatalf("expected template manifest")
	}
	for i, step := range state.Steps {
		if step.ID != strconv.Itoa(i+1) {
			t.Fatalf("step %d has id %s", i, step.ID)
		}
	}

	// One user message per template prompt, the request and the reply.
	tmpl, _ := generation.TemplateFor(generation.TemplateReact)
	if len(state.Messages) != len(tmpl.Prompts)+2 {
		t.Fatalf("expected %d messages, got %d", len(tmpl.Prompts)+2, len(state.Messages))
	}

	cp, ok := te.store.Get("cp-2")
	if !ok {
		t.Fatalf("expected checkpoint cp-2")
	}
	if cp.Label != "Build a todo app" || len(cp.Messages) != len(state.Messages) {
		t.Fatalf("checkpoint does not match committed state: %+v", cp.Summary())
	}
	if te.notes.count("CheckpointCreated") != 2 {
		t.Fatalf("expected two CheckpointCreated notifications, got %d", te.notes.count("CheckpointCreated"))
	}
	if te.notes.count("WorkspaceChanged") < 2 {
		t.Fatalf("expected WorkspaceChanged notifications")
	}

	running := waitForPreview(t, te, preview.StatusRunning)
	if running.URL == "" {
		t.Fatalf("expected preview url")
	}
	if len(te.sb.Calls("mount")) != 1 {
		t.Fatalf("expected one mount, got %d", len(te.sb.Calls("mount")))
	}
	if te.notes.count("PreviewStatusChanged") == 0 {
		t.Fatalf("expected preview notifications")
	}
}

func TestWorkspaceInitRejectsSecondInit(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "First")
	_, errInfo := te.WorkspaceInit(context.Background(), mustJSON(t, map[string]any{"prompt": "Again"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %+v", errInfo)
	}
	if _, errInfo := te.WorkspaceInit(context.Background(), mustJSON(t, map[string]any{"prompt": "  "})); errInfo == nil {
		t.Fatalf("expected empty prompt to be rejected")
	}
}

func TestWorkspaceInitTemplateFailure(t *testing.T) {
	te := newTestEngine(t)
	te.gen.TemplateErr = fmt.Errorf("classify: %w", generation.ErrUnknownTemplate)
	_, errInfo := te.WorkspaceInit(context.Background(), mustJSON(t, map[string]any{"prompt": "Build"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeGenerationFailed || errInfo.Subphase != errinfo.SubphaseTemplate {
		t.Fatalf("expected template generation failure, got %+v", errInfo)
	}
	if te.current().Phase != workspace.PhaseIdle || te.store.Len() != 0 {
		t.Fatalf("expected untouched workspace")
	}
}

func TestGenerationNotConfigured(t *testing.T) {
	t.Setenv("FORGEBENCH_DATA_DIR", t.TempDir())
	cfg := config.Default()
	eng, err := New(WithConfig(cfg), WithSandbox(sandbox.NewFake()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer eng.Close()
	_, errInfo := eng.WorkspaceInit(context.Background(), mustJSON(t, map[string]any{"prompt": "Build"}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeProviderNotConfigured {
		t.Fatalf("expected provider not configured, got %+v", errInfo)
	}
}

func TestDisplayLabel(t *testing.T) {
	short := "Add a footer"
	if got := displayLabel(short); got != short {
		t.Fatalf("expected short label unchanged, got %q", got)
	}
	long := "Make the header sticky and add a dark mode toggle to the navigation"
	got := displayLabel(long)
	if []rune(got)[maxLabelRunes] != '…' || len([]rune(got)) != maxLabelRunes+1 {
		t.Fatalf("unexpected truncation %q", got)
	}
}
