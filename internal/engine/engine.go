package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"forgebench/engine/internal/appdirs"
	"forgebench/engine/internal/config"
	"forgebench/engine/internal/errinfo"
	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/generation"
	"forgebench/engine/internal/logging"
	"forgebench/engine/internal/preview"
	"forgebench/engine/internal/sandbox"
	"forgebench/engine/internal/snapshot"
	"forgebench/engine/internal/workspace"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const (
	sandboxLocal = "local"
	sandboxFake  = "fake"
)

type Notifier func(method string, params any)

type Engine struct {
	dataDir     string
	cfg         *config.Config
	gen         generation.Service
	genErr      error
	sb          sandbox.Sandbox
	sandboxKind string
	ownsSandbox bool
	store       *snapshot.Store
	preview     *preview.Manager
	notifyMu    sync.RWMutex
	notify      Notifier
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.Mutex
	state         workspace.State
	selected      string
	generating    bool
	lastGenerated []filetree.Entry
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

func WithGeneration(gen generation.Service) Option {
	return func(e *Engine) {
		if gen != nil {
			e.gen = gen
		}
	}
}

// WithSandbox replaces the booted local sandbox. The engine does not tear
// down a sandbox it was given.
func WithSandbox(sb sandbox.Sandbox) Option {
	return func(e *Engine) {
		if sb != nil {
			e.sb = sb
			e.sandboxKind = fmt.Sprintf("%T", sb)
		}
	}
}

func WithStore(store *snapshot.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

func WithNotifier(notify Notifier) Option {
	return func(e *Engine) {
		e.notify = notify
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{
		logger: logging.Nop(),
		now:    time.Now,
		state:  workspace.Initial(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = engine.logger.With("component", "engine")

	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	engine.dataDir = dataDir

	if engine.cfg == nil {
		cfg, err := config.NewStore(appdirs.ConfigPath(dataDir)).Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		config.ApplyEnv(cfg)
		engine.cfg = cfg
	}
	if engine.store == nil {
		engine.store = snapshot.NewStore()
	}

	if engine.gen == nil {
		if engine.cfg.FakeLLM {
			engine.gen = generation.NewFake()
		} else {
			client, err := generation.NewOpenAIClient(engine.cfg.Generation, engine.logger)
			if err != nil {
				// Reported as PROVIDER_NOT_CONFIGURED on first use.
				engine.genErr = err
				engine.logger.Warn("engine.generation_unavailable", "error", err.Error())
			} else {
				engine.gen = client
			}
		}
	}

	if engine.sb == nil {
		if engine.cfg.Sandbox.Fake {
			engine.sb = sandbox.NewFake()
			engine.sandboxKind = sandboxFake
		} else {
			local, err := sandbox.Boot(sandbox.LocalConfig{
				Root:   engine.cfg.Sandbox.Root,
				Logger: engine.logger,
			})
			if err != nil {
				return nil, fmt.Errorf("boot sandbox: %w", err)
			}
			engine.sb = local
			engine.sandboxKind = sandboxLocal
			engine.ownsSandbox = true
		}
	}

	engine.preview = preview.New(engine.sb, engine.cfg.Preview,
		preview.WithLogger(engine.logger),
		preview.WithOnChange(func(state preview.State) {
			engine.emit("PreviewStatusChanged", state)
		}),
		preview.WithOnOutput(func(stream, line string) {
			engine.emit("PreviewOutput", map[string]any{"stream": stream, "line": line})
		}),
	)
	engine.logger.Debug("engine.init",
		"data_dir", dataDir,
		"sandbox", engine.sandboxKind,
		"fake_llm", engine.cfg.FakeLLM,
		"model", engine.cfg.Generation.Model,
	)
	return engine, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.notify = notify
}

// Close stops the preview and tears down a sandbox the engine booted.
func (e *Engine) Close() error {
	e.preview.Close()
	if e.ownsSandbox {
		return sandbox.Teardown()
	}
	return nil
}

func (e *Engine) emit(method string, params any) {
	e.notifyMu.RLock()
	notify := e.notify
	e.notifyMu.RUnlock()
	if notify != nil {
		notify(method, params)
	}
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
		"model":          e.cfg.Generation.Model,
		"sandbox":        e.sandboxKind,
		"generation":     e.gen != nil,
	}, nil
}

func (e *Engine) generator() (generation.Service, *errinfo.ErrorInfo) {
	if e.gen != nil {
		return e.gen, nil
	}
	info := errinfo.ProviderNotConfigured(errinfo.PhaseGeneration)
	if e.genErr != nil {
		info.Detail = e.genErr.Error()
	}
	return nil, info
}

// beginGeneration marks a generation as in flight. check runs under the
// state lock and may refuse the request.
func (e *Engine) beginGeneration(check func(workspace.State) *errinfo.ErrorInfo) (workspace.State, []filetree.Entry, *errinfo.ErrorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generating {
		return workspace.State{}, nil, errinfo.WorkspaceBusy(errinfo.PhaseWorkspace)
	}
	if check != nil {
		if info := check(e.state); info != nil {
			return workspace.State{}, nil, info
		}
	}
	e.generating = true
	return e.state, e.lastGenerated, nil
}

func (e *Engine) endGeneration() {
	e.mu.Lock()
	e.generating = false
	e.mu.Unlock()
}

// dispatch reduces action over the committed state and commits the result.
func (e *Engine) dispatch(action workspace.Action, reason string) workspace.State {
	e.mu.Lock()
	next := workspace.Reduce(e.state, action)
	e.commitLocked(next, action)
	e.mu.Unlock()
	e.emitWorkspaceChanged(next, reason)
	return next
}

// dispatchWithCheckpoint reduces action, checkpoints the result and commits
// it, so the checkpoint always matches the state that becomes visible.
func (e *Engine) dispatchWithCheckpoint(action workspace.Action, reason, label string) (snapshot.Checkpoint, error) {
	e.mu.Lock()
	next := workspace.Reduce(e.state, action)
	cp, err := e.store.CreateCheckpoint(next.Files, next.Steps, next.Messages, label)
	if err != nil {
		e.mu.Unlock()
		return snapshot.Checkpoint{}, err
	}
	e.commitLocked(next, action)
	e.mu.Unlock()

	e.logger.Info("engine.checkpoint_created", "checkpoint_id", cp.ID, "version", cp.Version, "files", len(cp.Tree), "blobs", e.store.BlobCount())
	e.emitWorkspaceChanged(next, reason)
	e.emit("CheckpointCreated", map[string]any{
		"checkpoint_id": cp.ID,
		"version":       cp.Version,
		"label":         cp.Label,
		"created_at":    cp.CreatedAt.Format(time.RFC3339),
	})
	return cp, nil
}

func (e *Engine) commitLocked(next workspace.State, action workspace.Action) {
	e.state = next
	switch action.(type) {
	case workspace.CodeGenerated, workspace.RestoreCheckpoint:
		e.lastGenerated = filetree.Flatten(next.Files)
	}
	if _, ok := action.(workspace.RestoreCheckpoint); ok {
		e.selected = ""
	}
	e.preview.Update(next.Files, next.Building())
}

func (e *Engine) emitWorkspaceChanged(state workspace.State, reason string) {
	e.emit("WorkspaceChanged", map[string]any{
		"reason":     reason,
		"phase":      state.Phase,
		"file_count": len(filetree.Flatten(state.Files)),
		"step_count": len(state.Steps),
	})
}

func decodeParams(params json.RawMessage, phase string, out any) *errinfo.ErrorInfo {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, out); err != nil {
		return errinfo.ValidationFailed(phase, "invalid params")
	}
	return nil
}

func isIntegrityError(err error) bool {
	return errors.Is(err, snapshot.ErrIntegrity)
}
