// Package preview keeps a running dev server in step with the workspace
// files.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/logging"
	"forgebench/engine/internal/sandbox"
)

const (
	StreamInstall = "install"
	StreamDev     = "dev"
)

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOnChange registers a callback for status transitions.
func WithOnChange(fn func(State)) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// WithOnOutput registers a callback for process output lines.
func WithOnOutput(fn func(stream, line string)) Option {
	return func(m *Manager) {
		m.onOutput = fn
	}
}

// Manager drives the mount, install and start sequence. At most one start
// sequence runs at a time; triggers that arrive while one is in flight are
// dropped.
type Manager struct {
	sb       sandbox.Sandbox
	cfg      Config
	logger   *slog.Logger
	onChange func(State)
	onOutput func(stream, line string)

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	startedOnce bool
	inFlight    bool
	closed      bool
	latest      []filetree.Node
	synced      []filetree.Entry
	install     sandbox.Process
	dev         sandbox.Process
}

func New(sb sandbox.Sandbox, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sb:     sb,
		cfg:    cfg.withDefaults(),
		logger: logging.Nop(),
		sem:    semaphore.NewWeighted(1),
		ctx:    ctx,
		cancel: cancel,
		state:  State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "preview")
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Update reconciles the sandbox with files. building is true while a
// generation is in progress.
func (m *Manager) Update(files []filetree.Node, building bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.latest = files
	startedOnce := m.startedOnce
	inFlight := m.inFlight

	if building && !startedOnce {
		m.mu.Unlock()
		if !inFlight {
			m.setState(State{Status: StatusBuilding})
		}
		return
	}
	flat := filetree.Flatten(files)
	if len(flat) == 0 {
		m.mu.Unlock()
		return
	}
	if !startedOnce {
		m.mu.Unlock()
		if !inFlight && filetree.HasManifest(flat) {
			m.launch(files)
		}
		return
	}
	m.mu.Unlock()

	if m.reconcile(files) {
		m.launch(files)
	}
}

// reconcile writes the files that changed since the last sync. It reports
// whether the manifest changed, in which case the caller restarts and the
// snapshot is left for the restart to replace.
func (m *Manager) reconcile(files []filetree.Node) bool {
	m.mu.Lock()
	synced := m.synced
	m.mu.Unlock()

	flat := filetree.Flatten(files)
	changed := filetree.Diff(synced, flat)
	if len(changed) == 0 {
		return false
	}
	manifestChanged := filetree.ManifestChanged(synced, flat)
	if err := m.sync(changed); err != nil {
		m.logger.Warn("preview.sync_failed", "files", len(changed), "restart", manifestChanged, "error", err.Error())
		return false
	}
	if manifestChanged {
		m.logger.Info("preview.manifest_changed", "files", len(changed))
		return true
	}
	m.mu.Lock()
	m.synced = flat
	m.mu.Unlock()
	m.logger.Debug("preview.hot_synced", "files", len(changed))
	return false
}

// Start begins a start sequence on request. It is accepted only when the
// lifecycle is idle or failed and there are files to run.
func (m *Manager) Start() bool {
	m.mu.Lock()
	status := m.state.Status
	files := m.latest
	closed := m.closed
	m.mu.Unlock()
	if closed || (status != StatusIdle && status != StatusError) {
		return false
	}
	if len(filetree.Flatten(files)) == 0 {
		return false
	}
	return m.launch(files)
}

// Close stops tracked processes and waits for an in-flight start.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.stopProcesses()
	m.wg.Wait()
}

func (m *Manager) launch(files []filetree.Node) bool {
	if !m.sem.TryAcquire(1) {
		m.logger.Debug("preview.start_dropped")
		return false
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.sem.Release(1)
		return false
	}
	m.inFlight = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sem.Release(1)
		for m.run(files) {
			// Catch up with updates that arrived while starting.
			m.mu.Lock()
			latest, closed := m.latest, m.closed
			m.mu.Unlock()
			if closed || !m.reconcile(latest) {
				break
			}
			files = latest
		}
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()
	return true
}

// run executes one start sequence and reports whether the server became
// ready.
func (m *Manager) run(files []filetree.Node) bool {
	ctx := m.ctx
	flat := filetree.Flatten(files)
	m.stopProcesses()

	m.mu.Lock()
	mount := !m.startedOnce
	m.mu.Unlock()

	if mount {
		m.setState(State{Status: StatusMounting})
		if err := m.sb.Mount(ctx, filetree.MountStructure(files)); err != nil {
			m.fail("mount", err)
			return false
		}
		m.waitForMount(ctx)
	}

	m.setState(State{Status: StatusInstalling})
	install, err := m.spawn(ctx, StreamInstall, m.cfg.InstallCommand)
	if err != nil {
		m.fail("install", err)
		return false
	}
	if !m.track(install, false) {
		return false
	}
	code, err := install.Wait(ctx)
	if err != nil {
		m.fail("install", err)
		return false
	}
	if code != 0 {
		m.fail("install", fmt.Errorf("install exited with code %d", code))
		return false
	}

	m.setState(State{Status: StatusStarting})
	readyCh := make(chan string, 1)
	unsubscribe := m.sb.OnServerReady(func(port int, url string) {
		select {
		case readyCh <- url:
		default:
		}
	})
	defer unsubscribe()

	dev, err := m.spawn(ctx, StreamDev, m.cfg.DevCommand)
	if err != nil {
		m.fail("start", err)
		return false
	}
	if !m.track(dev, true) {
		return false
	}
	exited := m.watchDev(dev)

	timer := time.NewTimer(m.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case url := <-readyCh:
		m.mu.Lock()
		m.startedOnce = true
		m.synced = flat
		m.mu.Unlock()
		m.setState(State{Status: StatusRunning, URL: url})
		m.logger.Info("preview.running", "url", url, "files", len(flat))
		return true
	case code := <-exited:
		m.fail("start", fmt.Errorf("dev server exited with code %d before it was ready", code))
		return false
	case <-timer.C:
		m.fail("start", ErrReadyTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// waitForMount polls for the manifest after a mount. Giving up is only a
// warning; install reports the real failure if files are missing.
func (m *Manager) waitForMount(ctx context.Context) {
	for attempt := 0; attempt < m.cfg.MountWaitRetries; attempt++ {
		if _, err := m.sb.ReadFile(ctx, filetree.ManifestPath); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.MountWaitInterval):
		}
	}
	m.logger.Warn("preview.mount_wait_exhausted", "retries", m.cfg.MountWaitRetries)
}

func (m *Manager) spawn(ctx context.Context, stream string, command []string) (sandbox.Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%s command is empty", stream)
	}
	proc, err := m.sb.Spawn(ctx, command[0], command[1:]...)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("preview.spawned", "stream", stream, "command", command)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for line := range proc.Output() {
			if m.onOutput != nil {
				m.onOutput(stream, line)
			}
		}
	}()
	return proc, nil
}

// watchDev reports the exit code of dev. A dev server that exits after it
// was running moves the lifecycle to error unless it was stopped here.
func (m *Manager) watchDev(dev sandbox.Process) <-chan int {
	exited := make(chan int, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		code, err := dev.Wait(m.ctx)
		if err != nil {
			return
		}
		exited <- code

		m.mu.Lock()
		current := m.dev == dev && m.state.Status == StatusRunning
		if current {
			m.dev = nil
		}
		m.mu.Unlock()
		if current {
			m.fail("run", fmt.Errorf("dev server exited with code %d", code))
		}
	}()
	return exited
}

// track records proc so later restarts and Close can stop it. A process
// spawned after Close is killed immediately.
func (m *Manager) track(proc sandbox.Process, dev bool) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = proc.Kill()
		return false
	}
	if dev {
		m.dev = proc
	} else {
		m.install = proc
	}
	m.mu.Unlock()
	return true
}

// stopProcesses kills tracked processes and waits up to KillGrace for each.
// Errors are ignored.
func (m *Manager) stopProcesses() {
	m.mu.Lock()
	procs := []sandbox.Process{m.install, m.dev}
	m.install = nil
	m.dev = nil
	m.mu.Unlock()

	for _, proc := range procs {
		if proc == nil {
			continue
		}
		_ = proc.Kill()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.KillGrace)
		_, _ = proc.Wait(ctx)
		cancel()
	}
}

func (m *Manager) sync(changed []filetree.Entry) error {
	for _, entry := range changed {
		if dir := path.Dir(entry.Path); dir != "/" && dir != "." {
			if err := m.sb.Mkdir(m.ctx, dir, true); err != nil {
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		if err := m.sb.WriteFile(m.ctx, entry.Path, entry.Content); err != nil {
			return fmt.Errorf("write %s: %w", entry.Path, err)
		}
	}
	return nil
}

func (m *Manager) fail(phase string, err error) {
	if m.ctx.Err() != nil {
		m.logger.Debug("preview.start_aborted", "phase", phase)
		return
	}
	m.logger.Error("preview.start_failed", "phase", phase, "error", err.Error())
	m.setState(State{Status: StatusError, Error: err.Error()})
}

func (m *Manager) setState(next State) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	m.logger.Info("preview.status", "status", string(next.Status), "url", next.URL, "error", next.Error)
	if m.onChange != nil {
		m.onChange(next)
	}
}
