package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/logging"
)

const (
	outputBuffer = 1024
	maxLineBytes = 1024 * 1024
	closeGrace   = 5 * time.Second
	waitDelay    = 2 * time.Second
)

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	localURLExpr = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\]):(\d+)/?\S*`)
)

type LocalConfig struct {
	// Root is the work directory. Empty means a temporary directory that is
	// removed on Close.
	Root   string
	Env    []string
	Logger *slog.Logger
}

// Local is a directory-backed sandbox that runs commands with os/exec.
type Local struct {
	root   string
	tmp    bool
	env    []string
	logger *slog.Logger
	mu     sync.Mutex
	ready  listeners
	procs  map[*localProcess]struct{}
	closed bool
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	root := strings.TrimSpace(cfg.Root)
	tmp := false
	if root == "" {
		dir, err := os.MkdirTemp("", "forgebench-sandbox-")
		if err != nil {
			return nil, fmt.Errorf("create sandbox root: %w", err)
		}
		root = dir
		tmp = true
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{
		root:   abs,
		tmp:    tmp,
		env:    append([]string{}, cfg.Env...),
		logger: logger.With("component", "sandbox"),
		procs:  make(map[*localProcess]struct{}),
	}, nil
}

func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(rel string) (string, error) {
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrSandboxViolation, rel)
		}
	}
	cleaned := path.Clean("/" + rel)
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

func (l *Local) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (l *Local) Mount(ctx context.Context, tree filetree.MountTree) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return tree.Walk(func(p string, entry filetree.MountEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.File == nil {
			return l.Mkdir(ctx, p, true)
		}
		return l.writeFile(p, entry.File.Contents, true)
	})
}

func (l *Local) WriteFile(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.writeFile(p, content, false)
}

func (l *Local) writeFile(p, content string, mkdirParent bool) error {
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if mkdirParent {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", path.Dir(p), err)
		}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (l *Local) Mkdir(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if recursive {
		err = os.MkdirAll(full, 0o755)
	} else {
		err = os.Mkdir(full, 0o755)
	}
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (l *Local) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := l.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", err
	}
	return string(data), nil
}

func (l *Local) OnServerReady(fn ServerReadyFunc) func() {
	l.mu.Lock()
	id := l.ready.add(fn)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.ready.fns, id)
		l.mu.Unlock()
	}
}

// Spawn starts command in the sandbox root. The process is not tied to ctx;
// it runs until it exits or is killed.
func (l *Local) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	cmd := exec.Command(command, args...)
	cmd.Dir = l.root
	cmd.Env = append(append([]string{}, os.Environ()...), l.env...)
	configureProcess(cmd)
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	proc := &localProcess{
		cmd:    cmd,
		seen:   make(map[int]bool),
		output: make(chan string, outputBuffer),
		done:   make(chan struct{}),
	}
	l.mu.Lock()
	l.procs[proc] = struct{}{}
	l.mu.Unlock()
	l.logger.Debug("sandbox.spawned", "command", command, "args", args, "pid", cmd.Process.Pid)

	go l.run(proc, stdoutR, stdoutW, stderrR, stderrW)
	return proc, nil
}

func (l *Local) run(proc *localProcess, stdoutR *io.PipeReader, stdoutW *io.PipeWriter, stderrR *io.PipeReader, stderrW *io.PipeWriter) {
	var g errgroup.Group
	g.Go(func() error { return l.drain(proc, stdoutR) })
	g.Go(func() error { return l.drain(proc, stderrR) })

	err := proc.cmd.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if drainErr := g.Wait(); drainErr != nil {
		l.logger.Debug("sandbox.output_error", "error", drainErr.Error())
	}
	close(proc.output)

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		} else if errors.Is(err, exec.ErrWaitDelay) {
			err = nil
		}
	}
	proc.finish(code, err)

	l.mu.Lock()
	delete(l.procs, proc)
	l.mu.Unlock()
	l.logger.Debug("sandbox.exited", "pid", proc.cmd.Process.Pid, "exit_code", code)
}

func (l *Local) drain(proc *localProcess, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := ansiPattern.ReplaceAllString(scanner.Text(), "")
		l.detectReady(proc, line)
		proc.output <- line
	}
	err := scanner.Err()
	if err != nil {
		// Keep the pipe empty so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

// detectReady raises server-ready the first time a process prints a local
// URL for a port.
func (l *Local) detectReady(proc *localProcess, line string) {
	match := localURLExpr.FindStringSubmatch(line)
	if match == nil {
		return
	}
	port, err := strconv.Atoi(match[1])
	if err != nil {
		return
	}
	proc.mu.Lock()
	if proc.seen[port] {
		proc.mu.Unlock()
		return
	}
	proc.seen[port] = true
	proc.mu.Unlock()

	l.mu.Lock()
	fns := l.ready.snapshot()
	l.mu.Unlock()

	url := fmt.Sprintf("http://localhost:%d/", port)
	l.logger.Info("sandbox.server_ready", "port", port, "url", url)
	for _, fn := range fns {
		fn(port, url)
	}
}

// Close kills every running process, waits for them briefly and removes a
// temporary root.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	procs := make([]*localProcess, 0, len(l.procs))
	for proc := range l.procs {
		procs = append(procs, proc)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	for _, proc := range procs {
		_ = proc.Kill()
		_, _ = proc.Wait(ctx)
	}
	if l.tmp {
		return os.RemoveAll(l.root)
	}
	return nil
}

type localProcess struct {
	mu     sync.Mutex
	seen   map[int]bool
	cmd    *exec.Cmd
	output chan string
	done   chan struct{}
	code   int
	err    error
}

func (p *localProcess) Output() <-chan string {
	return p.output
}

func (p *localProcess) finish(code int, err error) {
	p.code = code
	p.err = err
	close(p.done)
}

func (p *localProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.code, p.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *localProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcess(p.cmd)
}
