package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"forgebench/engine/internal/filetree"
)

// Call records one sandbox operation.
type Call struct {
	Op   string
	Path string
}

// Fake is an in-memory sandbox. Spawned processes are driven by Behavior;
// by default commands containing "install" exit 0 and anything else
// announces a server on DefaultPort and keeps running until killed.
type Fake struct {
	mu        sync.Mutex
	files     map[string]string
	dirs      map[string]bool
	calls     []Call
	ready     listeners
	processes []*FakeProcess

	Behavior func(f *Fake, p *FakeProcess)
	MountErr error
	WriteErr error
}

const DefaultPort = 5173

func NewFake() *Fake {
	return &Fake{
		files: make(map[string]string),
		dirs:  make(map[string]bool),
	}
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (f *Fake) record(op, p string) {
	f.calls = append(f.calls, Call{Op: op, Path: p})
}

func (f *Fake) Mount(ctx context.Context, tree filetree.MountTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("mount", "")
	if f.MountErr != nil {
		return f.MountErr
	}
	return tree.Walk(func(p string, entry filetree.MountEntry) error {
		if entry.File == nil {
			f.dirs[cleanPath(p)] = true
			return nil
		}
		f.files[cleanPath(p)] = entry.File.Contents
		return nil
	})
}

func (f *Fake) WriteFile(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("write", cleanPath(p))
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.files[cleanPath(p)] = content
	return nil
}

func (f *Fake) Mkdir(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("mkdir", cleanPath(p))
	f.dirs[cleanPath(p)] = true
	return nil
}

func (f *Fake) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[cleanPath(p)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return content, nil
}

func (f *Fake) OnServerReady(fn ServerReadyFunc) func() {
	f.mu.Lock()
	id := f.ready.add(fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.ready.fns, id)
		f.mu.Unlock()
	}
}

func (f *Fake) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc := &FakeProcess{
		Command: strings.TrimSpace(command + " " + strings.Join(args, " ")),
		output:  make(chan string, outputBuffer),
		done:    make(chan struct{}),
	}
	f.mu.Lock()
	f.record("spawn", proc.Command)
	f.processes = append(f.processes, proc)
	behavior := f.Behavior
	f.mu.Unlock()
	if behavior == nil {
		behavior = defaultBehavior
	}
	go behavior(f, proc)
	return proc, nil
}

func defaultBehavior(f *Fake, p *FakeProcess) {
	if strings.Contains(p.Command, "install") {
		p.Emit("added 1 package")
		p.Exit(0)
		return
	}
	p.Emit("ready")
	f.EmitServerReady(DefaultPort, fmt.Sprintf("http://localhost:%d/", DefaultPort))
}

// EmitServerReady notifies every registered listener.
func (f *Fake) EmitServerReady(port int, url string) {
	f.mu.Lock()
	fns := f.ready.snapshot()
	f.mu.Unlock()
	for _, fn := range fns {
		fn(port, url)
	}
}

// Calls returns the recorded operations, optionally filtered by op.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, call := range f.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (f *Fake) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeProcess(nil), f.processes...)
}

// File returns the content written at p.
func (f *Fake) File(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[cleanPath(p)]
	return content, ok
}

// FakeProcess is a controllable Process.
type FakeProcess struct {
	Command string

	mu     sync.Mutex
	output chan string
	done   chan struct{}
	exited bool
	killed bool
	code   int
}

func (p *FakeProcess) Output() <-chan string {
	return p.output
}

// Emit writes a line of output. It is dropped after exit.
func (p *FakeProcess) Emit(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	select {
	case p.output <- line:
	default:
	}
}

func (p *FakeProcess) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.code = code
	close(p.output)
	close(p.done)
}

func (p *FakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	if !p.exited {
		p.killed = true
	}
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}

func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *FakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}
