// Package sandbox runs generated projects. Paths are slash separated and
// relative to the sandbox work directory; a leading slash is allowed.
package sandbox

import (
	"context"
	"errors"

	"forgebench/engine/internal/filetree"
)

var (
	ErrSandboxViolation = errors.New("path escapes the sandbox")
	ErrClosed           = errors.New("sandbox closed")
	ErrNotFound         = errors.New("sandbox file not found")
)

// ServerReadyFunc is called when a process starts serving on port.
type ServerReadyFunc func(port int, url string)

type Sandbox interface {
	Mount(ctx context.Context, tree filetree.MountTree) error
	WriteFile(ctx context.Context, path, content string) error
	Mkdir(ctx context.Context, path string, recursive bool) error
	ReadFile(ctx context.Context, path string) (string, error)
	Spawn(ctx context.Context, command string, args ...string) (Process, error)
	// OnServerReady registers fn and returns a function that removes it.
	OnServerReady(fn ServerReadyFunc) (unsubscribe func())
}

// Process is a spawned command. Output carries merged stdout and stderr
// lines and is closed when the process exits; it must be drained.
type Process interface {
	Output() <-chan string
	Wait(ctx context.Context) (exitCode int, err error)
	Kill() error
}

type listeners struct {
	next int
	fns  map[int]ServerReadyFunc
}

func (l *listeners) add(fn ServerReadyFunc) int {
	if l.fns == nil {
		l.fns = make(map[int]ServerReadyFunc)
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

func (l *listeners) snapshot() []ServerReadyFunc {
	out := make([]ServerReadyFunc, 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}
