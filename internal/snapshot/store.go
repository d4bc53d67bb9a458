package snapshot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/steps"
)

// Checkpoint is an immutable snapshot of the workspace. Tree maps file paths
// to blob hashes; content is never stored inline.
type Checkpoint struct {
	ID        string            `json:"id"`
	Version   int               `json:"version"`
	Label     string            `json:"label"`
	CreatedAt time.Time         `json:"created_at"`
	Tree      map[string]string `json:"tree"`
	Paths     []string          `json:"paths"`
	Steps     []steps.Step      `json:"steps"`
	Messages  []llm.Message     `json:"messages"`
}

// Summary is the listing view of a checkpoint.
type Summary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	Steps     int       `json:"steps"`
}

// Restored is the workspace content rebuilt from a checkpoint.
type Restored struct {
	Checkpoint Summary
	Files      []filetree.Node
	Steps      []steps.Step
	Messages   []llm.Message
}

func (c Checkpoint) Summary() Summary {
	return Summary{
		ID:        c.ID,
		Version:   c.Version,
		Label:     c.Label,
		CreatedAt: c.CreatedAt,
		Files:     len(c.Tree),
		Steps:     len(c.Steps),
	}
}

// Store holds the blob store and the ordered checkpoint list. Both only grow.
type Store struct {
	mu          sync.RWMutex
	blobs       *BlobStore
	checkpoints []Checkpoint
	byID        map[string]int
	now         func() time.Time
	newID       func() string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		blobs: NewBlobStore(),
		byID:  make(map[string]int),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Blobs() *BlobStore {
	return s.blobs
}

func (s *Store) BlobCount() int {
	return s.blobs.Len()
}

// BlobBytes is the total size of stored content.
func (s *Store) BlobBytes() int64 {
	return s.blobs.Bytes()
}

// Blob returns the content stored under hash.
func (s *Store) Blob(hash string) (string, bool) {
	return s.blobs.Get(hash)
}

// CreateCheckpoint stores every file of tree in the blob store and appends a
// checkpoint referencing them by hash. Steps and messages are copied.
func (s *Store) CreateCheckpoint(tree []filetree.Node, log []steps.Step, messages []llm.Message, label string) (Checkpoint, error) {
	flat := filetree.Flatten(tree)
	refs := make(map[string]string, len(flat))
	paths := make([]string, 0, len(flat))
	for _, entry := range flat {
		hash, _, err := s.blobs.Put(entry.Content)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", entry.Path, err)
		}
		if _, seen := refs[entry.Path]; !seen {
			paths = append(paths, entry.Path)
		}
		refs[entry.Path] = hash
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Checkpoint{
		ID:        s.newID(),
		Version:   len(s.checkpoints) + 1,
		Label:     label,
		CreatedAt: s.now().UTC(),
		Tree:      refs,
		Paths:     paths,
		Steps:     steps.Clone(log),
		Messages:  llm.CloneMessages(messages),
	}
	s.byID[cp.ID] = len(s.checkpoints)
	s.checkpoints = append(s.checkpoints, cp)
	return cloneCheckpoint(cp), nil
}

// Restore rebuilds the workspace captured by checkpoint id. ok is false when
// the id is unknown. A hash that cannot be resolved returns a
// *MissingBlobError.
func (s *Store) Restore(id string) (Restored, bool, error) {
	cp, ok := s.Get(id)
	if !ok {
		return Restored{}, false, nil
	}
	entries := make([]filetree.Entry, 0, len(cp.Paths))
	for _, path := range cp.Paths {
		hash := cp.Tree[path]
		content, found := s.blobs.Get(hash)
		if !found {
			return Restored{}, true, &MissingBlobError{CheckpointID: cp.ID, Path: path, Hash: hash}
		}
		entries = append(entries, filetree.Entry{Path: path, Content: content})
	}
	return Restored{
		Checkpoint: cp.Summary(),
		Files:      filetree.Build(entries),
		Steps:      cp.Steps,
		Messages:   cp.Messages,
	}, true, nil
}

// FileAt resolves the content of path as captured by checkpoint id.
func (s *Store) FileAt(id, path string) (content string, found bool, err error) {
	cp, ok := s.Get(id)
	if !ok {
		return "", false, nil
	}
	hash, ok := cp.Tree[path]
	if !ok {
		return "", false, nil
	}
	content, ok = s.blobs.Get(hash)
	if !ok {
		return "", false, &MissingBlobError{CheckpointID: id, Path: path, Hash: hash}
	}
	return content, true, nil
}

func (s *Store) Get(id string) (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Checkpoint{}, false
	}
	return cloneCheckpoint(s.checkpoints[idx]), true
}

func (s *Store) Latest() (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return cloneCheckpoint(s.checkpoints[len(s.checkpoints)-1]), true
}

// List returns checkpoint summaries, oldest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp.Summary())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

func cloneCheckpoint(cp Checkpoint) Checkpoint {
	tree := make(map[string]string, len(cp.Tree))
	for path, hash := range cp.Tree {
		tree[path] = hash
	}
	cp.Tree = tree
	cp.Paths = append([]string(nil), cp.Paths...)
	cp.Steps = steps.Clone(cp.Steps)
	cp.Messages = llm.CloneMessages(cp.Messages)
	return cp
}

func sortedPaths(tree map[string]string) []string {
	paths := make([]string, 0, len(tree))
	for path := range tree {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func sortStrings(values []string) []string {
	sort.Strings(values)
	return values
}
