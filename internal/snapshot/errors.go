package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity marks content-addressing violations. They indicate a store
	// bug or a corrupt archive and are never retried.
	ErrIntegrity     = errors.New("snapshot integrity violation")
	ErrStoreNotEmpty = errors.New("snapshot store is not empty")
)

// MissingBlobError reports a checkpoint entry whose hash is not in the blob
// store.
type MissingBlobError struct {
	CheckpointID string
	Path         string
	Hash         string
}

func (e *MissingBlobError) Error() string {
	return fmt.Sprintf("checkpoint %s: blob %s for %s is missing", e.CheckpointID, e.Hash, e.Path)
}

func (e *MissingBlobError) Is(target error) bool {
	return target == ErrIntegrity
}
