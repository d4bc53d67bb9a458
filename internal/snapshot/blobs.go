package snapshot

import "sync"

// BlobStore maps content hashes to file content. Entries are never
// overwritten or removed, so every hash handed out stays resolvable.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]string
	bytes int64
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]string)}
}

// Put stores content and returns its hash. inserted is false when the
// content was already present.
func (b *BlobStore) Put(content string) (hash string, inserted bool, err error) {
	hash, err = HashContent(content)
	if err != nil {
		return "", false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[hash]; ok {
		return hash, false, nil
	}
	b.blobs[hash] = content
	b.bytes += int64(len(content))
	return hash, true, nil
}

func (b *BlobStore) Get(hash string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	content, ok := b.blobs[hash]
	return content, ok
}

func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Bytes is the total size of stored content.
func (b *BlobStore) Bytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}

func (b *BlobStore) hashes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.blobs))
	for hash := range b.blobs {
		out = append(out, hash)
	}
	return out
}

// putVerified inserts content under a hash that the caller has already
// checked.
func (b *BlobStore) putVerified(hash, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[hash]; ok {
		return
	}
	b.blobs[hash] = content
	b.bytes += int64(len(content))
}
