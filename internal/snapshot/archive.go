package snapshot

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// ArchiveFormat is bumped on incompatible layout changes.
const ArchiveFormat = 1

// MaxBlobSize bounds the decoded size of a single archived blob.
const MaxBlobSize = 64 << 20

const (
	codecNone uint8 = 0
	codecZstd uint8 = 1
)

// Archive is the decoded form of a session archive.
type Archive struct {
	Format      int            `cbor:"format"`
	ExportedAt  time.Time      `cbor:"exported_at"`
	Checkpoints []Checkpoint   `cbor:"checkpoints"`
	Blobs       []ArchivedBlob `cbor:"blobs"`
}

// ArchivedBlob carries one blob. Data is zstd-compressed when Codec is 1
// and raw when compression did not shrink it.
type ArchivedBlob struct {
	Hash  string `cbor:"hash"`
	Codec uint8  `cbor:"codec"`
	Size  int    `cbor:"size"`
	Data  []byte `cbor:"data"`
}

var (
	archiveEncMode cbor.EncMode
	archiveDecMode cbor.DecMode
	zstdEncoder    *zstd.Encoder
	zstdDecoder    *zstd.Decoder
)

var errIncompressible = errors.New("incompressible")

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	archiveEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	archiveDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlobSize))
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Export writes every checkpoint and every blob to w.
func (s *Store) Export(w io.Writer) error {
	s.mu.RLock()
	checkpoints := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		checkpoints = append(checkpoints, cloneCheckpoint(cp))
	}
	s.mu.RUnlock()

	hashes := s.blobs.hashes()
	blobs := make([]ArchivedBlob, 0, len(hashes))
	for _, hash := range sortStrings(hashes) {
		content, ok := s.blobs.Get(hash)
		if !ok {
			continue
		}
		blobs = append(blobs, packBlob(hash, content))
	}

	return WriteArchive(w, Archive{
		Format:      ArchiveFormat,
		ExportedAt:  s.now().UTC(),
		Checkpoints: checkpoints,
		Blobs:       blobs,
	})
}

// WriteArchive encodes archive to w as is.
func WriteArchive(w io.Writer, archive Archive) error {
	data, err := archiveEncMode.Marshal(archive)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// ReadArchive decodes an archive without verifying it.
func ReadArchive(r io.Reader) (Archive, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Archive{}, fmt.Errorf("read archive: %w", err)
	}
	var archive Archive
	if err := archiveDecMode.Unmarshal(data, &archive); err != nil {
		return Archive{}, fmt.Errorf("%w: decode archive: %v", ErrIntegrity, err)
	}
	if archive.Format != ArchiveFormat {
		return Archive{}, fmt.Errorf("%w: unsupported archive format %d", ErrIntegrity, archive.Format)
	}
	return archive, nil
}

// Import loads an archive into an empty store. Every blob must re-hash to
// its key, every checkpoint reference must resolve and versions must be
// strictly increasing. On any failure nothing is imported.
func (s *Store) Import(r io.Reader) error {
	archive, err := ReadArchive(r)
	if err != nil {
		return err
	}

	contents := make(map[string]string, len(archive.Blobs))
	for _, blob := range archive.Blobs {
		content, err := unpackBlob(blob)
		if err != nil {
			return fmt.Errorf("%w: blob %s: %v", ErrIntegrity, blob.Hash, err)
		}
		hash, err := HashContent(content)
		if err != nil {
			return err
		}
		if hash != blob.Hash {
			return fmt.Errorf("%w: blob %s re-hashes to %s", ErrIntegrity, blob.Hash, hash)
		}
		contents[hash] = content
	}

	seen := make(map[string]bool, len(archive.Checkpoints))
	lastVersion := 0
	for i, cp := range archive.Checkpoints {
		if cp.ID == "" || seen[cp.ID] {
			return fmt.Errorf("%w: checkpoint %d has a missing or duplicate id", ErrIntegrity, i)
		}
		seen[cp.ID] = true
		if cp.Version <= lastVersion {
			return fmt.Errorf("%w: checkpoint %s version %d is not increasing", ErrIntegrity, cp.ID, cp.Version)
		}
		lastVersion = cp.Version
		if len(cp.Paths) != len(cp.Tree) {
			archive.Checkpoints[i].Paths = sortedPaths(cp.Tree)
		} else if err := checkPaths(cp); err != nil {
			return fmt.Errorf("%w: checkpoint %s: %v", ErrIntegrity, cp.ID, err)
		}
		for path, hash := range cp.Tree {
			if _, ok := contents[hash]; !ok {
				return &MissingBlobError{CheckpointID: cp.ID, Path: path, Hash: hash}
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.checkpoints) > 0 || s.blobs.Len() > 0 {
		return ErrStoreNotEmpty
	}
	for hash, content := range contents {
		s.blobs.putVerified(hash, content)
	}
	for _, cp := range archive.Checkpoints {
		s.byID[cp.ID] = len(s.checkpoints)
		s.checkpoints = append(s.checkpoints, cloneCheckpoint(cp))
	}
	return nil
}

// checkPaths reports whether Paths lists every tree key exactly once.
func checkPaths(cp Checkpoint) error {
	listed := make(map[string]bool, len(cp.Paths))
	for _, path := range cp.Paths {
		if _, ok := cp.Tree[path]; !ok {
			return fmt.Errorf("path %s is not in the tree", path)
		}
		if listed[path] {
			return fmt.Errorf("path %s is listed twice", path)
		}
		listed[path] = true
	}
	return nil
}

func packBlob(hash, content string) ArchivedBlob {
	raw := []byte(content)
	compressed, err := compressZstd(raw)
	if err != nil {
		return ArchivedBlob{Hash: hash, Codec: codecNone, Size: len(raw), Data: raw}
	}
	return ArchivedBlob{Hash: hash, Codec: codecZstd, Size: len(raw), Data: compressed}
}

func unpackBlob(blob ArchivedBlob) (string, error) {
	switch blob.Codec {
	case codecNone:
		if len(blob.Data) != blob.Size {
			return "", fmt.Errorf("size %d, expected %d", len(blob.Data), blob.Size)
		}
		return string(blob.Data), nil
	case codecZstd:
		data, err := decompressZstd(blob.Data, blob.Size)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown codec %d", blob.Codec)
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	if size < 0 || size > MaxBlobSize {
		return nil, fmt.Errorf("size %d out of range", size)
	}
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
