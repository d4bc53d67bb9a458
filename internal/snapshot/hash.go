package snapshot

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// contentDomainKey separates blob hashes from any other BLAKE3 use. The
// value is the ASCII domain name zero-padded to 32 bytes; changing it
// invalidates every stored hash.
var contentDomainKey = [32]byte{
	'f', 'o', 'r', 'g', 'e', 'b', 'e', 'n', 'c', 'h', '.', 'b', 'l', 'o', 'b', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashContent returns the hex BLAKE3 keyed hash of content.
func HashContent(content string) (string, error) {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("init content hasher: %w", err)
	}
	if _, err := hasher.Write([]byte(content)); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
