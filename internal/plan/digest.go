package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestLength is the length of a hex encoded SHA-256 digest.
const DigestLength = sha256.Size * 2

// Digest is the hex encoded SHA-256 of a plan's canonical encoding.
type Digest string

// DigestOf hashes already-serialized plan bytes without decoding them.
func DigestOf(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// ParseDigest validates a digest received from the wire.
func ParseDigest(s string) (Digest, error) {
	if len(s) != DigestLength {
		return "", fmt.Errorf("digest must be %d hex characters, got %d", DigestLength, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("digest is not hex: %w", err)
	}
	return Digest(strings.ToLower(s)), nil
}

func (d Digest) String() string { return string(d) }

// Short returns the first 12 characters, for log lines.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}
