package guardfile

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Algorithm identifies a content digest algorithm.
type Algorithm string

const (
	// AlgorithmSHA256 is the default content digest.
	AlgorithmSHA256 Algorithm = "sha256"

	// AlgorithmSHA512 trades speed for a wider digest.
	AlgorithmSHA512 Algorithm = "sha512"

	// AlgorithmBLAKE2b is the 256-bit BLAKE2b digest.
	AlgorithmBLAKE2b Algorithm = "blake2b"

	// AlgorithmXXH64 is a fast non-cryptographic digest. Suitable for
	// dedup and benchmarking, not collision-resistant against an
	// adversary.
	AlgorithmXXH64 Algorithm = "xxh64"
)

// Algorithms lists the supported digest algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{AlgorithmSHA256, AlgorithmSHA512, AlgorithmBLAKE2b, AlgorithmXXH64}
}

// ParseAlgorithm resolves a user-supplied token to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	algo := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch algo {
	case AlgorithmSHA256, AlgorithmSHA512, AlgorithmBLAKE2b, AlgorithmXXH64:
		return algo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// NewHasher creates a new hash.Hash for the given algorithm.
// Returns an error if the algorithm is not supported.
func NewHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	case AlgorithmBLAKE2b:
		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, fmt.Errorf("blake2b: %w", err)
		}
		return h, nil
	case AlgorithmXXH64:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// HashBytes returns the hex-encoded digest of data.
func HashBytes(data []byte, algorithm Algorithm) (string, error) {
	return HashReader(bytes.NewReader(data), algorithm)
}

// HashReader reads from the reader and calculates the digest using the
// specified algorithm. Returns the hex-encoded digest string.
func HashReader(r io.Reader, algorithm Algorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate digest: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// sampleStream drains r, feeding every byte to h while retaining at most
// max bytes for validator inspection. The digest therefore always covers
// the whole input even when validators only see the head of it. A max of
// zero or less retains everything.
func sampleStream(r io.Reader, h hash.Hash, max int64) (sample []byte, size int64, truncated bool, err error) {
	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			size += int64(n)
			h.Write(chunk[:n])

			keep := chunk[:n]
			if max > 0 {
				remaining := max - int64(buf.Len())
				if remaining <= 0 {
					keep = nil
					truncated = true
				} else if int64(len(keep)) > remaining {
					keep = keep[:remaining]
					truncated = true
				}
			}
			buf.Write(keep)
		}
		if rerr == io.EOF {
			return buf.Bytes(), size, truncated, nil
		}
		if rerr != nil {
			return buf.Bytes(), size, truncated, rerr
		}
	}
}
