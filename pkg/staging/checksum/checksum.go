// Package checksum computes and verifies file digests. MD5 is the default
// algorithm for compatibility with existing preservation tooling; SHA-1 and
// SHA-256 are accepted as client-declared alternatives.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/stagefs/stagefs/internal/bufpool"
	"github.com/stagefs/stagefs/pkg/staging/errors"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"

	// Default is the algorithm used when the client declares none.
	Default = MD5
)

// aliases maps accepted spellings to canonical algorithms.
var aliases = map[string]Algorithm{
	"md5":     MD5,
	"sha1":    SHA1,
	"sha-1":   SHA1,
	"sha2":    SHA256,
	"sha256":  SHA256,
	"sha-256": SHA256,
}

// ParseAlgorithm resolves an algorithm name, accepting common aliases.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", errors.NewInvalidArgumentError(fmt.Sprintf("unsupported checksum algorithm %q", name))
	}
	return alg, nil
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	default:
		return md5.New()
	}
}

// Checksum is an algorithm plus its hex digest.
type Checksum struct {
	Algorithm Algorithm `json:"algorithm"`
	Hex       string    `json:"hex"`
}

// String renders the checksum as "algorithm:hex".
func (c Checksum) String() string {
	return string(c.Algorithm) + ":" + c.Hex
}

// IsZero reports whether the checksum is unset.
func (c Checksum) IsZero() bool {
	return c.Hex == ""
}

// Equal compares two checksums; hex comparison is case-insensitive.
func (c Checksum) Equal(other Checksum) bool {
	return c.Algorithm == other.Algorithm && strings.EqualFold(c.Hex, other.Hex)
}

// Parse parses "algorithm:hex" or a bare hex digest (assumed Default).
func Parse(s string) (Checksum, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Checksum{}, errors.NewInvalidArgumentError("empty checksum")
	}

	alg := Default
	hexPart := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		parsed, err := ParseAlgorithm(s[:i])
		if err != nil {
			return Checksum{}, err
		}
		alg = parsed
		hexPart = s[i+1:]
	}

	hexPart = strings.ToLower(hexPart)
	if _, err := hex.DecodeString(hexPart); err != nil || len(hexPart) != hex.EncodedLen(alg.New().Size()) {
		return Checksum{}, errors.NewInvalidArgumentError(fmt.Sprintf("malformed %s digest", alg))
	}

	return Checksum{Algorithm: alg, Hex: hexPart}, nil
}

// Sum computes the digest of r.
func Sum(r io.Reader, alg Algorithm) (Checksum, error) {
	h := alg.New()
	buf := bufpool.Get(bufpool.LargeSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Checksum{}, fmt.Errorf("hashing stream: %w", err)
	}
	return Checksum{Algorithm: alg, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// SumFile computes the digest of the file at path.
func SumFile(path string, alg Algorithm) (Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksum{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return Sum(f, alg)
}

// VerifyFile compares the file's digest against expected. A zero expected
// checksum verifies trivially and returns the computed Default digest so the
// caller always has one to record.
func VerifyFile(path string, expected Checksum) (Checksum, error) {
	alg := expected.Algorithm
	if expected.IsZero() {
		alg = Default
	}

	actual, err := SumFile(path, alg)
	if err != nil {
		return Checksum{}, err
	}

	if !expected.IsZero() && !actual.Equal(expected) {
		return actual, errors.NewChecksumMismatchError(path, expected.Hex, actual.Hex)
	}
	return actual, nil
}

// Writer wraps w, hashing every byte written through it. Used by the upload
// assembler to maintain a running digest without re-reading the workspace.
type Writer struct {
	w io.Writer
	h hash.Hash
	a Algorithm
}

// NewWriter returns a hashing writer for the algorithm.
func NewWriter(w io.Writer, alg Algorithm) *Writer {
	return &Writer{w: w, h: alg.New(), a: alg}
}

// Write implements io.Writer.
func (hw *Writer) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of everything written so far.
func (hw *Writer) Sum() Checksum {
	return Checksum{Algorithm: hw.a, Hex: hex.EncodeToString(hw.h.Sum(nil))}
}
