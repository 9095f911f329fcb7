// SPDX-License-Identifier: Apache-2.0
// Package filesync keeps a local directory in step with a remote, versioned
// file set, downloading only what is missing or stale and verifying every
// byte before it is put in place.
//
// Checksums use a prefixed format: "algorithm:hexvalue" (e.g.
// "sha256:c0ffee123...", "md5:babe1337..."). Bare hex digests are accepted
// for compatibility with the mod CDN's historical file listing and are
// classified by length.
package filesync

import (
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
)

// ChecksumAlgorithm represents supported checksum algorithms
type ChecksumAlgorithm int

const (
	ChecksumMD5 ChecksumAlgorithm = iota
	ChecksumSHA256
)

func (c ChecksumAlgorithm) String() string {
	switch c {
	case ChecksumMD5:
		return "md5"
	case ChecksumSHA256:
		return "sha256"
	default:
		return "unknown"
	}
}

// NewHash returns a fresh hash.Hash for the algorithm.
func (c ChecksumAlgorithm) NewHash() hash.Hash {
	switch c {
	case ChecksumSHA256:
		return sha256.New()
	default:
		return md5.New()
	}
}

// ParseChecksum parses a checksum string that may or may not have a prefix
func ParseChecksum(checksumStr string) (ChecksumAlgorithm, string, error) {
	if strings.Contains(checksumStr, ":") {
		parts := strings.SplitN(checksumStr, ":", 2)

		var algo ChecksumAlgorithm
		switch parts[0] {
		case "md5":
			algo = ChecksumMD5
		case "sha256":
			algo = ChecksumSHA256
		default:
			return ChecksumMD5, "", fmt.Errorf("unknown checksum algorithm: %s", parts[0])
		}

		return algo, strings.ToLower(parts[1]), nil
	}

	// Legacy bare-hex format - classify by length
	switch len(checksumStr) {
	case 32:
		return ChecksumMD5, strings.ToLower(checksumStr), nil
	case 64:
		return ChecksumSHA256, strings.ToLower(checksumStr), nil
	default:
		return ChecksumMD5, "", fmt.Errorf("unrecognized bare checksum length %d", len(checksumStr))
	}
}

// FormatChecksum renders a digest in the prefixed form.
func FormatChecksum(algo ChecksumAlgorithm, hexDigest string) string {
	return algo.String() + ":" + strings.ToLower(hexDigest)
}

// ChecksumEqual reports whether two checksum strings describe the same
// digest, regardless of prefixed or bare spelling.
func ChecksumEqual(a, b string) bool {
	algoA, hexA, errA := ParseChecksum(a)
	algoB, hexB, errB := ParseChecksum(b)
	if errA != nil || errB != nil {
		return false
	}
	return algoA == algoB && hexA == hexB
}
