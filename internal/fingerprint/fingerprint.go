// Package fingerprint derives content hashes and hash-qualified asset names.
package fingerprint

import (
	"encoding/hex"
	"path"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// HashScheme names the digest and truncation used for fingerprints.
	// Names carrying a fingerprint from another scheme are not recognized by
	// StripHash.
	HashScheme = "blake3-12"
	// HashLength is the number of hex characters kept from the digest.
	HashLength = 12
)

// Sum returns the truncated hex digest of content.
func Sum(content []byte) string {
	digest := blake3.Sum256(content)
	return hex.EncodeToString(digest[:])[:HashLength]
}

// SumString hashes s the same way Sum hashes bytes.
func SumString(s string) string {
	return Sum([]byte(s))
}

// HashedName inserts the fingerprint of content before the extension:
// css/base.css becomes css/base.<hash>.css.
func HashedName(name string, content []byte) string {
	return WithHash(name, Sum(content))
}

// WithHash inserts hash before the extension of name.
func WithHash(name, hash string) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		return dir + file + "." + hash
	}
	return dir + base + "." + hash + ext
}

// StripHash removes a fingerprint segment produced by HashedName. It reports
// false when the penultimate dot segment is not a fingerprint.
func StripHash(name string) (string, bool) {
	dir, file := path.Split(name)
	parts := strings.Split(file, ".")
	if len(parts) < 3 {
		return name, false
	}
	candidate := parts[len(parts)-2]
	if !IsHash(candidate) {
		return name, false
	}
	parts = append(parts[:len(parts)-2], parts[len(parts)-1])
	return dir + strings.Join(parts, "."), true
}

// HasHash reports whether name already carries a fingerprint segment.
func HasHash(name string) bool {
	_, ok := StripHash(name)
	return ok
}

// IsHash reports whether s has the shape of a fingerprint.
func IsHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
