package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a 21 character lowercase nanoid.
func NewID() string {
	return gonanoid.MustGenerate(idAlphabet, 21)
}

// NewPrefixedID returns "<prefix>_<nanoid>", e.g. "job_4f0...".
func NewPrefixedID(prefix string) string {
	return prefix + "_" + NewID()
}

// IsID reports whether s looks like an id produced by NewID, optionally
// carrying a prefix.
func IsID(s string) bool {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			s = s[i+1:]
			break
		}
	}
	if len(s) != 21 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}
