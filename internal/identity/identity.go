// Package identity computes stable digests of findings and removes duplicates.
//
// The digest basis depends on a tool:
//
//	default                                  description, location
//	secret scanner, findings merged by file  file path
//	secret scanner, finding per offense      file path, line
//	static analyzer, credential findings     file path, line
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex encoded SHA-256 digest of parts joined by ":".
func Sum(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h[:])
}

func Default(description, location string) []string {
	return []string{description, location}
}

func File(path string) []string {
	return []string{path}
}

func FileLine(path, line string) []string {
	return []string{path, line}
}

type Identifier interface {
	Identity() string
}

// Stats holds the number of items before and after deduplication.
type Stats struct {
	Before int
	After  int
}

func (s Stats) Removed() int {
	return s.Before - s.After
}

// Dedup returns a new slice with one item per identity. The first item seen wins
// and the relative order of kept items does not change.
func Dedup[T Identifier](items []T) ([]T, Stats) {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		id := item.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out, Stats{Before: len(items), After: len(out)}
}
