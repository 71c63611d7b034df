// Package intern deduplicates identifier strings (workload, service class)
// that repeat across thousands of extracted records.
package intern

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultSize bounds the number of distinct identifiers kept
const DefaultSize = 4096

// Interner returns a canonical copy for equal strings so records extracted
// from different lines share one backing array instead of pinning each line.
//
// Interner is backed by an LRU so only the most recently seen identifiers are kept.
// A nil *Interner is valid and returns its input unchanged.
type Interner struct {
	lru *lru.Cache
}

// New returns an Interner holding at most size identifiers
func New(size int) (*Interner, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create interner: %w", err)
	}
	return &Interner{lru: cache}, nil
}

// Intern returns the canonical copy of s
func (i *Interner) Intern(s string) string {
	if i == nil || s == "" {
		return s
	}
	if existing, ok := i.lru.Get(s); ok {
		return existing.(string)
	}
	// Detach from the line the substring was sliced out of.
	owned := strings.Clone(s)
	i.lru.Add(owned, owned)
	return owned
}

// Len returns the number of identifiers currently held
func (i *Interner) Len() int {
	if i == nil {
		return 0
	}
	return i.lru.Len()
}
