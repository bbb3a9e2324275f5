// Package session provides a bounded, expiring key-value store for
// short-lived per-user state such as unsubmitted modal drafts.
//
// Entries expire TTL after their last write. When the store is full the
// least recently used entry is evicted to make room. A Store is safe for
// concurrent use and is passed explicitly to the handlers that need it.
package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store holds values of type T keyed by string.
type Store[T any] struct {
	lru *expirable.LRU[string, T]
}

// Config configures a Store.
type Config struct {
	// TTL is how long an entry lives after its last write. Default: 30m.
	TTL time.Duration
	// MaxEntries caps the store size. Default: 1000.
	MaxEntries int
}

// New creates a Store. Expired entries are reaped in the background.
func New[T any](cfg Config) *Store[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Store[T]{lru: expirable.NewLRU[string, T](cfg.MaxEntries, nil, cfg.TTL)}
}

// Put stores value under key, replacing any existing entry and renewing
// its TTL.
func (s *Store[T]) Put(key string, value T) {
	s.lru.Add(key, value)
}

// Get returns the live value for key.
func (s *Store[T]) Get(key string) (T, bool) {
	return s.lru.Get(key)
}

// Delete removes key.
func (s *Store[T]) Delete(key string) {
	s.lru.Remove(key)
}

// Len returns the number of stored entries, including expired ones not yet reaped.
func (s *Store[T]) Len() int {
	return s.lru.Len()
}
