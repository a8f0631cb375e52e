// Package cache stores execution results keyed by (action identity, version),
// giving the scheduler at-most-once execution per distinct version and
// skip-if-unchanged semantics across runs in the same session.
package cache

import (
	"fmt"
	"sync"

	"github.com/vk/actiongraph/internal/action"
)

// Key identifies one cache entry.
type Key struct {
	Ref     action.Ref
	Version string
}

// ErrAlreadyRecorded is returned by Put when an entry exists for the key.
// Entries are write-once per version; only an explicit force run replaces
// one, via Replace.
var ErrAlreadyRecorded = fmt.Errorf("cache: result already recorded for this version")

// Cache is an in-memory, session-scoped result store. Safe for concurrent
// use by parallel node completions. Cross-session persistence is the caller's
// concern.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*action.Result
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*action.Result)}
}

// Get returns the recorded result for an action at a version, if any.
func (c *Cache) Get(ref action.Ref, version string) (*action.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[Key{Ref: ref, Version: version}]
	return res, ok
}

// Put records a result. Fails with ErrAlreadyRecorded if the key already has
// one; entries are never implicitly overwritten.
func (c *Cache) Put(ref action.Ref, version string, res *action.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Key{Ref: ref, Version: version}
	if _, exists := c.entries[key]; exists {
		return ErrAlreadyRecorded
	}
	c.entries[key] = res
	return nil
}

// Replace records a result, overwriting any prior entry for the exact key.
// Only used on explicit force runs.
func (c *Cache) Replace(ref action.Ref, version string, res *action.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key{Ref: ref, Version: version}] = res
}

// Len returns the number of recorded entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
