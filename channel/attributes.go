// File: channel/attributes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe per-channel attribute store.

package channel

import (
	"sort"
	"sync"
)

// AttributeKey is a typed attribute name.
type AttributeKey[T any] struct {
	name string
}

// NewAttributeKey creates a key. Keys compare by name.
func NewAttributeKey[T any](name string) AttributeKey[T] {
	return AttributeKey[T]{name: name}
}

// Name returns the key name.
func (k AttributeKey[T]) Name() string { return k.name }

// Attributes is a concurrent key/value store attached to a channel.
type Attributes struct {
	mu    sync.RWMutex
	store map[string]any
}

// NewAttributes creates an empty store.
func NewAttributes() *Attributes {
	return &Attributes{store: make(map[string]any)}
}

// Set stores value under key.
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store[key] = value
}

// SetIfAbsent stores value unless key exists. It returns the value now
// stored and whether it was already present.
func (a *Attributes) SetIfAbsent(key string, value any) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.store[key]; ok {
		return v, true
	}
	a.store[key] = value
	return value, false
}

// Get retrieves a value and its existence.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.store[key]
	return v, ok
}

// Delete removes a key.
func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.store, key)
}

// Keys returns all keys in sorted order.
func (a *Attributes) Keys() []string {
	a.mu.RLock()
	keys := make([]string, 0, len(a.store))
	for k := range a.store {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// CopyTo copies every attribute into dst.
func (a *Attributes) CopyTo(dst *Attributes) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for k, v := range a.store {
		dst.store[k] = v
	}
}

// Attr reads a typed attribute.
func Attr[T any](a *Attributes, key AttributeKey[T]) (T, bool) {
	v, ok := a.Get(key.name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SetAttr writes a typed attribute.
func SetAttr[T any](a *Attributes, key AttributeKey[T], value T) {
	a.Set(key.name, value)
}
