package services

import (
	"sort"
	"sync"
)

// KeyedMutex serializes work per entity key inside one process. Callers
// acquire keys in a fixed global order (copy, then isbn, then reader) so two
// operations can never wait on each other in a cycle. Database row locks
// (SELECT ... FOR UPDATE) cover the multi-process case.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockKeys is the set of entities one operation touches.
type lockKeys struct {
	Barcode string
	ISBN    string
	Readers []string
}

// acquire takes every lock in ks in canonical order and returns a function
// releasing them in reverse. Empty keys are skipped.
func (k *KeyedMutex) acquire(ks lockKeys) func() {
	keys := make([]string, 0, 2+len(ks.Readers))
	if ks.Barcode != "" {
		keys = append(keys, "copy:"+ks.Barcode)
	}
	if ks.ISBN != "" {
		keys = append(keys, "isbn:"+ks.ISBN)
	}
	readers := append([]string(nil), ks.Readers...)
	sort.Strings(readers)
	for i, r := range readers {
		if r == "" || (i > 0 && readers[i-1] == r) {
			continue
		}
		keys = append(keys, "reader:"+r)
	}

	unlocks := make([]func(), 0, len(keys))
	for _, key := range keys {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// size reports how many keys are currently held or awaited. Used by tests.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
