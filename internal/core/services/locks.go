package services

import (
	"sort"
	"sync"
)

// keyLocker hands out one mutex per string key. Keys are locked in sorted
// order so callers taking several keys cannot deadlock each other.
type keyLocker struct {
	enabled bool
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

func newKeyLocker(enabled bool) *keyLocker {
	return &keyLocker{enabled: enabled, locks: make(map[string]*sync.Mutex)}
}

func (l *keyLocker) lockKeys(keys ...string) func() {
	if !l.enabled || len(keys) == 0 {
		return func() {}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	l.mu.Lock()
	acquired := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		m := l.locks[k]
		if m == nil {
			m = &sync.Mutex{}
			l.locks[k] = m
		}
		acquired = append(acquired, m)
	}
	l.mu.Unlock()
	for _, m := range acquired {
		m.Lock()
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}
