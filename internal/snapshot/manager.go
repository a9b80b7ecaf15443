// Package snapshot implements the Snapshot Manager: creates, names,
// and restores internal/cpu.Core snapshots, with an optional
// least-recently-restored eviction cap.
package snapshot

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/hoedur/hoedur/internal/cpu"
	"github.com/hoedur/hoedur/internal/errs"
)

// Handle identifies a snapshot. Handles are monotonically increasing
// and never reused, even after eviction, so a stale handle fails
// lookup instead of silently returning the wrong snapshot.
type Handle uint64

// entry is the value stored at each list.Element, keyed in lru for
// O(1) access and O(1) move-to-front on restore.
type entry struct {
	handle Handle
	name   string
	snap   *cpu.Snapshot
}

// Manager keeps captured snapshots in memory, addressable by Handle or
// by a human-assigned name (e.g. "post-boot"). Evicts nothing by
// default; a configured cap discards least-recently-restored first,
// the same LRU discipline `container/list` + map gives idiomatically.
type Manager struct {
	mu       sync.Mutex
	maxItems int // 0 means unbounded

	next    Handle
	byName  map[string]Handle
	lru     *list.List // front = most recently restored
	byToken map[Handle]*list.Element
}

// NewManager creates a Manager. maxItems <= 0 means no eviction cap.
func NewManager(maxItems int) *Manager {
	return &Manager{
		maxItems: maxItems,
		byName:   make(map[string]Handle),
		lru:      list.New(),
		byToken:  make(map[Handle]*list.Element),
	}
}

// Create captures core's current state under name (name may be empty;
// named snapshots are also reachable by name via Named). Evicts the
// least-recently-restored snapshot first if maxItems is exceeded.
func (m *Manager) Create(core *cpu.Core, name string) (Handle, error) {
	snap, err := core.Snapshot()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	h := m.next
	el := m.lru.PushFront(&entry{handle: h, name: name, snap: snap})
	m.byToken[h] = el
	if name != "" {
		m.byName[name] = h
	}

	m.evictLocked()
	return h, nil
}

// evictLocked must be called with mu held.
func (m *Manager) evictLocked() {
	if m.maxItems <= 0 {
		return
	}
	for m.lru.Len() > m.maxItems {
		back := m.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		m.lru.Remove(back)
		delete(m.byToken, e.handle)
		if e.name != "" && m.byName[e.name] == e.handle {
			delete(m.byName, e.name)
		}
	}
}

// Restore loads the snapshot identified by h into core, and marks it
// most-recently-used.
func (m *Manager) Restore(core *cpu.Core, h Handle) error {
	m.mu.Lock()
	el, ok := m.byToken[h]
	if ok {
		m.lru.MoveToFront(el)
	}
	m.mu.Unlock()

	if !ok {
		return errs.New(errs.EmulatorFailure, "snapshot.Restore", fmt.Errorf("unknown snapshot handle %d", h))
	}
	return core.Restore(el.Value.(*entry).snap)
}

// Named resolves a snapshot name (e.g. "post-boot") to its current
// handle. ok is false if no snapshot was ever created under that name,
// or if it has since been evicted.
func (m *Manager) Named(name string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.byName[name]
	return h, ok
}

// Len reports the number of live snapshots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Evict explicitly discards a snapshot before its natural LRU turn.
func (m *Manager) Evict(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.byToken[h]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	m.lru.Remove(el)
	delete(m.byToken, h)
	if e.name != "" && m.byName[e.name] == h {
		delete(m.byName, e.name)
	}
}
