// Package presence tracks the set of currently connected principals. The
// table is owned by the process and passed by reference to the gateway and
// router; it is not an ambient singleton.
package presence

import "sync"

// Entry describes one connected principal.
type Entry struct {
	PrincipalID string
	ConnID      int64
	DisplayName string
	Email       string
}

// Table is a lock-guarded mapping of principal id to connection metadata.
// At most one entry exists per principal id: a reconnect replaces the prior
// entry rather than duplicating it.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// NewTable constructs an empty presence table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Upsert records the principal as connected. When the principal already has
// an entry the prior connection id is returned with replaced=true so the
// caller can distinguish a reconnect from a first connection.
func (t *Table) Upsert(entry Entry) (priorConnID int64, replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[entry.PrincipalID]; ok {
		priorConnID = existing.ConnID
		*existing = entry
		return priorConnID, true
	}

	stored := entry
	t.entries[entry.PrincipalID] = &stored
	t.order = append(t.order, entry.PrincipalID)
	return 0, false
}

// Remove deletes the principal's entry when it still belongs to the given
// connection. A removal for a connection that has already been replaced by a
// newer one is a no-op, so a slow disconnect cannot evict a fresh session.
func (t *Table) Remove(principalID string, connID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[principalID]
	if !ok || existing.ConnID != connID {
		return false
	}
	delete(t.entries, principalID)
	for i, id := range t.order {
		if id == principalID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the current entries in insertion order. Consumers must
// treat the result as a set; the order carries no contract.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		if entry, ok := t.entries[id]; ok {
			snapshot = append(snapshot, *entry)
		}
	}
	return snapshot
}

// Len reports the number of connected principals.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
