// Package rendezvous implements the server-side shared state of the
// traversal protocol: the peer-id → public-address table fed by UDP
// address probes, and the one-shot pending-control-connection map that
// pairs clients by id.
package rendezvous

import (
	"net"
	"sync"
)

// Table is the process-wide peer-id → last-seen public UDP address
// mapping. Writes are last-writer-wins; readers never observe a torn
// address because each entry is replaced atomically under the lock.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*net.UDPAddr
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*net.UDPAddr)}
}

// Put records addr as the last-seen public address for id, superseding any
// previous entry. Entries never expire explicitly.
func (t *Table) Put(id string, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = addr
}

// Get returns the last-seen public address for id and whether one exists.
// A missing entry is a valid answer, not an error.
func (t *Table) Get(id string) (*net.UDPAddr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.entries[id]
	return addr, ok
}

// Len reports how many ids currently have a recorded address. Intended for
// stats/diagnostics, not for protocol decisions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
