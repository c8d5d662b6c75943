package rendezvous

import (
	"sync"

	"github.com/holepunch/punchtun/protocol"
)

// Conn is the minimal shape the pending map needs from a parked control
// connection: its codec, for resuming the lockstep script, and the id the
// remote peer announced itself with.
type Conn struct {
	Codec    *protocol.Codec
	LocalID  string
	RemoteID string
}

// Pending is the one-shot peer-id → parked-control-connection map. A
// connection is installed when the first peer of a pair arrives and
// announces; it is claimed (removed) when the second peer of the pair
// arrives. The check-and-claim is a single atomic critical section: the
// claim is keyed strictly on pending[requestedID], and on a miss the
// install uses pending[localID], both under one lock acquisition, so a
// parked connection can never be handed to two different claimants and a
// cross-named pair (A waiting for B, B parked for C) cannot double-claim.
type Pending struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewPending returns an empty pending-connection map.
func NewPending() *Pending {
	return &Pending{conns: make(map[string]*Conn)}
}

// ClaimOrInstall attempts to claim the connection parked under requestedID
// (the remote id this connection announced it wants to pair with). If one
// exists, it is removed from the map and returned with ok=true: the caller
// becomes the traversal driver for the pair. If none exists, conn is
// installed under localID instead and ClaimOrInstall returns ok=false: the
// caller should park and wait for its partner.
func (p *Pending) ClaimOrInstall(localID string, conn *Conn) (partner *Conn, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if partner, found := p.conns[conn.RemoteID]; found {
		delete(p.conns, conn.RemoteID)
		return partner, true
	}
	p.conns[localID] = conn
	return nil, false
}

// Remove evicts the connection parked under id, if any. The server
// coordinator does not call it: a parked connection stays in the map, with
// its socket open, until a partner claims it, and is never timed out.
func (p *Pending) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, id)
}

// Len reports how many connections are currently parked. Intended for
// stats/diagnostics, not for protocol decisions.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
