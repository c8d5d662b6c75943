package main

import (
	"context"
	"log"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/holepunch/punchtun/protocol"
	"github.com/holepunch/punchtun/rendezvous"
	"github.com/holepunch/punchtun/std"
)

// Coordinator is the server-side half of the traversal protocol: it answers
// UDP address probes against a shared Table and pairs TCP control
// connections via Pending, driving each pair through the lockstep punching
// script once both sides have arrived.
type Coordinator struct {
	table   *rendezvous.Table
	pending *rendezvous.Pending
	sem     *semaphore.Weighted
	stats   *Stats
	quiet   bool
}

// NewCoordinator returns a coordinator whose TCP accept loop and UDP probe
// loop share one bounded pool of workers.
func NewCoordinator(workers int, quiet bool) *Coordinator {
	return &Coordinator{
		table:   rendezvous.NewTable(),
		pending: rendezvous.NewPending(),
		sem:     semaphore.NewWeighted(int64(workers)),
		stats:   &Stats{},
		quiet:   quiet,
	}
}

// Run binds addr for both the TCP control listener and the UDP probe
// socket and serves both until ctx is cancelled or one of the listeners
// fails irrecoverably.
func (co *Coordinator) Run(ctx context.Context, addr string, reuse bool) error {
	udpConn, err := std.ListenUDPReuse(addr, reuse)
	if err != nil {
		return err
	}
	tcpListener, err := std.ListenTCPReuse(addr, reuse)
	if err != nil {
		udpConn.Close()
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- co.serveUDP(ctx, udpConn) }()
	go func() { errCh <- co.serveTCP(ctx, tcpListener) }()

	var runErr error
	remaining := 2
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
		remaining--
	}
	udpConn.Close()
	tcpListener.Close()
	for ; remaining > 0; remaining-- {
		<-errCh
	}
	return runErr
}

func (co *Coordinator) serveUDP(ctx context.Context, conn *net.UDPConn) error {
	svc := rendezvous.NewService(co.table)
	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		data := append([]byte(nil), buf[:n]...)
		if err := co.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(data []byte, from *net.UDPAddr) {
			defer co.sem.Release(1)
			svc.HandleDatagram(conn, data, from)
			co.stats.ProbesServed.Add(1)
		}(data, from)
	}
}

func (co *Coordinator) serveTCP(ctx context.Context, lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		if err := co.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return err
		}
		go func(conn net.Conn) {
			defer co.sem.Release(1)
			co.handleTCPClient(conn)
		}(conn)
	}
}

// handleTCPClient reads the connecting client's announced id and its
// requested remote id, then either parks the connection (first arrival of a
// pair) or claims its waiting partner and drives the pair through
// traversal (second arrival).
func (co *Coordinator) handleTCPClient(raw net.Conn) {
	raw.SetDeadline(time.Now().Add(protocol.OperationTimeout))
	codec := protocol.NewCodec(raw)

	localID, err := codec.ReadLine()
	if err != nil {
		raw.Close()
		return
	}
	remoteID, err := codec.ReadLine()
	if err != nil {
		raw.Close()
		return
	}

	conn := &rendezvous.Conn{Codec: codec, LocalID: localID, RemoteID: remoteID}
	partner, ok := co.pending.ClaimOrInstall(localID, conn)
	if !ok {
		// Parked: the arriving partner's goroutine will drive this
		// connection through traversal and close it. Leave it open.
		co.logf("parked %s waiting for %s", localID, remoteID)
		return
	}

	co.logf("pairing %s and %s, starting traversal", partner.LocalID, conn.LocalID)
	if co.traverse(partner, conn) {
		co.stats.PairsEstablished.Add(1)
		co.logf("hole punching succeeded between %s and %s", partner.LocalID, conn.LocalID)
	} else {
		co.stats.FailedTraversals.Add(1)
		co.logf("hole punching failed between %s and %s", partner.LocalID, conn.LocalID)
	}
}

// traverse drives both directions of the lockstep script, closing both
// control connections when done. Grounded on the source's _traverse, which
// tries a-initiates-first and falls back to b-initiates-first before giving
// up on the pair.
func (co *Coordinator) traverse(a, b *rendezvous.Conn) bool {
	defer a.Codec.Conn().Close()
	defer b.Codec.Conn().Close()
	return co.tryPunchHole(a, b) || co.tryPunchHole(b, a)
}

// tryPunchHole runs one direction of the BIND/ANNOUNCE_ADDR/UPDATE_ADDR/
// SEND_HELLO/WAIT_HELLO lockstep. Every step is driven on both connections
// before the script advances; only the final hello exchange is order
// sensitive (a waits while b's hello is already in flight).
func (co *Coordinator) tryPunchHole(a, b *rendezvous.Conn) bool {
	conns := []*rendezvous.Conn{a, b}
	steps := []protocol.Operation{
		protocol.OpBind,
		protocol.OpAnnounceAddr,
		protocol.OpUpdateAddr,
		protocol.OpSendHello,
	}
	for _, op := range steps {
		for _, c := range conns {
			if err := co.sendAndWait(c, op); err != nil {
				return false
			}
		}
	}

	result, err := co.sendAndRecv(a, protocol.OpWaitHello)
	if err != nil {
		return false
	}
	if result != protocol.ResultOK {
		return false
	}

	if err := co.sendAndWait(a, protocol.OpSendHello); err != nil {
		return false
	}
	if err := co.sendAndWait(b, protocol.OpWaitHello); err != nil {
		return false
	}
	for _, c := range conns {
		if err := c.Codec.WriteOperation(protocol.OpFinish); err != nil {
			return false
		}
	}
	return true
}

func (co *Coordinator) sendAndWait(c *rendezvous.Conn, op protocol.Operation) error {
	c.Codec.Conn().SetDeadline(time.Now().Add(protocol.OperationTimeout))
	return c.Codec.SendAndWait(op, protocol.ResultOK)
}

func (co *Coordinator) sendAndRecv(c *rendezvous.Conn, op protocol.Operation) (protocol.Result, error) {
	c.Codec.Conn().SetDeadline(time.Now().Add(protocol.OperationTimeout))
	return c.Codec.SendAndRecv(op)
}

func (co *Coordinator) logf(format string, args ...any) {
	if !co.quiet {
		log.Printf(format, args...)
	}
}

// Snapshot returns the current counters, wrapped as a std.Snapshot for the
// stats CSV logger.
func (co *Coordinator) Snapshot() std.Snapshot {
	return co.stats.snapshot(co.pending.Len(), co.table.Len())
}
