package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/holepunch/punchtun/nat"
	"github.com/holepunch/punchtun/protocol"
	"github.com/holepunch/punchtun/rendezvous"
)

// fakeRendezvousServer runs the real rendezvous.Table/Service pair on a
// loopback UDP socket, exercising Executor.serverRequest the same way it
// would talk to the production server's address-probe service.
func fakeRendezvousServer(t *testing.T) (addr string, table *rendezvous.Table, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	table = rendezvous.NewTable()
	svc := rendezvous.NewService(table)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				close(done)
				return
			}
			data := append([]byte(nil), buf[:n]...)
			go svc.HandleDatagram(conn, data, from)
		}
	}()

	return conn.LocalAddr().String(), table, func() {
		conn.Close()
		<-done
	}
}

func newBoundExecutor(t *testing.T, serverAddr, localID, remoteID string) *Executor {
	t.Helper()
	e := NewExecutor(serverAddr, localID, remoteID)
	e.serverAddr, _ = net.ResolveUDPAddr("udp", serverAddr)
	if _, err := e.doBind(); err != nil {
		t.Fatalf("doBind: %v", err)
	}
	t.Cleanup(func() {
		if e.channel != nil {
			e.channel.Close()
		}
	})
	return e
}

func TestDoBindClosesPriorSocket(t *testing.T) {
	addr, _, stop := fakeRendezvousServer(t)
	defer stop()

	e := newBoundExecutor(t, addr, "alice", "bob")
	firstConn := e.udpConn

	if _, err := e.doBind(); err != nil {
		t.Fatalf("second doBind: %v", err)
	}
	if e.udpConn == firstConn {
		t.Fatal("doBind should have replaced the UDP socket")
	}

	// The old socket should now be closed: writing to it fails.
	if _, err := firstConn.Write([]byte("x")); err == nil {
		t.Fatal("expected write on closed prior socket to fail")
	}
}

func TestServerRequestSucceedsAndRecordsSender(t *testing.T) {
	addr, table, stop := fakeRendezvousServer(t)
	defer stop()

	e := newBoundExecutor(t, addr, "alice", "bob")

	if _, err := e.serverRequest(); err != nil {
		t.Fatalf("serverRequest: %v", err)
	}
	if _, ok := table.Get("alice"); !ok {
		t.Fatal("server should have recorded alice's address")
	}
}

func TestServerRequestExhaustsBudgetWithNoServer(t *testing.T) {
	// Bind a socket that never replies, then close the "server" immediately.
	dead, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.LocalAddr().String()
	dead.Close()

	e := NewExecutor(deadAddr, "alice", "bob")
	e.serverAddr, _ = net.ResolveUDPAddr("udp", deadAddr)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	defer conn.Close()
	e.udpConn = conn

	start := time.Now()
	_, err = e.serverRequest()
	if err == nil {
		t.Fatal("expected serverRequest to fail once the probe budget is exhausted")
	}
	if kind, ok := protocol.KindOf(err); !ok || kind != protocol.KindNoServer {
		t.Fatalf("expected KindNoServer, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*protocol.UDPSocketTimeout {
		t.Fatalf("serverRequest took too long: %v", elapsed)
	}
}

func TestDoAnnounceAndUpdateAddrAgainstRealService(t *testing.T) {
	addr, table, stop := fakeRendezvousServer(t)
	defer stop()

	alice := newBoundExecutor(t, addr, "alice", "bob")
	bob := newBoundExecutor(t, addr, "bob", "alice")

	if _, err := alice.doAnnounceAddr(); err != nil {
		t.Fatalf("alice announce: %v", err)
	}
	if _, err := bob.doAnnounceAddr(); err != nil {
		t.Fatalf("bob announce: %v", err)
	}

	if _, ok := table.Get("alice"); !ok {
		t.Fatal("server did not record alice's address")
	}

	ctx := context.Background()
	if _, err := alice.doUpdateAddr(ctx); err != nil {
		t.Fatalf("alice update_addr: %v", err)
	}

	// §8 property 3: alice's learned remote address for bob equals bob's
	// server-observed source address.
	bobObserved, ok := table.Get("bob")
	if !ok {
		t.Fatal("server did not record bob's address")
	}
	if !alice.channel.RemoteAddr().IP.Equal(bobObserved.IP) || alice.channel.RemoteAddr().Port != bobObserved.Port {
		t.Fatalf("alice's channel remote %v does not match bob's observed address %v", alice.channel.RemoteAddr(), bobObserved)
	}
}

func TestDoUpdateAddrPollsThroughZeroResponses(t *testing.T) {
	addr, _, stop := fakeRendezvousServer(t)
	defer stop()

	alice := newBoundExecutor(t, addr, "alice", "bob")

	// bob has not announced yet, so alice's first poll(s) see the zero
	// sentinel. Register bob partway through, from a second goroutine,
	// mimicking the real timing where both peers announce independently.
	bobConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen bob: %v", err)
	}
	defer bobConn.Close()
	bob := &Executor{serverUDPAddr: addr, localID: "bob", remoteID: "alice", udpConn: bobConn}
	bob.serverAddr, _ = net.ResolveUDPAddr("udp", addr)

	go func() {
		time.Sleep(protocol.AddrWaitTime + 200*time.Millisecond)
		bob.doAnnounceAddr()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := alice.doUpdateAddr(ctx); err != nil {
		t.Fatalf("doUpdateAddr: %v", err)
	}
	if alice.channel.RemoteAddr() == nil {
		t.Fatal("expected alice's channel to have learned bob's remote address")
	}
}

func TestSendHelloAndWaitHelloRoundTrip(t *testing.T) {
	addr, _, stop := fakeRendezvousServer(t)
	defer stop()

	alice := newBoundExecutor(t, addr, "alice", "bob")
	bob := newBoundExecutor(t, addr, "bob", "alice")

	// The sockets are bound to the wildcard address; point each channel at
	// the loopback address datagrams actually arrive from.
	aliceAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: alice.udpConn.LocalAddr().(*net.UDPAddr).Port}
	bobAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: bob.udpConn.LocalAddr().(*net.UDPAddr).Port}
	alice.channel = nat.NewChannel(alice.udpConn, bobAddr)
	bob.channel = nat.NewChannel(bob.udpConn, aliceAddr)

	if _, err := alice.doSendHello(); err != nil {
		t.Fatalf("alice doSendHello: %v", err)
	}
	result, err := bob.doWaitHello()
	if err != nil {
		t.Fatalf("bob doWaitHello: %v", err)
	}
	if result != protocol.ResultOK {
		t.Fatalf("expected OK, got %v", result)
	}
}

func TestWaitHelloTimesOutToFail(t *testing.T) {
	addr, _, stop := fakeRendezvousServer(t)
	defer stop()

	bob := newBoundExecutor(t, addr, "bob", "alice")
	loner, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer loner.Close()
	bob.channel = nat.NewChannel(bob.udpConn, loner.LocalAddr().(*net.UDPAddr))

	result, err := bob.doWaitHello()
	if err != nil {
		t.Fatalf("doWaitHello returned a session-fatal error: %v", err)
	}
	if result != protocol.ResultFail {
		t.Fatalf("expected FAIL on timeout, got %v", result)
	}
}
