package nat

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/holepunch/punchtun/protocol"
)

func channelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	ca := NewChannel(a, b.LocalAddr().(*net.UDPAddr))
	cb := NewChannel(b, a.LocalAddr().(*net.UDPAddr))
	t.Cleanup(func() { ca.Close(); cb.Close() })
	return ca, cb
}

// TestEscapeUnescapeRoundTrip is property 1 of §8: for all payloads p,
// unescape(escape(p)) == p.
func TestEscapeUnescapeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		protocol.Cookie,
		append(append([]byte{}, protocol.Cookie...), "trailer"...),
		{protocol.Escape},
		{protocol.Escape, protocol.Escape},
	}
	for _, p := range payloads {
		got := unescape(escape(p))
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip failed for %q: got %q", p, got)
		}
	}
}

// TestEscapeNeverProducesBareCookiePrefix is property 2 of §8.
func TestEscapeNeverProducesBareCookiePrefix(t *testing.T) {
	payloads := [][]byte{
		protocol.Cookie,
		append(append([]byte{}, protocol.Cookie...), "x"...),
		{protocol.Escape},
		[]byte("ordinary payload"),
	}
	for _, p := range payloads {
		out := escape(p)
		if bytes.HasPrefix(out, protocol.Cookie) && out[0] != protocol.Escape {
			t.Fatalf("escape(%q) = %q starts with Cookie unescaped", p, out)
		}
	}
}

func TestChannelEscapeRoundTripOverWire(t *testing.T) {
	ca, cb := channelPair(t)
	payload := append(append([]byte{}, protocol.Cookie...), "hi"...)
	if err := ca.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := cb.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Recv = %q, want %q", got, payload)
	}
}

func TestChannelRecvDropsKeepalive(t *testing.T) {
	ca, cb := channelPair(t)

	if err := ca.SendRaw(protocol.KeepalivePacket); err != nil {
		t.Fatalf("SendRaw keepalive: %v", err)
	}
	if err := ca.Send([]byte("app data")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := cb.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "app data" {
		t.Fatalf("Recv = %q, want keepalive skipped and app data returned", got)
	}
}

func TestChannelActiveAdvancesOnRecv(t *testing.T) {
	ca, cb := channelPair(t)
	if !cb.Active() {
		t.Fatal("freshly created channel should be active")
	}
	// Backdate the liveness clock so only the recv below can revive it.
	cb.lastPacket.Store(time.Now().Add(-2 * protocol.DisconnectTimeout).UnixNano())
	if cb.Active() {
		t.Fatal("channel with a stale liveness clock should be inactive")
	}
	if err := ca.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := cb.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !cb.Active() {
		t.Fatal("channel should be active again after a fresh recv")
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ca, _ := channelPair(t)
	if err := ca.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ca.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

// TestKeepaliveCancelIsPrompt relates to invariant 5 of §8 (no keepalives
// after close()). KeepaliveSendTime has no test override, so instead of
// watching the wire it asserts that the keepalive goroutine exits within a
// second of Close.
func TestKeepaliveCancelIsPrompt(t *testing.T) {
	ca, _ := channelPair(t)
	ca.StartKeepalive()
	ca.StartKeepalive() // second call must be a no-op, not a second goroutine
	if err := ca.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-ca.keepaliveDone:
	case <-time.After(time.Second):
		t.Fatal("keepalive goroutine did not exit promptly after Close")
	}
}
