package protocol

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestCodecWriteReadLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewCodec(server)
	cc := NewCodec(client)

	go func() {
		sc.WriteLine("hello")
	}()
	line, err := cc.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "hello" {
		t.Fatalf("ReadLine = %q, want %q", line, "hello")
	}
}

func TestCodecReadLineClosedSurfacesAsClosed(t *testing.T) {
	server, client := net.Pipe()
	client.Close()
	sc := NewCodec(server)
	_, err := sc.ReadLine()
	if err == nil {
		t.Fatal("expected error reading from a closed peer")
	}
	if kind, ok := KindOf(err); !ok || kind != KindClosed {
		t.Fatalf("expected KindClosed, got %v (found=%v)", kind, ok)
	}
}

func TestCodecOperationRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewCodec(server)
	cc := NewCodec(client)

	go sc.WriteOperation(OpBind)
	op, err := cc.ReadOperation()
	if err != nil {
		t.Fatalf("ReadOperation: %v", err)
	}
	if op != OpBind {
		t.Fatalf("ReadOperation = %v, want %v", op, OpBind)
	}
}

func TestCodecReadOperationUnknownIsProtocolError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cc := NewCodec(client)
	go func() {
		io := NewCodec(server)
		io.WriteLine("NONSENSE")
	}()
	_, err := cc.ReadOperation()
	if err == nil {
		t.Fatal("expected protocol error")
	}
	if kind, ok := KindOf(err); !ok || kind != KindProtocol {
		t.Fatalf("expected KindProtocol, got %v (found=%v)", kind, ok)
	}
}

// TestSendAndWaitIsIdempotent verifies that a mismatched result does not
// advance protocol state: the server keeps re-sending the same operation
// until the expected result arrives, and the client sees the operation
// exactly as many times as it replied with the wrong result plus one.
func TestSendAndWaitIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewCodec(server)
	cc := NewCodec(client)

	done := make(chan error, 1)
	go func() {
		done <- sc.SendAndWait(OpBind, ResultOK)
	}()

	seen := 0
	for {
		op, err := cc.ReadOperation()
		if err != nil {
			t.Fatalf("ReadOperation: %v", err)
		}
		if op != OpBind {
			t.Fatalf("ReadOperation = %v, want %v", op, OpBind)
		}
		seen++
		if seen < 3 {
			if err := cc.WriteResult(ResultFail); err != nil {
				t.Fatalf("WriteResult: %v", err)
			}
			continue
		}
		if err := cc.WriteResult(ResultOK); err != nil {
			t.Fatalf("WriteResult: %v", err)
		}
		break
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendAndWait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendAndWait did not return")
	}
	if seen != 3 {
		t.Fatalf("operation was sent %d times, want 3", seen)
	}
}

func TestCodecReadLineTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	server.SetReadDeadline(time.Now().Add(10 * time.Millisecond))

	sc := NewCodec(server)
	_, err := sc.ReadLine()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v (found=%v)", kind, ok)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) {
		t.Fatal("expected the wrapped cause to still be a net.Error")
	}
}
