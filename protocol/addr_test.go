package protocol

import "testing"

func TestPackUnpackAddrRoundTrip(t *testing.T) {
	cases := []struct {
		ip   string
		port int
	}{
		{"127.0.0.1", 0},
		{"1.2.3.4", 29900},
		{"255.255.255.255", 65535},
	}
	for _, tc := range cases {
		packed, err := PackAddr(tc.ip, tc.port)
		if err != nil {
			t.Fatalf("PackAddr(%q, %d): %v", tc.ip, tc.port, err)
		}
		if len(packed) != AddrSize {
			t.Fatalf("PackAddr(%q, %d) returned %d bytes, want %d", tc.ip, tc.port, len(packed), AddrSize)
		}
		ip, port, err := UnpackAddr(packed)
		if err != nil {
			t.Fatalf("UnpackAddr: %v", err)
		}
		if ip != tc.ip || port != tc.port {
			t.Fatalf("round trip mismatch: got (%s, %d), want (%s, %d)", ip, port, tc.ip, tc.port)
		}
	}
}

func TestPackAddrRejectsNonIPv4(t *testing.T) {
	if _, err := PackAddr("::1", 1234); err == nil {
		t.Fatal("expected error packing an IPv6 address")
	}
}

func TestUnpackAddrWrongLength(t *testing.T) {
	_, _, err := UnpackAddr([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for short address")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindProtocol {
		t.Fatalf("expected KindProtocol, got %v (found=%v)", kind, ok)
	}
}

func TestIsZeroAddr(t *testing.T) {
	if !IsZeroAddr(ZeroAddr[:]) {
		t.Fatal("ZeroAddr should be recognized as zero")
	}
	packed, _ := PackAddr("1.2.3.4", 80)
	if IsZeroAddr(packed) {
		t.Fatal("non-zero address misclassified as zero")
	}
	if IsZeroAddr([]byte{0, 0, 0}) {
		t.Fatal("wrong-length input misclassified as zero")
	}
}
