package go_fvm

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:4000", "127.0.0.1:4000", false},
		{"udp://127.0.0.1:4001", "127.0.0.1:4001", false},
		{"udp://127.0.0.1", "127.0.0.1:30490", false},
		{"tcp://127.0.0.1:1", "", true},
		{"no-port", "", true},
	}
	for _, tt := range tests {
		got, err := ResolveAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveAddr(%q) error = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("ResolveAddr(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func udpSignalTo(t *testing.T, name string, pdu PduId, bits uint32, start uint32, dest net.Addr) SignalConfig {
	t.Helper()
	addr := dest.(*net.UDPAddr)
	sig := testSignal(name, pdu, bits)
	sig.StartByte = start
	sig.Frame.DestinationIP = addr.IP.String()
	sig.Frame.DestinationPort = uint16(addr.Port)
	return sig
}

// TestUDPTransportRoundTrip tests that a published signal reaches a
// subscriber of another transport
func TestUDPTransportRoundTrip(t *testing.T) {
	rx, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport() error = %v", err)
	}
	defer rx.Close()
	tx, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport() error = %v", err)
	}
	defer tx.Close()

	value := udpSignalTo(t, sigECU1Value, 202, 56, 0, rx.LocalAddr())
	mac := udpSignalTo(t, sigECU1Signature, 202, 64, 7, rx.LocalAddr())

	got := make(chan []byte, 4)
	if err := rx.Subscribe(mac, func(_ string, v []byte) { got <- v }); err != nil {
		t.Fatal(err)
	}

	// Both signals share one PDU; the second publish carries the first one too.
	if err := tx.Publish(value, []byte{0, 0, 0, 0, 0, 0, 5}); err != nil {
		t.Fatalf("Publish(value) error = %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := tx.Publish(mac, want); err != nil {
		t.Fatalf("Publish(mac) error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-got:
			if bytes.Equal(v, want) {
				if tx.Breaker().State() != CircuitClosed {
					t.Errorf("breaker state = %s", tx.Breaker().State())
				}
				return
			}
		case <-deadline:
			t.Fatal("signal not received")
		}
	}
}

func TestUDPTransportRejects(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	sig := udpSignalTo(t, sigUnauth, 200, 64, 0, tr.LocalAddr())
	if err := tr.Subscribe(sig, nil); err == nil {
		t.Error("Subscribe() accepted a nil callback")
	}
	zero := sig
	zero.LengthInBits = 0
	if err := tr.Publish(zero, []byte{1}); err == nil {
		t.Error("Publish() accepted a zero length signal")
	}

	small := sig
	small.Frame.MaxPayloadSizeBytes = 10
	if err := tr.Publish(small, []byte{1}); err == nil {
		t.Error("Publish() accepted a PDU larger than the frame")
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestUDPTransportDropsMalformedDatagrams(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	called := false
	sig := udpSignalTo(t, sigUnauth, 200, 64, 0, tr.LocalAddr())
	_ = tr.Subscribe(sig, func(string, []byte) { called = true })

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	tr.dispatch([]byte{0, 0}, from)
	tr.dispatch([]byte{0, 0, 0, 200, 0, 0, 0, 50, 1, 2}, from)
	tr.dispatch([]byte{0, 0, 0, 200, 0, 0, 0, 2, 1, 2}, from)
	if called {
		t.Error("callback invoked for a malformed or short PDU")
	}

	tr.dispatch(append([]byte{0, 0, 0, 200, 0, 0, 0, 8}, uint64ToBytes(77)...), from)
	if !called {
		t.Error("callback not invoked for a valid PDU")
	}
}
