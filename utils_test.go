package go_fvm

import (
	"bytes"
	"testing"
)

func TestClientFromChallengeSignal(t *testing.T) {
	tests := []struct {
		signal string
		client string
		ok     bool
	}{
		{"SOK_Zeit_ECU1_Challenge", "ECU1", true},
		{"SOK_Zeit_Gateway_2_Challenge", "Gateway_2", true},
		{"SOK_Zeit_Unauth", "", false},
		{"CR_Challenge_10", "", false},
	}
	for _, tt := range tests {
		client, ok := clientFromChallengeSignal(tt.signal)
		if client != tt.client || ok != tt.ok {
			t.Errorf("clientFromChallengeSignal(%q) = %q, %t; want %q, %t", tt.signal, client, ok, tt.client, tt.ok)
		}
	}
}

func TestByteConversions(t *testing.T) {
	if got := uint64ToBytes(56454); !bytes.Equal(got, []byte{0, 0, 0, 0, 0, 0, 0xDC, 0x86}) {
		t.Errorf("uint64ToBytes(56454) = %x", got)
	}
	if got := bytesToUint64([]byte{0xDC, 0x86}); got != 56454 {
		t.Errorf("bytesToUint64(dc86) = %d, want 56454", got)
	}
	if got := bytesToUint64([]byte{0xAA, 0, 0, 0, 0, 0, 0, 0, 1}); got != 1 {
		t.Errorf("bytesToUint64 of 9 bytes = %d, want 1", got)
	}
	if got := trimLeading(SOK_UPSTART_TIME, 1); !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 7)) {
		t.Errorf("trimLeading(upstart, 1) = %x", got)
	}
}

func TestIncrementByteArray(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte{0x00}, []byte{0x01}},
		{[]byte{0xFF}, []byte{0x00}},
		{[]byte{0x00, 0xFF}, []byte{0x01, 0x00}},
		{[]byte{0xFF, 0xFF}, []byte{0x00, 0x00}},
		{[]byte{}, []byte{}},
	}
	for _, tt := range tests {
		b := cloneBytes(tt.in)
		incrementByteArray(b)
		if !bytes.Equal(b, tt.want) {
			t.Errorf("incrementByteArray(%x) = %x, want %x", tt.in, b, tt.want)
		}
	}
}

func TestAbsInt64(t *testing.T) {
	if absInt64(-30) != 30 || absInt64(30) != 30 || absInt64(0) != 0 {
		t.Error("absInt64 returned a wrong magnitude")
	}
}
