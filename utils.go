package go_fvm

import (
	"encoding/binary"
	"regexp"
)

var clientChallengeRegex = regexp.MustCompile(clientChallengeSignalPattern)

// clientFromChallengeSignal extracts the client ECU name from a challenge
// signal name such as SOK_Zeit_ECU1_Challenge.
func clientFromChallengeSignal(signalName string) (string, bool) {
	m := clientChallengeRegex.FindStringSubmatch(signalName)
	if len(m) != 2 {
		return "", false
	}
	return m[1], true
}

// uint64ToBytes returns v as 8 big-endian bytes.
func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// bytesToUint64 interprets up to the last 8 bytes of b as a big-endian
// integer. Shorter inputs are treated as left-padded with zeros.
func bytesToUint64(b []byte) uint64 {
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// trimLeading drops the first n bytes of the big-endian form of v, keeping
// the low 8-n bytes.
func trimLeading(v uint64, n int) []byte {
	return uint64ToBytes(v)[n:]
}

// incrementByteArray increments b as a big-endian counter, wrapping silently
// from all 0xFF to all zero.
func incrementByteArray(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
