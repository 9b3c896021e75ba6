package go_fvm

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const maxTracedSignals = 1000

// TracedSignal records one signal crossing the transport.
type TracedSignal struct {
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction"` // "SENT" or "RECEIVED"
	Signal    string    `json:"signal"`
	PduID     PduId     `json:"pdu_id"`
	Size      int       `json:"size"`
	Value     string    `json:"value"` // hex, first 64 bytes
	Error     string    `json:"error,omitempty"`
}

// SignalTracer wraps a SignalTransport and keeps a bounded log of every
// published and delivered signal. Tracing can be switched on and off at
// runtime; the wrapped transport is used either way.
type SignalTracer struct {
	next SignalTransport

	mu      sync.RWMutex
	enabled bool
	log     []TracedSignal
}

// NewSignalTracer wraps next. Tracing starts disabled.
func NewSignalTracer(next SignalTransport) *SignalTracer {
	return &SignalTracer{
		next: next,
		log:  make([]TracedSignal, 0, 64),
	}
}

func (t *SignalTracer) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
}

func (t *SignalTracer) Disable() {
	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()
}

func (t *SignalTracer) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Subscribe subscribes to next with a callback that records deliveries.
func (t *SignalTracer) Subscribe(sig SignalConfig, cb SignalCallback) error {
	if cb == nil {
		return t.next.Subscribe(sig, cb)
	}
	pdu := sig.Pdu.ID
	return t.next.Subscribe(sig, func(name string, value []byte) {
		t.record("RECEIVED", name, pdu, value, nil)
		cb(name, value)
	})
}

// Publish forwards to next and records the outcome.
func (t *SignalTracer) Publish(sig SignalConfig, value []byte) error {
	err := t.next.Publish(sig, value)
	t.record("SENT", sig.Name, sig.Pdu.ID, value, err)
	return err
}

func (t *SignalTracer) record(direction, name string, pdu PduId, value []byte, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	dump := value
	if len(dump) > 64 {
		dump = dump[:64]
	}
	entry := TracedSignal{
		Timestamp: time.Now(),
		Direction: direction,
		Signal:    name,
		PduID:     pdu,
		Size:      len(value),
		Value:     hex.EncodeToString(dump),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	t.log = append(t.log, entry)
	if len(t.log) > maxTracedSignals {
		t.log = t.log[len(t.log)-maxTracedSignals:]
	}
	Debug("[%s] signal %s (pdu %d): %d bytes", direction, name, pdu, len(value))
}

// Recent returns up to limit of the most recent entries, oldest first. A
// limit of zero or less returns all of them.
func (t *SignalTracer) Recent(limit int) []TracedSignal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || limit > len(t.log) {
		limit = len(t.log)
	}
	out := make([]TracedSignal, limit)
	copy(out, t.log[len(t.log)-limit:])
	return out
}

// Report renders the last twenty entries.
func (t *SignalTracer) Report() string {
	if !t.IsEnabled() {
		return "Signal tracing is disabled"
	}
	recent := t.Recent(20)
	var b strings.Builder
	b.WriteString("=== Signal Trace ===\n")
	for _, e := range recent {
		fmt.Fprintf(&b, "  [%s] %-8s %s (pdu %d, %d bytes) %s",
			e.Timestamp.Format("15:04:05.000"), e.Direction, e.Signal, e.PduID, e.Size, e.Value)
		if e.Error != "" {
			fmt.Fprintf(&b, " error=%s", e.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
