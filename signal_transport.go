package go_fvm

import (
	"fmt"
	"sync"

	"github.com/go-i2p/logger"
)

// SignalCallback receives a signal name and its decoded value. Callbacks run
// synchronously on the transport's delivery goroutine and must not block.
type SignalCallback func(signalName string, value []byte)

// SignalTransport publishes and subscribes named signals on the vehicle
// network.
type SignalTransport interface {
	Subscribe(sig SignalConfig, cb SignalCallback) error
	Publish(sig SignalConfig, value []byte) error
}

// Values of at most eight bytes travel as a big-endian integer and are
// delivered as exactly eight bytes; longer values travel as a raw buffer.
const maxIntegerSignalBytes = 8

// encodeSignal lays value into a signal field of width bytes.
func encodeSignal(value []byte, width int) ([]byte, error) {
	if len(value) > maxIntegerSignalBytes {
		if len(value) > width {
			return nil, fmt.Errorf("value of %d bytes exceeds signal width %d", len(value), width)
		}
		out := make([]byte, width)
		copy(out, value)
		return out, nil
	}
	v := bytesToUint64(value)
	full := uint64ToBytes(v)
	if width >= maxIntegerSignalBytes {
		out := make([]byte, width)
		copy(out[width-maxIntegerSignalBytes:], full)
		return out, nil
	}
	if width > 0 && v>>(8*uint(width)) != 0 {
		return nil, fmt.Errorf("value %d does not fit into %d bytes", v, width)
	}
	return full[maxIntegerSignalBytes-width:], nil
}

// decodeSignal normalizes a received signal field.
func decodeSignal(field []byte) []byte {
	if len(field) <= maxIntegerSignalBytes {
		return uint64ToBytes(bytesToUint64(field))
	}
	return cloneBytes(field)
}

// LoopbackTransport is an in-process signal bus keyed by signal name.
// Publish delivers to every subscriber of the name on the caller's
// goroutine.
type LoopbackTransport struct {
	mu          sync.RWMutex
	subscribers map[string][]SignalCallback
	published   map[string][]byte
	publishHook func(sig SignalConfig, value []byte) error
}

// NewLoopbackTransport creates an empty bus.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		subscribers: make(map[string][]SignalCallback),
		published:   make(map[string][]byte),
	}
}

// Subscribe registers cb for the signal name.
func (l *LoopbackTransport) Subscribe(sig SignalConfig, cb SignalCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for signal %s", sig.Name)
	}
	l.mu.Lock()
	l.subscribers[sig.Name] = append(l.subscribers[sig.Name], cb)
	l.mu.Unlock()
	log.WithField("signal", sig.Name).Debug("Subscribed to loopback signal")
	return nil
}

// Publish encodes value and delivers it to every subscriber.
func (l *LoopbackTransport) Publish(sig SignalConfig, value []byte) error {
	l.mu.RLock()
	hook := l.publishHook
	l.mu.RUnlock()
	if hook != nil {
		if err := hook(sig, value); err != nil {
			return err
		}
	}

	var delivered []byte
	if len(value) > maxIntegerSignalBytes {
		delivered = cloneBytes(value)
	} else {
		delivered = uint64ToBytes(bytesToUint64(value))
	}

	l.mu.Lock()
	l.published[sig.Name] = delivered
	subs := append([]SignalCallback(nil), l.subscribers[sig.Name]...)
	l.mu.Unlock()

	log.WithFields(logger.Fields{
		"signal":      sig.Name,
		"bytes":       len(value),
		"subscribers": len(subs),
	}).Debug("Publishing loopback signal")
	for _, cb := range subs {
		cb(sig.Name, cloneBytes(delivered))
	}
	return nil
}

// Inject delivers a raw value to the subscribers of name as if it had been
// received from the network. No encoding is applied.
func (l *LoopbackTransport) Inject(name string, value []byte) {
	l.mu.RLock()
	subs := append([]SignalCallback(nil), l.subscribers[name]...)
	l.mu.RUnlock()
	for _, cb := range subs {
		cb(name, cloneBytes(value))
	}
}

// LastPublished returns the last value published on name.
func (l *LoopbackTransport) LastPublished(name string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.published[name]
	return cloneBytes(v), ok
}

// SetPublishHook installs a function run before every publish. A non-nil
// error from the hook fails the publish without delivering.
func (l *LoopbackTransport) SetPublishHook(hook func(sig SignalConfig, value []byte) error) {
	l.mu.Lock()
	l.publishHook = hook
	l.mu.Unlock()
}
