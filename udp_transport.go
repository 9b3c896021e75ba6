package go_fvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

// UDP framing
//
// Every datagram carries one PDU:
//
//	+----------------+----------------+------------------+
//	| pdu_id (u32 BE)| length (u32 BE)| payload (length) |
//	+----------------+----------------+------------------+
//
// Signals sit inside the payload at start_byte and are byte aligned.

const (
	pduHeaderSize      = 8
	maxDatagramSize    = 9000
	defaultFvmUDPPort  = "30490"
	udpBreakerFailures = 5
	udpBreakerReset    = time.Second
)

// ResolveAddr resolves a listen or destination address. Accepted forms are
// "host:port", "udp://host:port" and "udp://host" (default port 30490).
func ResolveAddr(address string) (*net.UDPAddr, error) {
	if u, err := url.Parse(address); err != nil || u.Scheme == "" || u.Host == "" {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("invalid udp address %q: %w", address, err)
		}
		address = "udp://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "udp" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	port := u.Port()
	if port == "" {
		port = defaultFvmUDPPort
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(u.Hostname(), port))
}

type udpSubscription struct {
	sig SignalConfig
	cb  SignalCallback
}

// UDPTransport carries PDUs as UDP datagrams. Publishing a signal updates
// the cached image of its PDU and sends the whole PDU to the frame's
// destination. The reader goroutine dispatches every subscribed signal of a
// received PDU.
type UDPTransport struct {
	conn    *net.UDPConn
	breaker *CircuitBreaker
	pool    *datagramPool

	mu     sync.RWMutex
	subs   map[PduId][]udpSubscription
	images map[PduId][]byte

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewUDPTransport binds listen and starts the reader goroutine.
func NewUDPTransport(listen string) (*UDPTransport, error) {
	addr, err := ResolveAddr(listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("fvm: failed to listen on %s: %w", addr, err)
	}
	t := &UDPTransport{
		conn:    conn,
		breaker: NewCircuitBreaker("udp:"+conn.LocalAddr().String(), udpBreakerFailures, udpBreakerReset),
		pool:    newDatagramPool(),
		subs:    make(map[PduId][]udpSubscription),
		images:  make(map[PduId][]byte),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	Debug("UDP transport listening on %s", conn.LocalAddr())
	return t, nil
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Subscribe registers cb for the signal's PDU.
func (t *UDPTransport) Subscribe(sig SignalConfig, cb SignalCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for signal %s", sig.Name)
	}
	if sig.LengthBytes() == 0 {
		return fmt.Errorf("signal %s has zero length", sig.Name)
	}
	t.mu.Lock()
	t.subs[sig.Pdu.ID] = append(t.subs[sig.Pdu.ID], udpSubscription{sig: sig, cb: cb})
	t.mu.Unlock()
	log.WithFields(logger.Fields{
		"signal": sig.Name,
		"pdu_id": sig.Pdu.ID,
	}).Debug("Subscribed to UDP signal")
	return nil
}

// Publish writes value into the signal's PDU image and sends the PDU.
func (t *UDPTransport) Publish(sig SignalConfig, value []byte) error {
	width := sig.LengthBytes()
	if width == 0 {
		return fmt.Errorf("signal %s has zero length", sig.Name)
	}
	field, err := encodeSignal(value, width)
	if err != nil {
		return fmt.Errorf("signal %s: %w", sig.Name, err)
	}
	dest, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(sig.Frame.DestinationIP, strconv.Itoa(int(sig.Frame.DestinationPort))))
	if err != nil {
		return fmt.Errorf("signal %s: %w", sig.Name, err)
	}

	end := int(sig.StartByte) + width
	t.mu.Lock()
	image := t.images[sig.Pdu.ID]
	size := max(int(sig.Pdu.LengthBytes), end)
	if len(image) < size {
		grown := make([]byte, size)
		copy(grown, image)
		image = grown
	}
	copy(image[sig.StartByte:end], field)
	t.images[sig.Pdu.ID] = image
	datagram := make([]byte, pduHeaderSize+len(image))
	binary.BigEndian.PutUint32(datagram[0:4], sig.Pdu.ID)
	binary.BigEndian.PutUint32(datagram[4:8], uint32(len(image)))
	copy(datagram[pduHeaderSize:], image)
	t.mu.Unlock()

	if sig.Frame.MaxPayloadSizeBytes > 0 && len(datagram) > int(sig.Frame.MaxPayloadSizeBytes) {
		return fmt.Errorf("pdu %s of %d bytes exceeds frame %s payload %d",
			sig.Pdu.Name, len(datagram), sig.Frame.Name, sig.Frame.MaxPayloadSizeBytes)
	}

	return t.breaker.Execute(func() error {
		_, err := t.conn.WriteToUDP(datagram, dest)
		return err
	})
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	for {
		buf := t.pool.Get(maxDatagramSize)
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.pool.Put(buf)
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("UDP read failed")
			continue
		}
		t.dispatch(buf[:n], from)
		t.pool.Put(buf)
	}
}

func (t *UDPTransport) dispatch(datagram []byte, from *net.UDPAddr) {
	if len(datagram) < pduHeaderSize {
		Debug("Dropping short datagram of %d bytes from %s", len(datagram), from)
		return
	}
	pduID := binary.BigEndian.Uint32(datagram[0:4])
	length := binary.BigEndian.Uint32(datagram[4:8])
	payload := datagram[pduHeaderSize:]
	if uint64(length) > uint64(len(payload)) {
		log.WithFields(logger.Fields{
			"pdu_id": pduID,
			"length": length,
			"from":   from,
		}).Warn("Dropping truncated PDU")
		return
	}
	payload = payload[:length]

	t.mu.RLock()
	subs := append([]udpSubscription(nil), t.subs[pduID]...)
	t.mu.RUnlock()

	for _, s := range subs {
		end := int(s.sig.StartByte) + s.sig.LengthBytes()
		if end > len(payload) {
			continue
		}
		s.cb(s.sig.Name, decodeSignal(payload[s.sig.StartByte:end]))
	}
}

// Close stops the reader and releases the socket.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

// Breaker exposes the send path circuit breaker.
func (t *UDPTransport) Breaker() *CircuitBreaker {
	return t.breaker
}
