package go_fvm

import (
	"sync"
	"sync/atomic"
)

// datagramPool hands out receive buffers for PDU datagrams.
//
// Size classes:
//   - 64 bytes:   single freshness PDUs
//   - 1500 bytes: standard Ethernet MTU
//   - 9000 bytes: jumbo frames
type datagramPool struct {
	pool64   sync.Pool
	pool1500 sync.Pool
	pool9000 sync.Pool

	gets      uint64
	puts      uint64
	oversized uint64
}

func newDatagramPool() *datagramPool {
	mk := func(n int) func() interface{} {
		return func() interface{} {
			buf := make([]byte, n)
			return &buf
		}
	}
	return &datagramPool{
		pool64:   sync.Pool{New: mk(64)},
		pool1500: sync.Pool{New: mk(1500)},
		pool9000: sync.Pool{New: mk(9000)},
	}
}

// Get returns a buffer of length >= size.
func (p *datagramPool) Get(size int) []byte {
	atomic.AddUint64(&p.gets, 1)
	var bufPtr *[]byte
	switch {
	case size <= 64:
		bufPtr = p.pool64.Get().(*[]byte)
	case size <= 1500:
		bufPtr = p.pool1500.Get().(*[]byte)
	case size <= 9000:
		bufPtr = p.pool9000.Get().(*[]byte)
	default:
		atomic.AddUint64(&p.oversized, 1)
		return make([]byte, size)
	}
	return (*bufPtr)[:cap(*bufPtr)]
}

// Put returns buf to its size class. Buffers of foreign capacity are left to
// the garbage collector.
func (p *datagramPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	buf = buf[:cap(buf)]
	switch cap(buf) {
	case 64:
		p.pool64.Put(&buf)
	case 1500:
		p.pool1500.Put(&buf)
	case 9000:
		p.pool9000.Put(&buf)
	default:
		return
	}
	atomic.AddUint64(&p.puts, 1)
}

// DatagramPoolStats reports buffer pool usage.
type DatagramPoolStats struct {
	Gets      uint64
	Puts      uint64
	Oversized uint64
}

func (p *datagramPool) Stats() DatagramPoolStats {
	return DatagramPoolStats{
		Gets:      atomic.LoadUint64(&p.gets),
		Puts:      atomic.LoadUint64(&p.puts),
		Oversized: atomic.LoadUint64(&p.oversized),
	}
}
