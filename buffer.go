package bthal

import (
	"errors"
	"log/slog"
)

// BufferPool hands out the byte buffers that carry values across the
// stack boundary. The default pool allocates from the heap; tests
// substitute a counting pool to observe acquire/release balance.
type BufferPool interface {
	// Acquire returns a zeroed buffer of length n.
	Acquire(n int) ([]byte, error)
	// Release returns a buffer previously obtained from Acquire.
	Release(buf []byte)
}

// ErrAllocationFailure is returned by buffer pools that cannot satisfy
// an Acquire.
var ErrAllocationFailure = errors.New("bthal: buffer allocation failed")

type heapPool struct{}

func (heapPool) Acquire(n int) ([]byte, error) { return make([]byte, n), nil }
func (heapPool) Release([]byte)                {}

var defaultPool BufferPool = heapPool{}

// ScopedAddrBuffer carries a device address across the stack boundary
// for the duration of one call or callback scope. The backing buffer is
// acquired lazily on the first Reset and held until Clear or Close, so
// a scope that marshals several addresses pays for at most one
// acquisition.
//
// A ScopedAddrBuffer is owned by the scope that created it and is not
// safe for concurrent use.
type ScopedAddrBuffer struct {
	pool BufferPool
	log  *slog.Logger
	buf  []byte
}

// NewScopedAddrBuffer returns an empty scoped buffer drawing from pool.
// A nil pool uses plain heap allocation; a nil logger uses the slog
// default.
func NewScopedAddrBuffer(pool BufferPool, log *slog.Logger) *ScopedAddrBuffer {
	if pool == nil {
		pool = defaultPool
	}
	if log == nil {
		log = slog.Default()
	}
	return &ScopedAddrBuffer{pool: pool, log: log}
}

// ScopedAddrBufferFor returns a scoped buffer already holding addr.
func ScopedAddrBufferFor(pool BufferPool, log *slog.Logger, addr Address) *ScopedAddrBuffer {
	sb := NewScopedAddrBuffer(pool, log)
	sb.Reset(addr)
	return sb
}

// Reset fills the buffer with addr, acquiring backing storage if none
// is held yet. An acquisition failure is logged, leaves the buffer
// empty, and is returned for callers that need to know; the scope
// itself carries on.
func (sb *ScopedAddrBuffer) Reset(addr Address) error {
	if sb.buf == nil {
		buf, err := sb.pool.Acquire(len(addr))
		if err != nil {
			sb.log.Error("can't acquire buffer for device address", "err", err)
			return err
		}
		sb.buf = buf
	}
	copy(sb.buf, addr[:])
	return nil
}

// Clear releases the backing buffer, if any, and leaves the scoped
// buffer empty. A later Reset acquires a fresh buffer.
func (sb *ScopedAddrBuffer) Clear() {
	if sb.buf != nil {
		sb.pool.Release(sb.buf)
		sb.buf = nil
	}
}

// Get returns the held buffer, or nil if the scoped buffer is empty.
// It never acquires.
func (sb *ScopedAddrBuffer) Get() []byte {
	return sb.buf
}

// Close releases the backing buffer. It implements io.Closer so that a
// deferred call releases the buffer on every path out of the scope.
func (sb *ScopedAddrBuffer) Close() error {
	sb.Clear()
	return nil
}
