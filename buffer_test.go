package bthal

import (
	"bytes"
	"testing"
)

// countPool counts acquisitions and releases, and can be told to fail.
type countPool struct {
	acquires int
	releases int
	fail     bool
}

func (p *countPool) Acquire(n int) ([]byte, error) {
	if p.fail {
		return nil, ErrAllocationFailure
	}
	p.acquires++
	return make([]byte, n), nil
}

func (p *countPool) Release(buf []byte) {
	p.releases++
}

func TestScopedAddrBufferLazyAcquire(t *testing.T) {
	pool := &countPool{}
	sb := NewScopedAddrBuffer(pool, nil)
	if sb.Get() != nil {
		t.Errorf("expected nil buffer before first Reset")
	}
	if pool.acquires != 0 {
		t.Errorf("expected no acquisition before first Reset, got %d", pool.acquires)
	}

	addr := Address{1, 2, 3, 4, 5, 6}
	if err := sb.Reset(addr); err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if !bytes.Equal(sb.Get(), addr[:]) {
		t.Errorf("expected %v but got %v", addr[:], sb.Get())
	}

	// A second Reset refills in place without another acquisition.
	addr2 := Address{6, 5, 4, 3, 2, 1}
	if err := sb.Reset(addr2); err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if !bytes.Equal(sb.Get(), addr2[:]) {
		t.Errorf("expected %v but got %v", addr2[:], sb.Get())
	}
	if pool.acquires != 1 {
		t.Errorf("expected exactly one acquisition, got %d", pool.acquires)
	}
}

func TestScopedAddrBufferRelease(t *testing.T) {
	pool := &countPool{}
	sb := ScopedAddrBufferFor(pool, nil, Address{1, 2, 3, 4, 5, 6})
	if sb.Get() == nil {
		t.Fatalf("expected a held buffer")
	}

	sb.Clear()
	if sb.Get() != nil {
		t.Errorf("expected nil buffer after Clear")
	}
	if pool.releases != 1 {
		t.Errorf("expected one release, got %d", pool.releases)
	}

	// Close after Clear must not release again.
	if err := sb.Close(); err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if pool.releases != 1 {
		t.Errorf("expected still one release, got %d", pool.releases)
	}
}

func TestScopedAddrBufferCloseReleases(t *testing.T) {
	pool := &countPool{}
	func() {
		sb := ScopedAddrBufferFor(pool, nil, Address{1, 2, 3, 4, 5, 6})
		defer sb.Close()
		sb.Reset(Address{9, 9, 9, 9, 9, 9})
	}()
	if pool.acquires != 1 || pool.releases != 1 {
		t.Errorf("expected one acquire and one release, got %d and %d", pool.acquires, pool.releases)
	}
}

func TestScopedAddrBufferAcquireFailure(t *testing.T) {
	pool := &countPool{fail: true}
	sb := NewScopedAddrBuffer(pool, nil)
	if err := sb.Reset(Address{1, 2, 3, 4, 5, 6}); err != ErrAllocationFailure {
		t.Fatalf("expected ErrAllocationFailure but got %v", err)
	}
	if sb.Get() != nil {
		t.Errorf("expected nil buffer after failed acquisition")
	}

	// The failure is not sticky: once the pool recovers, Reset works.
	pool.fail = false
	if err := sb.Reset(Address{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if sb.Get() == nil {
		t.Errorf("expected a held buffer after recovery")
	}
	sb.Clear()
}
