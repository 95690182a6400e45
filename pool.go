package wah

import "sync"

// defaultPoolIdle bounds how many idle bitmaps a BitmapPool keeps before it
// starts letting the garbage collector reclaim the rest.
const defaultPoolIdle = 16

// BitmapPool recycles Bitmap builders so repeated query evaluation doesn't
// keep re-growing the underlying []uint32 data slice from scratch.
type BitmapPool struct {
	mu      sync.Mutex
	free    []*Bitmap
	maxIdle int
}

// NewBitmapPool returns a pool that keeps up to maxIdle bitmaps on hand.
// maxIdle <= 0 defaults to 16.
func NewBitmapPool(maxIdle int) *BitmapPool {
	if maxIdle <= 0 {
		maxIdle = defaultPoolIdle
	}
	return &BitmapPool{maxIdle: maxIdle}
}

// Acquire returns a reset, ready-to-use Bitmap, reusing one from the pool
// when available.
func (p *BitmapPool) Acquire() *Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		return b
	}
	return NewBitmap()
}

// Release resets b and returns it to the pool, subject to maxIdle.
func (p *BitmapPool) Release(b *Bitmap) {
	b.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxIdle {
		return
	}
	p.free = append(p.free, b)
}

// defaultBitmapPool backs AcquireBitmap/ReleaseBitmap, the pool used for
// operation results when the caller does not supply a destination.
var defaultBitmapPool = NewBitmapPool(defaultPoolIdle)

// AcquireBitmap returns a reset bitmap from the shared pool.
func AcquireBitmap() *Bitmap { return defaultBitmapPool.Acquire() }

// ReleaseBitmap returns b to the shared pool.
func ReleaseBitmap(b *Bitmap) { defaultBitmapPool.Release(b) }

// Scratch region allocators. Go has no supported public API for real
// thread-local storage, so per-goroutine scratch pools are modeled with
// sync.Pool instead: Get/Put already key naturally per-P, giving the same
// "usually reuse your own, occasionally borrow someone else's" behavior a
// TLS pool would.

var scratchStackPools = sync.Pool{
	New: func() any { return NewStackPool(StackPoolOptions{}) },
}

var scratchRingPools = sync.Pool{
	New: func() any { return NewRingPool(RingPoolOptions{}) },
}

// ScratchStackPool borrows a StackPool for the duration of one call,
// returning it (rewound to its base frame) to the pool when done is
// invoked.
func ScratchStackPool() (p *StackPool, done func()) {
	p = scratchStackPools.Get().(*StackPool)
	return p, func() {
		p.Rewind(StackCookie{})
		scratchStackPools.Put(p)
	}
}

// ScratchRingPool borrows a RingPool for the duration of one call,
// returning it to the pool when done is invoked. Any frames the caller
// left open or unreleased are the caller's responsibility to clean up
// first; ScratchRingPool does not rewind the ring.
func ScratchRingPool() (p *RingPool, done func()) {
	p = scratchRingPools.Get().(*RingPool)
	return p, func() {
		scratchRingPools.Put(p)
	}
}
