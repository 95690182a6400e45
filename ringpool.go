package wah

// RingPool is a region allocator whose frames may be released out of order;
// a frame's memory only becomes eligible for reuse once every frame older
// than it has also been released.
type RingPool struct {
	blocksHead *ringBlock
	cur        *ringBlock

	minSize int
	allocSz uint64
	allocNb uint32

	oldest *ringFrame
	newest *ringFrame
	cur_   *ringFrame // the "current" frame: the one NewFrame will arm next
	nextID int

	log Logger
}

// RingFlags controls allocation behavior for the ring pool.
type RingFlags uint8

const (
	// RingRaw skips the zero-fill normally applied to fresh allocations.
	RingRaw RingFlags = 1 << iota
)

type ringBlock struct {
	buf  []byte
	pos  int
	next *ringBlock
}

type ringFrame struct {
	id       int
	startBlk *ringBlock
	startOff int
	endBlk   *ringBlock
	endOff   int
	open     bool
	free     bool
	prev     *ringFrame
	next     *ringFrame
}

// RingCookie is an opaque handle to a ring-pool frame.
type RingCookie struct{ frame *ringFrame }

// RingCheckpoint is an opaque restart point produced by Checkpoint.
type RingCheckpoint struct {
	frame *ringFrame
	blk   *ringBlock
	pos   int
}

// RingPoolOptions configures NewRingPool.
type RingPoolOptions struct {
	InitialSize int
	Logger      Logger
}

// NewRingPool creates a ring pool with a single pristine unarmed frame.
func NewRingPool(opts RingPoolOptions) *RingPool {
	size := opts.InitialSize
	if size <= 0 {
		size = defaultStackMin
	}
	size = int(alignUp(uintptr(size), pageSize))

	log := opts.Logger
	if log == nil {
		log = NopLogger()
	}

	blk := &ringBlock{buf: make([]byte, size)}
	base := &ringFrame{id: 0, startBlk: blk, startOff: 0}

	return &RingPool{
		blocksHead: blk,
		cur:        blk,
		minSize:    size,
		oldest:     base,
		newest:     base,
		cur_:       base,
		nextID:     1,
		log:        log,
	}
}

func (p *RingPool) mean() uint64 {
	if p.allocNb == 0 {
		return 0
	}
	return p.allocSz / uint64(p.allocNb)
}

func (p *RingPool) reserve(size int) {
	newSz := p.allocSz + uint64(size)
	// The ring decays its running-mean estimate far more slowly than the
	// stack pool: only at counter saturation.
	if newSz < p.allocSz || p.allocNb >= 0xFFFFFFFF {
		p.allocSz /= 2
		p.allocNb /= 2
		newSz = p.allocSz + uint64(size)
	}
	p.allocSz = newSz
	p.allocNb++
}

// NewFrame arms the current frame so Alloc may be used; returns its cookie.
func (p *RingPool) NewFrame() RingCookie {
	p.cur_.open = true
	return RingCookie{p.cur_}
}

// GetFrame returns the current frame's cookie without arming it.
func (p *RingPool) GetFrame() RingCookie {
	return RingCookie{p.cur_}
}

// acquireBlock finds or creates a block with room for size bytes, refusing
// to destroy any block at or before the block holding the oldest live
// (non-free) frame's start.
func (p *RingPool) acquireBlock(size int) *ringBlock {
	threshold := maxInt(size, stackReclaimMult*int(p.mean()))

	blk := p.cur.next
	for blk != nil && blk != p.oldest.startBlk && len(blk.buf) < threshold {
		next := blk.next
		p.cur.next = next
		blk = next
	}
	if blk != nil && blk != p.oldest.startBlk {
		p.cur.next = blk
		blk.pos = 0
		return blk
	}

	needed := maxInt(p.minSize, stackBlockGrowMult*int(p.mean()))
	needed = maxInt(needed, size)
	if needed > maxAllocRequest {
		panic(ErrRequestedTooLarge)
	}
	needed = int(alignUp(uintptr(needed), pageSize))

	nb := &ringBlock{buf: make([]byte, needed)}
	nb.next = p.cur.next
	p.cur.next = nb
	return nb
}

// Alloc allocates within the current armed frame. Panics with
// missingFrame if no frame has been armed via NewFrame.
func (p *RingPool) Alloc(size int, flags RingFlags) []byte {
	if !p.cur_.open {
		panicMissingFrame("Alloc called without an armed frame")
	}
	if size < 0 || size > maxAllocRequest {
		panic(ErrRequestedTooLarge)
	}

	align := alignBoundary(uintptr(size))
	off := int(alignUp(uintptr(p.cur.pos), align))

	if off+size > len(p.cur.buf) {
		p.cur = p.acquireBlock(size)
		off = int(alignUp(uintptr(p.cur.pos), align))
	}

	end := off + size
	p.cur.pos = end
	p.reserve(size)

	region := p.cur.buf[off:end]
	if flags&RingRaw == 0 {
		clear(region)
	}
	return region
}

// Seal closes the current frame for further allocation and opens a new,
// unarmed frame after it. Returns the closed frame's cookie.
func (p *RingPool) Seal() RingCookie {
	closed := p.cur_
	closed.open = false
	closed.endBlk = p.cur
	closed.endOff = p.cur.pos

	next := &ringFrame{id: p.nextID, startBlk: p.cur, startOff: p.cur.pos, prev: p.newest}
	p.nextID++
	p.newest.next = next
	p.newest = next
	p.cur_ = next

	return RingCookie{closed}
}

// Release marks the frame freeable. Releasing the currently-armed frame
// resets it in place immediately; releasing the oldest live frame advances
// the reclamation frontier past any now-contiguous run of free frames;
// otherwise the frame is merely tagged free and its memory is reclaimed
// later, once every older frame has also been released.
func (p *RingPool) Release(cookie RingCookie) {
	f := cookie.frame

	if f == p.cur_ && f.open {
		f.open = false
		p.cur = f.startBlk
		p.cur.pos = f.startOff
		return
	}

	f.free = true
	p.reclaimFront()
}

func (p *RingPool) reclaimFront() {
	for p.oldest != nil && p.oldest.free && p.oldest != p.cur_ {
		p.oldest = p.oldest.next
		if p.oldest != nil {
			p.oldest.prev = nil
		}
	}
}

// Checkpoint records a restart point (the current frame, block and offset)
// in the returned value and seals the current frame. It makes a zero-byte
// allocation first, so it panics like Alloc when no frame is armed.
func (p *RingPool) Checkpoint() RingCheckpoint {
	_ = p.Alloc(0, RingRaw)
	cp := RingCheckpoint{frame: p.cur_, blk: p.cur, pos: p.cur.pos}
	p.Seal()
	return cp
}

// Rewind restores the pool's allocation cursor to a previously recorded
// checkpoint. Panics if the checkpoint's frame has since been released.
func (p *RingPool) Rewind(cp RingCheckpoint) {
	if cp.frame.free {
		panicInvalidCookie("ring checkpoint frame already released")
	}
	p.cur_ = cp.frame
	p.cur_.open = true
	p.cur = cp.blk
	p.cur.pos = cp.pos
}

// FrameSize returns the number of bytes allocated within the frame
// identified by cookie, for diagnostics and tests.
func (p *RingPool) FrameSize(cookie RingCookie) int {
	f := cookie.frame
	endBlk, endOff := f.endBlk, f.endOff
	if f == p.cur_ {
		endBlk, endOff = p.cur, p.cur.pos
	}
	if f.startBlk == endBlk {
		return endOff - f.startOff
	}
	total := len(f.startBlk.buf) - f.startOff
	for b := f.startBlk.next; b != nil; b = b.next {
		if b == endBlk {
			total += endOff
			break
		}
		total += len(b.buf)
	}
	return total
}

// LiveFrameCount reports how many frames (free or not) are still tracked
// between the reclamation frontier and the newest frame, for tests.
func (p *RingPool) LiveFrameCount() int {
	n := 0
	for f := p.oldest; f != nil; f = f.next {
		n++
	}
	return n
}

// Dump logs the block chain and frame bookkeeping for debugging.
func (p *RingPool) Dump(log Logger) {
	if log == nil {
		log = p.log
	}
	nblocks := 0
	for b := p.blocksHead; b != nil; b = b.next {
		nblocks++
	}
	log.Debugf("ringpool: live_frames=%d blocks=%d mean_alloc=%d cur_pos=%d/%d",
		p.LiveFrameCount(), nblocks, p.mean(), p.cur.pos, len(p.cur.buf))
}
