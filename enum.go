package wah

// enumState tags what a WordEnum is currently positioned on. The numeric
// order matters: bitwise operations dispatch on packed (state, state)
// pairs.
type enumState uint8

const (
	enumEnd enumState = iota
	enumPending
	enumLiteral
	enumRun
)

// WordEnum walks a Bitmap one 32-bit word at a time without expanding
// runs: while in a run, remainWords words share the current value and may
// be skipped in O(1). The reverse mask XORs every yielded word with all
// ones, so a consumer observes the bitwise complement without the bitmap
// being modified.
//
// A WordEnum is a weak borrow: the Bitmap must outlive it and must not be
// mutated while it is in use.
type WordEnum struct {
	bm          *Bitmap
	state       enumState
	pos         int
	remainWords uint32
	current     uint32
	reverse     uint32
}

// EnumWords returns a word enumerator positioned on the first word.
func (w *Bitmap) EnumWords(reverse bool) WordEnum {
	en := WordEnum{bm: w, state: enumEnd}
	if reverse {
		en.reverse = allOnes32
	}
	if w.len == 0 {
		en.current = en.reverse
		return en
	}
	if words := headerWords(w.data[0]); words > 0 {
		en.state = enumRun
		en.remainWords = uint32(words)
		if headerBit(w.data[0]) == 1 {
			en.current = allOnes32
		}
	} else if count := w.data[1]; count > 0 {
		en.state = enumLiteral
		en.pos = int(count) + 2
		en.remainWords = count
		en.current = w.data[2]
	} else {
		en.state = enumPending
		en.remainWords = 1
		en.current = w.pending
	}
	en.current ^= en.reverse
	return en
}

// Done reports whether the enumerator has yielded its last word.
func (en *WordEnum) Done() bool { return en.state == enumEnd }

// Word returns the current 32-bit word, XORed with the reverse mask.
func (en *WordEnum) Word() uint32 { return en.current }

// RunLen returns how many words, starting at the current one, remain in the
// current phase: inside a run they all share Word()'s value; inside a
// literal block they are the remaining literals; on the pending tail it is 1.
func (en *WordEnum) RunLen() uint32 { return en.remainWords }

// Next advances by one word; it returns false once the stream is over.
func (en *WordEnum) Next() bool {
	if en.remainWords != 1 {
		en.remainWords--
		if en.state == enumLiteral {
			en.current = en.bm.data[en.pos-int(en.remainWords)] ^ en.reverse
		}
		return true
	}

	switch en.state {
	case enumEnd:
		return false

	case enumPending:
		en.state = enumEnd
		en.current = en.reverse
		return false

	case enumRun:
		en.pos++
		en.remainWords = en.bm.data[en.pos]
		en.pos += 1 + int(en.remainWords)
		en.state = enumLiteral
		if en.remainWords != 0 {
			en.current = en.bm.data[en.pos-int(en.remainWords)] ^ en.reverse
			return true
		}
		return en.nextChunk()

	default: // enumLiteral
		return en.nextChunk()
	}
}

// nextChunk moves past an exhausted literal block: onto the next chunk's
// run, the pending tail, or the end of the stream.
func (en *WordEnum) nextChunk() bool {
	if en.pos == len(en.bm.data) {
		if en.bm.len%32 != 0 {
			en.state = enumPending
			en.remainWords = 1
			en.current = en.bm.pending ^ en.reverse
			return true
		}
		en.state = enumEnd
		en.current = en.reverse
		return false
	}
	// en.pos is left on the next chunk's header; it only advances once the
	// run part is consumed.
	en.state = enumRun
	en.remainWords = uint32(headerWords(en.bm.data[en.pos]))
	en.current = 0
	if headerBit(en.bm.data[en.pos]) == 1 {
		en.current = allOnes32
	}
	en.current ^= en.reverse
	return true
}

// Skip advances by n words in aggregate, clamping within the stream.
func (en *WordEnum) Skip(n uint32) bool {
	for n != 0 {
		switch en.state {
		case enumEnd:
			return false

		case enumPending:
			return en.Next()

		default:
			skippable := min(n, en.remainWords)
			n -= skippable
			// Skip the last word through Next so that the end of a run
			// selects the following block and a skip inside literals
			// reloads current.
			en.remainWords -= skippable - 1
			en.Next()
		}
	}
	return true
}

// Skip0 collapses contiguous all-zero words, advancing until the current
// word is non-zero or the stream ends; it returns the number of words
// skipped.
func (en *WordEnum) Skip0() uint32 {
	skipped := uint32(0)
	for en.current == 0 {
		switch en.state {
		case enumEnd:
			return skipped

		case enumPending:
			skipped++
			en.Next()
			return skipped

		case enumRun:
			skipped += en.remainWords
			en.remainWords = 1
			en.Next()

		case enumLiteral:
			skipped++
			en.Next()
		}
	}
	return skipped
}

// literalTail returns the not-yet-consumed words of the literal block the
// enumerator is positioned in, raw (not reverse-masked).
func (en *WordEnum) literalTail(n uint32) []uint32 {
	start := en.pos - int(en.remainWords)
	return en.bm.data[start : start+int(n)]
}

// BitEnum yields the positions of 1-bits in ascending order; started with
// reverse it yields the positions of 0-bits instead. Invariants while not
// done: currentWord is non-zero with its low bit set when remainBits fits
// in a word; when remainBits exceeds a word the enumerator is streaming a
// run of ones.
type BitEnum struct {
	wordEn      WordEnum
	key         uint64
	remainBits  uint64
	currentWord uint32
}

// EnumBits returns a bit enumerator positioned on the first 1-bit (0-bit
// when reverse is set). Use Valid/Key/Next to iterate.
func (w *Bitmap) EnumBits(reverse bool) BitEnum {
	en := BitEnum{wordEn: w.EnumWords(reverse)}
	if en.wordEn.state != enumEnd {
		en.currentWord = en.wordEn.current
		en.remainBits = 32
		if en.wordEn.state == enumPending {
			en.remainBits = w.len % 32
			en.currentWord &= maskLT(uint(en.remainBits))
		}
		en.scan()
	}
	return en
}

// Valid reports whether the enumerator is positioned on a bit.
func (en *BitEnum) Valid() bool { return en.wordEn.state != enumEnd }

// Key returns the position of the current bit.
func (en *BitEnum) Key() uint64 { return en.key }

// scanWord realigns to a word boundary and walks the word stream until a
// word with at least one interesting bit shows up, accumulating skipped
// positions into key.
func (en *BitEnum) scanWord() bool {
	en.key += en.remainBits
	for en.wordEn.Next() {
		en.currentWord = en.wordEn.current
		if en.wordEn.state == enumRun {
			if en.currentWord != 0 {
				en.remainBits = uint64(en.wordEn.remainWords) * 32
				en.wordEn.remainWords = 1
				return true
			}
			en.key += uint64(en.wordEn.remainWords) * 32
			en.wordEn.remainWords = 1
		} else {
			if en.wordEn.state == enumPending {
				en.remainBits = en.wordEn.bm.len % 32
				en.currentWord &= maskLT(uint(en.remainBits))
			} else {
				en.remainBits = 32
			}
			if en.currentWord != 0 {
				return true
			}
			en.key += 32
		}
	}
	return false
}

func (en *BitEnum) scan() {
	if en.currentWord == 0 && !en.scanWord() {
		return
	}
	if en.remainBits <= 32 {
		bit := uint(bsf(en.currentWord))
		en.key += uint64(bit)
		en.currentWord >>= bit
		en.remainBits -= uint64(bit)
	}
}

// Next advances to the following bit.
func (en *BitEnum) Next() {
	en.key++
	if en.remainBits <= 32 {
		en.currentWord >>= 1
	}
	en.remainBits--
	en.scan()
}

// Skip1s advances past toSkip bits, using popcount on literal and pending
// words and arithmetic on runs instead of per-bit stepping. It leaves the
// enumerator in the same state as toSkip successive Next calls.
func (en *BitEnum) Skip1s(toSkip uint64) {
	if toSkip == 0 {
		return
	}

loop:
	for toSkip > 0 {
		switch en.wordEn.state {
		case enumPending, enumLiteral:
			bits := uint64(popcount32(en.currentWord))
			if bits > toSkip {
				break loop
			}
			toSkip -= bits
			en.currentWord = 0

		case enumRun:
			bits := min(toSkip, en.remainBits)
			en.key += bits
			en.remainBits -= bits
			toSkip -= bits
			if en.remainBits < 32 {
				en.currentWord = maskLT(uint(en.remainBits))
			}
			if en.currentWord != 0 {
				return
			}

		case enumEnd:
			return
		}

		if !en.scanWord() {
			return
		}
	}

	en.scan()
	for toSkip > 0 && en.wordEn.state != enumEnd {
		en.Next()
		toSkip--
	}
}

// ForEach1 invokes fn with the position of every set bit, in order.
func (w *Bitmap) ForEach1(fn func(pos uint64)) {
	for en := w.EnumBits(false); en.Valid(); en.Next() {
		fn(en.Key())
	}
}

// ForEach0 invokes fn with the position of every clear bit, in order.
func (w *Bitmap) ForEach0(fn func(pos uint64)) {
	for en := w.EnumBits(true); en.Valid(); en.Next() {
		fn(en.Key())
	}
}
