package wah

// Bitwise operations stream both operands through word enumerators and
// emit straight into the reset destination, so whole runs cost a single
// word read. The destination is snapshotted into a borrowed scratch stack
// frame first because it is also an operand.

// stackDup snapshots src into a scratch duplicate whose word buffer lives
// in the caller's stack-pool frame; the duplicate is read-only and dies
// with the frame.
func stackDup(sp *StackPool, src *Bitmap) *Bitmap {
	words := sp.AllocWords(len(src.data))
	copy(words, src.data)
	return &Bitmap{
		len:            src.len,
		active:         src.active,
		pending:        src.pending,
		data:           words,
		lastRunPos:     src.lastRunPos,
		previousRunPos: src.previousRunPos,
	}
}

// And computes w &= other. Bits past the shorter operand's length count
// as zero; the result length is the longer of the two.
func (w *Bitmap) And(other *Bitmap) { w.and(other, false, false) }

// AndNot computes w &^= other.
func (w *Bitmap) AndNot(other *Bitmap) { w.and(other, false, true) }

// NotAnd computes w = ^w & other.
func (w *Bitmap) NotAnd(other *Bitmap) { w.and(other, true, false) }

func pair(a, b enumState) int { return int(a) | int(b)<<2 }

// remainRun is the number of whole words separating the bitmap under
// construction from the end of the longer operand, capped at the maximum
// run length; it stands in for an exhausted enumerator's run length.
func remainRun(long, dst *Bitmap) uint32 {
	return uint32(min((long.len-dst.len)/32, maxRunWords))
}

func (w *Bitmap) and(other *Bitmap, wNot, otherNot bool) {
	sp, done := ScratchStackPool()
	defer done()
	sp.Push()

	src := stackDup(sp, w)
	srcEn := src.EnumWords(wNot)
	otherEn := other.EnumWords(otherNot)

	w.Reset()
	for srcEn.state != enumEnd || otherEn.state != enumEnd {
		if srcEn.state == enumEnd {
			srcEn.remainWords = remainRun(other, w)
		} else if otherEn.state == enumEnd {
			otherEn.remainWords = remainRun(src, w)
		}

		switch pair(srcEn.state, otherEn.state) {
		case pair(enumEnd, enumPending),
			pair(enumPending, enumEnd),
			pair(enumPending, enumPending):
			w.len = max(src.len, other.len)
			w.pending = srcEn.current & otherEn.current
			w.active += uint64(popcount32(w.pending))
			srcEn.Next()
			otherEn.Next()

		case pair(enumRun, enumLiteral),
			pair(enumEnd, enumLiteral):
			if srcEn.current != 0 {
				w.copyRun(&srcEn, &otherEn)
			} else {
				w.push0Run(&srcEn, &otherEn, srcEn.remainWords)
			}

		case pair(enumLiteral, enumRun),
			pair(enumLiteral, enumEnd):
			if otherEn.current != 0 {
				w.copyRun(&otherEn, &srcEn)
			} else {
				w.push0Run(&srcEn, &otherEn, otherEn.remainWords)
			}

		case pair(enumRun, enumRun),
			pair(enumEnd, enumRun),
			pair(enumRun, enumEnd):
			if srcEn.current == 0 || otherEn.current == 0 {
				run := uint32(0)
				if otherEn.current == 0 {
					run = otherEn.remainWords
				}
				if srcEn.current == 0 && srcEn.remainWords > run {
					run = srcEn.remainWords
				}
				w.push0Run(&srcEn, &otherEn, run)
			} else {
				w.push1Run(&srcEn, &otherEn, min(srcEn.remainWords, otherEn.remainWords))
			}

		default:
			// literal vs literal/pending: one combined word at a time.
			w.len += 32
			w.pending = srcEn.current & otherEn.current
			w.active += uint64(popcount32(w.pending))
			w.pushPending(1)
			srcEn.Next()
			otherEn.Next()
		}
	}

	if w.len != max(src.len, other.len) {
		panicInvariantViolation("and: bad result length")
	}
	srcActive, otherActive := src.active, other.active
	if wNot {
		srcActive = max(src.len, other.len) - src.active
	}
	if otherNot {
		otherActive = max(src.len, other.len) - other.active
	}
	if w.active > min(srcActive, otherActive) {
		panicInvariantViolation("and: more active bits than either operand")
	}
}

func (w *Bitmap) push0Run(a, b *WordEnum, run uint32) {
	w.pending = 0
	w.len += uint64(run) * 32
	w.pushPending(uint64(run))
	a.Skip(run)
	b.Skip(run)
}

func (w *Bitmap) push1Run(a, b *WordEnum, run uint32) {
	w.pending = allOnes32
	w.len += uint64(run) * 32
	w.active += uint64(run) * 32
	w.pushPending(uint64(run))
	a.Skip(run)
	b.Skip(run)
}

// copyRun handles a one-run meeting a literal block: min(run, literals)
// words of the literal side pass through verbatim. The first word goes
// through pushPending in case it is trivial and must merge with the last
// run; the rest are appended in bulk.
func (w *Bitmap) copyRun(run, data *WordEnum) {
	count := min(run.remainWords, data.remainWords)
	run.Skip(count)

	if data.current == 0 || data.current == allOnes32 {
		w.pending = data.current
		w.active += uint64(popcount32(data.current))
		w.len += 32
		w.pushPending(1)
		data.Next()
		count--
	}
	if count > 0 {
		words := data.literalTail(count)
		w.flattenLastRun()
		w.data[w.lastRunPos+1] += count
		for _, v := range words {
			v ^= data.reverse
			w.data = append(w.data, v)
			w.active += uint64(popcount32(v))
		}
		data.Skip(count)
		w.len += uint64(count) * 32
	}
}

// addEn appends up to `words` whole words from en to w, padding with
// zeros once en is exhausted.
func (w *Bitmap) addEn(en *WordEnum, words uint64) {
	for en.state != enumEnd && words > 0 {
		toRead := uint32(min(words, uint64(en.remainWords)))

		switch en.state {
		case enumLiteral:
			for _, v := range en.literalTail(toRead) {
				w.AddWord(v ^ en.reverse)
			}

		case enumPending:
			w.AddWord(en.current)

		case enumRun:
			if en.current != 0 {
				w.Add1s(uint64(toRead) * 32)
			} else {
				w.Add0s(uint64(toRead) * 32)
			}
		}

		words -= uint64(toRead)
		en.Skip(toRead)
	}
	if words > 0 {
		w.Add0s(words * 32)
	}
}

// enumWeight ranks an enumerator for multi-way OR dispatch: a one-run
// dominates everything (longer is heavier), literals and pending come
// next, and a zero-run is lightest (longer is lighter, since a long
// zero-run constrains the output the least).
func enumWeight(en *WordEnum) uint64 {
	switch en.state {
	case enumRun:
		if en.current != 0 {
			return 0xff00000000 | uint64(en.remainWords)
		}
		return 0xffffffff - uint64(en.remainWords)
	case enumLiteral, enumPending:
		return 0x0100000000 | uint64(en.remainWords)
	}
	return 0
}

const (
	orFlagRun0    = 0
	orFlagLiteral = 1
	orFlagRun1    = 0xff
)

const orBufferWords = 1024

// Or computes w |= other.
func (w *Bitmap) Or(other *Bitmap) {
	sp, done := ScratchStackPool()
	defer done()
	sp.Push()

	MultiOr([]*Bitmap{stackDup(sp, w), other}, w)
}

// MultiOr unions any number of bitmaps into dest (acquired from the
// bitmap pool when nil) and returns it. Each round it picks the heaviest
// enumerator: facing a zero-run runner-up the heaviest passes through
// verbatim, a heaviest one-run is emitted whole, and otherwise a staging
// buffer accumulates the OR across all operands slot by slot, each slot
// tracking whether it is still a zero-run, a literal, or saturated to a
// one-run, before being re-compressed by scanning runs of equal flag.
func MultiOr(srcs []*Bitmap, dest *Bitmap) *Bitmap {
	if dest == nil {
		dest = AcquireBitmap()
	} else {
		dest.Reset()
	}

	var expLen uint64
	backing := make([]WordEnum, len(srcs))
	enums := make([]*WordEnum, 0, len(srcs))
	for i, src := range srcs {
		expLen = max(expLen, src.len)
		backing[i] = src.EnumWords(false)
		if backing[i].state != enumEnd {
			enums = append(enums, &backing[i])
		}
	}

	if len(enums) == 1 {
		dest.CopyFrom(enums[0].bm)
		return dest
	}

	var buffer [orBufferWords]uint32
	var flags [orBufferWords]byte

	// consumeAll advances every enumerator but skipFirst by amount and
	// compacts away the ones that reach the end.
	consumeAll := func(amount uint32, skipFirst *WordEnum) {
		for i := 0; i < len(enums); {
			en := enums[i]
			if en != skipFirst {
				en.Skip(amount)
			}
			if en.state == enumEnd {
				enums[i] = enums[len(enums)-1]
				enums = enums[:len(enums)-1]
			} else {
				i++
			}
		}
	}

	for len(enums) > 0 {
		var first, second *WordEnum
		var firstWeight, secondWeight uint64
		for _, en := range enums {
			weight := enumWeight(en)
			if first == nil || weight > firstWeight {
				second, secondWeight = first, firstWeight
				first, firstWeight = en, weight
			} else if second == nil || weight > secondWeight {
				second, secondWeight = en, weight
			}
		}

		if second != nil && second.state == enumRun && second.current == 0 {
			// Everything but the heaviest is buried under a zero-run at
			// least this long: the heaviest passes through verbatim.
			dest.addEn(first, uint64(second.remainWords))
			consumeAll(second.remainWords, first)
			continue
		}
		if len(enums) == 1 && first.state != enumPending {
			toConsume := (first.bm.len - dest.len) / 32
			dest.addEn(first, toConsume)
			if first.state == enumEnd {
				enums = enums[:0]
			}
			continue
		}
		if first.state == enumRun {
			// Heaviest is a one-run (a zero-run heaviest implies a
			// zero-run runner-up, handled above).
			if first.current != 0 {
				dest.Add1s(uint64(first.remainWords) * 32)
			} else {
				dest.Add0s(uint64(first.remainWords) * 32)
			}
			consumeAll(first.remainWords, nil)
			continue
		}

		// Staging round: OR every operand into the buffer slot by slot.
		clear(flags[:])
		var bits uint32
		for i := 0; i < len(enums); {
			en := enums[i]
			remain := uint32(orBufferWords)
			var enBits, bufPos uint32

			for en.state != enumEnd && remain > 0 {
				toConsume := min(remain, en.remainWords)

				switch en.state {
				case enumLiteral:
					for j, v := range en.literalTail(toConsume) {
						slot := bufPos + uint32(j)
						if flags[slot] == orFlagRun1 {
							continue
						}
						if flags[slot] == orFlagRun0 {
							buffer[slot] = v
							flags[slot] = orFlagLiteral
						} else {
							buffer[slot] |= v
						}
						if buffer[slot] == allOnes32 {
							flags[slot] = orFlagRun1
						}
					}
					enBits += toConsume * 32

				case enumRun:
					if en.current != 0 {
						for j := uint32(0); j < toConsume; j++ {
							flags[bufPos+j] = orFlagRun1
						}
					}
					enBits += toConsume * 32

				case enumPending:
					if flags[bufPos] != orFlagRun1 {
						if flags[bufPos] == orFlagRun0 {
							buffer[bufPos] = en.current
							flags[bufPos] = orFlagLiteral
						} else {
							buffer[bufPos] |= en.current
							if buffer[bufPos] == allOnes32 {
								flags[bufPos] = orFlagRun1
							}
						}
					}
					enBits += uint32(en.bm.len % 32)
				}

				en.Skip(toConsume)
				bufPos += toConsume
				remain -= toConsume
			}

			bits = max(bits, enBits)
			if en.state == enumEnd {
				enums[i] = enums[len(enums)-1]
				enums = enums[:len(enums)-1]
			} else {
				i++
			}
		}

		// Emit the staged words, scanning runs of equal flag.
		bufPos := uint32(0)
		endPos := (bits + 31) / 32
		for bufPos < endPos {
			val := flags[bufPos]
			end := bufPos + 1
			for end < endPos && flags[end] == val {
				end++
			}
			n := end - bufPos

			switch val {
			case orFlagRun1:
				dest.Add1s(uint64(n) * 32)
			case orFlagRun0:
				dest.Add0s(uint64(n) * 32)
			case orFlagLiteral:
				for j := uint32(0); j < n; j++ {
					if (j+1)*32 <= bits {
						dest.AddWord(buffer[bufPos+j])
						continue
					}
					// Trailing partial word from a pending tail.
					dest.addTail32(buffer[bufPos+j], bits-j*32)
				}
			}

			if n*32 >= bits {
				bits = 0
			} else {
				bits -= n * 32
			}
			bufPos = end
		}
	}

	if dest.len != expLen {
		panicInvariantViolation("multi_or: bad result length")
	}
	return dest
}

// addTail32 folds nbits (< 32) of word into the pending tail of a
// word-aligned bitmap.
func (w *Bitmap) addTail32(word uint32, nbits uint32) {
	if w.len%32 != 0 || nbits >= 32 {
		panicInvariantViolation("addTail32 misuse")
	}
	w.pending = word & maskLT(uint(nbits))
	w.len += uint64(nbits)
	w.active += uint64(popcount32(w.pending))
}
