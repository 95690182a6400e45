package wah

import "fmt"

// Encode serializes w to the wire format: len, active, pending (all
// little-endian), a word count, then the raw chunk stream.
func (w *Bitmap) Encode() []byte {
	buf := make([]byte, 24+len(w.data)*4)
	storeLE64(buf[0:], w.len)
	storeLE64(buf[8:], w.active)
	storeLE32(buf[16:], w.pending)
	storeLE32(buf[20:], uint32(len(w.data)))
	for i, word := range w.data {
		storeLE32(buf[24+i*4:], word)
	}
	return buf
}

// Data exposes the raw chunk stream for callers persisting the bitmap
// themselves. The tail must be empty for the words to round-trip through
// NewFromData; call Pad32 first.
func (w *Bitmap) Data() []uint32 { return w.data }

// NewFromData wraps an existing word-aligned chunk stream. Without scan
// the bitmap is read-only: len and active stay zero, the run positions
// stay -1, and the caller is expected to carry them out of band. With scan the
// stream is walked to recompute them, failing on any chunk whose literal
// count overruns the buffer, and leaving lastRunPos on the final chunk's
// header so the bitmap can be extended by further builder calls.
func NewFromData(words []uint32, scan bool) (*Bitmap, error) {
	if len(words) < 2 {
		return nil, fmt.Errorf("wah from data: missing skeleton chunk: %w", ErrCorruptStream)
	}
	b := &Bitmap{data: words, lastRunPos: -1, previousRunPos: -1}
	if !scan {
		return b, nil
	}

	pos := 0
	for pos < len(words)-1 {
		head := words[pos]
		count := int(words[pos+1])
		pos += 2
		if count > len(words) || pos > len(words)-count {
			return nil, fmt.Errorf("wah from data: literal count overruns stream: %w", ErrCorruptStream)
		}
		b.previousRunPos = b.lastRunPos
		b.lastRunPos = pos - 2
		if headerBit(head) == 1 {
			b.active += 32 * headerWords(head)
		}
		for _, lit := range words[pos : pos+count] {
			b.active += uint64(popcount32(lit))
		}
		b.len += 32 * (headerWords(head) + uint64(count))
		pos += count
	}
	if pos != len(words) {
		return nil, fmt.Errorf("wah from data: truncated chunk header: %w", ErrCorruptStream)
	}
	return b, nil
}

// DecodeWAH parses the wire format produced by Encode, rejecting any
// stream whose declared length/active-count disagree with its chunk data.
func DecodeWAH(buf []byte) (*Bitmap, error) {
	if len(buf) < 24 {
		return nil, fmt.Errorf("decode wah: short header: %w", ErrCorruptStream)
	}

	length := loadLE64(buf[0:])
	active := loadLE64(buf[8:])
	pending := loadLE32(buf[16:])
	n := loadLE32(buf[20:])
	buf = buf[24:]

	if uint64(len(buf)) != uint64(n)*4 {
		return nil, fmt.Errorf("decode wah: word count mismatch: %w", ErrCorruptStream)
	}

	data := make([]uint32, n)
	for i := range data {
		data[i] = loadLE32(buf[i*4:])
	}

	b := &Bitmap{len: length, active: active, pending: pending, data: data}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// validate walks the chunk stream, confirming it is well formed and that
// its bit length and active count agree with the declared header fields,
// and (re)populates lastRunPos/previousRunPos so the decoded bitmap can be
// extended by further builder calls.
func (b *Bitmap) validate() error {
	if len(b.data) < 2 {
		return fmt.Errorf("decode wah: missing skeleton chunk: %w", ErrCorruptStream)
	}

	var offset, activeCount uint64
	prev, last := -1, -1
	i := 0
	for i < len(b.data) {
		if i+1 >= len(b.data) {
			return fmt.Errorf("decode wah: truncated chunk header: %w", ErrCorruptStream)
		}
		header := b.data[i]
		words := headerWords(header)
		bit := headerBit(header)
		count := uint64(b.data[i+1])
		if i+2+int(count) > len(b.data) {
			return fmt.Errorf("decode wah: literal count overruns stream: %w", ErrCorruptStream)
		}

		if bit == 1 {
			activeCount += words * 32
		}
		offset += words * 32

		for _, lit := range b.data[i+2 : i+2+int(count)] {
			activeCount += uint64(popcount32(lit))
		}
		offset += count * 32

		prev = last
		last = i
		i += 2 + int(count)
	}

	if bits := b.len % 32; bits != 0 {
		activeCount += uint64(popcount32(b.pending & maskLT(uint(bits))))
		if offset+bits != b.len {
			return fmt.Errorf("decode wah: length mismatch: %w", ErrCorruptStream)
		}
	} else if offset != b.len {
		return fmt.Errorf("decode wah: length mismatch: %w", ErrCorruptStream)
	}

	if activeCount != b.active {
		return fmt.Errorf("decode wah: active-count mismatch: %w", ErrCorruptStream)
	}

	b.lastRunPos = last
	b.previousRunPos = prev
	return nil
}
