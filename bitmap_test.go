package wah

import (
	"math/rand"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"
)

// checkInvariant mirrors the builder's structural invariants: run-position
// bookkeeping, len >= active, a clean pending word at word boundaries, and
// the normalization rule that every chunk except the first and the last
// encodes a run of at least two words.
func checkInvariant(t *testing.T, w *Bitmap) {
	t.Helper()
	require.GreaterOrEqual(t, w.lastRunPos, 0)
	require.GreaterOrEqual(t, w.previousRunPos, -1)
	require.GreaterOrEqual(t, len(w.data), 2)
	require.Equal(t, len(w.data), w.lastRunPos+2+int(w.data[w.lastRunPos+1]))
	require.GreaterOrEqual(t, w.len, w.active)
	if w.len%32 == 0 {
		require.Equal(t, uint32(0), w.pending)
	}

	pos := 0
	for pos < len(w.data) {
		words := headerWords(w.data[pos])
		count := int(w.data[pos+1])
		if pos != 0 && pos+2+count != len(w.data) {
			require.GreaterOrEqual(t, words, uint64(2), "interior chunk at %d", pos)
		}
		pos += 2 + count
	}
}

func TestBitmapScenarioResetAddNot(t *testing.T) {
	w := NewBitmap()
	w.Add0s(3)

	for i := uint64(0); i < 4; i++ {
		require.False(t, w.Get(i), "pos %d", i)
	}

	w.Not()
	require.True(t, w.Get(0))
	require.True(t, w.Get(1))
	require.True(t, w.Get(2))
	require.False(t, w.Get(3))
}

func TestBitmapResetSkeleton(t *testing.T) {
	w := NewBitmap()
	require.Equal(t, uint64(0), w.Len())
	require.Equal(t, uint64(0), w.Active())
	require.Equal(t, 0, w.lastRunPos)
	require.Equal(t, -1, w.previousRunPos)
	require.Len(t, w.data, 2)
}

func TestBitmapFill(t *testing.T) {
	w := NewBitmap()
	w.Add0s(63)
	for i := uint64(0); i < 2*63; i++ {
		require.False(t, w.Get(i), "pos %d", i)
	}
	w.Add0s(3 * 63)
	for i := uint64(0); i < 5*63; i++ {
		require.False(t, w.Get(i), "pos %d", i)
	}
	checkInvariant(t, w)

	w.Reset()
	w.Add1s(63)
	for i := uint64(0); i < 2*63; i++ {
		require.Equal(t, i < 63, w.Get(i), "pos %d", i)
	}
	w.Add1s(3 * 63)
	for i := uint64(0); i < 5*63; i++ {
		require.Equal(t, i < 4*63, w.Get(i), "pos %d", i)
	}
	checkInvariant(t, w)
}

// buildOracle decodes raw, LSB-first, into an independent bitset.BitSet so
// tests never have to trust a hand-transcribed position list.
func buildOracle(raw []byte, countBits uint64) *bitset.BitSet {
	bs := bitset.New(uint(countBits))
	for i := uint64(0); i < countBits; i++ {
		if raw[i/8]>>(i%8)&1 == 1 {
			bs.Set(uint(i))
		}
	}
	return bs
}

// A fixed byte pattern exercising the unaligned head / all-zero & all-one
// aligned middle / unaligned tail split of Add, checked against an
// independently-built bitset.BitSet oracle instead of a hand-copied
// set-bit list.
func TestBitmapScenarioAddForEach1(t *testing.T) {
	raw := []byte{0x1F, 0x00, 0x00, 0x8C}
	for i := 0; i < 12; i++ {
		raw = append(raw, 0xFF)
	}
	raw = append(raw, 0x80, 0x00, 0x10, 0x40, 0x00)
	for i := 0; i < 12; i++ {
		raw = append(raw, 0x00)
	}
	raw = append(raw, 0x00, 0x00, 0x00, 0x21)

	countBits := uint64(len(raw)) * 8
	oracle := buildOracle(raw, countBits)

	w := NewBitmap()
	w.Add(raw, countBits)
	checkInvariant(t, w)

	require.Equal(t, countBits, w.Len())
	require.Equal(t, uint64(oracle.Count()), w.Active())

	var got []uint64
	w.ForEach1(func(pos uint64) { got = append(got, pos) })

	var want []uint64
	for i, e := oracle.NextSet(0); e; i, e = oracle.NextSet(i + 1) {
		want = append(want, uint64(i))
	}
	require.Equal(t, want, got)

	for i := uint64(0); i < countBits; i++ {
		require.Equal(t, oracle.Test(uint(i)), w.Get(i), "pos %d", i)
	}

	w.Not()
	require.Equal(t, countBits-uint64(oracle.Count()), w.Active())
	for i := uint64(0); i < countBits; i++ {
		require.Equal(t, !oracle.Test(uint(i)), w.Get(i), "pos %d", i)
	}
}

// Alternating sparse-literal words; a historical regression of the aligned
// middle section of Add.
func TestBitmapAddSparseLiteralRuns(t *testing.T) {
	raw := []byte{
		0x1f, 0x00, 0x1f, 0x1f,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x1f, 0x1f, 0x1f, 0x1f,
		0x00, 0x00, 0x00, 0x00,
		0x1f, 0x1f, 0x1f, 0x1f,
		0x00, 0x00, 0x00, 0x00,
	}

	w := NewBitmap()
	w.Add(raw, uint64(len(raw))*8)
	checkInvariant(t, w)

	for i := uint64(0); i < uint64(len(raw))*8; i++ {
		require.Equal(t, raw[i/8]>>(i%8)&1 == 1, w.Get(i), "pos %d", i)
	}
}

// Unaligned appends must land in the right place regardless of the
// bitmap's current bit offset.
func TestBitmapAddUnalignedOffsets(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	for trial := 0; trial < 30; trial++ {
		head := uint64(rng.Intn(70))
		countBits := uint64(rng.Intn(300) + 1)
		raw := randomBytes(rng, countBits)

		w := NewBitmap()
		w.Add1s(head)
		w.Add(raw, countBits)
		checkInvariant(t, w)

		require.Equal(t, head+countBits, w.Len())
		for i := uint64(0); i < head; i++ {
			require.True(t, w.Get(i), "pos %d", i)
		}
		for i := uint64(0); i < countBits; i++ {
			require.Equal(t, bitAt(raw, countBits, i), w.Get(head+i), "pos %d", head+i)
		}
	}
}

// A sparse high-bit region: 626 whole words of zeros, one run word of
// ones, then a literal word whose bit 30 is clear (0xbfffffff).
func TestBitmapScenarioSparseHighBit(t *testing.T) {
	w := NewBitmap()
	w.Add0s(626 * 32)
	w.Add1s(32)
	w.AddWord(0xbfffffff)
	checkInvariant(t, w)

	require.Equal(t, uint64(628*32), w.Len())

	for i := uint64(0); i < 626*32; i++ {
		require.False(t, w.Get(i), "pos %d", i)
	}
	for i := uint64(626 * 32); i < 628*32; i++ {
		want := i != 628*32-2
		require.Equal(t, want, w.Get(i), "pos %d", i)
	}
}

// Runs far longer than a single chunk's 2^31-1 word cap must still be
// representable, and AndNot against an all-zero operand must preserve both
// len and active exactly.
func TestBitmapScenarioLongRunSplitsAcrossChunks(t *testing.T) {
	w := NewBitmap()
	const zeros = 84969209384
	const onesEnd = 85038314623
	w.Add0s(zeros)
	w.Add1s(onesEnd - zeros + 1)
	checkInvariant(t, w)

	wantLen := uint64(onesEnd + 1)
	require.Equal(t, wantLen, w.Len())
	require.Equal(t, uint64(onesEnd-zeros+1), w.Active())

	zero := NewBitmap()
	zero.Add0s(21 * 32)

	w.AndNot(zero)
	require.Equal(t, wantLen, w.Len())
	require.Equal(t, uint64(onesEnd-zeros+1), w.Active())
}

func TestBitmapScenarioAllOnesLongRun(t *testing.T) {
	w := NewBitmap()
	const n = 68719476704*2 + 11395279936 + 31
	w.Add1s(n)
	require.Equal(t, uint64(n), w.Len())
	require.Equal(t, uint64(n), w.Active())

	zero := NewBitmap()
	zero.Add0s(960)

	w.AndNot(zero)
	require.Equal(t, uint64(n), w.Len())
	require.Equal(t, uint64(n), w.Active())
}

func TestBitmapDumpDoesNotPanic(t *testing.T) {
	w := NewBitmap()
	w.Add0s(64)
	w.Add1s(32)
	w.AddWord(0x12345678)
	w.Dump(nil)
	w.Dump(NopLogger())
}

func TestBitmapAdd1At(t *testing.T) {
	w := NewBitmap()
	w.Add1At(5)
	require.Equal(t, uint64(6), w.Len())
	require.Equal(t, uint64(1), w.Active())
	for i := uint64(0); i < 5; i++ {
		require.False(t, w.Get(i))
	}
	require.True(t, w.Get(5))
}

func TestBitmapAdd1AtBeforeLenPanics(t *testing.T) {
	w := NewBitmap()
	w.Add1s(10)
	require.Panics(t, func() {
		w.Add1At(3)
	})
}

func TestBitmapPad32(t *testing.T) {
	w := NewBitmap()
	w.Add1s(5)
	w.Pad32()
	require.Equal(t, uint64(32), w.Len())
	for i := uint64(0); i < 5; i++ {
		require.True(t, w.Get(i))
	}
	for i := uint64(5); i < 32; i++ {
		require.False(t, w.Get(i))
	}

	w2 := NewBitmap()
	w2.Add0s(32)
	w2.Pad32()
	require.Equal(t, uint64(32), w2.Len())
}

// A single trivial word is stored as a literal, not a one-word run.
func TestBitmapSingleWordFlattensToLiteral(t *testing.T) {
	w := NewBitmap()
	w.Add0s(32)
	checkInvariant(t, w)
	require.Equal(t, []uint32{makeHeader(0, 0), 1, 0}, w.data)

	w.AddWord(0x12345678)
	checkInvariant(t, w)
	require.Equal(t, []uint32{makeHeader(0, 0), 2, 0, 0x12345678}, w.data)
}

func TestBitmapNotInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		w := randomBitmap(rng, 500)
		before := w.Clone()
		w.Not()
		checkInvariant(t, w)
		w.Not()
		require.Equal(t, before.len, w.len)
		require.Equal(t, before.active, w.active)
		require.Equal(t, before.data, w.data)
		require.Equal(t, before.pending, w.pending)
	}
}

func TestBitmapBuilderInvariantsUnderRandomAppends(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for trial := 0; trial < 30; trial++ {
		w := randomBitmap(rng, 2000)
		checkInvariant(t, w)

		var count uint64
		w.ForEach1(func(uint64) { count++ })
		require.Equal(t, w.Active(), count)
	}
}

// randomBitmap builds a bitmap with a mix of runs and literals, exercising
// both code paths of addBits/pushPending.
func randomBitmap(rng *rand.Rand, maxLen int) *Bitmap {
	w := NewBitmap()
	n := rng.Intn(maxLen) + 1
	for w.Len() < uint64(n) {
		switch rng.Intn(3) {
		case 0:
			w.Add0s(uint64(rng.Intn(70) + 1))
		case 1:
			w.Add1s(uint64(rng.Intn(70) + 1))
		case 2:
			w.Pad32()
			w.AddWord(rng.Uint32())
		}
	}
	return w
}
