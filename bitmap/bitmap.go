// Package bitmap tracks free and used disk sectors, one bit per sector,
// packed into 32-bit words. The map itself persists as an ordinary file on
// the disk it describes, moved in and out through the byte-stream layer.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/sectorfs/sectorfs/sectorfs"
)

const bitsPerWord = 32

// BitMap implements sectorfs.FreeMap. Bit set means sector in use.
type BitMap struct {
	numBits int32
	words   []uint32
}

// New returns a map of numBits sectors, all clear. numBits must be a
// multiple of 32 so the map serializes to whole words.
func New(numBits int32) *BitMap {
	if numBits <= 0 || numBits%bitsPerWord != 0 {
		panic(fmt.Sprintf("bitmap: bad bit count %d", numBits))
	}
	return &BitMap{
		numBits: numBits,
		words:   make([]uint32, (numBits+bitsPerWord-1)/bitsPerWord),
	}
}

// Mark sets the bit for one sector.
func (b *BitMap) Mark(which int32) {
	b.check(which)
	b.words[which/bitsPerWord] |= 1 << uint(which%bitsPerWord)
}

// Clear clears the bit for one sector.
func (b *BitMap) Clear(which int32) {
	b.check(which)
	b.words[which/bitsPerWord] &^= 1 << uint(which%bitsPerWord)
}

// Test reports whether a sector is marked used.
func (b *BitMap) Test(which int32) bool {
	b.check(which)
	return b.words[which/bitsPerWord]&(1<<uint(which%bitsPerWord)) != 0
}

// FindAndSet claims the lowest clear bit and returns its sector, or
// sectorfs.NoSector when every bit is set.
func (b *BitMap) FindAndSet() int32 {
	for i, w := range b.words {
		if w == ^uint32(0) {
			continue
		}
		bit := int32(bits.TrailingZeros32(^w))
		which := int32(i)*bitsPerWord + bit
		if which >= b.numBits {
			break
		}
		b.Mark(which)
		return which
	}
	return sectorfs.NoSector
}

// NumClear returns how many sectors are free.
func (b *BitMap) NumClear() int32 {
	set := 0
	for _, w := range b.words {
		set += bits.OnesCount32(w)
	}
	return b.numBits - int32(set)
}

// BinSize is the serialized size in bytes: exactly one bit per sector.
func (b *BitMap) BinSize() int {
	return int(b.numBits / 8)
}

// FetchFrom loads the map from its backing file.
func (b *BitMap) FetchFrom(f *sectorfs.OpenFile) error {
	buf := make([]byte, b.BinSize())
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("free map backing file holds %d bytes, need %d: %w", n, len(buf), sectorfs.ErrIO)
	}
	for i := range b.words {
		b.words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return nil
}

// WriteBack persists the map into its backing file.
func (b *BitMap) WriteBack(f *sectorfs.OpenFile) error {
	buf := make([]byte, b.BinSize())
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	n, err := f.WriteAt(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("free map backing file took %d bytes of %d: %w", n, len(buf), sectorfs.ErrIO)
	}
	return nil
}

func (b *BitMap) check(which int32) {
	if which < 0 || which >= b.numBits {
		panic(fmt.Sprintf("bitmap: sector %d out of range [0,%d)", which, b.numBits))
	}
}
