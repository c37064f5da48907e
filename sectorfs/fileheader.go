package sectorfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FileHeader is the per-file metadata record: the mapping from one file's
// logical byte range to physical sectors, through one level of index blocks.
// The whole record packs into exactly one sector. A header is built in memory
// either by Allocate for a new file, or by FetchFrom for one already on disk.
//
// Growth and truncation after Allocate are unsupported.
type FileHeader struct {
	byteLength        int32
	sectorCount       int32
	indexBlockCount   int32
	indexBlockSectors [MaxIndexBlocks]int32

	disk Disk
}

// NewFileHeader returns an empty header. All fields are sentinels until
// Allocate or FetchFrom populates them.
func NewFileHeader(d Disk) *FileHeader {
	h := &FileHeader{
		byteLength:      -1,
		sectorCount:     -1,
		indexBlockCount: -1,
		disk:            d,
	}
	for i := range h.indexBlockSectors {
		h.indexBlockSectors[i] = NoSector
	}
	return h
}

// Allocate claims sectors for a file of byteLength bytes: one sector per
// index block plus one per data sector. Returns false without claiming
// anything if the free map cannot cover the whole allocation; once the
// upfront check passes no individual claim can fail. For each index block in
// order it claims the index sector, claims data sectors into a zeroed slot
// buffer, and writes the buffer out.
func (h *FileHeader) Allocate(freeMap FreeMap, byteLength int32) (bool, error) {
	if byteLength < 0 || byteLength > MaxFileSize {
		return false, nil
	}
	h.byteLength = byteLength
	h.sectorCount = divRoundUp(byteLength, SectorSize)
	h.indexBlockCount = divRoundUp(h.sectorCount, SlotsPerIndexBlock)
	// index blocks live in sectors too, so they count against the check
	if freeMap.NumClear() < h.sectorCount+h.indexBlockCount {
		return false, nil
	}
	for i := int32(0); i < h.indexBlockCount; i++ {
		idxSector := freeMap.FindAndSet()
		if idxSector == NoSector {
			panic("sectorfs: free map exhausted after capacity check")
		}
		h.indexBlockSectors[i] = idxSector
		// the last index block may be partially filled
		valid := h.sectorCount - i*SlotsPerIndexBlock
		if valid > SlotsPerIndexBlock {
			valid = SlotsPerIndexBlock
		}
		buf := make([]byte, SectorSize)
		for j := int32(0); j < valid; j++ {
			s := freeMap.FindAndSet()
			if s == NoSector {
				panic("sectorfs: free map exhausted after capacity check")
			}
			binary.LittleEndian.PutUint32(buf[j*4:], uint32(s))
		}
		if err := h.disk.WriteSector(idxSector, buf); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Deallocate releases every data sector this header maps, re-reading each
// index block from disk. A data sector that is not currently marked used is
// corruption upstream and panics rather than silently clearing further bits.
// Index-block sectors and the header's own sector are NOT released here;
// reclaiming those is the caller's separate responsibility (see
// IndexSectors).
func (h *FileHeader) Deallocate(freeMap FreeMap) error {
	buf := make([]byte, SectorSize)
	for i := int32(0); i < h.indexBlockCount; i++ {
		if err := h.disk.ReadSector(h.indexBlockSectors[i], buf); err != nil {
			return err
		}
		valid := h.sectorCount - i*SlotsPerIndexBlock
		if valid > SlotsPerIndexBlock {
			valid = SlotsPerIndexBlock
		}
		for j := int32(0); j < valid; j++ {
			s := int32(binary.LittleEndian.Uint32(buf[j*4:]))
			if !freeMap.Test(s) {
				panic(fmt.Sprintf("sectorfs: data sector %d already free in Deallocate", s))
			}
			freeMap.Clear(s)
		}
	}
	return nil
}

// ByteToSector translates a byte offset within the file to the physical
// sector holding it. Costs exactly one disk read; nothing is cached, so
// every call reflects the current on-disk index block.
func (h *FileHeader) ByteToSector(offset int32) (int32, error) {
	sectorIdx := offset / SectorSize
	blockIdx := sectorIdx / SlotsPerIndexBlock
	slotIdx := sectorIdx % SlotsPerIndexBlock
	buf := make([]byte, SectorSize)
	if err := h.disk.ReadSector(h.indexBlockSectors[blockIdx], buf); err != nil {
		return NoSector, err
	}
	return int32(binary.LittleEndian.Uint32(buf[slotIdx*4:])), nil
}

// FileLength returns the file's logical size in bytes.
func (h *FileHeader) FileLength() int32 {
	return h.byteLength
}

// SectorCount returns how many data sectors the file occupies.
func (h *FileHeader) SectorCount() int32 {
	return h.sectorCount
}

// IndexSectors returns the sectors holding this header's index blocks.
// Deallocate leaves their free-map bits set; whoever discards the file clears
// them through this accessor.
func (h *FileHeader) IndexSectors() []int32 {
	ret := make([]int32, h.indexBlockCount)
	copy(ret, h.indexBlockSectors[:h.indexBlockCount])
	return ret
}

func (h *FileHeader) BinSize() int {
	return SectorSize
}

// does not bounds check, make sure the buffer holds BinSize() bytes
// returns num written
func (h *FileHeader) ToBytes(bytes []byte) int {
	currOff := 0
	binary.LittleEndian.PutUint32(bytes[currOff:], uint32(h.byteLength))
	currOff += 4
	binary.LittleEndian.PutUint32(bytes[currOff:], uint32(h.sectorCount))
	currOff += 4
	binary.LittleEndian.PutUint32(bytes[currOff:], uint32(h.indexBlockCount))
	currOff += 4
	for i := 0; i < MaxIndexBlocks; i++ {
		binary.LittleEndian.PutUint32(bytes[currOff:], uint32(h.indexBlockSectors[i]))
		currOff += 4
	}
	return currOff
}

// reads from the bytes, returns num read
func (h *FileHeader) FromBytes(bytes []byte) int {
	currOff := 0
	h.byteLength = int32(binary.LittleEndian.Uint32(bytes[currOff:]))
	currOff += 4
	h.sectorCount = int32(binary.LittleEndian.Uint32(bytes[currOff:]))
	currOff += 4
	h.indexBlockCount = int32(binary.LittleEndian.Uint32(bytes[currOff:]))
	currOff += 4
	for i := 0; i < MaxIndexBlocks; i++ {
		h.indexBlockSectors[i] = int32(binary.LittleEndian.Uint32(bytes[currOff:]))
		currOff += 4
	}
	return currOff
}

// FetchFrom reads the header record out of its home sector.
func (h *FileHeader) FetchFrom(sector int32) error {
	buf := make([]byte, SectorSize)
	if err := h.disk.ReadSector(sector, buf); err != nil {
		return err
	}
	h.FromBytes(buf)
	return nil
}

// WriteBack writes the header record into its home sector.
func (h *FileHeader) WriteBack(sector int32) error {
	buf := make([]byte, SectorSize)
	h.ToBytes(buf)
	return h.disk.WriteSector(sector, buf)
}

// Dump renders the header and its sector map for diagnostics.
func (h *FileHeader) Dump(w io.Writer) error {
	fmt.Fprintf(w, "FileHeader: %d bytes, %d sectors, %d index blocks\n",
		h.byteLength, h.sectorCount, h.indexBlockCount)
	buf := make([]byte, SectorSize)
	for i := int32(0); i < h.indexBlockCount; i++ {
		if err := h.disk.ReadSector(h.indexBlockSectors[i], buf); err != nil {
			return err
		}
		valid := h.sectorCount - i*SlotsPerIndexBlock
		if valid > SlotsPerIndexBlock {
			valid = SlotsPerIndexBlock
		}
		fmt.Fprintf(w, "index block %d at sector %d:", i, h.indexBlockSectors[i])
		for j := int32(0); j < valid; j++ {
			fmt.Fprintf(w, " %d", int32(binary.LittleEndian.Uint32(buf[j*4:])))
		}
		fmt.Fprintln(w)
	}
	return nil
}
