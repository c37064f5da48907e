package sectorfs

// Disk geometry and on-disk layout constants. Every record layout in this
// package derives from these; changing any of them changes the disk format.
const (
	// SectorSize is the atomic unit of disk IO, in bytes.
	SectorSize = 128
	// NumSectors is the total sector count of a disk image.
	NumSectors = 1024

	// SlotsPerIndexBlock is how many int32 data-sector numbers fit in one
	// index block (one sector).
	SlotsPerIndexBlock = SectorSize / 4
	// MaxIndexBlocks is how many index-block sector numbers fit in a file
	// header alongside its three length fields.
	MaxIndexBlocks = (SectorSize - 12) / 4
	// MaxFileSize is the largest byte length a single header can map.
	MaxFileSize = MaxIndexBlocks * SlotsPerIndexBlock * SectorSize

	// FileNameMaxLen bounds directory entry names. The name field on disk is
	// FileNameMaxLen+1 bytes, NUL padded.
	FileNameMaxLen = 9
	// DirEntryWidth is the fixed width of one directory entry on disk:
	// inUse byte, name bytes, header sector int32, type byte.
	DirEntryWidth = 1 + (FileNameMaxLen + 1) + 4 + 1
	// DirCapacity is the fixed entry count of every directory table.
	DirCapacity = 10

	// FreeMapSector holds the file header for the free-sector map file.
	FreeMapSector = int32(0)
	// RootDirSector holds the file header for the root directory file.
	RootDirSector = int32(1)
)

// NoSector is the sentinel returned when no sector can be produced: a failed
// lookup, or free-map exhaustion.
const NoSector = int32(-1)

// EntryType tags a directory entry as plain file or nested directory.
type EntryType byte

const (
	EntryFile EntryType = 'F'
	EntryDir  EntryType = 'D'
)

// Disk is the raw sector channel. Buffers are exactly SectorSize bytes and
// every call blocks until the transfer completes. Implementations translate
// real IO failures into errors; this layer never retries.
type Disk interface {
	ReadSector(sector int32, buf []byte) error
	WriteSector(sector int32, buf []byte) error
}

// FreeMap tracks which sectors are in use. FindAndSet claims and returns one
// free sector, or NoSector on exhaustion. Callers check NumClear up front
// when claiming more than one sector.
type FreeMap interface {
	FindAndSet() int32
	Clear(sector int32)
	Test(sector int32) bool
	NumClear() int32
}

func divRoundUp(n, d int32) int32 {
	return (n + d - 1) / d
}
