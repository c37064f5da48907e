package sectorfs

// OpenFile is the positional byte-stream view over one file's header: it
// turns ReadAt/WriteAt byte ranges into per-sector transfers, with
// read-modify-write on partial first and last sectors. Directories use it to
// move their tables as one contiguous byte range.
//
// There is no cursor and no buffering; every call goes to the disk.
type OpenFile struct {
	hdr  *FileHeader
	disk Disk
}

// NewOpenFile wraps an already materialized header, e.g. one just built by
// Allocate.
func NewOpenFile(hdr *FileHeader, d Disk) *OpenFile {
	return &OpenFile{hdr: hdr, disk: d}
}

// OpenSector fetches the header stored at sector and opens it.
func OpenSector(d Disk, sector int32) (*OpenFile, error) {
	hdr := NewFileHeader(d)
	if err := hdr.FetchFrom(sector); err != nil {
		return nil, err
	}
	return &OpenFile{hdr: hdr, disk: d}, nil
}

// Header exposes the file's metadata record.
func (f *OpenFile) Header() *FileHeader {
	return f.hdr
}

// Length returns the file's logical size in bytes.
func (f *OpenFile) Length() int32 {
	return f.hdr.FileLength()
}

// ReadAt reads into p starting at byte offset off, clamping at end of file.
// Returns the number of bytes read, which may be less than len(p).
func (f *OpenFile) ReadAt(p []byte, off int32) (int, error) {
	n := int32(len(p))
	fileLen := f.hdr.FileLength()
	if off < 0 || off >= fileLen || n == 0 {
		return 0, nil
	}
	if off+n > fileLen {
		n = fileLen - off
	}
	first := off / SectorSize
	last := (off + n - 1) / SectorSize
	buf := make([]byte, SectorSize)
	copied := int32(0)
	for s := first; s <= last; s++ {
		sector, err := f.hdr.ByteToSector(s * SectorSize)
		if err != nil {
			return int(copied), err
		}
		if err := f.disk.ReadSector(sector, buf); err != nil {
			return int(copied), err
		}
		start := int32(0)
		if s == first {
			start = off - s*SectorSize
		}
		end := int32(SectorSize)
		if s == last {
			end = off + n - s*SectorSize
		}
		copied += int32(copy(p[copied:], buf[start:end]))
	}
	return int(copied), nil
}

// WriteAt writes p starting at byte offset off. Writes never extend the
// file: bytes past the allocated length are dropped and the returned count
// reflects only what landed. Partial first and last sectors are read,
// patched and written back; fully covered sectors are written outright.
func (f *OpenFile) WriteAt(p []byte, off int32) (int, error) {
	n := int32(len(p))
	fileLen := f.hdr.FileLength()
	if off < 0 || off >= fileLen || n == 0 {
		return 0, nil
	}
	if off+n > fileLen {
		n = fileLen - off
	}
	first := off / SectorSize
	last := (off + n - 1) / SectorSize
	buf := make([]byte, SectorSize)
	written := int32(0)
	for s := first; s <= last; s++ {
		sector, err := f.hdr.ByteToSector(s * SectorSize)
		if err != nil {
			return int(written), err
		}
		start := int32(0)
		if s == first {
			start = off - s*SectorSize
		}
		end := int32(SectorSize)
		if s == last {
			end = off + n - s*SectorSize
		}
		if start != 0 || end != SectorSize {
			// partial sector, read-modify-write
			if err := f.disk.ReadSector(sector, buf); err != nil {
				return int(written), err
			}
		}
		copy(buf[start:end], p[written:])
		if err := f.disk.WriteSector(sector, buf); err != nil {
			return int(written), err
		}
		written += end - start
	}
	return int(written), nil
}
