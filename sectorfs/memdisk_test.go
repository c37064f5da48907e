package sectorfs_test

import (
	"fmt"

	"github.com/sectorfs/sectorfs/sectorfs"
)

// memDisk is an in-memory sector device for tests. Unwritten sectors read
// back as zeroes, same as a freshly formatted image.
type memDisk struct {
	sectors map[int32][]byte
}

func newMemDisk() *memDisk {
	return &memDisk{sectors: make(map[int32][]byte)}
}

func (m *memDisk) ReadSector(sector int32, buf []byte) error {
	if err := m.check(sector, buf); err != nil {
		return err
	}
	s, ok := m.sectors[sector]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, s)
	return nil
}

func (m *memDisk) WriteSector(sector int32, buf []byte) error {
	if err := m.check(sector, buf); err != nil {
		return err
	}
	s := make([]byte, sectorfs.SectorSize)
	copy(s, buf)
	m.sectors[sector] = s
	return nil
}

func (m *memDisk) check(sector int32, buf []byte) error {
	if sector < 0 || sector >= sectorfs.NumSectors {
		return fmt.Errorf("sector %d out of range: %w", sector, sectorfs.ErrIO)
	}
	if len(buf) != sectorfs.SectorSize {
		return fmt.Errorf("buffer is %d bytes: %w", len(buf), sectorfs.ErrIO)
	}
	return nil
}
