// Package disk provides the raw sector channel over a single image file.
// The image is a flat array of sectorfs.NumSectors sectors with no framing;
// geometry is contractual, not recorded in the image.
package disk

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var log = logrus.WithField("component", "disk")

// FileDisk implements sectorfs.Disk on one OS file. Every call is a
// synchronous positional read or write of exactly one sector.
type FileDisk struct {
	path string
	f    *os.File
}

// Format creates (or truncates) the image at path and zeroes it to full
// size.
func Format(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating disk image %s", path)
	}
	if err := f.Truncate(int64(sectorfs.NumSectors) * sectorfs.SectorSize); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "sizing disk image %s", path)
	}
	log.WithFields(logrus.Fields{
		"path":    path,
		"sectors": sectorfs.NumSectors,
	}).Info("formatted disk image")
	return &FileDisk{path: path, f: f}, nil
}

// Load opens an existing image and validates its length against the
// geometry.
func Load(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening disk image %s", path)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat disk image %s", path)
	}
	want := int64(sectorfs.NumSectors) * sectorfs.SectorSize
	if stat.Size() != want {
		f.Close()
		return nil, errors.Errorf("disk image %s is %d bytes, want %d", path, stat.Size(), want)
	}
	return &FileDisk{path: path, f: f}, nil
}

func (d *FileDisk) ReadSector(sector int32, buf []byte) error {
	if err := checkTransfer(sector, buf); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*sectorfs.SectorSize); err != nil {
		return errors.Wrapf(sectorfs.ErrIO, "reading sector %d: %v", sector, err)
	}
	log.WithField("sector", sector).Debug("read sector")
	return nil
}

func (d *FileDisk) WriteSector(sector int32, buf []byte) error {
	if err := checkTransfer(sector, buf); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*sectorfs.SectorSize); err != nil {
		return errors.Wrapf(sectorfs.ErrIO, "writing sector %d: %v", sector, err)
	}
	log.WithField("sector", sector).Debug("wrote sector")
	return nil
}

func (d *FileDisk) Close() error {
	return d.f.Close()
}

func checkTransfer(sector int32, buf []byte) error {
	if sector < 0 || sector >= sectorfs.NumSectors {
		return errors.Wrapf(sectorfs.ErrIO, "sector %d out of range [0,%d)", sector, sectorfs.NumSectors)
	}
	if len(buf) != sectorfs.SectorSize {
		return errors.Wrapf(sectorfs.ErrIO, "transfer buffer is %d bytes, want %d", len(buf), sectorfs.SectorSize)
	}
	return nil
}
