// Package fsys composes the disk, free map, headers and directories into a
// working filesystem: formatting plus create/open/remove/list over paths.
//
// Every operation reloads the free map and root directory from disk on entry
// and writes mutated state back before returning. Nothing is cached between
// calls; a single synchronous caller is assumed.
package fsys

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sectorfs/sectorfs/bitmap"
	"github.com/sectorfs/sectorfs/conf"
	"github.com/sectorfs/sectorfs/disk"
	"github.com/sectorfs/sectorfs/sectorfs"
)

var log = logrus.WithField("component", "fsys")

const (
	freeMapFileSize = sectorfs.NumSectors / 8
	dirTableSize    = sectorfs.DirCapacity * sectorfs.DirEntryWidth
)

// FileSystem is the single entry point for path-level operations on one
// disk. It holds only the disk handle; all other state lives on the disk.
type FileSystem struct {
	disk sectorfs.Disk
}

// New wraps an already formatted disk.
func New(d sectorfs.Disk) *FileSystem {
	return &FileSystem{disk: d}
}

// OpenImage loads the filesystem described by cfg, formatting a fresh image
// if none exists at the configured path.
func OpenImage(cfg *conf.DiskConfig) (*FileSystem, error) {
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, errors.Wrapf(err, "bad log level %q", cfg.LogLevel)
		}
		logrus.SetLevel(level)
	}
	if _, err := os.Stat(cfg.ImagePath); os.IsNotExist(err) {
		d, err := disk.Format(cfg.ImagePath)
		if err != nil {
			return nil, err
		}
		if err := Format(d); err != nil {
			return nil, err
		}
		return New(d), nil
	}
	d, err := disk.Load(cfg.ImagePath)
	if err != nil {
		return nil, err
	}
	return New(d), nil
}

// Format lays down an empty filesystem: the free map file at sector 0 and
// the empty root directory file at sector 1, both claiming their own
// storage in the map they bootstrap.
func Format(d sectorfs.Disk) error {
	freeMap := bitmap.New(sectorfs.NumSectors)
	freeMap.Mark(sectorfs.FreeMapSector)
	freeMap.Mark(sectorfs.RootDirSector)

	mapHdr := sectorfs.NewFileHeader(d)
	if ok, err := mapHdr.Allocate(freeMap, freeMapFileSize); err != nil || !ok {
		if err != nil {
			return err
		}
		return sectorfs.ErrNoSpace
	}
	dirHdr := sectorfs.NewFileHeader(d)
	if ok, err := dirHdr.Allocate(freeMap, dirTableSize); err != nil || !ok {
		if err != nil {
			return err
		}
		return sectorfs.ErrNoSpace
	}
	if err := mapHdr.WriteBack(sectorfs.FreeMapSector); err != nil {
		return err
	}
	if err := dirHdr.WriteBack(sectorfs.RootDirSector); err != nil {
		return err
	}
	if err := freeMap.WriteBack(sectorfs.NewOpenFile(mapHdr, d)); err != nil {
		return err
	}
	root := sectorfs.NewDirectory(sectorfs.DirCapacity, d)
	if err := root.WriteBack(sectorfs.NewOpenFile(dirHdr, d)); err != nil {
		return err
	}
	log.WithField("free", freeMap.NumClear()).Info("formatted filesystem")
	return nil
}

// Create allocates a file of size bytes and links it at path. The parent
// directory must already exist.
func (fs *FileSystem) Create(path string, size int32) error {
	return fs.create(path, size, sectorfs.EntryFile)
}

// CreateDir allocates an empty nested directory at path.
func (fs *FileSystem) CreateDir(path string) error {
	return fs.create(path, dirTableSize, sectorfs.EntryDir)
}

func (fs *FileSystem) create(path string, size int32, typ sectorfs.EntryType) error {
	freeMap, mapFile, err := fs.loadFreeMap()
	if err != nil {
		return err
	}
	root, rootFile, err := fs.loadRoot()
	if err != nil {
		return err
	}
	// Add re-resolves the path internally; these checks still run first so
	// each failure kind maps to its own error before any sector is claimed
	// or written.
	if existing, err := root.Find(path); err != nil {
		return err
	} else if existing != sectorfs.NoSector {
		return errors.Wrapf(sectorfs.ErrExists, "create %s", path)
	}
	if parent, _ := sectorfs.SplitPath(path); parent != "" {
		pe, ok, err := root.FindEntry(parent)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(sectorfs.ErrNotFound, "create %s: no parent %s", path, parent)
		}
		if pe.Type != sectorfs.EntryDir {
			return errors.Wrapf(sectorfs.ErrNotFound, "create %s: parent %s is not a directory", path, parent)
		}
	}
	hdrSector := freeMap.FindAndSet()
	if hdrSector == sectorfs.NoSector {
		return errors.Wrapf(sectorfs.ErrNoSpace, "create %s", path)
	}
	hdr := sectorfs.NewFileHeader(fs.disk)
	if ok, err := hdr.Allocate(freeMap, size); err != nil {
		return err
	} else if !ok {
		// nothing was persisted, the in-memory map is simply dropped
		return errors.Wrapf(sectorfs.ErrNoSpace, "create %s (%d bytes)", path, size)
	}
	if err := hdr.WriteBack(hdrSector); err != nil {
		return err
	}
	if typ == sectorfs.EntryDir {
		empty := sectorfs.NewDirectory(sectorfs.DirCapacity, fs.disk)
		if err := empty.WriteBack(sectorfs.NewOpenFile(hdr, fs.disk)); err != nil {
			return err
		}
	}
	if ok, err := root.Add(path, hdrSector, typ); err != nil {
		return err
	} else if !ok {
		return errors.Wrapf(sectorfs.ErrDirFull, "create %s", path)
	}
	if err := root.WriteBack(rootFile); err != nil {
		return err
	}
	if err := freeMap.WriteBack(mapFile); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"path":   path,
		"size":   size,
		"sector": hdrSector,
		"type":   string(typ),
	}).Debug("created entry")
	return nil
}

// Open resolves path and returns a byte-stream handle on its content.
func (fs *FileSystem) Open(path string) (*sectorfs.OpenFile, error) {
	root, _, err := fs.loadRoot()
	if err != nil {
		return nil, err
	}
	sector, err := root.Find(path)
	if err != nil {
		return nil, err
	}
	if sector == sectorfs.NoSector {
		return nil, errors.Wrapf(sectorfs.ErrNotFound, "open %s", path)
	}
	return sectorfs.OpenSector(fs.disk, sector)
}

// Remove unlinks path and returns all of its storage to the free map: data
// sectors through Deallocate, then the index-block sectors and the header
// sector, which Deallocate deliberately leaves claimed.
func (fs *FileSystem) Remove(path string) error {
	freeMap, mapFile, err := fs.loadFreeMap()
	if err != nil {
		return err
	}
	root, rootFile, err := fs.loadRoot()
	if err != nil {
		return err
	}
	sector, err := root.Find(path)
	if err != nil {
		return err
	}
	if sector == sectorfs.NoSector {
		return errors.Wrapf(sectorfs.ErrNotFound, "remove %s", path)
	}
	hdr := sectorfs.NewFileHeader(fs.disk)
	if err := hdr.FetchFrom(sector); err != nil {
		return err
	}
	if err := hdr.Deallocate(freeMap); err != nil {
		return err
	}
	for _, s := range hdr.IndexSectors() {
		freeMap.Clear(s)
	}
	freeMap.Clear(sector)
	if ok, err := root.Remove(path); err != nil {
		return err
	} else if !ok {
		return errors.Wrapf(sectorfs.ErrNotFound, "remove %s", path)
	}
	if err := root.WriteBack(rootFile); err != nil {
		return err
	}
	if err := freeMap.WriteBack(mapFile); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"path":   path,
		"sector": sector,
	}).Debug("removed entry")
	return nil
}

// List renders one directory level. Path "/" lists the root.
func (fs *FileSystem) List(w io.Writer, path string) error {
	root, _, err := fs.loadRoot()
	if err != nil {
		return err
	}
	if path == "/" {
		root.List(w)
		return nil
	}
	sector, err := root.Find(path)
	if err != nil {
		return err
	}
	if sector == sectorfs.NoSector {
		return errors.Wrapf(sectorfs.ErrNotFound, "list %s", path)
	}
	f, err := sectorfs.OpenSector(fs.disk, sector)
	if err != nil {
		return err
	}
	d := sectorfs.NewDirectory(sectorfs.DirCapacity, fs.disk)
	if err := d.FetchFrom(f); err != nil {
		return err
	}
	d.List(w)
	return nil
}

// Tree renders the whole namespace depth-first from the root.
func (fs *FileSystem) Tree(w io.Writer) error {
	root, _, err := fs.loadRoot()
	if err != nil {
		return err
	}
	return root.RecurList(w, 0)
}

// DumpHeader renders the metadata record behind path, sizes humanized.
func (fs *FileSystem) DumpHeader(w io.Writer, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	hdr := f.Header()
	fmt.Fprintf(w, "%s: %s in %d sectors\n",
		path, units.HumanSize(float64(hdr.FileLength())), hdr.SectorCount())
	return hdr.Dump(w)
}

// FreeSectors reports how many sectors the persisted free map has clear.
func (fs *FileSystem) FreeSectors() (int32, error) {
	freeMap, _, err := fs.loadFreeMap()
	if err != nil {
		return 0, err
	}
	return freeMap.NumClear(), nil
}

func (fs *FileSystem) loadFreeMap() (*bitmap.BitMap, *sectorfs.OpenFile, error) {
	f, err := sectorfs.OpenSector(fs.disk, sectorfs.FreeMapSector)
	if err != nil {
		return nil, nil, err
	}
	m := bitmap.New(sectorfs.NumSectors)
	if err := m.FetchFrom(f); err != nil {
		return nil, nil, err
	}
	return m, f, nil
}

func (fs *FileSystem) loadRoot() (*sectorfs.Directory, *sectorfs.OpenFile, error) {
	f, err := sectorfs.OpenSector(fs.disk, sectorfs.RootDirSector)
	if err != nil {
		return nil, nil, err
	}
	root := sectorfs.NewDirectory(sectorfs.DirCapacity, fs.disk)
	if err := root.FetchFrom(f); err != nil {
		return nil, nil, err
	}
	return root, f, nil
}
