package sectorfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// DirEntry is one slot in a directory table: a bounded-length name mapping
// to the sector holding the entry's file header, tagged file or directory.
// Names are unique among in-use entries of one table.
type DirEntry struct {
	InUse  bool
	Name   string
	Sector int32
	Type   EntryType
}

// Directory is one fixed-capacity namespace level. The capacity is set at
// construction and never changes; the table persists as ordinary file data,
// so a directory-typed entry's sector addresses a file whose content is
// another table of the same capacity.
//
// Mutations at a non-root level persist immediately through the backing
// file; mutations on the receiver itself stay in memory and the caller owns
// writing them back. There is no cache: every descent reloads the child
// table from disk.
type Directory struct {
	table []DirEntry
	disk  Disk
}

// NewDirectory returns an empty table of the given capacity.
func NewDirectory(capacity int, d Disk) *Directory {
	return &Directory{
		table: make([]DirEntry, capacity),
		disk:  d,
	}
}

func (d *Directory) BinSize() int {
	return len(d.table) * DirEntryWidth
}

// does not bounds check, make sure the buffer holds BinSize() bytes
// returns num written
func (d *Directory) ToBytes(bytes []byte) int {
	currOff := 0
	for _, e := range d.table {
		if e.InUse {
			bytes[currOff] = 1
		} else {
			bytes[currOff] = 0
		}
		currOff++
		name := make([]byte, FileNameMaxLen+1)
		copy(name, boundName(e.Name))
		copy(bytes[currOff:], name)
		currOff += FileNameMaxLen + 1
		binary.LittleEndian.PutUint32(bytes[currOff:], uint32(e.Sector))
		currOff += 4
		bytes[currOff] = byte(e.Type)
		currOff++
	}
	return currOff
}

// reads from the bytes, returns num read
func (d *Directory) FromBytes(bytes []byte) int {
	currOff := 0
	for i := range d.table {
		d.table[i].InUse = bytes[currOff] != 0
		currOff++
		name := bytes[currOff : currOff+FileNameMaxLen+1]
		if nul := strings.IndexByte(string(name), 0); nul >= 0 {
			d.table[i].Name = string(name[:nul])
		} else {
			d.table[i].Name = string(name)
		}
		currOff += FileNameMaxLen + 1
		d.table[i].Sector = int32(binary.LittleEndian.Uint32(bytes[currOff:]))
		currOff += 4
		d.table[i].Type = EntryType(bytes[currOff])
		currOff++
	}
	return currOff
}

// FetchFrom loads the whole table from its backing file. Reader and writer
// must agree on capacity; the record does not describe itself.
func (d *Directory) FetchFrom(f *OpenFile) error {
	buf := make([]byte, d.BinSize())
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("directory backing file holds %d bytes, table needs %d: %w", n, len(buf), ErrIO)
	}
	d.FromBytes(buf)
	return nil
}

// WriteBack persists the whole table into its backing file.
func (d *Directory) WriteBack(f *OpenFile) error {
	buf := make([]byte, d.BinSize())
	d.ToBytes(buf)
	n, err := f.WriteAt(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("directory backing file took %d bytes of %d: %w", n, len(buf), ErrIO)
	}
	return nil
}

// FindIndex returns the slot of the in-use entry matching name at this
// level, or -1. Matching is bounded at FileNameMaxLen, same as the stored
// names.
func (d *Directory) FindIndex(name string) int {
	name = boundName(name)
	for i, e := range d.table {
		if e.InUse && e.Name == name {
			return i
		}
	}
	return -1
}

// Find resolves a /-separated path, descending one level per component, and
// returns the header sector of the terminal entry, or NoSector. Child tables
// are reloaded from disk on every call. The leading separator is required;
// paths without one resolve to NoSector. An empty component (consecutive
// separators) never matches, since in-use names are non-empty.
func (d *Directory) Find(path string) (int32, error) {
	e, ok, err := d.FindEntry(path)
	if err != nil || !ok {
		return NoSector, err
	}
	return e.Sector, nil
}

// FindEntry resolves path like Find but returns the whole terminal entry, so
// callers can see its type. The second return is false when the path does
// not resolve.
func (d *Directory) FindEntry(path string) (DirEntry, bool, error) {
	if len(path) < 2 || path[0] != '/' {
		return DirEntry{}, false, nil
	}
	rest := path[1:]
	component := rest
	remainder := ""
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		component = rest[:slash]
		remainder = rest[slash:]
	}
	idx := d.FindIndex(component)
	if idx < 0 {
		return DirEntry{}, false, nil
	}
	if remainder == "" {
		return d.table[idx], true, nil
	}
	if d.table[idx].Type != EntryDir {
		// more components below a plain file
		return DirEntry{}, false, nil
	}
	child, _, err := d.loadChild(d.table[idx].Sector)
	if err != nil {
		return DirEntry{}, false, err
	}
	return child.FindEntry(remainder)
}

// Add inserts path as a new entry pointing at headerSector. Returns false if
// the path already resolves, if any parent component is missing, or if the
// target table has no free slot. An insert below a parent directory persists
// that directory immediately; an insert at this level (empty parent prefix)
// mutates only the in-memory table and the caller persists it.
func (d *Directory) Add(path string, headerSector int32, typ EntryType) (bool, error) {
	if len(path) < 2 || path[0] != '/' {
		return false, nil
	}
	existing, err := d.Find(path)
	if err != nil {
		return false, err
	}
	if existing != NoSector {
		return false, nil
	}
	parent, leaf := SplitPath(path)
	if leaf == "" {
		return false, nil
	}
	if parent == "" {
		return d.insert(leaf, headerSector, typ), nil
	}
	parentEntry, ok, err := d.FindEntry(parent)
	if err != nil || !ok {
		return false, err
	}
	if parentEntry.Type != EntryDir {
		// a file's bytes are not a table to insert into
		return false, nil
	}
	pd, pf, err := d.loadChild(parentEntry.Sector)
	if err != nil {
		return false, err
	}
	if !pd.insert(leaf, headerSector, typ) {
		return false, nil
	}
	return true, pd.WriteBack(pf)
}

// Remove clears the entry at path. Returns false if the path does not
// resolve. The same root-vs-child persistence split as Add applies. The
// entry's backing storage is not released; callers deallocate the header at
// the returned-by-Find sector separately before discarding it.
func (d *Directory) Remove(path string) (bool, error) {
	existing, err := d.Find(path)
	if err != nil {
		return false, err
	}
	if existing == NoSector {
		return false, nil
	}
	parent, leaf := SplitPath(path)
	if parent == "" {
		idx := d.FindIndex(leaf)
		if idx < 0 {
			return false, nil
		}
		d.table[idx].InUse = false
		return true, nil
	}
	parentEntry, ok, err := d.FindEntry(parent)
	if err != nil || !ok {
		return false, err
	}
	if parentEntry.Type != EntryDir {
		return false, nil
	}
	pd, pf, err := d.loadChild(parentEntry.Sector)
	if err != nil {
		return false, err
	}
	idx := pd.FindIndex(leaf)
	if idx < 0 {
		return false, nil
	}
	pd.table[idx].InUse = false
	return true, pd.WriteBack(pf)
}

// Entries returns a copy of the in-use entries at this level.
func (d *Directory) Entries() []DirEntry {
	ret := make([]DirEntry, 0, len(d.table))
	for _, e := range d.table {
		if e.InUse {
			ret = append(ret, e)
		}
	}
	return ret
}

// List renders the in-use entries at this level only. Diagnostic.
func (d *Directory) List(w io.Writer) {
	for i, e := range d.table {
		if e.InUse {
			fmt.Fprintf(w, "[%d] %s %c\n", i, e.Name, e.Type)
		}
	}
}

// RecurList renders the whole tree under this level depth-first, indenting
// by nesting depth and reloading every child table from disk. Diagnostic.
func (d *Directory) RecurList(w io.Writer, depth int) error {
	for i, e := range d.table {
		if !e.InUse {
			continue
		}
		fmt.Fprintf(w, "%s[%d] %s %c\n", strings.Repeat(" ", depth*8), i, e.Name, e.Type)
		if e.Type == EntryDir {
			child, _, err := d.loadChild(e.Sector)
			if err != nil {
				return err
			}
			if err := child.RecurList(w, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Directory) insert(name string, headerSector int32, typ EntryType) bool {
	for i := range d.table {
		if !d.table[i].InUse {
			d.table[i].InUse = true
			d.table[i].Name = boundName(name)
			d.table[i].Sector = headerSector
			d.table[i].Type = typ
			return true
		}
	}
	return false
}

// loadChild materializes the directory whose table is the file at
// headerSector, at this table's capacity.
func (d *Directory) loadChild(headerSector int32) (*Directory, *OpenFile, error) {
	f, err := OpenSector(d.disk, headerSector)
	if err != nil {
		return nil, nil, err
	}
	child := NewDirectory(len(d.table), d.disk)
	if err := child.FetchFrom(f); err != nil {
		return nil, nil, err
	}
	return child, f, nil
}

// SplitPath splits a path at its last separator into parent prefix and leaf
// name. A single leading separator yields an empty parent, meaning the leaf
// belongs at the table the operation started on.
func SplitPath(path string) (parent, leaf string) {
	slash := strings.LastIndexByte(path, '/')
	if slash < 0 {
		return "", path
	}
	return path[:slash], path[slash+1:]
}

func boundName(name string) string {
	if len(name) > FileNameMaxLen {
		return name[:FileNameMaxLen]
	}
	return name
}
