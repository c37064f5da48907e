package fsys_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/sectorfs/conf"
	"github.com/sectorfs/sectorfs/disk"
	"github.com/sectorfs/sectorfs/fsys"
	"github.com/sectorfs/sectorfs/sectorfs"
)

func freshFS(t *testing.T) (*fsys.FileSystem, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img")
	d, err := disk.Format(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, fsys.Format(d))
	return fsys.New(d), path
}

func TestOpenImageFormatsMissingImage(t *testing.T) {
	cfg := &conf.DiskConfig{ImagePath: filepath.Join(t.TempDir(), "img")}
	fs, err := fsys.OpenImage(cfg)
	require.NoError(t, err)

	require.NoError(t, fs.Create("/hello", 64))
	_, err = fs.Open("/hello")
	require.NoError(t, err)

	// second OpenImage loads the existing image and still sees the file
	fs2, err := fsys.OpenImage(cfg)
	require.NoError(t, err)
	_, err = fs2.Open("/hello")
	require.NoError(t, err)
}

func TestCreateWriteReadBack(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.Create("/data", 1000))

	f, err := fs.Open("/data")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("sector"), 167)[:1000]
	n, err := f.WriteAt(payload, 0)
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	// reopen from scratch, nothing cached
	f2, err := fs.Open("/data")
	require.NoError(t, err)
	got := make([]byte, 1000)
	n, err = f2.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	require.True(t, bytes.Equal(payload, got))
}

func TestCreateOutcomes(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.Create("/a", 10))

	err := fs.Create("/a", 10)
	require.True(t, errors.Is(err, sectorfs.ErrExists))

	err = fs.Create("/missing/b", 10)
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))

	err = fs.Create("/huge", sectorfs.NumSectors*sectorfs.SectorSize)
	require.True(t, errors.Is(err, sectorfs.ErrNoSpace))

	_, err = fs.Open("/nope")
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))
}

func TestCreateBelowFileFails(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.Create("/file", 300))

	f, err := fs.Open("/file")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0x7E}, 300)
	_, err = f.WriteAt(payload, 0)
	require.NoError(t, err)

	err = fs.Create("/file/x", 10)
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))
	err = fs.CreateDir("/file/d")
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))

	// the file's bytes survived the refused creates
	f2, err := fs.Open("/file")
	require.NoError(t, err)
	got := make([]byte, 300)
	n, err := f2.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 300, n)
	require.True(t, bytes.Equal(payload, got))
}

func TestDirectoryFull(t *testing.T) {
	fs, _ := freshFS(t)
	for i := 0; i < sectorfs.DirCapacity; i++ {
		require.NoError(t, fs.Create("/f"+string(rune('0'+i)), 8))
	}
	err := fs.Create("/over", 8)
	require.True(t, errors.Is(err, sectorfs.ErrDirFull))
}

func TestNestedDirectories(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.CreateDir("/a"))
	require.NoError(t, fs.CreateDir("/a/b"))
	require.NoError(t, fs.Create("/a/b/c", 77))

	f, err := fs.Open("/a/b/c")
	require.NoError(t, err)
	require.Equal(t, int32(77), f.Length())

	var tree strings.Builder
	require.NoError(t, fs.Tree(&tree))
	require.Contains(t, tree.String(), "a")
	require.Contains(t, tree.String(), "b")
	require.Contains(t, tree.String(), "c")

	var level strings.Builder
	require.NoError(t, fs.List(&level, "/a"))
	require.Contains(t, level.String(), "b")
	require.NotContains(t, level.String(), "c")
}

func TestRemoveReturnsAllStorage(t *testing.T) {
	fs, _ := freshFS(t)
	before, err := fs.FreeSectors()
	require.NoError(t, err)

	// spans two index blocks so index sectors matter
	require.NoError(t, fs.Create("/big", (sectorfs.SlotsPerIndexBlock+5)*sectorfs.SectorSize))
	during, err := fs.FreeSectors()
	require.NoError(t, err)
	require.Less(t, during, before)

	require.NoError(t, fs.Remove("/big"))
	after, err := fs.FreeSectors()
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = fs.Open("/big")
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))

	err = fs.Remove("/big")
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))
}

func TestRemoveNestedFile(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.CreateDir("/d"))
	before, err := fs.FreeSectors()
	require.NoError(t, err)

	require.NoError(t, fs.Create("/d/f", 300))
	require.NoError(t, fs.Remove("/d/f"))

	after, err := fs.FreeSectors()
	require.NoError(t, err)
	require.Equal(t, before, after)

	got, _ := fs.Open("/d")
	require.NotNil(t, got)
	_, err = fs.Open("/d/f")
	require.True(t, errors.Is(err, sectorfs.ErrNotFound))
}

func TestReloadFromImage(t *testing.T) {
	fs, path := freshFS(t)
	require.NoError(t, fs.CreateDir("/keep"))
	require.NoError(t, fs.Create("/keep/x", 42))

	d2, err := disk.Load(path)
	require.NoError(t, err)
	defer d2.Close()
	fs2 := fsys.New(d2)

	f, err := fs2.Open("/keep/x")
	require.NoError(t, err)
	require.Equal(t, int32(42), f.Length())
}

func TestDumpHeader(t *testing.T) {
	fs, _ := freshFS(t)
	require.NoError(t, fs.Create("/v", 500))
	var out strings.Builder
	require.NoError(t, fs.DumpHeader(&out, "/v"))
	require.Contains(t, out.String(), "/v")
	require.Contains(t, out.String(), "index block")
}
