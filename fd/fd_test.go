package fd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/fs"
	"github.com/mit-pdos/go-simplefs/inode"
)

func mkTable(t *testing.T, maxFiles uint64) (*Table, *fs.FileSystem) {
	d := disk.NewMemDisk(common.DEFAULTBLOCKS)
	err := fs.Format(d, fs.FormatOptions{
		Files: []fs.SeedFile{
			{Name: "file_0", Data: []byte("hello world")},
			{Name: "file_1", Data: nil},
		},
	})
	require.NoError(t, err)
	cfg := fs.DefaultConfig()
	cfg.MaxFiles = maxFiles
	fsys, err := fs.Mount(d, cfg)
	require.NoError(t, err)
	return MkTable(fsys), fsys
}

func TestOpenRead(t *testing.T) {
	assert := assert.New(t)
	tbl, _ := mkTable(t, 0)

	fd, err := tbl.Open("/file_0", O_RD)
	require.NoError(t, err)
	buf := make([]byte, 100)
	n, err := tbl.Read(fd, buf)
	assert.NoError(err)
	assert.Equal(uint64(11), n)
	assert.Equal("hello world", string(buf[:n]))

	n, err = tbl.Read(fd, buf)
	assert.NoError(err)
	assert.Equal(uint64(0), n, "offset is at end of file")
	assert.NoError(tbl.Close(fd))

	_, err = tbl.Open("/missing", O_RD)
	assert.True(errors.Is(err, fs.ErrNotFound))
	_, err = tbl.Open("file_0", O_RD)
	assert.True(errors.Is(err, fs.ErrBadPath))
	_, err = tbl.Open("/dir/file_0", O_RD)
	assert.True(errors.Is(err, fs.ErrBadPath))
}

func TestSequentialRead(t *testing.T) {
	tbl, _ := mkTable(t, 0)
	fd, err := tbl.Open("/file_0", O_RD)
	require.NoError(t, err)
	var out []byte
	buf := make([]byte, 4)
	for {
		n, err := tbl.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	assert.Equal(t, "hello world", string(out))
}

func TestAccessFlags(t *testing.T) {
	assert := assert.New(t)
	tbl, _ := mkTable(t, 0)

	rd, err := tbl.Open("/file_0", O_RD)
	require.NoError(t, err)
	_, err = tbl.Write(rd, []byte("x"))
	assert.True(errors.Is(err, ErrAccess))

	wr, err := tbl.Open("/file_1", O_WR)
	require.NoError(t, err)
	_, err = tbl.Read(wr, make([]byte, 1))
	assert.True(errors.Is(err, ErrAccess))

	_, err = tbl.Open("/file_0", 4)
	assert.True(errors.Is(err, ErrAccess))
	_, err = tbl.Open("/file_0", 0)
	assert.True(errors.Is(err, ErrAccess))
}

func TestBadFd(t *testing.T) {
	assert := assert.New(t)
	tbl, _ := mkTable(t, 4)
	_, err := tbl.Read(0, nil)
	assert.True(errors.Is(err, ErrBadFd))
	_, err = tbl.Write(100, nil)
	assert.True(errors.Is(err, ErrBadFd))
	assert.True(errors.Is(tbl.Close(3), ErrBadFd))

	fd, _ := tbl.Open("/file_0", O_RD)
	assert.NoError(tbl.Close(fd))
	assert.True(errors.Is(tbl.Close(fd), ErrBadFd), "double close")
}

func TestTooManyOpen(t *testing.T) {
	assert := assert.New(t)
	tbl, _ := mkTable(t, 3)
	for i := 0; i < 3; i++ {
		fd, err := tbl.Open("/file_0", O_RD)
		require.NoError(t, err)
		assert.Equal(Fd(i), fd)
	}
	_, err := tbl.Open("/file_0", O_RD)
	assert.True(errors.Is(err, ErrTooManyOpen))

	assert.NoError(tbl.Close(1))
	fd, err := tbl.Open("/file_0", O_RD)
	assert.NoError(err)
	assert.Equal(Fd(1), fd, "lowest free slot is reused")
	assert.Equal(uint64(3), tbl.NumOpen())
}

func TestWriteLock(t *testing.T) {
	assert := assert.New(t)
	tbl, fsys := mkTable(t, 0)
	inum, _ := fsys.Lookup("file_0")

	fd, err := tbl.Open("/file_0", O_WR)
	require.NoError(t, err)
	ip, _ := fsys.Stat(inum)
	assert.True(ip.IsLocked())

	_, err = tbl.Open("/file_0", O_RDWR)
	assert.True(errors.Is(err, ErrLocked))
	_, err = tbl.Open("/file_0", O_RD)
	assert.NoError(err, "readers are not excluded")

	assert.NoError(tbl.Close(fd))
	ip, _ = fsys.Stat(inum)
	assert.False(ip.IsLocked())
	fd, err = tbl.Open("/file_0", O_WR)
	assert.NoError(err)

	assert.NoError(tbl.CloseAll())
	assert.Equal(uint64(0), tbl.NumOpen())
}

func TestWriteOverwritesFromZero(t *testing.T) {
	assert := assert.New(t)
	tbl, fsys := mkTable(t, 0)

	fd, err := tbl.Open("/file_0", O_RDWR)
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = tbl.Read(fd, buf)
	require.NoError(t, err)

	n, err := tbl.Write(fd, []byte("bye"))
	require.NoError(t, err)
	assert.Equal(uint64(3), n)
	n, err = tbl.Write(fd, []byte("ok"))
	require.NoError(t, err)
	assert.Equal(uint64(2), n)

	inum, _ := fsys.Lookup("file_0")
	out := make([]byte, 100)
	n, _ = fsys.ReadAt(inum, 0, out)
	assert.Equal("ok", string(out[:n]))

	n, err = tbl.Read(fd, out)
	assert.NoError(err)
	assert.Equal(uint64(0), n, "offset ends up past the new contents")
}

func TestWrite2050(t *testing.T) {
	assert := assert.New(t)
	tbl, fsys := mkTable(t, 0)
	inum, _ := fsys.Lookup("file_0")

	fd, err := tbl.Open("/file_0", O_WR)
	require.NoError(t, err)
	_, err = tbl.Write(fd, make([]byte, 4096))
	require.NoError(t, err)
	free := fsys.Super().FreeBlocks

	payload := bytes.Repeat([]byte{0x5a}, 2050)
	n, err := tbl.Write(fd, payload)
	require.NoError(t, err)
	assert.Equal(uint64(2050), n)
	assert.Equal(free+1, fsys.Super().FreeBlocks)

	ip, _ := fsys.Stat(inum)
	assert.Equal(uint32(2050), ip.Size)
	nblk := 0
	for i := uint64(0); i < common.NDIRECT; i++ {
		if _, ok := ip.DirectBlock(i); ok {
			nblk++
		}
	}
	assert.Equal(3, nblk)
	assert.NoError(tbl.Close(fd))

	require.NoError(t, fsys.Sync())
	rd, _ := tbl.Open("/file_0", O_RD)
	out := make([]byte, 3000)
	n, _ = tbl.Read(rd, out)
	assert.Equal(payload, out[:n])
}

func TestOpenBadInode(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(common.DEFAULTBLOCKS)
	err := fs.Format(d, fs.FormatOptions{
		Files: []fs.SeedFile{{Name: "file_0"}, {Name: "bogus"}},
	})
	require.NoError(t, err)

	// point the second root record at an inode past the table
	blk, err := d.Read(1)
	require.NoError(t, err)
	root := inode.Decode(blk[:common.INODESZ])
	dn, ok := root.DirectBlock(0)
	require.True(t, ok)
	datastart := 1 + common.MAXINODES*common.INODESZ/common.BlockSize
	blkno := datastart + uint64(dn)
	blk, err = d.Read(blkno)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(blk[common.DENTRYSZ:], 500)
	require.NoError(t, d.Write(blkno, blk))

	fsys, err := fs.Mount(d, fs.DefaultConfig())
	require.NoError(t, err)
	tbl := MkTable(fsys)
	_, err = tbl.Open("/bogus", O_RD)
	assert.True(errors.Is(err, inode.ErrBadInum))
	assert.Equal(uint64(0), tbl.NumOpen())

	_, err = tbl.Open("/file_0", O_RD)
	assert.NoError(err)
}

func TestRemoveWhileOpen(t *testing.T) {
	assert := assert.New(t)
	tbl, fsys := mkTable(t, 0)

	fd, err := tbl.Open("/file_0", O_RD)
	require.NoError(t, err)
	assert.True(errors.Is(fsys.Remove("file_0"), fs.ErrBusy))

	// the inode is still ours: a new file cannot take it over
	inum, err := fsys.Create("other", common.FtReg)
	require.NoError(t, err)
	_, err = fsys.Overwrite(inum, []byte("contents of other"))
	require.NoError(t, err)
	buf := make([]byte, 100)
	n, err := tbl.Read(fd, buf)
	assert.NoError(err)
	assert.Equal("hello world", string(buf[:n]))

	assert.NoError(tbl.Close(fd))
	assert.NoError(fsys.Remove("file_0"))
}

func TestFailedWriteOpenDropsRef(t *testing.T) {
	assert := assert.New(t)
	tbl, fsys := mkTable(t, 0)

	wr, err := tbl.Open("/file_1", O_WR)
	require.NoError(t, err)
	_, err = tbl.Open("/file_1", O_WR)
	assert.True(errors.Is(err, ErrLocked))

	assert.NoError(tbl.Close(wr))
	assert.NoError(fsys.Remove("file_1"), "no reference left behind")
}
