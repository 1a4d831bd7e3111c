package fs

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-simplefs/alloc"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/dir"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/super"
)

var epoch = time.Unix(1600000000, 0)

func clock() time.Time {
	return epoch
}

type countingDisk struct {
	disk.Disk
	writes  map[uint64]int
	failing bool
}

var errInjected = errors.New("injected write failure")

func (d *countingDisk) Write(a uint64, v disk.Block) error {
	if d.failing {
		return errInjected
	}
	d.writes[a]++
	return d.Disk.Write(a, v)
}

func (d *countingDisk) reset() {
	d.writes = make(map[uint64]int)
}

func (d *countingDisk) total() int {
	n := 0
	for _, c := range d.writes {
		n += c
	}
	return n
}

type FsSuite struct {
	suite.Suite
	d  *countingDisk
	fs *FileSystem
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = clock
	return cfg
}

func (suite *FsSuite) SetupTest() {
	suite.d = &countingDisk{Disk: disk.NewMemDisk(common.DEFAULTBLOCKS)}
	suite.d.reset()
	err := Format(suite.d, FormatOptions{
		Volume: "test",
		Files:  []SeedFile{{Name: "file_0", Data: []byte("hello world")}},
		Now:    clock,
	})
	suite.Require().NoError(err)
	suite.fs, err = Mount(suite.d, testConfig())
	suite.Require().NoError(err)
}

func (suite *FsSuite) remount() *FileSystem {
	suite.Require().NoError(suite.fs.Unmount())
	fs, err := Mount(suite.d, testConfig())
	suite.Require().NoError(err)
	suite.fs = fs
	return fs
}

func (suite *FsSuite) lookup(name string) common.Inum {
	inum, err := suite.fs.Lookup(name)
	suite.Require().NoError(err)
	return inum
}

func (suite *FsSuite) freeBlocks() uint32 {
	return suite.fs.Super().FreeBlocks
}

func (suite *FsSuite) checkCounters() {
	suite.Equal(uint64(suite.fs.sb.NumFreeBlocks), suite.fs.balloc.NumFree())
	suite.Equal(uint64(suite.fs.sb.NumFreeInodes), suite.fs.ialloc.NumFree())
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func (suite *FsSuite) TestFormat() {
	si := suite.fs.Super()
	suite.Equal("test", si.Volume)
	suite.Equal(common.PARTITION, si.Partition)
	suite.Equal(uint64(8), si.DataStart)
	suite.Equal(uint64(4088), si.DataBlocks)
	suite.Equal(uint32(224-2), si.FreeInodes)
	// reserved block 0, the root directory's block and file_0's block
	suite.Equal(uint32(4088-3), si.FreeBlocks)

	root, err := suite.fs.Stat(common.ROOTINUM)
	suite.Require().NoError(err)
	suite.True(root.IsDir())
	suite.Equal(uint32(common.DENTRYSZ), root.Size)
	suite.checkCounters()
}

func (suite *FsSuite) TestHelloWorld() {
	inum, err := suite.fs.LookupPath("/file_0")
	suite.Require().NoError(err)
	buf := make([]byte, 100)
	n, err := suite.fs.ReadAt(inum, 0, buf)
	suite.NoError(err)
	suite.Equal(uint64(11), n)
	suite.Equal("hello world", string(buf[:n]))

	_, err = suite.fs.LookupPath("/missing")
	suite.True(errors.Is(err, ErrNotFound))
}

func (suite *FsSuite) TestBadPaths() {
	for _, p := range []string{"file_0", "/", "/a/b", ""} {
		_, err := suite.fs.LookupPath(p)
		suite.True(errors.Is(err, ErrBadPath), "%q", p)
	}
}

func (suite *FsSuite) TestReadPastEnd() {
	inum := suite.lookup("file_0")
	buf := make([]byte, 10)
	n, err := suite.fs.ReadAt(inum, 6, buf)
	suite.NoError(err)
	suite.Equal("world", string(buf[:n]))
	n, err = suite.fs.ReadAt(inum, 11, buf)
	suite.NoError(err)
	suite.Equal(uint64(0), n)
}

func (suite *FsSuite) TestOverwriteShrink() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, make([]byte, 4000))
	suite.Require().NoError(err)
	before := suite.freeBlocks()

	data := bytes.Repeat([]byte("x"), 2050)
	n, err := suite.fs.Overwrite(inum, data)
	suite.Require().NoError(err)
	suite.Equal(uint64(2050), n)

	ip, _ := suite.fs.Stat(inum)
	suite.Equal(uint32(2050), ip.Size)
	for i := uint64(0); i < 3; i++ {
		_, ok := ip.DirectBlock(i)
		suite.True(ok, "block %d", i)
	}
	_, ok := ip.DirectBlock(3)
	suite.False(ok, "4th block freed")
	suite.Equal(before+1, suite.freeBlocks())
	suite.Equal(uint32(epoch.Unix()), ip.Date)
	suite.checkCounters()
}

func (suite *FsSuite) TestOverwriteFromZero() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, []byte("abc"))
	suite.Require().NoError(err)
	buf := make([]byte, 100)
	n, _ := suite.fs.ReadAt(inum, 0, buf)
	suite.Equal("abc", string(buf[:n]), "old tail is not kept")
}

func (suite *FsSuite) TestRoundTrip() {
	inum := suite.lookup("file_0")
	data := make([]byte, 20*1024+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	_, err := suite.fs.Overwrite(inum, data)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.Sync())

	fs := suite.remount()
	inum = suite.lookup("file_0")
	buf := make([]byte, len(data)+10)
	n, err := fs.ReadAt(inum, 0, buf)
	suite.NoError(err)
	suite.Equal(data, buf[:n])
	suite.checkCounters()
}

func (suite *FsSuite) TestRoundTripFile() {
	path := filepath.Join(suite.T().TempDir(), "disk.img")
	err := FormatFile(path, 1024, FormatOptions{
		Inodes: 64,
		Files:  []SeedFile{{Name: "a", Data: []byte("first")}},
		Now:    clock,
	})
	suite.Require().NoError(err)

	fs, err := MountFile(path, testConfig())
	suite.Require().NoError(err)
	inum, err := fs.Lookup("a")
	suite.Require().NoError(err)
	_, err = fs.Overwrite(inum, []byte("second"))
	suite.Require().NoError(err)
	suite.Require().NoError(fs.Unmount())

	fs, err = MountFile(path, testConfig())
	suite.Require().NoError(err)
	buf := make([]byte, 64)
	n, err := fs.ReadAt(inum, 0, buf)
	suite.NoError(err)
	suite.Equal("second", string(buf[:n]))
	suite.Equal(uint32(64), fs.Super().Inodes)
	suite.NoError(fs.Unmount())
}

func (suite *FsSuite) TestSyncIdempotent() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, make([]byte, 3000))
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.Sync())

	suite.d.reset()
	suite.Require().NoError(suite.fs.Sync())
	// inode table and superblock only
	suite.Equal(int(suite.fs.layout.NInodeBlock)+1, suite.d.total())
	for blkno := range suite.d.writes {
		suite.Less(blkno, suite.fs.layout.DataStart)
	}
}

func (suite *FsSuite) TestTranslationBoundary() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, make([]byte, 6*1024))
	suite.Require().NoError(err)
	ip, _ := suite.fs.inodes.Get(inum)

	_, err = suite.fs.getPhys(ip, 5, false)
	suite.NoError(err, "block 5 is direct")
	_, ok := ip.IndirectBlock()
	suite.False(ok)
	_, err = suite.fs.getPhys(ip, 6, false)
	suite.True(errors.Is(err, ErrNoMapping))

	free := suite.freeBlocks()
	_, err = suite.fs.getPhys(ip, 6, true)
	suite.NoError(err)
	_, ok = ip.IndirectBlock()
	suite.True(ok, "block 6 allocates the indirect block")
	suite.Equal(free-2, suite.freeBlocks())

	_, err = suite.fs.getPhys(ip, common.MAXBLOCKS-1, true)
	suite.NoError(err)
	_, err = suite.fs.getPhys(ip, common.MAXBLOCKS, true)
	suite.True(errors.Is(err, ErrFileTooLarge))
	_, err = suite.fs.getPhys(ip, common.MAXBLOCKS, false)
	suite.True(errors.Is(err, ErrFileTooLarge))

	_, err = suite.fs.Overwrite(inum, make([]byte, common.MAXBLOCKS*common.BlockSize+1))
	suite.True(errors.Is(err, ErrFileTooLarge))
	suite.checkCounters()
}

func (suite *FsSuite) TestTruncateKeepsIndirect() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, make([]byte, 10*1024))
	suite.Require().NoError(err)
	free := suite.freeBlocks()

	_, err = suite.fs.Overwrite(inum, make([]byte, 100))
	suite.Require().NoError(err)
	suite.Equal(free+9, suite.freeBlocks())

	ip, _ := suite.fs.inodes.Get(inum)
	ind, ok := ip.IndirectBlock()
	suite.True(ok, "indirect block retained")
	suite.True(suite.fs.balloc.IsUsed(uint64(ind)))
	_, err = suite.fs.getPhys(ip, 6, false)
	suite.True(errors.Is(err, ErrNoMapping))

	_, err = suite.fs.Overwrite(inum, make([]byte, 8*1024))
	suite.Require().NoError(err)
	suite.Equal(free+2, suite.freeBlocks(), "indirect block reused")
	suite.checkCounters()
}

func (suite *FsSuite) TestCreateRemove() {
	fs := suite.fs
	inum, err := fs.Create("b", common.FtReg)
	suite.Require().NoError(err)
	suite.Equal(inum, suite.lookup("b"))
	_, err = fs.Create("b", common.FtReg)
	suite.True(errors.Is(err, ErrExists))
	_, err = fs.Create("a/b", common.FtReg)
	suite.Error(err)

	_, err = fs.Overwrite(inum, make([]byte, 9000))
	suite.Require().NoError(err)
	freeBlocks := suite.freeBlocks()
	freeInodes := fs.Super().FreeInodes

	suite.Require().NoError(fs.Remove("b"))
	_, err = fs.Lookup("b")
	suite.True(errors.Is(err, ErrNotFound))
	// 9 data blocks and the indirect block
	suite.Equal(freeBlocks+10, suite.freeBlocks())
	suite.Equal(freeInodes+1, fs.Super().FreeInodes)
	suite.True(errors.Is(fs.Remove("b"), ErrNotFound))

	ents, err := fs.ListRoot()
	suite.Require().NoError(err)
	suite.Len(ents, 1)

	// the freed slot is reused before the directory grows
	root, _ := fs.Stat(common.ROOTINUM)
	_, err = fs.Create("c", common.FtReg)
	suite.Require().NoError(err)
	root2, _ := fs.Stat(common.ROOTINUM)
	suite.Equal(root.Size, root2.Size)
	suite.checkCounters()
}

func (suite *FsSuite) TestRemoveLocked() {
	inum := suite.lookup("file_0")
	ok, err := suite.fs.TryLock(inum)
	suite.Require().NoError(err)
	suite.True(ok)
	ok, _ = suite.fs.TryLock(inum)
	suite.False(ok)
	suite.True(errors.Is(suite.fs.Remove("file_0"), ErrBusy))
	suite.NoError(suite.fs.Unlock(inum))
	suite.NoError(suite.fs.Remove("file_0"))
}

func (suite *FsSuite) TestLocksClearedOnMount() {
	inum := suite.lookup("file_0")
	suite.fs.TryLock(inum)
	fs := suite.remount()
	ip, _ := fs.Stat(inum)
	suite.False(ip.IsLocked())
}

func (suite *FsSuite) TestStraddlingRecords() {
	// records are 272 bytes: the 4th spans the first two root blocks
	var names []string
	for i := 1; i <= 8; i++ {
		name := fmt.Sprintf("file_%d", i)
		names = append(names, name)
		_, err := suite.fs.Create(name, common.FtReg)
		suite.Require().NoError(err)
	}
	fs := suite.remount()
	for _, name := range names {
		_, err := fs.Lookup(name)
		suite.NoError(err, name)
	}
	ents, err := fs.ListRoot()
	suite.Require().NoError(err)
	suite.Len(ents, 9)
	suite.Equal("file_0", ents[0].Name)
	suite.Equal("file_8", ents[8].Name)
}

func (suite *FsSuite) TestIndexIsSnapshot() {
	de, err := dir.MkDentry("late", 5, common.FtReg)
	suite.Require().NoError(err)
	root := suite.fs.root()
	_, err = suite.fs.writeAt(root, uint64(root.Size), de.Encode())
	suite.Require().NoError(err)

	_, err = suite.fs.Lookup("late")
	suite.True(errors.Is(err, ErrNotFound))
	suite.Require().NoError(suite.fs.RebuildIndex())
	suite.Equal(common.Inum(5), suite.lookup("late"))
}

func (suite *FsSuite) TestNoSpace() {
	d := disk.NewMemDisk(20)
	suite.Require().NoError(Format(d, FormatOptions{Inodes: 32, Now: clock}))
	fs, err := Mount(d, testConfig())
	suite.Require().NoError(err)
	suite.Equal(uint64(18), fs.layout.NData)

	inum, err := fs.Create("big", common.FtReg)
	suite.Require().NoError(err)
	_, err = fs.Overwrite(inum, make([]byte, 20*1024))
	suite.True(errors.Is(err, ErrNoBlocks))
	suite.True(errors.Is(err, alloc.ErrNoSpace))
	ip, _ := fs.Stat(inum)
	suite.Equal(uint32(0), ip.Size)
	suite.Equal(uint64(fs.sb.NumFreeBlocks), fs.balloc.NumFree())

	for i := 0; i < 40; i++ {
		_, err = fs.Create(fmt.Sprintf("f%d", i), common.FtReg)
		if err != nil {
			break
		}
	}
	suite.True(errors.Is(err, ErrNoInodes) || errors.Is(err, ErrNoBlocks))
	suite.True(errors.Is(err, alloc.ErrNoSpace))
}

func (suite *FsSuite) TestFailedGrowReportsRelease() {
	d := disk.NewMemDisk(20)
	suite.Require().NoError(Format(d, FormatOptions{Inodes: 32, Now: clock}))
	fs, err := Mount(d, testConfig())
	suite.Require().NoError(err)
	inum, err := fs.Create("big", common.FtReg)
	suite.Require().NoError(err)

	// a pointer the allocator cannot take back
	ip, _ := fs.inodes.Get(inum)
	ip.SetDirect(5, 9999)
	_, err = fs.Overwrite(inum, make([]byte, 20*1024))
	suite.True(errors.Is(err, ErrNoBlocks))
	suite.Contains(err.Error(), "releasing blocks")
}

func (suite *FsSuite) TestLookupBadInode() {
	de, err := dir.MkDentry("bogus", 500, common.FtReg)
	suite.Require().NoError(err)
	root := suite.fs.root()
	_, err = suite.fs.writeAt(root, uint64(root.Size), de.Encode())
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.RebuildIndex())

	_, err = suite.fs.LookupPath("/bogus")
	suite.True(errors.Is(err, inode.ErrBadInum))
	suite.True(errors.Is(suite.fs.Ref(500), inode.ErrBadInum))
}

func (suite *FsSuite) TestRemoveReferenced() {
	inum := suite.lookup("file_0")
	suite.Require().NoError(suite.fs.Ref(inum))
	suite.Require().NoError(suite.fs.Ref(inum))
	suite.True(errors.Is(suite.fs.Remove("file_0"), ErrBusy))
	suite.fs.Unref(inum)
	suite.True(errors.Is(suite.fs.Remove("file_0"), ErrBusy))
	suite.fs.Unref(inum)
	suite.NoError(suite.fs.Remove("file_0"))
}

func (suite *FsSuite) TestBadPartition() {
	blk, err := suite.d.Read(0)
	suite.Require().NoError(err)
	blk[0] ^= 0xff
	suite.Require().NoError(suite.d.Write(0, blk))
	_, err = Mount(suite.d, testConfig())
	suite.True(errors.Is(err, super.ErrBadPartition))
}

func (suite *FsSuite) TestLegacyPartition() {
	blk, _ := suite.d.Read(0)
	sb, _ := super.Decode(blk)
	sb.PartitionType = common.LEGACYPARTITION
	sb.BlockSize = 0
	sb.InodeSize = 0
	suite.Require().NoError(suite.d.Write(0, sb.Encode()))
	_, err := Mount(suite.d, testConfig())
	suite.NoError(err)
}

func (suite *FsSuite) TestSyncError() {
	inum := suite.lookup("file_0")
	_, err := suite.fs.Overwrite(inum, []byte("dirty"))
	suite.Require().NoError(err)
	suite.d.failing = true
	err = suite.fs.Sync()
	var serr *SyncError
	suite.Require().True(errors.As(err, &serr))
	suite.Equal("buffers", serr.Stage)
	suite.True(errors.Is(err, errInjected))

	suite.d.failing = false
	suite.NoError(suite.fs.Sync())
}

func (suite *FsSuite) TestUnmounted() {
	suite.Require().NoError(suite.fs.Unmount())
	_, err := suite.fs.Lookup("file_0")
	suite.True(errors.Is(err, ErrNotMounted))
	suite.True(errors.Is(suite.fs.Sync(), ErrNotMounted))
	suite.True(errors.Is(suite.fs.Unmount(), ErrNotMounted))
}

func (suite *FsSuite) TestCacheStats() {
	inum := suite.lookup("file_0")
	buf := make([]byte, 11)
	suite.fs.ReadAt(inum, 0, buf)
	suite.fs.ReadAt(inum, 0, buf)
	st := suite.fs.CacheStats()
	suite.True(st.Hits > 0)
	suite.True(st.Misses > 0)
}
