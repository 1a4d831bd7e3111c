package addr

import (
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/util"
)

// Addr identifies a byte inside a block-structured region.
//
// Blkno is a block number whose meaning depends on the context in which Addr
// is used: a logical block of a file for FileAddr, an absolute disk block
// for Inum2Addr. Off is the byte offset within that block.
type Addr struct {
	Blkno uint64
	Off   uint64 // offset in bytes
}

func (a Addr) Flatid() uint64 {
	return a.Blkno*common.BlockSize + a.Off
}

func MkAddr(blkno uint64, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// FileAddr splits a byte offset in a file into its logical block and the
// offset within that block.
func FileAddr(off uint64) Addr {
	return MkAddr(off/common.BlockSize, off%common.BlockSize)
}

// Chunk is the number of bytes, at most n, that can be transferred starting
// at a without crossing into the next block.
func (a Addr) Chunk(n uint64) uint64 {
	return util.Min(common.BlockSize-a.Off, n)
}

// Inum2Addr locates inode inum within an inode table that starts at disk
// block start.
func Inum2Addr(start common.Bnum, inum common.Inum) Addr {
	return MkAddr(start+uint64(inum)/common.INODEBLK,
		(uint64(inum)%common.INODEBLK)*common.INODESZ)
}
