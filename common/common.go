package common

import (
	"github.com/mit-pdos/go-simplefs/disk"
)

// On-disk geometry. Sizes are in bytes unless noted.
const (
	BlockSize uint64 = disk.BlockSize

	INODESZ  uint64 = 32  // on-disk inode record
	DENTRYSZ uint64 = 272 // on-disk directory record
	SUPERSZ  uint64 = BlockSize

	INODEBLK uint64 = BlockSize / INODESZ

	NDIRECT   uint64 = 6
	PTRSZ     uint64 = 2 // indirect pointers are u16
	NINDIRECT uint64 = BlockSize / PTRSZ
	MAXBLOCKS uint64 = NDIRECT + NINDIRECT // per file

	MAXNAMELEN uint64 = 255
	NAMEBUFSZ  uint64 = 256

	MAXINODES     uint64 = 224
	DEFAULTBLOCKS uint64 = 4096
	DEFAULTDATA   uint64 = 4088

	VOLNAMESZ uint64 = 24
)

// Partition tags accepted by mount. PARTITION is what Format writes.
const (
	PARTITION       uint32 = 0x1234ABCD
	LEGACYPARTITION uint32 = 0x1111
)

// Inum is a 0-based index into the inode table.
type Inum uint32

// Bnum is an absolute block number on the backing disk.
type Bnum = uint64

// Dnum is a data-block index, relative to the superblock's first data block.
type Dnum uint32

const (
	ROOTINUM Inum = 0
	NULLINUM Inum = 0 // in directory records only
	NULLDNUM Dnum = 0
)

// Inode mode bits.
const (
	ModeReg   uint32 = 0x10000
	ModeDir   uint32 = 0x20000
	ModeAcAll uint32 = 0x777
)

// Directory record file types.
type FileType uint32

const (
	FtReg FileType = 1
	FtDir FileType = 2
)

func (t FileType) String() string {
	switch t {
	case FtReg:
		return "file"
	case FtDir:
		return "dir"
	}
	return "unknown"
}

// Mode returns the inode mode bits for a new object of type t.
func (t FileType) Mode() uint32 {
	if t == FtDir {
		return ModeDir | ModeAcAll
	}
	return ModeReg | ModeAcAll
}
