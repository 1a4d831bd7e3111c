// Package super decodes, validates, and encodes the superblock, and derives
// the volume layout from it.
//
// Layout of block 0 (all integers little-endian):
//
//	[0, 40)     ten u32 fields, in declaration order
//	[40, 64)    volume name, NUL padded
//	[64, 1024)  reserved region; holds the inode bitmap at [0, 32) and the
//	            data-block bitmap at [32, 544), relative to its start
package super

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/util"
)

const (
	RESERVEDSZ uint64 = common.SUPERSZ - 10*4 - common.VOLNAMESZ

	INODEBMOFF uint64 = 0
	INODEBMLEN uint64 = 32
	BLOCKBMOFF uint64 = INODEBMOFF + INODEBMLEN
	BLOCKBMLEN uint64 = 512

	MAXDATA uint64 = BLOCKBMLEN * 8
)

// Both bitmaps must fit in the reserved region, and the inode bitmap must
// cover every inode; these fail to compile otherwise.
var _ [RESERVEDSZ - (BLOCKBMOFF + BLOCKBMLEN)]byte
var _ [INODEBMLEN*8 - common.MAXINODES]byte

var (
	ErrBadPartition = errors.New("unrecognized partition type")
	ErrBadGeometry  = errors.New("inconsistent volume geometry")
)

type Superblock struct {
	PartitionType  uint32
	BlockSize      uint32
	InodeSize      uint32
	FirstInode     uint32
	NumInodes      uint32
	NumInodeBlocks uint32
	NumFreeInodes  uint32
	NumBlocks      uint32
	NumFreeBlocks  uint32
	FirstDataBlock uint32
	VolumeName     [common.VOLNAMESZ]byte
	Reserved       [RESERVEDSZ]byte
}

func Decode(blk []byte) (*Superblock, error) {
	if uint64(len(blk)) < common.SUPERSZ {
		return nil, fmt.Errorf("decoding superblock: %d bytes", len(blk))
	}
	dec := marshal.NewDec(blk[:common.SUPERSZ])
	sb := &Superblock{}
	sb.PartitionType = dec.GetInt32()
	sb.BlockSize = dec.GetInt32()
	sb.InodeSize = dec.GetInt32()
	sb.FirstInode = dec.GetInt32()
	sb.NumInodes = dec.GetInt32()
	sb.NumInodeBlocks = dec.GetInt32()
	sb.NumFreeInodes = dec.GetInt32()
	sb.NumBlocks = dec.GetInt32()
	sb.NumFreeBlocks = dec.GetInt32()
	sb.FirstDataBlock = dec.GetInt32()
	copy(sb.VolumeName[:], dec.GetBytes(common.VOLNAMESZ))
	copy(sb.Reserved[:], dec.GetBytes(RESERVEDSZ))
	return sb, nil
}

func (sb *Superblock) Encode() []byte {
	enc := marshal.NewEnc(common.SUPERSZ)
	enc.PutInt32(sb.PartitionType)
	enc.PutInt32(sb.BlockSize)
	enc.PutInt32(sb.InodeSize)
	enc.PutInt32(sb.FirstInode)
	enc.PutInt32(sb.NumInodes)
	enc.PutInt32(sb.NumInodeBlocks)
	enc.PutInt32(sb.NumFreeInodes)
	enc.PutInt32(sb.NumBlocks)
	enc.PutInt32(sb.NumFreeBlocks)
	enc.PutInt32(sb.FirstDataBlock)
	enc.PutBytes(sb.VolumeName[:])
	enc.PutBytes(sb.Reserved[:])
	return enc.Finish()
}

// Validate rejects images that are not of this format. Zero block and inode
// sizes are tolerated, since some image generators leave them unset.
func (sb *Superblock) Validate() error {
	if sb.PartitionType != common.PARTITION &&
		sb.PartitionType != common.LEGACYPARTITION {
		return fmt.Errorf("partition type %#x: %w", sb.PartitionType,
			ErrBadPartition)
	}
	if sb.BlockSize != 0 && uint64(sb.BlockSize) != common.BlockSize {
		return fmt.Errorf("block size %d: %w", sb.BlockSize, ErrBadGeometry)
	}
	if sb.InodeSize != 0 && uint64(sb.InodeSize) != common.INODESZ {
		return fmt.Errorf("inode size %d: %w", sb.InodeSize, ErrBadGeometry)
	}
	return nil
}

func (sb *Superblock) Volume() string {
	n := bytes.IndexByte(sb.VolumeName[:], 0)
	if n < 0 {
		n = len(sb.VolumeName)
	}
	return string(sb.VolumeName[:n])
}

func (sb *Superblock) SetVolume(name string) {
	sb.VolumeName = [common.VOLNAMESZ]byte{}
	copy(sb.VolumeName[:common.VOLNAMESZ-1], name)
}

// InodeBitmap and BlockBitmap are views into the reserved region: writes
// through them are persisted with the superblock.
func (sb *Superblock) InodeBitmap() []byte {
	return sb.Reserved[INODEBMOFF : INODEBMOFF+INODEBMLEN]
}

func (sb *Superblock) BlockBitmap() []byte {
	return sb.Reserved[BLOCKBMOFF : BLOCKBMOFF+BLOCKBMLEN]
}

func (sb *Superblock) RootInum() common.Inum {
	return common.Inum(sb.FirstInode)
}

// Layout is the derived placement of the inode table and the data region.
type Layout struct {
	NInode      uint64
	InodeStart  common.Bnum
	NInodeBlock uint64
	DataStart   common.Bnum
	NData       uint64
}

// Layout derives the volume layout, falling back to built-in defaults for
// unpopulated fields, and checks that it fits a disk of diskBlocks blocks.
func (sb *Superblock) Layout(diskBlocks uint64) (Layout, error) {
	l := Layout{InodeStart: 1}

	l.NInode = uint64(sb.NumInodes)
	if l.NInode == 0 || l.NInode > common.MAXINODES {
		l.NInode = common.MAXINODES
	}
	l.NInodeBlock = util.RoundUp(l.NInode*common.INODESZ, common.BlockSize)

	l.DataStart = common.Bnum(sb.FirstDataBlock)
	if l.DataStart == 0 {
		l.DataStart = l.InodeStart + l.NInodeBlock
	}
	if l.DataStart < l.InodeStart+l.NInodeBlock {
		return Layout{}, fmt.Errorf("first data block %d overlaps inode table: %w",
			l.DataStart, ErrBadGeometry)
	}

	if sb.NumBlocks != 0 {
		if uint64(sb.NumBlocks) <= l.DataStart {
			return Layout{}, fmt.Errorf("%d blocks, data starts at %d: %w",
				sb.NumBlocks, l.DataStart, ErrBadGeometry)
		}
		l.NData = uint64(sb.NumBlocks) - l.DataStart
	} else {
		l.NData = common.DEFAULTDATA
	}
	if l.NData > MAXDATA {
		l.NData = MAXDATA
	}
	if uint64(sb.FirstInode) >= l.NInode {
		return Layout{}, fmt.Errorf("root inode %d: %w", sb.FirstInode,
			ErrBadGeometry)
	}

	if l.DataStart+l.NData > diskBlocks {
		return Layout{}, fmt.Errorf("image has %d blocks, layout needs %d: %w",
			diskBlocks, l.DataStart+l.NData, ErrBadGeometry)
	}
	return l, nil
}

// DataAddr is the disk block holding data block dn.
func (l Layout) DataAddr(dn common.Dnum) common.Bnum {
	return l.DataStart + common.Bnum(dn)
}

// MkSuper builds the superblock of an empty volume of nblocks blocks and
// ninodes inodes, with nothing allocated yet.
func MkSuper(nblocks uint64, ninodes uint64, volume string) (*Superblock, error) {
	if ninodes == 0 || ninodes > common.MAXINODES {
		return nil, fmt.Errorf("%d inodes: %w", ninodes, ErrBadGeometry)
	}
	ninodeblk := util.RoundUp(ninodes*common.INODESZ, common.BlockSize)
	datastart := 1 + ninodeblk
	if nblocks <= datastart+1 || nblocks-datastart > MAXDATA {
		return nil, fmt.Errorf("%d blocks: %w", nblocks, ErrBadGeometry)
	}
	sb := &Superblock{
		PartitionType:  common.PARTITION,
		BlockSize:      uint32(common.BlockSize),
		InodeSize:      uint32(common.INODESZ),
		FirstInode:     uint32(common.ROOTINUM),
		NumInodes:      uint32(ninodes),
		NumInodeBlocks: uint32(ninodeblk),
		NumFreeInodes:  uint32(ninodes),
		NumBlocks:      uint32(nblocks),
		NumFreeBlocks:  uint32(nblocks - datastart),
		FirstDataBlock: uint32(datastart),
	}
	sb.SetVolume(volume)
	return sb, nil
}
