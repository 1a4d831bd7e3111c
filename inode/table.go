package inode

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-simplefs/addr"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/util"
)

var ErrBadInum = errors.New("inode number out of range")

// Table is the in-memory copy of the inode table. It is loaded whole at
// mount and written back whole on sync.
type Table struct {
	start   common.Bnum
	nblocks uint64
	inodes  []Inode
}

func MkTable(start common.Bnum, n uint64) *Table {
	return &Table{
		start:   start,
		nblocks: util.RoundUp(n*common.INODESZ, common.BlockSize),
		inodes:  make([]Inode, n),
	}
}

// Load reads n inodes from the table at disk block start.
func Load(d disk.Disk, start common.Bnum, n uint64) (*Table, error) {
	t := MkTable(start, n)
	for b := uint64(0); b < t.nblocks; b++ {
		blk, err := d.Read(start + b)
		if err != nil {
			return nil, fmt.Errorf("loading inode table: %w", err)
		}
		for i := uint64(0); i < common.INODEBLK; i++ {
			inum := b*common.INODEBLK + i
			if inum >= n {
				break
			}
			off := i * common.INODESZ
			t.inodes[inum] = Decode(blk[off : off+common.INODESZ])
		}
	}
	util.DPrintf(1, "inode.Load: %d inodes from block %d\n", n, start)
	return t, nil
}

// Store writes every table block back to d. Slack after the last inode in
// the final block is written as zeros.
func (t *Table) Store(d disk.Disk) error {
	for b := uint64(0); b < t.nblocks; b++ {
		blk := make(disk.Block, common.BlockSize)
		for i := uint64(0); i < common.INODEBLK; i++ {
			inum := common.Inum(b*common.INODEBLK + i)
			if uint64(inum) >= uint64(len(t.inodes)) {
				break
			}
			a := addr.Inum2Addr(t.start, inum)
			copy(blk[a.Off:a.Off+common.INODESZ], t.inodes[inum].Encode())
		}
		if err := d.Write(t.start+b, blk); err != nil {
			return fmt.Errorf("storing inode table: %w", err)
		}
	}
	return nil
}

func (t *Table) Len() uint64 {
	return uint64(len(t.inodes))
}

func (t *Table) NBlocks() uint64 {
	return t.nblocks
}

// Get returns the table entry for inum; the caller mutates it in place.
func (t *Table) Get(inum common.Inum) (*Inode, error) {
	if uint64(inum) >= uint64(len(t.inodes)) {
		return nil, fmt.Errorf("inode %d: %w", inum, ErrBadInum)
	}
	return &t.inodes[inum], nil
}
