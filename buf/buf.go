// Package buf holds the buffer-cache building blocks: the frame (Buf), the
// intrusive LRU list that frames live on, and the open-addressing index
// from block number to frame.
package buf

import (
	"encoding/binary"
	"fmt"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/util"
)

// A Buf is one cache frame: a copy of a disk block plus its bookkeeping.
type Buf struct {
	Blkno common.Bnum
	Data  disk.Block
	valid bool   // Data holds the contents of Blkno
	dirty bool   // has this block been written to?
	pin   uint64 // outstanding borrows; eviction skips pinned frames

	prev *Buf // towards the MRU end
	next *Buf // towards the LRU end
}

func MkBuf() *Buf {
	b := &Buf{
		Data: make(disk.Block, common.BlockSize),
	}
	return b
}

// Load fills the frame with block blkno from d, leaving it valid and clean.
func (buf *Buf) Load(d disk.Disk, blkno common.Bnum) error {
	buf.valid = false
	buf.dirty = false
	buf.Blkno = blkno
	if err := d.ReadTo(blkno, buf.Data); err != nil {
		return err
	}
	buf.valid = true
	util.DPrintf(10, "%d: load\n", blkno)
	return nil
}

// WriteBack writes a dirty frame to d and marks it clean. Clean frames are
// not written.
func (buf *Buf) WriteBack(d disk.Disk) (bool, error) {
	if !buf.valid || !buf.dirty {
		return false, nil
	}
	if err := d.Write(buf.Blkno, buf.Data); err != nil {
		return false, fmt.Errorf("writing back block %d: %w", buf.Blkno, err)
	}
	buf.dirty = false
	util.DPrintf(10, "%d: write back\n", buf.Blkno)
	return true, nil
}

// Invalidate forgets the frame's contents without writing them.
func (buf *Buf) Invalidate() {
	buf.valid = false
	buf.dirty = false
}

func (buf *Buf) IsValid() bool {
	return buf.valid
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

func (buf *Buf) Pin() {
	buf.pin++
}

// Unpin drops one borrow; extra unpins are ignored.
func (buf *Buf) Unpin() {
	if buf.pin > 0 {
		buf.pin--
	}
}

func (buf *Buf) Pinned() bool {
	return buf.pin > 0
}

func (buf *Buf) PinCount() uint64 {
	return buf.pin
}

// Zero clears the payload and marks the frame dirty.
func (buf *Buf) Zero() {
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	buf.SetDirty()
}

// PtrGet reads the i-th u16 block pointer of an indirect block.
func (buf *Buf) PtrGet(i uint64) common.Dnum {
	off := i * common.PTRSZ
	return common.Dnum(binary.LittleEndian.Uint16(buf.Data[off : off+common.PTRSZ]))
}

func (buf *Buf) PtrPut(i uint64, v common.Dnum) {
	off := i * common.PTRSZ
	binary.LittleEndian.PutUint16(buf.Data[off:off+common.PTRSZ], uint16(v))
	buf.SetDirty()
}
