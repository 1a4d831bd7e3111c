package buf

import (
	"github.com/mit-pdos/go-simplefs/common"
)

//
// A map from block numbers to bufs: open addressing with linear probing
// over a power-of-two table. Deletion re-inserts the rest of the probe
// cluster, so lookups never need tombstones.
//

type BufMap struct {
	slots []*Buf
	mask  uint64
	n     uint64
}

// MkBufMap sizes the table for at most nbuf entries, keeping the load
// factor at or below one half.
func MkBufMap(nbuf uint64) *BufMap {
	sz := uint64(2)
	for sz < 2*nbuf {
		sz *= 2
	}
	a := &BufMap{
		slots: make([]*Buf, sz),
		mask:  sz - 1,
	}
	return a
}

func hash(blkno common.Bnum) uint64 {
	x := uint32(blkno)
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return uint64(x)
}

func (bmap *BufMap) home(blkno common.Bnum) uint64 {
	return hash(blkno) & bmap.mask
}

func (bmap *BufMap) find(blkno common.Bnum) (uint64, bool) {
	i := bmap.home(blkno)
	for n := uint64(0); n <= bmap.mask; n++ {
		b := bmap.slots[i]
		if b == nil {
			return i, false
		}
		if b.Blkno == blkno {
			return i, true
		}
		i = (i + 1) & bmap.mask
	}
	return 0, false
}

func (bmap *BufMap) Lookup(blkno common.Bnum) *Buf {
	i, ok := bmap.find(blkno)
	if !ok {
		return nil
	}
	return bmap.slots[i]
}

// Insert maps buf.Blkno to buf, replacing any existing entry.
func (bmap *BufMap) Insert(buf *Buf) {
	i := bmap.home(buf.Blkno)
	for n := uint64(0); n <= bmap.mask; n++ {
		b := bmap.slots[i]
		if b == nil {
			bmap.slots[i] = buf
			bmap.n++
			return
		}
		if b.Blkno == buf.Blkno {
			bmap.slots[i] = buf
			return
		}
		i = (i + 1) & bmap.mask
	}
	panic("BufMap.Insert: table full")
}

func (bmap *BufMap) Del(blkno common.Bnum) bool {
	i, ok := bmap.find(blkno)
	if !ok {
		return false
	}
	bmap.slots[i] = nil
	bmap.n--
	j := (i + 1) & bmap.mask
	for bmap.slots[j] != nil {
		b := bmap.slots[j]
		bmap.slots[j] = nil
		bmap.n--
		bmap.Insert(b)
		j = (j + 1) & bmap.mask
	}
	return true
}

func (bmap *BufMap) Len() uint64 {
	return bmap.n
}

func (bmap *BufMap) Ndirty() uint64 {
	n := uint64(0)
	for _, b := range bmap.slots {
		if b != nil && b.dirty {
			n += 1
		}
	}
	return n
}

func (bmap *BufMap) Bufs() []*Buf {
	bufs := make([]*Buf, 0, bmap.n)
	for _, b := range bmap.slots {
		if b != nil {
			bufs = append(bufs, b)
		}
	}
	return bufs
}
