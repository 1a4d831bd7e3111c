package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-simplefs/common"
)

// NOINDIRECT is the on-disk encoding of "no indirect block".
const NOINDIRECT int32 = -1

// Inode is the in-memory form of a 32-byte on-disk inode:
//
//	mode(4) locked(4) date(4) size(4) indirect(4, signed) direct(6 x 2)
//
// Direct and Indirect hold the raw on-disk encoding; callers go through
// DirectBlock and IndirectBlock, which map the sentinels to ok=false.
type Inode struct {
	Mode     uint32
	Locked   uint32
	Date     uint32
	Size     uint32
	Indirect int32
	Direct   [common.NDIRECT]uint16
}

func MkInode(t common.FileType, date uint32) Inode {
	return Inode{
		Mode:     t.Mode(),
		Date:     date,
		Indirect: NOINDIRECT,
	}
}

func Decode(b []byte) Inode {
	if uint64(len(b)) < common.INODESZ {
		panic("inode.Decode: short buffer")
	}
	dec := marshal.NewDec(b[:common.INODESZ])
	ip := Inode{}
	ip.Mode = dec.GetInt32()
	ip.Locked = dec.GetInt32()
	ip.Date = dec.GetInt32()
	ip.Size = dec.GetInt32()
	ip.Indirect = int32(dec.GetInt32())
	ptrs := dec.GetBytes(common.NDIRECT * common.PTRSZ)
	for i := range ip.Direct {
		ip.Direct[i] = binary.LittleEndian.Uint16(ptrs[i*2:])
	}
	return ip
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(ip.Mode)
	enc.PutInt32(ip.Locked)
	enc.PutInt32(ip.Date)
	enc.PutInt32(ip.Size)
	enc.PutInt32(uint32(ip.Indirect))
	ptrs := make([]byte, common.NDIRECT*common.PTRSZ)
	for i, p := range ip.Direct {
		binary.LittleEndian.PutUint16(ptrs[i*2:], p)
	}
	enc.PutBytes(ptrs)
	return enc.Finish()
}

func (ip *Inode) IsDir() bool {
	return ip.Mode&common.ModeDir != 0
}

func (ip *Inode) IsLocked() bool {
	return ip.Locked != 0
}

// DirectBlock returns the data block behind direct slot i, if any.
func (ip *Inode) DirectBlock(i uint64) (common.Dnum, bool) {
	dn := common.Dnum(ip.Direct[i])
	return dn, dn != common.NULLDNUM
}

// SetDirect points direct slot i at dn; NULLDNUM clears the slot.
func (ip *Inode) SetDirect(i uint64, dn common.Dnum) {
	if uint64(dn) > 0xffff {
		panic(fmt.Sprintf("SetDirect: block %d does not fit a pointer", dn))
	}
	ip.Direct[i] = uint16(dn)
}

// IndirectBlock returns the inode's indirect pointer block, if any. Data
// block 0 is never allocated, so a zero field also means none.
func (ip *Inode) IndirectBlock() (common.Dnum, bool) {
	if ip.Indirect <= 0 {
		return common.NULLDNUM, false
	}
	return common.Dnum(ip.Indirect), true
}

func (ip *Inode) SetIndirect(dn common.Dnum) {
	ip.Indirect = int32(dn)
}

func (ip *Inode) ClearIndirect() {
	ip.Indirect = NOINDIRECT
}
