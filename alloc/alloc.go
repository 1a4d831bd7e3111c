package alloc

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-simplefs/util"
)

var ErrNoSpace = errors.New("no free bit")

// Alloc uses a bit map to allocate and free numbers. Bit 0 of byte 0
// corresponds to number 0, bit 1 to 1, and so on. Number 0 is reserved and
// never handed out.
//
// The bitmap and the free counter are views into state owned by the caller
// (the superblock), so every allocation and free is immediately reflected
// there.
type Alloc struct {
	bitmap []byte
	max    uint64  // numbers >= max are out of range
	nfree  *uint32 // kept equal to the number of clear bits below max
}

func MkAlloc(bitmap []byte, max uint64, nfree *uint32) *Alloc {
	if max > uint64(len(bitmap))*8 {
		panic("MkAlloc: bitmap too small")
	}
	a := &Alloc{
		bitmap: bitmap,
		max:    max,
		nfree:  nfree,
	}
	return a
}

// MkMaxAlloc makes an allocator over a private, all-free bitmap of max bits
// (with 0 reserved).
func MkMaxAlloc(max uint64) *Alloc {
	bitmap := make([]byte, util.RoundUp(max, 8))
	var nfree uint32
	a := MkAlloc(bitmap, max, &nfree)
	a.MarkUsed(0)
	a.Recount()
	return a
}

func (a *Alloc) test(n uint64) bool {
	return a.bitmap[n/8]&(1<<(n%8)) != 0
}

func (a *Alloc) set(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] | (1 << (n % 8))
}

func (a *Alloc) clear(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] & ^(1 << (n % 8))
}

// AllocNum returns the lowest free number and marks it used.
func (a *Alloc) AllocNum() (uint64, error) {
	for num := uint64(1); num < a.max; num++ {
		if !a.test(num) {
			a.set(num)
			*a.nfree--
			util.DPrintf(5, "AllocNum: %d\n", num)
			return num, nil
		}
	}
	return 0, ErrNoSpace
}

// FreeNum releases num. Freeing a number that is already free is a no-op, so
// the free counter cannot drift.
func (a *Alloc) FreeNum(num uint64) error {
	if num == 0 || num >= a.max {
		return fmt.Errorf("free %d: out of range [1, %d)", num, a.max)
	}
	if a.test(num) {
		a.clear(num)
		*a.nfree++
		util.DPrintf(5, "FreeNum: %d\n", num)
	}
	return nil
}

// MarkUsed sets num without going through AllocNum, e.g. for reserved
// numbers and numbers taken by a freshly formatted image.
func (a *Alloc) MarkUsed(num uint64) {
	if num >= a.max {
		panic("MarkUsed")
	}
	if !a.test(num) {
		a.set(num)
		if *a.nfree > 0 {
			*a.nfree--
		}
	}
}

func (a *Alloc) IsUsed(num uint64) bool {
	if num >= a.max {
		return false
	}
	return a.test(num)
}

func (a *Alloc) Max() uint64 {
	return a.max
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree counts the clear bits below max.
func (a *Alloc) NumFree() uint64 {
	var used uint64
	full := a.max / 8
	for _, b := range a.bitmap[:full] {
		used += popCnt(b)
	}
	for n := full * 8; n < a.max; n++ {
		if a.test(n) {
			used++
		}
	}
	return a.max - used
}

// Recount resets the free counter from the bitmap and reports whether it
// had drifted.
func (a *Alloc) Recount() bool {
	n := uint32(a.NumFree())
	drifted := *a.nfree != n
	*a.nfree = n
	return drifted
}
