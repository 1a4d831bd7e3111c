package fs

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/util"
)

var (
	ErrNoMapping    = errors.New("no block mapped at logical block")
	ErrFileTooLarge = errors.New("logical block beyond maximum file size")
)

// allocBlock takes a data block from the bitmap and zeroes it through the
// cache.
func (fs *FileSystem) allocBlock() (common.Dnum, error) {
	n, err := fs.balloc.AllocNum()
	if err != nil {
		return common.NULLDNUM, &exhaustedError{kind: ErrNoBlocks, cause: err}
	}
	dn := common.Dnum(n)
	b, err := fs.cache.Get(fs.layout.DataAddr(dn))
	if err != nil {
		fs.balloc.FreeNum(n)
		return common.NULLDNUM, err
	}
	b.Zero()
	fs.cache.Release(b)
	return dn, nil
}

func (fs *FileSystem) freeBlock(dn common.Dnum) error {
	if err := fs.balloc.FreeNum(uint64(dn)); err != nil {
		return fmt.Errorf("freeing data block: %w", err)
	}
	return nil
}

// getPhys maps logical block lbn of ip to a data block. With grow set,
// missing direct slots, the indirect block and indirect slots are
// allocated on the way; otherwise a missing mapping is ErrNoMapping.
func (fs *FileSystem) getPhys(ip *inode.Inode, lbn uint64, grow bool) (common.Dnum, error) {
	if lbn >= common.MAXBLOCKS {
		return common.NULLDNUM, fmt.Errorf("block %d: %w", lbn, ErrFileTooLarge)
	}
	if lbn < common.NDIRECT {
		dn, ok := ip.DirectBlock(lbn)
		if ok {
			return dn, nil
		}
		if !grow {
			return common.NULLDNUM, fmt.Errorf("block %d: %w", lbn, ErrNoMapping)
		}
		dn, err := fs.allocBlock()
		if err != nil {
			return common.NULLDNUM, err
		}
		ip.SetDirect(lbn, dn)
		return dn, nil
	}

	ind, ok := ip.IndirectBlock()
	if !ok {
		if !grow {
			return common.NULLDNUM, fmt.Errorf("block %d: %w", lbn, ErrNoMapping)
		}
		var err error
		ind, err = fs.allocBlock()
		if err != nil {
			return common.NULLDNUM, err
		}
		ip.SetIndirect(ind)
		util.DPrintf(5, "getPhys: indirect block %d\n", ind)
	}

	b, err := fs.cache.Get(fs.layout.DataAddr(ind))
	if err != nil {
		return common.NULLDNUM, err
	}
	defer fs.cache.Release(b)
	slot := lbn - common.NDIRECT
	dn := b.PtrGet(slot)
	if dn != common.NULLDNUM {
		return dn, nil
	}
	if !grow {
		return common.NULLDNUM, fmt.Errorf("block %d: %w", lbn, ErrNoMapping)
	}
	dn, err = fs.allocBlock()
	if err != nil {
		return common.NULLDNUM, err
	}
	b.PtrPut(slot, dn)
	return dn, nil
}

// ensureBlocks maps logical blocks [0, nblk) of ip, allocating as needed.
func (fs *FileSystem) ensureBlocks(ip *inode.Inode, nblk uint64) error {
	if nblk > common.MAXBLOCKS {
		return fmt.Errorf("%d blocks: %w", nblk, ErrFileTooLarge)
	}
	for lbn := uint64(0); lbn < nblk; lbn++ {
		if _, err := fs.getPhys(ip, lbn, true); err != nil {
			return err
		}
	}
	return nil
}

// freeExcess frees every data block of ip at logical index keep or beyond.
// The indirect block itself is kept, even if it ends up empty.
func (fs *FileSystem) freeExcess(ip *inode.Inode, keep uint64) error {
	for i := keep; i < common.NDIRECT; i++ {
		if dn, ok := ip.DirectBlock(i); ok {
			if err := fs.freeBlock(dn); err != nil {
				return err
			}
			ip.SetDirect(i, common.NULLDNUM)
		}
	}
	ind, ok := ip.IndirectBlock()
	if !ok {
		return nil
	}
	start := uint64(0)
	if keep > common.NDIRECT {
		start = keep - common.NDIRECT
	}
	b, err := fs.cache.Get(fs.layout.DataAddr(ind))
	if err != nil {
		return err
	}
	defer fs.cache.Release(b)
	for i := start; i < common.NINDIRECT; i++ {
		dn := b.PtrGet(i)
		if dn == common.NULLDNUM {
			continue
		}
		if err := fs.freeBlock(dn); err != nil {
			return err
		}
		b.PtrPut(i, common.NULLDNUM)
	}
	return nil
}

// freeAll releases every block of ip, including its indirect block.
func (fs *FileSystem) freeAll(ip *inode.Inode) error {
	if err := fs.freeExcess(ip, 0); err != nil {
		return err
	}
	if ind, ok := ip.IndirectBlock(); ok {
		if err := fs.freeBlock(ind); err != nil {
			return err
		}
		ip.ClearIndirect()
	}
	return nil
}
