package fs

import (
	"fmt"

	"github.com/mit-pdos/go-simplefs/addr"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/util"
)

// readAt copies bytes of ip starting at off into dst, never past the
// recorded size. If translation fails part way it returns the bytes copied
// so far with the error.
func (fs *FileSystem) readAt(ip *inode.Inode, off uint64, dst []byte) (uint64, error) {
	size := uint64(ip.Size)
	if off >= size {
		return 0, nil
	}
	n := util.Min(uint64(len(dst)), size-off)
	var done uint64
	for done < n {
		a := addr.FileAddr(off + done)
		chunk := a.Chunk(n - done)
		dn, err := fs.getPhys(ip, a.Blkno, false)
		if err != nil {
			return done, err
		}
		b, err := fs.cache.Get(fs.layout.DataAddr(dn))
		if err != nil {
			return done, err
		}
		copy(dst[done:done+chunk], b.Data[a.Off:a.Off+chunk])
		fs.cache.Release(b)
		done += chunk
	}
	return done, nil
}

// writeAt copies src into ip at off, allocating blocks as needed, and
// extends the recorded size if the write ends past it.
func (fs *FileSystem) writeAt(ip *inode.Inode, off uint64, src []byte) (uint64, error) {
	n := uint64(len(src))
	if util.SumOverflows(off, n) || off+n > common.MAXBLOCKS*common.BlockSize {
		return 0, fmt.Errorf("write of %d at %d: %w", n, off, ErrFileTooLarge)
	}
	var done uint64
	for done < n {
		a := addr.FileAddr(off + done)
		chunk := a.Chunk(n - done)
		dn, err := fs.getPhys(ip, a.Blkno, true)
		if err != nil {
			return done, err
		}
		b, err := fs.cache.Get(fs.layout.DataAddr(dn))
		if err != nil {
			return done, err
		}
		copy(b.Data[a.Off:a.Off+chunk], src[done:done+chunk])
		b.SetDirty()
		fs.cache.Release(b)
		done += chunk
	}
	if off+n > uint64(ip.Size) {
		ip.Size = uint32(off + n)
	}
	return n, nil
}

// overwrite replaces the whole contents of ip with data: blocks for data
// are mapped first, the bytes are written from offset zero, the size
// becomes len(data), and blocks past the new end are freed.
func (fs *FileSystem) overwrite(ip *inode.Inode, data []byte) (uint64, error) {
	n := uint64(len(data))
	nblk := util.RoundUp(n, common.BlockSize)
	if err := fs.ensureBlocks(ip, nblk); err != nil {
		// drop whatever was mapped past the old contents
		keep := util.RoundUp(uint64(ip.Size), common.BlockSize)
		if ferr := fs.freeExcess(ip, keep); ferr != nil {
			util.DPrintf(1, "overwrite: releasing blocks past %d: %v\n", keep, ferr)
			return 0, fmt.Errorf("%w (releasing blocks: %v)", err, ferr)
		}
		return 0, err
	}
	if _, err := fs.writeAt(ip, 0, data); err != nil {
		return 0, err
	}
	ip.Size = uint32(n)
	if err := fs.freeExcess(ip, nblk); err != nil {
		return n, err
	}
	ip.Date = fs.now()
	util.DPrintf(5, "overwrite: %d bytes, %d blocks\n", n, nblk)
	return n, nil
}

// ReadAt reads from inode inum at byte offset off.
func (fs *FileSystem) ReadAt(inum common.Inum, off uint64, dst []byte) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return 0, err
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return 0, err
	}
	return fs.readAt(ip, off, dst)
}

// Overwrite replaces the contents of inode inum with data.
func (fs *FileSystem) Overwrite(inum common.Inum, data []byte) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return 0, err
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return 0, err
	}
	return fs.overwrite(ip, data)
}

// Ref records an open descriptor on inode inum. Remove refuses inodes
// with outstanding references.
func (fs *FileSystem) Ref(inum common.Inum) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	if _, err := fs.inodes.Get(inum); err != nil {
		return err
	}
	fs.opens[inum]++
	return nil
}

func (fs *FileSystem) Unref(inum common.Inum) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.opens[inum] <= 1 {
		delete(fs.opens, inum)
		return
	}
	fs.opens[inum]--
}

// TryLock sets the write lock of inode inum, reporting false if it was
// already held.
func (fs *FileSystem) TryLock(inum common.Inum) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return false, err
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return false, err
	}
	if ip.IsLocked() {
		return false, nil
	}
	ip.Locked = 1
	return true, nil
}

func (fs *FileSystem) Unlock(inum common.Inum) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return err
	}
	ip.Locked = 0
	return nil
}
