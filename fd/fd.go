// Package fd is the open-file table layered over a mounted FileSystem.
//
// Writes follow an overwrite-from-zero contract: every Write replaces the
// whole file with its argument, whatever the descriptor's offset was, and
// leaves the offset at the end of the new contents.
package fd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/fs"
	"github.com/mit-pdos/go-simplefs/util"
)

const (
	O_RD   uint32 = 1
	O_WR   uint32 = 2
	O_RDWR uint32 = O_RD | O_WR
)

var (
	ErrBadFd       = errors.New("bad file descriptor")
	ErrAccess      = errors.New("descriptor not opened for this access")
	ErrTooManyOpen = errors.New("too many open files")
	ErrLocked      = errors.New("file already open for writing")
)

type Fd = uint64

type file struct {
	inum  common.Inum
	off   uint64
	flags uint32
	used  bool
}

type Table struct {
	mu    sync.Mutex
	fsys  *fs.FileSystem
	files []file
}

func MkTable(fsys *fs.FileSystem) *Table {
	return &Table{
		fsys:  fsys,
		files: make([]file, fsys.Config().MaxFiles),
	}
}

// Open resolves a "/name" path and returns the lowest free descriptor.
// Opening with O_WR takes the file's write lock. While any descriptor is
// open on a file, the file cannot be removed.
func (t *Table) Open(path string, flags uint32) (Fd, error) {
	if flags == 0 || flags&^O_RDWR != 0 {
		return 0, fmt.Errorf("open %s: flags %#x: %w", path, flags, ErrAccess)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	inum, err := t.fsys.LookupPath(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	fd := -1
	for i := range t.files {
		if !t.files[i].used {
			fd = i
			break
		}
	}
	if fd < 0 {
		return 0, fmt.Errorf("open %s: %w", path, ErrTooManyOpen)
	}
	if err := t.fsys.Ref(inum); err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	if flags&O_WR != 0 {
		ok, err := t.fsys.TryLock(inum)
		if err != nil || !ok {
			t.fsys.Unref(inum)
		}
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", path, err)
		}
		if !ok {
			return 0, fmt.Errorf("open %s: %w", path, ErrLocked)
		}
	}
	t.files[fd] = file{inum: inum, flags: flags, used: true}
	util.DPrintf(5, "open %s -> fd %d (inode %d)\n", path, fd, inum)
	return Fd(fd), nil
}

func (t *Table) get(fd Fd, need uint32) (*file, error) {
	if fd >= uint64(len(t.files)) || !t.files[fd].used {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadFd)
	}
	f := &t.files[fd]
	if f.flags&need == 0 {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrAccess)
	}
	return f, nil
}

// Read fills buf from the descriptor's offset, up to the end of the file.
// If address translation fails part way, the bytes read so far are
// returned with the error.
func (t *Table) Read(fd Fd, buf []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := t.get(fd, O_RD)
	if err != nil {
		return 0, err
	}
	n, err := t.fsys.ReadAt(f.inum, f.off, buf)
	f.off += n
	return n, err
}

// Write replaces the file's contents with buf.
func (t *Table) Write(fd Fd, buf []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := t.get(fd, O_WR)
	if err != nil {
		return 0, err
	}
	f.off = 0
	n, err := t.fsys.Overwrite(f.inum, buf)
	f.off = n
	return n, err
}

// Close frees the descriptor and drops its write lock. It does not sync.
func (t *Table) Close(fd Fd) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.close(fd)
}

func (t *Table) close(fd Fd) error {
	if fd >= uint64(len(t.files)) || !t.files[fd].used {
		return fmt.Errorf("close fd %d: %w", fd, ErrBadFd)
	}
	f := t.files[fd]
	t.files[fd] = file{}
	t.fsys.Unref(f.inum)
	if f.flags&O_WR != 0 {
		return t.fsys.Unlock(f.inum)
	}
	return nil
}

// CloseAll closes every open descriptor, returning the first error.
func (t *Table) CloseAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for fd := range t.files {
		if !t.files[fd].used {
			continue
		}
		if err := t.close(Fd(fd)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *Table) NumOpen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := uint64(0)
	for _, f := range t.files {
		if f.used {
			n++
		}
	}
	return n
}
