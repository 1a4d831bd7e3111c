package fs

import (
	"fmt"
	"strings"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/dir"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/util"
)

func (fs *FileSystem) root() *inode.Inode {
	ip, err := fs.inodes.Get(fs.sb.RootInum())
	if err != nil {
		// Layout checks the root inode against the table size
		panic(err)
	}
	return ip
}

// readRoot decodes every record slot of the root directory, free slots
// included. Records are not block aligned, so each one goes through the
// byte-range read path.
func (fs *FileSystem) readRoot() ([]dir.Dentry, error) {
	root := fs.root()
	nrec := uint64(root.Size) / common.DENTRYSZ
	ents := make([]dir.Dentry, 0, nrec)
	rec := make([]byte, common.DENTRYSZ)
	for i := uint64(0); i < nrec; i++ {
		n, err := fs.readAt(root, i*common.DENTRYSZ, rec)
		if err != nil {
			return nil, fmt.Errorf("root directory record %d: %w", i, err)
		}
		if n != common.DENTRYSZ {
			break
		}
		ents = append(ents, dir.Decode(rec))
	}
	return ents, nil
}

func (fs *FileSystem) rebuildIndex() error {
	ents, err := fs.readRoot()
	if err != nil {
		return err
	}
	fs.index = dir.Build(ents, fs.cfg.Buckets)
	return nil
}

// RebuildIndex re-reads the root directory into the name index.
func (fs *FileSystem) RebuildIndex() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.rebuildIndex()
}

// ListRoot returns the used records of the root directory in on-disk
// order.
func (fs *FileSystem) ListRoot() ([]dir.Dentry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return nil, err
	}
	ents, err := fs.readRoot()
	if err != nil {
		return nil, err
	}
	used := ents[:0]
	for _, de := range ents {
		if de.Used() {
			used = append(used, de)
		}
	}
	return used, nil
}

// SplitRoot returns the name in a path of the form "/name".
func SplitRoot(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%q: %w", path, ErrBadPath)
	}
	name := path[1:]
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%q: %w", path, ErrBadPath)
	}
	return name, nil
}

// Lookup finds name in the root directory index.
func (fs *FileSystem) Lookup(name string) (common.Inum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return common.NULLINUM, err
	}
	inum, ok := fs.index.Lookup(name)
	if !ok {
		return common.NULLINUM, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	// the record may name an inode the table does not have
	if _, err := fs.inodes.Get(inum); err != nil {
		return common.NULLINUM, fmt.Errorf("%q: %w", name, err)
	}
	return inum, nil
}

// LookupPath resolves a "/name" path.
func (fs *FileSystem) LookupPath(path string) (common.Inum, error) {
	name, err := SplitRoot(path)
	if err != nil {
		return common.NULLINUM, err
	}
	return fs.Lookup(name)
}

// Create makes an empty object of type t named name in the root directory.
// The record goes into the first free slot, or is appended.
func (fs *FileSystem) Create(name string, t common.FileType) (common.Inum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return common.NULLINUM, err
	}
	return fs.create(name, t)
}

func (fs *FileSystem) create(name string, t common.FileType) (common.Inum, error) {
	if err := dir.ValidName(name); err != nil {
		return common.NULLINUM, err
	}
	if _, ok := fs.index.Lookup(name); ok {
		return common.NULLINUM, fmt.Errorf("%q: %w", name, ErrExists)
	}
	ents, err := fs.readRoot()
	if err != nil {
		return common.NULLINUM, err
	}
	slot := uint64(len(ents))
	for i, de := range ents {
		if !de.Used() {
			slot = uint64(i)
			break
		}
	}

	n, err := fs.ialloc.AllocNum()
	if err != nil {
		return common.NULLINUM, &exhaustedError{kind: ErrNoInodes, cause: err}
	}
	inum := common.Inum(n)
	de, _ := dir.MkDentry(name, inum, t)
	root := fs.root()
	if _, err := fs.writeAt(root, slot*common.DENTRYSZ, de.Encode()); err != nil {
		fs.ialloc.FreeNum(n)
		return common.NULLINUM, err
	}
	ip, _ := fs.inodes.Get(inum)
	*ip = inode.MkInode(t, fs.now())
	root.Date = ip.Date
	util.DPrintf(5, "create: %q -> %d in slot %d\n", name, inum, slot)

	if err := fs.rebuildIndex(); err != nil {
		return inum, err
	}
	return inum, nil
}

// Remove deletes name from the root directory and frees its inode and
// blocks. A file with open descriptors cannot be removed.
func (fs *FileSystem) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	inum, ok := fs.index.Lookup(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return err
	}
	if ip.IsLocked() || fs.opens[inum] > 0 {
		return fmt.Errorf("%q: %w", name, ErrBusy)
	}
	ents, err := fs.readRoot()
	if err != nil {
		return err
	}
	root := fs.root()
	for i, de := range ents {
		if de.Used() && de.Name == name {
			empty := make([]byte, common.DENTRYSZ)
			if _, err := fs.writeAt(root, uint64(i)*common.DENTRYSZ, empty); err != nil {
				return err
			}
			break
		}
	}
	if err := fs.freeAll(ip); err != nil {
		return err
	}
	*ip = inode.Inode{}
	if err := fs.ialloc.FreeNum(uint64(inum)); err != nil {
		return err
	}
	root.Date = fs.now()
	util.DPrintf(5, "remove: %q (%d)\n", name, inum)
	return fs.rebuildIndex()
}
