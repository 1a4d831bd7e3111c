package fs

import (
	"fmt"
	"time"

	"github.com/mit-pdos/go-simplefs/alloc"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/super"
	"github.com/mit-pdos/go-simplefs/util"
)

type SeedFile struct {
	Name string
	Data []byte
}

type FormatOptions struct {
	Inodes uint64 // 0 selects common.MAXINODES
	Volume string
	Files  []SeedFile // created in the root directory, in order
	Now    func() time.Time
}

// Format writes an empty volume spanning all of d: superblock, inode table
// and a root directory with no entries, then creates any seed files. d is
// left open.
func Format(d disk.Disk, opts FormatOptions) error {
	if opts.Inodes == 0 {
		opts.Inodes = common.MAXINODES
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	sz, err := d.Size()
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	sb, err := super.MkSuper(sz, opts.Inodes, opts.Volume)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	l, err := sb.Layout(sz)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	ialloc := alloc.MkAlloc(sb.InodeBitmap(), l.NInode, &sb.NumFreeInodes)
	ialloc.MarkUsed(uint64(common.ROOTINUM))
	balloc := alloc.MkAlloc(sb.BlockBitmap(), l.NData, &sb.NumFreeBlocks)
	balloc.MarkUsed(uint64(common.NULLDNUM))

	tbl := inode.MkTable(l.InodeStart, l.NInode)
	root, _ := tbl.Get(common.ROOTINUM)
	*root = inode.MkInode(common.FtDir, uint32(opts.Now().Unix()))
	if err := tbl.Store(d); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if err := d.Write(0, sb.Encode()); err != nil {
		return fmt.Errorf("format: writing superblock: %w", err)
	}
	if err := d.Barrier(); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	util.DPrintf(1, "format: %q, %d blocks, %d inodes, data at %d\n",
		opts.Volume, sz, l.NInode, l.DataStart)

	if len(opts.Files) == 0 {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Now = opts.Now
	fs, err := Mount(d, cfg)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range opts.Files {
		inum, err := fs.create(f.Name, common.FtReg)
		if err != nil {
			return fmt.Errorf("format: seeding %q: %w", f.Name, err)
		}
		ip, _ := fs.inodes.Get(inum)
		if _, err := fs.overwrite(ip, f.Data); err != nil {
			return fmt.Errorf("format: seeding %q: %w", f.Name, err)
		}
	}
	return fs.sync()
}

// FormatFile creates (or truncates) the image file at path with nblocks
// blocks and formats it.
func FormatFile(path string, nblocks uint64, opts FormatOptions) error {
	d, err := disk.NewFileDisk(path, nblocks)
	if err != nil {
		return err
	}
	err = Format(d, opts)
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
