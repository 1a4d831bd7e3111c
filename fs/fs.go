// Package fs is the mounted-volume handle. A FileSystem owns the
// superblock, the inode table, both allocators, the block cache and the
// root directory's name index, and serializes every operation on them
// behind one mutex.
package fs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mit-pdos/go-simplefs/alloc"
	"github.com/mit-pdos/go-simplefs/bcache"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/dir"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/inode"
	"github.com/mit-pdos/go-simplefs/super"
	"github.com/mit-pdos/go-simplefs/util"
)

var (
	ErrNotFound   = errors.New("no such file")
	ErrExists     = errors.New("file exists")
	ErrBadPath    = errors.New("path is not of the form /name")
	ErrNoInodes   = errors.New("out of inodes")
	ErrNoBlocks   = errors.New("out of data blocks")
	ErrBusy       = errors.New("file is open")
	ErrNotMounted = errors.New("file system is not mounted")
)

type Config struct {
	Frames   uint64 // buffer cache frames
	MaxFiles uint64 // open-file table slots
	Buckets  uint64 // directory index buckets
	Now      func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Frames:   bcache.DEFAULTFRAMES,
		MaxFiles: 32,
		Buckets:  dir.DEFAULTBUCKETS,
		Now:      time.Now,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Frames == 0 {
		cfg.Frames = def.Frames
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.Buckets == 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return cfg
}

// exhaustedError is ErrNoInodes or ErrNoBlocks carrying the allocator's
// failure, so errors.Is matches both.
type exhaustedError struct {
	kind  error
	cause error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *exhaustedError) Is(target error) bool {
	return target == e.kind
}

func (e *exhaustedError) Unwrap() error {
	return e.cause
}

// SyncError reports a failure while persisting state: in-memory and
// on-disk state may now disagree. Stage names the step that failed.
type SyncError struct {
	Stage string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type FileSystem struct {
	mu     sync.Mutex
	cfg    Config
	d      disk.Disk
	sb     *super.Superblock
	layout super.Layout
	inodes *inode.Table
	ialloc *alloc.Alloc
	balloc *alloc.Alloc
	cache  *bcache.Bcache
	index  *dir.Index
	opens  map[common.Inum]uint64 // open descriptors per inode
}

// Mount loads the volume on d. The FileSystem takes ownership of d and
// closes it on Unmount.
func Mount(d disk.Disk, cfg Config) (*FileSystem, error) {
	cfg = cfg.withDefaults()
	sz, err := d.Size()
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	blk, err := d.Read(0)
	if err != nil {
		return nil, fmt.Errorf("mount: reading superblock: %w", err)
	}
	sb, err := super.Decode(blk)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	l, err := sb.Layout(sz)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	fs := &FileSystem{
		cfg:    cfg,
		d:      d,
		sb:     sb,
		layout: l,
		opens:  make(map[common.Inum]uint64),
	}
	fs.ialloc = alloc.MkAlloc(sb.InodeBitmap(), l.NInode, &sb.NumFreeInodes)
	fs.balloc = alloc.MkAlloc(sb.BlockBitmap(), l.NData, &sb.NumFreeBlocks)
	fs.ialloc.MarkUsed(uint64(common.NULLINUM))
	fs.ialloc.MarkUsed(uint64(sb.RootInum()))
	fs.balloc.MarkUsed(uint64(common.NULLDNUM))
	idrift := fs.ialloc.Recount()
	bdrift := fs.balloc.Recount()
	if idrift || bdrift {
		util.DPrintf(1, "mount: free counters disagreed with bitmaps; reset\n")
	}

	fs.inodes, err = inode.Load(d, l.InodeStart, l.NInode)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	// write locks do not survive a remount
	for i := uint64(0); i < fs.inodes.Len(); i++ {
		ip, _ := fs.inodes.Get(common.Inum(i))
		ip.Locked = 0
	}

	fs.cache = bcache.MkBcache(d, cfg.Frames)
	if err := fs.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	util.DPrintf(1, "mount: %q, %d inodes at %d, %d data blocks at %d, %d files\n",
		sb.Volume(), l.NInode, l.InodeStart, l.NData, l.DataStart, fs.index.Len())
	return fs, nil
}

// MountFile mounts the image file at path.
func MountFile(path string, cfg Config) (*FileSystem, error) {
	d, err := disk.OpenFileDisk(path)
	if err != nil {
		return nil, err
	}
	fs, err := Mount(d, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileSystem) checkMounted() error {
	if fs.cache == nil {
		return ErrNotMounted
	}
	return nil
}

// Sync persists dirty cache frames, the inode table and the superblock,
// then flushes the disk. Failures are *SyncError.
func (fs *FileSystem) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.sync()
}

func (fs *FileSystem) sync() error {
	if _, err := fs.cache.Sync(); err != nil {
		return &SyncError{Stage: "buffers", Err: err}
	}
	if err := fs.inodes.Store(fs.d); err != nil {
		return &SyncError{Stage: "inodes", Err: err}
	}
	if err := fs.d.Write(0, fs.sb.Encode()); err != nil {
		return &SyncError{Stage: "superblock", Err: err}
	}
	if err := fs.d.Barrier(); err != nil {
		return &SyncError{Stage: "barrier", Err: err}
	}
	return nil
}

// Unmount syncs and then releases the cache, the index and the disk. The
// disk is closed even if the sync fails.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return err
	}
	err := fs.sync()
	fs.cache.Invalidate()
	fs.cache = nil
	fs.index = nil
	if cerr := fs.d.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("unmount: %w", cerr)
	}
	util.DPrintf(1, "unmount: %q\n", fs.sb.Volume())
	return err
}

func (fs *FileSystem) Config() Config {
	return fs.cfg
}

func (fs *FileSystem) now() uint32 {
	return uint32(fs.cfg.Now().Unix())
}

// Stat returns a copy of inode inum.
func (fs *FileSystem) Stat(inum common.Inum) (inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkMounted(); err != nil {
		return inode.Inode{}, err
	}
	ip, err := fs.inodes.Get(inum)
	if err != nil {
		return inode.Inode{}, err
	}
	return *ip, nil
}

// SuperInfo summarizes the superblock.
type SuperInfo struct {
	Volume     string `yaml:"volume"`
	Partition  uint32 `yaml:"partition"`
	Blocks     uint32 `yaml:"blocks"`
	FreeBlocks uint32 `yaml:"freeBlocks"`
	Inodes     uint32 `yaml:"inodes"`
	FreeInodes uint32 `yaml:"freeInodes"`
	InodeStart uint64 `yaml:"inodeStart"`
	DataStart  uint64 `yaml:"dataStart"`
	DataBlocks uint64 `yaml:"dataBlocks"`
}

func (fs *FileSystem) Super() SuperInfo {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return SuperInfo{
		Volume:     fs.sb.Volume(),
		Partition:  fs.sb.PartitionType,
		Blocks:     fs.sb.NumBlocks,
		FreeBlocks: fs.sb.NumFreeBlocks,
		Inodes:     uint32(fs.layout.NInode),
		FreeInodes: fs.sb.NumFreeInodes,
		InodeStart: fs.layout.InodeStart,
		DataStart:  fs.layout.DataStart,
		DataBlocks: fs.layout.NData,
	}
}

func (fs *FileSystem) CacheStats() bcache.Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cache == nil {
		return bcache.Stats{}
	}
	return fs.cache.Stats()
}
