// Package bcache is a write-back block cache with a fixed pool of frames.
//
// Get pins the frame it returns; a pinned frame is never evicted. Callers
// that modify a frame call SetDirty on it before Release, and must not touch
// its data after Release. Eviction takes the least recently used unpinned
// frame and writes it back first if it is dirty.
package bcache

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-simplefs/buf"
	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/disk"
	"github.com/mit-pdos/go-simplefs/util"
)

const DEFAULTFRAMES uint64 = 128

var ErrAllPinned = errors.New("all buffer frames are pinned")

type Stats struct {
	Hits       uint64 `yaml:"hits"`
	Misses     uint64 `yaml:"misses"`
	Evictions  uint64 `yaml:"evictions"`
	Writebacks uint64 `yaml:"writebacks"`
}

type Bcache struct {
	d      disk.Disk
	frames []*buf.Buf
	lru    *buf.List
	index  *buf.BufMap
	stats  Stats
}

// MkBcache makes a cache of nbuf frames over d; nbuf 0 selects
// DEFAULTFRAMES.
func MkBcache(d disk.Disk, nbuf uint64) *Bcache {
	if nbuf == 0 {
		nbuf = DEFAULTFRAMES
	}
	c := &Bcache{
		d:      d,
		frames: make([]*buf.Buf, nbuf),
		lru:    &buf.List{},
		index:  buf.MkBufMap(nbuf),
	}
	for i := range c.frames {
		b := buf.MkBuf()
		c.frames[i] = b
		c.lru.PushFront(b)
	}
	return c
}

// Get returns the frame holding block blkno, pinned.
func (c *Bcache) Get(blkno common.Bnum) (*buf.Buf, error) {
	if b := c.index.Lookup(blkno); b != nil {
		c.stats.Hits++
		b.Pin()
		c.lru.MoveToFront(b)
		return b, nil
	}
	c.stats.Misses++

	b := c.lru.Victim()
	if b == nil {
		return nil, fmt.Errorf("reading block %d: %w", blkno, ErrAllPinned)
	}
	if err := c.evict(b); err != nil {
		return nil, err
	}
	if err := b.Load(c.d, blkno); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", blkno, err)
	}
	b.Pin()
	c.index.Insert(b)
	c.lru.MoveToFront(b)
	util.DPrintf(5, "bcache: miss %d\n", blkno)
	return b, nil
}

// evict writes b back if needed and unmaps it. If the write-back fails, b
// stays mapped and dirty.
func (c *Bcache) evict(b *buf.Buf) error {
	if !b.IsValid() {
		return nil
	}
	wrote, err := b.WriteBack(c.d)
	if err != nil {
		return err
	}
	if wrote {
		c.stats.Writebacks++
	}
	util.DPrintf(5, "bcache: evict %d (dirty %v)\n", b.Blkno, wrote)
	c.index.Del(b.Blkno)
	b.Invalidate()
	c.stats.Evictions++
	return nil
}

// Release drops the pin taken by Get.
func (c *Bcache) Release(b *buf.Buf) {
	b.Unpin()
}

// Sync writes back every dirty frame. It neither evicts nor unpins. On
// error, the frames not yet written remain dirty.
func (c *Bcache) Sync() (uint64, error) {
	n := uint64(0)
	for _, b := range c.frames {
		wrote, err := b.WriteBack(c.d)
		if err != nil {
			return n, err
		}
		if wrote {
			n++
			c.stats.Writebacks++
		}
	}
	util.DPrintf(1, "bcache: synced %d frames\n", n)
	return n, nil
}

// Invalidate drops every cached block without writing it back.
func (c *Bcache) Invalidate() {
	for _, b := range c.frames {
		if b.IsValid() {
			c.index.Del(b.Blkno)
		}
		b.Invalidate()
	}
}

func (c *Bcache) Ndirty() uint64 {
	return c.index.Ndirty()
}

func (c *Bcache) NumFrames() uint64 {
	return uint64(len(c.frames))
}

// Cached reports whether blkno is resident, without touching LRU order or
// the statistics.
func (c *Bcache) Cached(blkno common.Bnum) bool {
	return c.index.Lookup(blkno) != nil
}

func (c *Bcache) Stats() Stats {
	return c.stats
}
