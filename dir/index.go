package dir

import (
	"hash/fnv"

	"github.com/mit-pdos/go-simplefs/common"
	"github.com/mit-pdos/go-simplefs/util"
)

const DEFAULTBUCKETS uint64 = 1024

type node struct {
	name string
	inum common.Inum
	next *node
}

// Index maps names to inode numbers with chained hashing on FNV-1a. It is a
// snapshot: it does not follow later changes to the directory it was built
// from.
type Index struct {
	buckets []*node
	n       uint64
}

// MkIndex makes an empty index; nbucket 0 selects DEFAULTBUCKETS.
func MkIndex(nbucket uint64) *Index {
	if nbucket == 0 {
		nbucket = DEFAULTBUCKETS
	}
	return &Index{buckets: make([]*node, nbucket)}
}

// Build indexes the used, non-dot records of ents.
func Build(ents []Dentry, nbucket uint64) *Index {
	ix := MkIndex(nbucket)
	for _, de := range ents {
		if de.Indexed() {
			ix.Insert(de.Name, de.Inum)
		}
	}
	util.DPrintf(5, "dir.Build: %d of %d records\n", ix.Len(), len(ents))
	return ix
}

func (ix *Index) bucket(name string) uint64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return uint64(h.Sum32()) % uint64(len(ix.buckets))
}

// Insert maps name to inum. A name already present keeps its first
// mapping, matching a front-to-back scan of the directory.
func (ix *Index) Insert(name string, inum common.Inum) bool {
	b := ix.bucket(name)
	for e := ix.buckets[b]; e != nil; e = e.next {
		if e.name == name {
			return false
		}
	}
	ix.buckets[b] = &node{name: name, inum: inum, next: ix.buckets[b]}
	ix.n++
	return true
}

func (ix *Index) Lookup(name string) (common.Inum, bool) {
	for e := ix.buckets[ix.bucket(name)]; e != nil; e = e.next {
		if e.name == name {
			return e.inum, true
		}
	}
	return common.NULLINUM, false
}

func (ix *Index) Len() uint64 {
	return ix.n
}
