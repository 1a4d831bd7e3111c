// Package dir holds the root directory's record format and the in-memory
// name index built from it.
package dir

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-simplefs/common"
)

var ErrBadName = errors.New("invalid file name")

// Dentry is one fixed-length directory record:
//
//	inode(4) rec_len(4) name_len(4) type(4) name(256)
//
// Records with Inum NULLINUM are free slots.
type Dentry struct {
	Inum   common.Inum
	RecLen uint32
	Type   common.FileType
	Name   string
}

func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	if uint64(len(name)) > common.MAXNAMELEN {
		return fmt.Errorf("%d-byte name: %w", len(name), ErrBadName)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	return nil
}

func MkDentry(name string, inum common.Inum, t common.FileType) (Dentry, error) {
	if err := ValidName(name); err != nil {
		return Dentry{}, err
	}
	return Dentry{
		Inum:   inum,
		RecLen: uint32(common.DENTRYSZ),
		Type:   t,
		Name:   name,
	}, nil
}

// Decode parses a record. An out-of-range name length falls back to the
// NUL-terminated prefix of the name buffer.
func Decode(b []byte) Dentry {
	if uint64(len(b)) < common.DENTRYSZ {
		panic("dir.Decode: short buffer")
	}
	dec := marshal.NewDec(b[:common.DENTRYSZ])
	de := Dentry{}
	de.Inum = common.Inum(dec.GetInt32())
	de.RecLen = dec.GetInt32()
	namelen := uint64(dec.GetInt32())
	de.Type = common.FileType(dec.GetInt32())
	namebuf := dec.GetBytes(common.NAMEBUFSZ)
	if namelen == 0 || namelen > common.MAXNAMELEN {
		namelen = uint64(len(namebuf))
		if i := bytes.IndexByte(namebuf, 0); i >= 0 {
			namelen = uint64(i)
		}
	}
	de.Name = string(namebuf[:namelen])
	return de
}

func (de *Dentry) Encode() []byte {
	enc := marshal.NewEnc(common.DENTRYSZ)
	enc.PutInt32(uint32(de.Inum))
	enc.PutInt32(de.RecLen)
	enc.PutInt32(uint32(len(de.Name)))
	enc.PutInt32(uint32(de.Type))
	namebuf := make([]byte, common.NAMEBUFSZ)
	copy(namebuf[:common.MAXNAMELEN], de.Name)
	enc.PutBytes(namebuf)
	return enc.Finish()
}

func (de *Dentry) Used() bool {
	return de.Inum != common.NULLINUM
}

func (de *Dentry) IsDot() bool {
	return de.Name == "." || de.Name == ".."
}

// Indexed reports whether the record belongs in the name index.
func (de *Dentry) Indexed() bool {
	return de.Used() && !de.IsDot()
}
