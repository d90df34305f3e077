// Package metablob implements the decoded form of an update event's
// payload: roots, an ordered list of dirfrags, and per-dirfrag lumps of
// full/remote/null dentry bits.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package metablob

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/NVIDIA/mdjtool/journal/wire"
)

// DirfragID addresses a directory fragment by (ino, frag). It is
// comparable, so it doubles as a LumpMap key directly.
type DirfragID struct {
	Ino  uint64
	Frag uint32
}

func (d DirfragID) String() string { return fmt.Sprintf("%x.%x", d.Ino, d.Frag) }

// Dirlump is one dirfrag's worth of change: its (possibly bumped) fnode
// and the three bit lists. The bit lists are only valid after DecodeBits
// materialises them from the lazy-encoded buffer a freshly-decoded
// Metablob holds.
type Dirlump struct {
	Fnode wire.Fnode

	raw     []byte
	decoded bool

	Dfull   []wire.Fullbit
	Dremote []wire.Remotebit
	Dnull   []wire.Nullbit
}

// DecodeBits materialises Dfull/Dremote/Dnull from the lump's raw wire
// buffer. Calling it more than once is a no-op.
func (dl *Dirlump) DecodeBits() error {
	if dl.decoded {
		return nil
	}
	dfull, dremote, dnull, err := wire.DecodeBitLump(dl.raw)
	if err != nil {
		return fmt.Errorf("metablob: decode dirlump bits: %w", err)
	}
	dl.Dfull, dl.Dremote, dl.Dnull = dfull, dremote, dnull
	dl.decoded = true
	return nil
}

// NewDirlump constructs a Dirlump directly from materialised bit lists
// (used when building a metablob to write, as opposed to one just
// decoded off the wire).
func NewDirlump(fn wire.Fnode, dfull []wire.Fullbit, dremote []wire.Remotebit, dnull []wire.Nullbit) *Dirlump {
	return &Dirlump{Fnode: fn, Dfull: dfull, Dremote: dremote, Dnull: dnull, decoded: true}
}

// Metablob is the payload of an Update/SlaveUpdate/SubtreeMap event.
type Metablob struct {
	Roots         []wire.Fullbit
	LumpOrder     []DirfragID
	LumpMap       map[DirfragID]*Dirlump
	Destroyed     []uint64 // destroyed_inodes
	RenamedDirIno *uint64
}

// Lumps iterates dirlumps in LumpOrder, the only source of truth for
// iteration order (map iteration order is undefined).
func (mb *Metablob) Lumps(fn func(id DirfragID, dl *Dirlump) error) error {
	for _, id := range mb.LumpOrder {
		dl, ok := mb.LumpMap[id]
		if !ok {
			return fmt.Errorf("metablob: lump_order references missing dirfrag %s", id)
		}
		if err := fn(id, dl); err != nil {
			return err
		}
	}
	return nil
}

func Encode(mb *Metablob) ([]byte, error) {
	b := msgp.AppendArrayHeader(nil, uint32(len(mb.Roots)))
	for _, fb := range mb.Roots {
		b = wire.AppendFullbit(b, fb)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(mb.LumpOrder)))
	for _, id := range mb.LumpOrder {
		dl, ok := mb.LumpMap[id]
		if !ok {
			return nil, fmt.Errorf("metablob: lump_order references missing dirfrag %s", id)
		}
		b = msgp.AppendUint64(b, id.Ino)
		b = msgp.AppendUint32(b, id.Frag)
		b = msgp.AppendUint64(b, dl.Fnode.Version)
		b = msgp.AppendInt64(b, dl.Fnode.Size)
		b = msgp.AppendInt64(b, dl.Fnode.Mtime)
		var raw []byte
		if dl.decoded {
			raw = wire.EncodeBitLump(dl.Dfull, dl.Dremote, dl.Dnull)
		} else {
			raw = dl.raw
		}
		b = msgp.AppendBytes(b, raw)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(mb.Destroyed)))
	for _, ino := range mb.Destroyed {
		b = msgp.AppendUint64(b, ino)
	}
	if mb.RenamedDirIno != nil {
		b = msgp.AppendBool(b, true)
		b = msgp.AppendUint64(b, *mb.RenamedDirIno)
	} else {
		b = msgp.AppendBool(b, false)
	}
	return b, nil
}

func Decode(b []byte) (*Metablob, error) {
	mb := &Metablob{LumpMap: make(map[DirfragID]*Dirlump)}
	nroots, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("metablob: roots header: %w", err)
	}
	mb.Roots = make([]wire.Fullbit, nroots)
	for i := range mb.Roots {
		var fb wire.Fullbit
		if fb, b, err = wire.ReadFullbit(b); err != nil {
			return nil, fmt.Errorf("metablob: root %d: %w", i, err)
		}
		mb.Roots[i] = fb
	}
	nlumps, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("metablob: lump_order header: %w", err)
	}
	mb.LumpOrder = make([]DirfragID, nlumps)
	for i := uint32(0); i < nlumps; i++ {
		var id DirfragID
		if id.Ino, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		if id.Frag, b, err = msgp.ReadUint32Bytes(b); err != nil {
			return nil, err
		}
		var fn wire.Fnode
		if fn.Version, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		if fn.Size, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, err
		}
		if fn.Mtime, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return nil, err
		}
		var raw []byte
		if raw, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
			return nil, err
		}
		mb.LumpOrder[i] = id
		mb.LumpMap[id] = &Dirlump{Fnode: fn, raw: raw}
	}
	ndestroyed, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	mb.Destroyed = make([]uint64, ndestroyed)
	for i := range mb.Destroyed {
		if mb.Destroyed[i], b, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
	}
	hasRenamed, b, err := msgp.ReadBoolBytes(b)
	if err != nil {
		return nil, err
	}
	if hasRenamed {
		var ino uint64
		if ino, _, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		mb.RenamedDirIno = &ino
	}
	return mb, nil
}

