// Package wire implements the on-wire binary records of the backing
// store: the dirfrag Fnode, the per-inode InodeStore, and the dentry
// records a dirfrag's omap values hold. Encoding is hand-written MessagePack built
// directly on tinylib/msgp/msgp's Append/Read primitives rather than
// msgp-generated code, the same low-level API the generator itself
// targets, because these records are few and small enough that codegen
// would only add a build step.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// InodeMagic precedes every on-disk inode object's InodeStore payload.
// A mismatch here is treated as corruption by the scavenger's roots pass.
const InodeMagic uint32 = 0x01300001

// NoSnap is CephFS's CEPH_NOSNAP sentinel, the snapid every live (not
// snapshotted) dentry carries as its dnlast. dentry_key_t renders it as
// the literal "head" instead of hex.
const NoSnap uint64 = 0xfffffffffffffffe

// Dentry value kinds: every dirfrag omap value is prefixed by
// (dnfirst, kind).
const (
	KindPrimary byte = 'I' // fullbit, embeds a bare InodeStore
	KindRemote  byte = 'L' // remotebit, a hard link to another dentry's inode
)

type (
	// RawInode is the inode proper, independent of how it's anchored
	// into a directory (root object vs. dentry). Version is the
	// authoritative monotonic counter every scavenger write gate compares.
	RawInode struct {
		Ino     uint64
		Version uint64
		Size    int64
		Mtime   int64
		Mode    uint32
	}

	OldInode struct {
		Ino     uint64
		Version uint64
	}

	// InodeStore is the full backing record for an inode: the inode
	// itself plus xattrs, dirfragtree, snapshot blob, symlink target, and
	// old-inode history.
	InodeStore struct {
		Inode       RawInode
		Xattrs      map[string][]byte
		DirFragTree []byte
		SnapBlob    []byte
		Symlink     string
		OldInodes   []OldInode
	}

	// Fnode is a dirfrag's fragment-node header; its Version gates every
	// overwrite of that dirfrag's omap header and, transitively, every
	// remote-dentry write in the same lump.
	Fnode struct {
		Version uint64
		Size    int64
		Mtime   int64
	}

	// Fullbit is a primary dentry carried inside a metablob's dirlump (or,
	// for inodes lacking an ancestor in this event, inside the metablob's
	// roots list). Dn/DnFirst/DnLast anchor it to a directory entry; the
	// rest is exactly an InodeStore.
	Fullbit struct {
		Dn      string
		DnFirst uint64
		DnLast  uint64
		InodeStore
	}

	// Remotebit is a hard link to an inode owned by another dentry.
	Remotebit struct {
		Dn      string
		DnFirst uint64
		DnLast  uint64
		Ino     uint64
		DType   uint8
	}

	// Nullbit is a tombstone.
	Nullbit struct {
		Dn      string
		DnFirst uint64
		DnLast  uint64
	}
)

// A bit is well-formed only when DnFirst <= DnLast.
func (fb Fullbit) Valid() bool   { return fb.DnFirst <= fb.DnLast }
func (rb Remotebit) Valid() bool { return rb.DnFirst <= rb.DnLast }
func (nb Nullbit) Valid() bool   { return nb.DnFirst <= nb.DnLast }

// OmapKey returns the dirfrag omap key this bit occupies: "<dn>_<snapid>",
// where the snapid is DnLast rendered in hex, like CephFS's own
// dentry_key_t::encode — not DnFirst, which only appears in the value's
// (dnfirst, kind) prefix. CEPH_NOSNAP renders as the literal "head"
// rather than its hex value, matching a live (non-snapshotted) dentry's
// on-disk key.
func (fb Fullbit) OmapKey() string   { return omapKey(fb.Dn, fb.DnLast) }
func (rb Remotebit) OmapKey() string { return omapKey(rb.Dn, rb.DnLast) }
func (nb Nullbit) OmapKey() string   { return omapKey(nb.Dn, nb.DnLast) }

func omapKey(dn string, dnLast uint64) string {
	if dnLast == NoSnap {
		return dn + "_head"
	}
	return fmt.Sprintf("%s_%x", dn, dnLast)
}

// AppendFullbit/ReadFullbit expose the single-Fullbit wire codec for
// callers (metablob's Roots list) that encode fullbits outside of a
// dirlump's three-list bit lump.
func AppendFullbit(b []byte, fb Fullbit) []byte { return appendFullbit(b, fb) }
func ReadFullbit(b []byte) (Fullbit, []byte, error) { return readFullbit(b) }

func appendFullbit(b []byte, fb Fullbit) []byte {
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendString(b, fb.Dn)
	b = msgp.AppendUint64(b, fb.DnFirst)
	b = msgp.AppendUint64(b, fb.DnLast)
	return appendInodeStore(b, fb.InodeStore)
}

func readFullbit(b []byte) (Fullbit, []byte, error) {
	var fb Fullbit
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return fb, b, err
	}
	if sz != 4 {
		return fb, b, fmt.Errorf("wire: Fullbit array size %d, want 4", sz)
	}
	if fb.Dn, b, err = msgp.ReadStringBytes(b); err != nil {
		return fb, b, err
	}
	if fb.DnFirst, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return fb, b, err
	}
	if fb.DnLast, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return fb, b, err
	}
	if fb.InodeStore, b, err = readInodeStore(b); err != nil {
		return fb, b, err
	}
	return fb, b, nil
}

func appendRemotebit(b []byte, rb Remotebit) []byte {
	b = msgp.AppendArrayHeader(b, 5)
	b = msgp.AppendString(b, rb.Dn)
	b = msgp.AppendUint64(b, rb.DnFirst)
	b = msgp.AppendUint64(b, rb.DnLast)
	b = msgp.AppendUint64(b, rb.Ino)
	b = msgp.AppendUint8(b, rb.DType)
	return b
}

func readRemotebit(b []byte) (Remotebit, []byte, error) {
	var rb Remotebit
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return rb, b, err
	}
	if sz != 5 {
		return rb, b, fmt.Errorf("wire: Remotebit array size %d, want 5", sz)
	}
	if rb.Dn, b, err = msgp.ReadStringBytes(b); err != nil {
		return rb, b, err
	}
	if rb.DnFirst, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return rb, b, err
	}
	if rb.DnLast, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return rb, b, err
	}
	if rb.Ino, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return rb, b, err
	}
	if rb.DType, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return rb, b, err
	}
	return rb, b, nil
}

func appendNullbit(b []byte, nb Nullbit) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, nb.Dn)
	b = msgp.AppendUint64(b, nb.DnFirst)
	b = msgp.AppendUint64(b, nb.DnLast)
	return b
}

func readNullbit(b []byte) (Nullbit, []byte, error) {
	var nb Nullbit
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nb, b, err
	}
	if sz != 3 {
		return nb, b, fmt.Errorf("wire: Nullbit array size %d, want 3", sz)
	}
	if nb.Dn, b, err = msgp.ReadStringBytes(b); err != nil {
		return nb, b, err
	}
	if nb.DnFirst, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return nb, b, err
	}
	if nb.DnLast, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return nb, b, err
	}
	return nb, b, nil
}

// EncodeBitLump serialises a dirlump's three bit lists into the single
// lazy-encoded buffer a Dirlump carries until its bits are decoded.
func EncodeBitLump(dfull []Fullbit, dremote []Remotebit, dnull []Nullbit) []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(dfull)))
	for _, fb := range dfull {
		b = appendFullbit(b, fb)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(dremote)))
	for _, rb := range dremote {
		b = appendRemotebit(b, rb)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(dnull)))
	for _, nb := range dnull {
		b = appendNullbit(b, nb)
	}
	return b
}

// DecodeBitLump is the inverse of EncodeBitLump.
func DecodeBitLump(b []byte) (dfull []Fullbit, dremote []Remotebit, dnull []Nullbit, err error) {
	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	dfull = make([]Fullbit, n)
	for i := range dfull {
		if dfull[i], b, err = readFullbit(b); err != nil {
			return
		}
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	dremote = make([]Remotebit, n)
	for i := range dremote {
		if dremote[i], b, err = readRemotebit(b); err != nil {
			return
		}
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	dnull = make([]Nullbit, n)
	for i := range dnull {
		if dnull[i], b, err = readNullbit(b); err != nil {
			return
		}
	}
	return
}

/////////////////////
// RawInode/InodeStore
/////////////////////

func appendRawInode(b []byte, ri RawInode) []byte {
	b = msgp.AppendArrayHeader(b, 5)
	b = msgp.AppendUint64(b, ri.Ino)
	b = msgp.AppendUint64(b, ri.Version)
	b = msgp.AppendInt64(b, ri.Size)
	b = msgp.AppendInt64(b, ri.Mtime)
	b = msgp.AppendUint32(b, ri.Mode)
	return b
}

func readRawInode(b []byte) (RawInode, []byte, error) {
	var ri RawInode
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return ri, b, err
	}
	if sz != 5 {
		return ri, b, fmt.Errorf("wire: RawInode array size %d, want 5", sz)
	}
	if ri.Ino, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return ri, b, err
	}
	if ri.Version, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return ri, b, err
	}
	if ri.Size, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return ri, b, err
	}
	if ri.Mtime, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return ri, b, err
	}
	if ri.Mode, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return ri, b, err
	}
	return ri, b, nil
}

func appendInodeStore(b []byte, is InodeStore) []byte {
	b = msgp.AppendArrayHeader(b, 6)
	b = appendRawInode(b, is.Inode)
	b = msgp.AppendMapHeader(b, uint32(len(is.Xattrs)))
	for k, v := range is.Xattrs {
		b = msgp.AppendString(b, k)
		b = msgp.AppendBytes(b, v)
	}
	b = msgp.AppendBytes(b, is.DirFragTree)
	b = msgp.AppendBytes(b, is.SnapBlob)
	b = msgp.AppendString(b, is.Symlink)
	b = msgp.AppendArrayHeader(b, uint32(len(is.OldInodes)))
	for _, oi := range is.OldInodes {
		b = msgp.AppendArrayHeader(b, 2)
		b = msgp.AppendUint64(b, oi.Ino)
		b = msgp.AppendUint64(b, oi.Version)
	}
	return b
}

func readInodeStore(b []byte) (InodeStore, []byte, error) {
	var is InodeStore
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return is, b, err
	}
	if sz != 6 {
		return is, b, fmt.Errorf("wire: InodeStore array size %d, want 6", sz)
	}
	if is.Inode, b, err = readRawInode(b); err != nil {
		return is, b, err
	}
	var nx uint32
	if nx, b, err = msgp.ReadMapHeaderBytes(b); err != nil {
		return is, b, err
	}
	if nx > 0 {
		is.Xattrs = make(map[string][]byte, nx)
	}
	for i := uint32(0); i < nx; i++ {
		var k string
		var v []byte
		if k, b, err = msgp.ReadStringBytes(b); err != nil {
			return is, b, err
		}
		if v, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
			return is, b, err
		}
		is.Xattrs[k] = v
	}
	if is.DirFragTree, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return is, b, err
	}
	if is.SnapBlob, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return is, b, err
	}
	if is.Symlink, b, err = msgp.ReadStringBytes(b); err != nil {
		return is, b, err
	}
	var no uint32
	if no, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return is, b, err
	}
	is.OldInodes = make([]OldInode, no)
	for i := range is.OldInodes {
		var asz uint32
		if asz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return is, b, err
		}
		if asz != 2 {
			return is, b, fmt.Errorf("wire: OldInode array size %d, want 2", asz)
		}
		if is.OldInodes[i].Ino, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return is, b, err
		}
		if is.OldInodes[i].Version, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return is, b, err
		}
	}
	return is, b, nil
}

// EncodeInodeStoreBare encodes is without the inode-object magic, the
// form embedded in a dirfrag's omap value for a primary ('I') dentry.
func EncodeInodeStoreBare(is InodeStore) []byte {
	return appendInodeStore(nil, is)
}

// DecodeInodeStoreBare is the inverse of EncodeInodeStoreBare.
func DecodeInodeStoreBare(b []byte) (InodeStore, error) {
	is, rest, err := readInodeStore(b)
	if err != nil {
		return is, err
	}
	if len(rest) != 0 {
		return is, fmt.Errorf("wire: %d trailing bytes after InodeStore", len(rest))
	}
	return is, nil
}

// EncodeInodeStoreFull encodes the root-inode backing object's content:
// the magic followed by the InodeStore.
func EncodeInodeStoreFull(is InodeStore) []byte {
	b := msgp.AppendUint32(nil, InodeMagic)
	return appendInodeStore(b, is)
}

// DecodeInodeStoreFull decodes a root-inode object's content, reporting
// ok=false (not an error) on magic mismatch — the scavenger's roots pass
// treats that the same as "absent".
func DecodeInodeStoreFull(b []byte) (is InodeStore, ok bool, err error) {
	magic, rest, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return is, false, err
	}
	if magic != InodeMagic {
		return is, false, nil
	}
	is, rest, err = readInodeStore(rest)
	if err != nil {
		return is, false, err
	}
	if len(rest) != 0 {
		return is, false, fmt.Errorf("wire: %d trailing bytes after InodeStore", len(rest))
	}
	return is, true, nil
}

/////////
// Fnode
/////////

func EncodeFnode(fn Fnode) []byte {
	b := msgp.AppendArrayHeader(nil, 3)
	b = msgp.AppendUint64(b, fn.Version)
	b = msgp.AppendInt64(b, fn.Size)
	b = msgp.AppendInt64(b, fn.Mtime)
	return b
}

func DecodeFnode(b []byte) (Fnode, error) {
	var fn Fnode
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return fn, err
	}
	if sz != 3 {
		return fn, fmt.Errorf("wire: Fnode array size %d, want 3", sz)
	}
	if fn.Version, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return fn, err
	}
	if fn.Size, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return fn, err
	}
	if fn.Mtime, _, err = msgp.ReadInt64Bytes(b); err != nil {
		return fn, err
	}
	return fn, nil
}

///////////////////
// dentry records
///////////////////

// EncodeDentryPrimary builds the omap value for a primary ('I') dentry:
// dnfirst, the 'I' kind byte, then the bare InodeStore.
func EncodeDentryPrimary(dnFirst uint64, is InodeStore) []byte {
	b := msgp.AppendUint64(nil, dnFirst)
	b = append(b, KindPrimary)
	return append(b, EncodeInodeStoreBare(is)...)
}

// EncodeDentryRemote builds the omap value for a remote ('L') dentry:
// dnfirst, the 'L' kind byte, then the target ino and d_type.
func EncodeDentryRemote(dnFirst, ino uint64, dType uint8) []byte {
	b := msgp.AppendUint64(nil, dnFirst)
	b = append(b, KindRemote)
	b = msgp.AppendUint64(b, ino)
	b = msgp.AppendUint8(b, dType)
	return b
}

// DecodedDentry is the parsed form of any omap value under a dirfrag
// object's dentry key.
type DecodedDentry struct {
	DnFirst uint64
	Kind    byte
	// populated when Kind == KindPrimary
	Inode InodeStore
	// populated when Kind == KindRemote
	RemoteIno   uint64
	RemoteDType uint8
}

// DecodeDentry parses any dentry record, returning an error when the
// embedded bare InodeStore (for 'I') fails to decode — the scavenger
// treats that as corruption and overwrites unconditionally.
func DecodeDentry(b []byte) (DecodedDentry, error) {
	var d DecodedDentry
	var err error
	if d.DnFirst, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return d, err
	}
	if len(b) < 1 {
		return d, fmt.Errorf("wire: dentry record truncated before kind byte")
	}
	d.Kind = b[0]
	b = b[1:]
	switch d.Kind {
	case KindPrimary:
		is, err := DecodeInodeStoreBare(b)
		if err != nil {
			return d, err
		}
		d.Inode = is
	case KindRemote:
		if d.RemoteIno, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return d, err
		}
		if d.RemoteDType, _, err = msgp.ReadUint8Bytes(b); err != nil {
			return d, err
		}
	default:
		return d, fmt.Errorf("wire: unknown dentry kind %q", d.Kind)
	}
	return d, nil
}
