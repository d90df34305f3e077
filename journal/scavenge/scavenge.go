// Package scavenge implements the version-gated application of a
// metablob's dirlumps and roots to the backing dirfrag/inode objects.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package scavenge

import (
	"context"
	"fmt"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/cmn/tracing"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	"github.com/NVIDIA/mdjtool/journal/wire"
	"github.com/NVIDIA/mdjtool/objstore"
)

// Scavenger applies metablobs to a backing object store, writing only
// records strictly newer than what the store already holds.
type Scavenger struct {
	Client objstore.Client
	Cfg    *cmn.Config
}

func New(cl objstore.Client, cfg *cmn.Config) *Scavenger {
	return &Scavenger{Client: cl, Cfg: cfg}
}

// frag_oid naming mirrors JournalOID's hex-object-index convention
// applied instead to (ino, frag) addressing: dirfrag objects are named
// "<ino(%x)>.<frag(%08x)>".
func fragOID(ino uint64, frag uint32) string {
	return fmt.Sprintf("%x.%08x", ino, frag)
}

func inodeOID(ino uint64) string {
	return fmt.Sprintf("%x.00000000.inode", ino)
}

// ScavengeDentries applies mb's dirlumps and roots. consumedInos
// accumulates every inode number touched by a staged (or, under dry_run,
// would-be-staged) write, for later inode-table reconciliation.
func (s *Scavenger) ScavengeDentries(ctx context.Context, mb *metablob.Metablob, dryRun bool, consumedInos map[uint64]struct{}) error {
	ctx, span := tracing.Tracer().Start(ctx, "scavenge_dentries")
	defer span.End()

	if err := mb.Lumps(func(id metablob.DirfragID, dl *metablob.Dirlump) error {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		return s.scavengeDirlump(ctx, id, dl, dryRun, consumedInos)
	}); err != nil {
		return err
	}
	return s.scavengeRoots(ctx, mb.Roots, dryRun, consumedInos)
}

func (s *Scavenger) scavengeDirlump(ctx context.Context, id metablob.DirfragID, dl *metablob.Dirlump, dryRun bool, consumedInos map[uint64]struct{}) error {
	if err := dl.DecodeBits(); err != nil {
		nlog.Warningf("scavenge: dirfrag %s: %v; skipping lump", id, err)
		return nil
	}
	oid := fragOID(id.Ino, id.Frag)

	oldVersion, writeFnode, err := s.checkFnode(ctx, oid, dl.Fnode.Version)
	if err != nil {
		return objstore.NewBackendError("omap_get_header", oid, err)
	}
	if writeFnode && !dryRun {
		if err := s.Client.OmapSetHeader(ctx, oid, wire.EncodeFnode(dl.Fnode)); err != nil {
			return objstore.NewBackendError("omap_set_header", oid, err)
		}
	}

	readKeys := make([]string, 0, len(dl.Dfull)+len(dl.Dremote))
	for _, fb := range dl.Dfull {
		readKeys = append(readKeys, fb.OmapKey())
	}
	for _, rb := range dl.Dremote {
		readKeys = append(readKeys, rb.OmapKey())
	}
	readVals, err := s.Client.OmapGetValsByKeys(ctx, oid, readKeys)
	if err != nil && !objstore.IsNotFound(err) {
		return objstore.NewBackendError("omap_get_vals_by_keys", oid, err)
	}

	writeVals := make(map[string][]byte)
	for _, fb := range dl.Dfull {
		if shouldWriteFullbit(readVals[fb.OmapKey()], fb, oldVersion, dl.Fnode.Version) {
			writeVals[fb.OmapKey()] = wire.EncodeDentryPrimary(fb.DnFirst, fb.InodeStore)
			consumedInos[fb.Inode.Ino] = struct{}{}
		}
	}
	for _, rb := range dl.Dremote {
		if shouldWriteRemotebit(readVals[rb.OmapKey()], oldVersion, dl.Fnode.Version) {
			writeVals[rb.OmapKey()] = wire.EncodeDentryRemote(rb.DnFirst, rb.Ino, rb.DType)
			consumedInos[rb.Ino] = struct{}{}
		}
	}

	var rmKeys []string
	for _, nb := range dl.Dnull {
		// Honour nullbits the same way the online replay path does: a
		// tombstone removes its key.
		rmKeys = append(rmKeys, nb.OmapKey())
	}

	if !dryRun {
		if len(writeVals) > 0 {
			if err := s.Client.OmapSet(ctx, oid, writeVals); err != nil {
				return objstore.NewBackendError("omap_set", oid, err)
			}
		}
		if len(rmKeys) > 0 {
			if err := s.Client.OmapRmKeys(ctx, oid, rmKeys); err != nil {
				return objstore.NewBackendError("omap_rm_keys", oid, err)
			}
		}
	}
	return nil
}

// checkFnode resolves the fnode gate: absent or corrupt headers are
// overwritten, decodable ones only when strictly older.
func (s *Scavenger) checkFnode(ctx context.Context, oid string, incomingVersion uint64) (oldVersion uint64, write bool, err error) {
	blob, err := s.Client.OmapGetHeader(ctx, oid)
	if err != nil {
		if objstore.IsNotFound(err) {
			return 0, true, nil
		}
		return 0, false, err
	}
	fn, derr := wire.DecodeFnode(blob)
	if derr != nil {
		return 0, true, nil // corrupt header: overwrite unconditionally
	}
	return fn.Version, fn.Version < incomingVersion, nil
}

// shouldWriteFullbit decides whether an incoming primary dentry replaces
// whatever the slot currently holds.
func shouldWriteFullbit(existing []byte, fb wire.Fullbit, oldFnodeVersion, incomingFnodeVersion uint64) bool {
	if existing == nil {
		return true
	}
	dd, err := wire.DecodeDentry(existing)
	if err != nil {
		return true // corrupt -> overwrite
	}
	switch dd.Kind {
	case wire.KindRemote:
		return oldFnodeVersion < incomingFnodeVersion
	case wire.KindPrimary:
		return dd.Inode.Inode.Version < fb.Inode.Version
	default:
		return true
	}
}

// shouldWriteRemotebit gates on the dirlump's fnode version for both the
// I and L existing cases, not on a per-dentry version (remote links carry
// none).
func shouldWriteRemotebit(existing []byte, oldFnodeVersion, incomingFnodeVersion uint64) bool {
	if existing == nil {
		return true
	}
	if _, err := wire.DecodeDentry(existing); err != nil {
		return true
	}
	return oldFnodeVersion < incomingFnodeVersion
}

// scavengeRoots is the roots pass: inodes lacking an ancestor dirlump in
// this event are written directly to their own backing object.
func (s *Scavenger) scavengeRoots(ctx context.Context, roots []wire.Fullbit, dryRun bool, consumedInos map[uint64]struct{}) error {
	for _, fb := range roots {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		oid := inodeOID(fb.Inode.Ino)
		write, err := s.checkRootWrite(ctx, oid, fb)
		if err != nil {
			return objstore.NewBackendError("read", oid, err)
		}
		if write {
			consumedInos[fb.Inode.Ino] = struct{}{}
			if !dryRun {
				if err := s.Client.WriteFull(ctx, oid, wire.EncodeInodeStoreFull(fb.InodeStore)); err != nil {
					return objstore.NewBackendError("write_full", oid, err)
				}
			}
		}
	}
	return nil
}

func (s *Scavenger) checkRootWrite(ctx context.Context, oid string, fb wire.Fullbit) (bool, error) {
	const maxInodeObjLen = 1 << 20
	buf := make([]byte, maxInodeObjLen)
	out, err := s.Client.Read(ctx, oid, buf, 0)
	if err != nil {
		if objstore.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	existing, ok, err := wire.DecodeInodeStoreFull(out)
	if err != nil || !ok {
		return true, nil
	}
	return existing.Inode.Version < fb.Inode.Version, nil
}
