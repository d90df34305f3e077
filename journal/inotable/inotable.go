// Package inotable implements the per-rank free-inode table and its
// reconciliation against a scavenge run's consumed inode set.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package inotable

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinylib/msgp/msgp"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/cos"
	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/objstore"
)

// maxConcurrentRanks bounds how many rank inotables Reconcile touches at
// once; ranks are independent objects, so fan-out is safe, but an
// unbounded errgroup would open one connection per rank on a large
// cluster for no benefit.
const maxConcurrentRanks = 8

// tableMagic distinguishes a decodable inotable object's payload from
// garbage, the same defensive pattern wire.InodeMagic uses for inodes.
const tableMagic uint32 = 0x1a0b17e5

// Table is one rank's free-inode bitmap, represented as the set of
// still-free inode numbers. This tool only ever asks "is ino free" and
// "consume ino", so a flat set suffices and the encoding stays a flat
// array instead of needing an interval codec.
type Table struct {
	Version uint64
	Free    map[uint64]struct{}
}

// ForceConsume removes ino from the free set unconditionally, returning
// whether the table actually changed. Consuming an ino that is already
// used is a no-op, matching the idempotent semantics the scavenger as a
// whole relies on.
func (t *Table) ForceConsume(ino uint64) bool {
	if _, free := t.Free[ino]; !free {
		return false
	}
	delete(t.Free, ino)
	return true
}

func EncodeTable(t Table) []byte {
	b := msgp.AppendUint32(nil, tableMagic)
	b = msgp.AppendUint64(b, t.Version)
	b = msgp.AppendArrayHeader(b, uint32(len(t.Free)))
	for ino := range t.Free {
		b = msgp.AppendUint64(b, ino)
	}
	return b
}

func DecodeTable(b []byte) (Table, error) {
	var t Table
	magic, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return t, err
	}
	if magic != tableMagic {
		return t, fmt.Errorf("inotable: bad magic %#x", magic)
	}
	if t.Version, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return t, err
	}
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return t, err
	}
	t.Free = make(map[uint64]struct{}, n)
	for i := uint32(0); i < n; i++ {
		var ino uint64
		if ino, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return t, err
		}
		t.Free[ino] = struct{}{}
	}
	return t, nil
}

// RankError records which rank's reconciliation failed without aborting
// the remaining ranks.
type RankError struct {
	Rank int64
	Err  error
}

func (e *RankError) Error() string { return fmt.Sprintf("inotable: rank %d: %v", e.Rank, e.Err) }
func (e *RankError) Unwrap() error { return e.Err }

// Reconciler applies a scavenge run's consumed-inode set to every
// participating rank's inotable object.
type Reconciler struct {
	Client objstore.Client
	Cfg    *cmn.Config
}

func New(cl objstore.Client, cfg *cmn.Config) *Reconciler {
	return &Reconciler{Client: cl, Cfg: cfg}
}

// Reconcile fans out across every rank with bounded concurrency (ranks
// are disjoint objects), applying ForceConsume for every ino in consumed
// to each rank's table. A failing rank is recorded and the rest still
// run.
//
// errs carries one *RankError per failing rank, in ranks order, for
// detailed reporting. overall is a cos.ErrValue latch applied across the
// fan-out: the first rank error observed (completion order, not ranks
// order) wins and the rest are only counted.
func (r *Reconciler) Reconcile(ctx context.Context, ranks []int64, consumed map[uint64]struct{}) (errs []error, overall error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRanks)

	var (
		mu      sync.Mutex
		byRank  = make(map[int64]error, len(ranks))
		errVal  cos.ErrValue
	)
	for _, rank := range ranks {
		rank := rank
		g.Go(func() error {
			if err := r.reconcileRank(gctx, rank, consumed); err != nil {
				rankErr := &RankError{Rank: rank, Err: err}
				errVal.Store(rankErr)
				mu.Lock()
				byRank[rank] = err
				mu.Unlock()
			}
			return nil // per-rank failures don't cancel sibling ranks
		})
	}
	_ = g.Wait()

	for _, rank := range ranks {
		if err, ok := byRank[rank]; ok {
			errs = append(errs, &RankError{Rank: rank, Err: err})
		}
	}
	return errs, errVal.Err()
}

func (r *Reconciler) reconcileRank(ctx context.Context, rank int64, consumed map[uint64]struct{}) error {
	oid := r.Cfg.InoTableOID(rank)
	const maxTableLen = 16 << 20
	buf := make([]byte, maxTableLen)
	raw, err := r.Client.Read(ctx, oid, buf, 0)
	if err != nil {
		return objstore.NewBackendError("read", oid, err)
	}
	table, err := DecodeTable(raw)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	modified := false
	for ino := range consumed {
		if table.ForceConsume(ino) {
			modified = true
		}
	}
	if !modified {
		return nil
	}
	table.Version++
	if err := r.Client.WriteFull(ctx, oid, EncodeTable(table)); err != nil {
		return objstore.NewBackendError("write_full", oid, err)
	}
	nlog.Infof("inotable: rank %d: version -> %d", rank, table.Version)
	return nil
}
