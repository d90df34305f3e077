// Package select implements the event-selection predicates behind the
// CLI's selector flags: independently-optional filters over offset
// range, dentry path, inode number, event type, (frag, dname), and
// client id, all ANDed together. Grouping them as composable Predicate
// values keeps the CLI from growing a hand-rolled if-ladder per flag.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package jselect

import (
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	"github.com/NVIDIA/mdjtool/journal/scan"
	"github.com/NVIDIA/mdjtool/journal/wire"
)

// Predicate reports whether one scanned event, at the given offset,
// passes a filter. Range is a Predicate like any other, not special-cased
// by the scanner — the caller that drives the scan decides what to do
// with a rejected offset (skip it in a sink, or include it in an erase
// span).
type Predicate func(offset int64, e *event.Event) bool

// All ANDs every non-nil predicate; an empty list always matches.
func All(preds ...Predicate) Predicate {
	live := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			live = append(live, p)
		}
	}
	return func(offset int64, e *event.Event) bool {
		for _, p := range live {
			if !p(offset, e) {
				return false
			}
		}
		return true
	}
}

// Range matches offsets in [lo, hi).
func Range(lo, hi int64) Predicate {
	return func(offset int64, _ *event.Event) bool {
		return offset >= lo && offset < hi
	}
}

// Type matches events of the given kind.
func Type(k event.Kind) Predicate {
	return func(_ int64, e *event.Event) bool { return e.Kind == k }
}

// ClientID matches Open/Session events belonging to one client.
func ClientID(id uint64) Predicate {
	return func(_ int64, e *event.Event) bool {
		switch e.Kind {
		case event.KindOpen, event.KindSession:
			return e.ClientID == id
		default:
			return false
		}
	}
}

// Inode matches any event whose metablob mentions ino as a root, a
// dirlump's own directory inode, or a full/remote dentry's target inode.
func Inode(ino uint64) Predicate {
	return func(_ int64, e *event.Event) bool {
		return metablobMatches(e,
			func(id metablob.DirfragID, dl *metablob.Dirlump) bool {
				if id.Ino == ino {
					return true
				}
				if err := dl.DecodeBits(); err != nil {
					return false
				}
				for _, fb := range dl.Dfull {
					if fb.Inode.Ino == ino {
						return true
					}
				}
				for _, rb := range dl.Dremote {
					if rb.Ino == ino {
						return true
					}
				}
				return false
			},
			func(fb wire.Fullbit) bool { return fb.Inode.Ino == ino })
	}
}

// Path matches a full dentry by exact name anywhere in the metablob.
func Path(name string) Predicate {
	return func(_ int64, e *event.Event) bool {
		return metablobMatches(e,
			func(_ metablob.DirfragID, dl *metablob.Dirlump) bool {
				if err := dl.DecodeBits(); err != nil {
					return false
				}
				for _, fb := range dl.Dfull {
					if fb.Dn == name {
						return true
					}
				}
				for _, rb := range dl.Dremote {
					if rb.Dn == name {
						return true
					}
				}
				return false
			},
			func(fb wire.Fullbit) bool { return fb.Dn == name })
	}
}

// Frag matches a specific (ino, frag), optionally narrowed to one dname
// within it; dname == "" matches the whole dirfrag.
func Frag(ino uint64, frag uint32, dname string) Predicate {
	want := metablob.DirfragID{Ino: ino, Frag: frag}
	return func(_ int64, e *event.Event) bool {
		return metablobMatches(e, func(id metablob.DirfragID, dl *metablob.Dirlump) bool {
			if id != want {
				return false
			}
			if dname == "" {
				return true
			}
			if err := dl.DecodeBits(); err != nil {
				return false
			}
			for _, fb := range dl.Dfull {
				if fb.Dn == dname {
					return true
				}
			}
			for _, rb := range dl.Dremote {
				if rb.Dn == dname {
					return true
				}
			}
			for _, nb := range dl.Dnull {
				if nb.Dn == dname {
					return true
				}
			}
			return false
		}, nil)
	}
}

// metablobMatches runs lumpFn over every dirlump (in scan order) and, if
// given, rootsFn over every root fullbit; it matches if either ever
// returns true. rootsFn is nil for predicates that are dirlump-only
// (Frag addresses a dirfrag directly, so a root can never satisfy it).
func metablobMatches(e *event.Event, lumpFn func(metablob.DirfragID, *metablob.Dirlump) bool, rootsFn func(wire.Fullbit) bool) bool {
	if !e.HasMetablob() {
		return false
	}
	if rootsFn != nil {
		for _, fb := range e.Metablob.Roots {
			if rootsFn(fb) {
				return true
			}
		}
	}
	matched := false
	_ = e.Metablob.Lumps(func(id metablob.DirfragID, dl *metablob.Dirlump) error {
		if lumpFn(id, dl) {
			matched = true
		}
		return nil
	})
	return matched
}

// Apply runs pred over every scanned event in offset order and returns
// the matching offsets, preserving scan order; selection narrows what a
// read-only command reports or a mutating command acts on.
func Apply(s *scan.Scanner, pred Predicate) []int64 {
	var out []int64
	s.Events.Range(func(offset int64, ent scan.EventEntry) bool {
		if pred(offset, ent.Event) {
			out = append(out, offset)
		}
		return true
	})
	return out
}
