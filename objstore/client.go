// Package objstore defines the minimal object-store contract the journal
// scanner, scavenger, eraser, and inode-table reconciler run against,
// plus concrete and fake implementations of it.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package objstore

import (
	"context"
	"time"
)

// Client is the entire surface the journal core consumes. Everything
// else about the backing object store — placement, replication,
// cluster-map lookup, authentication — is the concern of whichever
// concrete implementation is wired up, never of journal/* code.
//
// Every method returns an error wrapping BackendError for anything other
// than "not found", which callers test for with IsNotFound.
type Client interface {
	// Read reads up to len(out) bytes of oid starting at off, returning
	// the slice actually read (which may be shorter at EOF).
	Read(ctx context.Context, oid string, out []byte, off int64) ([]byte, error)
	// Write writes bl at the given offset, zero-padding the object if
	// necessary; it never truncates past off+len(bl).
	Write(ctx context.Context, oid string, bl []byte, off int64) error
	// WriteFull atomically replaces oid's entire content with bl.
	WriteFull(ctx context.Context, oid string, bl []byte) error
	// Stat returns oid's size and modification time.
	Stat(ctx context.Context, oid string) (size int64, mtime time.Time, err error)

	// OmapGetHeader returns oid's omap header blob (the encoded fnode for
	// a dirfrag object).
	OmapGetHeader(ctx context.Context, oid string) ([]byte, error)
	// OmapSetHeader replaces oid's omap header blob.
	OmapSetHeader(ctx context.Context, oid string, bl []byte) error
	// OmapGetValsByKeys returns the subset of keys present in oid's omap.
	// Missing keys are simply absent from the result map, not an error.
	OmapGetValsByKeys(ctx context.Context, oid string, keys []string) (map[string][]byte, error)
	// OmapSet upserts the given key/value pairs into oid's omap.
	OmapSet(ctx context.Context, oid string, kv map[string][]byte) error
	// OmapRmKeys removes the given keys from oid's omap, ignoring keys
	// that don't exist.
	OmapRmKeys(ctx context.Context, oid string, keys []string) error
}
