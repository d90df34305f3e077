// Package header implements the journal header object:
// {trimmed_pos, expire_pos, write_pos, layout, magic} in a versioned
// encoding, plus the get/set/reset verbs the CLI exposes.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package header

import (
	"context"
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/NVIDIA/mdjtool/objstore"
)

// Magic identifies a well-formed header object; HeaderVersion is this
// tool's encoding version, bumped only if the on-disk layout changes.
const (
	Magic         uint32 = 0x0ea15e01
	HeaderVersion uint32 = 1
)

// Layout mirrors the journal's object-sizing parameters.
type Layout struct {
	ObjectSize int64
	PoolPrefix string
}

type Header struct {
	TrimmedPos int64
	ExpirePos  int64
	WritePos   int64
	Layout     Layout
}

// Valid checks the header's ordering invariant:
// trimmed_pos <= expire_pos <= write_pos.
func (h *Header) Valid() bool {
	return h.TrimmedPos <= h.ExpirePos && h.ExpirePos <= h.WritePos
}

func Encode(h *Header) []byte {
	b := msgp.AppendUint32(nil, Magic)
	b = msgp.AppendUint32(b, HeaderVersion)
	b = msgp.AppendInt64(b, h.TrimmedPos)
	b = msgp.AppendInt64(b, h.ExpirePos)
	b = msgp.AppendInt64(b, h.WritePos)
	b = msgp.AppendInt64(b, h.Layout.ObjectSize)
	b = msgp.AppendString(b, h.Layout.PoolPrefix)
	return b
}

// Decode reports ok=false (not an error) on magic mismatch, so the
// scanner can mark the header invalid while keeping the raw bytes for
// potential repair.
func Decode(b []byte) (h Header, ok bool, err error) {
	magic, rest, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return h, false, err
	}
	if magic != Magic {
		return h, false, nil
	}
	var ver uint32
	if ver, rest, err = msgp.ReadUint32Bytes(rest); err != nil {
		return h, false, err
	}
	if ver != HeaderVersion {
		return h, false, nil
	}
	if h.TrimmedPos, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return h, false, err
	}
	if h.ExpirePos, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return h, false, err
	}
	if h.WritePos, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return h, false, err
	}
	if h.Layout.ObjectSize, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return h, false, err
	}
	if h.Layout.PoolPrefix, _, err = msgp.ReadStringBytes(rest); err != nil {
		return h, false, err
	}
	return h, true, nil
}

// Get reads and decodes the header object. present is false when the
// object itself is missing; when present is true but ok is false the
// bytes existed but didn't decode (kept for potential repair).
func Get(ctx context.Context, cl objstore.Client, oid string) (h Header, present, ok bool, raw []byte, err error) {
	raw, err = readWhole(ctx, cl, oid)
	if err != nil {
		if objstore.IsNotFound(err) {
			return h, false, false, nil, nil
		}
		return h, false, false, nil, err
	}
	h, ok, err = Decode(raw)
	if err != nil {
		return h, true, false, raw, nil
	}
	return h, true, ok, raw, nil
}

// Set writes h as the header object unconditionally.
func Set(ctx context.Context, cl objstore.Client, oid string, h *Header) error {
	return cl.WriteFull(ctx, oid, Encode(h))
}

// Reset rewrites the header so trimmed_pos=expire_pos=write_pos=floor.
// It refuses to reset a journal whose current header does not decode
// unless force is set.
func Reset(ctx context.Context, cl objstore.Client, oid string, floor int64, layout Layout, force bool) error {
	_, present, ok, _, err := Get(ctx, cl, oid)
	if err != nil {
		return err
	}
	if present && !ok && !force {
		return fmt.Errorf("header: existing header at %s does not decode; pass --force to reset anyway", oid)
	}
	h := &Header{TrimmedPos: floor, ExpirePos: floor, WritePos: floor, Layout: layout}
	return Set(ctx, cl, oid, h)
}

// readWhole reads a header object's full content; headers are small
// (well under one object), so a single bounded Read suffices.
func readWhole(ctx context.Context, cl objstore.Client, oid string) ([]byte, error) {
	const maxHeaderLen = 4096
	buf := make([]byte, maxHeaderLen)
	out, err := cl.Read(ctx, oid, buf, 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, _, err := cl.Stat(ctx, oid); err != nil {
			return nil, err
		}
	}
	return out, nil
}
