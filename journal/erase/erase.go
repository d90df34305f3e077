// Package erase implements region erasure: overwriting a byte-exact log
// range with a correctly-framed, padded NoOp.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package erase

import (
	"context"
	"fmt"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/tracing"
	"github.com/NVIDIA/mdjtool/journal/codec"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/objstore"
)

// PreconditionError reports a caller request the eraser cannot satisfy,
// e.g. a region shorter than the minimum framed NoOp.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return fmt.Sprintf("erase: %s", e.Reason) }

// Eraser writes padded NoOp records over a log range.
type Eraser struct {
	Client objstore.Client
	Cfg    *cmn.Config
}

func New(cl objstore.Client, cfg *cmn.Config) *Eraser {
	return &Eraser{Client: cl, Cfg: cfg}
}

// minNoopLen is the framed length of NoOp(0): codec overhead plus the
// event's own tag byte and 4-byte padding-length field.
func minNoopLen() int64 {
	b, _ := event.Encode(&event.Event{Kind: event.KindNoOp, Padding: 0})
	return codec.FramedLen(len(b))
}

// EraseRegion overwrites [pos, pos+length) with a single framed NoOp of
// exactly length bytes, split across whichever log objects the region
// spans. Erasing the same region twice produces the same bytes.
func (er *Eraser) EraseRegion(ctx context.Context, pos, length int64) error {
	ctx, span := tracing.Tracer().Start(ctx, "erase_region")
	defer span.End()

	noopLen := minNoopLen()
	overhead := int64(codec.Overhead)
	padding := length - noopLen
	if padding < 0 {
		return &PreconditionError{Reason: fmt.Sprintf("region length %d shorter than minimum NoOp length %d", length, noopLen)}
	}

	payload, err := event.Encode(&event.Event{Kind: event.KindNoOp, Padding: int(padding)})
	if err != nil {
		return fmt.Errorf("erase: encode NoOp: %w", err)
	}
	framed := codec.Write(nil, payload, uint64(pos+length))
	if int64(len(framed)) != length {
		return fmt.Errorf("erase: internal error: framed NoOp is %d bytes, want %d (overhead=%d)", len(framed), length, overhead)
	}

	return er.writeAcrossObjects(ctx, pos, framed)
}

// writeAcrossObjects splits the serialised bytes across the covered
// objects at their intra-object offsets.
func (er *Eraser) writeAcrossObjects(ctx context.Context, pos int64, data []byte) error {
	objSize := er.Cfg.ObjSize
	cursor := pos
	remainingData := data
	for len(remainingData) > 0 {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		objIdx := cursor / objSize
		intraOff := cursor % objSize
		chunkLen := objSize - intraOff
		if chunkLen > int64(len(remainingData)) {
			chunkLen = int64(len(remainingData))
		}
		oid := er.Cfg.JournalOID(objIdx)
		if err := er.Client.Write(ctx, oid, remainingData[:chunkLen], intraOff); err != nil {
			return objstore.NewBackendError("write", oid, err)
		}
		remainingData = remainingData[chunkLen:]
		cursor += chunkLen
	}
	return nil
}
