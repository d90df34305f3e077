// Package event implements the log event tagged union: Update, Open,
// Session, NoOp, and friends, decoded by dispatching on a leading type
// tag into a single Event struct rather than an interface hierarchy.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package event

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/NVIDIA/mdjtool/journal/metablob"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindUpdate
	KindOpen
	KindSession
	KindNoOp
	KindSlaveUpdate
	KindSubtreeMap
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "UPDATE"
	case KindOpen:
		return "OPEN"
	case KindSession:
		return "SESSION"
	case KindNoOp:
		return "NOOP"
	case KindSlaveUpdate:
		return "SLAVEUPDATE"
	case KindSubtreeMap:
		return "SUBTREEMAP"
	default:
		return "UNKNOWN"
	}
}

func ParseKind(s string) (Kind, bool) {
	for k := KindUpdate; k <= KindSubtreeMap; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// UnknownTypeError is returned by Decode for a leading tag this tool
// doesn't know.
type UnknownTypeError struct{ Tag byte }

func (e *UnknownTypeError) Error() string { return fmt.Sprintf("event: unknown type tag %#x", e.Tag) }

// Event is the tagged union every decoded record becomes. Exactly one
// of the payload fields is meaningful, selected by Kind; Metablob is nil
// for event kinds that don't carry one (Open, Session, NoOp).
type Event struct {
	Kind     Kind
	Metablob *metablob.Metablob // Update, SlaveUpdate, SubtreeMap
	ClientID uint64             // Open, Session
	Padding  int                // NoOp: exact byte count requested by the caller
}

func (e *Event) HasMetablob() bool { return e.Metablob != nil }

// tags on the wire; arbitrary but stable within this tool.
const (
	tagUpdate      byte = 1
	tagOpen        byte = 2
	tagSession     byte = 3
	tagNoOp        byte = 4
	tagSlaveUpdate byte = 5
	tagSubtreeMap  byte = 6
)

func kindToTag(k Kind) (byte, bool) {
	switch k {
	case KindUpdate:
		return tagUpdate, true
	case KindOpen:
		return tagOpen, true
	case KindSession:
		return tagSession, true
	case KindNoOp:
		return tagNoOp, true
	case KindSlaveUpdate:
		return tagSlaveUpdate, true
	case KindSubtreeMap:
		return tagSubtreeMap, true
	default:
		return 0, false
	}
}

// noopOverhead is the number of non-padding bytes a NoOp's own encoding
// adds (the tag byte plus the u32 padding-length field it carries).
// NoOp(padding) must encode to exactly padding+noopOverhead bytes; the
// eraser sizes its fill records around this.
const noopOverhead = 1 + 4

// Encode serialises e's payload (without framing — journal/codec wraps
// this). For NoOp, Encode always produces exactly Padding+noopOverhead
// bytes, which is what the eraser depends on.
func Encode(e *Event) ([]byte, error) {
	tag, ok := kindToTag(e.Kind)
	if !ok {
		return nil, fmt.Errorf("event: cannot encode kind %v", e.Kind)
	}
	b := []byte{tag}
	switch e.Kind {
	case KindUpdate, KindSlaveUpdate:
		mb, err := metablob.Encode(e.Metablob)
		if err != nil {
			return nil, err
		}
		b = append(b, mb...)
	case KindOpen, KindSession:
		var cid [8]byte
		binary.BigEndian.PutUint64(cid[:], e.ClientID)
		b = append(b, cid[:]...)
	case KindNoOp:
		if e.Padding < 0 {
			return nil, fmt.Errorf("event: negative NoOp padding %d", e.Padding)
		}
		var plen [4]byte
		binary.BigEndian.PutUint32(plen[:], uint32(e.Padding))
		b = append(b, plen[:]...)
		b = append(b, make([]byte, e.Padding)...)
	case KindSubtreeMap:
		mb, err := metablob.Encode(e.Metablob)
		if err != nil {
			return nil, err
		}
		b = append(b, mb...)
	}
	return b, nil
}

// Decode dispatches on the leading tag. It returns *UnknownTypeError for
// an unrecognised tag.
func Decode(b []byte) (*Event, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("event: empty payload")
	}
	tag, body := b[0], b[1:]
	e := &Event{}
	switch tag {
	case tagUpdate:
		e.Kind = KindUpdate
		mb, err := metablob.Decode(body)
		if err != nil {
			return nil, errors.Wrap(err, "event: decode Update metablob")
		}
		e.Metablob = mb
	case tagSlaveUpdate:
		e.Kind = KindSlaveUpdate
		mb, err := metablob.Decode(body)
		if err != nil {
			return nil, errors.Wrap(err, "event: decode SlaveUpdate metablob")
		}
		e.Metablob = mb
	case tagSubtreeMap:
		e.Kind = KindSubtreeMap
		mb, err := metablob.Decode(body)
		if err != nil {
			return nil, errors.Wrap(err, "event: decode SubtreeMap metablob")
		}
		e.Metablob = mb
	case tagOpen, tagSession:
		if len(body) != 8 {
			return nil, fmt.Errorf("event: client-id payload length %d, want 8", len(body))
		}
		if tag == tagOpen {
			e.Kind = KindOpen
		} else {
			e.Kind = KindSession
		}
		e.ClientID = binary.BigEndian.Uint64(body)
	case tagNoOp:
		if len(body) < 4 {
			return nil, fmt.Errorf("event: NoOp payload too short: %d", len(body))
		}
		plen := binary.BigEndian.Uint32(body[:4])
		if int(plen) != len(body)-4 {
			return nil, fmt.Errorf("event: NoOp padding length %d does not match body %d", plen, len(body)-4)
		}
		e.Kind = KindNoOp
		e.Padding = int(plen)
	default:
		return nil, &UnknownTypeError{Tag: tag}
	}
	return e, nil
}
