// Package codec implements the framing format carrying events inside log
// objects: preamble(u32), payload_len(u64), payload(bytes), start_ptr(u64).
// Only the RESILIENT format is supported.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Sentinel is the preamble every RESILIENT-format record starts with; a
// mismatch means the cursor isn't sitting on a record boundary.
const Sentinel uint32 = 0xEFFACED0

const (
	lenPreamble   = 4
	lenPayloadLen = 8
	lenStartPtr   = 8
	// Overhead is sizeof(preamble)+sizeof(payload_len)+sizeof(start_ptr),
	// exported so callers (the eraser in particular) never hand-compute it.
	Overhead = lenPreamble + lenPayloadLen + lenStartPtr

	// LenHeader and LenTrailer split Overhead into the part that precedes
	// the payload and the part that follows it, for callers (bulk import)
	// that need to re-frame a record without hand-deriving these sizes.
	LenHeader  = lenPreamble + lenPayloadLen
	LenTrailer = lenStartPtr
)

// FramingError reports a malformed record; Offset is the byte offset the
// record was expected to start at, used by the scanner to key its error
// map and to decide a resync point.
type FramingError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("framing: offset %d: %s", e.Offset, e.Reason)
}
func (e *FramingError) Unwrap() error { return e.Err }

var (
	ErrBadPreamble = errors.New("bad preamble")
	ErrBadLength   = errors.New("bad length")
	ErrBadTrailer  = errors.New("bad trailer")
)

// MaxPayloadLen guards against a torn/garbage length field driving an
// enormous allocation; no legitimate metablob approaches this.
const MaxPayloadLen = 512 << 20

// FramedLen returns the total on-wire length Write(payload, ...) would
// produce, without doing the encode; the eraser sizes its NoOp padding
// with it.
func FramedLen(payloadLen int) int64 {
	return int64(Overhead + payloadLen)
}

// Write appends a framed record for payload to dst and returns the
// extended slice. startPtr is the recovery anchor this record commits
// to: callers pass pos+FramedLen(len(payload)) so start_ptr always
// equals the offset at which the next record begins.
func Write(dst []byte, payload []byte, startPtr uint64) []byte {
	var hdr [lenPreamble + lenPayloadLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], Sentinel)
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	var tail [lenStartPtr]byte
	binary.BigEndian.PutUint64(tail[:], startPtr)
	dst = append(dst, tail[:]...)
	return dst
}

// WritePooled is Write but obtains its scratch buffer from a pool.
// The returned slice is only valid until Release is called.
func WritePooled(payload []byte, startPtr uint64) (buf *bytebufferpool.ByteBuffer) {
	buf = bytebufferpool.Get()
	buf.B = Write(buf.B[:0], payload, startPtr)
	return buf
}

func Release(buf *bytebufferpool.ByteBuffer) { bytebufferpool.Put(buf) }

// Readable reports whether buf holds enough bytes to decode a complete
// record starting at buf[0]. When it doesn't, need is set to the number
// of additional bytes required to decide — it never panics or errors on
// a short buffer, so callers can safely use it to decide whether to read
// more from the next log object.
func Readable(buf []byte) (ok bool, need int) {
	if len(buf) < lenPreamble+lenPayloadLen {
		return false, lenPreamble + lenPayloadLen - len(buf)
	}
	plen := binary.BigEndian.Uint64(buf[lenPreamble : lenPreamble+lenPayloadLen])
	total := lenPreamble + lenPayloadLen + int(plen) + lenStartPtr
	if plen > MaxPayloadLen || total < 0 {
		// Treat as a decodable-but-invalid record; Read will reject it
		// with ErrBadLength rather than asking for more bytes forever.
		return true, 0
	}
	if len(buf) < total {
		return false, total - len(buf)
	}
	return true, 0
}

// Read decodes one record from the front of buf, which must already
// satisfy Readable. pos is the absolute log offset buf[0] sits at; the
// decoded start_ptr trailer must equal pos plus the record's framed
// length (it is the recovery anchor, so an inconsistent value is
// ErrBadTrailer rather than something to trust). Returns the payload,
// the validated start_ptr, and the number of bytes consumed from buf.
func Read(buf []byte, pos int64) (payload []byte, startPtr uint64, consumed int, err error) {
	if len(buf) < lenPreamble+lenPayloadLen {
		return nil, 0, 0, &FramingError{Offset: pos, Reason: "short buffer", Err: ErrBadLength}
	}
	preamble := binary.BigEndian.Uint32(buf[0:lenPreamble])
	if preamble != Sentinel {
		return nil, 0, 0, &FramingError{Offset: pos, Reason: fmt.Sprintf("preamble %#x", preamble), Err: errors.WithStack(ErrBadPreamble)}
	}
	plen := binary.BigEndian.Uint64(buf[lenPreamble : lenPreamble+lenPayloadLen])
	if plen > MaxPayloadLen {
		return nil, 0, 0, &FramingError{Offset: pos, Reason: fmt.Sprintf("payload_len %d", plen), Err: errors.WithStack(ErrBadLength)}
	}
	hdrEnd := lenPreamble + lenPayloadLen
	payloadEnd := hdrEnd + int(plen)
	total := payloadEnd + lenStartPtr
	if len(buf) < total {
		return nil, 0, 0, &FramingError{Offset: pos, Reason: "truncated record", Err: errors.WithStack(ErrBadLength)}
	}
	startPtr = binary.BigEndian.Uint64(buf[payloadEnd:total])
	if want := uint64(pos) + uint64(total); startPtr != want {
		return nil, 0, 0, &FramingError{Offset: pos, Reason: fmt.Sprintf("start_ptr %d, want %d", startPtr, want), Err: errors.WithStack(ErrBadTrailer)}
	}
	return buf[hdrEnd:payloadEnd], startPtr, total, nil
}
