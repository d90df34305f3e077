// Package scan implements the journal scanner: object-store-backed
// iteration over the framed log, yielding events and structured errors
// per offset.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/cmn/ratomic"
	"github.com/NVIDIA/mdjtool/cmn/tracing"
	"github.com/NVIDIA/mdjtool/journal/codec"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/objstore"
)

// EventError is the structured per-offset error the scanner records.
type EventError struct {
	Code        string
	Description string
}

// EventEntry is what the scanner's ordered event map carries per offset.
type EventEntry struct {
	Event   *event.Event
	RawSize int64
	// Raw holds the event's original framed bytes (preamble through
	// start_ptr trailer), kept for the binary sink, whose dump files must
	// byte-match the log.
	Raw []byte
}

// EventMap preserves offset order; two events never share an offset, and
// Scan always appends in increasing-offset order, so a slice of offsets
// alongside the map is sufficient and no sort is ever needed.
type EventMap struct {
	offsets []int64
	byOff   map[int64]EventEntry
}

func newEventMap() *EventMap {
	return &EventMap{byOff: make(map[int64]EventEntry)}
}

func (m *EventMap) insert(offset int64, e EventEntry) {
	if _, exists := m.byOff[offset]; !exists {
		m.offsets = append(m.offsets, offset)
	}
	m.byOff[offset] = e
}

func (m *EventMap) Len() int { return len(m.offsets) }

// Range calls fn for every (offset, entry) pair in increasing offset
// order, stopping early if fn returns false.
func (m *EventMap) Range(fn func(offset int64, e EventEntry) bool) {
	for _, off := range m.offsets {
		if !fn(off, m.byOff[off]) {
			return
		}
	}
}

func (m *EventMap) Get(offset int64) (EventEntry, bool) {
	e, ok := m.byOff[offset]
	return e, ok
}

// Filter returns a new EventMap holding only the given offsets, preserving
// relative order; offsets not present in m are silently skipped. CLI
// selector-scoped commands use this to narrow what a sink reports
// without re-running Scan.
func (m *EventMap) Filter(offsets []int64) *EventMap {
	want := make(map[int64]struct{}, len(offsets))
	for _, o := range offsets {
		want[o] = struct{}{}
	}
	out := newEventMap()
	for _, off := range m.offsets {
		if _, ok := want[off]; ok {
			out.insert(off, m.byOff[off])
		}
	}
	return out
}

// ScanError is returned by Scan only for a BackendError on the header or
// a log object read — every other failure mode is recorded in Errors and
// scanning continues.
type ScanError struct {
	Offset int64
	Err    error
}

func (e *ScanError) Error() string { return fmt.Sprintf("scan: offset %d: %v", e.Offset, e.Err) }
func (e *ScanError) Unwrap() error { return e.Err }

// Scanner is populated by Scan and then consumed by output sinks,
// the scavenger, or the eraser.
type Scanner struct {
	Client objstore.Client
	Cfg    *cmn.Config

	HeaderOID     string
	Header        header.Header
	HeaderPresent bool
	HeaderValid   bool
	HeaderRaw     []byte
	IsMdlog       bool

	Events *EventMap
	Errors map[int64]EventError

	// ObjectHashes fingerprints each log object Scan reads, keyed by object
	// index, so two scans of the same range can be diffed without a byte-
	// for-byte re-read (the summary sink surfaces the count).
	ObjectHashes map[int64]uint64

	// scanned/errCount are updated inside the scan loop and read by a
	// concurrently running progress reporter (e.g. the CLI's runScan);
	// atomics rather than a mutex since the reporter only ever reads.
	scanned  ratomic.Int64
	errCount ratomic.Int64
}

// EventsScanned is the number of events successfully decoded so far; safe
// to call while Scan is running concurrently in another goroutine.
func (s *Scanner) EventsScanned() int64 { return s.scanned.Load() }

// ScanErrorCount is the number of record-level errors recorded so far;
// safe to call while Scan is running concurrently in another goroutine.
func (s *Scanner) ScanErrorCount() int64 { return s.errCount.Load() }

func New(cl objstore.Client, cfg *cmn.Config) *Scanner {
	return &Scanner{
		Client:       cl,
		Cfg:          cfg,
		HeaderOID:    cfg.HeaderOID(),
		Events:       newEventMap(),
		Errors:       make(map[int64]EventError),
		ObjectHashes: make(map[int64]uint64),
	}
}

// Scan reads the header, then walks the log objects in
// [expire_pos/obj_size, (write_pos-1)/obj_size], reframing records as it
// goes. It never aborts on individual record corruption; the only errors
// it returns are BackendError failures reading the header or a log
// object.
func (s *Scanner) Scan(ctx context.Context, isMdlog bool) error {
	ctx, span := tracing.Tracer().Start(ctx, "scan")
	defer span.End()

	s.IsMdlog = isMdlog

	h, present, ok, raw, err := header.Get(ctx, s.Client, s.HeaderOID)
	if err != nil {
		return &ScanError{Err: fmt.Errorf("reading header %s: %w", s.HeaderOID, err)}
	}
	s.HeaderPresent = present
	s.HeaderRaw = raw
	if !present {
		return nil
	}
	s.Header = h
	s.HeaderValid = ok && h.Valid()
	if !s.HeaderValid {
		return nil
	}

	objSize := s.Cfg.ObjSize
	if h.Layout.ObjectSize > 0 {
		objSize = h.Layout.ObjectSize
	}
	if h.WritePos <= h.ExpirePos {
		return nil
	}

	startObjIdx := h.ExpirePos / objSize
	endObjIdx := (h.WritePos - 1) / objSize

	var log []byte
	for idx := startObjIdx; idx <= endObjIdx; idx++ {
		select {
		case <-ctx.Done():
			return nil // cancellation between objects is reported as success
		default:
		}
		oid := s.Cfg.JournalOID(idx)
		buf := make([]byte, objSize)
		out, err := s.Client.Read(ctx, oid, buf, 0)
		if err != nil {
			if objstore.IsNotFound(err) {
				// Keep the hole's full objSize worth of zero bytes so every
				// later object's records stay at their true offsets; the
				// zeros frame into isolated errors instead of shifting the
				// whole tail.
				nlog.Warningln("scan: missing log object", oid, "in range; treating as zero-filled")
				out = buf
			} else {
				return &ScanError{Offset: idx * objSize, Err: err}
			}
		}
		s.ObjectHashes[idx] = xxhash.Checksum64(out)
		// Every object occupies exactly objSize bytes of the carry-across
		// buffer; a short final object is padded with zeros that sit beyond
		// write_pos and are never scanned.
		copy(buf, out)
		log = append(log, buf...)
	}
	base := startObjIdx * objSize

	pos := h.ExpirePos
	end := h.WritePos
	var lastGoodStartPtr int64
	haveLastGood := false

	for pos < end {
		rel := pos - base
		if rel < 0 || rel >= int64(len(log)) {
			s.recordError(pos, "EIO", "no more data available before write_pos")
			break
		}
		chunk := log[rel:]

		readable, need := codec.Readable(chunk)
		if !readable {
			if int64(len(chunk))+int64(need) > end-pos+codec.Overhead {
				// declared length would reach past the valid range: corrupt length field
				s.recordError(pos, "BadLength", "declared payload length overruns write_pos")
			} else {
				s.recordError(pos, "Truncated", "insufficient bytes remain before write_pos")
			}
			break
		}

		payload, startPtr, consumed, err := codec.Read(chunk, pos)
		if err != nil {
			s.recordError(pos, classifyFramingError(err), err.Error())
			pos = s.resync(pos, base, log, end, lastGoodStartPtr, haveLastGood)
			haveLastGood = false
			continue
		}

		ev, everr := event.Decode(payload)
		if everr != nil {
			s.recordError(pos, classifyEventError(everr), everr.Error())
			// framing was intact, so this offset is itself a valid resync
			// anchor even though the event body didn't decode.
			pos += int64(consumed)
			lastGoodStartPtr, haveLastGood = pos, true
			continue
		}

		raw := make([]byte, consumed)
		copy(raw, chunk[:consumed])
		s.Events.insert(pos, EventEntry{Event: ev, RawSize: int64(consumed), Raw: raw})
		s.scanned.Inc()
		pos += int64(consumed)
		lastGoodStartPtr, haveLastGood = int64(startPtr), true
	}
	return nil
}

func (s *Scanner) recordError(offset int64, code, desc string) {
	s.Errors[offset] = EventError{Code: code, Description: desc}
	s.errCount.Inc()
}

// resync recovers after a corrupt record: prefer the last good
// start_ptr, else scan forward for the next record sentinel anywhere
// before write_pos. This records only the one error already logged by the
// caller for the corrupt record, and finds the true next record no matter
// how far away it sits, so events after a single bad record still decode.
func (s *Scanner) resync(pos, base int64, log []byte, end, lastGoodStartPtr int64, haveLastGood bool) int64 {
	if haveLastGood && lastGoodStartPtr > pos {
		return lastGoodStartPtr
	}
	hi := end - base
	if hi > int64(len(log)) {
		hi = int64(len(log))
	}
	if next, ok := findSentinel(log, pos-base+1, hi); ok {
		return base + next
	}
	return end
}

// findSentinel returns the offset of the next codec.Sentinel preamble in
// buf[from:to], or false if none appears before to.
func findSentinel(buf []byte, from, to int64) (int64, bool) {
	if from < 0 {
		from = 0
	}
	if to > int64(len(buf)) {
		to = int64(len(buf))
	}
	var want [4]byte
	binary.BigEndian.PutUint32(want[:], codec.Sentinel)
	for i := from; i+4 <= to; i++ {
		if bytes.Equal(buf[i:i+4], want[:]) {
			return i, true
		}
	}
	return 0, false
}

func classifyFramingError(err error) string {
	switch {
	case errors.Is(err, codec.ErrBadPreamble):
		return "BadPreamble"
	case errors.Is(err, codec.ErrBadLength):
		return "BadLength"
	case errors.Is(err, codec.ErrBadTrailer):
		return "BadTrailer"
	default:
		return "FramingError"
	}
}

func classifyEventError(err error) string {
	var ute *event.UnknownTypeError
	if errors.As(err, &ute) {
		return "UnknownType"
	}
	return "DecodeError"
}

// IsReadable reports whether the journal can be trusted to have been
// scanned without corruption: the header decodes and no record error was
// recorded anywhere in the scanned range. Any recorded error, wherever it
// falls, means some part of the contiguous prefix starting at expire_pos
// could not be trusted, so this is intentionally strict: zero errors, not
// merely "no error at offset 0".
func (s *Scanner) IsReadable() bool {
	return s.HeaderPresent && s.HeaderValid && len(s.Errors) == 0
}

// WithEvents returns a shallow copy of s with Events replaced by em,
// leaving header state and errors untouched. Used to hand a selector-
// filtered view of a scan to an output sink.
func (s *Scanner) WithEvents(em *EventMap) *Scanner {
	cp := *s
	cp.Events = em
	return &cp
}
