package scan_test

import (
	"context"
	"testing"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/journal/codec"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/journal/scan"
	"github.com/NVIDIA/mdjtool/objstore/fake"
)

const testObjSize = 4096

func newTestConfig() *cmn.Config {
	cfg := &cmn.Config{Rank: 0, ObjSize: testObjSize, PoolPrefix: "200"}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// writeJournal lays out a header plus a single log object built from the
// given events, returning the object's encoded byte length (= write_pos).
func writeJournal(t *testing.T, cl *fake.Client, cfg *cmn.Config, events []*event.Event) int64 {
	t.Helper()
	ctx := context.Background()

	var log []byte
	pos := int64(0)
	for _, ev := range events {
		payload, err := event.Encode(ev)
		if err != nil {
			t.Fatalf("event.Encode: %v", err)
		}
		framedLen := codec.FramedLen(len(payload))
		log = codec.Write(log, payload, uint64(pos+framedLen))
		pos += framedLen
	}

	if err := cl.WriteFull(ctx, cfg.JournalOID(0), log); err != nil {
		t.Fatalf("WriteFull log: %v", err)
	}

	h := &header.Header{
		TrimmedPos: 0,
		ExpirePos:  0,
		WritePos:   pos,
		Layout:     header.Layout{ObjectSize: cfg.ObjSize},
	}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}
	return pos
}

func TestScanHeaderAbsent(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	s := scan.New(cl, cfg)
	if err := s.Scan(context.Background(), true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.HeaderPresent {
		t.Fatalf("HeaderPresent = true, want false with no header ever written")
	}
	if s.IsReadable() {
		t.Fatalf("IsReadable() = true with an absent header")
	}
}

func TestScanCleanJournal(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		{Kind: event.KindSession, ClientID: 2},
		{Kind: event.KindNoOp, Padding: 10},
	}
	writeJournal(t, cl, cfg, events)

	s := scan.New(cl, cfg)
	if err := s.Scan(context.Background(), true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !s.HeaderPresent || !s.HeaderValid {
		t.Fatalf("header present=%v valid=%v, want true/true", s.HeaderPresent, s.HeaderValid)
	}
	if !s.IsReadable() {
		t.Fatalf("IsReadable() = false for a clean journal, errors=%+v", s.Errors)
	}
	if got, want := s.Events.Len(), len(events); got != want {
		t.Fatalf("Events.Len() = %d, want %d", got, want)
	}
	if got := s.EventsScanned(); got != int64(len(events)) {
		t.Fatalf("EventsScanned() = %d, want %d", got, len(events))
	}
	if len(s.ObjectHashes) != 1 {
		t.Fatalf("ObjectHashes = %+v, want exactly one object fingerprinted", s.ObjectHashes)
	}
}

func TestScanEmptyRangeNoObjectsRead(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	ctx := context.Background()
	h := &header.Header{TrimmedPos: 0, ExpirePos: 0, WritePos: 0, Layout: header.Layout{ObjectSize: cfg.ObjSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}
	s := scan.New(cl, cfg)
	if err := s.Scan(ctx, true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.Events.Len() != 0 {
		t.Fatalf("Events.Len() = %d, want 0 when write_pos == expire_pos", s.Events.Len())
	}
	if !s.IsReadable() {
		t.Fatalf("IsReadable() = false for an empty-but-valid journal")
	}
}

func TestScanMissingLogObjectTreatedAsZeroFilled(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	ctx := context.Background()
	// a header pointing past any object that was ever written
	h := &header.Header{TrimmedPos: 0, ExpirePos: 0, WritePos: 100, Layout: header.Layout{ObjectSize: cfg.ObjSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}
	s := scan.New(cl, cfg)
	if err := s.Scan(ctx, true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// the missing object reads as objSize zero bytes, which don't frame
	// into a valid record, so this is recorded as a scan error rather
	// than a BackendError returned from Scan.
	if len(s.Errors) == 0 {
		t.Fatalf("expected at least one recorded error scanning a zero-filled region")
	}
	if s.Events.Len() != 0 {
		t.Fatalf("Events.Len() = %d, want 0 from a zero-filled region", s.Events.Len())
	}
}

// TestScanMissingIntermediateObjectKeepsAlignment deletes log object 0
// out from under a journal whose real records live in object 1, and
// verifies the hole occupies exactly objSize bytes of the carry-across
// buffer: the records after it must still decode at their true offsets,
// with the hole itself isolated as an error. A collapsed hole would
// shift every later offset by objSize — and those offsets feed the
// eraser, which would then rewrite the wrong byte range.
func TestScanMissingIntermediateObjectKeepsAlignment(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	ctx := context.Background()

	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		{Kind: event.KindSession, ClientID: 2},
	}
	var obj1 []byte
	offsets := make([]int64, len(events))
	pos := testObjSize // records start at object 1's first byte
	for i, ev := range events {
		payload, err := event.Encode(ev)
		if err != nil {
			t.Fatalf("event.Encode: %v", err)
		}
		offsets[i] = int64(pos)
		framedLen := codec.FramedLen(len(payload))
		obj1 = codec.Write(obj1, payload, uint64(int64(pos)+framedLen))
		pos += int(framedLen)
	}
	if err := cl.WriteFull(ctx, cfg.JournalOID(1), obj1); err != nil {
		t.Fatalf("WriteFull obj1: %v", err)
	}
	// object 0 is never written: the range [0, testObjSize) is a hole.
	h := &header.Header{TrimmedPos: 0, ExpirePos: 0, WritePos: int64(pos), Layout: header.Layout{ObjectSize: cfg.ObjSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}

	s := scan.New(cl, cfg)
	if err := s.Scan(ctx, true); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for i, off := range offsets {
		ent, ok := s.Events.Get(off)
		if !ok {
			t.Fatalf("event %d missing at its true offset %d; events=%d errors=%+v", i, off, s.Events.Len(), s.Errors)
		}
		if ent.Event.Kind != events[i].Kind || ent.Event.ClientID != events[i].ClientID {
			t.Fatalf("event %d at offset %d decoded wrong: %+v", i, off, ent.Event)
		}
	}
	if len(s.Errors) == 0 {
		t.Fatalf("expected the zero-filled hole to be recorded as an error")
	}
	for off := range s.Errors {
		if off >= testObjSize {
			t.Fatalf("error at offset %d, want all errors confined to the hole [0, %d)", off, testObjSize)
		}
	}
	if s.IsReadable() {
		t.Fatalf("IsReadable() = true despite a hole in the log")
	}
}

func TestScanCorruptionRecordsErrorAndStopsTrust(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		{Kind: event.KindSession, ClientID: 2},
	}
	writeJournal(t, cl, cfg, events)
	cl.CorruptTail(cfg.JournalOID(0), 6, 0xAA)

	s := scan.New(cl, cfg)
	if err := s.Scan(context.Background(), true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.IsReadable() {
		t.Fatalf("IsReadable() = true despite a corrupted tail")
	}
	if len(s.Errors) == 0 {
		t.Fatalf("expected at least one recorded error after corrupting the tail")
	}
}

// TestScanCorruptMiddleRecordResyncsToTrailingEvents corrupts the preamble
// of the second of three records in place and verifies the scanner records
// exactly one error for it, then keeps decoding the third record even
// though it sits well past a 64-byte single-byte resync window.
func TestScanCorruptMiddleRecordResyncsToTrailingEvents(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	ctx := context.Background()

	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		// a big padded NoOp stands in for a record that exceeds 64 bytes,
		// like a real InodeStore would, so the fix can't pass by accident.
		{Kind: event.KindNoOp, Padding: 200},
		{Kind: event.KindSession, ClientID: 2},
	}

	var log []byte
	offsets := make([]int64, len(events))
	pos := int64(0)
	for i, ev := range events {
		payload, err := event.Encode(ev)
		if err != nil {
			t.Fatalf("event.Encode: %v", err)
		}
		offsets[i] = pos
		framedLen := codec.FramedLen(len(payload))
		log = codec.Write(log, payload, uint64(pos+framedLen))
		pos += framedLen
	}

	corruptAt := offsets[1]
	log[corruptAt] ^= 0xFF // flip a byte of the second record's preamble

	if err := cl.WriteFull(ctx, cfg.JournalOID(0), log); err != nil {
		t.Fatalf("WriteFull log: %v", err)
	}
	h := &header.Header{TrimmedPos: 0, ExpirePos: 0, WritePos: pos, Layout: header.Layout{ObjectSize: cfg.ObjSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}

	s := scan.New(cl, cfg)
	if err := s.Scan(ctx, true); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(s.Errors) != 1 {
		t.Fatalf("Errors = %+v, want exactly one entry for the corrupted record", s.Errors)
	}
	if _, ok := s.Errors[corruptAt]; !ok {
		t.Fatalf("Errors = %+v, want the single error keyed at offset %d", s.Errors, corruptAt)
	}

	if _, ok := s.Events.Get(offsets[0]); !ok {
		t.Fatalf("first event at offset %d was not decoded", offsets[0])
	}
	last, ok := s.Events.Get(offsets[2])
	if !ok {
		t.Fatalf("trailing event at offset %d was not decoded after the corrupt record", offsets[2])
	}
	if last.Event.Kind != event.KindSession || last.Event.ClientID != 2 {
		t.Fatalf("trailing event decoded wrong: %+v", last.Event)
	}
}

func TestScanFilterNarrowsEvents(t *testing.T) {
	cl := fake.New()
	cfg := newTestConfig()
	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		{Kind: event.KindSession, ClientID: 2},
		{Kind: event.KindOpen, ClientID: 3},
	}
	writeJournal(t, cl, cfg, events)

	s := scan.New(cl, cfg)
	if err := s.Scan(context.Background(), true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var firstOffset int64
	found := false
	s.Events.Range(func(off int64, _ scan.EventEntry) bool {
		firstOffset = off
		found = true
		return false
	})
	if !found {
		t.Fatalf("no events scanned")
	}
	filtered := s.Events.Filter([]int64{firstOffset})
	if filtered.Len() != 1 {
		t.Fatalf("Filter: Len() = %d, want 1", filtered.Len())
	}
	cp := s.WithEvents(filtered)
	if cp.Events.Len() != 1 {
		t.Fatalf("WithEvents: Len() = %d, want 1", cp.Events.Len())
	}
	if !cp.HeaderValid {
		t.Fatalf("WithEvents dropped header state")
	}
}
