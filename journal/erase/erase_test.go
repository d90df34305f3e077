package erase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/journal/codec"
	"github.com/NVIDIA/mdjtool/journal/erase"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/journal/scan"
	"github.com/NVIDIA/mdjtool/objstore/fake"
)

func testConfig(objSize int64) *cmn.Config {
	cfg := &cmn.Config{Rank: 0, ObjSize: objSize, PoolPrefix: "200"}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

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
		t.Fatalf("WriteFull: %v", err)
	}
	h := &header.Header{WritePos: pos, Layout: header.Layout{ObjectSize: cfg.ObjSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}
	return pos
}

func TestEraseRegionReplacesEventWithNoOp(t *testing.T) {
	cl := fake.New()
	cfg := testConfig(4096)
	events := []*event.Event{
		{Kind: event.KindOpen, ClientID: 1},
		{Kind: event.KindSession, ClientID: 2},
	}
	writeJournal(t, cl, cfg, events)

	// locate the first event's framed span by scanning once.
	s := scan.New(cl, cfg)
	if err := s.Scan(context.Background(), true); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var firstOff, firstLen int64
	found := false
	s.Events.Range(func(offset int64, e scan.EventEntry) bool {
		firstOff, firstLen = offset, e.RawSize
		found = true
		return false
	})
	if !found {
		t.Fatalf("fixture scan found no events")
	}

	er := erase.New(cl, cfg)
	if err := er.EraseRegion(context.Background(), firstOff, firstLen); err != nil {
		t.Fatalf("EraseRegion: %v", err)
	}

	s2 := scan.New(cl, cfg)
	if err := s2.Scan(context.Background(), true); err != nil {
		t.Fatalf("re-scan: %v", err)
	}
	if !s2.IsReadable() {
		t.Fatalf("journal not readable after erase: errors=%+v", s2.Errors)
	}
	ent, ok := s2.Events.Get(firstOff)
	if !ok {
		t.Fatalf("no event at erased offset %d after re-scan", firstOff)
	}
	if ent.Event.Kind != event.KindNoOp {
		t.Fatalf("erased event kind = %v, want NoOp", ent.Event.Kind)
	}
	if ent.RawSize != firstLen {
		t.Fatalf("erased record length = %d, want exactly %d (the replaced event's original length)", ent.RawSize, firstLen)
	}

	// the second event, now shifted in bytes but not position, must still decode.
	second, ok := s2.Events.Get(firstOff + firstLen)
	if !ok {
		t.Fatalf("second event missing after erase")
	}
	if second.Event.Kind != event.KindSession || second.Event.ClientID != 2 {
		t.Fatalf("second event corrupted by erase: %+v", second.Event)
	}
}

func TestEraseRegionTooShortIsPrecondition(t *testing.T) {
	cl := fake.New()
	cfg := testConfig(4096)
	writeJournal(t, cl, cfg, []*event.Event{{Kind: event.KindOpen, ClientID: 1}})

	er := erase.New(cl, cfg)
	err := er.EraseRegion(context.Background(), 0, 1)
	if err == nil {
		t.Fatalf("EraseRegion with a 1-byte region succeeded, want a PreconditionError")
	}
	var pe *erase.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("EraseRegion error = %v (%T), want *erase.PreconditionError", err, err)
	}
}

func TestEraseRegionSpansObjectBoundary(t *testing.T) {
	const objSize = 64
	cl := fake.New()
	cfg := testConfig(objSize)

	// Lay down a long enough journal, spanning four log objects, by hand:
	// one big NoOp (225 bytes framed) that we will then erase whole,
	// straddling the object boundaries at bytes 64, 128 and 192.
	payload, err := event.Encode(&event.Event{Kind: event.KindNoOp, Padding: 200})
	if err != nil {
		t.Fatalf("event.Encode: %v", err)
	}
	framedLen := codec.FramedLen(len(payload))
	log := codec.Write(nil, payload, uint64(framedLen))
	ctx := context.Background()
	// Split the single logical log's bytes across consecutive physical
	// objects the way Write(objSize=64) addressing expects.
	for idx, off := int64(0), int64(0); off < int64(len(log)); idx, off = idx+1, off+objSize {
		end := off + objSize
		if end > int64(len(log)) {
			end = int64(len(log))
		}
		if err := cl.Write(ctx, cfg.JournalOID(idx), log[off:end], 0); err != nil {
			t.Fatalf("seed Write: %v", err)
		}
	}
	h := &header.Header{WritePos: framedLen, Layout: header.Layout{ObjectSize: objSize}}
	if err := header.Set(ctx, cl, cfg.HeaderOID(), h); err != nil {
		t.Fatalf("header.Set: %v", err)
	}

	er := erase.New(cl, cfg)
	if err := er.EraseRegion(ctx, 0, framedLen); err != nil {
		t.Fatalf("EraseRegion across object boundary: %v", err)
	}

	s := scan.New(cl, cfg)
	if err := s.Scan(ctx, true); err != nil {
		t.Fatalf("re-scan: %v", err)
	}
	if !s.IsReadable() {
		t.Fatalf("journal not readable after cross-object erase: errors=%+v", s.Errors)
	}
	ent, ok := s.Events.Get(0)
	if !ok || ent.Event.Kind != event.KindNoOp {
		t.Fatalf("erased record at 0: ok=%v event=%+v", ok, ent.Event)
	}
	if ent.RawSize != framedLen {
		t.Fatalf("erased record length = %d, want %d", ent.RawSize, framedLen)
	}
}
