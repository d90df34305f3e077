package header_test

import (
	"context"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/objstore/fake"
)

func TestValid(t *testing.T) {
	ok := header.Header{TrimmedPos: 0, ExpirePos: 10, WritePos: 20}
	if !ok.Valid() {
		t.Fatalf("Valid() = false, want true for ordered positions")
	}
	bad := header.Header{TrimmedPos: 20, ExpirePos: 10, WritePos: 0}
	if bad.Valid() {
		t.Fatalf("Valid() = true, want false for out-of-order positions")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := &header.Header{
		TrimmedPos: 0,
		ExpirePos:  4 << 20,
		WritePos:   8 << 20,
		Layout:     header.Layout{ObjectSize: 4 << 20, PoolPrefix: "mdlog"},
	}
	b := header.Encode(h)
	got, ok, err := header.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !ok {
		t.Fatalf("ok = false, want true")
	}
	if got != *h {
		t.Fatalf("got %+v, want %+v", got, *h)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	b := header.Encode(&header.Header{})
	b[4] ^= 0xFF // last byte of the big-endian magic value, leaves the uint32 marker byte intact
	_, ok, err := header.Decode(b)
	if err != nil {
		t.Fatalf("Decode returned an error instead of ok=false: %v", err)
	}
	if ok {
		t.Fatalf("ok = true on mismatched magic, want false")
	}
}

func TestDecodeBadVersion(t *testing.T) {
	b := msgp.AppendUint32(nil, header.Magic)
	b = msgp.AppendUint32(b, header.HeaderVersion+1)
	b = msgp.AppendInt64(b, 0)
	b = msgp.AppendInt64(b, 0)
	b = msgp.AppendInt64(b, 0)
	b = msgp.AppendInt64(b, 0)
	b = msgp.AppendString(b, "")
	_, ok, err := header.Decode(b)
	if err != nil {
		t.Fatalf("Decode returned an error instead of ok=false: %v", err)
	}
	if ok {
		t.Fatalf("ok = true on mismatched version, want false")
	}
}

func TestGetAbsent(t *testing.T) {
	cl := fake.New()
	_, present, ok, _, err := header.Get(context.Background(), cl, "hdr")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if present {
		t.Fatalf("present = true for an object never written")
	}
	if ok {
		t.Fatalf("ok = true for an absent object")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	cl := fake.New()
	ctx := context.Background()
	want := &header.Header{TrimmedPos: 1, ExpirePos: 2, WritePos: 3, Layout: header.Layout{ObjectSize: 4096}}
	if err := header.Set(ctx, cl, "hdr", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, present, ok, _, err := header.Get(ctx, cl, "hdr")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !present || !ok {
		t.Fatalf("present=%v ok=%v, want true/true", present, ok)
	}
	if got != *want {
		t.Fatalf("got %+v, want %+v", got, *want)
	}
}

func TestGetCorruptBytesKept(t *testing.T) {
	cl := fake.New()
	ctx := context.Background()
	if err := cl.WriteFull(ctx, "hdr", []byte("not a header")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	_, present, ok, raw, err := header.Get(ctx, cl, "hdr")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !present {
		t.Fatalf("present = false, want true (bytes exist, just don't decode)")
	}
	if ok {
		t.Fatalf("ok = true for undecodable bytes")
	}
	if string(raw) != "not a header" {
		t.Fatalf("raw = %q, want original bytes kept for repair", raw)
	}
}

func TestResetFreshObject(t *testing.T) {
	cl := fake.New()
	ctx := context.Background()
	layout := header.Layout{ObjectSize: 4 << 20, PoolPrefix: "mdlog"}
	if err := header.Reset(ctx, cl, "hdr", 100, layout, false); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, present, ok, _, err := header.Get(ctx, cl, "hdr")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !present || !ok {
		t.Fatalf("present=%v ok=%v, want true/true", present, ok)
	}
	if got.TrimmedPos != 100 || got.ExpirePos != 100 || got.WritePos != 100 {
		t.Fatalf("got %+v, want all positions at floor 100", got)
	}
}

func TestResetRefusesUndecodableWithoutForce(t *testing.T) {
	cl := fake.New()
	ctx := context.Background()
	if err := cl.WriteFull(ctx, "hdr", []byte("garbage")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if err := header.Reset(ctx, cl, "hdr", 0, header.Layout{}, false); err == nil {
		t.Fatalf("Reset succeeded on an undecodable header without --force")
	}
	if err := header.Reset(ctx, cl, "hdr", 0, header.Layout{}, true); err != nil {
		t.Fatalf("Reset with force=true: %v", err)
	}
}
