package event_test

import (
	"testing"

	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	"github.com/NVIDIA/mdjtool/journal/wire"
)

func TestOpenSessionRoundTrip(t *testing.T) {
	for _, kind := range []event.Kind{event.KindOpen, event.KindSession} {
		e := &event.Event{Kind: kind, ClientID: 0xdeadbeef}
		b, err := event.Encode(e)
		if err != nil {
			t.Fatalf("Encode(%v): %v", kind, err)
		}
		got, err := event.Decode(b)
		if err != nil {
			t.Fatalf("Decode(%v): %v", kind, err)
		}
		if got.Kind != kind || got.ClientID != e.ClientID {
			t.Fatalf("got %+v, want kind=%v client=%d", got, kind, e.ClientID)
		}
	}
}

func TestNoOpEncodesToExactLength(t *testing.T) {
	for _, padding := range []int{0, 1, 100, 4096} {
		e := &event.Event{Kind: event.KindNoOp, Padding: padding}
		b, err := event.Encode(e)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if want := padding + 1 + 4; len(b) != want {
			t.Fatalf("padding=%d: encoded length %d, want %d", padding, len(b), want)
		}
		got, err := event.Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Kind != event.KindNoOp || got.Padding != padding {
			t.Fatalf("got %+v, want padding=%d", got, padding)
		}
	}
}

func TestNoOpNegativePaddingRejected(t *testing.T) {
	if _, err := event.Encode(&event.Event{Kind: event.KindNoOp, Padding: -1}); err == nil {
		t.Fatalf("Encode accepted negative padding")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	mb := &metablob.Metablob{
		Roots: []wire.Fullbit{{Dn: "root", DnFirst: 1, DnLast: ^uint64(0), InodeStore: wire.InodeStore{Inode: wire.RawInode{Ino: 1, Version: 2}}}},
	}
	e := &event.Event{Kind: event.KindUpdate, Metablob: mb}
	b, err := event.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := event.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != event.KindUpdate || !got.HasMetablob() {
		t.Fatalf("got %+v, want an Update event carrying a metablob", got)
	}
	if len(got.Metablob.Roots) != 1 || got.Metablob.Roots[0].Inode.Ino != 1 {
		t.Fatalf("roots mismatch: %+v", got.Metablob.Roots)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := event.Decode([]byte{0xEE, 0x01})
	var ute *event.UnknownTypeError
	if err == nil {
		t.Fatalf("Decode succeeded on an unknown tag")
	}
	if !asUnknownType(err, &ute) {
		t.Fatalf("error is %T, want *event.UnknownTypeError", err)
	}
}

func asUnknownType(err error, target **event.UnknownTypeError) bool {
	ute, ok := err.(*event.UnknownTypeError)
	if ok {
		*target = ute
	}
	return ok
}

func TestKindStringRoundTrip(t *testing.T) {
	for k := event.KindUpdate; k <= event.KindSubtreeMap; k++ {
		got, ok := event.ParseKind(k.String())
		if !ok || got != k {
			t.Fatalf("ParseKind(%q) = (%v, %v), want (%v, true)", k.String(), got, ok, k)
		}
	}
}
