package jselect_test

import (
	"testing"

	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	jselect "github.com/NVIDIA/mdjtool/journal/select"
	"github.com/NVIDIA/mdjtool/journal/wire"
)

func eventWithRoot(ino uint64, dn string) *event.Event {
	return &event.Event{
		Kind: event.KindUpdate,
		Metablob: &metablob.Metablob{
			Roots: []wire.Fullbit{
				{Dn: dn, DnFirst: 1, DnLast: ^uint64(0), InodeStore: wire.InodeStore{Inode: wire.RawInode{Ino: ino}}},
			},
			LumpMap: map[metablob.DirfragID]*metablob.Dirlump{},
		},
	}
}

func eventWithLump(id metablob.DirfragID, fnVersion uint64, dfull []wire.Fullbit) *event.Event {
	return &event.Event{
		Kind: event.KindUpdate,
		Metablob: &metablob.Metablob{
			LumpOrder: []metablob.DirfragID{id},
			LumpMap: map[metablob.DirfragID]*metablob.Dirlump{
				id: metablob.NewDirlump(wire.Fnode{Version: fnVersion}, dfull, nil, nil),
			},
		},
	}
}

func TestRangePredicate(t *testing.T) {
	p := jselect.Range(10, 20)
	if !p(10, &event.Event{}) {
		t.Fatalf("Range(10,20) rejected offset 10, the inclusive lower bound")
	}
	if p(20, &event.Event{}) {
		t.Fatalf("Range(10,20) accepted offset 20, the exclusive upper bound")
	}
	if p(5, &event.Event{}) {
		t.Fatalf("Range(10,20) accepted offset 5")
	}
}

func TestTypePredicate(t *testing.T) {
	p := jselect.Type(event.KindOpen)
	if !p(0, &event.Event{Kind: event.KindOpen}) {
		t.Fatalf("Type(Open) rejected an Open event")
	}
	if p(0, &event.Event{Kind: event.KindSession}) {
		t.Fatalf("Type(Open) accepted a Session event")
	}
}

func TestClientIDPredicate(t *testing.T) {
	p := jselect.ClientID(42)
	if !p(0, &event.Event{Kind: event.KindOpen, ClientID: 42}) {
		t.Fatalf("ClientID(42) rejected a matching Open event")
	}
	if p(0, &event.Event{Kind: event.KindOpen, ClientID: 7}) {
		t.Fatalf("ClientID(42) accepted client 7")
	}
	if p(0, &event.Event{Kind: event.KindNoOp}) {
		t.Fatalf("ClientID(42) accepted a NoOp event, which carries no client id")
	}
}

func TestInodePredicateMatchesRoot(t *testing.T) {
	p := jselect.Inode(100)
	if !p(0, eventWithRoot(100, "root")) {
		t.Fatalf("Inode(100) rejected an event whose root inode is 100")
	}
	if p(0, eventWithRoot(200, "root")) {
		t.Fatalf("Inode(100) accepted an event whose root inode is 200")
	}
}

func TestInodePredicateMatchesDirlump(t *testing.T) {
	id := metablob.DirfragID{Ino: 5, Frag: 0}
	fb := wire.Fullbit{Dn: "a", DnFirst: 1, DnLast: 1, InodeStore: wire.InodeStore{Inode: wire.RawInode{Ino: 100}}}
	p := jselect.Inode(100)
	if !p(0, eventWithLump(id, 1, []wire.Fullbit{fb})) {
		t.Fatalf("Inode(100) rejected an event whose dirlump has a dentry to inode 100")
	}
	// matches the dirfrag's own directory inode too
	p2 := jselect.Inode(5)
	if !p2(0, eventWithLump(id, 1, nil)) {
		t.Fatalf("Inode(5) rejected an event whose dirlump's directory inode is 5")
	}
}

func TestPathPredicateMatchesRootAndLump(t *testing.T) {
	p := jselect.Path("root")
	if !p(0, eventWithRoot(1, "root")) {
		t.Fatalf("Path(\"root\") rejected an event with a matching root dentry name")
	}
	id := metablob.DirfragID{Ino: 1, Frag: 0}
	fb := wire.Fullbit{Dn: "child", DnFirst: 1, DnLast: 1}
	pc := jselect.Path("child")
	if !pc(0, eventWithLump(id, 1, []wire.Fullbit{fb})) {
		t.Fatalf("Path(\"child\") rejected an event with a matching dirlump dentry name")
	}
	if pc(0, eventWithRoot(1, "root")) {
		t.Fatalf("Path(\"child\") accepted an event with no dentry named child")
	}
}

func TestFragPredicate(t *testing.T) {
	id := metablob.DirfragID{Ino: 9, Frag: 3}
	e := eventWithLump(id, 1, nil)

	if !jselect.Frag(9, 3, "")(0, e) {
		t.Fatalf("Frag(9,3,\"\") rejected a matching (ino,frag)")
	}
	if jselect.Frag(9, 4, "")(0, e) {
		t.Fatalf("Frag(9,4,\"\") accepted a non-matching frag")
	}

	fb := wire.Fullbit{Dn: "x", DnFirst: 1, DnLast: 1}
	withDentry := eventWithLump(id, 1, []wire.Fullbit{fb})
	if !jselect.Frag(9, 3, "x")(0, withDentry) {
		t.Fatalf("Frag(9,3,\"x\") rejected an event with a matching dentry name")
	}
	if jselect.Frag(9, 3, "y")(0, withDentry) {
		t.Fatalf("Frag(9,3,\"y\") accepted an event with no dentry named y")
	}
}

func TestFragDoesNotMatchRoots(t *testing.T) {
	if jselect.Frag(1, 0, "")(0, eventWithRoot(1, "root")) {
		t.Fatalf("Frag matched an event with only a root, no dirlump")
	}
}

func TestAllComposesWithAnd(t *testing.T) {
	e := &event.Event{Kind: event.KindOpen, ClientID: 42}
	p := jselect.All(jselect.Type(event.KindOpen), jselect.ClientID(42))
	if !p(0, e) {
		t.Fatalf("All(Type(Open), ClientID(42)) rejected a matching event")
	}
	p2 := jselect.All(jselect.Type(event.KindOpen), jselect.ClientID(7))
	if p2(0, e) {
		t.Fatalf("All(Type(Open), ClientID(7)) accepted a client-42 event")
	}
}

func TestAllEmptyAlwaysMatches(t *testing.T) {
	p := jselect.All()
	if !p(0, &event.Event{}) {
		t.Fatalf("All() with no predicates rejected an event")
	}
}

func TestAllSkipsNilPredicates(t *testing.T) {
	p := jselect.All(nil, jselect.Type(event.KindOpen), nil)
	if !p(0, &event.Event{Kind: event.KindOpen}) {
		t.Fatalf("All() with nil entries rejected a matching event")
	}
}
