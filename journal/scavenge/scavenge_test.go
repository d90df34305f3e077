package scavenge_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	"github.com/NVIDIA/mdjtool/journal/scavenge"
	"github.com/NVIDIA/mdjtool/journal/wire"
	"github.com/NVIDIA/mdjtool/objstore/fake"
)

var _ = Describe("ScavengeDentries", func() {
	var (
		ctx  context.Context
		cl   *fake.Client
		cfg  *cmn.Config
		sc   *scavenge.Scavenger
		inos map[uint64]struct{}
	)

	const fragOID = "64.00000000" // ino=0x64, frag=0

	BeforeEach(func() {
		ctx = context.Background()
		cl = fake.New()
		cfg = &cmn.Config{Rank: 0}
		Expect(cfg.Validate()).To(Succeed())
		sc = scavenge.New(cl, cfg)
		inos = make(map[uint64]struct{})
	})

	buildMetablob := func(ino uint64, frag uint32, fnodeVersion, dnFirst, inodeVersion uint64) *metablob.Metablob {
		fb := wire.Fullbit{
			Dn: "a", DnFirst: dnFirst, DnLast: wire.NoSnap,
			InodeStore: wire.InodeStore{Inode: wire.RawInode{Ino: 100, Version: inodeVersion}},
		}
		id := metablob.DirfragID{Ino: ino, Frag: frag}
		return &metablob.Metablob{
			LumpOrder: []metablob.DirfragID{id},
			LumpMap: map[metablob.DirfragID]*metablob.Dirlump{
				id: metablob.NewDirlump(wire.Fnode{Version: fnodeVersion}, []wire.Fullbit{fb}, nil, nil),
			},
		}
	}

	Context("fresh dirfrag", func() {
		It("writes the fnode header and dentry, and records the consumed inode", func() {
			mb := buildMetablob(0x64, 0, 1, 5, 5)
			Expect(sc.ScavengeDentries(ctx, mb, false, inos)).To(Succeed())

			Expect(cl.Exists(fragOID)).To(BeTrue())
			hdr, err := cl.OmapGetHeader(ctx, fragOID)
			Expect(err).NotTo(HaveOccurred())
			fn, err := wire.DecodeFnode(hdr)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.Version).To(BeEquivalentTo(1))

			vals := cl.OmapKeys(fragOID)
			Expect(vals).To(HaveKey("a_head"))
			dd, err := wire.DecodeDentry(vals["a_head"])
			Expect(err).NotTo(HaveOccurred())
			Expect(dd.Inode.Inode.Version).To(BeEquivalentTo(5))

			Expect(inos).To(HaveKey(uint64(100)))
		})
	})

	Context("version gate declines an older write", func() {
		It("leaves the existing dentry untouched when the incoming inode version is not newer", func() {
			first := buildMetablob(0x64, 0, 5, 1, 10)
			Expect(sc.ScavengeDentries(ctx, first, false, inos)).To(Succeed())

			stale := buildMetablob(0x64, 0, 5, 1, 3) // same fnode version, older inode version
			Expect(sc.ScavengeDentries(ctx, stale, false, inos)).To(Succeed())

			vals := cl.OmapKeys(fragOID)
			dd, err := wire.DecodeDentry(vals["a_head"])
			Expect(err).NotTo(HaveOccurred())
			Expect(dd.Inode.Inode.Version).To(BeEquivalentTo(10), "an older inode version must not overwrite a newer one")
		})
	})

	Context("version gate accepts a newer write", func() {
		It("overwrites the dentry once a strictly newer inode version arrives", func() {
			first := buildMetablob(0x64, 0, 5, 1, 3)
			Expect(sc.ScavengeDentries(ctx, first, false, inos)).To(Succeed())

			newer := buildMetablob(0x64, 0, 5, 1, 10)
			Expect(sc.ScavengeDentries(ctx, newer, false, inos)).To(Succeed())

			vals := cl.OmapKeys(fragOID)
			dd, err := wire.DecodeDentry(vals["a_head"])
			Expect(err).NotTo(HaveOccurred())
			Expect(dd.Inode.Inode.Version).To(BeEquivalentTo(10))
		})
	})

	Context("corruption override", func() {
		It("overwrites unconditionally when the existing dentry bytes don't decode", func() {
			Expect(cl.OmapSet(ctx, fragOID, map[string][]byte{"a_head": []byte("not a dentry record")})).To(Succeed())

			mb := buildMetablob(0x64, 0, 1, 1, 1)
			Expect(sc.ScavengeDentries(ctx, mb, false, inos)).To(Succeed())

			vals := cl.OmapKeys(fragOID)
			dd, err := wire.DecodeDentry(vals["a_head"])
			Expect(err).NotTo(HaveOccurred())
			Expect(dd.Inode.Inode.Version).To(BeEquivalentTo(1))
		})
	})

	Context("dry run", func() {
		It("stages nothing and mutates no object", func() {
			mb := buildMetablob(0x64, 0, 1, 1, 1)
			Expect(sc.ScavengeDentries(ctx, mb, true, inos)).To(Succeed())
			Expect(cl.Exists(fragOID)).To(BeFalse(), "dry-run must not create the frag object")
			// consumed_inos is still populated under dry-run, so a report can
			// show what *would* have been touched.
			Expect(inos).To(HaveKey(uint64(100)))
		})
	})

	Context("nullbit honoring", func() {
		It("removes the dentry key a nullbit tombstones", func() {
			first := buildMetablob(0x64, 0, 1, 1, 1)
			Expect(sc.ScavengeDentries(ctx, first, false, inos)).To(Succeed())
			Expect(cl.OmapKeys(fragOID)).To(HaveKey("a_head"))

			id := metablob.DirfragID{Ino: 0x64, Frag: 0}
			mb := &metablob.Metablob{
				LumpOrder: []metablob.DirfragID{id},
				LumpMap: map[metablob.DirfragID]*metablob.Dirlump{
					id: metablob.NewDirlump(wire.Fnode{Version: 2}, nil, nil,
						[]wire.Nullbit{{Dn: "a", DnFirst: 1, DnLast: wire.NoSnap}}),
				},
			}
			Expect(sc.ScavengeDentries(ctx, mb, false, inos)).To(Succeed())
			Expect(cl.OmapKeys(fragOID)).NotTo(HaveKey("a_head"))
		})
	})
})

var _ = Describe("ScavengeDentries roots pass", func() {
	var (
		ctx  context.Context
		cl   *fake.Client
		cfg  *cmn.Config
		sc   *scavenge.Scavenger
		inos map[uint64]struct{}
	)

	const rootOID = "7b.00000000.inode" // ino=0x7b

	BeforeEach(func() {
		ctx = context.Background()
		cl = fake.New()
		cfg = &cmn.Config{Rank: 0}
		Expect(cfg.Validate()).To(Succeed())
		sc = scavenge.New(cl, cfg)
		inos = make(map[uint64]struct{})
	})

	rootMetablob := func(version uint64) *metablob.Metablob {
		return &metablob.Metablob{
			Roots: []wire.Fullbit{
				{Dn: "root", DnFirst: 1, DnLast: ^uint64(0),
					InodeStore: wire.InodeStore{Inode: wire.RawInode{Ino: 0x7b, Version: version}}},
			},
		}
	}

	It("writes a fresh root inode object", func() {
		Expect(sc.ScavengeDentries(ctx, rootMetablob(1), false, inos)).To(Succeed())
		Expect(cl.Exists(rootOID)).To(BeTrue())
		Expect(inos).To(HaveKey(uint64(0x7b)))
	})

	It("gates a root overwrite on the inode's version", func() {
		Expect(sc.ScavengeDentries(ctx, rootMetablob(10), false, inos)).To(Succeed())
		Expect(sc.ScavengeDentries(ctx, rootMetablob(3), false, inos)).To(Succeed())

		out, err := cl.Read(ctx, rootOID, make([]byte, 1<<20), 0)
		Expect(err).NotTo(HaveOccurred())
		is, ok, err := wire.DecodeInodeStoreFull(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(is.Inode.Version).To(BeEquivalentTo(10))
	})
})
