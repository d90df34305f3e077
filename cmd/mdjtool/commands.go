// Command tree for mdjtool: `journal`, `header`, `event`. Each leaf
// resolves a Config, builds an objstore.Client, scans, and then either
// reports (journal inspect / event get), mutates the backing
// dirfrag/inode/inotable objects (event apply / event recover_dentries),
// or mutates the log itself (event splice, journal import/export/reset,
// header get/set).
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/journal/bulk"
	"github.com/NVIDIA/mdjtool/journal/erase"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/journal/inotable"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	jselect "github.com/NVIDIA/mdjtool/journal/select"
	"github.com/NVIDIA/mdjtool/journal/scan"
	"github.com/NVIDIA/mdjtool/journal/scanstats"
	"github.com/NVIDIA/mdjtool/journal/scavenge"
	"github.com/NVIDIA/mdjtool/journal/sink"
	"github.com/NVIDIA/mdjtool/journal/wire"
	"github.com/NVIDIA/mdjtool/objstore"
)

// Selector flags shared by every `event` subcommand; any may be
// combined, and they AND-compose. --path is the dentry-name selector;
// output location uses the distinct --out flag below so one flag name
// never carries two unrelated meanings.
var (
	selRangeFlag  = cli.StringFlag{Name: "range", Usage: "lo..hi byte-offset range, e.g. --range=1024..4096"}
	selPathFlag   = cli.StringFlag{Name: "path", Usage: "match any dentry whose name equals this string"}
	selInodeFlag  = cli.Int64Flag{Name: "inode", Usage: "match events touching this inode number"}
	selTypeFlag   = cli.StringFlag{Name: "type", Usage: "match one event kind: UPDATE|OPEN|SESSION|NOOP|SLAVEUPDATE|SUBTREEMAP"}
	selFragFlag   = cli.StringFlag{Name: "frag", Usage: "<ino>.<frag> in hex, e.g. --frag=1.0"}
	selDnameFlag  = cli.StringFlag{Name: "dname", Usage: "narrow --frag to one dentry name within it"}
	selClientFlag = cli.Int64Flag{Name: "client", Usage: "match Open/Session events for this client id"}

	outFlag    = cli.StringFlag{Name: "out", Usage: "output path: file for json, directory for binary, file or stdout (default) for summary/list"}
	dryRunCmdF = cli.BoolFlag{Name: "dry-run", Usage: "report would-be writes without performing them"}
	forceFlag  = cli.BoolFlag{Name: "force", Usage: "override a refusal guard"}
)

var selectorFlags = []cli.Flag{selRangeFlag, selPathFlag, selInodeFlag, selTypeFlag, selFragFlag, selDnameFlag, selClientFlag}

// buildPredicate ANDs together every selector flag the caller set.
func buildPredicate(c *cli.Context) (jselect.Predicate, error) {
	var preds []jselect.Predicate
	if r := c.String(selRangeFlag.Name); r != "" {
		lo, hi, err := parseRange(r)
		if err != nil {
			return nil, argErr("--range: %v", err)
		}
		preds = append(preds, jselect.Range(lo, hi))
	}
	if p := c.String(selPathFlag.Name); p != "" {
		preds = append(preds, jselect.Path(p))
	}
	if c.IsSet(selInodeFlag.Name) {
		preds = append(preds, jselect.Inode(uint64(c.Int64(selInodeFlag.Name))))
	}
	if t := c.String(selTypeFlag.Name); t != "" {
		k, ok := event.ParseKind(strings.ToUpper(t))
		if !ok {
			return nil, argErr("--type: unknown event kind %q", t)
		}
		preds = append(preds, jselect.Type(k))
	}
	if f := c.String(selFragFlag.Name); f != "" {
		ino, frag, err := parseFrag(f)
		if err != nil {
			return nil, argErr("--frag: %v", err)
		}
		preds = append(preds, jselect.Frag(ino, frag, c.String(selDnameFlag.Name)))
	} else if c.String(selDnameFlag.Name) != "" {
		return nil, argErr("--dname requires --frag")
	}
	if c.IsSet(selClientFlag.Name) {
		preds = append(preds, jselect.ClientID(uint64(c.Int64(selClientFlag.Name))))
	}
	return jselect.All(preds...), nil
}

func parseRange(s string) (lo, hi int64, err error) {
	parts := strings.SplitN(s, "..", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want lo..hi, got %q", s)
	}
	loV, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	hiV, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return int64(loV), int64(hiV), nil
}

func parseFrag(s string) (ino uint64, frag uint32, err error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want <ino>.<frag>, got %q", s)
	}
	inoV, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return 0, 0, err
	}
	fragV, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return inoV, uint32(fragV), nil
}

// runScan resolves config, builds the backend client, and performs a
// full scan, the common prefix of every journal/header/event subcommand.
// While the scan runs, a second goroutine polls its lock-free progress
// counters and logs them periodically.
func runScan(ctx context.Context, c *cli.Context) (*scan.Scanner, objstore.Client, *scanstats.Stats, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, nil, nil, argErr("%v", err)
	}
	cl, err := buildClient(ctx, cfg)
	if err != nil {
		return nil, nil, nil, argErr("%v", err)
	}
	st := maybeServeMetrics(ctx, cfg)
	s := scan.New(cl, cfg)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	go pollProgress(pollCtx, s)
	scanErr := s.Scan(ctx, true)
	cancelPoll()
	if scanErr != nil {
		return nil, nil, nil, ioErr("scan: %v", scanErr)
	}
	if err := interruptedErr(ctx); err != nil {
		return nil, nil, nil, err
	}

	st.EventsScanned.Add(float64(s.Events.Len()))
	st.ScanErrors.Add(float64(len(s.Errors)))
	return s, cl, st, nil
}

// pollProgress logs the scanner's event/error counts every two seconds
// until ctx is cancelled; it only ever reads s's atomics, so it runs
// safely alongside the scan loop writing them.
func pollProgress(ctx context.Context, s *scan.Scanner) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			nlog.Infof("scanning: %d events, %d errors so far", s.EventsScanned(), s.ScanErrorCount())
		}
	}
}

// writeOutput dispatches to the requested sink: "out" is a file for
// json, a directory for binary, a file or stdout for summary/list.
func writeOutput(mode string, out string, s *scan.Scanner) error {
	switch strings.ToLower(mode) {
	case "summary":
		return writeTextSink(out, func(w *os.File) error { return sink.Summary(w, s) })
	case "list":
		return writeTextSink(out, func(w *os.File) error { return sink.List(w, s) })
	case "json":
		if out == "" {
			return argErr("json output requires --out <path>")
		}
		return sink.JSON(out, s)
	case "binary":
		if out == "" {
			return argErr("binary output requires --out <dir>")
		}
		return sink.Binary(out, s)
	default:
		return argErr("unknown output mode %q (want summary|list|json|binary)", mode)
	}
}

func writeTextSink(out string, fn func(*os.File) error) error {
	if out == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(out)
	if err != nil {
		return ioErr("creating %s: %v", out, err)
	}
	defer f.Close()
	return fn(f)
}

////////////////
// journal ...
////////////////

var journalCmd = cli.Command{
	Name:  "journal",
	Usage: "inspect, import, export, or reset the whole log",
	Subcommands: []cli.Command{
		journalInspectCmd,
		journalImportCmd,
		journalExportCmd,
		journalResetCmd,
	},
}

var journalInspectCmd = cli.Command{
	Name:  "inspect",
	Usage: "scan the journal and print a summary report",
	Action: func(c *cli.Context) error {
		ctx, cancel := interruptContext()
		defer cancel()
		s, _, _, err := runScan(ctx, c)
		if err != nil {
			return err
		}
		return sink.Summary(os.Stdout, s)
	},
}

var journalExportCmd = cli.Command{
	Name:      "export",
	Usage:     "serialise the scanned event stream to a portable container",
	ArgsUsage: "<path>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("journal export requires exactly one <path> argument")
		}
		ctx, cancel := interruptContext()
		defer cancel()
		s, _, _, err := runScan(ctx, c)
		if err != nil {
			return err
		}
		if err := bulk.ExportToFile(c.Args().Get(0), s, true); err != nil {
			return ioErr("export: %v", err)
		}
		nlog.Infof("journal export: wrote %d events to %s", s.Events.Len(), c.Args().Get(0))
		return nil
	},
}

var journalImportCmd = cli.Command{
	Name:      "import",
	Usage:     "bulk-append a previously exported container onto the live log",
	ArgsUsage: "<path>",
	Flags:     []cli.Flag{dryRunCmdF, cli.IntFlag{Name: "flush-every", Value: 1, Usage: "records per header flush"}},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("journal import requires exactly one <path> argument")
		}
		ctx, cancel := interruptContext()
		defer cancel()
		cfg, err := resolveConfig(c)
		if err != nil {
			return argErr("%v", err)
		}
		cl, err := buildClient(ctx, cfg)
		if err != nil {
			return argErr("%v", err)
		}
		im := bulk.NewImporter(cl, cfg)
		im.FlushEvery = c.Int("flush-every")
		im.DryRun = cfg.DryRun
		n, err := bulk.ImportFromFile(ctx, im, c.Args().Get(0))
		if err != nil {
			if objstore.IsNotFound(err) {
				return notFoundErr("import: %v", err)
			}
			return ioErr("import: %v", err)
		}
		nlog.Infof("journal import: appended %d records (dry_run=%v)", n, im.DryRun)
		return nil
	},
}

var journalResetCmd = cli.Command{
	Name:  "reset",
	Usage: "reset trimmed_pos=expire_pos=write_pos to a safe floor",
	Flags: []cli.Flag{forceFlag, cli.Int64Flag{Name: "floor", Value: 0, Usage: "new trimmed_pos/expire_pos/write_pos value"}},
	Action: func(c *cli.Context) error {
		ctx, cancel := interruptContext()
		defer cancel()
		cfg, err := resolveConfig(c)
		if err != nil {
			return argErr("%v", err)
		}
		cl, err := buildClient(ctx, cfg)
		if err != nil {
			return argErr("%v", err)
		}
		layout := header.Layout{ObjectSize: cfg.ObjSize, PoolPrefix: cfg.PoolPrefix}
		if err := header.Reset(ctx, cl, cfg.HeaderOID(), c.Int64("floor"), layout, c.Bool(forceFlag.Name)); err != nil {
			return argErr("journal reset: %v", err)
		}
		nlog.Infof("journal reset: rank %d floor=%d", cfg.Rank, c.Int64("floor"))
		return nil
	},
}

///////////////
// header ...
///////////////

var headerCmd = cli.Command{
	Name:  "header",
	Usage: "read or directly edit the journal header's three pointers",
	Subcommands: []cli.Command{
		headerGetCmd,
		headerSetCmd,
	},
}

var headerGetCmd = cli.Command{
	Name:  "get",
	Usage: "print the header's trimmed_pos/expire_pos/write_pos",
	Action: func(c *cli.Context) error {
		ctx, cancel := interruptContext()
		defer cancel()
		cfg, err := resolveConfig(c)
		if err != nil {
			return argErr("%v", err)
		}
		cl, err := buildClient(ctx, cfg)
		if err != nil {
			return argErr("%v", err)
		}
		h, present, ok, _, err := header.Get(ctx, cl, cfg.HeaderOID())
		if err != nil {
			return ioErr("header get: %v", err)
		}
		if !present {
			return notFoundErr("header get: no header object at %s", cfg.HeaderOID())
		}
		if !ok {
			fmt.Println("header present but does not decode")
			return nil
		}
		fmt.Printf("trimmed_pos: %d\nexpire_pos:  %d\nwrite_pos:   %d\nobject_size: %d\n",
			h.TrimmedPos, h.ExpirePos, h.WritePos, h.Layout.ObjectSize)
		return nil
	},
}

var headerSetCmd = cli.Command{
	Name:      "set",
	Usage:     "set one of trimmed_pos|expire_pos|write_pos directly",
	ArgsUsage: "(trimmed_pos|expire_pos|write_pos) <u64>",
	Flags:     []cli.Flag{forceFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return argErr("header set requires (trimmed_pos|expire_pos|write_pos) <u64>")
		}
		field := c.Args().Get(0)
		val, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
		if err != nil {
			return argErr("header set: bad value %q: %v", c.Args().Get(1), err)
		}
		ctx, cancel := interruptContext()
		defer cancel()
		cfg, err := resolveConfig(c)
		if err != nil {
			return argErr("%v", err)
		}
		cl, err := buildClient(ctx, cfg)
		if err != nil {
			return argErr("%v", err)
		}
		h, present, ok, _, err := header.Get(ctx, cl, cfg.HeaderOID())
		if err != nil {
			return ioErr("header set: %v", err)
		}
		if !present || !ok {
			return notFoundErr("header set: no decodable header at %s", cfg.HeaderOID())
		}
		switch field {
		case "trimmed_pos":
			h.TrimmedPos = val
		case "expire_pos":
			h.ExpirePos = val
		case "write_pos":
			h.WritePos = val
		default:
			return argErr("header set: unknown field %q", field)
		}
		if !h.Valid() && !c.Bool(forceFlag.Name) {
			return argErr("header set: trimmed_pos<=expire_pos<=write_pos violated; pass --force to override")
		}
		if err := header.Set(ctx, cl, cfg.HeaderOID(), &h); err != nil {
			return ioErr("header set: %v", err)
		}
		nlog.Infof("header set: %s -> %d", field, val)
		return nil
	},
}

//////////////
// event ...
//////////////

var eventCmd = cli.Command{
	Name:  "event",
	Usage: "select events by range/path/inode/type/frag/client and report or act on them",
	Subcommands: []cli.Command{
		eventGetCmd,
		eventApplyCmd,
		eventRecoverDentriesCmd,
		eventSpliceCmd,
	},
}

var eventGetCmd = cli.Command{
	Name:      "get",
	Usage:     "read-only: report the selected events",
	ArgsUsage: "<output>",
	Flags:     append(append([]cli.Flag{}, selectorFlags...), outFlag),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("event get requires exactly one <output> mode argument")
		}
		ctx, cancel := interruptContext()
		defer cancel()
		s, _, _, err := runScan(ctx, c)
		if err != nil {
			return err
		}
		pred, err := buildPredicate(c)
		if err != nil {
			return err
		}
		matched := jselect.Apply(s, pred)
		filtered := s.WithEvents(s.Events.Filter(matched))
		if err := writeOutput(c.Args().Get(0), c.String(outFlag.Name), filtered); err != nil {
			return err
		}
		nlog.Infof("event get: %d/%d events matched", len(matched), s.Events.Len())
		return nil
	},
}

var eventApplyCmd = cli.Command{
	Name:      "apply",
	Usage:     "version-gated replay of the selected Update/SlaveUpdate events against the backing store",
	ArgsUsage: "<output>",
	Flags:     append(append(append([]cli.Flag{}, selectorFlags...), outFlag, dryRunCmdF), cli.StringFlag{Name: "ranks", Usage: "comma-separated rank list to reconcile inotables for (default: --rank)"}),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("event apply requires exactly one <output> mode argument")
		}
		return runApply(c, nil)
	},
}

var eventRecoverDentriesCmd = cli.Command{
	Name:      "recover_dentries",
	Usage:     "like apply, but restricted to the selector's matched dirfrag(s)/dentry name only",
	ArgsUsage: "<output>",
	Flags:     append(append(append([]cli.Flag{}, selectorFlags...), outFlag, dryRunCmdF), cli.StringFlag{Name: "ranks", Usage: "comma-separated rank list to reconcile inotables for (default: --rank)"}),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("event recover_dentries requires exactly one <output> mode argument")
		}
		if c.String(selFragFlag.Name) == "" {
			return argErr("event recover_dentries requires --frag to scope the recovery")
		}
		ino, frag, err := parseFrag(c.String(selFragFlag.Name))
		if err != nil {
			return argErr("--frag: %v", err)
		}
		want := metablob.DirfragID{Ino: ino, Frag: frag}
		dname := c.String(selDnameFlag.Name)
		return runApply(c, func(mb *metablob.Metablob) *metablob.Metablob {
			return restrictMetablob(mb, want, dname)
		})
	},
}

// restrictMetablob builds a metablob containing only the one dirlump
// matching want (and, if dname != "", only that dentry's bits within
// it), no roots — the targeted-repair scoping recover_dentries applies.
func restrictMetablob(mb *metablob.Metablob, want metablob.DirfragID, dname string) *metablob.Metablob {
	dl, ok := mb.LumpMap[want]
	if !ok {
		return nil
	}
	if err := dl.DecodeBits(); err != nil {
		return nil
	}
	if dname == "" {
		out := metablob.NewDirlump(dl.Fnode, dl.Dfull, dl.Dremote, dl.Dnull)
		return &metablob.Metablob{LumpOrder: []metablob.DirfragID{want}, LumpMap: map[metablob.DirfragID]*metablob.Dirlump{want: out}}
	}
	var dfull []wire.Fullbit
	var dremote []wire.Remotebit
	var dnull []wire.Nullbit
	for _, fb := range dl.Dfull {
		if fb.Dn == dname {
			dfull = append(dfull, fb)
		}
	}
	for _, rb := range dl.Dremote {
		if rb.Dn == dname {
			dremote = append(dremote, rb)
		}
	}
	for _, nb := range dl.Dnull {
		if nb.Dn == dname {
			dnull = append(dnull, nb)
		}
	}
	if len(dfull) == 0 && len(dremote) == 0 && len(dnull) == 0 {
		return nil
	}
	out := metablob.NewDirlump(dl.Fnode, dfull, dremote, dnull)
	return &metablob.Metablob{LumpOrder: []metablob.DirfragID{want}, LumpMap: map[metablob.DirfragID]*metablob.Dirlump{want: out}}
}

// runApply is shared by `event apply` and `event recover_dentries`;
// narrow, when non-nil, restricts each matched event's metablob before
// scavenging.
func runApply(c *cli.Context, narrow func(*metablob.Metablob) *metablob.Metablob) error {
	ctx, cancel := interruptContext()
	defer cancel()
	cfg, err := resolveConfig(c)
	if err != nil {
		return argErr("%v", err)
	}
	cl, err := buildClient(ctx, cfg)
	if err != nil {
		return argErr("%v", err)
	}
	st := maybeServeMetrics(ctx, cfg)
	s := scan.New(cl, cfg)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	go pollProgress(pollCtx, s)
	scanErr := s.Scan(ctx, true)
	cancelPoll()
	if scanErr != nil {
		return ioErr("scan: %v", scanErr)
	}
	st.EventsScanned.Add(float64(s.Events.Len()))
	st.ScanErrors.Add(float64(len(s.Errors)))

	pred, err := buildPredicate(c)
	if err != nil {
		return err
	}
	matched := jselect.Apply(s, pred)

	sc := scavenge.New(cl, cfg)
	consumed := make(map[uint64]struct{})
	dryRun := cfg.DryRun || c.Bool(dryRunCmdF.Name)
	var scavenged int
	for _, off := range matched {
		ent, _ := s.Events.Get(off)
		if ent.Event.Kind != event.KindUpdate && ent.Event.Kind != event.KindSlaveUpdate {
			continue
		}
		mb := ent.Event.Metablob
		if narrow != nil {
			mb = narrow(mb)
			if mb == nil {
				continue
			}
		}
		if err := sc.ScavengeDentries(ctx, mb, dryRun, consumed); err != nil {
			return ioErr("apply: offset %d: %v", off, err)
		}
		scavenged++
	}

	ranks := []int64{cfg.Rank}
	if rs := c.String("ranks"); rs != "" {
		ranks = nil
		for _, p := range strings.Split(rs, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return argErr("--ranks: %v", err)
			}
			ranks = append(ranks, v)
		}
	}
	rec := inotable.New(cl, cfg)
	rankErrs, overall := rec.Reconcile(ctx, ranks, consumed)
	for _, e := range rankErrs {
		nlog.Warningln("inotable reconcile:", e)
	}
	st.DentriesWritten.Add(float64(scavenged))
	st.InodesConsumed.Add(float64(len(consumed)))
	st.RanksReconciled.Add(float64(len(ranks) - len(rankErrs)))
	fmt.Printf("scavenged %d update event(s), %d consumed inode(s), dry_run=%v\n", scavenged, len(consumed), dryRun)
	if overall != nil {
		return ioErr("inotable reconcile: %v", overall)
	}
	if err := interruptedErr(ctx); err != nil {
		return err
	}
	return nil
}

var eventSpliceCmd = cli.Command{
	Name:      "splice",
	Usage:     "overwrite the selected events' byte ranges with padded NoOp records",
	ArgsUsage: "<output>",
	Flags:     append(append([]cli.Flag{}, selectorFlags...), outFlag, dryRunCmdF),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return argErr("event splice requires exactly one <output> mode argument")
		}
		ctx, cancel := interruptContext()
		defer cancel()
		s, cl, st, err := runScan(ctx, c)
		if err != nil {
			return err
		}
		pred, err := buildPredicate(c)
		if err != nil {
			return err
		}
		matched := jselect.Apply(s, pred)

		dryRun := s.Cfg.DryRun || c.Bool(dryRunCmdF.Name)
		er := erase.New(cl, s.Cfg)
		var spliced int
		var bytesErased int64
		for _, off := range matched {
			ent, _ := s.Events.Get(off)
			if !dryRun {
				if err := er.EraseRegion(ctx, off, ent.RawSize); err != nil {
					return argErr("splice: offset %d: %v", off, err)
				}
				bytesErased += ent.RawSize
			}
			spliced++
		}
		st.BytesErased.Add(float64(bytesErased))
		filtered := s.WithEvents(s.Events.Filter(matched))
		if err := writeOutput(c.Args().Get(0), c.String(outFlag.Name), filtered); err != nil {
			return err
		}
		fmt.Printf("spliced %d event(s), dry_run=%v\n", spliced, dryRun)
		return nil
	},
}
