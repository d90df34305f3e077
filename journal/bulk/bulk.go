// Package bulk implements the journal import/export commands: export
// serialises a scanned event stream to a portable container; import
// replays that container onto a live log as a deterministic bulk-append
// with explicit flush points.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package bulk

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/journal/codec"
	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/header"
	"github.com/NVIDIA/mdjtool/journal/scan"
	"github.com/NVIDIA/mdjtool/objstore"
)

// containerMagic identifies an export container; containerVersion is
// bumped only if the record layout below changes.
const (
	containerMagic   uint32 = 0xB01CE5ED
	containerVersion uint32 = 1
)

// Export writes every scanned event from s to w as a portable container:
// a 16-byte header (magic, container version, object size) followed by one framed record per
// event, reusing the log's own framing codec rather than inventing a
// second format.
func Export(w io.Writer, s *scan.Scanner, showProgress bool) error {
	bw := bufio.NewWriter(w)
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], containerMagic)
	binary.BigEndian.PutUint32(hdr[4:8], containerVersion)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(s.Cfg.ObjSize))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("bulk: export: write container header: %w", err)
	}

	var bar *mpb.Bar
	var progress *mpb.Progress
	if showProgress && s.Events.Len() > 0 {
		progress = mpb.New()
		text := "Events exported: "
		bar = progress.AddBar(int64(s.Events.Len()), mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: len(text) + 2, C: decor.DSyncWidthR}),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		))
	}

	var werr error
	s.Events.Range(func(_ int64, e scan.EventEntry) bool {
		if _, err := bw.Write(e.Raw); err != nil {
			werr = fmt.Errorf("bulk: export: write record: %w", err)
			return false
		}
		if bar != nil {
			bar.Increment()
		}
		return true
	})
	if werr != nil {
		return werr
	}
	if progress != nil {
		progress.Wait()
	}
	return bw.Flush()
}

// Importer replays a container back onto a live log, appending each
// record at the current write_pos and periodically flushing the header,
// so a crash mid-import loses at most FlushEvery records of progress.
type Importer struct {
	Client     objstore.Client
	Cfg        *cmn.Config
	FlushEvery int // records per header flush; <=0 defaults to 1
	HeaderOID  string
	DryRun     bool
}

func NewImporter(cl objstore.Client, cfg *cmn.Config) *Importer {
	return &Importer{Client: cl, Cfg: cfg, FlushEvery: 1, HeaderOID: cfg.HeaderOID()}
}

// Import reads r's container and appends every record to the log,
// advancing write_pos and flushing the header every FlushEvery records
// and once more at the end if records were appended since the last flush.
func (im *Importer) Import(ctx context.Context, r io.Reader) (imported int, err error) {
	if im.FlushEvery <= 0 {
		im.FlushEvery = 1
	}
	br := bufio.NewReader(r)
	var chdr [16]byte
	if _, err := io.ReadFull(br, chdr[:]); err != nil {
		return 0, fmt.Errorf("bulk: import: read container header: %w", err)
	}
	if binary.BigEndian.Uint32(chdr[0:4]) != containerMagic {
		return 0, fmt.Errorf("bulk: import: bad container magic")
	}
	if ver := binary.BigEndian.Uint32(chdr[4:8]); ver != containerVersion {
		return 0, fmt.Errorf("bulk: import: unsupported container version %d", ver)
	}

	h, present, ok, _, err := header.Get(ctx, im.Client, im.HeaderOID)
	if err != nil {
		return 0, err
	}
	if !present || !ok {
		return 0, fmt.Errorf("bulk: import: target header missing or undecodable; run 'journal reset' first")
	}

	sinceFlush := 0
	for {
		select {
		case <-ctx.Done():
			return imported, im.flush(ctx, &h)
		default:
		}
		payload, n, rerr := readOneRecord(br)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return imported, fmt.Errorf("bulk: import: record %d: %w", imported, rerr)
		}
		if _, everr := event.Decode(payload); everr != nil {
			return imported, fmt.Errorf("bulk: import: record %d failed to decode as an event: %w", imported, everr)
		}
		if !im.DryRun {
			if err := im.appendFramed(ctx, h.WritePos, rawRecordBytes(payload, n, h.WritePos)); err != nil {
				return imported, err
			}
		}
		h.WritePos += int64(n)
		imported++
		sinceFlush++
		if sinceFlush >= im.FlushEvery {
			if err := im.flush(ctx, &h); err != nil {
				return imported, err
			}
			sinceFlush = 0
		}
	}
	if sinceFlush > 0 {
		if err := im.flush(ctx, &h); err != nil {
			return imported, err
		}
	}
	return imported, nil
}

// readOneRecord re-frames a single exported record by re-decoding its
// length prefix, since Export already wrote fully-framed bytes.
func readOneRecord(br *bufio.Reader) (payload []byte, total int, err error) {
	fixedHdr := make([]byte, codec.LenHeader)
	if _, err := io.ReadFull(br, fixedHdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, 0, fmt.Errorf("truncated record header")
		}
		return nil, 0, err
	}
	plen := binary.BigEndian.Uint64(fixedHdr[4:codec.LenHeader])
	if plen > codec.MaxPayloadLen {
		return nil, 0, fmt.Errorf("payload_len %d exceeds maximum", plen)
	}
	payload = make([]byte, plen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, 0, err
	}
	trailer := make([]byte, codec.LenTrailer)
	if _, err := io.ReadFull(br, trailer); err != nil {
		return nil, 0, err
	}
	total = len(fixedHdr) + len(payload) + len(trailer)
	return payload, total, nil
}

// rawRecordBytes re-frames payload at the destination offset so its
// embedded start_ptr is correct for the target log, not the source one.
func rawRecordBytes(payload []byte, total int, destOffset int64) []byte {
	return codec.Write(nil, payload, uint64(destOffset+int64(total)))
}

func (im *Importer) appendFramed(ctx context.Context, pos int64, framed []byte) error {
	objSize := im.Cfg.ObjSize
	cursor := pos
	remaining := framed
	for len(remaining) > 0 {
		objIdx := cursor / objSize
		intraOff := cursor % objSize
		chunkLen := objSize - intraOff
		if chunkLen > int64(len(remaining)) {
			chunkLen = int64(len(remaining))
		}
		oid := im.Cfg.JournalOID(objIdx)
		if err := im.Client.Write(ctx, oid, remaining[:chunkLen], intraOff); err != nil {
			return objstore.NewBackendError("write", oid, err)
		}
		remaining = remaining[chunkLen:]
		cursor += chunkLen
	}
	return nil
}

func (im *Importer) flush(ctx context.Context, h *header.Header) error {
	if im.DryRun {
		return nil
	}
	if err := header.Set(ctx, im.Client, im.HeaderOID, h); err != nil {
		return fmt.Errorf("bulk: import: flush header: %w", err)
	}
	nlog.Infof("bulk: flushed header, write_pos=%d", h.WritePos)
	return nil
}

// ExportToFile and ImportFromFile are the CLI-facing conveniences for
// `journal export <path>` / `journal import <path>`.
func ExportToFile(path string, s *scan.Scanner, showProgress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Export(f, s, showProgress)
}

func ImportFromFile(ctx context.Context, im *Importer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return im.Import(ctx, f)
}
