// Package sink implements the output sinks for a scanned journal:
// summary, list, json, and binary dumps. JSON is rendered
// with json-iterator/go rather than encoding/json, matching the rest of
// this codebase's ambient serialisation choice.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/mdjtool/journal/event"
	"github.com/NVIDIA/mdjtool/journal/metablob"
	"github.com/NVIDIA/mdjtool/journal/scan"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary writes header presence/validity, the scanned byte range, event
// counts by kind, and the error count.
func Summary(w io.Writer, s *scan.Scanner) error {
	fmt.Fprintf(w, "header_present: %v\n", s.HeaderPresent)
	fmt.Fprintf(w, "header_valid:   %v\n", s.HeaderValid)
	if s.HeaderValid {
		fmt.Fprintf(w, "trimmed_pos:    %d\n", s.Header.TrimmedPos)
		fmt.Fprintf(w, "expire_pos:     %d\n", s.Header.ExpirePos)
		fmt.Fprintf(w, "write_pos:      %d\n", s.Header.WritePos)
		fmt.Fprintf(w, "range:          [%d, %d)\n", s.Header.ExpirePos, s.Header.WritePos)
	}
	counts := make(map[event.Kind]int)
	s.Events.Range(func(_ int64, e scan.EventEntry) bool {
		counts[e.Event.Kind]++
		return true
	})
	fmt.Fprintf(w, "events:         %d\n", s.Events.Len())
	for k := event.KindUpdate; k <= event.KindSubtreeMap; k++ {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k.String(), n)
		}
	}
	fmt.Fprintf(w, "errors:         %d\n", len(s.Errors))
	fmt.Fprintf(w, "is_readable:    %v\n", s.IsReadable())
	fmt.Fprintf(w, "log_objects:    %d (content-hashed)\n", len(s.ObjectHashes))
	return nil
}

// List writes one line per event: offset, kind, and a brief one-line
// description of its payload; then one ERROR line per recorded scan
// error: offset, error code, and description.
func List(w io.Writer, s *scan.Scanner) error {
	var err error
	s.Events.Range(func(offset int64, e scan.EventEntry) bool {
		_, err = fmt.Fprintf(w, "%12d  %-12s %s\n", offset, e.Event.Kind, brief(e.Event))
		return err == nil
	})
	if err != nil {
		return err
	}
	for offset, ee := range s.Errors {
		if _, err := fmt.Fprintf(w, "%12d  ERROR        %s: %s\n", offset, ee.Code, ee.Description); err != nil {
			return err
		}
	}
	return nil
}

func brief(e *event.Event) string {
	switch e.Kind {
	case event.KindOpen, event.KindSession:
		return fmt.Sprintf("client=%d", e.ClientID)
	case event.KindNoOp:
		return fmt.Sprintf("padding=%d", e.Padding)
	case event.KindUpdate, event.KindSlaveUpdate, event.KindSubtreeMap:
		if e.Metablob == nil {
			return "metablob=<nil>"
		}
		return fmt.Sprintf("roots=%d lumps=%d destroyed=%d", len(e.Metablob.Roots), len(e.Metablob.LumpOrder), len(e.Metablob.Destroyed))
	default:
		return ""
	}
}

// jsonEvent is the pretty-printed shape json sinks produce; it carries a
// selected subset of event.Event/metablob.Metablob fields (for a
// fullbit: dn, ino, version, size only) rather than round-tripping
// through their wire encoders, since the output here is a
// human/tool-facing dump, not a format this tool reads back.
type jsonEvent struct {
	Offset   int64          `json:"offset"`
	Kind     string         `json:"kind"`
	ClientID uint64         `json:"client_id,omitempty"`
	Padding  int            `json:"padding,omitempty"`
	Metablob *jsonMetablob  `json:"metablob,omitempty"`
}

type jsonMetablob struct {
	Roots         []jsonFullbit           `json:"roots"`
	Dirlumps      []jsonDirlump           `json:"dirlumps"`
	Destroyed     []uint64                `json:"destroyed_inodes,omitempty"`
	RenamedDirIno *uint64                 `json:"renamed_dir_ino,omitempty"`
}

type jsonDirlump struct {
	Ino     uint64          `json:"ino"`
	Frag    uint32          `json:"frag"`
	Version uint64          `json:"fnode_version"`
	Full    []jsonFullbit   `json:"full,omitempty"`
	Remote  []jsonRemotebit `json:"remote,omitempty"`
	Null    []jsonNullbit   `json:"null,omitempty"`
}

type jsonFullbit struct {
	Dn      string `json:"dn"`
	Ino     uint64 `json:"ino"`
	Version uint64 `json:"version"`
	Size    int64  `json:"size"`
}

type jsonRemotebit struct {
	Dn  string `json:"dn"`
	Ino uint64 `json:"ino"`
}

type jsonNullbit struct {
	Dn string `json:"dn"`
}

func toJSONMetablob(mb *metablob.Metablob) *jsonMetablob {
	if mb == nil {
		return nil
	}
	out := &jsonMetablob{Destroyed: mb.Destroyed, RenamedDirIno: mb.RenamedDirIno}
	for _, fb := range mb.Roots {
		out.Roots = append(out.Roots, jsonFullbit{Dn: fb.Dn, Ino: fb.Inode.Ino, Version: fb.Inode.Version, Size: fb.Inode.Size})
	}
	_ = mb.Lumps(func(id metablob.DirfragID, dl *metablob.Dirlump) error {
		jdl := jsonDirlump{Ino: id.Ino, Frag: id.Frag, Version: dl.Fnode.Version}
		if err := dl.DecodeBits(); err == nil {
			for _, fb := range dl.Dfull {
				jdl.Full = append(jdl.Full, jsonFullbit{Dn: fb.Dn, Ino: fb.Inode.Ino, Version: fb.Inode.Version, Size: fb.Inode.Size})
			}
			for _, rb := range dl.Dremote {
				jdl.Remote = append(jdl.Remote, jsonRemotebit{Dn: rb.Dn, Ino: rb.Ino})
			}
			for _, nb := range dl.Dnull {
				jdl.Null = append(jdl.Null, jsonNullbit{Dn: nb.Dn})
			}
		}
		out.Dirlumps = append(out.Dirlumps, jdl)
		return nil
	})
	return out
}

// JSON writes a pretty-printed structured dump of every event to path.
func JSON(path string, s *scan.Scanner) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: json: %w", err)
	}
	defer f.Close()

	var events []jsonEvent
	s.Events.Range(func(offset int64, e scan.EventEntry) bool {
		je := jsonEvent{Offset: offset, Kind: e.Event.Kind.String(), ClientID: e.Event.ClientID, Padding: e.Event.Padding}
		je.Metablob = toJSONMetablob(e.Event.Metablob)
		events = append(events, je)
		return true
	})

	enc := jsonAPI.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// Binary writes one file per event under dir, named by offset, whose
// content is exactly the event's original framed bytes.
func Binary(dir string, s *scan.Scanner) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sink: binary: %w", err)
	}
	var werr error
	s.Events.Range(func(offset int64, e scan.EventEntry) bool {
		name := filepath.Join(dir, fmt.Sprintf("%020d.bin", offset))
		if err := os.WriteFile(name, e.Raw, 0o644); err != nil {
			werr = fmt.Errorf("sink: binary: offset %d: %w", offset, err)
			return false
		}
		return true
	})
	return werr
}
