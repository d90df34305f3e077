// Package cos provides common low-level types and utilities shared across
// mdjtool's packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"syscall"

	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"go.uber.org/atomic"
)

type (
	ErrSignal struct {
		signal syscall.Signal
	}
	// ErrValue latches the first error reported to it and counts the rest;
	// used by the inotable reconciler (one outcome per rank, first error
	// wins, the rest are merely counted).
	ErrValue struct {
		atomic.Value
		cnt atomic.Int64
	}
)

///////////////
// ErrValue //
///////////////

func (ea *ErrValue) Store(err error) {
	if ea.cnt.Inc() == 1 {
		ea.Value.Store(err)
	}
}

func (ea *ErrValue) _load() (err error) {
	if x := ea.Value.Load(); x != nil {
		err, _ = x.(error)
	}
	return
}

func (ea *ErrValue) Err() (err error) {
	err = ea._load()
	if err != nil {
		if cnt := ea.cnt.Load(); cnt > 1 {
			err = fmt.Errorf("%w (cnt=%d)", err, cnt)
		}
	}
	return
}

func (ea *ErrValue) IsNil() bool { return ea._load() == nil }

///////////////
// ErrSignal //
///////////////

// https://tldp.org/LDP/abs/html/exitcodes.html
func (e *ErrSignal) ExitCode() int               { return 128 + int(e.signal) }
func NewSignalError(s syscall.Signal) *ErrSignal { return &ErrSignal{signal: s} }
func (e *ErrSignal) Error() string               { return fmt.Sprintf("signal %d", e.signal) }

//////////////////////////
// Abnormal Termination //
//////////////////////////

// Exitf writes a formatted message to stderr and exits non-zero, the way
// CLI argument and precondition errors are reported.
func Exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f, a...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}

// ExitLogf is Exitf with a flushed nlog line first, for failures
// discovered after logging has already started.
func ExitLogf(f string, a ...any) {
	nlog.Errorf("FATAL ERROR: "+f, a...)
	nlog.Flush()
	Exitf(f, a...)
}
