// Package nlog is a thin leveled-logging façade over glog, used throughout
// mdjtool instead of the standard library's log package.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/golang/glog"
)

// Infoln, Warningln, and Errorln mirror glog's Ln family but accept
// plain variadic args, e.g. nlog.Errorln(err, "[", rmErr, "]").

func Infof(f string, a ...any)    { glog.Infof(f, a...) }
func Warningf(f string, a ...any) { glog.Warningf(f, a...) }
func Errorf(f string, a ...any)   { glog.Errorf(f, a...) }

func Infoln(a ...any)    { glog.Info(fmt.Sprintln(a...)) }
func Warningln(a ...any) { glog.Warning(fmt.Sprintln(a...)) }
func Errorln(a ...any)   { glog.Error(fmt.Sprintln(a...)) }

func Flush() { glog.Flush() }

// SetVerbosity maps a small integer verbosity knob (CLI --verbose count)
// onto glog's -v level; kept separate from glog flag parsing so the CLI
// doesn't need to know glog exists.
func SetVerbosity(v int) {
	if f := flag.Lookup("v"); f != nil {
		_ = f.Value.Set(strconv.Itoa(v))
	}
}
