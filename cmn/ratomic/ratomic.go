// Package ratomic re-exports the lock-free counters mdjtool needs from
// go.uber.org/atomic behind a single swappable import seam.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package ratomic

import "go.uber.org/atomic"

type (
	Int64 = atomic.Int64
	Uint64 = atomic.Uint64
	Bool   = atomic.Bool
)

func NewInt64(v int64) *Int64   { return atomic.NewInt64(v) }
func NewUint64(v uint64) *Uint64 { return atomic.NewUint64(v) }
func NewBool(v bool) *Bool       { return atomic.NewBool(v) }
