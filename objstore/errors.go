/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package objstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel every backend wraps when an object or omap
// key doesn't exist — the one backend failure callers treat as ordinary
// control flow, never an abort.
var ErrNotFound = errors.New("object not found")

// ErrOmapUnsupported is returned by backends layered directly over an
// object store with no native sorted key/value map primitive.
var ErrOmapUnsupported = errors.New("omap operations unsupported by this backend")

// BackendError wraps a failure from the underlying object-store client
// that is not "not found"; on a mutating call it aborts the current
// command.
type BackendError struct {
	Op  string
	Oid string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("objstore: %s %s: %v", e.Op, e.Oid, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func NewBackendError(op, oid string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Oid: oid, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
