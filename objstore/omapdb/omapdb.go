// Package omapdb implements the five omap_* verbs on top of
// tidwall/buntdb, for object-store backends (S3, Azure Blob, GCS) whose
// native API has no per-object sorted key/value map primitive. It is the
// shared sidecar every such backend delegates omap_* calls to, keyed by
// object id, so the dirfrag semantics the scavenger depends on are
// uniform across backends.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package omapdb

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/buntdb"
)

const headerSuffix = "\x00__header__"

// DB wraps an embedded buntdb instance. Open(":memory:") keeps it
// process-local (useful for tests and for a backend whose sidecar is
// meant to be rebuilt from the cloud objects on each run); any other
// path persists across invocations, matching buntdb's own semantics.
type DB struct {
	bdb *buntdb.DB
}

func Open(path string) (*DB, error) {
	bdb, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("omapdb: open %s: %w", path, err)
	}
	return &DB{bdb: bdb}, nil
}

func (d *DB) Close() error { return d.bdb.Close() }

func key(oid, k string) string {
	return oid + "\x00" + k
}

func encode(bl []byte) string { return base64.StdEncoding.EncodeToString(bl) }
func decode(s string) []byte {
	b, _ := base64.StdEncoding.DecodeString(s)
	return b
}

func (d *DB) GetHeader(oid string) ([]byte, bool, error) {
	var val string
	var found bool
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(oid + headerSuffix)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return decode(val), true, nil
}

func (d *DB) SetHeader(oid string, bl []byte) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(oid+headerSuffix, encode(bl), nil)
		return err
	})
}

func (d *DB) GetValsByKeys(oid string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			v, err := tx.Get(key(oid, k))
			if err == buntdb.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			out[k] = decode(v)
		}
		return nil
	})
	return out, err
}

func (d *DB) Set(oid string, kv map[string][]byte) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		for k, v := range kv {
			if _, _, err := tx.Set(key(oid, k), encode(v), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) RmKeys(oid string, keys []string) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Delete(key(oid, k)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// Purge drops every omap entry (header included) associated with oid.
// The backends' WriteFull does not call it: replacing an object's data
// leaves its omap entries in place.
func (d *DB) Purge(oid string) error {
	prefix := oid + "\x00"
	var dead []string
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(k, _ string) bool {
			if strings.HasPrefix(k, prefix) {
				dead = append(dead, k)
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	if len(dead) == 0 {
		return nil
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		for _, k := range dead {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}
