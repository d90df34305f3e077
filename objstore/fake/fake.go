// Package fake provides an in-memory objstore.Client, the backend every
// test in the journal packages runs against.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package fake

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/NVIDIA/mdjtool/objstore"
)

type object struct {
	data      []byte
	mtime     time.Time
	omapHead  []byte
	hasHead   bool
	omap      map[string][]byte
}

// Client is a single-process, mutex-guarded object store. It never
// returns BackendError; the only error it produces is ErrNotFound. An
// empty oid is not rejected: it names an object like any other string.
type Client struct {
	mu      sync.Mutex
	objects map[string]*object
}

func New() *Client {
	return &Client{objects: make(map[string]*object)}
}

func (c *Client) getOrCreate(oid string) *object {
	o, ok := c.objects[oid]
	if !ok {
		o = &object{omap: make(map[string][]byte)}
		c.objects[oid] = o
	}
	return o
}

func (c *Client) Read(_ context.Context, oid string, out []byte, off int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	if off >= int64(len(o.data)) {
		return out[:0], nil
	}
	n := copy(out, o.data[off:])
	return out[:n], nil
}

func (c *Client) Write(_ context.Context, oid string, bl []byte, off int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.getOrCreate(oid)
	end := off + int64(len(bl))
	if end > int64(len(o.data)) {
		grown := make([]byte, end)
		copy(grown, o.data)
		o.data = grown
	}
	copy(o.data[off:end], bl)
	o.mtime = time.Now()
	return nil
}

func (c *Client) WriteFull(_ context.Context, oid string, bl []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.getOrCreate(oid)
	o.data = append([]byte(nil), bl...)
	o.mtime = time.Now()
	return nil
}

func (c *Client) Stat(_ context.Context, oid string) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok {
		return 0, time.Time{}, objstore.ErrNotFound
	}
	return int64(len(o.data)), o.mtime, nil
}

func (c *Client) OmapGetHeader(_ context.Context, oid string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok || !o.hasHead {
		return nil, objstore.ErrNotFound
	}
	return append([]byte(nil), o.omapHead...), nil
}

func (c *Client) OmapSetHeader(_ context.Context, oid string, bl []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.getOrCreate(oid)
	o.omapHead = append([]byte(nil), bl...)
	o.hasHead = true
	return nil
}

func (c *Client) OmapGetValsByKeys(_ context.Context, oid string, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	o, ok := c.objects[oid]
	if !ok {
		return out, nil
	}
	for _, k := range keys {
		if v, ok := o.omap[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (c *Client) OmapSet(_ context.Context, oid string, kv map[string][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.getOrCreate(oid)
	for k, v := range kv {
		o.omap[k] = append([]byte(nil), v...)
	}
	return nil
}

func (c *Client) OmapRmKeys(_ context.Context, oid string, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(o.omap, k)
	}
	return nil
}

// Exists is a test-only convenience, not part of objstore.Client.
func (c *Client) Exists(oid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[oid]
	return ok
}

// OmapKeys is a test-only convenience snapshot of oid's omap key set.
func (c *Client) OmapKeys(oid string) map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok {
		return nil
	}
	return maps.Clone(o.omap)
}

// CorruptTail overwrites the last n bytes of oid's data with garbage,
// for corruption-override and resync tests.
func (c *Client) CorruptTail(oid string, n int, b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[oid]
	if !ok || n <= 0 {
		return
	}
	if n > len(o.data) {
		n = len(o.data)
	}
	for i := len(o.data) - n; i < len(o.data); i++ {
		o.data[i] = b
	}
}
