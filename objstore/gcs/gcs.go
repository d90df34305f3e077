// Package gcs implements objstore.Client against Google Cloud Storage.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/NVIDIA/mdjtool/objstore"
	"github.com/NVIDIA/mdjtool/objstore/omapdb"
)

type Client struct {
	gcs    *storage.Client
	bucket string
	omap   *omapdb.DB
}

type Config struct {
	Bucket     string
	OmapDBPath string
	ClientOpts []option.ClientOption
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket required")
	}
	gc, err := storage.NewClient(ctx, cfg.ClientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	path := cfg.OmapDBPath
	if path == "" {
		path = ":memory:"
	}
	db, err := omapdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{gcs: gc, bucket: cfg.Bucket, omap: db}, nil
}

func (c *Client) Close() error {
	_ = c.gcs.Close()
	return c.omap.Close()
}

func (c *Client) obj(oid string) *storage.ObjectHandle {
	return c.gcs.Bucket(c.bucket).Object(oid)
}

func (c *Client) Read(ctx context.Context, oid string, out []byte, off int64) ([]byte, error) {
	r, err := c.obj(oid).NewRangeReader(ctx, off, int64(len(out)))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, objstore.ErrNotFound
		}
		return nil, objstore.NewBackendError("read", oid, err)
	}
	defer r.Close()
	n, err := io.ReadFull(r, out)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, objstore.NewBackendError("read", oid, err)
	}
	return out[:n], nil
}

func (c *Client) Write(ctx context.Context, oid string, bl []byte, off int64) error {
	size, _, err := c.Stat(ctx, oid)
	if err != nil && !objstore.IsNotFound(err) {
		return err
	}
	end := off + int64(len(bl))
	if end < size {
		end = size
	}
	buf := make([]byte, end)
	if size > 0 {
		if _, err := c.Read(ctx, oid, buf[:size], 0); err != nil && !objstore.IsNotFound(err) {
			return err
		}
	}
	copy(buf[off:], bl)
	return c.WriteFull(ctx, oid, buf)
}

func (c *Client) WriteFull(ctx context.Context, oid string, bl []byte) error {
	w := c.obj(oid).NewWriter(ctx)
	if _, err := w.Write(bl); err != nil {
		_ = w.Close()
		return objstore.NewBackendError("write_full", oid, err)
	}
	if err := w.Close(); err != nil {
		return objstore.NewBackendError("write_full", oid, err)
	}
	return nil
}

func (c *Client) Stat(ctx context.Context, oid string) (int64, time.Time, error) {
	attrs, err := c.obj(oid).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, time.Time{}, objstore.ErrNotFound
		}
		return 0, time.Time{}, objstore.NewBackendError("stat", oid, err)
	}
	return attrs.Size, attrs.Updated, nil
}

func (c *Client) OmapGetHeader(_ context.Context, oid string) ([]byte, error) {
	bl, ok, err := c.omap.GetHeader(oid)
	if err != nil {
		return nil, objstore.NewBackendError("omap_get_header", oid, err)
	}
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return bl, nil
}

func (c *Client) OmapSetHeader(_ context.Context, oid string, bl []byte) error {
	if err := c.omap.SetHeader(oid, bl); err != nil {
		return objstore.NewBackendError("omap_set_header", oid, err)
	}
	return nil
}

func (c *Client) OmapGetValsByKeys(_ context.Context, oid string, keys []string) (map[string][]byte, error) {
	out, err := c.omap.GetValsByKeys(oid, keys)
	if err != nil {
		return nil, objstore.NewBackendError("omap_get_vals_by_keys", oid, err)
	}
	return out, nil
}

func (c *Client) OmapSet(_ context.Context, oid string, kv map[string][]byte) error {
	if err := c.omap.Set(oid, kv); err != nil {
		return objstore.NewBackendError("omap_set", oid, err)
	}
	return nil
}

func (c *Client) OmapRmKeys(_ context.Context, oid string, keys []string) error {
	if err := c.omap.RmKeys(oid, keys); err != nil {
		return objstore.NewBackendError("omap_rm_keys", oid, err)
	}
	return nil
}

var _ objstore.Client = (*Client)(nil)
