// Package azure implements objstore.Client against Azure Blob Storage.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package azure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/NVIDIA/mdjtool/objstore"
	"github.com/NVIDIA/mdjtool/objstore/omapdb"
)

type Client struct {
	svc       *azblob.Client
	container string
	omap      *omapdb.DB
}

type Config struct {
	AccountURL string // e.g. "https://<account>.blob.core.windows.net"
	Container  string
	OmapDBPath string
}

func New(cred azcore.TokenCredential, cfg Config) (*Client, error) {
	if cfg.Container == "" {
		return nil, errors.New("azure: container required")
	}
	svc, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: new client: %w", err)
	}
	path := cfg.OmapDBPath
	if path == "" {
		path = ":memory:"
	}
	db, err := omapdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc, container: cfg.Container, omap: db}, nil
}

func (c *Client) Close() error { return c.omap.Close() }

func isBlobNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound)
}

func (c *Client) Read(ctx context.Context, oid string, out []byte, off int64) ([]byte, error) {
	count := int64(len(out))
	resp, err := c.svc.DownloadStream(ctx, c.container, oid, &azblob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: off, Count: count},
	})
	if err != nil {
		if isBlobNotFound(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, objstore.NewBackendError("read", oid, err)
	}
	defer resp.Body.Close()
	n := 0
	buf := out
	for n < len(buf) {
		m, rerr := resp.Body.Read(buf[n:])
		n += m
		if rerr != nil {
			break
		}
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
	_, err := c.svc.UploadBuffer(ctx, c.container, oid, bl, nil)
	if err != nil {
		return objstore.NewBackendError("write_full", oid, err)
	}
	return nil
}

func (c *Client) Stat(ctx context.Context, oid string) (int64, time.Time, error) {
	bc := c.svc.ServiceClient().NewContainerClient(c.container).NewBlobClient(oid)
	resp, err := bc.GetProperties(ctx, nil)
	if err != nil {
		if isBlobNotFound(err) {
			return 0, time.Time{}, objstore.ErrNotFound
		}
		return 0, time.Time{}, objstore.NewBackendError("stat", oid, err)
	}
	var sz int64
	if resp.ContentLength != nil {
		sz = *resp.ContentLength
	}
	var mt time.Time
	if resp.LastModified != nil {
		mt = *resp.LastModified
	}
	return sz, mt, nil
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
