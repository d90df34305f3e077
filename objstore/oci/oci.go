// Package oci implements objstore.Client against Oracle Cloud
// Infrastructure Object Storage. OCI's object storage has no sorted
// key/value map primitive and no per-request sidecar is wired for it
// here (unlike s3/azure/gcs), so every omap_* verb returns a
// BackendError wrapping objstore.ErrOmapUnsupported — this backend is
// read/write/stat only, so the scavenger cannot run against it.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"

	"github.com/NVIDIA/mdjtool/objstore"
)

type Client struct {
	api       objectstorage.ObjectStorageClient
	namespace string
	bucket    string
}

type Config struct {
	Namespace string
	Bucket    string
}

func New(provider common.ConfigurationProvider, cfg Config) (*Client, error) {
	if cfg.Namespace == "" || cfg.Bucket == "" {
		return nil, errors.New("oci: namespace and bucket required")
	}
	api, err := objectstorage.NewObjectStorageClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("oci: new client: %w", err)
	}
	return &Client{api: api, namespace: cfg.Namespace, bucket: cfg.Bucket}, nil
}

func isNotFound(err error) bool {
	var se common.ServiceError
	if errors.As(err, &se) {
		return se.GetHTTPStatusCode() == 404
	}
	return false
}

func (c *Client) Read(ctx context.Context, oid string, out []byte, off int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(out))-1)
	resp, err := c.api.GetObject(ctx, objectstorage.GetObjectRequest{
		NamespaceName: &c.namespace,
		BucketName:    &c.bucket,
		ObjectName:    &oid,
		Range:         &rng,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, objstore.NewBackendError("read", oid, err)
	}
	defer resp.Content.Close()
	n, err := io.ReadFull(resp.Content, out)
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
	ln := int64(len(bl))
	_, err := c.api.PutObject(ctx, objectstorage.PutObjectRequest{
		NamespaceName: &c.namespace,
		BucketName:    &c.bucket,
		ObjectName:    &oid,
		ContentLength: &ln,
		PutObjectBody: io.NopCloser(bytes.NewReader(bl)),
	})
	if err != nil {
		return objstore.NewBackendError("write_full", oid, err)
	}
	return nil
}

func (c *Client) Stat(ctx context.Context, oid string) (int64, time.Time, error) {
	resp, err := c.api.HeadObject(ctx, objectstorage.HeadObjectRequest{
		NamespaceName: &c.namespace,
		BucketName:    &c.bucket,
		ObjectName:    &oid,
	})
	if err != nil {
		if isNotFound(err) {
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
		mt = resp.LastModified.Time
	}
	return sz, mt, nil
}

func (c *Client) OmapGetHeader(_ context.Context, oid string) ([]byte, error) {
	return nil, objstore.NewBackendError("omap_get_header", oid, objstore.ErrOmapUnsupported)
}

func (c *Client) OmapSetHeader(_ context.Context, oid string, _ []byte) error {
	return objstore.NewBackendError("omap_set_header", oid, objstore.ErrOmapUnsupported)
}

func (c *Client) OmapGetValsByKeys(_ context.Context, oid string, _ []string) (map[string][]byte, error) {
	return nil, objstore.NewBackendError("omap_get_vals_by_keys", oid, objstore.ErrOmapUnsupported)
}

func (c *Client) OmapSet(_ context.Context, oid string, _ map[string][]byte) error {
	return objstore.NewBackendError("omap_set", oid, objstore.ErrOmapUnsupported)
}

func (c *Client) OmapRmKeys(_ context.Context, oid string, _ []string) error {
	return objstore.NewBackendError("omap_rm_keys", oid, objstore.ErrOmapUnsupported)
}

var _ objstore.Client = (*Client)(nil)
