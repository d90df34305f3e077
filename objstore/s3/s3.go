// Package s3 implements objstore.Client against an S3-compatible bucket.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/NVIDIA/mdjtool/objstore"
	"github.com/NVIDIA/mdjtool/objstore/omapdb"
)

// multipartThreshold is the size above which WriteFull routes through
// the s3manager uploader instead of a single PutObject.
const multipartThreshold = 8 << 20

type Client struct {
	api    *s3.Client
	up     *manager.Uploader
	bucket string
	omap   *omapdb.DB
}

// Config is the minimal addressing this backend needs; Endpoint is
// optional (empty selects AWS's default resolver, non-empty targets an
// S3-compatible store such as RADOS Gateway or MinIO).
type Config struct {
	Bucket     string
	Endpoint   string
	OmapDBPath string // passed to omapdb.Open; ":memory:" for ephemeral sidecars
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket required")
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	path := cfg.OmapDBPath
	if path == "" {
		path = ":memory:"
	}
	db, err := omapdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{
		api:    api,
		up:     manager.NewUploader(api),
		bucket: cfg.Bucket,
		omap:   db,
	}, nil
}

func (c *Client) Close() error { return c.omap.Close() }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (c *Client) Read(ctx context.Context, oid string, out []byte, off int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(out))-1)
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(oid),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, objstore.NewBackendError("read", oid, err)
	}
	defer resp.Body.Close()
	n, err := io.ReadFull(resp.Body, out)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, objstore.NewBackendError("read", oid, err)
	}
	return out[:n], nil
}

// Write emulates RADOS's partial-offset write by read-modify-writing the
// whole object; S3 has no native partial-write. Acceptable here because
// the eraser and the bulk importer are the only callers issuing
// sub-object writes and both do so object-by-object already.
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
	if len(bl) >= multipartThreshold {
		_, err := c.up.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(oid),
			Body:   bytes.NewReader(bl),
		})
		if err != nil {
			return objstore.NewBackendError("write_full", oid, err)
		}
		return nil
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(oid),
		Body:   bytes.NewReader(bl),
	})
	if err != nil {
		return objstore.NewBackendError("write_full", oid, err)
	}
	return nil
}

func (c *Client) Stat(ctx context.Context, oid string) (int64, time.Time, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(oid),
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
