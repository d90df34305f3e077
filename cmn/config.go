// Package cmn provides common constants, types, and configuration shared
// across mdjtool's CLI and journal packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// DefaultObjSize is the journal's per-object size when the backing pool's
// layout doesn't override it.
const DefaultObjSize = 4 << 20 // 4MB, matching the historical cephfs default

// Backend selects which objstore.Client construction the CLI wires up.
type Backend string

const (
	BackendFake  Backend = "fake"
	BackendS3    Backend = "s3"
	BackendAzure Backend = "azure"
	BackendGCS   Backend = "gcs"
	BackendOCI   Backend = "oci"
)

// Config is the resolved set of knobs a mdjtool invocation runs with:
// the rank under operation, the journal's object-size/pool naming, the
// backend construction, and the dry-run switch every mutating command
// shares.
type Config struct {
	Rank       int64
	ObjSize    int64
	PoolPrefix string // object name prefix, e.g. "200" for mds<rank> journal objects
	Backend    Backend
	DryRun     bool

	// backend-specific addressing, only one group populated depending on Backend
	S3Bucket     string
	S3Endpoint   string
	AzureAccount string
	AzureCont    string
	GCSBucket    string
	OCINamespace string
	OCIBucket    string

	MetricsAddr string // optional prometheus listen address, "" disables

	TraceEndpoint string // optional OTLP/gRPC collector address, "" disables tracing
}

func (c *Config) Validate() error {
	if c.Rank < 0 {
		return fmt.Errorf("invalid rank %d: must be >= 0", c.Rank)
	}
	if c.ObjSize <= 0 {
		c.ObjSize = DefaultObjSize
	}
	switch c.Backend {
	case BackendFake, BackendS3, BackendAzure, BackendGCS, BackendOCI:
	case "":
		c.Backend = BackendFake
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// JournalOID returns the object name for the n-th log object of this
// rank's journal, e.g. "200.0000000a" — derived from (rank, object_index).
func (c *Config) JournalOID(n int64) string {
	prefix := c.PoolPrefix
	if prefix == "" {
		prefix = fmt.Sprintf("%x", 0x200+c.Rank)
	}
	return fmt.Sprintf("%s.%08x", prefix, n)
}

// HeaderOID returns the name of the journal's header object.
// It must never collide with JournalOID(0): the header is its own object,
// not log object index zero.
func (c *Config) HeaderOID() string {
	prefix := c.PoolPrefix
	if prefix == "" {
		prefix = fmt.Sprintf("%x", 0x200+c.Rank)
	}
	return fmt.Sprintf("%s.header", prefix)
}

// InoTableOID returns the per-rank free-inode table object name.
func (c *Config) InoTableOID(rank int64) string {
	return fmt.Sprintf("mds%d_inotable", rank)
}
