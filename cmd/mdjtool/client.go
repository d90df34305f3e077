// Backend construction: turns a resolved cmn.Config into a concrete
// objstore.Client, the one place in the CLI that knows about all five
// backend packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/oracle/oci-go-sdk/v65/common"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/objstore"
	"github.com/NVIDIA/mdjtool/objstore/azure"
	"github.com/NVIDIA/mdjtool/objstore/fake"
	"github.com/NVIDIA/mdjtool/objstore/gcs"
	"github.com/NVIDIA/mdjtool/objstore/oci"
	"github.com/NVIDIA/mdjtool/objstore/s3"
)

func buildClient(ctx context.Context, cfg *cmn.Config) (objstore.Client, error) {
	switch cfg.Backend {
	case cmn.BackendFake:
		return fake.New(), nil
	case cmn.BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("--s3-bucket is required for backend s3")
		}
		return s3.New(ctx, s3.Config{Bucket: cfg.S3Bucket, Endpoint: cfg.S3Endpoint})
	case cmn.BackendAzure:
		if cfg.AzureAccount == "" || cfg.AzureCont == "" {
			return nil, fmt.Errorf("--azure-account and --azure-container are required for backend azure")
		}
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		accountURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccount)
		return azure.New(cred, azure.Config{AccountURL: accountURL, Container: cfg.AzureCont})
	case cmn.BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("--gcs-bucket is required for backend gcs")
		}
		return gcs.New(ctx, gcs.Config{Bucket: cfg.GCSBucket})
	case cmn.BackendOCI:
		if cfg.OCINamespace == "" || cfg.OCIBucket == "" {
			return nil, fmt.Errorf("--oci-namespace and --oci-bucket are required for backend oci")
		}
		provider := common.DefaultConfigProvider()
		return oci.New(provider, oci.Config{Namespace: cfg.OCINamespace, Bucket: cfg.OCIBucket})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
