// Command mdjtool is the offline metadata-journal scavenger's CLI entry
// point: a single urfave/cli v1 app exposing the journal/header/event
// command tree.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/NVIDIA/mdjtool/cmn"
	"github.com/NVIDIA/mdjtool/cmn/cos"
	"github.com/NVIDIA/mdjtool/cmn/nlog"
	"github.com/NVIDIA/mdjtool/cmn/tracing"
	"github.com/NVIDIA/mdjtool/journal/scanstats"
)

var (
	rankFlag = cli.Int64Flag{Name: "rank", Usage: "MDS rank this invocation operates on", Value: 0}
	backendFlag = cli.StringFlag{Name: "backend", Usage: "fake|s3|azure|gcs|oci", Value: string(cmn.BackendFake)}
	objSizeFlag = cli.Int64Flag{Name: "obj-size", Usage: "journal object size in bytes"}
	poolPrefixFlag = cli.StringFlag{Name: "pool-prefix", Usage: "object name prefix (default mds<rank>'s 0x200+rank)"}
	dryRunFlag = cli.BoolFlag{Name: "dry-run", Usage: "report would-be writes without performing them"}
	metricsAddrFlag = cli.StringFlag{Name: "metrics-addr", Usage: "optional host:port to serve Prometheus /metrics on"}
	traceEndpointFlag = cli.StringFlag{Name: "trace-endpoint", Usage: "optional OTLP/gRPC collector address, e.g. localhost:4317"}

	s3BucketFlag = cli.StringFlag{Name: "s3-bucket"}
	s3EndpointFlag = cli.StringFlag{Name: "s3-endpoint"}
	azureAccountFlag = cli.StringFlag{Name: "azure-account"}
	azureContainerFlag = cli.StringFlag{Name: "azure-container"}
	gcsBucketFlag = cli.StringFlag{Name: "gcs-bucket"}
	ociNamespaceFlag = cli.StringFlag{Name: "oci-namespace"}
	ociBucketFlag = cli.StringFlag{Name: "oci-bucket"}
)

func resolveConfig(c *cli.Context) (*cmn.Config, error) {
	cfg := &cmn.Config{
		Rank:         c.GlobalInt64(rankFlag.Name),
		ObjSize:      c.GlobalInt64(objSizeFlag.Name),
		PoolPrefix:   c.GlobalString(poolPrefixFlag.Name),
		Backend:      cmn.Backend(c.GlobalString(backendFlag.Name)),
		DryRun:       c.GlobalBool(dryRunFlag.Name) || c.Bool(dryRunFlag.Name),
		S3Bucket:     c.GlobalString(s3BucketFlag.Name),
		S3Endpoint:   c.GlobalString(s3EndpointFlag.Name),
		AzureAccount: c.GlobalString(azureAccountFlag.Name),
		AzureCont:    c.GlobalString(azureContainerFlag.Name),
		GCSBucket:    c.GlobalString(gcsBucketFlag.Name),
		OCINamespace: c.GlobalString(ociNamespaceFlag.Name),
		OCIBucket:    c.GlobalString(ociBucketFlag.Name),
		MetricsAddr:  c.GlobalString(metricsAddrFlag.Name),
		TraceEndpoint: c.GlobalString(traceEndpointFlag.Name),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TraceEndpoint != "" && !tracing.IsEnabled() {
		if err := tracing.Init(context.Background(), cfg.TraceEndpoint, "mdjtool"); err != nil {
			nlog.Warningf("tracing: init failed, continuing without spans: %v", err)
		}
	}
	return cfg, nil
}

// exitCoder lets handlers return a specific errno-flavored process exit
// code (EINVAL, ENOENT, EIO) without urfave/cli's default 1.
type exitCoder struct {
	err  error
	code int
}

func (e *exitCoder) Error() string  { return e.err.Error() }
func (e *exitCoder) ExitCode() int  { return e.code }

func argErr(format string, a ...any) error {
	return &exitCoder{err: fmt.Errorf(format, a...), code: 22} // EINVAL
}

func notFoundErr(format string, a ...any) error {
	return &exitCoder{err: fmt.Errorf(format, a...), code: 2} // ENOENT
}

func ioErr(format string, a ...any) error {
	return &exitCoder{err: fmt.Errorf(format, a...), code: 5} // EIO
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// interruptedErr reports a *cos.ErrSignal if ctx was cancelled by one of
// the signals interruptContext listens for, so a long scan/scavenge run
// that's Ctrl-C'd exits 128+SIGINT rather than silently succeeding (the
// scan/scavenge/erase loops themselves treat mid-object cancellation as
// ordinary completion, so the caller is the only place left to surface
// it).
func interruptedErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return cos.NewSignalError(syscall.SIGINT)
}

func maybeServeMetrics(ctx context.Context, cfg *cmn.Config) *scanstats.Stats {
	st := scanstats.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := st.Serve(ctx, cfg.MetricsAddr); err != nil {
				nlog.Warningf("metrics server: %v", err)
			}
		}()
	}
	return st
}

func main() {
	defer nlog.Flush()

	app := cli.NewApp()
	app.Name = "mdjtool"
	app.Usage = "inspect and selectively repair a CephFS-style metadata journal"
	app.Flags = []cli.Flag{
		rankFlag, backendFlag, objSizeFlag, poolPrefixFlag, dryRunFlag, metricsAddrFlag, traceEndpointFlag,
		s3BucketFlag, s3EndpointFlag, azureAccountFlag, azureContainerFlag,
		gcsBucketFlag, ociNamespaceFlag, ociBucketFlag,
	}
	app.Commands = []cli.Command{
		journalCmd,
		headerCmd,
		eventCmd,
	}
	app.After = func(c *cli.Context) error {
		if !tracing.IsEnabled() {
			return nil
		}
		ctx := context.Background()
		_ = tracing.ForceFlush(ctx)
		return tracing.Shutdown(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		if ec, ok := err.(*exitCoder); ok {
			nlog.Errorln(err)
			nlog.Flush()
			os.Exit(ec.ExitCode())
		}
		if sig, ok := err.(*cos.ErrSignal); ok {
			nlog.Flush()
			os.Exit(sig.ExitCode())
		}
		cos.ExitLogf("%v", err)
	}
}
