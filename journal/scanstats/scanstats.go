// Package scanstats tracks Prometheus counters across a mdjtool
// invocation: events scanned, errors recorded, dentries written, and
// inodes consumed. Registration targets a private registry rather than
// the default global one, so a mdjtool run never pollutes process-wide
// metrics with registrations from an embedding program.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package scanstats

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NVIDIA/mdjtool/cmn/nlog"
)

// Stats holds every counter/gauge this tool exposes, scoped to one
// registry so multiple Stats instances (as in tests) never collide.
type Stats struct {
	reg *prometheus.Registry

	EventsScanned   prometheus.Counter
	ScanErrors      prometheus.Counter
	DentriesWritten prometheus.Counter
	InodesConsumed  prometheus.Counter
	RanksReconciled prometheus.Counter
	BytesErased     prometheus.Counter
}

// New registers the full metric set against a fresh registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		reg: reg,
		EventsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_events_scanned_total",
			Help: "Events successfully decoded by the journal scanner.",
		}),
		ScanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_scan_errors_total",
			Help: "Framing or decode errors recorded while scanning.",
		}),
		DentriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_dentries_written_total",
			Help: "Dentry omap writes staged by the scavenger and committed.",
		}),
		InodesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_inodes_consumed_total",
			Help: "Distinct inode numbers passed to the inode-table reconciler.",
		}),
		RanksReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_ranks_reconciled_total",
			Help: "Rank inotables reconciled without error, whether or not their version was bumped.",
		}),
		BytesErased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdjtool_bytes_erased_total",
			Help: "Bytes overwritten by the region eraser.",
		}),
	}
	reg.MustRegister(s.EventsScanned, s.ScanErrors, s.DentriesWritten, s.InodesConsumed, s.RanksReconciled, s.BytesErased)
	return s
}

// Serve starts a /metrics HTTP listener on addr until ctx is cancelled;
// an empty addr disables it entirely, matching Config.MetricsAddr's
// "" -> off convention.
func (s *Stats) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		nlog.Warningf("scanstats: metrics listener on %s exited: %v", addr, err)
		return err
	}
}
