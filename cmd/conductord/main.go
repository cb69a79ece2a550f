// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Command conductord runs one conductor process: it loads configuration,
// wires the store/driver/ring/worker stack, and serves RPCs until
// signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/metalconductor/conductor/conductor"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/internal/config"
	"github.com/metalconductor/conductor/internal/telemetry"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/store/memstore"
	"github.com/metalconductor/conductor/store/sqlstore"
	"github.com/metalconductor/conductor/transport"
)

func main() {
	var (
		hostname  = flag.String("hostname", "", "conductor hostname (defaults to os.Hostname)")
		bind      = flag.String("bind", "127.0.0.1:6385", "RPC listen address")
		dsn       = flag.String("sqlite-dsn", "", "sqlite DSN for store/sqlstore; empty uses the in-memory store")
		logLevel  = flag.String("log-level", "info", "log level: trace|debug|info|warn|error")
	)
	flag.Parse()

	log := telemetry.NewLogger(*logLevel)
	metrics := telemetry.NewMetrics("conductor")

	host := *hostname
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			log.Error("failed determining hostname", "error", err)
			os.Exit(1)
		}
		host = h
	}

	st, err := openStore(*dsn)
	if err != nil {
		log.Error("failed opening store", "error", err)
		os.Exit(1)
	}

	// TODO(conductord): load driver factories from a plugin directory once
	// one exists; for now an operator builds a custom conductord with the
	// drivers it needs registered here.
	drivers, err := driver.NewRegistry(map[string]driver.Factory{})
	if err != nil {
		log.Error("failed loading drivers", "error", err)
		os.Exit(1)
	}

	cfg := config.Default()
	core, err := conductor.New(host, cfg, st, drivers, log, metrics)
	if err != nil {
		log.Error("failed constructing conductor core", "error", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *bind)
	if err != nil {
		log.Error("failed binding RPC listener", "address", *bind, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- core.Run(ctx) }()
	go func() { errCh <- transport.Serve(ctx, ln, core, log.Named("rpc")) }()

	<-ctx.Done()
	log.Info("shutting down", "hostname", host)
	if err := <-errCh; err != nil {
		log.Error("conductor core exited with error", "error", err)
		os.Exit(1)
	}
}

func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		s, err := memstore.New()
		if err != nil {
			return nil, fmt.Errorf("building in-memory store: %w", err)
		}
		return s, nil
	}
	s, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store at %q: %w", dsn, err)
	}
	return s, nil
}
