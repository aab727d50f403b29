// debugger.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2025 Apple Inc. and the FoundationDB project authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/certloader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/query"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/session"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/tracker"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	// shutdownTimeout is the time the HTTP server gets to finish open requests.
	shutdownTimeout = 5 * time.Second
	// maxConcurrentFlushes limits the number of sessions flushed in parallel.
	maxConcurrentFlushes = 16
)

// Debugger tails the trace files of a directory and serves them to
// WebSocket clients.
type Debugger struct {
	// dir is the directory holding the marker and trace files.
	dir string
	// options is the process configuration.
	options options
	// logger is the logger for logging.
	logger logr.Logger
	// tracker discovers the services announced in dir.
	tracker *tracker.Tracker
	// registry holds the connected sessions.
	registry *session.Registry
	// engine answers historical queries.
	engine *query.Engine
	// metrics is the prometheus metrics of the debugger.
	metrics *metrics
	// gatherer exposes the registered metrics.
	gatherer prometheus.Gatherer
	// now returns the current time, used as the end of the trailing query window.
	now func() time.Time
}

// NewDebugger creates a Debugger for dir and registers its metrics and the Go
// runtime metrics in reg.
func NewDebugger(logger logr.Logger, dir string, opts options, reg *prometheus.Registry) *Debugger {
	// Enable the default go metrics.
	reg.MustRegister(collectors.NewGoCollector())

	return &Debugger{
		dir:      dir,
		options:  opts,
		logger:   logger,
		tracker:  tracker.New(logger, dir),
		registry: session.NewRegistry(),
		engine:   query.NewEngine(logger, dir),
		metrics:  registerMetrics(reg),
		gatherer: reg,
		now:      time.Now,
	}
}

// Run starts the polling loops and the server and blocks until ctx is
// cancelled or one of them fails.
func (debugger *Debugger) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	debugger.startLoops(ctx, group)
	group.Go(func() error {
		return debugger.serve(ctx)
	})
	return group.Wait()
}

// startLoops starts service discovery, the log and context tails and the
// flush loop in group.
func (debugger *Debugger) startLoops(ctx context.Context, group *errgroup.Group) {
	logTailer := newTailer(debugger.logger, debugger.dir, debugger.tracker, debugger.registry, debugger.metrics, logTailSource)
	contextTailer := newTailer(debugger.logger, debugger.dir, debugger.tracker, debugger.registry, debugger.metrics, contextTailSource)

	group.Go(func() error {
		return debugger.tracker.Run(ctx, debugger.options.ServicePollInterval, debugger.acceptServices)
	})
	group.Go(func() error {
		return logTailer.Run(ctx, debugger.options.TailInterval)
	})
	group.Go(func() error {
		return contextTailer.Run(ctx, debugger.options.TailInterval)
	})
	group.Go(func() error {
		return debugger.runFlush(ctx)
	})
}

// acceptServices announces newly discovered services to every session.
func (debugger *Debugger) acceptServices(added []tracker.Service) {
	for _, service := range added {
		debugger.logger.Info("Detected new service", "title", service.Title, "generation", service.Generation)
	}

	debugger.registry.ForEach(func(clientSession *session.ClientSession) {
		for _, service := range added {
			clientSession.AcceptService(service.Title, service.Generation)
		}
	})
	debugger.metrics.registerServices(debugger.tracker.Services(), added)
}

// runFlush sends the buffered records of every session once per flush
// interval until ctx is cancelled.
func (debugger *Debugger) runFlush(ctx context.Context) error {
	ticker := time.NewTicker(debugger.options.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			debugger.flushSessions()
		}
	}
}

// flushSessions flushes all sessions. A session whose connection fails is
// removed, the others are not affected.
func (debugger *Debugger) flushSessions() {
	group := errgroup.Group{}
	group.SetLimit(maxConcurrentFlushes)
	for _, clientSession := range debugger.registry.Sessions() {
		group.Go(func() error {
			err := clientSession.Flush()
			if err != nil {
				clientSession.Logger().Error(err, "Error flushing session, removing it")
				count := debugger.registry.Remove(clientSession)
				debugger.metrics.activeSessions.Set(float64(count))
			}
			return nil
		})
	}
	_ = group.Wait()
}

// Handler returns the HTTP handler serving the WebSocket endpoint, the
// metrics and, if enabled, the pprof endpoints.
func (debugger *Debugger) Handler() http.Handler {
	mux := http.NewServeMux()
	// Enable pprof endpoints for debugging purposes.
	if debugger.options.EnableDebug {
		mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
		mux.Handle("/debug/pprof/block", pprof.Handler("block"))
		mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	// Add Prometheus support
	mux.Handle("/metrics", promhttp.HandlerFor(debugger.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", debugger)
	return mux
}

// serve runs the HTTP server until ctx is cancelled. Open WebSocket
// connections are closed through the request context.
func (debugger *Debugger) serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              debugger.options.ListenAddress,
		Handler:           debugger.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	if debugger.options.useTLS() {
		tlsConfig, err := certloader.NewCertLoader(debugger.logger, debugger.options.TLSCertFile, debugger.options.TLSKeyFile).TLSConfig()
		if err != nil {
			return fmt.Errorf("could not load TLS certificate: %w", err)
		}
		server.TLSConfig = tlsConfig
	}

	serveErrors := make(chan error, 1)
	go func() {
		debugger.logger.Info("Starting server", "address", debugger.options.ListenAddress, "tls", debugger.options.useTLS())
		if debugger.options.useTLS() {
			serveErrors <- server.ListenAndServeTLS("", "")
			return
		}
		serveErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErrors:
		return fmt.Errorf("could not serve %s: %w", debugger.options.ListenAddress, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
