// tailer.go
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
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/session"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/tracker"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// logKind labels the log file tail.
	logKind = "log"
	// contextKind labels the context file tail.
	contextKind = "context"
	// maxErrorBackoff is the maximum time a tail waits after a failed tick.
	maxErrorBackoff = 5 * time.Second
)

// serviceSource provides the currently tracked services.
type serviceSource interface {
	Snapshot() map[string]tracker.Service
}

// tailSource describes one kind of rotated record file.
type tailSource[T any] struct {
	// kind labels logs and metrics.
	kind string
	// open opens a file of a generation.
	open func(dir string, generation int64, index int) (*reader.File[T], error)
	// latest returns the newest file index of a generation.
	latest func(dir string, generation int64) (int, bool)
	// exists reports whether a file is present.
	exists func(dir string, generation int64, index int) bool
	// skipExisting positions a newly discovered file at its end.
	skipExisting bool
	// deliver passes a record read from a file of generation to a session.
	deliver func(clientSession *session.ClientSession, generation int64, record T)
}

// logTailSource follows the newest log file of every generation. Only records
// written after the file was discovered are delivered.
var logTailSource = tailSource[*schema.LogMessage]{
	kind:         logKind,
	open:         reader.OpenLog,
	latest:       reader.LatestLogIndex,
	exists:       reader.LogExists,
	skipExisting: true,
	deliver: func(clientSession *session.ClientSession, _ int64, message *schema.LogMessage) {
		clientSession.AcceptLiveLog(message)
	},
}

// contextTailSource follows the newest context file of every generation from
// its first record.
var contextTailSource = tailSource[*schema.ContextDescriptor]{
	kind:   contextKind,
	open:   reader.OpenContext,
	latest: reader.LatestContextIndex,
	exists: reader.ContextExists,
	deliver: func(clientSession *session.ClientSession, generation int64, descriptor *schema.ContextDescriptor) {
		clientSession.AcceptLiveContext(generation, descriptor)
	},
}

// tailer keeps one reader on the newest file of every tracked generation and
// pushes new records to all sessions. The readers are only used by the
// goroutine calling tick.
type tailer[T any] struct {
	dir      string
	logger   logr.Logger
	services serviceSource
	registry *session.Registry
	metrics  *metrics
	source   tailSource[T]
	readers  map[int64]*reader.File[T]
}

func newTailer[T any](logger logr.Logger, dir string, services serviceSource, registry *session.Registry, debuggerMetrics *metrics, source tailSource[T]) *tailer[T] {
	return &tailer[T]{
		dir:      dir,
		logger:   logger.WithName("tailer").WithValues("kind", source.kind),
		services: services,
		registry: registry,
		metrics:  debuggerMetrics,
		source:   source,
		readers:  map[int64]*reader.File[T]{},
	}
}

// getBackoffDuration returns the backoff duration. The backoff time will increase exponential with a maximum of maxErrorBackoff.
func getBackoffDuration(errorCounter int, interval time.Duration) time.Duration {
	timeToBackoff := time.Duration(errorCounter*errorCounter) * interval
	if timeToBackoff > maxErrorBackoff {
		return maxErrorBackoff
	}

	return timeToBackoff
}

// Run ticks every interval until ctx is cancelled. A failed tick delays the
// next one by the backoff duration.
func (tailer *tailer[T]) Run(ctx context.Context, interval time.Duration) error {
	defer tailer.closeAll()

	errorCounter := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		delay := interval
		err := tailer.tick()
		if err != nil {
			errorCounter++
			delay = max(interval, getBackoffDuration(errorCounter, interval))
			tailer.logger.Error(err, "Error tailing files", "errorCounter", errorCounter, "backoff", delay)
		} else {
			errorCounter = 0
		}
		timer.Reset(delay)
	}
}

// tick closes the readers of generations which are no longer tracked, opens
// readers for new generations and delivers every new record.
func (tailer *tailer[T]) tick() error {
	generations := map[int64]struct{}{}
	for _, service := range tailer.services.Snapshot() {
		generations[service.Generation] = struct{}{}
	}

	for generation := range tailer.readers {
		if _, ok := generations[generation]; !ok {
			tailer.logger.Info("Closing reader of superseded generation", "generation", generation)
			tailer.closeReader(generation)
		}
	}

	var errs []error
	for generation := range generations {
		err := tailer.follow(generation)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// follow drains the reader of generation and moves on to the next file once
// the writer has rotated.
func (tailer *tailer[T]) follow(generation int64) error {
	file, ok := tailer.readers[generation]
	if !ok {
		index, found := tailer.source.latest(tailer.dir, generation)
		if !found {
			return nil
		}

		var err error
		file, err = tailer.openReader(generation, index, tailer.source.skipExisting)
		if err != nil {
			return err
		}
	}

	for {
		tailer.drain(file)
		err := file.Err()
		if err != nil {
			tailer.closeReader(generation)
			return err
		}

		next := file.Index + 1
		if !tailer.source.exists(tailer.dir, generation, next) {
			return nil
		}

		tailer.closeReader(generation)
		file, err = tailer.openReader(generation, next, false)
		if err != nil {
			return err
		}
	}
}

func (tailer *tailer[T]) openReader(generation int64, index int, skipExisting bool) (*reader.File[T], error) {
	file, err := tailer.source.open(tailer.dir, generation, index)
	if err != nil {
		return nil, fmt.Errorf("could not open %s file %d of generation %d: %w", tailer.source.kind, index, generation, err)
	}

	if skipExisting {
		err = file.SeekToEnd()
		if err != nil {
			closeErr := file.Close()
			return nil, errors.Join(err, closeErr)
		}
	}

	tailer.logger.Info("Opening reader", "generation", generation, "index", index, "position", file.Position())
	tailer.readers[generation] = file
	tailer.metrics.openReaders.With(prometheus.Labels{kindLabel: tailer.source.kind}).Inc()
	return file, nil
}

// drain reads all records which are completely written and delivers them to
// every session at once.
func (tailer *tailer[T]) drain(file *reader.File[T]) {
	var records []T
	for file.Next() {
		record, ok := file.Retrieve()
		if !ok {
			break
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return
	}

	tailer.metrics.recordsTailed.With(prometheus.Labels{kindLabel: tailer.source.kind}).Add(float64(len(records)))
	tailer.registry.ForEach(func(clientSession *session.ClientSession) {
		for _, record := range records {
			tailer.source.deliver(clientSession, file.Generation, record)
		}
	})
}

func (tailer *tailer[T]) closeReader(generation int64) {
	file, ok := tailer.readers[generation]
	if !ok {
		return
	}

	delete(tailer.readers, generation)
	tailer.metrics.openReaders.With(prometheus.Labels{kindLabel: tailer.source.kind}).Dec()
	err := file.Close()
	if err != nil {
		tailer.logger.Error(err, "could not close reader", "generation", generation, "index", file.Index)
	}
}

func (tailer *tailer[T]) closeAll() {
	for generation := range tailer.readers {
		tailer.closeReader(generation)
	}
}
