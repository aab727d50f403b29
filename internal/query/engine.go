// engine.go
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

package query

import (
	"errors"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/session"
	"github.com/go-logr/logr"
)

const (
	// ContextFindCount is the number of root contexts collected by a backward walk.
	ContextFindCount = 20
	// DefaultWindow is the length of the time window of replay and root views.
	DefaultWindow = 15 * time.Minute
)

// Sink receives the records found by a query. ClientSession implements Sink.
type Sink interface {
	AcceptContext(generation int64, descriptor *schema.ContextDescriptor, contexts session.ContextSet)
	AcceptLog(message *schema.LogMessage, contexts session.ContextSet)
	FlushContexts() error
	FlushLogs() error
}

// Engine answers historical queries against the files in a directory.
type Engine struct {
	dir    string
	logger logr.Logger
}

// NewEngine creates an Engine for dir.
func NewEngine(logger logr.Logger, dir string) *Engine {
	return &Engine{
		dir:    dir,
		logger: logger.WithName("query"),
	}
}

// errStop ends a scan early without reporting an error.
var errStop = errors.New("stop")

// scanContexts calls fn for every written record of the context file, forward
// or backward. Returning errStop from fn ends the scan.
func (engine *Engine) scanContexts(generation int64, index int, backward bool, fn func(*schema.ContextDescriptor) error) error {
	contextReader, err := reader.OpenContext(engine.dir, generation, index)
	if err != nil {
		return err
	}
	defer contextReader.Close()

	advance := contextReader.Next
	if backward {
		err = contextReader.SeekToEnd()
		if err != nil {
			return err
		}
		advance = contextReader.Previous
	} else if !contextReader.Next() {
		return contextReader.Err()
	}

	for {
		descriptor, ok := contextReader.Retrieve()
		if !ok {
			break
		}
		err = fn(descriptor)
		if err != nil {
			return err
		}
		if !advance() {
			break
		}
	}
	return contextReader.Err()
}

// FindFirstContextFile returns the index of the first context file of a
// generation whose last record is not older than timestamp.
func (engine *Engine) FindFirstContextFile(generation int64, timestamp int64) (int, bool, error) {
	for index := reader.FirstContextIndex; reader.ContextExists(engine.dir, generation, index); index++ {
		last, ok, err := engine.lastContextTimestamp(generation, index)
		if err != nil || !ok {
			return 0, false, err
		}
		if last >= timestamp {
			return index, true, nil
		}
	}
	return 0, false, nil
}

func (engine *Engine) lastContextTimestamp(generation int64, index int) (int64, bool, error) {
	contextReader, err := reader.OpenContext(engine.dir, generation, index)
	if err != nil {
		return 0, false, err
	}
	defer contextReader.Close()
	return contextReader.SeekLastTimestamp()
}

// FindAndEmitContexts collects every context written within [start, end]
// which descends from initial and emits each to sink as it is found. Parents
// are always written before their children, so one forward pass finds the
// complete subtree. The returned set includes initial.
func (engine *Engine) FindAndEmitContexts(sink Sink, start int64, end int64, generation int64, initial int64) (session.ContextSet, error) {
	contexts := session.NewContextSet(initial)

	index, ok, err := engine.FindFirstContextFile(generation, start)
	if err != nil || !ok {
		return contexts, err
	}

	logger := engine.logger.WithValues("generation", generation, "initial", initial)
	for ; reader.ContextExists(engine.dir, generation, index); index++ {
		logger.V(1).Info("Searching context file", "index", index, "start", start, "end", end)
		err = engine.scanContexts(generation, index, false, func(descriptor *schema.ContextDescriptor) error {
			if descriptor.Timestamp < start {
				return nil
			}
			if descriptor.Timestamp > end {
				return errStop
			}
			if contexts.Contains(int64(descriptor.Parent)) {
				contexts.Add(int64(descriptor.ID))
				sink.AcceptContext(generation, descriptor, contexts)
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return contexts, err
		}
	}

	logger.V(1).Info("Found contexts", "contexts", contexts.Sorted())
	return contexts, sink.FlushContexts()
}

// FindContextsBackwards walks the context files of a generation backwards,
// starting at the end of the file with index fileIndex, until it reaches the
// context with id ctxID. From there it collects root contexts until
// ContextFindCount are found or the files are exhausted. With onlyFindSelf
// only the context ctxID itself is collected. Collected contexts are emitted
// to sink and returned in the order they were found.
func (engine *Engine) FindContextsBackwards(sink Sink, generation int64, fileIndex int, ctxID int32, onlyFindSelf bool) ([]*schema.ContextDescriptor, error) {
	var found []*schema.ContextDescriptor
	collecting := false
	emit := func(descriptor *schema.ContextDescriptor) {
		found = append(found, descriptor)
		sink.AcceptContext(generation, descriptor, session.RootContexts())
	}

	for index := fileIndex; index >= reader.FirstContextIndex && reader.ContextExists(engine.dir, generation, index); index-- {
		err := engine.scanContexts(generation, index, true, func(descriptor *schema.ContextDescriptor) error {
			if descriptor.ID == ctxID && !collecting {
				collecting = true
				if onlyFindSelf {
					emit(descriptor)
					return errStop
				}
				return nil
			}

			if collecting && descriptor.IsRoot() {
				emit(descriptor)
				if len(found) == ContextFindCount {
					return errStop
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return found, err
		}
	}

	return found, sink.FlushContexts()
}

// EmitNewestContext emits the most recent root context of a generation. It
// returns false if the generation has no root context.
func (engine *Engine) EmitNewestContext(sink Sink, generation int64) (bool, error) {
	latest, ok := reader.LatestContextIndex(engine.dir, generation)
	if !ok {
		return false, nil
	}

	var newest *schema.ContextDescriptor
	for index := latest; index >= reader.FirstContextIndex && newest == nil; index-- {
		err := engine.scanContexts(generation, index, true, func(descriptor *schema.ContextDescriptor) error {
			if descriptor.IsRoot() {
				newest = descriptor
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return false, err
		}
	}

	if newest == nil {
		return false, nil
	}

	sink.AcceptContext(generation, newest, session.RootContexts())
	return true, sink.FlushContexts()
}

// FindLogs emits every log message written within [start, end] in one of
// contexts. Log files ending before start are skipped without being read.
func (engine *Engine) FindLogs(sink Sink, start int64, end int64, generation int64, contexts session.ContextSet) error {
	for index := reader.FirstLogIndex; reader.LogExists(engine.dir, generation, index); index++ {
		done, err := engine.findLogsInFile(sink, start, end, generation, index, contexts)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	return sink.FlushLogs()
}

func (engine *Engine) findLogsInFile(sink Sink, start int64, end int64, generation int64, index int, contexts session.ContextSet) (bool, error) {
	logReader, err := reader.OpenLog(engine.dir, generation, index)
	if err != nil {
		return true, err
	}
	defer logReader.Close()

	last, ok, err := logReader.SeekLastTimestamp()
	if err != nil || !ok {
		return true, err
	}
	if last < start {
		return false, nil
	}

	for logReader.Next() {
		message, ok := logReader.Retrieve()
		if !ok {
			break
		}
		if message.Timestamp < start {
			continue
		}
		if message.Timestamp > end {
			return true, nil
		}
		if contexts.Contains(int64(message.CtxID)) {
			sink.AcceptLog(message, contexts)
		}
	}

	return false, logReader.Err()
}
