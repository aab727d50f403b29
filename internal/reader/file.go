// file.go
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

package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
)

type codec[T any] struct {
	recordSize int
	headerSize int64
	decode     func(buf []byte, offset int) (T, bool)
	timestamp  func(buf []byte, offset int) int64
}

var (
	logCodec = codec[*schema.LogMessage]{
		recordSize: schema.FrameSize,
		decode:     schema.DecodeLog,
		timestamp:  schema.LogTimestamp,
	}
	contextCodec = codec[*schema.ContextDescriptor]{
		recordSize: schema.ContextSize,
		headerSize: ContextHeaderSize,
		decode:     schema.DecodeContext,
		timestamp:  schema.ContextTimestamp,
	}
)

// File is a cursor over the fixed-width records of one file. Writers append
// records in order and may pre-allocate the file with zeroes, so the written
// records always form a prefix of the file. The cursor only ever rests on a
// written record or before the first one.
//
// A File is not safe for concurrent use.
type File[T any] struct {
	// Generation is the generation the file belongs to.
	Generation int64
	// Index is the file index within the generation.
	Index int

	file   *os.File
	codec  codec[T]
	cursor int64
	record []byte
	err    error
}

// LogReader reads the records of a log file.
type LogReader = File[*schema.LogMessage]

// ContextReader reads the records of a context file.
type ContextReader = File[*schema.ContextDescriptor]

// OpenLog opens a log file positioned before its first record.
func OpenLog(dir string, generation int64, index int) (*LogReader, error) {
	return open(LogPath(dir, generation, index), generation, index, logCodec)
}

// OpenContext opens a context file positioned before its first record.
func OpenContext(dir string, generation int64, index int) (*ContextReader, error) {
	return open(ContextPath(dir, generation, index), generation, index, contextCodec)
}

func open[T any](filePath string, generation int64, index int, codec codec[T]) (*File[T], error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	return &File[T]{
		Generation: generation,
		Index:      index,
		file:       file,
		codec:      codec,
		cursor:     -1,
		record:     make([]byte, codec.recordSize),
	}, nil
}

// read loads the record at position into the record buffer. It returns false
// if the record is not fully present on disk.
func (file *File[T]) read(position int64) bool {
	if position < 0 {
		return false
	}
	offset := file.codec.headerSize + position*int64(file.codec.recordSize)
	_, err := file.file.ReadAt(file.record, offset)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			file.err = fmt.Errorf("reading record %d of %s: %w", position, file.file.Name(), err)
		}
		return false
	}
	return true
}

func (file *File[T]) decode(position int64) (T, bool) {
	if !file.read(position) {
		var empty T
		return empty, false
	}
	return file.codec.decode(file.record, 0)
}

// Next moves the cursor onto the following record. It returns false, without
// moving, if that record has not been written yet.
func (file *File[T]) Next() bool {
	if _, ok := file.decode(file.cursor + 1); !ok {
		return false
	}
	file.cursor++
	return true
}

// Previous moves the cursor onto the preceding record. It returns false at the
// start of the file.
func (file *File[T]) Previous() bool {
	if file.cursor <= 0 {
		return false
	}
	if _, ok := file.decode(file.cursor - 1); !ok {
		return false
	}
	file.cursor--
	return true
}

// Retrieve decodes the record under the cursor. It returns false if the
// cursor is before the first record or the record cannot be decoded.
func (file *File[T]) Retrieve() (T, bool) {
	return file.decode(file.cursor)
}

// SeekToEnd moves the cursor onto the last written record. Without any written
// record the cursor is placed before the first one.
func (file *File[T]) SeekToEnd() error {
	last, err := file.lastWritten()
	if err != nil {
		return err
	}
	file.cursor = last
	return nil
}

// SeekLastTimestamp returns the timestamp of the last written record without
// moving the cursor. It returns false for a file without records.
func (file *File[T]) SeekLastTimestamp() (int64, bool, error) {
	last, err := file.lastWritten()
	if err != nil || last < 0 {
		return 0, false, err
	}
	if _, ok := file.decode(last); !ok {
		return 0, false, file.Err()
	}
	return file.codec.timestamp(file.record, 0), true, nil
}

// lastWritten binary searches the written prefix of the file.
func (file *File[T]) lastWritten() (int64, error) {
	info, err := file.file.Stat()
	if err != nil {
		return -1, err
	}
	count := (info.Size() - file.codec.headerSize) / int64(file.codec.recordSize)
	if count <= 0 {
		return -1, nil
	}

	file.err = nil
	firstUnwritten := sort.Search(int(count), func(position int) bool {
		_, ok := file.decode(int64(position))
		return !ok
	})
	if file.err != nil {
		return -1, file.err
	}
	return int64(firstUnwritten) - 1, nil
}

// Position returns the record index under the cursor, -1 before the first record.
func (file *File[T]) Position() int64 {
	return file.cursor
}

// Err returns the last I/O error other than reaching the end of the file.
func (file *File[T]) Err() error {
	return file.err
}

// Close closes the underlying file.
func (file *File[T]) Close() error {
	return file.file.Close()
}
