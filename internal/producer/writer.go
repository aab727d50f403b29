// writer.go
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

package producer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/go-logr/logr"
)

// Options configures the file sizes of a Writer.
type Options struct {
	// MaxLogRecords is the number of log records per log file before rotating.
	MaxLogRecords int
	// MaxContextRecords is the number of context records per context file before rotating.
	MaxContextRecords int
	// Now returns the current time, defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns 4 MiB log files and 16 MiB context files.
func DefaultOptions() Options {
	return Options{
		MaxLogRecords:     4 * 1024 * 1024 / schema.FrameSize,
		MaxContextRecords: (16*1024*1024 - reader.ContextHeaderSize) / schema.ContextSize,
		Now:               time.Now,
	}
}

// Scope identifies the context a record is written in.
type Scope struct {
	ID     int32
	Parent int32
}

// RootScope is the scope of records written outside of any context.
var RootScope = Scope{ID: schema.RootContextID, Parent: schema.RootContextID}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("writer is closed")

// Writer produces the on-disk files of one generation of a service. Files are
// pre-allocated with zeroes and filled in record by record.
type Writer struct {
	dir        string
	title      string
	generation int64
	options    Options
	logger     logr.Logger

	mutex         sync.Mutex
	closed        bool
	logFile       *os.File
	logIndex      int
	logCount      int
	blobs         *blobFile
	contextFile   *os.File
	contextIndex  int
	contextCount  int
	nextContextID int32
	nextMessageID int32
}

// NewWriter creates the first files of a generation and announces it with a
// marker file.
func NewWriter(logger logr.Logger, dir string, title string, generation int64, options Options) (*Writer, error) {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.MaxLogRecords <= 0 || options.MaxContextRecords <= 0 {
		return nil, fmt.Errorf("invalid file sizes: %d log records, %d context records", options.MaxLogRecords, options.MaxContextRecords)
	}

	err := os.MkdirAll(dir, os.ModeDir|os.ModePerm)
	if err != nil {
		return nil, err
	}

	err = removeStaleTemp(dir)
	if err != nil {
		return nil, err
	}

	writer := &Writer{
		dir:           dir,
		title:         title,
		generation:    generation,
		options:       options,
		logger:        logger.WithValues("title", title, "generation", generation),
		logIndex:      reader.FirstLogIndex,
		contextIndex:  reader.FirstContextIndex,
		nextContextID: schema.RootContextID + 1,
	}

	err = writer.openLogFiles()
	if err != nil {
		return nil, err
	}

	err = writer.openContextFile()
	if err != nil {
		_ = writer.closeLogFiles()
		return nil, err
	}

	err = writeMarker(dir, title, generation)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	writer.logger.Info("Started writing generation", "dir", dir)
	return writer, nil
}

// Generation returns the generation the writer produces.
func (writer *Writer) Generation() int64 {
	return writer.generation
}

func preallocate(filePath string, size int64) (*os.File, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	err = file.Truncate(size)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return file, nil
}

func (writer *Writer) openLogFiles() error {
	logFile, err := preallocate(reader.LogPath(writer.dir, writer.generation, writer.logIndex), int64(writer.options.MaxLogRecords)*schema.FrameSize)
	if err != nil {
		return err
	}

	blobs, err := openBlobFile(reader.BlobPath(writer.dir, writer.generation, writer.logIndex))
	if err != nil {
		_ = logFile.Close()
		return err
	}

	writer.logFile = logFile
	writer.logCount = 0
	writer.blobs = blobs
	return nil
}

func (writer *Writer) closeLogFiles() error {
	return errors.Join(writer.logFile.Close(), writer.blobs.close())
}

func (writer *Writer) openContextFile() error {
	size := int64(reader.ContextHeaderSize) + int64(writer.options.MaxContextRecords)*int64(schema.ContextSize)
	contextFile, err := preallocate(reader.ContextPath(writer.dir, writer.generation, writer.contextIndex), size)
	if err != nil {
		return err
	}

	writer.contextFile = contextFile
	writer.contextCount = 0
	return nil
}

// Context writes a new context below parent and returns its scope.
func (writer *Writer) Context(parent int32, contextType api.ContextType, importance api.MessageImportance, name string) (Scope, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	if writer.closed {
		return Scope{}, ErrClosed
	}

	if writer.contextCount == writer.options.MaxContextRecords {
		err := writer.contextFile.Close()
		if err != nil {
			return Scope{}, err
		}
		writer.contextIndex++
		err = writer.openContextFile()
		if err != nil {
			return Scope{}, err
		}
		writer.logger.V(1).Info("Rotated context file", "index", writer.contextIndex)
	}

	id := writer.nextContextID
	record := schema.EncodeContext(schema.ContextDescriptor{
		ID:         id,
		Parent:     parent,
		Importance: importance,
		Type:       contextType,
		Timestamp:  writer.options.Now().UnixMilli(),
		Name:       name,
	})

	offset := int64(reader.ContextHeaderSize) + int64(writer.contextCount)*int64(schema.ContextSize)
	_, err := writer.contextFile.WriteAt(record, offset)
	if err != nil {
		return Scope{}, err
	}

	writer.contextCount++
	writer.nextContextID++
	return Scope{ID: id, Parent: parent}, nil
}

// Emit writes a log record of the given kind in scope. fill adds the kind
// specific fields and may spill long text into the blob file.
func (writer *Writer) Emit(messageType api.LogMessageType, scope Scope, importance api.MessageImportance, fill func(record *schema.Writer, blobs schema.BlobStore) error) error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	if writer.closed {
		return ErrClosed
	}

	if writer.logCount == writer.options.MaxLogRecords {
		err := writer.closeLogFiles()
		if err != nil {
			return err
		}
		writer.logIndex++
		err = writer.openLogFiles()
		if err != nil {
			return err
		}
		writer.logger.V(1).Info("Rotated log file", "index", writer.logIndex)
	}

	record := schema.NewMessage(messageType, schema.MessageHeader{
		CtxGeneration: writer.generation,
		CtxParent:     scope.Parent,
		CtxID:         scope.ID,
		Timestamp:     writer.options.Now().UnixMilli(),
		Importance:    importance,
		ID:            writer.nextMessageID,
	})

	if fill != nil {
		err := fill(record, writer.blobs)
		if err != nil {
			return err
		}
	}

	_, err := writer.logFile.WriteAt(record.Bytes(), int64(writer.logCount)*schema.FrameSize)
	if err != nil {
		return err
	}

	writer.logCount++
	writer.nextMessageID++
	return nil
}

// Log writes a plain log message in scope.
func (writer *Writer) Log(scope Scope, importance api.MessageImportance, message string, extra string) error {
	return writer.Emit(api.LogMessage, scope, importance, func(record *schema.Writer, blobs schema.BlobStore) error {
		err := schema.LogFields.Message.PutOverflowing(record, message, blobs)
		if err != nil {
			return err
		}
		return schema.LogFields.Extra.PutOverflowing(record, extra, blobs)
	})
}

// Close closes all open files. Further writes fail with ErrClosed.
func (writer *Writer) Close() error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	if writer.closed {
		return nil
	}
	writer.closed = true
	return errors.Join(writer.closeLogFiles(), writer.contextFile.Close())
}

// blobFile appends length prefixed entries to a blob file.
type blobFile struct {
	file   *os.File
	offset int64
}

func openBlobFile(filePath string) (*blobFile, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &blobFile{file: file}, nil
}

// StoreBlob appends data and returns its offset as id.
func (blobs *blobFile) StoreBlob(data []byte) (int32, error) {
	if blobs.offset+4+int64(len(data)) > int64(^uint32(0)>>1) {
		return 0, fmt.Errorf("blob file %s is full", blobs.file.Name())
	}

	entry := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(entry, uint32(len(data)))
	copy(entry[4:], data)

	_, err := blobs.file.WriteAt(entry, blobs.offset)
	if err != nil {
		return 0, err
	}

	id := int32(blobs.offset)
	blobs.offset += int64(len(entry))
	return id, nil
}

func (blobs *blobFile) close() error {
	return blobs.file.Close()
}
