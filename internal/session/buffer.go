// buffer.go
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

package session

import (
	"encoding/binary"
	"strconv"
)

const (
	// ServiceOpcode tags frames holding service records.
	ServiceOpcode uint64 = 1
	// ContextOpcode tags frames holding context records.
	ContextOpcode uint64 = 2
	// LogOpcode tags frames holding log records.
	LogOpcode uint64 = 3
	// BlobOpcode tags frames holding a single blob payload.
	BlobOpcode uint64 = 4

	// HeaderSize is the size of the opcode at the start of every frame.
	HeaderSize = 8

	ServiceBufferSize = 32 * 1024
	ContextBufferSize = 512 * 1024
	LogBufferSize     = 512 * 1024

	// ServiceRecordSize is the width of a service record.
	ServiceRecordSize = 256
	// MaxGenerationLength is the space reserved for the decimal generation.
	MaxGenerationLength = 16
	// MaxServiceNameLength is the space reserved for the service title.
	MaxServiceNameLength = ServiceRecordSize - MaxGenerationLength
)

// Buffer names used for metrics and logging.
const (
	ServiceBuffer = "service"
	ContextBuffer = "context"
	LogBuffer     = "log"
	BlobBuffer    = "blob"
)

// frameBuffer accumulates fixed-width records behind an opcode header. It
// never grows beyond its capacity.
type frameBuffer struct {
	name     string
	opcode   uint64
	capacity int
	data     []byte
}

func newFrameBuffer(name string, opcode uint64, capacity int) *frameBuffer {
	buffer := &frameBuffer{name: name, opcode: opcode, capacity: capacity}
	buffer.data = make([]byte, HeaderSize, capacity)
	binary.BigEndian.PutUint64(buffer.data, opcode)
	return buffer
}

// reset drops all records and keeps the header.
func (buffer *frameBuffer) reset() {
	buffer.data = buffer.data[:HeaderSize]
}

// append adds record if it fits entirely.
func (buffer *frameBuffer) append(record []byte) bool {
	if len(buffer.data)+len(record) > buffer.capacity {
		return false
	}
	buffer.data = append(buffer.data, record...)
	return true
}

func (buffer *frameBuffer) pending() bool {
	return len(buffer.data) > HeaderSize
}

// take returns the pending frame and leaves the buffer holding only the header.
func (buffer *frameBuffer) take() []byte {
	if !buffer.pending() {
		return nil
	}
	frame := make([]byte, len(buffer.data))
	copy(frame, buffer.data)
	buffer.reset()
	return frame
}

// encodeService builds a service record. Titles and generations which do not
// fit their slot are rejected.
func encodeService(title string, generation int64) ([]byte, bool) {
	encodedGeneration := strconv.FormatInt(generation, 10)
	if len(title) >= MaxServiceNameLength || len(encodedGeneration) >= MaxGenerationLength {
		return nil, false
	}

	record := make([]byte, ServiceRecordSize)
	copy(record, title)
	copy(record[MaxServiceNameLength:], encodedGeneration)
	return record, true
}

// blobFrame builds an opcode 4 frame for a blob payload.
func blobFrame(id int32, payload []byte) []byte {
	frame := make([]byte, HeaderSize+4+len(payload))
	binary.BigEndian.PutUint64(frame, BlobOpcode)
	binary.BigEndian.PutUint32(frame[HeaderSize:], uint32(id))
	copy(frame[HeaderSize+4:], payload)
	return frame
}
