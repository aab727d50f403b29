// fakes_test.go
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
	"errors"
	"sync"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	. "github.com/onsi/gomega"
)

type recordingSender struct {
	mutex  sync.Mutex
	frames [][]byte
	err    error
}

func (sender *recordingSender) SendBinary(frame []byte) error {
	sender.mutex.Lock()
	defer sender.mutex.Unlock()
	if sender.err != nil {
		return sender.err
	}
	sender.frames = append(sender.frames, frame)
	return nil
}

func (sender *recordingSender) Frames() [][]byte {
	sender.mutex.Lock()
	defer sender.mutex.Unlock()
	return append([][]byte(nil), sender.frames...)
}

var errBrokenPipe = errors.New("broken pipe")

type staticServices map[string]int64

func (services staticServices) Generation(title string) (int64, bool) {
	generation, ok := services[title]
	return generation, ok
}

type countingObserver struct {
	mutex   sync.Mutex
	dropped map[string]int
	sent    map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: map[string]int{}, sent: map[string]int{}}
}

func (observer *countingObserver) RecordDropped(buffer string) {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	observer.dropped[buffer]++
}

func (observer *countingObserver) FrameSent(buffer string) {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	observer.sent[buffer]++
}

func (observer *countingObserver) Dropped(buffer string) int {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	return observer.dropped[buffer]
}

func contextDescriptor(id int32, parent int32, importance api.MessageImportance, contextType api.ContextType, name string) *schema.ContextDescriptor {
	descriptor, ok := schema.DecodeContext(schema.EncodeContext(schema.ContextDescriptor{
		ID:         id,
		Parent:     parent,
		Importance: importance,
		Type:       contextType,
		Timestamp:  int64(id) * 10,
		Name:       name,
	}), 0)
	Expect(ok).To(BeTrue())
	return descriptor
}

func logMessage(generation int64, ctxID int32, importance api.MessageImportance) *schema.LogMessage {
	writer := schema.NewMessage(api.LogMessage, schema.MessageHeader{
		CtxGeneration: generation,
		CtxID:         ctxID,
		CtxParent:     schema.RootContextID,
		Importance:    importance,
	})
	message, ok := schema.DecodeLog(writer.Bytes(), 0)
	Expect(ok).To(BeTrue())
	return message
}

func opcode(frame []byte) uint64 {
	return binary.BigEndian.Uint64(frame)
}

// recordCount returns the number of records of the given width in a frame.
func recordCount(frame []byte, width int) int {
	Expect((len(frame) - HeaderSize) % width).To(BeZero())
	return (len(frame) - HeaderSize) / width
}
