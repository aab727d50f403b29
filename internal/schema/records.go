// records.go
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

package schema

import (
	"fmt"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
)

const (
	// FrameSize is the width of every log message record.
	FrameSize = 256
	// ContextNameCapacity is the maximum encoded length of a context name.
	ContextNameCapacity = 108
	// ContextChildrenCapacity is the width reserved for the child id list.
	ContextChildrenCapacity = 256
	// MessageTextCapacity is the maximum encoded length of a message text field.
	MessageTextCapacity = 100
)

type contextSchema struct {
	*Layout
	parent     Int4
	id         Int4
	importance Enum
	kind       Enum
	timestamp  Int8
	reserved1  Int1
	reserved2  Int1
	name       Text
	children   Bytes
}

var contextRecord = func() contextSchema {
	layout := NewLayout()
	return contextSchema{
		Layout:     layout,
		parent:     layout.Int4(),
		id:         layout.Int4(),
		importance: layout.Enum(),
		kind:       layout.Enum(),
		timestamp:  layout.Int8(),
		reserved1:  layout.Int1(),
		reserved2:  layout.Int1(),
		name:       layout.Text(ContextNameCapacity),
		children:   layout.Bytes(ContextChildrenCapacity),
	}
}()

// ContextSize is the width of a context record.
var ContextSize = contextRecord.Size()

// ContextDescriptor is a decoded context record. Raw holds the exact bytes it
// was decoded from so it can be forwarded without re-encoding.
type ContextDescriptor struct {
	ID         int32
	Parent     int32
	Importance api.MessageImportance
	Type       api.ContextType
	Timestamp  int64
	Name       string

	raw []byte
}

// Raw returns the record bytes.
func (descriptor *ContextDescriptor) Raw() []byte {
	return descriptor.raw
}

// IsRoot reports whether the context hangs directly off the root context.
func (descriptor *ContextDescriptor) IsRoot() bool {
	return descriptor.Parent == RootContextID
}

// RootContextID is the id every top-level context uses as its parent.
const RootContextID = 1

// DecodeContext decodes the context record at offset. It returns false when
// the record is truncated or was never written, which is signalled by an id
// of zero.
func DecodeContext(buf []byte, offset int) (*ContextDescriptor, bool) {
	if offset < 0 || len(buf)-offset < ContextSize {
		return nil, false
	}
	id := contextRecord.id.Get(buf, offset)
	if id == 0 {
		return nil, false
	}
	raw := make([]byte, ContextSize)
	copy(raw, buf[offset:offset+ContextSize])
	return &ContextDescriptor{
		ID:         id,
		Parent:     contextRecord.parent.Get(raw, 0),
		Importance: api.MessageImportance(contextRecord.importance.Get(raw, 0)),
		Type:       api.ContextType(contextRecord.kind.Get(raw, 0)),
		Timestamp:  contextRecord.timestamp.Get(raw, 0),
		Name:       contextRecord.name.Get(raw, 0),
		raw:        raw,
	}, true
}

// ContextTimestamp reads only the timestamp of the context record at offset.
func ContextTimestamp(buf []byte, offset int) int64 {
	return contextRecord.timestamp.Get(buf, offset)
}

// EncodeContext builds a context record from the descriptor fields.
func EncodeContext(descriptor ContextDescriptor) []byte {
	writer := NewWriter(ContextSize, 0)
	contextRecord.parent.Put(writer, descriptor.Parent)
	contextRecord.id.Put(writer, descriptor.ID)
	contextRecord.importance.Put(writer, uint8(descriptor.Importance))
	contextRecord.kind.Put(writer, uint8(descriptor.Type))
	contextRecord.timestamp.Put(writer, descriptor.Timestamp)
	contextRecord.name.Put(writer, descriptor.Name)
	return writer.Bytes()
}

type headerSchema struct {
	*Layout
	ctxGeneration Int8
	ctxParent     Int4
	ctxID         Int4
	timestamp     Int8
	importance    Enum
	id            Int4
	reserved1     Int2
	reserved2     Int4
	reserved3     Int4
}

var messageHeader = func() headerSchema {
	layout := NewLayout()
	return headerSchema{
		Layout:        layout,
		ctxGeneration: layout.Int8(),
		ctxParent:     layout.Int4(),
		ctxID:         layout.Int4(),
		timestamp:     layout.Int8(),
		importance:    layout.Enum(),
		id:            layout.Int4(),
		reserved1:     layout.Int2(),
		reserved2:     layout.Int4(),
		reserved3:     layout.Int4(),
	}
}()

// MessageHeader holds the fields shared by all log message kinds.
type MessageHeader struct {
	CtxGeneration int64
	CtxParent     int32
	CtxID         int32
	Timestamp     int64
	Importance    api.MessageImportance
	ID            int32
}

// LogMessage is a decoded log record header. The kind specific fields stay in
// Raw and can be read through the exported field sets.
type LogMessage struct {
	MessageHeader
	Type api.LogMessageType

	raw []byte
}

// Raw returns the record bytes.
func (message *LogMessage) Raw() []byte {
	return message.raw
}

// DecodeLog decodes the header of the log record at offset. It returns false
// when the record is truncated or was never written, which is signalled by a
// type tag of zero.
func DecodeLog(buf []byte, offset int) (*LogMessage, bool) {
	if offset < 0 || len(buf)-offset < FrameSize {
		return nil, false
	}
	tag := Tag(buf, offset)
	if tag == 0 {
		return nil, false
	}
	raw := make([]byte, FrameSize)
	copy(raw, buf[offset:offset+FrameSize])
	return &LogMessage{
		MessageHeader: MessageHeader{
			CtxGeneration: messageHeader.ctxGeneration.Get(raw, 0),
			CtxParent:     messageHeader.ctxParent.Get(raw, 0),
			CtxID:         messageHeader.ctxID.Get(raw, 0),
			Timestamp:     messageHeader.timestamp.Get(raw, 0),
			Importance:    api.MessageImportance(messageHeader.importance.Get(raw, 0)),
			ID:            messageHeader.id.Get(raw, 0),
		},
		Type: api.LogMessageType(tag),
		raw:  raw,
	}, true
}

// LogTimestamp reads only the timestamp of the log record at offset.
func LogTimestamp(buf []byte, offset int) int64 {
	return messageHeader.timestamp.Get(buf, offset)
}

// NewMessage starts a log record of the given kind with the header filled in.
// Kind specific fields are added through the matching field set.
func NewMessage(messageType api.LogMessageType, header MessageHeader) *Writer {
	writer := NewWriter(FrameSize, byte(messageType))
	messageHeader.ctxGeneration.Put(writer, header.CtxGeneration)
	messageHeader.ctxParent.Put(writer, header.CtxParent)
	messageHeader.ctxID.Put(writer, header.CtxID)
	messageHeader.timestamp.Put(writer, header.Timestamp)
	messageHeader.importance.Put(writer, uint8(header.Importance))
	messageHeader.id.Put(writer, header.ID)
	return writer
}

// RequestFieldSet is the body of client and server request messages.
type RequestFieldSet struct {
	Call    Text
	Payload Text
}

// ResponseFieldSet is the body of client and server response messages.
type ResponseFieldSet struct {
	ResponseCode Int1
	ResponseTime Int4
	Call         Text
	Response     Text
}

// ConnectionFieldSet is the body of database connection messages.
type ConnectionFieldSet struct {
	IsOpen Bool
}

// TransactionFieldSet is the body of database transaction messages.
type TransactionFieldSet struct {
	Event Enum
}

// QueryFieldSet is the body of database query messages.
type QueryFieldSet struct {
	Parameters Text
	Query      Text
}

// DatabaseResponseFieldSet is the body of database response messages.
type DatabaseResponseFieldSet struct {
	ResponseTime Int4
}

// LogFieldSet is the body of plain log messages.
type LogFieldSet struct {
	Message Text
	Extra   Text
}

var (
	RequestFields = func() RequestFieldSet {
		layout := Extend(messageHeader.Layout)
		fields := RequestFieldSet{Call: layout.Text(MessageTextCapacity), Payload: layout.Text(MessageTextCapacity)}
		mustFitFrame("request", layout)
		return fields
	}()
	ResponseFields = func() ResponseFieldSet {
		layout := Extend(messageHeader.Layout)
		fields := ResponseFieldSet{
			ResponseCode: layout.Int1(),
			ResponseTime: layout.Int4(),
			Call:         layout.Text(MessageTextCapacity),
			Response:     layout.Text(MessageTextCapacity),
		}
		mustFitFrame("response", layout)
		return fields
	}()
	ConnectionFields = func() ConnectionFieldSet {
		layout := Extend(messageHeader.Layout)
		return ConnectionFieldSet{IsOpen: layout.Bool()}
	}()
	TransactionFields = func() TransactionFieldSet {
		layout := Extend(messageHeader.Layout)
		return TransactionFieldSet{Event: layout.Enum()}
	}()
	QueryFields = func() QueryFieldSet {
		layout := Extend(messageHeader.Layout)
		fields := QueryFieldSet{Parameters: layout.Text(MessageTextCapacity), Query: layout.Text(MessageTextCapacity)}
		mustFitFrame("query", layout)
		return fields
	}()
	DatabaseResponseFields = func() DatabaseResponseFieldSet {
		layout := Extend(messageHeader.Layout)
		return DatabaseResponseFieldSet{ResponseTime: layout.Int4()}
	}()
	LogFields = func() LogFieldSet {
		layout := Extend(messageHeader.Layout)
		fields := LogFieldSet{Message: layout.Text(MessageTextCapacity), Extra: layout.Text(MessageTextCapacity)}
		mustFitFrame("log", layout)
		return fields
	}()
)

func mustFitFrame(name string, layout *Layout) {
	if layout.Size() > FrameSize {
		panic(fmt.Sprintf("%s message layout needs %d bytes, frame is %d", name, layout.Size(), FrameSize))
	}
}
