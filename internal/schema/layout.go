// layout.go
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
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Layout computes the offsets of a fixed-width record from a sequence of field
// declarations. Byte 0 of every record is reserved for a type tag, so the first
// declared field starts at offset 1. All multi-byte values are big-endian.
//
// Fields read directly from an immutable record slice and write through a
// Writer. A record passed to a Get method must be at least Size bytes long.
type Layout struct {
	size int
}

// NewLayout starts a layout containing only the tag byte.
func NewLayout() *Layout {
	return &Layout{size: 1}
}

// Extend starts a layout which continues after all fields of parent.
func Extend(parent *Layout) *Layout {
	return &Layout{size: parent.size}
}

// Size is the number of bytes occupied by the fields declared so far.
func (layout *Layout) Size() int {
	return layout.size
}

func (layout *Layout) claim(width int) int {
	offset := layout.size
	layout.size += width
	return offset
}

// Int1 declares a signed 1-byte integer.
func (layout *Layout) Int1() Int1 { return Int1{offset: layout.claim(1)} }

// Int2 declares a signed 2-byte integer.
func (layout *Layout) Int2() Int2 { return Int2{offset: layout.claim(2)} }

// Int4 declares a signed 4-byte integer.
func (layout *Layout) Int4() Int4 { return Int4{offset: layout.claim(4)} }

// Int8 declares a signed 8-byte integer.
func (layout *Layout) Int8() Int8 { return Int8{offset: layout.claim(8)} }

// Float4 declares a 4-byte IEEE 754 float.
func (layout *Layout) Float4() Float4 { return Float4{offset: layout.claim(4)} }

// Float8 declares an 8-byte IEEE 754 float.
func (layout *Layout) Float8() Float8 { return Float8{offset: layout.claim(8)} }

// Bool declares a 1-byte boolean.
func (layout *Layout) Bool() Bool { return Bool{offset: layout.claim(1)} }

// Enum declares a 1-byte enum ordinal.
func (layout *Layout) Enum() Enum { return Enum{offset: layout.claim(1)} }

// Bytes declares a byte array of at most capacity bytes, prefixed by its
// length as a 2-byte integer.
func (layout *Layout) Bytes(capacity int) Bytes {
	return Bytes{offset: layout.claim(capacity + 2), capacity: capacity}
}

// Text declares UTF-8 text of at most capacity bytes.
func (layout *Layout) Text(capacity int) Text {
	return Text{Bytes: layout.Bytes(capacity)}
}

// Tag returns the type tag of the record starting at offset.
func Tag(buf []byte, offset int) byte {
	return buf[offset]
}

// Writer builds a single record. It owns its buffer; Bytes hands it over.
type Writer struct {
	buf []byte
}

// NewWriter allocates a zeroed record of size bytes with the given tag.
func NewWriter(size int, tag byte) *Writer {
	writer := &Writer{buf: make([]byte, size)}
	writer.buf[0] = tag
	return writer
}

// Bytes returns the encoded record.
func (writer *Writer) Bytes() []byte {
	return writer.buf
}

type Int1 struct{ offset int }

func (field Int1) Get(buf []byte, offset int) int8 { return int8(buf[offset+field.offset]) }
func (field Int1) Put(writer *Writer, value int8)  { writer.buf[field.offset] = byte(value) }

type Int2 struct{ offset int }

func (field Int2) Get(buf []byte, offset int) int16 {
	return int16(binary.BigEndian.Uint16(buf[offset+field.offset:]))
}

func (field Int2) Put(writer *Writer, value int16) {
	binary.BigEndian.PutUint16(writer.buf[field.offset:], uint16(value))
}

type Int4 struct{ offset int }

func (field Int4) Get(buf []byte, offset int) int32 {
	return int32(binary.BigEndian.Uint32(buf[offset+field.offset:]))
}

func (field Int4) Put(writer *Writer, value int32) {
	binary.BigEndian.PutUint32(writer.buf[field.offset:], uint32(value))
}

type Int8 struct{ offset int }

func (field Int8) Get(buf []byte, offset int) int64 {
	return int64(binary.BigEndian.Uint64(buf[offset+field.offset:]))
}

func (field Int8) Put(writer *Writer, value int64) {
	binary.BigEndian.PutUint64(writer.buf[field.offset:], uint64(value))
}

type Float4 struct{ offset int }

func (field Float4) Get(buf []byte, offset int) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(buf[offset+field.offset:]))
}

func (field Float4) Put(writer *Writer, value float32) {
	binary.BigEndian.PutUint32(writer.buf[field.offset:], math.Float32bits(value))
}

type Float8 struct{ offset int }

func (field Float8) Get(buf []byte, offset int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(buf[offset+field.offset:]))
}

func (field Float8) Put(writer *Writer, value float64) {
	binary.BigEndian.PutUint64(writer.buf[field.offset:], math.Float64bits(value))
}

type Bool struct{ offset int }

func (field Bool) Get(buf []byte, offset int) bool { return buf[offset+field.offset] != 0 }

func (field Bool) Put(writer *Writer, value bool) {
	if value {
		writer.buf[field.offset] = 1
	} else {
		writer.buf[field.offset] = 0
	}
}

type Enum struct{ offset int }

func (field Enum) Get(buf []byte, offset int) uint8 { return buf[offset+field.offset] }
func (field Enum) Put(writer *Writer, ordinal uint8) { writer.buf[field.offset] = ordinal }

type Bytes struct {
	offset   int
	capacity int
}

// Capacity is the maximum number of payload bytes.
func (field Bytes) Capacity() int { return field.capacity }

// Get returns a view of the payload. A stored length outside of
// [0, Capacity] is clamped so corrupt records never read past the field.
func (field Bytes) Get(buf []byte, offset int) []byte {
	start := offset + field.offset
	length := int(int16(binary.BigEndian.Uint16(buf[start:])))
	if length < 0 {
		length = 0
	}
	if length > field.capacity {
		length = field.capacity
	}
	return buf[start+2 : start+2+length]
}

// Put stores value, truncated to Capacity.
func (field Bytes) Put(writer *Writer, value []byte) {
	if len(value) > field.capacity {
		value = value[:field.capacity]
	}
	binary.BigEndian.PutUint16(writer.buf[field.offset:], uint16(len(value)))
	copy(writer.buf[field.offset+2:field.offset+2+field.capacity], value)
}

type Text struct {
	Bytes
}

// Get decodes the stored text.
func (field Text) Get(buf []byte, offset int) string {
	return string(field.Bytes.Get(buf, offset))
}

// Put stores value, truncated to Capacity on a rune boundary.
func (field Text) Put(writer *Writer, value string) {
	field.Bytes.Put(writer, []byte(truncateText(value, field.capacity)))
}

func truncateText(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
