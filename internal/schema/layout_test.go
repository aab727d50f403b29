// layout_test.go
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
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Layout", func() {
	It("should place fields sequentially after the tag byte", func() {
		layout := NewLayout()
		first := layout.Int4()
		second := layout.Int8()
		text := layout.Text(10)
		Expect(first.offset).To(Equal(1))
		Expect(second.offset).To(Equal(5))
		Expect(text.offset).To(Equal(13))
		Expect(layout.Size()).To(Equal(25))
	})

	It("should continue an extended layout after its parent", func() {
		parent := NewLayout()
		parent.Int8()
		child := Extend(parent)
		Expect(child.Int1().offset).To(Equal(9))
	})

	It("should read back every field kind from an offset", func() {
		layout := NewLayout()
		i1, i2, i4, i8 := layout.Int1(), layout.Int2(), layout.Int4(), layout.Int8()
		f4, f8 := layout.Float4(), layout.Float8()
		flag, enum := layout.Bool(), layout.Enum()
		data, text := layout.Bytes(4), layout.Text(16)

		writer := NewWriter(layout.Size(), 7)
		i1.Put(writer, -3)
		i2.Put(writer, -300)
		i4.Put(writer, 1<<30)
		i8.Put(writer, -1<<40)
		f4.Put(writer, 1.5)
		f8.Put(writer, -2.25)
		flag.Put(writer, true)
		enum.Put(writer, 4)
		data.Put(writer, []byte{1, 2, 3})
		text.Put(writer, "hello")

		buf := append([]byte{0xff, 0xff}, writer.Bytes()...)
		Expect(Tag(buf, 2)).To(BeEquivalentTo(7))
		Expect(i1.Get(buf, 2)).To(BeEquivalentTo(-3))
		Expect(i2.Get(buf, 2)).To(BeEquivalentTo(-300))
		Expect(i4.Get(buf, 2)).To(BeEquivalentTo(1 << 30))
		Expect(i8.Get(buf, 2)).To(BeEquivalentTo(-1 << 40))
		Expect(f4.Get(buf, 2)).To(BeEquivalentTo(1.5))
		Expect(f8.Get(buf, 2)).To(BeEquivalentTo(-2.25))
		Expect(flag.Get(buf, 2)).To(BeTrue())
		Expect(enum.Get(buf, 2)).To(BeEquivalentTo(4))
		Expect(data.Get(buf, 2)).To(Equal([]byte{1, 2, 3}))
		Expect(text.Get(buf, 2)).To(Equal("hello"))
	})

	It("should encode integers big-endian", func() {
		layout := NewLayout()
		field := layout.Int4()
		writer := NewWriter(layout.Size(), 1)
		field.Put(writer, 0x01020304)
		Expect(writer.Bytes()).To(Equal([]byte{1, 1, 2, 3, 4}))
	})

	It("should truncate text on a rune boundary", func() {
		layout := NewLayout()
		field := layout.Text(5)
		writer := NewWriter(layout.Size(), 1)
		field.Put(writer, "abcdé")
		Expect(field.Get(writer.Bytes(), 0)).To(Equal("abcd"))
	})

	It("should clamp corrupt lengths", func() {
		layout := NewLayout()
		field := layout.Bytes(3)
		buf := []byte{1, 0x7f, 0xff, 9, 9, 9}
		Expect(field.Get(buf, 0)).To(HaveLen(3))
		buf[1] = 0xff
		Expect(field.Get(buf, 0)).To(BeEmpty())
	})

	When("a text value overflows", func() {
		var blobs *memoryBlobs
		var field Text
		var writer *Writer

		BeforeEach(func() {
			blobs = &memoryBlobs{next: 12}
			layout := NewLayout()
			field = layout.Text(MessageTextCapacity)
			writer = NewWriter(layout.Size(), 1)
		})

		It("should keep short values inline", func() {
			Expect(field.PutOverflowing(writer, "short", blobs)).To(Succeed())
			Expect(field.Get(writer.Bytes(), 0)).To(Equal("short"))
			Expect(blobs.stored).To(BeEmpty())
		})

		It("should store long values in a blob and keep a preview", func() {
			value := strings.Repeat("x", 300)
			Expect(field.PutOverflowing(writer, value, blobs)).To(Succeed())
			Expect(blobs.stored).To(HaveLen(1))
			Expect(string(blobs.stored[0])).To(Equal(value))

			stored := field.Get(writer.Bytes(), 0)
			Expect(stored).To(HaveLen(MessageTextCapacity))
			id, preview, ok := ParseOverflow(stored)
			Expect(ok).To(BeTrue())
			Expect(id).To(BeEquivalentTo(12))
			Expect(value).To(HavePrefix(preview))
		})
	})

	DescribeTable("parsing overflow markers",
		func(input string, expectedID int32, expectedPreview string, expectedOK bool) {
			id, preview, ok := ParseOverflow(input)
			Expect(ok).To(Equal(expectedOK))
			Expect(id).To(Equal(expectedID))
			Expect(preview).To(Equal(expectedPreview))
		},
		Entry("regular text", "hello", int32(0), "", false),
		Entry("marker", "$$$overflow-42#preview", int32(42), "preview", true),
		Entry("empty preview", "$$$overflow-0#", int32(0), "", true),
		Entry("missing separator", "$$$overflow-42", int32(0), "", false),
		Entry("bad id", "$$$overflow-abc#x", int32(0), "", false),
	)
})

type memoryBlobs struct {
	next   int32
	stored [][]byte
}

func (blobs *memoryBlobs) StoreBlob(data []byte) (int32, error) {
	blobs.stored = append(blobs.stored, data)
	return blobs.next, nil
}
