// writer_test.go
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
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Writer", func() {
	var dir string
	var writer *Writer
	var now time.Time
	var options Options

	BeforeEach(func() {
		dir = path.Join(GinkgoT().TempDir(), "logs")
		now = time.UnixMilli(1_700_000_000_000)
		options = Options{
			MaxLogRecords:     4,
			MaxContextRecords: 3,
			Now: func() time.Time {
				now = now.Add(time.Millisecond)
				return now
			},
		}
	})

	JustBeforeEach(func() {
		var err error
		writer, err = NewWriter(logr.Discard(), dir, "UCloud/Core", 77, options)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(writer.Close)
	})

	It("should announce the generation with a marker file", func() {
		content, err := os.ReadFile(reader.MarkerPath(dir, 77))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("UCloud/Core\n77\n"))

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		for _, entry := range entries {
			Expect(entry.Name()).NotTo(HavePrefix(markerTempPattern))
		}
	})

	It("should write contexts with increasing ids and rotate context files", func() {
		var ids []int32
		for i := 0; i < 5; i++ {
			scope, err := writer.Context(schema.RootContextID, api.BackgroundTaskContext, api.ThisIsNormal, "task")
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, scope.ID)
		}
		Expect(ids).To(Equal([]int32{2, 3, 4, 5, 6}))

		index, ok := reader.LatestContextIndex(dir, 77)
		Expect(ok).To(BeTrue())
		Expect(index).To(Equal(2))

		contextReader, err := reader.OpenContext(dir, 77, 2)
		Expect(err).NotTo(HaveOccurred())
		defer contextReader.Close()
		Expect(contextReader.Next()).To(BeTrue())
		descriptor, ok := contextReader.Retrieve()
		Expect(ok).To(BeTrue())
		Expect(descriptor.ID).To(BeEquivalentTo(5))
		Expect(descriptor.Parent).To(BeEquivalentTo(schema.RootContextID))
		Expect(descriptor.Type).To(Equal(api.BackgroundTaskContext))
		Expect(contextReader.Next()).To(BeTrue())
		Expect(contextReader.Next()).To(BeFalse())
	})

	It("should write log records into the scope of a context", func() {
		scope, err := writer.Context(schema.RootContextID, api.ClientRequestContext, api.ThisIsNormal, "request")
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Log(scope, api.ThisIsWrong, "failed", "details")).To(Succeed())

		logReader, err := reader.OpenLog(dir, 77, 0)
		Expect(err).NotTo(HaveOccurred())
		defer logReader.Close()
		Expect(logReader.Next()).To(BeTrue())
		message, ok := logReader.Retrieve()
		Expect(ok).To(BeTrue())
		Expect(message.Type).To(Equal(api.LogMessage))
		Expect(message.CtxID).To(Equal(scope.ID))
		Expect(message.CtxParent).To(BeEquivalentTo(schema.RootContextID))
		Expect(message.CtxGeneration).To(BeEquivalentTo(77))
		Expect(message.Importance).To(Equal(api.ThisIsWrong))
		Expect(schema.LogFields.Message.Get(message.Raw(), 0)).To(Equal("failed"))
		Expect(schema.LogFields.Extra.Get(message.Raw(), 0)).To(Equal("details"))
	})

	It("should spill long text into the blob file of the current log file", func() {
		long := strings.Repeat("0123456789", 30)
		Expect(writer.Log(RootScope, api.ThisIsNormal, "short", long)).To(Succeed())

		logReader, err := reader.OpenLog(dir, 77, 0)
		Expect(err).NotTo(HaveOccurred())
		defer logReader.Close()
		Expect(logReader.Next()).To(BeTrue())
		message, _ := logReader.Retrieve()

		id, preview, ok := schema.ParseOverflow(schema.LogFields.Extra.Get(message.Raw(), 0))
		Expect(ok).To(BeTrue())
		Expect(long).To(HavePrefix(preview))

		payload, err := reader.ReadBlob(dir, 77, 0, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(payload)).To(Equal(long))
	})

	It("should rotate log and blob files together", func() {
		for i := 0; i < 5; i++ {
			Expect(writer.Log(RootScope, api.ThisIsNormal, "message", "")).To(Succeed())
		}
		Expect(reader.LogExists(dir, 77, 1)).To(BeTrue())
		Expect(reader.BlobExists(dir, 77, 1)).To(BeTrue())

		logReader, err := reader.OpenLog(dir, 77, 0)
		Expect(err).NotTo(HaveOccurred())
		defer logReader.Close()
		Expect(logReader.SeekToEnd()).To(Succeed())
		Expect(logReader.Position()).To(BeEquivalentTo(3))
	})

	It("should refuse writes after Close", func() {
		Expect(writer.Close()).To(Succeed())
		Expect(writer.Log(RootScope, api.ThisIsNormal, "late", "")).To(MatchError(ErrClosed))
		_, err := writer.Context(schema.RootContextID, api.OtherContext, api.ThisIsNormal, "late")
		Expect(err).To(MatchError(ErrClosed))
	})

	When("the file sizes are invalid", func() {
		It("should fail", func() {
			_, err := NewWriter(logr.Discard(), dir, "bad", 1, Options{})
			Expect(err).To(HaveOccurred())
		})
	})

	When("generating sample data", func() {
		BeforeEach(func() {
			options = DefaultOptions()
		})

		It("should write a causally ordered tree until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			Expect(Generate(ctx, writer, time.Millisecond)).To(Succeed())

			contextReader, err := reader.OpenContext(dir, 77, 1)
			Expect(err).NotTo(HaveOccurred())
			defer contextReader.Close()

			seen := map[int32]bool{schema.RootContextID: true}
			for contextReader.Next() {
				descriptor, ok := contextReader.Retrieve()
				Expect(ok).To(BeTrue())
				Expect(seen).To(HaveKey(descriptor.Parent))
				seen[descriptor.ID] = true
			}
			Expect(len(seen)).To(BeNumerically(">", 1))
		})
	})
})
