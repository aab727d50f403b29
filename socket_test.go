// socket_test.go
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
	"path"
	"strings"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/producer"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/session"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// blockingSender holds every frame until release is closed.
type blockingSender struct {
	entered  chan struct{}
	release  chan struct{}
	recorded *recordingSender
}

func newBlockingSender() *blockingSender {
	return &blockingSender{
		entered:  make(chan struct{}, 16),
		release:  make(chan struct{}),
		recorded: &recordingSender{},
	}
}

func (sender *blockingSender) SendBinary(frame []byte) error {
	sender.entered <- struct{}{}
	<-sender.release
	return sender.recorded.SendBinary(frame)
}

var _ = Describe("Handling requests", func() {
	var dir string
	var generation int64
	var writer *producer.Writer
	var task producer.Scope
	var debugger *Debugger
	title := serviceTitle

	newSession := func(sender session.Sender) *session.ClientSession {
		clientSession := session.New(logr.Discard(), sender, debugger.tracker, debugger.metrics)
		clientSession.ActivateService(&title, &generation)
		debugger.registry.Add(clientSession)
		return clientSession
	}

	BeforeEach(func() {
		dir = path.Join(GinkgoT().TempDir(), "traces")
		generation = time.Now().UnixMilli()

		var err error
		writer, err = producer.NewWriter(logr.Discard(), dir, serviceTitle, generation, producer.Options{MaxLogRecords: 16, MaxContextRecords: 16})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(writer.Close)

		task, err = writer.Context(schema.RootContextID, api.BackgroundTaskContext, api.ThisIsNormal, "Zipping files")
		Expect(err).NotTo(HaveOccurred())

		opts, _, err := loadOptions([]string{dir})
		Expect(err).NotTo(HaveOccurred())
		debugger = NewDebugger(logr.Discard(), dir, opts, prometheus.NewRegistry())
		_, err = debugger.tracker.Poll()
		Expect(err).NotTo(HaveOccurred())
	})

	When("a client is slow to receive a query result", func() {
		It("should not hold the registry while sending", func() {
			sender := newBlockingSender()
			clientSession := newSession(sender)

			done := make(chan error, 1)
			go func() {
				done <- debugger.clearActiveContext(clientSession)
			}()
			Eventually(sender.entered).WithTimeout(5 * time.Second).Should(Receive())

			iterated := make(chan struct{})
			go func() {
				debugger.registry.ForEach(func(*session.ClientSession) {})
				close(iterated)
			}()
			Eventually(iterated).WithTimeout(time.Second).Should(BeClosed())
			Expect(done).NotTo(Receive())

			close(sender.release)
			Eventually(done).Should(Receive(BeNil()))

			frames := sender.recorded.framesWith(session.ContextOpcode)
			Expect(frames).To(HaveLen(1))
			ids := make([]int32, 0, 1)
			for _, descriptor := range decodeContexts(frames[0]) {
				ids = append(ids, descriptor.ID)
			}
			Expect(ids).To(ConsistOf(task.ID))
		})
	})

	When("the rate limit of a session is exhausted", func() {
		var limiter *rate.Limiter
		var ctx context.Context
		var clientSession *session.ClientSession

		BeforeEach(func() {
			limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
			Expect(limiter.Allow()).To(BeTrue())

			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(context.Background())
			cancel()
			clientSession = newSession(&recordingSender{})
		})

		It("should reject scan requests", func() {
			Expect(debugger.handleRequest(ctx, limiter, clientSession, api.ClearActiveContextRequest{})).To(MatchError(context.Canceled))
			Expect(debugger.handleRequest(ctx, limiter, clientSession, api.ReplayMessagesRequest{Generation: api.LenientInt(generation), Context: int64(task.ID)})).To(MatchError(context.Canceled))
			Expect(debugger.handleRequest(ctx, limiter, clientSession, api.FetchPreviousMessagesRequest{ID: task.ID})).To(MatchError(context.Canceled))
		})

		It("should still serve session state changes and blob fetches", func() {
			Expect(debugger.handleRequest(ctx, limiter, clientSession, api.SetSessionStateRequest{})).To(Succeed())

			Expect(writer.Log(task, api.ThisIsNormal, "Zipping 2 files", strings.Repeat("0123456789", 50))).To(Succeed())
			logReader, err := reader.OpenLog(dir, generation, reader.FirstLogIndex)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(logReader.Close)
			Expect(logReader.Next()).To(BeTrue())
			message, ok := logReader.Retrieve()
			Expect(ok).To(BeTrue())
			id, _, ok := schema.ParseOverflow(schema.LogFields.Extra.Get(message.Raw(), 0))
			Expect(ok).To(BeTrue())

			request := api.FetchTextBlobRequest{ID: api.LenientInt(id), FileIndex: api.LenientInt(reader.FirstLogIndex), Generation: api.LenientInt(generation)}
			Expect(debugger.handleRequest(ctx, limiter, clientSession, request)).To(Succeed())
		})
	})
})
