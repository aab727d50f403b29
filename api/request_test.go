// request_test.go
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

package api

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("[api] ClientRequest", func() {
	When("decoding a replay_messages request", func() {
		It("should accept the generation as a string", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"replay_messages","generation":"1700000000000","context":42,"timestamp":1000}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(request).To(Equal(ReplayMessagesRequest{Generation: 1700000000000, Context: 42, Timestamp: 1000}))
			Expect(request.Type()).To(Equal(ReplayMessagesRequestType))
		})

		It("should accept the generation as a number", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"replay_messages","generation":5,"context":1,"timestamp":0}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(request.(ReplayMessagesRequest).Generation).To(BeEquivalentTo(5))
		})
	})

	When("decoding an activate_service request", func() {
		It("should expose the optional fields", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"activate_service","service":"UCloud/Core","generation":"7"}`))
			Expect(err).NotTo(HaveOccurred())
			activate := request.(ActivateServiceRequest)
			Expect(activate.ServiceName()).To(Equal("UCloud/Core"))
			generation, ok := activate.GenerationValue()
			Expect(ok).To(BeTrue())
			Expect(generation).To(BeEquivalentTo(7))
		})

		It("should allow null fields", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"activate_service","service":null,"generation":null}`))
			Expect(err).NotTo(HaveOccurred())
			activate := request.(ActivateServiceRequest)
			Expect(activate.ServiceName()).To(BeEmpty())
			_, ok := activate.GenerationValue()
			Expect(ok).To(BeFalse())
		})
	})

	When("decoding a set_session_state request", func() {
		It("should parse the filters and the level", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"set_session_state","query":"zip","filters":["BACKGROUND_TASK","SERVER_REQUEST"],"level":"THIS_IS_WRONG"}`))
			Expect(err).NotTo(HaveOccurred())
			state := request.(SetSessionStateRequest)
			Expect(*state.Query).To(Equal("zip"))
			Expect(state.Filters).To(HaveExactElements(BackgroundTaskContext, ServerRequestContext))
			Expect(state.MinimumLevel()).To(Equal(ThisIsWrong))
		})

		It("should default the level and keep the filters disabled", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"set_session_state","query":null,"filters":null,"level":null}`))
			Expect(err).NotTo(HaveOccurred())
			state := request.(SetSessionStateRequest)
			Expect(state.Query).To(BeNil())
			Expect(state.Filters).To(BeNil())
			Expect(state.MinimumLevel()).To(Equal(ThisIsNormal))
		})

		It("should distinguish an empty filter list from a missing one", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"set_session_state","filters":[]}`))
			Expect(err).NotTo(HaveOccurred())
			state := request.(SetSessionStateRequest)
			Expect(state.Filters).NotTo(BeNil())
			Expect(state.Filters).To(BeEmpty())
		})
	})

	When("decoding the remaining request types", func() {
		It("should decode clear_active_context", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"clear_active_context"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(request).To(Equal(ClearActiveContextRequest{}))
		})

		It("should decode fetch_text_blob", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"fetch_text_blob","id":"128","fileIndex":"2","generation":"99"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(request).To(Equal(FetchTextBlobRequest{ID: 128, FileIndex: 2, Generation: 99}))
		})

		It("should decode fetch_previous_messages", func() {
			request, err := DecodeClientRequest([]byte(`{"type":"fetch_previous_messages","timestamp":55,"id":12,"onlyFindSelf":true}`))
			Expect(err).NotTo(HaveOccurred())
			previous := request.(FetchPreviousMessagesRequest)
			Expect(previous.Timestamp).To(BeEquivalentTo(55))
			Expect(previous.ID).To(BeEquivalentTo(12))
			Expect(previous.FindSelfOnly()).To(BeTrue())
		})
	})

	DescribeTable("rejecting malformed requests",
		func(payload string) {
			request, err := DecodeClientRequest([]byte(payload))
			Expect(err).To(HaveOccurred())
			Expect(request).To(BeNil())
		},
		Entry("not JSON", `replay please`),
		Entry("no type", `{"generation":"1"}`),
		Entry("unknown type", `{"type":"drop_tables"}`),
		Entry("bad generation", `{"type":"replay_messages","generation":"abc","context":1,"timestamp":1}`),
		Entry("bad level", `{"type":"set_session_state","level":"LOUD"}`),
		Entry("bad filter", `{"type":"set_session_state","filters":["NOPE"]}`),
	)
})

var _ = Describe("[api] MessageImportance", func() {
	It("should keep the wire ordinals stable", func() {
		Expect(uint8(TellMeEverything)).To(BeEquivalentTo(0))
		Expect(uint8(ThisIsNormal)).To(BeEquivalentTo(2))
		Expect(uint8(ThisIsDangerous)).To(BeEquivalentTo(5))
		Expect(ThisIsOdd > ThisIsNormal).To(BeTrue())
	})

	It("should marshal to its wire name", func() {
		data, err := json.Marshal(ThisIsOdd)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"THIS_IS_ODD"`))

		var parsed MessageImportance
		Expect(json.Unmarshal(data, &parsed)).To(Succeed())
		Expect(parsed).To(Equal(ThisIsOdd))
	})

	It("should name unknown ordinals without failing", func() {
		Expect(MessageImportance(200).String()).To(Equal("MessageImportance(200)"))
		_, err := MessageImportance(200).MarshalText()
		Expect(err).To(HaveOccurred())
	})

	It("should name context types", func() {
		Expect(DatabaseTransactionContext.String()).To(Equal("DATABASE_TRANSACTION"))
		Expect(ContextType(9).String()).To(Equal("ContextType(9)"))
	})
})
