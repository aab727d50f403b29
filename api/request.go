// request.go
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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"k8s.io/utils/pointer"
)

// RequestType is the discriminator of an inbound client request.
type RequestType string

const (
	// ReplayMessagesRequestType replays the subtree of a context over a
	// fixed window starting at a timestamp.
	ReplayMessagesRequestType RequestType = "replay_messages"

	// ActivateServiceRequestType switches the service and generation a
	// session is looking at.
	ActivateServiceRequestType RequestType = "activate_service"

	// SetSessionStateRequestType updates the session filters.
	SetSessionStateRequestType RequestType = "set_session_state"

	// ClearActiveContextRequestType returns the session to the root view.
	ClearActiveContextRequestType RequestType = "clear_active_context"

	// FetchTextBlobRequestType fetches an overflowed text payload.
	FetchTextBlobRequestType RequestType = "fetch_text_blob"

	// FetchPreviousMessagesRequestType walks backwards from a context to find
	// the root contexts which precede it.
	FetchPreviousMessagesRequestType RequestType = "fetch_previous_messages"
)

// ClientRequest is a single message sent by a debugger client. The dynamic
// type is always one of the *Request types of this package.
type ClientRequest interface {
	Type() RequestType
}

// LenientInt is an integer which clients may send either as a JSON number or
// as a decimal string. Generations are sent as strings by the web client
// since they do not fit in a JavaScript number.
type LenientInt int64

// UnmarshalJSON custom implementation of UnmarshalJSON
func (value *LenientInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.Trim(data, "\"")
	parsed, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return fmt.Errorf("could not parse integer from %s: %w", string(data), err)
	}
	*value = LenientInt(parsed)
	return nil
}

// ReplayMessagesRequest models replay_messages.
type ReplayMessagesRequest struct {
	Generation LenientInt `json:"generation"`
	Context    int64      `json:"context"`
	Timestamp  int64      `json:"timestamp"`
}

// ActivateServiceRequest models activate_service. Both fields may be null to
// deactivate the current service.
type ActivateServiceRequest struct {
	Service    *string     `json:"service"`
	Generation *LenientInt `json:"generation"`
}

// SetSessionStateRequest models set_session_state. A nil Query or Filters
// disables that filter. A nil Level resets the minimum level to ThisIsNormal.
type SetSessionStateRequest struct {
	Query   *string            `json:"query"`
	Filters []ContextType      `json:"filters"`
	Level   *MessageImportance `json:"level"`
}

// ClearActiveContextRequest models clear_active_context.
type ClearActiveContextRequest struct{}

// FetchTextBlobRequest models fetch_text_blob.
type FetchTextBlobRequest struct {
	ID         LenientInt `json:"id"`
	FileIndex  LenientInt `json:"fileIndex"`
	Generation LenientInt `json:"generation"`
}

// FetchPreviousMessagesRequest models fetch_previous_messages.
type FetchPreviousMessagesRequest struct {
	Timestamp    int64 `json:"timestamp"`
	ID           int32 `json:"id"`
	OnlyFindSelf *bool `json:"onlyFindSelf"`
}

func (ReplayMessagesRequest) Type() RequestType        { return ReplayMessagesRequestType }
func (ActivateServiceRequest) Type() RequestType       { return ActivateServiceRequestType }
func (SetSessionStateRequest) Type() RequestType       { return SetSessionStateRequestType }
func (ClearActiveContextRequest) Type() RequestType    { return ClearActiveContextRequestType }
func (FetchTextBlobRequest) Type() RequestType         { return FetchTextBlobRequestType }
func (FetchPreviousMessagesRequest) Type() RequestType { return FetchPreviousMessagesRequestType }

// ServiceName returns the requested service or "" if none was requested.
func (request ActivateServiceRequest) ServiceName() string {
	return pointer.StringDeref(request.Service, "")
}

// GenerationValue returns the requested generation, if any.
func (request ActivateServiceRequest) GenerationValue() (int64, bool) {
	if request.Generation == nil {
		return 0, false
	}
	return int64(*request.Generation), true
}

// MinimumLevel returns the requested level or the default level.
func (request SetSessionStateRequest) MinimumLevel() MessageImportance {
	if request.Level == nil {
		return ThisIsNormal
	}
	return *request.Level
}

// FindSelfOnly reports whether only the referenced context should be emitted.
func (request FetchPreviousMessagesRequest) FindSelfOnly() bool {
	return pointer.BoolDeref(request.OnlyFindSelf, false)
}

type requestEnvelope struct {
	Type RequestType `json:"type"`
}

// DecodeClientRequest decodes a tagged client request. Unknown fields are
// ignored, an unknown or missing type is an error.
func DecodeClientRequest(data []byte) (ClientRequest, error) {
	envelope := requestEnvelope{}
	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return nil, err
	}

	var request ClientRequest
	switch envelope.Type {
	case ReplayMessagesRequestType:
		replay := ReplayMessagesRequest{}
		err = json.Unmarshal(data, &replay)
		request = replay
	case ActivateServiceRequestType:
		activate := ActivateServiceRequest{}
		err = json.Unmarshal(data, &activate)
		request = activate
	case SetSessionStateRequestType:
		state := SetSessionStateRequest{}
		err = json.Unmarshal(data, &state)
		request = state
	case ClearActiveContextRequestType:
		request = ClearActiveContextRequest{}
	case FetchTextBlobRequestType:
		blob := FetchTextBlobRequest{}
		err = json.Unmarshal(data, &blob)
		request = blob
	case FetchPreviousMessagesRequestType:
		previous := FetchPreviousMessagesRequest{}
		err = json.Unmarshal(data, &previous)
		request = previous
	default:
		return nil, fmt.Errorf("unsupported request type %q", envelope.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("could not decode %s request: %w", envelope.Type, err)
	}

	return request, nil
}
