// importance.go
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
	"fmt"
)

// MessageImportance is the ordinal severity attached to contexts and log
// messages. The numeric value is the ordinal stored in the binary records, so
// the order of the constants must never change.
type MessageImportance uint8

const (
	// TellMeEverything is the most verbose importance.
	TellMeEverything MessageImportance = iota
	// ImplementationDetail marks messages that are only useful when debugging
	// the service itself.
	ImplementationDetail
	// ThisIsNormal is the default importance and the default minimum level of
	// a session.
	ThisIsNormal
	// ThisIsOdd marks unexpected but non-fatal behavior.
	ThisIsOdd
	// ThisIsWrong marks errors.
	ThisIsWrong
	// ThisIsDangerous marks errors which put the service at risk.
	ThisIsDangerous
)

var importanceNames = []string{
	"TELL_ME_EVERYTHING",
	"IMPLEMENTATION_DETAIL",
	"THIS_IS_NORMAL",
	"THIS_IS_ODD",
	"THIS_IS_WRONG",
	"THIS_IS_DANGEROUS",
}

// String gets the wire name of the importance.
func (importance MessageImportance) String() string {
	if int(importance) < len(importanceNames) {
		return importanceNames[importance]
	}
	return fmt.Sprintf("MessageImportance(%d)", uint8(importance))
}

// MarshalText implements encoding.TextMarshaler.
func (importance MessageImportance) MarshalText() ([]byte, error) {
	if int(importance) >= len(importanceNames) {
		return nil, fmt.Errorf("unknown message importance %d", uint8(importance))
	}
	return []byte(importanceNames[importance]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (importance *MessageImportance) UnmarshalText(data []byte) error {
	parsed, err := ParseMessageImportance(string(data))
	if err != nil {
		return err
	}
	*importance = parsed
	return nil
}

// ParseMessageImportance parses an importance from its wire name.
func ParseMessageImportance(name string) (MessageImportance, error) {
	for idx, candidate := range importanceNames {
		if candidate == name {
			return MessageImportance(idx), nil
		}
	}
	return 0, fmt.Errorf("could not parse message importance from %q", name)
}

// ContextType classifies a context (span).
type ContextType uint8

const (
	// ClientRequestContext is an outgoing call made by the service.
	ClientRequestContext ContextType = iota
	// ServerRequestContext is an incoming call handled by the service.
	ServerRequestContext
	// DatabaseTransactionContext wraps a database transaction.
	DatabaseTransactionContext
	// BackgroundTaskContext is work not tied to a request.
	BackgroundTaskContext
	// OtherContext is everything else.
	OtherContext
)

var contextTypeNames = []string{
	"CLIENT_REQUEST",
	"SERVER_REQUEST",
	"DATABASE_TRANSACTION",
	"BACKGROUND_TASK",
	"OTHER",
}

// String gets the wire name of the context type.
func (contextType ContextType) String() string {
	if int(contextType) < len(contextTypeNames) {
		return contextTypeNames[contextType]
	}
	return fmt.Sprintf("ContextType(%d)", uint8(contextType))
}

// MarshalText implements encoding.TextMarshaler.
func (contextType ContextType) MarshalText() ([]byte, error) {
	if int(contextType) >= len(contextTypeNames) {
		return nil, fmt.Errorf("unknown context type %d", uint8(contextType))
	}
	return []byte(contextTypeNames[contextType]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (contextType *ContextType) UnmarshalText(data []byte) error {
	for idx, candidate := range contextTypeNames {
		if candidate == string(data) {
			*contextType = ContextType(idx)
			return nil
		}
	}
	return fmt.Errorf("could not parse context type from %q", string(data))
}

// LogMessageType is the leading type byte of a log record. Zero is reserved
// for records which have not been written yet.
type LogMessageType uint8

const (
	ClientRequestMessage LogMessageType = iota + 1
	ClientResponseMessage
	ServerRequestMessage
	ServerResponseMessage
	DatabaseConnectionMessage
	DatabaseTransactionMessage
	DatabaseQueryMessage
	DatabaseResponseMessage
	LogMessage
)

// DatabaseTransactionEvent is the payload of a DatabaseTransactionMessage.
type DatabaseTransactionEvent uint8

const (
	TransactionOpen DatabaseTransactionEvent = iota
	TransactionCommit
	TransactionRollback
)
