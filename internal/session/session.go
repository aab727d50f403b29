// session.go
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
	"strings"
	"sync"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/pointer"
)

// Sender transmits a single binary frame to the client.
type Sender interface {
	SendBinary(frame []byte) error
}

// ServiceLookup resolves the current generation of a service.
type ServiceLookup interface {
	Generation(title string) (int64, bool)
}

// Observer is notified about buffer activity.
type Observer interface {
	RecordDropped(buffer string)
	FrameSent(buffer string)
}

type nopObserver struct{}

func (nopObserver) RecordDropped(string) {}
func (nopObserver) FrameSent(string)     {}

// ClientSession holds the filter state and outgoing buffers of one client
// connection. The filter state and buffers are guarded by one mutex which is
// only held for in-memory work. Frames are sent under a second mutex so a slow
// client never blocks producers appending records.
type ClientSession struct {
	// ID identifies the session in logs.
	ID uuid.UUID

	logger   logr.Logger
	sender   Sender
	services ServiceLookup
	observer Observer

	mutex          sync.Mutex
	activeService  *string
	generation     *int64
	activeContexts ContextSet
	minimumLevel   api.MessageImportance
	filterQuery    *string
	filters        []api.ContextType

	serviceBuffer *frameBuffer
	contextBuffer *frameBuffer
	logBuffer     *frameBuffer

	sendMutex sync.Mutex
}

// New creates a session showing the root view at the default level. observer
// may be nil.
func New(logger logr.Logger, sender Sender, services ServiceLookup, observer Observer) *ClientSession {
	if observer == nil {
		observer = nopObserver{}
	}
	id := uuid.New()
	return &ClientSession{
		ID:             id,
		logger:         logger.WithValues("session", id.String()),
		sender:         sender,
		services:       services,
		observer:       observer,
		activeContexts: RootContexts(),
		minimumLevel:   api.ThisIsNormal,
		serviceBuffer:  newFrameBuffer(ServiceBuffer, ServiceOpcode, ServiceBufferSize),
		contextBuffer:  newFrameBuffer(ContextBuffer, ContextOpcode, ContextBufferSize),
		logBuffer:      newFrameBuffer(LogBuffer, LogOpcode, LogBufferSize),
	}
}

// Logger returns the logger of the session.
func (session *ClientSession) Logger() logr.Logger {
	return session.logger
}

// ActivateService selects the service and generation shown to the client and
// resets the view to the root context. Either may be nil.
func (session *ClientSession) ActivateService(service *string, generation *int64) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.activeService = service
	session.generation = generation
	session.activeContexts = RootContexts()
}

// ActiveService returns the selected service title, empty if none is selected.
func (session *ClientSession) ActiveService() string {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return pointer.StringDeref(session.activeService, "")
}

// Generation returns the generation selected by the client.
func (session *ClientSession) Generation() (int64, bool) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.generation == nil {
		return 0, false
	}
	return *session.generation, true
}

// SetFilters replaces the free-text query, the context type allow-list and the
// minimum importance. A nil query or nil filters disable that filter.
func (session *ClientSession) SetFilters(query *string, filters []api.ContextType, level api.MessageImportance) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.filterQuery = query
	session.filters = filters
	session.minimumLevel = level
}

// MinimumLevel returns the minimum importance of delivered records.
func (session *ClientSession) MinimumLevel() api.MessageImportance {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.minimumLevel
}

// SetActiveContexts replaces the contexts in scope of the session.
func (session *ClientSession) SetActiveContexts(contexts ContextSet) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.activeContexts = contexts.Clone()
}

// ActiveContexts returns a copy of the contexts in scope of the session.
func (session *ClientSession) ActiveContexts() ContextSet {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.activeContexts.Clone()
}

// AcceptService queues a service record. Titles of 240 bytes or more and
// generations of 16 digits or more are skipped.
func (session *ClientSession) AcceptService(title string, generation int64) {
	record, ok := encodeService(title, generation)
	if !ok {
		session.logger.V(1).Info("Skipping service which does not fit a record", "title", title, "generation", generation)
		return
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.appendLocked(session.serviceBuffer, record)
}

// AcceptContext queues a context record of generation if it passes the
// session filters. The parent must be a member of contexts.
func (session *ClientSession) AcceptContext(generation int64, descriptor *schema.ContextDescriptor, contexts ContextSet) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.acceptContextLocked(generation, descriptor, contexts)
}

// AcceptLiveContext queues a context record if its parent is in the active
// contexts of the session.
func (session *ClientSession) AcceptLiveContext(generation int64, descriptor *schema.ContextDescriptor) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.acceptContextLocked(generation, descriptor, session.activeContexts)
}

func (session *ClientSession) acceptContextLocked(generation int64, descriptor *schema.ContextDescriptor, contexts ContextSet) {
	reason := session.skipContextLocked(generation, descriptor, contexts)
	if reason != "" {
		session.logger.V(1).Info("Skipping context", "reason", reason, "id", descriptor.ID, "parent", descriptor.Parent, "generation", generation)
		return
	}
	session.appendLocked(session.contextBuffer, descriptor.Raw())
}

// skipContextLocked returns why a context is not delivered, empty if it is.
func (session *ClientSession) skipContextLocked(generation int64, descriptor *schema.ContextDescriptor, contexts ContextSet) string {
	if session.activeService == nil {
		return "no active service"
	}

	current, ok := session.services.Generation(*session.activeService)
	if !ok || current != generation {
		return "generation is not tracked"
	}

	if !contexts.Contains(int64(descriptor.Parent)) {
		return "parent is not active"
	}

	if descriptor.Importance < session.minimumLevel {
		return "below minimum level"
	}

	if session.activeContexts.IsRootOnly() && !descriptor.IsRoot() {
		return "not a root context"
	}

	if session.filterQuery != nil && descriptor.IsRoot() {
		if !strings.Contains(strings.ToLower(descriptor.Name), strings.ToLower(*session.filterQuery)) {
			return "name does not match query"
		}
	}

	if session.filters != nil && !containsType(session.filters, descriptor.Type) {
		return "type is filtered"
	}

	return ""
}

func containsType(filters []api.ContextType, contextType api.ContextType) bool {
	for _, filter := range filters {
		if filter == contextType {
			return true
		}
	}
	return false
}

// AcceptLog queues a log record if it passes the session filters and belongs
// to one of contexts.
func (session *ClientSession) AcceptLog(message *schema.LogMessage, contexts ContextSet) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.acceptLogLocked(message, contexts)
}

// AcceptLiveLog queues a log record if it belongs to the active contexts of
// the session.
func (session *ClientSession) AcceptLiveLog(message *schema.LogMessage) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.acceptLogLocked(message, session.activeContexts)
}

func (session *ClientSession) acceptLogLocked(message *schema.LogMessage, contexts ContextSet) {
	if session.activeService == nil {
		return
	}
	if message.Importance < session.minimumLevel {
		return
	}
	current, ok := session.services.Generation(*session.activeService)
	if !ok || current != message.CtxGeneration {
		return
	}
	if !contexts.Contains(int64(message.CtxID)) {
		return
	}
	session.appendLocked(session.logBuffer, message.Raw())
}

func (session *ClientSession) appendLocked(buffer *frameBuffer, record []byte) {
	if !buffer.append(record) {
		session.observer.RecordDropped(buffer.name)
	}
}

func (session *ClientSession) flush(buffer *frameBuffer) error {
	session.sendMutex.Lock()
	defer session.sendMutex.Unlock()

	session.mutex.Lock()
	frame := buffer.take()
	session.mutex.Unlock()

	if frame == nil {
		return nil
	}

	err := session.sender.SendBinary(frame)
	if err != nil {
		return err
	}
	session.observer.FrameSent(buffer.name)
	return nil
}

// FlushServices sends the pending service records as one frame.
func (session *ClientSession) FlushServices() error {
	return session.flush(session.serviceBuffer)
}

// FlushContexts sends the pending context records as one frame.
func (session *ClientSession) FlushContexts() error {
	return session.flush(session.contextBuffer)
}

// FlushLogs sends the pending log records as one frame.
func (session *ClientSession) FlushLogs() error {
	return session.flush(session.logBuffer)
}

// Flush sends every buffer holding records, services first.
func (session *ClientSession) Flush() error {
	err := session.FlushServices()
	if err != nil {
		return err
	}
	err = session.FlushContexts()
	if err != nil {
		return err
	}
	return session.FlushLogs()
}

// ClearServices drops all pending service records.
func (session *ClientSession) ClearServices() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.serviceBuffer.reset()
}

// ClearContexts drops all pending context records.
func (session *ClientSession) ClearContexts() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.contextBuffer.reset()
}

// ClearLogs drops all pending log records.
func (session *ClientSession) ClearLogs() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.logBuffer.reset()
}

// SendBlob sends a blob payload immediately, bypassing the buffers.
func (session *ClientSession) SendBlob(id int32, payload []byte) error {
	session.sendMutex.Lock()
	defer session.sendMutex.Unlock()
	err := session.sender.SendBinary(blobFrame(id, payload))
	if err != nil {
		return err
	}
	session.observer.FrameSent(BlobBuffer)
	return nil
}
