// registry.go
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
	"sync"
)

// Registry is the set of connected sessions. One mutex covers membership and
// iteration, so producers iterating the registry never see a session which was
// already removed.
type Registry struct {
	mutex    sync.Mutex
	sessions []*ClientSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers session and returns the new number of sessions.
func (registry *Registry) Add(session *ClientSession) int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.sessions = append(registry.sessions, session)
	return len(registry.sessions)
}

// Remove unregisters session and returns the new number of sessions.
func (registry *Registry) Remove(session *ClientSession) int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for index, candidate := range registry.sessions {
		if candidate == session {
			registry.sessions = append(registry.sessions[:index], registry.sessions[index+1:]...)
			break
		}
	}
	return len(registry.sessions)
}

// ForEach calls fn for every session while holding the registry lock. fn must
// not call back into the registry.
func (registry *Registry) ForEach(fn func(*ClientSession)) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for _, session := range registry.sessions {
		fn(session)
	}
}

// Exclusive runs fn while no other goroutine can iterate the registry. It is
// used for historical queries which must not interleave with live records.
func (registry *Registry) Exclusive(fn func()) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	fn()
}

// Sessions returns a copy of the registered sessions.
func (registry *Registry) Sessions() []*ClientSession {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	sessions := make([]*ClientSession, len(registry.sessions))
	copy(sessions, registry.sessions)
	return sessions
}

// Len returns the number of registered sessions.
func (registry *Registry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.sessions)
}
