// contexts.go
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
	"sort"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
)

// ContextSet is a set of context ids.
type ContextSet map[int64]struct{}

// NewContextSet returns a set holding ids.
func NewContextSet(ids ...int64) ContextSet {
	set := make(ContextSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// RootContexts returns the set used for the root view.
func RootContexts() ContextSet {
	return NewContextSet(schema.RootContextID)
}

// Add inserts id.
func (set ContextSet) Add(id int64) {
	set[id] = struct{}{}
}

// Contains reports whether id is a member.
func (set ContextSet) Contains(id int64) bool {
	_, ok := set[id]
	return ok
}

// IsRootOnly reports whether the set holds nothing but the root context.
func (set ContextSet) IsRootOnly() bool {
	return len(set) == 1 && set.Contains(schema.RootContextID)
}

// Clone returns an independent copy.
func (set ContextSet) Clone() ContextSet {
	clone := make(ContextSet, len(set))
	for id := range set {
		clone[id] = struct{}{}
	}
	return clone
}

// Sorted returns the ids in ascending order.
func (set ContextSet) Sorted() []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
