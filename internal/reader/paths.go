// paths.go
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

package reader

import (
	"fmt"
	"os"
	"path"
)

const (
	// FirstLogIndex is the index of the first log file of a generation.
	FirstLogIndex = 0
	// FirstContextIndex is the index of the first context file of a generation.
	FirstContextIndex = 1
	// ContextHeaderSize is the number of bytes before the first context record.
	ContextHeaderSize = 4096
	// MarkerSuffix is the file extension of service marker files.
	MarkerSuffix = ".service"
)

// LogPath returns the path of a log file.
func LogPath(dir string, generation int64, index int) string {
	return path.Join(dir, fmt.Sprintf("%d-%d.log", generation, index))
}

// ContextPath returns the path of a context file.
func ContextPath(dir string, generation int64, index int) string {
	return path.Join(dir, fmt.Sprintf("%d-%d.ctx", generation, index))
}

// BlobPath returns the path of the blob file belonging to the log file with the same index.
func BlobPath(dir string, generation int64, index int) string {
	return path.Join(dir, fmt.Sprintf("%d-%d.blob", generation, index))
}

// MarkerPath returns the path of the marker file announcing a generation.
func MarkerPath(dir string, generation int64) string {
	return path.Join(dir, fmt.Sprintf("%d%s", generation, MarkerSuffix))
}

func exists(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

// LogExists reports whether the log file is present.
func LogExists(dir string, generation int64, index int) bool {
	return exists(LogPath(dir, generation, index))
}

// ContextExists reports whether the context file is present.
func ContextExists(dir string, generation int64, index int) bool {
	return exists(ContextPath(dir, generation, index))
}

// BlobExists reports whether the blob file is present.
func BlobExists(dir string, generation int64, index int) bool {
	return exists(BlobPath(dir, generation, index))
}

// LatestLogIndex returns the highest log file index of a generation. It
// returns false if the generation has no log files yet.
func LatestLogIndex(dir string, generation int64) (int, bool) {
	return latestIndex(FirstLogIndex, func(index int) bool { return LogExists(dir, generation, index) })
}

// LatestContextIndex returns the highest context file index of a generation.
// It returns false if the generation has no context files yet.
func LatestContextIndex(dir string, generation int64) (int, bool) {
	return latestIndex(FirstContextIndex, func(index int) bool { return ContextExists(dir, generation, index) })
}

func latestIndex(first int, exists func(int) bool) (int, bool) {
	index := first
	for exists(index) {
		index++
	}
	if index == first {
		return 0, false
	}
	return index - 1, true
}
