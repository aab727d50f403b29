// overflow.go
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
	"strconv"
	"strings"
)

const (
	// OverflowPrefix starts a text value whose full content lives in a blob.
	OverflowPrefix = "$$$overflow-"
	// OverflowSeparator separates the blob id from the inline preview.
	OverflowSeparator = "#"
)

// BlobStore persists text that does not fit into a record and returns the id
// under which it can be fetched again.
type BlobStore interface {
	StoreBlob(data []byte) (int32, error)
}

// PutOverflowing stores value inline when it fits. Otherwise the full value is
// written to blobs and the field holds an overflow marker followed by as much
// of the value as still fits.
func (field Text) PutOverflowing(writer *Writer, value string, blobs BlobStore) error {
	if len(value) < field.capacity {
		field.Put(writer, value)
		return nil
	}
	id, err := blobs.StoreBlob([]byte(value))
	if err != nil {
		return err
	}
	marker := OverflowMarker(id)
	field.Put(writer, marker+truncateText(value, max(field.capacity-len(marker), 0)))
	return nil
}

// OverflowMarker returns the prefix written for the blob with the given id.
func OverflowMarker(id int32) string {
	return OverflowPrefix + strconv.FormatInt(int64(id), 10) + OverflowSeparator
}

// ParseOverflow splits an overflow marker into the blob id and the preview.
// It returns false for regular text.
func ParseOverflow(text string) (int32, string, bool) {
	rest, found := strings.CutPrefix(text, OverflowPrefix)
	if !found {
		return 0, "", false
	}
	digits, preview, found := strings.Cut(rest, OverflowSeparator)
	if !found {
		return 0, "", false
	}
	id, err := strconv.ParseInt(digits, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return int32(id), preview, true
}
